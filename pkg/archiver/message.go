// Copyright 2024-2026 Aiku AI

package archiver

import (
	"time"

	"maunium.net/go/mautrix/id"
)

// Message is one visible entry of a room archive. ID, Timestamp and Order
// always belong to the original event, never to an edit.
type Message struct {
	ID          id.EventID
	Sender      id.UserID
	SenderLabel string
	Timestamp   time.Time
	Body        string
	Edited      bool
	// ReplyTo is a lookup-only reference to another message in the same
	// archive. Empty when the message is not a reply.
	ReplyTo id.EventID
	Order   int
}

// IsReply reports whether the message carries a reply indicator.
func (m *Message) IsReply() bool {
	return m.ReplyTo != ""
}

// Edit is a pending replacement body for a message.
type Edit struct {
	ID        id.EventID
	Target    id.EventID
	Sender    id.UserID
	Body      string
	Timestamp time.Time
	Position  int
}

// RoomArchive is the resolved, ordered message list of one room.
type RoomArchive struct {
	RoomID   id.RoomID
	Slug     string
	Title    string
	Messages []Message
}
