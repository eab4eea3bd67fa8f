// Copyright 2024-2026 Aiku AI

package archiver

import (
	"cmp"
	"slices"

	"maunium.net/go/mautrix/id"
)

// Normalized is the normalizer's output: provisional messages in display
// order and the edits still to be applied to them.
type Normalized struct {
	Messages []Message
	Edits    []Edit
	// Redacted holds every event ID removed by a redaction.
	Redacted map[id.EventID]struct{}
	// Skipped counts events that neither create nor change a message, such
	// as membership changes or edits without a target.
	Skipped int
}

// Normalize turns the fetched event sequence of a room into provisional
// messages. Redacted messages are dropped, as are edits that were redacted
// themselves. names maps senders to display labels; senders without an entry
// are labelled with their raw user ID.
func Normalize(events []RawEvent, names map[id.UserID]string) *Normalized {
	out := &Normalized{Redacted: make(map[id.EventID]struct{})}

	// Redactions may arrive after the events they target, so collect them
	// before building anything.
	for _, evt := range events {
		if evt.Kind == KindRedaction && evt.Redacts != "" {
			out.Redacted[evt.Redacts] = struct{}{}
		}
	}

	for _, evt := range events {
		switch evt.Kind {
		case KindMessage:
			if _, gone := out.Redacted[evt.ID]; gone {
				continue
			}
			out.Messages = append(out.Messages, Message{
				ID:          evt.ID,
				Sender:      evt.Sender,
				SenderLabel: senderLabel(evt.Sender, names),
				Timestamp:   evt.Timestamp,
				Body:        evt.Body,
				ReplyTo:     evt.ReplyTo,
				Order:       evt.Position,
			})
		case KindEdit:
			if evt.Replaces == "" {
				out.Skipped++
				continue
			}
			if _, gone := out.Redacted[evt.ID]; gone {
				continue
			}
			out.Edits = append(out.Edits, Edit{
				ID:        evt.ID,
				Target:    evt.Replaces,
				Sender:    evt.Sender,
				Body:      evt.Body,
				Timestamp: evt.Timestamp,
				Position:  evt.Position,
			})
		case KindRedaction:
			if evt.Redacts == "" {
				out.Skipped++
			}
		default:
			out.Skipped++
		}
	}

	slices.SortStableFunc(out.Messages, compareMessages)
	return out
}

func compareMessages(a, b Message) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.Order, b.Order)
}

func senderLabel(sender id.UserID, names map[id.UserID]string) string {
	if name := names[sender]; name != "" {
		return name
	}
	return string(sender)
}

// DropDanglingReplies clears reply references that point outside msgs, for
// example at a redacted message. The input slice is not modified.
func DropDanglingReplies(msgs []Message) []Message {
	present := make(map[id.EventID]struct{}, len(msgs))
	for _, msg := range msgs {
		present[msg.ID] = struct{}{}
	}
	out := slices.Clone(msgs)
	for i := range out {
		if out[i].ReplyTo == "" {
			continue
		}
		if _, ok := present[out[i].ReplyTo]; !ok {
			out[i].ReplyTo = ""
		}
	}
	return out
}
