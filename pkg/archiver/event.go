// Copyright 2024-2026 Aiku AI

package archiver

import (
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrMalformedEvent is returned when an event lacks a field every archived
// event needs.
var ErrMalformedEvent = errors.New("malformed event")

// EventKind classifies a raw event for the normalizer.
type EventKind int

const (
	KindOther EventKind = iota
	KindMessage
	KindEdit
	KindRedaction
)

func (k EventKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindEdit:
		return "edit"
	case KindRedaction:
		return "redaction"
	default:
		return "other"
	}
}

// RawEvent is the subset of a room event the archiver cares about. Position
// is the event's index in the fetched sequence.
type RawEvent struct {
	ID        id.EventID
	Sender    id.UserID
	Timestamp time.Time
	Body      string
	Kind      EventKind
	Position  int

	// Replaces is the event an edit supersedes.
	Replaces id.EventID
	// ReplyTo is the event a message answers, either through m.in_reply_to
	// or as the parent of an m.thread relation.
	ReplyTo id.EventID
	// Redacts is the event a redaction removes.
	Redacts id.EventID
}

// RawEventFromMatrix converts a Matrix room event into a RawEvent.
func RawEventFromMatrix(evt *event.Event, position int) (RawEvent, error) {
	if evt == nil {
		return RawEvent{}, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if evt.ID == "" {
		return RawEvent{}, fmt.Errorf("%w: missing event_id", ErrMalformedEvent)
	}
	if evt.Sender == "" {
		return RawEvent{}, fmt.Errorf("%w: %s missing sender", ErrMalformedEvent, evt.ID)
	}

	raw := RawEvent{
		ID:        evt.ID,
		Sender:    evt.Sender,
		Timestamp: time.UnixMilli(evt.Timestamp).UTC(),
		Position:  position,
	}

	switch evt.Type.Type {
	case event.EventMessage.Type:
		if evt.Unsigned.RedactedBecause != nil {
			// The server already stripped the content; treat it as a
			// redaction of itself so it never reaches the output.
			raw.Kind = KindRedaction
			raw.Redacts = evt.ID
			return raw, nil
		}
		if err := parseContent(evt, event.EventMessage); err != nil {
			return RawEvent{}, err
		}
		content := evt.Content.AsMessage()
		rel := content.RelatesTo
		if replaces := rel.GetReplaceID(); replaces != "" || content.NewContent != nil {
			raw.Kind = KindEdit
			raw.Replaces = replaces
			raw.Body = content.Body
			if content.NewContent != nil && content.NewContent.Body != "" {
				raw.Body = content.NewContent.Body
			}
			return raw, nil
		}
		raw.Kind = KindMessage
		raw.Body = content.Body
		raw.ReplyTo = rel.GetReplyTo()
		if raw.ReplyTo == "" {
			raw.ReplyTo = rel.GetThreadParent()
		}
	case event.EventRedaction.Type:
		if err := parseContent(evt, event.EventRedaction); err != nil {
			return RawEvent{}, err
		}
		raw.Kind = KindRedaction
		raw.Redacts = evt.Content.AsRedaction().Redacts
		if raw.Redacts == "" {
			raw.Redacts = evt.Redacts
		}
	default:
		raw.Kind = KindOther
	}
	return raw, nil
}

func parseContent(evt *event.Event, evtType event.Type) error {
	if evt.Content.Parsed != nil {
		return nil
	}
	if err := evt.Content.ParseRaw(evtType); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedEvent, evt.ID, err)
	}
	return nil
}
