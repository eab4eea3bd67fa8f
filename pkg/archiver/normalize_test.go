// Copyright 2024-2026 Aiku AI

package archiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

func messageIDs(msgs []Message) []id.EventID {
	ids := make([]id.EventID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestNormalize_MessagesAndEdits(t *testing.T) {
	t.Parallel()
	events := []RawEvent{
		msgEvent(0, "$1", "@alice:example.org", 100, "hello"),
		replyEvent(1, "$2", "@bob:example.org", 101, "world", "$1"),
		editEvent(2, "$3", "@alice:example.org", 200, "hello, edited", "$1"),
	}
	norm := Normalize(events, nil)

	require.Len(t, norm.Messages, 2)
	assert.Equal(t, []id.EventID{"$1", "$2"}, messageIDs(norm.Messages))
	assert.Equal(t, "hello", norm.Messages[0].Body, "edits must not be applied by the normalizer")
	assert.Equal(t, id.EventID("$1"), norm.Messages[1].ReplyTo)
	require.Len(t, norm.Edits, 1)
	assert.Equal(t, id.EventID("$1"), norm.Edits[0].Target)
	assert.Equal(t, 2, norm.Edits[0].Position)
}

func TestNormalize_SenderLabels(t *testing.T) {
	t.Parallel()
	events := []RawEvent{
		msgEvent(0, "$1", "@alice:example.org", 100, "a"),
		msgEvent(1, "$2", "@bob:example.org", 101, "b"),
	}
	names := map[id.UserID]string{"@alice:example.org": "Alice"}
	norm := Normalize(events, names)

	require.Len(t, norm.Messages, 2)
	assert.Equal(t, "Alice", norm.Messages[0].SenderLabel)
	assert.Equal(t, "@bob:example.org", norm.Messages[1].SenderLabel, "unknown senders keep their raw ID")
}

func TestNormalize_RedactionRemovesMessage(t *testing.T) {
	t.Parallel()
	events := []RawEvent{
		msgEvent(0, "$1", "@alice:example.org", 100, "keep"),
		msgEvent(1, "$2", "@bob:example.org", 101, "drop"),
		editEvent(2, "$3", "@bob:example.org", 102, "drop again", "$2"),
		redactionEvent(3, "$4", "@bob:example.org", 103, "$2"),
	}
	norm := Normalize(events, nil)

	assert.Equal(t, []id.EventID{"$1"}, messageIDs(norm.Messages))
	assert.Contains(t, norm.Redacted, id.EventID("$2"))
}

func TestNormalize_RedactionBeforeTarget(t *testing.T) {
	t.Parallel()
	events := []RawEvent{
		redactionEvent(0, "$r", "@mod:example.org", 50, "$1"),
		msgEvent(1, "$1", "@alice:example.org", 100, "late"),
	}
	norm := Normalize(events, nil)
	assert.Empty(t, norm.Messages)
}

func TestNormalize_RedactedEditIgnored(t *testing.T) {
	t.Parallel()
	events := []RawEvent{
		msgEvent(0, "$1", "@alice:example.org", 100, "original"),
		editEvent(1, "$e", "@alice:example.org", 200, "oops", "$1"),
		redactionEvent(2, "$r", "@alice:example.org", 201, "$e"),
	}
	norm := Normalize(events, nil)
	require.Len(t, norm.Messages, 1)
	assert.Empty(t, norm.Edits)
}

func TestNormalize_SkipsOtherAndIncomplete(t *testing.T) {
	t.Parallel()
	events := []RawEvent{
		{ID: "$m", Sender: "@a:example.org", Kind: KindOther, Position: 0},
		editEvent(1, "$e", "@a:example.org", 10, "no target", ""),
		redactionEvent(2, "$r", "@a:example.org", 11, ""),
		msgEvent(3, "$1", "@a:example.org", 12, "ok"),
	}
	norm := Normalize(events, nil)
	assert.Equal(t, 3, norm.Skipped)
	assert.Equal(t, []id.EventID{"$1"}, messageIDs(norm.Messages))
}

func TestNormalize_OrdersByTimestampThenPosition(t *testing.T) {
	t.Parallel()
	events := []RawEvent{
		msgEvent(0, "$b", "@a:example.org", 200, "b"),
		msgEvent(1, "$a", "@a:example.org", 100, "a"),
		msgEvent(2, "$c", "@a:example.org", 200, "c"),
	}
	norm := Normalize(events, nil)
	assert.Equal(t, []id.EventID{"$a", "$b", "$c"}, messageIDs(norm.Messages))
}

func TestDropDanglingReplies(t *testing.T) {
	t.Parallel()
	msgs := []Message{
		{ID: "$1"},
		{ID: "$2", ReplyTo: "$1"},
		{ID: "$3", ReplyTo: "$gone"},
	}
	got := DropDanglingReplies(msgs)

	assert.Equal(t, id.EventID("$1"), got[1].ReplyTo)
	assert.Empty(t, got[2].ReplyTo)
	assert.Equal(t, id.EventID("$gone"), msgs[2].ReplyTo, "input must not be modified")
}
