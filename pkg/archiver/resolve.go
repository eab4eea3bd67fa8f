// Copyright 2024-2026 Aiku AI

package archiver

import (
	"slices"

	"maunium.net/go/mautrix/id"
)

// ResolveEdits applies the newest edit of every message and marks it edited.
//
// Among the edits of one message the latest timestamp wins; equal timestamps
// go to the edit that arrived last. Edits of unknown messages are dropped.
// The result keeps the order, timestamps, IDs and senders of msgs, which is
// left untouched.
func ResolveEdits(msgs []Message, edits []Edit) []Message {
	out := slices.Clone(msgs)
	if len(edits) == 0 {
		return out
	}

	index := make(map[id.EventID]int, len(out))
	for i, msg := range out {
		index[msg.ID] = i
	}

	latest := make(map[id.EventID]Edit)
	for _, edit := range edits {
		if _, ok := index[edit.Target]; !ok {
			continue
		}
		if cur, seen := latest[edit.Target]; seen && !newerEdit(edit, cur) {
			continue
		}
		latest[edit.Target] = edit
	}

	for target, edit := range latest {
		i := index[target]
		out[i].Body = edit.Body
		out[i].Edited = true
	}
	return out
}

func newerEdit(a, b Edit) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Position >= b.Position
}
