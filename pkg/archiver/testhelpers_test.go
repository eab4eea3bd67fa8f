// Copyright 2024-2026 Aiku AI

package archiver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"
)

// ts converts a millisecond offset into a UTC timestamp.
func ts(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func msgEvent(pos int, evtID, sender string, ms int64, body string) RawEvent {
	return RawEvent{
		ID:        id.EventID(evtID),
		Sender:    id.UserID(sender),
		Timestamp: ts(ms),
		Body:      body,
		Kind:      KindMessage,
		Position:  pos,
	}
}

func replyEvent(pos int, evtID, sender string, ms int64, body, replyTo string) RawEvent {
	evt := msgEvent(pos, evtID, sender, ms, body)
	evt.ReplyTo = id.EventID(replyTo)
	return evt
}

func editEvent(pos int, evtID, sender string, ms int64, body, target string) RawEvent {
	return RawEvent{
		ID:        id.EventID(evtID),
		Sender:    id.UserID(sender),
		Timestamp: ts(ms),
		Body:      body,
		Kind:      KindEdit,
		Replaces:  id.EventID(target),
		Position:  pos,
	}
}

func redactionEvent(pos int, evtID, sender string, ms int64, target string) RawEvent {
	return RawEvent{
		ID:        id.EventID(evtID),
		Sender:    id.UserID(sender),
		Timestamp: ts(ms),
		Kind:      KindRedaction,
		Redacts:   id.EventID(target),
		Position:  pos,
	}
}

// fakeHS is an httptest.Server simulating the parts of the client-server
// API the native fetcher uses.
type fakeHS struct {
	Server *httptest.Server

	mu    sync.Mutex
	paths []string

	// Timeline maps room IDs to their events, oldest first, as raw JSON
	// objects.
	Timeline map[string][]map[string]any
	// Names maps room IDs to m.room.name values.
	Names map[string]string
	// Aliases maps room IDs to canonical aliases.
	Aliases map[string]string
	// Joined maps room IDs to user ID → display name.
	Joined map[string]map[string]string
	// FailRooms makes every request for a room return 403.
	FailRooms map[string]bool
}

func newFakeHS() *fakeHS {
	f := &fakeHS{
		Timeline:  make(map[string][]map[string]any),
		Names:     make(map[string]string),
		Aliases:   make(map[string]string),
		Joined:    make(map[string]map[string]string),
		FailRooms: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHS) Close() {
	f.Server.Close()
}

func (f *fakeHS) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeHS) countPaths(match func(string) bool) int {
	n := 0
	for _, p := range f.Paths() {
		if match(p) {
			n++
		}
	}
	return n
}

func isJoinPath(path string) bool {
	return strings.HasSuffix(path, "/join") || strings.Contains(path, "/join/")
}

func isMessagesPath(path string) bool {
	return strings.HasSuffix(path, "/messages")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND", "error": "not found"})
}

// roomFromPath extracts the room ID following "/rooms/".
func roomFromPath(path string) string {
	_, rest, ok := strings.Cut(path, "/rooms/")
	if !ok {
		return ""
	}
	room, _, _ := strings.Cut(rest, "/")
	return room
}

func (f *fakeHS) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	room := roomFromPath(r.URL.Path)
	if f.FailRooms[room] {
		writeJSON(w, http.StatusForbidden, map[string]string{"errcode": "M_FORBIDDEN", "error": "not allowed"})
		return
	}

	switch {
	case isJoinPath(r.URL.Path):
		writeJSON(w, http.StatusOK, map[string]string{"room_id": room})
	case isMessagesPath(r.URL.Path):
		f.handleMessages(w, r, room)
	case strings.Contains(r.URL.Path, "/state/m.room.name"):
		if name, ok := f.Names[room]; ok {
			writeJSON(w, http.StatusOK, map[string]string{"name": name})
			return
		}
		notFound(w)
	case strings.Contains(r.URL.Path, "/state/m.room.canonical_alias"):
		if alias, ok := f.Aliases[room]; ok {
			writeJSON(w, http.StatusOK, map[string]string{"alias": alias})
			return
		}
		notFound(w)
	case strings.HasSuffix(r.URL.Path, "/joined_members"):
		joined := make(map[string]map[string]string)
		for userID, name := range f.Joined[room] {
			joined[userID] = map[string]string{"display_name": name}
		}
		writeJSON(w, http.StatusOK, map[string]any{"joined": joined})
	default:
		notFound(w)
	}
}

// handleMessages serves backwards pagination. Tokens are indexes into the
// timeline; an empty token means "after the newest event".
func (f *fakeHS) handleMessages(w http.ResponseWriter, r *http.Request, room string) {
	events := f.Timeline[room]
	q := r.URL.Query()
	from := len(events)
	if tok := q.Get("from"); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"errcode": "M_INVALID_PARAM"})
			return
		}
		from = n
	}
	limit := 10
	if l := q.Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	start := max(from-limit, 0)

	chunk := make([]map[string]any, 0, from-start)
	for i := from - 1; i >= start; i-- {
		chunk = append(chunk, events[i])
	}
	resp := map[string]any{
		"start": strconv.Itoa(from),
		"chunk": chunk,
	}
	if start > 0 {
		resp["end"] = strconv.Itoa(start)
	}
	writeJSON(w, http.StatusOK, resp)
}

func jsonMessage(evtID, sender string, ms int64, body string) map[string]any {
	return map[string]any{
		"type":             "m.room.message",
		"event_id":         evtID,
		"sender":           sender,
		"origin_server_ts": ms,
		"content":          map[string]any{"msgtype": "m.text", "body": body},
	}
}

func jsonReply(evtID, sender string, ms int64, body, replyTo string) map[string]any {
	evt := jsonMessage(evtID, sender, ms, body)
	evt["content"].(map[string]any)["m.relates_to"] = map[string]any{
		"m.in_reply_to": map[string]any{"event_id": replyTo},
	}
	return evt
}

func jsonEdit(evtID, sender string, ms int64, body, target string) map[string]any {
	return map[string]any{
		"type":             "m.room.message",
		"event_id":         evtID,
		"sender":           sender,
		"origin_server_ts": ms,
		"content": map[string]any{
			"msgtype":       "m.text",
			"body":          "* " + body,
			"m.new_content": map[string]any{"msgtype": "m.text", "body": body},
			"m.relates_to":  map[string]any{"rel_type": "m.replace", "event_id": target},
		},
	}
}

func jsonRedaction(evtID, sender string, ms int64, target string) map[string]any {
	return map[string]any{
		"type":             "m.room.redaction",
		"event_id":         evtID,
		"sender":           sender,
		"origin_server_ts": ms,
		"redacts":          target,
		"content":          map[string]any{"redacts": target},
	}
}

func jsonMember(evtID, userID string, ms int64, displayname string) map[string]any {
	return map[string]any{
		"type":             "m.room.member",
		"event_id":         evtID,
		"sender":           userID,
		"state_key":        userID,
		"origin_server_ts": ms,
		"content":          map[string]any{"membership": "join", "displayname": displayname},
	}
}
