// Copyright 2024-2026 Aiku AI

package archiver

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"maunium.net/go/mautrix/id"
)

// ErrInvalidRoomID is returned for room identifiers that are not of the form
// !opaque:domain.
var ErrInvalidRoomID = errors.New("invalid room ID")

var (
	roomIDRe    = regexp.MustCompile(`^![^:\s]+:\S+$`)
	roomSplitRe = regexp.MustCompile(`[,\s]+`)
)

// ParseRoomID validates a raw room identifier.
func ParseRoomID(raw string) (id.RoomID, error) {
	raw = strings.TrimSpace(raw)
	if !roomIDRe.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, raw)
	}
	return id.RoomID(raw), nil
}

// ParseRoomList splits a comma or whitespace separated list of room IDs.
// Empty entries are ignored; the first invalid entry aborts parsing.
func ParseRoomList(raw string) ([]id.RoomID, error) {
	var rooms []id.RoomID
	for _, part := range roomSplitRe.Split(raw, -1) {
		if part == "" {
			continue
		}
		roomID, err := ParseRoomID(part)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, roomID)
	}
	return rooms, nil
}

// MakeSlug derives the archive directory name for a room. Every byte outside
// [A-Za-z0-9_.~-] is percent-encoded and the percent sign replaced with an
// underscore, so "!abc:example.org" becomes "_21abc_3Aexample.org".
func MakeSlug(roomID id.RoomID) string {
	const hex = "0123456789ABCDEF"
	raw := string(roomID)
	var sb strings.Builder
	sb.Grow(len(raw) * 2)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if isSlugSafe(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('_')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0f])
	}
	return sb.String()
}

func isSlugSafe(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == '-', c == '~':
		return true
	}
	return false
}

// Permalink returns the matrix.to link for an event in a room.
func Permalink(roomID id.RoomID, eventID id.EventID) string {
	return "https://matrix.to/#/" + url.PathEscape(string(roomID)) + "/" + url.PathEscape(string(eventID))
}
