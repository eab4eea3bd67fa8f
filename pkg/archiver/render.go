// Copyright 2024-2026 Aiku AI

package archiver

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/aiku/matrix-archiver/pkg/archiver/bodyfmt"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// TimeLayout is the timestamp format used in both output representations.
const TimeLayout = "2006-01-02 15:04"

const (
	editedMarker = "[edited]"
	replyMarker  = "  ↳ "
)

type roomPage struct {
	Title   string
	Entries []pageEntry
}

type pageEntry struct {
	ID        string
	Permalink string
	Time      string
	Style     template.CSS
	Label     string
	Body      template.HTML
	Edited    bool
	ReplyTo   string
}

type indexPage struct {
	Rooms []RoomMeta
}

// RenderHTML renders the room page. The output only depends on the archive.
func RenderHTML(archive *RoomArchive) ([]byte, error) {
	page := roomPage{
		Title:   archive.Title,
		Entries: make([]pageEntry, 0, len(archive.Messages)),
	}
	for _, msg := range archive.Messages {
		page.Entries = append(page.Entries, pageEntry{
			ID:        string(msg.ID),
			Permalink: Permalink(archive.RoomID, msg.ID),
			Time:      msg.Timestamp.UTC().Format(TimeLayout),
			// bodyfmt escapes every piece of user text it emits.
			Body:    template.HTML(bodyfmt.Render(msg.Body)),
			Style:   template.CSS("color:" + SenderColor(msg.Sender)),
			Label:   msg.SenderLabel,
			Edited:  msg.Edited,
			ReplyTo: string(msg.ReplyTo),
		})
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "room.html", page); err != nil {
		return nil, fmt.Errorf("failed to render room page: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderText renders the plain-text log: a header line followed by one entry
// per message with the raw body.
func RenderText(archive *RoomArchive) []byte {
	var sb strings.Builder
	sb.WriteString("# room: ")
	sb.WriteString(archive.Title)
	sb.WriteByte('\n')
	for _, msg := range archive.Messages {
		sb.WriteString(FormatTextLine(&msg))
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// FormatTextLine formats a single message for the plain-text log.
func FormatTextLine(msg *Message) string {
	var sb strings.Builder
	if msg.IsReply() {
		sb.WriteString(replyMarker)
	}
	sb.WriteString(msg.Timestamp.UTC().Format(TimeLayout))
	sb.WriteByte(' ')
	sb.WriteString(msg.SenderLabel)
	sb.WriteString(": ")
	sb.WriteString(msg.Body)
	if msg.Edited {
		sb.WriteByte(' ')
		sb.WriteString(editedMarker)
	}
	return sb.String()
}

// RenderIndex renders the top-level directory listing.
func RenderIndex(rooms []RoomMeta) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "index.html", indexPage{Rooms: rooms}); err != nil {
		return nil, fmt.Errorf("failed to render directory index: %w", err)
	}
	return buf.Bytes(), nil
}
