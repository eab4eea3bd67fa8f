// Copyright 2024-2026 Aiku AI

package archiver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// RoomFailure records why one room could not be archived.
type RoomFailure struct {
	RoomID id.RoomID
	Err    error
}

// RunError is returned by Run when at least one room failed. Rooms that
// succeeded in the same run were written normally.
type RunError struct {
	Failures []RoomFailure
	Total    int
}

func (e *RunError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.RoomID, f.Err))
	}
	return fmt.Sprintf("%d of %d rooms failed: %s", len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Archiver runs the fetch, resolve, render and write pipeline room by room.
type Archiver struct {
	Fetcher Fetcher
	Writer  *Writer
	// Timeout bounds the fetch of a single room. Zero means no limit.
	Timeout time.Duration

	log zerolog.Logger
}

// New creates an archiver.
func New(fetcher Fetcher, writer *Writer, log zerolog.Logger) *Archiver {
	return &Archiver{
		Fetcher: fetcher,
		Writer:  writer,
		log:     log.With().Str("component", "archiver").Logger(),
	}
}

// Run archives every room in order. A failing room is logged and skipped,
// leaving its previous archive untouched. The directory index is rebuilt at
// the end regardless. The returned error is a *RunError if any room failed.
func (a *Archiver) Run(ctx context.Context, rooms []id.RoomID) error {
	runErr := &RunError{Total: len(rooms)}
	for _, roomID := range rooms {
		if err := ctx.Err(); err != nil {
			runErr.Failures = append(runErr.Failures, RoomFailure{RoomID: roomID, Err: err})
			continue
		}
		if err := a.ArchiveRoom(ctx, roomID); err != nil {
			a.log.Error().Err(err).Str("room_id", string(roomID)).Msg("Failed to archive room")
			runErr.Failures = append(runErr.Failures, RoomFailure{RoomID: roomID, Err: err})
		}
	}

	count, err := a.Writer.RebuildIndex()
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to rebuild directory index")
		return errors.Join(err, nilIfEmpty(runErr))
	}
	a.log.Info().
		Int("rooms", count).
		Int("failed", len(runErr.Failures)).
		Msg("Directory index regenerated")
	return nilIfEmpty(runErr)
}

func nilIfEmpty(e *RunError) error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}

// ArchiveRoom fetches, resolves and writes a single room.
func (a *Archiver) ArchiveRoom(ctx context.Context, roomID id.RoomID) error {
	log := a.log.With().Str("room_id", string(roomID)).Logger()
	log.Info().Msg("Archiving room")

	fetchCtx := ctx
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	fetched, err := a.Fetcher.FetchRoom(fetchCtx, roomID)
	if err != nil {
		return err
	}

	archive, stats := BuildArchive(fetched)
	if err := a.Writer.WriteRoom(archive); err != nil {
		return fmt.Errorf("failed to write archive of %s: %w", roomID, err)
	}
	log.Info().
		Str("slug", archive.Slug).
		Str("title", archive.Title).
		Int("messages", len(archive.Messages)).
		Int("edits", stats.Edits).
		Int("redacted", stats.Redacted).
		Int("skipped", stats.Skipped+fetched.Malformed).
		Msg("Wrote room archive")
	return nil
}

// BuildStats summarizes what BuildArchive did with a room's events.
type BuildStats struct {
	Edits    int
	Redacted int
	Skipped  int
}

// BuildArchive turns fetched history into the resolved room archive.
func BuildArchive(fetched *FetchedRoom) (*RoomArchive, BuildStats) {
	norm := Normalize(fetched.Events, fetched.Names)
	msgs := ResolveEdits(norm.Messages, norm.Edits)
	msgs = DropDanglingReplies(msgs)

	title := fetched.Title
	if title == "" {
		title = string(fetched.RoomID)
	}
	return &RoomArchive{
			RoomID:   fetched.RoomID,
			Slug:     MakeSlug(fetched.RoomID),
			Title:    title,
			Messages: msgs,
		}, BuildStats{
			Edits:    len(norm.Edits),
			Redacted: len(norm.Redacted),
			Skipped:  norm.Skipped,
		}
}
