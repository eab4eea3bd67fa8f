// Copyright 2024-2026 Aiku AI

package archiver

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Fetcher retrieves the history of a room. Implementations return either the
// complete requested history or an error, never a partial result.
type Fetcher interface {
	FetchRoom(ctx context.Context, roomID id.RoomID) (*FetchedRoom, error)
}

// FetchedRoom is the raw history of one room in chronological order.
type FetchedRoom struct {
	RoomID id.RoomID
	Title  string
	Events []RawEvent
	// Names maps senders to their display names where known.
	Names map[id.UserID]string
	// Malformed counts events that could not be converted.
	Malformed int
}

// FetchOptions controls how much history a fetcher reads.
type FetchOptions struct {
	ListenMode string
	TailCount  int
	PageSize   int
	JoinRooms  bool
}

func (o FetchOptions) limit() int {
	if o.ListenMode == ListenTail && o.TailCount > 0 {
		return o.TailCount
	}
	return 0
}

func (o FetchOptions) pageSize() int {
	if o.PageSize <= 0 {
		return 100
	}
	return o.PageSize
}

// matrixAPI is the part of *mautrix.Client the native fetcher uses.
type matrixAPI interface {
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
	StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, outContent any) error
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
	Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error)
}

var _ matrixAPI = (*mautrix.Client)(nil)

// MatrixFetcher reads room history straight from the homeserver with the
// client-server API.
type MatrixFetcher struct {
	client matrixAPI
	opts   FetchOptions
	log    zerolog.Logger
}

var _ Fetcher = (*MatrixFetcher)(nil)

// NewMatrixFetcher creates a fetcher logged in with an access token.
func NewMatrixFetcher(homeserver string, userID id.UserID, accessToken string, opts FetchOptions, log zerolog.Logger) (*MatrixFetcher, error) {
	client, err := mautrix.NewClient(homeserver, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "mautrix").Logger()
	return newMatrixFetcher(client, opts, log), nil
}

func newMatrixFetcher(client matrixAPI, opts FetchOptions, log zerolog.Logger) *MatrixFetcher {
	return &MatrixFetcher{
		client: client,
		opts:   opts,
		log:    log.With().Str("component", "fetcher").Str("fetcher", FetcherNative).Logger(),
	}
}

// FetchRoom implements Fetcher.
func (f *MatrixFetcher) FetchRoom(ctx context.Context, roomID id.RoomID) (*FetchedRoom, error) {
	log := f.log.With().Str("room_id", string(roomID)).Logger()

	if f.opts.JoinRooms {
		if _, err := f.client.JoinRoomByID(ctx, roomID); err != nil {
			// Already-joined and peekable rooms can still be read.
			log.Warn().Err(err).Msg("Failed to join room, trying to read anyway")
		}
	}

	events, err := f.paginate(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history of %s: %w", roomID, err)
	}

	names := make(map[id.UserID]string)
	collectMemberNames(events, names)
	if members, err := f.client.JoinedMembers(ctx, roomID); err != nil {
		log.Debug().Err(err).Msg("Failed to get joined members")
	} else {
		for userID, member := range members.Joined {
			if member.DisplayName != "" {
				names[userID] = member.DisplayName
			}
		}
	}

	room := convertEvents(roomID, events, log)
	room.Title = f.roomTitle(ctx, roomID)
	room.Names = names
	log.Debug().
		Int("events", len(room.Events)).
		Int("malformed", room.Malformed).
		Str("title", room.Title).
		Msg("Fetched room history")
	return room, nil
}

// paginate walks /messages backwards from the newest event and returns the
// events oldest first.
func (f *MatrixFetcher) paginate(ctx context.Context, roomID id.RoomID) ([]*event.Event, error) {
	var (
		events []*event.Event
		from   string
		limit  = f.opts.limit()
	)
	for {
		resp, err := f.client.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, nil, f.opts.pageSize())
		if err != nil {
			return nil, err
		}
		events = append(events, resp.Chunk...)
		if limit > 0 && len(events) >= limit {
			events = events[:limit]
			break
		}
		if resp.End == "" || len(resp.Chunk) == 0 || resp.End == from {
			break
		}
		from = resp.End
	}
	slices.Reverse(events)
	return events, nil
}

// roomTitle picks the room name, then the canonical alias, then the ID.
func (f *MatrixFetcher) roomTitle(ctx context.Context, roomID id.RoomID) string {
	var name event.RoomNameEventContent
	if err := f.client.StateEvent(ctx, roomID, event.StateRoomName, "", &name); err == nil && name.Name != "" {
		return name.Name
	}
	var alias event.CanonicalAliasEventContent
	if err := f.client.StateEvent(ctx, roomID, event.StateCanonicalAlias, "", &alias); err == nil && alias.Alias != "" {
		return string(alias.Alias)
	}
	return string(roomID)
}

// collectMemberNames records display names from membership events, later
// events winning.
func collectMemberNames(events []*event.Event, names map[id.UserID]string) {
	for _, evt := range events {
		if evt == nil || evt.Type.Type != event.StateMember.Type || evt.StateKey == nil {
			continue
		}
		if evt.Content.Parsed == nil {
			if err := evt.Content.ParseRaw(event.StateMember); err != nil {
				continue
			}
		}
		if name := evt.Content.AsMember().Displayname; name != "" {
			names[id.UserID(*evt.StateKey)] = name
		}
	}
}

// convertEvents turns chronologically ordered Matrix events into raw events,
// counting and skipping the malformed ones.
func convertEvents(roomID id.RoomID, events []*event.Event, log zerolog.Logger) *FetchedRoom {
	room := &FetchedRoom{
		RoomID: roomID,
		Title:  string(roomID),
		Events: make([]RawEvent, 0, len(events)),
	}
	for i, evt := range events {
		raw, err := RawEventFromMatrix(evt, i)
		if err != nil {
			room.Malformed++
			log.Debug().Err(err).Int("position", i).Msg("Skipping malformed event")
			continue
		}
		room.Events = append(room.Events, raw)
	}
	return room
}
