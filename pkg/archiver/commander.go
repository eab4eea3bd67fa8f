// Copyright 2024-2026 Aiku AI

package archiver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// maxJSONLine bounds a single line of matrix-commander output.
const maxJSONLine = 16 * 1024 * 1024

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// CommanderFetcher reads room history through the matrix-commander CLI.
type CommanderFetcher struct {
	cfg         CommanderConfig
	homeserver  string
	userID      id.UserID
	accessToken string
	opts        FetchOptions
	run         commandRunner
	log         zerolog.Logger
}

var _ Fetcher = (*CommanderFetcher)(nil)

// NewCommanderFetcher creates a fetcher that shells out to matrix-commander.
func NewCommanderFetcher(cfg CommanderConfig, homeserver string, userID id.UserID, accessToken string, opts FetchOptions, log zerolog.Logger) *CommanderFetcher {
	if cfg.Binary == "" {
		cfg.Binary = "matrix-commander"
	}
	return &CommanderFetcher{
		cfg:         cfg,
		homeserver:  homeserver,
		userID:      userID,
		accessToken: accessToken,
		opts:        opts,
		run:         execRunner,
		log:         log.With().Str("component", "fetcher").Str("fetcher", FetcherCommander).Logger(),
	}
}

func (f *CommanderFetcher) baseArgs() []string {
	return []string{"--credentials", f.cfg.Credentials, "--store", f.cfg.Store}
}

// FetchRoom implements Fetcher.
func (f *CommanderFetcher) FetchRoom(ctx context.Context, roomID id.RoomID) (*FetchedRoom, error) {
	log := f.log.With().Str("room_id", string(roomID)).Logger()

	if err := f.writeCredentials(roomID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.cfg.Store, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create matrix-commander store: %w", err)
	}

	if f.opts.JoinRooms {
		for _, args := range [][]string{
			{"--room-join", string(roomID)},
			{"--room", string(roomID), "--listen", "once"},
		} {
			if _, err := f.run(ctx, f.cfg.Binary, append(f.baseArgs(), args...)...); err != nil {
				log.Debug().Err(err).Strs("args", args).Msg("Ignoring matrix-commander join failure")
			}
		}
	}

	title := string(roomID)
	if out, err := f.run(ctx, f.cfg.Binary, append(f.baseArgs(), "--room", string(roomID), "--get-room-info", "--output", "json")...); err != nil {
		log.Debug().Err(err).Msg("Failed to get room info")
	} else if t, err := roomInfoTitle(out); err != nil {
		log.Debug().Err(err).Msg("Failed to parse room info")
	} else if t != "" {
		title = t
	}

	args := append(f.baseArgs(), "--room", string(roomID), "--listen")
	if limit := f.opts.limit(); limit > 0 {
		args = append(args, "tail", "--tail", strconv.Itoa(limit))
	} else {
		args = append(args, "all")
	}
	args = append(args, "--listen-self", "--output", "json")
	out, err := f.run(ctx, f.cfg.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history of %s: %w", roomID, err)
	}

	events, err := parseJSONLines(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", roomID, err)
	}
	room := convertEvents(roomID, events, log)
	room.Title = title
	room.Names = make(map[id.UserID]string)
	collectMemberNames(events, room.Names)
	log.Debug().
		Int("events", len(room.Events)).
		Int("malformed", room.Malformed).
		Msg("Fetched room history")
	return room, nil
}

// writeCredentials creates the matrix-commander credentials file on first use
// and points its default room at roomID.
func (f *CommanderFetcher) writeCredentials(roomID id.RoomID) error {
	creds := map[string]any{}
	data, err := os.ReadFile(f.cfg.Credentials)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &creds); err != nil {
			return fmt.Errorf("failed to parse %s: %w", f.cfg.Credentials, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		creds["homeserver"] = f.homeserver
		creds["user_id"] = string(f.userID)
		creds["access_token"] = f.accessToken
		creds["device_id"] = "ARCHIVER"
	default:
		return fmt.Errorf("failed to read %s: %w", f.cfg.Credentials, err)
	}
	creds["room_id"] = string(roomID)
	creds["default_room"] = string(roomID)

	data, err = json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if dir := filepath.Dir(f.cfg.Credentials); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create credentials directory: %w", err)
		}
	}
	if err := os.WriteFile(f.cfg.Credentials, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// parseJSONLines decodes matrix-commander JSON output. Each line holds either
// an event or an object wrapping it in "source"; other lines are ignored. A
// line longer than maxJSONLine fails the whole parse.
func parseJSONLines(out []byte) ([]*event.Event, error) {
	var events []*event.Event
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var wrapper struct {
			Source json.RawMessage `json:"source"`
		}
		if err := json.Unmarshal(line, &wrapper); err != nil {
			continue
		}
		raw := line
		if len(wrapper.Source) > 0 && wrapper.Source[0] == '{' {
			raw = wrapper.Source
		}
		var evt event.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}
		events = append(events, &evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan matrix-commander output: %w", err)
	}
	return events, nil
}

// roomInfoTitle extracts the best human title from --get-room-info output.
func roomInfoTitle(out []byte) (string, error) {
	infos, err := parseRoomInfo(out)
	if err != nil || len(infos) == 0 {
		return "", err
	}
	for _, key := range []string{"room_display_name", "room_name", "canonical_alias", "room_alias"} {
		if v, ok := infos[0][key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", nil
}

func parseRoomInfo(out []byte) ([]map[string]any, error) {
	var infos []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var info map[string]any
		if err := json.Unmarshal(line, &info); err == nil {
			infos = append(infos, info)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan room info: %w", err)
	}
	return infos, nil
}
