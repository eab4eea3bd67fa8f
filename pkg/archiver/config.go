// Copyright 2024-2026 Aiku AI

package archiver

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

//go:embed example-config.yaml
var ExampleConfig string

// ErrNoRooms is returned when the configuration names no room to archive.
var ErrNoRooms = errors.New("no rooms configured")

const (
	FetcherNative    = "native"
	FetcherCommander = "commander"

	ListenAll  = "all"
	ListenTail = "tail"
)

// Config holds the archiver configuration.
type Config struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`

	OutputDir  string `yaml:"output_dir"`
	Fetcher    string `yaml:"fetcher"`
	ListenMode string `yaml:"listen_mode"`
	TailCount  int    `yaml:"tail_count"`
	// Timeout is the per-room fetch timeout in seconds.
	Timeout   int  `yaml:"timeout"`
	JoinRooms bool `yaml:"join_rooms"`
	PageSize  int  `yaml:"page_size"`

	LogLevel string `yaml:"log_level"`

	Commander CommanderConfig `yaml:"commander"`
}

// CommanderConfig configures the matrix-commander fetcher.
type CommanderConfig struct {
	Binary      string `yaml:"binary"`
	Credentials string `yaml:"credentials"`
	Store       string `yaml:"store"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver")
	helper.Copy(up.Str, "user_id")
	helper.Copy(up.Str, "access_token")
	helper.Copy(up.List, "rooms")
	helper.Copy(up.Str, "output_dir")
	helper.Copy(up.Str, "fetcher")
	helper.Copy(up.Str, "listen_mode")
	helper.Copy(up.Int, "tail_count")
	helper.Copy(up.Int, "timeout")
	helper.Copy(up.Bool, "join_rooms")
	helper.Copy(up.Int, "page_size")
	helper.Copy(up.Str, "log_level")
	helper.Copy(up.Str, "commander", "binary")
	helper.Copy(up.Str, "commander", "credentials")
	helper.Copy(up.Str, "commander", "store")
}

// LoadConfig reads a config file and merges it over the example config, so
// keys missing from the file keep their defaults. An empty path yields the
// defaults alone.
func LoadConfig(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return ParseConfig(data)
}

// ParseConfig merges raw YAML over the example config.
func ParseConfig(data []byte) (*Config, error) {
	var base yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		var user yaml.Node
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		upgradeConfig(up.NewHelper(&base, &user))
	}
	var cfg Config
	if err := base.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides config values with the environment variables used by
// the scheduled job: MATRIX_HS, MATRIX_USER, MATRIX_TOKEN, MATRIX_ROOMS (or
// MATRIX_ROOM), LISTEN_MODE, TAIL_N, TIMEOUT and ARCHIVE_OUTPUT.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setStr := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setStr(&c.Homeserver, "MATRIX_HS")
	setStr(&c.UserID, "MATRIX_USER")
	setStr(&c.AccessToken, "MATRIX_TOKEN")
	setStr(&c.OutputDir, "ARCHIVE_OUTPUT")
	if v := getenv("LISTEN_MODE"); v != "" {
		c.ListenMode = strings.ToLower(v)
	}
	rooms := getenv("MATRIX_ROOMS")
	if rooms == "" {
		rooms = getenv("MATRIX_ROOM")
	}
	if rooms != "" {
		c.Rooms = roomSplitRe.Split(strings.TrimSpace(rooms), -1)
	}
	if err := setInt(&c.TailCount, "TAIL_N"); err != nil {
		return err
	}
	return setInt(&c.Timeout, "TIMEOUT")
}

// RoomIDs parses the configured rooms.
func (c *Config) RoomIDs() ([]id.RoomID, error) {
	rooms, err := ParseRoomList(strings.Join(c.Rooms, " "))
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, ErrNoRooms
	}
	return rooms, nil
}

// FetchTimeout returns the per-room timeout, zero meaning none.
func (c *Config) FetchTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 0
	}
	return time.Duration(c.Timeout) * time.Second
}

// Validate checks that the config can drive a run.
func (c *Config) Validate() error {
	if c.Homeserver == "" {
		return errors.New("homeserver is required")
	}
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	if c.AccessToken == "" {
		return errors.New("access_token is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if _, err := c.RoomIDs(); err != nil {
		return err
	}
	switch c.Fetcher {
	case FetcherNative, FetcherCommander:
	default:
		return fmt.Errorf("unknown fetcher %q", c.Fetcher)
	}
	switch c.ListenMode {
	case ListenAll:
	case ListenTail:
		if c.TailCount <= 0 {
			return errors.New("tail_count must be positive in tail mode")
		}
	default:
		return fmt.Errorf("unknown listen_mode %q", c.ListenMode)
	}
	return nil
}
