// Copyright 2024-2026 Aiku AI

// Command matrix-archiver writes the history of public Matrix rooms to a
// static site. It is meant to run from a nightly scheduler.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-archiver/pkg/archiver"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "matrix-archiver",
		Usage:   "Archive public Matrix rooms as a static site",
		Version: fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to the YAML config file"},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "Dotenv file to load if present"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output directory (overrides output_dir)"},
			&cli.StringSliceFlag{Name: "room", Aliases: []string{"r"}, Usage: "Room ID to archive (repeatable, overrides rooms)"},
			&cli.StringFlag{Name: "fetcher", Usage: "History fetcher: native|commander"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (overrides log_level)"},
		},
		Action: run,
	}
	// Errors are printed by main so tests can inspect them.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func run(c *cli.Context) error {
	if envFile := c.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	rooms, err := cfg.RoomIDs()
	if err != nil {
		return err
	}
	fetcher, err := newFetcher(cfg, log)
	if err != nil {
		return err
	}

	arch := archiver.New(fetcher, archiver.NewWriter(cfg.OutputDir, log), log)
	arch.Timeout = cfg.FetchTimeout()

	log.Info().
		Int("rooms", len(rooms)).
		Str("fetcher", cfg.Fetcher).
		Str("output_dir", cfg.OutputDir).
		Msg("Starting archive run")
	return arch.Run(c.Context, rooms)
}

func loadConfig(c *cli.Context) (*archiver.Config, error) {
	cfg, err := archiver.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if v := c.String("output"); v != "" {
		cfg.OutputDir = v
	}
	if v := c.StringSlice("room"); len(v) > 0 {
		cfg.Rooms = v
	}
	if v := c.String("fetcher"); v != "" {
		cfg.Fetcher = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
		Level(lvl).
		With().Timestamp().
		Logger(), nil
}

func newFetcher(cfg *archiver.Config, log zerolog.Logger) (archiver.Fetcher, error) {
	opts := archiver.FetchOptions{
		ListenMode: cfg.ListenMode,
		TailCount:  cfg.TailCount,
		PageSize:   cfg.PageSize,
		JoinRooms:  cfg.JoinRooms,
	}
	userID := id.UserID(cfg.UserID)
	switch cfg.Fetcher {
	case archiver.FetcherCommander:
		return archiver.NewCommanderFetcher(cfg.Commander, cfg.Homeserver, userID, cfg.AccessToken, opts, log), nil
	default:
		return archiver.NewMatrixFetcher(cfg.Homeserver, userID, cfg.AccessToken, opts, log)
	}
}
