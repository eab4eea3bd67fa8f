// Copyright 2024-2026 Aiku AI

package archiver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// File names inside an archive directory.
const (
	ArchiveDirName = "archive"
	PageFileName   = "index.html"
	LogFileName    = "room_log.txt"
	MetaFileName   = "room.yaml"
)

// RoomMeta is stored next to each archived room so the directory index can
// be rebuilt from disk alone.
type RoomMeta struct {
	RoomID   string `yaml:"room_id"`
	Title    string `yaml:"title"`
	Slug     string `yaml:"slug"`
	Messages int    `yaml:"messages"`
}

// Writer lays out archives below an output directory:
//
//	<root>/index.html
//	<root>/archive/<slug>/index.html
//	<root>/archive/<slug>/room_log.txt
//	<root>/archive/<slug>/room.yaml
type Writer struct {
	Root string
	log  zerolog.Logger
}

// NewWriter creates a writer for the given output directory.
func NewWriter(root string, log zerolog.Logger) *Writer {
	return &Writer{
		Root: root,
		log:  log.With().Str("component", "writer").Logger(),
	}
}

func (w *Writer) archiveDir() string {
	return filepath.Join(w.Root, ArchiveDirName)
}

// RoomDir returns the directory holding the archive of a slug.
func (w *Writer) RoomDir(slug string) string {
	return filepath.Join(w.archiveDir(), slug)
}

// WriteRoom renders and stores the archive of one room. The files are staged
// in a hidden directory and swapped in at the end, so on error the previous
// archive of the room stays as it was.
func (w *Writer) WriteRoom(archive *RoomArchive) error {
	page, err := RenderHTML(archive)
	if err != nil {
		return err
	}
	meta, err := yaml.Marshal(&RoomMeta{
		RoomID:   string(archive.RoomID),
		Title:    archive.Title,
		Slug:     archive.Slug,
		Messages: len(archive.Messages),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal room metadata: %w", err)
	}

	staging := filepath.Join(w.archiveDir(), "."+archive.Slug+".new")
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{PageFileName, page},
		{LogFileName, RenderText(archive)},
		{MetaFileName, meta},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(staging, f.name), f.data, 0o644); err != nil {
			_ = os.RemoveAll(staging)
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	if err := w.swap(staging, w.RoomDir(archive.Slug)); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	w.log.Debug().
		Str("slug", archive.Slug).
		Int("messages", len(archive.Messages)).
		Msg("Wrote room archive")
	return nil
}

// swap replaces dst with src, restoring dst if the final rename fails.
func (w *Writer) swap(src, dst string) error {
	backup := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".old")
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("failed to clear backup directory: %w", err)
	}
	hadOld := true
	if err := os.Rename(dst, backup); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to move previous archive aside: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(src, dst); err != nil {
		if hadOld {
			if rerr := os.Rename(backup, dst); rerr != nil {
				w.log.Error().Err(rerr).Str("path", dst).Msg("Failed to restore previous archive")
			}
		}
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	if hadOld {
		if err := os.RemoveAll(backup); err != nil {
			w.log.Warn().Err(err).Str("path", backup).Msg("Failed to remove old archive")
		}
	}
	return nil
}

// ListRooms reads the metadata of every archive directory on disk, sorted by
// title. Directories without metadata but with a page are listed under their
// slug; anything else is ignored.
func (w *Writer) ListRooms() ([]RoomMeta, error) {
	entries, err := os.ReadDir(w.archiveDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var rooms []RoomMeta
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		meta, ok := w.readMeta(entry.Name())
		if ok {
			rooms = append(rooms, meta)
		}
	}
	slices.SortFunc(rooms, func(a, b RoomMeta) int {
		if c := strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
			return c
		}
		return strings.Compare(a.Slug, b.Slug)
	})
	return rooms, nil
}

func (w *Writer) readMeta(slug string) (RoomMeta, bool) {
	dir := w.RoomDir(slug)
	fallback := RoomMeta{Slug: slug, Title: slug}

	data, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		if _, statErr := os.Stat(filepath.Join(dir, PageFileName)); statErr != nil {
			return RoomMeta{}, false
		}
		return fallback, true
	}
	var meta RoomMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		w.log.Warn().Err(err).Str("slug", slug).Msg("Ignoring unreadable room metadata")
		return fallback, true
	}
	// The directory name is authoritative for links.
	meta.Slug = slug
	if meta.Title == "" {
		meta.Title = slug
	}
	return meta, true
}

// RebuildIndex regenerates the top-level index.html from every archive
// directory currently on disk.
func (w *Writer) RebuildIndex() (int, error) {
	rooms, err := w.ListRooms()
	if err != nil {
		return 0, err
	}
	page, err := RenderIndex(rooms)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(w.Root, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(w.Root, PageFileName), page); err != nil {
		return 0, err
	}
	return len(rooms), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
