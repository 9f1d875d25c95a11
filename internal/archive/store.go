// Package archive keeps historical snapshots of completed tool outputs in
// each task's archive area. Snapshots are written after a completion is
// committed and are never read back by the workflow handler.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/taskgate/internal/filestore"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/workflow/engine"
)

// Layout resolves a task's archive directory. *workflow.Layout satisfies it.
type Layout interface {
	ArchiveDir(taskID string) string
}

// Entry describes one archived snapshot.
type Entry struct {
	TaskID     string      `json:"task_id"`
	Tool       string      `json:"tool"`
	ExitStatus task.Status `json:"exit_status,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Checksum   string      `json:"checksum"`
	Path       string      `json:"path"`
}

// Store writes and lists snapshots.
type Store struct {
	layout Layout
	now    func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used when a completion carries no time.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store over layout.
func NewStore(layout Layout, opts ...StoreOption) *Store {
	store := &Store{layout: layout, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

var _ engine.Observer = (*Store)(nil)

// ToolCompleted archives the completion's output.
func (s *Store) ToolCompleted(_ context.Context, c engine.Completion) error {
	_, err := s.Write(c.Task.ID, c.Tool, c.ExitStatus, c.Output, c.At)
	return err
}

// Write snapshots output for tool as <archive>/<tool>-<timestamp>.md.
func (s *Store) Write(taskID, tool string, exit task.Status, output map[string]any, at time.Time) (Entry, error) {
	if err := task.ValidateID(taskID); err != nil {
		return Entry{}, fmt.Errorf("archive: %w", err)
	}
	if strings.TrimSpace(tool) == "" || strings.ContainsAny(tool, `/\`) {
		return Entry{}, fmt.Errorf("archive: invalid tool name %q", tool)
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	if output == nil {
		output = map[string]any{}
	}
	body, err := yaml.Marshal(output)
	if err != nil {
		return Entry{}, fmt.Errorf("archive: encode %s output: %w", tool, err)
	}
	sum := sha256.Sum256(body)
	entry := Entry{
		TaskID:     taskID,
		Tool:       tool,
		ExitStatus: exit,
		CreatedAt:  at,
		Checksum:   hex.EncodeToString(sum[:]),
	}
	content, err := WriteFrontMatter(entry, body)
	if err != nil {
		return Entry{}, err
	}
	name := fmt.Sprintf("%s-%s.md", tool, at.Format("20060102T150405.000000000Z"))
	entry.Path = filepath.Join(s.layout.ArchiveDir(taskID), name)
	if err := filestore.WriteFile(entry.Path, content); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns the snapshots of taskID, oldest first. Files that are not
// snapshots are skipped.
func (s *Store) List(taskID string) ([]Entry, error) {
	if err := task.ValidateID(taskID); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	dir := s.layout.ArchiveDir(taskID)
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: read %s: %w", dir, err)
	}
	var entries []Entry
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, item.Name())
		entry, _, err := s.Read(path)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Read loads a snapshot and verifies its checksum.
func (s *Store) Read(path string) (Entry, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	entry, body, err := ParseFrontMatter(data)
	if err != nil {
		return Entry{}, nil, err
	}
	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != entry.Checksum {
		return Entry{}, nil, fmt.Errorf("archive: %s checksum mismatch", filepath.Base(path))
	}
	var output map[string]any
	if err := yaml.Unmarshal(body, &output); err != nil {
		return Entry{}, nil, fmt.Errorf("archive: decode %s: %w", filepath.Base(path), err)
	}
	entry.Path = path
	return entry, output, nil
}
