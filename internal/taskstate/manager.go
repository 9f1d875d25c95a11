// Package taskstate owns the persisted task record and every mutation of it.
// Each operation takes the task's file lock before reading and keeps it until
// after the atomic write, so callers working on one task are serialized while
// callers working on different tasks never block each other. Records are
// never cached: every call reloads from disk under the lock.
package taskstate

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/kingrea/taskgate/internal/failure"
	"github.com/kingrea/taskgate/internal/filestore"
	"github.com/kingrea/taskgate/internal/task"
)

// Manager persists one Record per task.
type Manager struct {
	store     *filestore.Store
	clock     func() time.Time
	storeOpts []filestore.Option
}

// Option customizes the manager.
type Option func(*Manager)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithStoreOptions forwards options to the underlying file store.
func WithStoreOptions(opts ...filestore.Option) Option {
	return func(m *Manager) {
		m.storeOpts = append(m.storeOpts, opts...)
	}
}

// NewManager wires a manager to a per-task file layout.
func NewManager(layout filestore.Layout, opts ...Option) (*Manager, error) {
	m := &Manager{clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	store, err := filestore.New(layout, m.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("taskstate: %w", err)
	}
	m.store = store
	return m, nil
}

// LoadOrCreate returns the persisted record, or a fresh default when none
// exists yet. It never writes.
func (m *Manager) LoadOrCreate(ctx context.Context, taskID string) (Record, error) {
	lock, err := m.store.Lock(ctx, taskID)
	if err != nil {
		return Record{}, err
	}
	defer lock.Release()
	return m.read(lock)
}

// UpdateStatus sets the task's coarse status.
func (m *Manager) UpdateStatus(ctx context.Context, taskID string, status task.Status) error {
	return m.WithScopedUpdate(ctx, taskID, func(rec *Record) error {
		rec.Status = status
		return nil
	})
}

// UpdateActiveToolState persists inst as the task's active tool instance.
func (m *Manager) UpdateActiveToolState(ctx context.Context, taskID string, inst ToolInstance) error {
	return m.WithScopedUpdate(ctx, taskID, func(rec *Record) error {
		return rec.SetActive(inst)
	})
}

// ClearActiveToolState drops the active tool instance.
func (m *Manager) ClearActiveToolState(ctx context.Context, taskID string) error {
	return m.WithScopedUpdate(ctx, taskID, func(rec *Record) error {
		rec.Active = nil
		return nil
	})
}

// AddCompletedOutput records payload under tool in the completed outputs.
func (m *Manager) AddCompletedOutput(ctx context.Context, taskID, tool string, payload map[string]any) error {
	return m.WithScopedUpdate(ctx, taskID, func(rec *Record) error {
		return rec.AddOutput(tool, payload)
	})
}

// WithScopedUpdate locks the task once, hands fn a mutable record and writes
// it back only when its content changed. An error from fn aborts without
// writing.
func (m *Manager) WithScopedUpdate(ctx context.Context, taskID string, fn func(*Record) error) error {
	lock, err := m.store.Lock(ctx, taskID)
	if err != nil {
		return err
	}
	defer lock.Release()
	rec, err := m.read(lock)
	if err != nil {
		return err
	}
	before, err := encodeRecord(rec)
	if err != nil {
		return failure.Wrap(failure.KindInternal, err, taskID, "", "could not encode task record")
	}
	if err := fn(&rec); err != nil {
		return err
	}
	rec.TaskID = taskID
	after, err := encodeRecord(rec)
	if err != nil {
		return failure.Wrap(failure.KindInternal, err, taskID, "", "could not encode task record")
	}
	if bytes.Equal(before, after) {
		return nil
	}
	rec.UpdatedAt = m.clock().UTC()
	data, err := encodeRecord(rec)
	if err != nil {
		return failure.Wrap(failure.KindInternal, err, taskID, "", "could not encode task record")
	}
	return lock.Write(data)
}

// Raw returns the record file bytes exactly as stored (nil when absent).
func (m *Manager) Raw(ctx context.Context, taskID string) ([]byte, error) {
	return m.store.View(ctx, taskID)
}

func (m *Manager) read(lock *filestore.Lock) (Record, error) {
	data, err := lock.Read()
	if err != nil {
		return Record{}, err
	}
	if data == nil {
		return newRecord(lock.Key(), m.clock().UTC()), nil
	}
	rec, err := decodeRecord(lock.Key(), data)
	if err != nil {
		return Record{}, failure.Wrap(failure.KindInternal, err, lock.Key(), "", "task record is unreadable")
	}
	return rec, nil
}
