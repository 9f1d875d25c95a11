// Package filestore implements the lock-protected, atomically written per-key
// file primitive used by the task state manager. Each key maps to one data
// file plus a sibling lock file; writes go through a temp file in the same
// directory followed by a rename, so readers only ever observe complete files.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kingrea/taskgate/internal/failure"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
)

// Layout maps a key to the files backing it.
type Layout interface {
	DataPath(key string) string
	LockPath(key string) string
}

// Store hands out exclusive per-key locks.
type Store struct {
	layout       Layout
	timeout      time.Duration
	retryDelay   time.Duration
	beforeRename func(tmpPath string) error
}

// Option customizes a Store.
type Option func(*Store)

// WithTimeout bounds how long Lock waits before failing with LockTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetryDelay sets the polling interval while waiting for a lock.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithBeforeRename installs a hook that runs after the temp file is fully
// written and synced but before it replaces the target. A non-nil error
// aborts the write as if the process died at that point.
func WithBeforeRename(hook func(tmpPath string) error) Option {
	return func(s *Store) {
		s.beforeRename = hook
	}
}

// New builds a store over layout.
func New(layout Layout, opts ...Option) (*Store, error) {
	if layout == nil {
		return nil, fmt.Errorf("filestore: layout is required")
	}
	s := &Store{
		layout:     layout,
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lock is an exclusive hold on one key.
type Lock struct {
	store *Store
	key   string
	path  string
	fl    *flock.Flock
}

// Lock acquires the exclusive lock for key, waiting at most the configured
// timeout. Locks on different keys never contend.
func (s *Store) Lock(ctx context.Context, key string) (*Lock, error) {
	if key == "" {
		return nil, fmt.Errorf("filestore: key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	lockPath := s.layout.LockPath(key)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, failure.Wrap(failure.KindWriteFailure, err, key, "", "could not prepare task directory")
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(waitCtx, s.retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, failure.New(failure.KindLockTimeout, key, "", "timed out after %s waiting for the task lock", s.timeout)
		}
		return nil, failure.Wrap(failure.KindLockTimeout, err, key, "", "could not acquire the task lock")
	}
	if !locked {
		return nil, failure.New(failure.KindLockTimeout, key, "", "timed out after %s waiting for the task lock", s.timeout)
	}
	return &Lock{store: s, key: key, path: s.layout.DataPath(key), fl: fl}, nil
}

// View reads the current content of key under its lock.
func (s *Store) View(ctx context.Context, key string) ([]byte, error) {
	lock, err := s.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return lock.Read()
}

// Key returns the key this lock protects.
func (l *Lock) Key() string {
	return l.key
}

// Read returns the data file content, or nil when it does not exist yet.
func (l *Lock) Read() ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, failure.Wrap(failure.KindInternal, err, l.key, "", "could not read task record")
	}
	return data, nil
}

// Write atomically replaces the data file. On any error before the rename
// the temp file is removed and the previous content stays untouched.
func (l *Lock) Write(data []byte) error {
	if err := writeFileAtomic(l.path, data, 0o644, l.store.beforeRename); err != nil {
		return failure.Wrap(failure.KindWriteFailure, err, l.key, "", "could not persist task record")
	}
	return nil
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// WriteFile atomically replaces path with data. It takes no lock; callers
// serialize writers to the same path themselves.
func WriteFile(path string, data []byte) error {
	if err := writeFileAtomic(path, data, 0o644, nil); err != nil {
		return failure.Wrap(failure.KindWriteFailure, err, "", "", "could not write %s", filepath.Base(path))
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode, beforeRename func(string) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if beforeRename != nil {
		if err := beforeRename(tmpPath); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	renamed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the rename already landed.
	_ = d.Sync()
	return nil
}
