package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/taskgate/internal/filestore"
)

const taskFileName = "task.yaml"

// FileSource stores one YAML document per task under <root>/<id>/task.yaml.
// It shares the per-task directory with the state record but uses its own
// lock file so task edits never contend with record writes.
type FileSource struct {
	root  string
	store *filestore.Store
	now   func() time.Time
}

type fileLayout string

func (l fileLayout) DataPath(id string) string {
	return filepath.Join(string(l), id, taskFileName)
}

func (l fileLayout) LockPath(id string) string {
	return filepath.Join(string(l), id, "task.lock")
}

// NewFileSource opens a YAML task source rooted at root.
func NewFileSource(root string, opts ...filestore.Option) (*FileSource, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("task: source root is required")
	}
	store, err := filestore.New(fileLayout(root), opts...)
	if err != nil {
		return nil, err
	}
	return &FileSource{root: root, store: store, now: time.Now}, nil
}

// Create persists a new task. A missing id is generated.
func (s *FileSource) Create(ctx context.Context, t Task) (Task, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		t.ID = "T-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	if err := ValidateID(t.ID); err != nil {
		return Task{}, err
	}
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	lock, err := s.store.Lock(ctx, t.ID)
	if err != nil {
		return Task{}, err
	}
	defer lock.Release()
	existing, err := lock.Read()
	if err != nil {
		return Task{}, err
	}
	if existing != nil {
		return Task{}, fmt.Errorf("task: %s already exists", t.ID)
	}
	if err := s.write(lock, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Get implements Source.
func (s *FileSource) Get(ctx context.Context, id string) (Task, error) {
	if err := ValidateID(id); err != nil {
		return Task{}, err
	}
	data, err := s.store.View(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if data == nil {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeTask(id, data)
}

// UpdateStatus implements Source.
func (s *FileSource) UpdateStatus(ctx context.Context, id string, status Status) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	lock, err := s.store.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer lock.Release()
	data, err := lock.Read()
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t, err := decodeTask(id, data)
	if err != nil {
		return err
	}
	t.Status = status
	return s.write(lock, t)
}

// List returns every task found under the root, ordered by id.
func (s *FileSource) List(ctx context.Context) ([]Task, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("task: list %s: %w", s.root, err)
	}
	var out []Task
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), taskFileName)); err != nil {
			continue
		}
		t, err := s.Get(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileSource) write(lock *filestore.Lock, t Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("task: encode %s: %w", t.ID, err)
	}
	return lock.Write(data)
}

func decodeTask(id string, data []byte) (Task, error) {
	var t Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("task: decode %s: %w", id, err)
	}
	if t.ID == "" {
		t.ID = id
	}
	return t, nil
}
