package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemorySource keeps tasks in process memory.
type MemorySource struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewMemorySource seeds a source with tasks.
func NewMemorySource(tasks ...Task) *MemorySource {
	src := &MemorySource{tasks: make(map[string]Task, len(tasks))}
	for _, t := range tasks {
		src.tasks[t.ID] = t.clone()
	}
	return src
}

// Put inserts or replaces a task.
func (m *MemorySource) Put(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t.clone()
}

// Get implements Source.
func (m *MemorySource) Get(_ context.Context, id string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.clone(), nil
}

// UpdateStatus implements Source.
func (m *MemorySource) UpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

// List returns every task ordered by id.
func (m *MemorySource) List(_ context.Context) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
