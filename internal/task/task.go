// Package task models the external unit of work whose lifecycle taskgate
// orchestrates. The workflow core only reads tasks and writes status
// transitions back through a Source.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by sources when no task exists for an identifier.
var ErrNotFound = errors.New("task: not found")

// Status is the coarse lifecycle phase of a task. The core treats it as an
// opaque token; tool definitions decide which values are legal where.
type Status string

const (
	StatusBacklog      Status = "backlog"
	StatusPlanning     Status = "planning"
	StatusDevelopment  Status = "development"
	StatusReview       Status = "review"
	StatusTesting      Status = "testing"
	StatusFinalization Status = "finalization"
	StatusDone         Status = "done"
)

var phases = []Status{
	StatusBacklog,
	StatusPlanning,
	StatusDevelopment,
	StatusReview,
	StatusTesting,
	StatusFinalization,
	StatusDone,
}

// Phases returns the ordered phase sequence.
func Phases() []Status {
	return append([]Status(nil), phases...)
}

// PhaseIndex returns the position of s in the phase sequence, or -1.
func PhaseIndex(s Status) int {
	for i, p := range phases {
		if p == s {
			return i
		}
	}
	return -1
}

// ParseStatus normalizes a user supplied status token.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if s == "" {
		return "", fmt.Errorf("task: status is required")
	}
	if PhaseIndex(s) < 0 {
		return "", fmt.Errorf("task: unknown status %q", value)
	}
	return s, nil
}

// Task is the read-only view of a unit of work.
type Task struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status    `json:"status" yaml:"status"`
	Labels      []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Source loads tasks and accepts the status transitions the core triggers.
type Source interface {
	Get(ctx context.Context, id string) (Task, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// ValidateID rejects identifiers that cannot be used as a directory name.
func ValidateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("task: id is required")
	}
	if trimmed != id || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("task: invalid id %q", id)
	}
	return nil
}

func (t Task) clone() Task {
	if len(t.Labels) > 0 {
		t.Labels = append([]string(nil), t.Labels...)
	}
	return t
}
