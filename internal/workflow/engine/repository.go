package engine

import (
	"context"
	"time"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
)

// RecordStore is the slice of the task state manager the handler needs.
// *taskstate.Manager satisfies it.
type RecordStore interface {
	LoadOrCreate(ctx context.Context, taskID string) (taskstate.Record, error)
	WithScopedUpdate(ctx context.Context, taskID string, fn func(*taskstate.Record) error) error
}

var _ RecordStore = (*taskstate.Manager)(nil)

// Completion describes a tool that reached its terminal state.
type Completion struct {
	Task       task.Task
	Tool       string
	Output     map[string]any
	ExitStatus task.Status
	At         time.Time
}

// Observer is notified after a completion has been committed. Observer errors
// are logged and never undo the completion.
type Observer interface {
	ToolCompleted(ctx context.Context, c Completion) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, c Completion) error

// ToolCompleted implements Observer.
func (f ObserverFunc) ToolCompleted(ctx context.Context, c Completion) error {
	return f(ctx, c)
}
