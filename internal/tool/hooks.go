package tool

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
)

// ErrMissingPrerequisite is returned by context loaders when the data they
// need is not available yet. The engine reports it to the caller without
// touching the task record.
var ErrMissingPrerequisite = errors.New("tool: missing prerequisite")

// ContextLoader prepares the context of an auto-dispatching tool from the
// task and its persisted record. It must not have side effects.
type ContextLoader func(t task.Task, rec taskstate.Record) (Context, error)

// Validator inspects a task before a tool is entered and returns a non-empty
// message to reject entry.
type Validator func(t task.Task) string

// Hooks maps catalogue names to hook functions.
type Hooks struct {
	Loaders    map[string]ContextLoader
	Validators map[string]Validator
}

// NewHooks returns an empty hook table.
func NewHooks() Hooks {
	return Hooks{Loaders: map[string]ContextLoader{}, Validators: map[string]Validator{}}
}

func (h Hooks) loader(name string) (ContextLoader, error) {
	fn, ok := h.Loaders[name]
	if !ok || fn == nil {
		return nil, fmt.Errorf("unknown context_loader %q (known: %s)", name, strings.Join(sortedKeys(h.Loaders), ", "))
	}
	return fn, nil
}

func (h Hooks) validator(name string) (Validator, error) {
	fn, ok := h.Validators[name]
	if !ok || fn == nil {
		return nil, fmt.Errorf("unknown validator %q (known: %s)", name, strings.Join(sortedKeys(h.Validators), ", "))
	}
	return fn, nil
}

// BuiltinHooks returns the hooks referenced by the built-in catalogue.
func BuiltinHooks() Hooks {
	h := NewHooks()
	h.Validators["require_description"] = RequireDescription
	h.Loaders["plan_output"] = OutputLoader("plan")
	h.Loaders["review_output"] = OutputLoader("review")
	return h
}

// RequireDescription rejects tasks without a description.
func RequireDescription(t task.Task) string {
	if strings.TrimSpace(t.Description) == "" {
		return "task has no description; add one before planning"
	}
	return ""
}

// OutputLoader exposes the completed output of another tool under
// "<tool>_output", failing with ErrMissingPrerequisite until it exists.
func OutputLoader(tool string) ContextLoader {
	return func(t task.Task, rec taskstate.Record) (Context, error) {
		out, ok := rec.Output(tool)
		if !ok {
			return nil, fmt.Errorf("%w: %s has not completed for task %s", ErrMissingPrerequisite, tool, t.ID)
		}
		return Context{
			tool + "_output": map[string]any(Context(out).Clone()),
			"task_title":     t.Title,
		}, nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
