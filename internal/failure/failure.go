// Package failure defines the typed error taxonomy shared by the state store,
// the tool registry and the workflow engine. Every failure carries a Kind so
// callers can branch with errors.Is without parsing messages.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindTaskNotFound           Kind = "task_not_found"
	KindUnknownTool            Kind = "unknown_tool"
	KindEntryStatusInvalid     Kind = "entry_status_invalid"
	KindMissingDependency      Kind = "missing_dependency"
	KindCustomValidationFailed Kind = "custom_validation_failed"
	KindMissingPrerequisite    Kind = "missing_prerequisite"
	KindInvalidTrigger         Kind = "invalid_trigger"
	KindToolBusy               Kind = "tool_busy"
	KindInvalidDefinition      Kind = "invalid_definition"
	KindLockTimeout            Kind = "lock_timeout"
	KindWriteFailure           Kind = "write_failure"
	KindInternal               Kind = "internal_error"
)

// Sentinels usable with errors.Is. An *Error matches the sentinel of its Kind.
var (
	TaskNotFound           = &Error{Kind: KindTaskNotFound}
	UnknownTool            = &Error{Kind: KindUnknownTool}
	EntryStatusInvalid     = &Error{Kind: KindEntryStatusInvalid}
	MissingDependency      = &Error{Kind: KindMissingDependency}
	CustomValidationFailed = &Error{Kind: KindCustomValidationFailed}
	MissingPrerequisite    = &Error{Kind: KindMissingPrerequisite}
	InvalidTrigger         = &Error{Kind: KindInvalidTrigger}
	ToolBusy               = &Error{Kind: KindToolBusy}
	InvalidDefinition      = &Error{Kind: KindInvalidDefinition}
	LockTimeout            = &Error{Kind: KindLockTimeout}
	WriteFailure           = &Error{Kind: KindWriteFailure}
	Internal               = &Error{Kind: KindInternal}
)

// Error is a classified failure. Message is safe to show to users; Err holds
// the underlying cause for logs and is never rendered by Error().
type Error struct {
	Kind    Kind
	TaskID  string
	Tool    string
	Message string
	Err     error
}

// New builds a classified error.
func New(kind Kind, taskID, tool, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		TaskID:  taskID,
		Tool:    tool,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies cause under kind.
func Wrap(kind Kind, cause error, taskID, tool, format string, args ...any) *Error {
	e := New(kind, taskID, tool, format, args...)
	e.Err = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, "task "+e.TaskID)
	}
	if e.Tool != "" {
		parts = append(parts, "tool "+e.Tool)
	}
	msg := e.Message
	if msg == "" {
		msg = strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	if len(parts) == 0 {
		return msg
	}
	return strings.Join(parts, ", ") + ": " + msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same Kind, which lets the package sentinels
// work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf reports the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

// Ensure classifies err as an internal failure unless it already carries a Kind.
func Ensure(err error, taskID, tool string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		if e.TaskID == "" || e.Tool == "" {
			clone := *e
			if clone.TaskID == "" {
				clone.TaskID = taskID
			}
			if clone.Tool == "" {
				clone.Tool = tool
			}
			return &clone
		}
		return e
	}
	return Wrap(KindInternal, err, taskID, tool, "internal error")
}
