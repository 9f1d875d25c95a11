package tool

import (
	"fmt"
	"strings"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/workflow"
)

// Shape names the two supported graph shapes.
type Shape string

const (
	ShapeReviewed Shape = "reviewed"
	ShapeDispatch Shape = "dispatch"
)

// Definition declares one tool: its graph shape, the task statuses that may
// enter it, the status the task moves to when it completes, and the optional
// hooks and dependency gating entry. Definitions are immutable once
// registered.
type Definition struct {
	Name        string
	Description string

	// WorkStates declares the multi-step reviewed shape.
	WorkStates []string
	// DispatchState + WorkState declare the simple dispatch shape.
	DispatchState string
	WorkState     string

	TerminalState string
	InitialState  string

	EntryStatuses  []task.Status
	ExitStatus     task.Status
	RequiredStatus task.Status

	AutoDispatch  bool
	ContextLoader ContextLoader
	Validator     Validator
	DependsOn     string

	// Hook names as declared in a catalogue, kept for display.
	ContextLoaderName string
	ValidatorName     string
}

// Shape reports which builder entry point the definition compiles with.
func (d Definition) Shape() Shape {
	if len(d.WorkStates) > 0 {
		return ShapeReviewed
	}
	return ShapeDispatch
}

// Initial returns the declared initial state, applying the shape's default.
func (d Definition) Initial() string {
	if d.Shape() == ShapeDispatch {
		return d.DispatchState
	}
	if d.InitialState != "" {
		return d.InitialState
	}
	if len(d.WorkStates) > 0 {
		return d.WorkStates[0]
	}
	return ""
}

// Graph compiles the definition into a concrete state graph.
func (d Definition) Graph() workflow.Graph {
	if d.Shape() == ShapeDispatch {
		return workflow.BuildDispatchWorkflow(d.DispatchState, d.WorkState, d.TerminalState)
	}
	return workflow.BuildReviewedWorkflow(d.WorkStates, d.TerminalState, d.Initial())
}

// Works returns the work states in order regardless of shape.
func (d Definition) Works() []string {
	if d.Shape() == ShapeDispatch {
		if d.WorkState == "" {
			return nil
		}
		return []string{d.WorkState}
	}
	return append([]string(nil), d.WorkStates...)
}

// AcceptsStatus reports whether a task in status s may enter the tool.
func (d Definition) AcceptsStatus(s task.Status) bool {
	if d.RequiredStatus != "" && s != d.RequiredStatus {
		return false
	}
	if len(d.EntryStatuses) == 0 {
		return true
	}
	for _, allowed := range d.EntryStatuses {
		if allowed == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the definition.
func (d Definition) Clone() Definition {
	clone := d
	clone.WorkStates = append([]string(nil), d.WorkStates...)
	clone.EntryStatuses = append([]task.Status(nil), d.EntryStatuses...)
	return clone
}

// Validate enforces the declarative invariants. Errors name the tool and the
// offending field.
func (d Definition) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("tool: name is required")
	}
	if name != d.Name {
		return fmt.Errorf("tool %q: name must not have surrounding whitespace", d.Name)
	}
	reviewed := len(d.WorkStates) > 0
	dispatch := d.DispatchState != "" || d.WorkState != ""
	switch {
	case reviewed && dispatch:
		return fmt.Errorf("tool %s: work_states cannot be combined with dispatch_state/work_state", name)
	case !reviewed && !dispatch:
		return fmt.Errorf("tool %s: work_states or dispatch_state/work_state is required", name)
	}
	if d.AutoDispatch && d.DispatchState == "" {
		return fmt.Errorf("tool %s: auto_dispatch requires dispatch_state", name)
	}
	if dispatch && (d.DispatchState == "" || d.WorkState == "") {
		return fmt.Errorf("tool %s: dispatch_state and work_state must be declared together", name)
	}
	if d.TerminalState == "" {
		if reviewed {
			return fmt.Errorf("tool %s: terminal_state is required when work_states are declared", name)
		}
		return fmt.Errorf("tool %s: terminal_state is required", name)
	}
	if len(d.EntryStatuses) > 0 && d.ExitStatus == "" {
		return fmt.Errorf("tool %s: exit_status is required when entry_statuses are declared", name)
	}
	if err := d.validateStates(); err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	if reviewed && d.InitialState != "" && !contains(d.WorkStates, d.InitialState) {
		return fmt.Errorf("tool %s: initial_state %q is not a declared work state", name, d.InitialState)
	}
	if dispatch && d.InitialState != "" && d.InitialState != d.DispatchState {
		return fmt.Errorf("tool %s: initial_state must equal dispatch_state %q", name, d.DispatchState)
	}
	if d.RequiredStatus != "" && len(d.EntryStatuses) > 0 && !d.hasEntryStatus(d.RequiredStatus) {
		return fmt.Errorf("tool %s: required_status %q is not one of entry_statuses", name, d.RequiredStatus)
	}
	if d.DependsOn == name {
		return fmt.Errorf("tool %s: depends_on cannot reference itself", name)
	}
	return nil
}

func (d Definition) validateStates() error {
	seen := map[string]string{}
	claim := func(field, state string) error {
		if strings.TrimSpace(state) == "" {
			return fmt.Errorf("%s contains an empty state", field)
		}
		if strings.ContainsAny(state, " \t\n") {
			return fmt.Errorf("%s state %q must not contain whitespace", field, state)
		}
		if prev, ok := seen[state]; ok {
			return fmt.Errorf("%s state %q collides with %s", field, state, prev)
		}
		seen[state] = field
		return nil
	}
	for _, s := range d.Works() {
		field := "work_states"
		if d.Shape() == ShapeDispatch {
			field = "work_state"
		}
		if err := claim(field, s); err != nil {
			return err
		}
		if err := claim(field, workflow.AIReviewState(s)); err != nil {
			return err
		}
		if err := claim(field, workflow.HumanReviewState(s)); err != nil {
			return err
		}
	}
	if d.Shape() == ShapeDispatch {
		if err := claim("dispatch_state", d.DispatchState); err != nil {
			return err
		}
	}
	return claim("terminal_state", d.TerminalState)
}

func (d Definition) hasEntryStatus(s task.Status) bool {
	for _, allowed := range d.EntryStatuses {
		if allowed == s {
			return true
		}
	}
	return false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
