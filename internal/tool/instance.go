package tool

import (
	"fmt"

	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/workflow"
)

// Instance is the live execution of one tool for one task.
type Instance struct {
	TaskID     string
	Definition Definition
	Context    Context
	machine    *workflow.Machine
}

var _ taskstate.ToolInstance = (*Instance)(nil)

// New builds a fresh instance at the definition's initial state.
func New(taskID string, def Definition) (*Instance, error) {
	machine, err := workflow.NewMachine(def.Graph())
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", def.Name, err)
	}
	return &Instance{
		TaskID:     taskID,
		Definition: def,
		Context:    Context{},
		machine:    machine,
	}, nil
}

// Rehydrate rebuilds an instance from its persisted form. The graph is
// recompiled from the definition and the stored state must belong to it.
func Rehydrate(taskID string, def Definition, active taskstate.ActiveTool) (*Instance, error) {
	if active.Tool != def.Name {
		return nil, fmt.Errorf("tool %s: persisted instance belongs to %s", def.Name, active.Tool)
	}
	inst, err := New(taskID, def)
	if err != nil {
		return nil, err
	}
	if err := inst.machine.SetState(active.State); err != nil {
		return nil, fmt.Errorf("tool %s: rehydrate: %w", def.Name, err)
	}
	inst.Context = Context(active.Context).Clone()
	return inst, nil
}

// ToolName implements taskstate.ToolInstance.
func (i *Instance) ToolName() string {
	return i.Definition.Name
}

// CurrentState implements taskstate.ToolInstance.
func (i *Instance) CurrentState() string {
	return i.machine.Current()
}

// ContextValues implements taskstate.ToolInstance.
func (i *Instance) ContextValues() map[string]any {
	return i.Context
}

// Fire applies trigger and records it in the context.
func (i *Instance) Fire(trigger string) error {
	if err := i.machine.Fire(trigger); err != nil {
		return err
	}
	i.Context[KeyLastTrigger] = trigger
	if trigger == workflow.TriggerRequestRevision {
		i.Context[KeyRevisions] = revisions(i.Context[KeyRevisions]) + 1
	}
	return nil
}

// Reset moves the instance to state without firing a trigger.
func (i *Instance) Reset(state string) error {
	return i.machine.SetState(state)
}

// Available lists the triggers legal from the current state.
func (i *Instance) Available() []string {
	return i.machine.Available()
}

// IsTerminal reports whether the tool finished.
func (i *Instance) IsTerminal() bool {
	return i.machine.IsTerminal()
}

// AwaitingDispatch reports whether an auto-dispatching instance still sits
// in its dispatch state.
func (i *Instance) AwaitingDispatch() bool {
	return i.Definition.AutoDispatch && i.CurrentState() == i.Definition.DispatchState
}

// Graph returns the compiled graph.
func (i *Instance) Graph() workflow.Graph {
	return i.machine.Graph()
}

func revisions(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
