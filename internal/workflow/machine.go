package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTrigger is returned when a trigger does not leave the current state.
	ErrInvalidTrigger = errors.New("workflow: trigger not allowed from current state")
	// ErrUnknownState is returned when rehydrating into a state the graph lacks.
	ErrUnknownState = errors.New("workflow: unknown state")
)

// Machine walks a compiled Graph.
type Machine struct {
	graph   Graph
	current string
}

// NewMachine starts a machine at the graph's initial state.
func NewMachine(g Graph) (*Machine, error) {
	if !g.HasState(g.Initial) {
		return nil, fmt.Errorf("%w: initial state %q", ErrUnknownState, g.Initial)
	}
	return &Machine{graph: g, current: g.Initial}, nil
}

// Graph returns the compiled graph backing the machine.
func (m *Machine) Graph() Graph {
	return m.graph
}

// Current returns the current state identifier.
func (m *Machine) Current() string {
	return m.current
}

// SetState moves the machine directly to state. Used when rehydrating a
// persisted instance and for caller-initiated restarts.
func (m *Machine) SetState(state string) error {
	if !m.graph.HasState(state) {
		return fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	m.current = state
	return nil
}

// Fire applies trigger to the current state.
func (m *Machine) Fire(trigger string) error {
	for _, t := range m.graph.From(m.current) {
		if t.Trigger == trigger {
			m.current = t.Dest
			return nil
		}
	}
	return fmt.Errorf("%w: %q from %q", ErrInvalidTrigger, trigger, m.current)
}

// Available lists the triggers that may fire from the current state.
func (m *Machine) Available() []string {
	from := m.graph.From(m.current)
	out := make([]string, 0, len(from))
	for _, t := range from {
		out = append(out, t.Trigger)
	}
	return out
}

// IsTerminal reports whether the machine reached the terminal state.
func (m *Machine) IsTerminal() bool {
	return m.current == m.graph.Terminal
}
