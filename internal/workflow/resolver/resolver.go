package resolver

import (
	"fmt"
	"strings"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/tool"
)

// NodeState represents the resolver's understanding of a tool's readiness.
type NodeState string

const (
	NodeStateActive     NodeState = "active"
	NodeStateComplete   NodeState = "complete"
	NodeStateReady      NodeState = "ready"
	NodeStateBlocked    NodeState = "blocked"
	NodeStateIneligible NodeState = "ineligible"
)

// Node captures one tool and why it is or is not enterable.
type Node struct {
	Tool        string    `json:"tool"`
	Description string    `json:"description,omitempty"`
	State       NodeState `json:"state"`
	// Current is the instance state when the tool is active.
	Current   string   `json:"current,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// Report lists every registered tool in registration order.
type Report struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
	Active string      `json:"active,omitempty"`
	Nodes  []Node      `json:"nodes"`
}

// Resolve evaluates every registered tool against t and rec.
func Resolve(t task.Task, rec taskstate.Record, registry *tool.Registry) Report {
	report := Report{TaskID: t.ID, Status: t.Status}
	if rec.Active != nil {
		report.Active = rec.Active.Tool
	}
	if registry == nil {
		return report
	}
	for _, def := range registry.All() {
		report.Nodes = append(report.Nodes, evaluate(t, rec, def))
	}
	return report
}

func evaluate(t task.Task, rec taskstate.Record, def tool.Definition) Node {
	node := Node{Tool: def.Name, Description: def.Description}
	if active, ok := rec.ActiveFor(def.Name); ok {
		node.State = NodeStateActive
		node.Current = active.State
		return node
	}
	if rec.HasOutput(def.Name) {
		node.State = NodeStateComplete
		return node
	}
	if !def.AcceptsStatus(t.Status) {
		node.State = NodeStateIneligible
		node.Reason = statusReason(t.Status, def)
		return node
	}
	if def.Validator != nil {
		if msg := strings.TrimSpace(def.Validator(t)); msg != "" {
			node.State = NodeStateIneligible
			node.Reason = msg
			return node
		}
	}
	if def.DependsOn != "" && !rec.HasOutput(def.DependsOn) {
		node.State = NodeStateBlocked
		node.BlockedBy = []string{def.DependsOn}
		node.Reason = fmt.Sprintf("waiting for %s", def.DependsOn)
		return node
	}
	if rec.Active != nil {
		node.State = NodeStateBlocked
		node.BlockedBy = []string{rec.Active.Tool}
		node.Reason = fmt.Sprintf("%s is active", rec.Active.Tool)
		return node
	}
	node.State = NodeStateReady
	return node
}

func statusReason(s task.Status, def tool.Definition) string {
	if def.RequiredStatus != "" {
		return fmt.Sprintf("requires status %s", def.RequiredStatus)
	}
	parts := make([]string, len(def.EntryStatuses))
	for i, v := range def.EntryStatuses {
		parts[i] = string(v)
	}
	return fmt.Sprintf("status %s not in [%s]", s, strings.Join(parts, ", "))
}

// Node returns the entry for name.
func (r Report) Node(name string) (Node, bool) {
	for _, n := range r.Nodes {
		if n.Tool == name {
			return n, true
		}
	}
	return Node{}, false
}

// Ready lists tools that can be entered now.
func (r Report) Ready() []string {
	var out []string
	for _, n := range r.Nodes {
		if n.State == NodeStateReady {
			out = append(out, n.Tool)
		}
	}
	return out
}
