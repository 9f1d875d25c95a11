package resolver

import (
	"testing"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/tool"
)

func builtinRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	defs, err := tool.BuiltinCatalogue()
	if err != nil {
		t.Fatalf("catalogue: %v", err)
	}
	reg := tool.NewRegistry()
	if err := tool.RegisterAll(reg, defs); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func mustNode(t *testing.T, r Report, name string) Node {
	t.Helper()
	n, ok := r.Node(name)
	if !ok {
		t.Fatalf("node %s missing", name)
	}
	return n
}

func TestResolveFreshTask(t *testing.T) {
	reg := builtinRegistry(t)
	tk := task.Task{ID: "T-1", Status: task.StatusBacklog, Description: "build it"}
	report := Resolve(tk, taskstate.Record{TaskID: "T-1"}, reg)

	if len(report.Nodes) != reg.Len() {
		t.Fatalf("expected %d nodes, got %d", reg.Len(), len(report.Nodes))
	}
	if got := report.Ready(); len(got) != 1 || got[0] != "plan" {
		t.Fatalf("expected only plan ready, got %v", got)
	}
	if n := mustNode(t, report, "develop"); n.State != NodeStateIneligible {
		t.Fatalf("expected develop ineligible, got %s", n.State)
	}
}

func TestResolveValidatorAndDependency(t *testing.T) {
	reg := builtinRegistry(t)
	noDesc := task.Task{ID: "T-1", Status: task.StatusPlanning}
	report := Resolve(noDesc, taskstate.Record{}, reg)
	plan := mustNode(t, report, "plan")
	if plan.State != NodeStateIneligible || plan.Reason == "" {
		t.Fatalf("expected validator to reject plan, got %+v", plan)
	}

	dev := task.Task{ID: "T-1", Status: task.StatusDevelopment}
	report = Resolve(dev, taskstate.Record{}, reg)
	develop := mustNode(t, report, "develop")
	if develop.State != NodeStateBlocked || len(develop.BlockedBy) != 1 || develop.BlockedBy[0] != "plan" {
		t.Fatalf("expected develop blocked by plan, got %+v", develop)
	}
}

func TestResolveActiveAndComplete(t *testing.T) {
	reg := builtinRegistry(t)
	tk := task.Task{ID: "T-1", Status: task.StatusDevelopment, Description: "x"}
	rec := taskstate.Record{
		TaskID:           "T-1",
		Active:           &taskstate.ActiveTool{Tool: "develop", State: "implementation"},
		CompletedOutputs: map[string]map[string]any{"plan": {}},
	}
	report := Resolve(tk, rec, reg)
	if report.Active != "develop" {
		t.Fatalf("expected develop active, got %q", report.Active)
	}
	develop := mustNode(t, report, "develop")
	if develop.State != NodeStateActive || develop.Current != "implementation" {
		t.Fatalf("unexpected develop node: %+v", develop)
	}
	if n := mustNode(t, report, "plan"); n.State != NodeStateComplete {
		t.Fatalf("expected plan complete, got %s", n.State)
	}
	if len(report.Ready()) != 0 {
		t.Fatalf("nothing should be ready while develop is active: %v", report.Ready())
	}
}

func TestResolveRequiredStatusReason(t *testing.T) {
	reg := builtinRegistry(t)
	tk := task.Task{ID: "T-1", Status: task.StatusTesting}
	rec := taskstate.Record{CompletedOutputs: map[string]map[string]any{"test": {}}}
	finalize := mustNode(t, Resolve(tk, rec, reg), "finalize")
	if finalize.State != NodeStateIneligible || finalize.Reason != "requires status finalization" {
		t.Fatalf("unexpected finalize node: %+v", finalize)
	}
}
