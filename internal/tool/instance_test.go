package tool

import (
	"errors"
	"testing"

	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/workflow"
)

type findings struct {
	Issues []string `json:"issues"`
	Score  int      `json:"score"`
}

func TestInstanceFireTracksTriggers(t *testing.T) {
	inst, err := New("T-1", reviewedDef("plan"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if inst.CurrentState() != "draft" {
		t.Fatalf("expected draft, got %s", inst.CurrentState())
	}
	steps := []string{workflow.SubmitTrigger("draft"), workflow.TriggerAIApprove, workflow.TriggerRequestRevision}
	for _, trig := range steps {
		if err := inst.Fire(trig); err != nil {
			t.Fatalf("fire %s: %v", trig, err)
		}
	}
	if inst.CurrentState() != "draft" {
		t.Fatalf("revision should return to draft, got %s", inst.CurrentState())
	}
	if inst.Context[KeyLastTrigger] != workflow.TriggerRequestRevision {
		t.Fatalf("last trigger = %v", inst.Context[KeyLastTrigger])
	}
	if inst.Context[KeyRevisions] != float64(1) {
		t.Fatalf("revisions = %v", inst.Context[KeyRevisions])
	}
	if err := inst.Fire(workflow.TriggerHumanApprove); !errors.Is(err, workflow.ErrInvalidTrigger) {
		t.Fatalf("expected invalid trigger, got %v", err)
	}
}

func TestInstanceRoundTripThroughRecord(t *testing.T) {
	def := reviewedDef("plan")
	inst, err := New("T-1", def)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := inst.Fire(workflow.SubmitTrigger("draft")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	inst.Context["findings"] = findings{Issues: []string{"naming"}, Score: 3}

	var rec taskstate.Record
	if err := rec.SetActive(inst); err != nil {
		t.Fatalf("set active: %v", err)
	}
	again, err := Rehydrate("T-1", def, *rec.Active)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if again.CurrentState() != inst.CurrentState() {
		t.Fatalf("state mismatch: %s vs %s", again.CurrentState(), inst.CurrentState())
	}
	got, ok := again.Context["findings"].(map[string]any)
	if !ok || got["score"] != float64(3) {
		t.Fatalf("structured payload not flattened: %#v", again.Context["findings"])
	}
	flat, err := inst.Context.Flatten()
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if len(flat) != len(again.Context) {
		t.Fatalf("context mismatch: %v vs %v", flat, again.Context)
	}
}

func TestRehydrateRejectsForeignState(t *testing.T) {
	def := reviewedDef("plan")
	if _, err := Rehydrate("T-1", def, taskstate.ActiveTool{Tool: "plan", State: "elsewhere"}); err == nil {
		t.Fatalf("expected unknown state error")
	}
	if _, err := Rehydrate("T-1", def, taskstate.ActiveTool{Tool: "review", State: "draft"}); err == nil {
		t.Fatalf("expected tool mismatch error")
	}
}

func TestContextCloneIsDeep(t *testing.T) {
	c := Context{"nested": map[string]any{"list": []any{"a"}}}
	clone := c.Clone()
	clone["nested"].(map[string]any)["list"].([]any)[0] = "b"
	if c["nested"].(map[string]any)["list"].([]any)[0] != "a" {
		t.Fatalf("clone shared nested data")
	}
	c.Merge(map[string]any{"extra": 1})
	if c["extra"] != 1 {
		t.Fatalf("merge failed")
	}
}

func TestAwaitingDispatch(t *testing.T) {
	def := Definition{
		Name:          "develop",
		DispatchState: "queued",
		WorkState:     "build",
		TerminalState: "built",
		AutoDispatch:  true,
	}
	inst, err := New("T-1", def)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !inst.AwaitingDispatch() {
		t.Fatalf("expected instance to await dispatch")
	}
	if err := inst.Fire(workflow.TriggerDispatch); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if inst.AwaitingDispatch() || inst.CurrentState() != "build" {
		t.Fatalf("unexpected state after dispatch: %s", inst.CurrentState())
	}
}
