package engine

import (
	"fmt"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow"
)

// InputTrigger is the reserved Execute input key selecting a transition on
// the active instance. Every other input is merged into the context store.
const InputTrigger = "trigger"

// Result describes the outcome of a successful handler call.
type Result struct {
	TaskID string `json:"task_id"`
	Tool   string `json:"tool"`
	State  string `json:"state"`
	// Message is a human-readable summary of where the tool stands.
	Message string `json:"message"`
	// NextAction names the trigger an external actor should fire next. It is
	// empty once the tool is complete, and for a queued auto-dispatch tool
	// where a plain execute is expected.
	NextAction string      `json:"next_action,omitempty"`
	Available  []string    `json:"available,omitempty"`
	Complete   bool        `json:"complete"`
	ExitStatus task.Status `json:"exit_status,omitempty"`
}

// Actor names who is expected to act on NextAction.
func (r Result) Actor() string {
	switch r.NextAction {
	case "":
		return ""
	case workflow.TriggerAIApprove:
		return "ai_reviewer"
	case workflow.TriggerHumanApprove:
		return "human_reviewer"
	case workflow.TriggerDispatch:
		return "dispatcher"
	default:
		return "worker"
	}
}

func describe(taskID string, def tool.Definition, inst *tool.Instance) Result {
	res := Result{
		TaskID: taskID,
		Tool:   def.Name,
		State:  inst.CurrentState(),
	}
	if inst.IsTerminal() {
		res.Complete = true
		res.ExitStatus = def.ExitStatus
		if def.ExitStatus != "" {
			res.Message = fmt.Sprintf("%s complete; task moved to %s", def.Name, def.ExitStatus)
		} else {
			res.Message = fmt.Sprintf("%s complete", def.Name)
		}
		return res
	}
	res.Available = inst.Available()
	state := inst.CurrentState()
	if def.Shape() == tool.ShapeDispatch && state == def.DispatchState && def.AutoDispatch {
		res.Message = fmt.Sprintf("%s is queued at %s; execute it again to load its context and dispatch", def.Name, state)
		return res
	}
	if def.Shape() == tool.ShapeDispatch && state == def.DispatchState {
		res.NextAction = workflow.TriggerDispatch
		res.Message = fmt.Sprintf("%s is queued at %s; fire %s to start work", def.Name, state, workflow.TriggerDispatch)
		return res
	}
	work, stage := workflow.ReviewStage(state)
	switch stage {
	case workflow.StageAIReview:
		res.NextAction = workflow.TriggerAIApprove
		res.Message = fmt.Sprintf("%s: %s awaits AI review; fire %s or %s", def.Name, work, workflow.TriggerAIApprove, workflow.TriggerRequestRevision)
	case workflow.StageHumanReview:
		res.NextAction = workflow.TriggerHumanApprove
		res.Message = fmt.Sprintf("%s: %s awaits human review; fire %s or %s", def.Name, work, workflow.TriggerHumanApprove, workflow.TriggerRequestRevision)
	default:
		res.NextAction = workflow.SubmitTrigger(work)
		res.Message = fmt.Sprintf("%s: working on %s; submit with %s", def.Name, work, res.NextAction)
	}
	return res
}
