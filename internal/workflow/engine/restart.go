package engine

import (
	"context"
	"runtime/debug"
	"sort"

	"github.com/kingrea/taskgate/internal/failure"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/tool"
)

// RestartRequest resets a tool to an earlier declared state.
type RestartRequest struct {
	TaskID string
	Tool   string
	// State is a work state (or the dispatch state) of Tool. Empty means the
	// tool's initial state.
	State string
	// Status, when set, is written to the record and the task source.
	Status task.Status
	// Keep lists completed outputs to retain. The restarted tool's output and
	// the outputs of tools depending on it are dropped otherwise.
	Keep []string
}

// Restart replaces the active instance with Tool at State. It is the only
// way to move an instance backwards outside of request_revision.
func (h *Handler) Restart(ctx context.Context, req RestartRequest) (res Result, err error) {
	started := h.clock()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("engine: panic restarting %s for task %s: %v\n%s", req.Tool, req.TaskID, r, debug.Stack())
			res = Result{}
			err = failure.New(failure.KindInternal, req.TaskID, req.Tool, "internal error; see the taskgate log")
		}
		h.finish("restart", req.TaskID, req.Tool, res, err, h.clock().Sub(started))
	}()

	tk, err := h.loadTask(ctx, req.TaskID)
	if err != nil {
		return Result{}, err
	}
	def, err := h.registry.Get(req.Tool)
	if err != nil {
		return Result{}, failure.Ensure(err, req.TaskID, req.Tool)
	}
	state := req.State
	if state == "" {
		state = def.Initial()
	}
	if !restartable(def, state) {
		return Result{}, failure.New(failure.KindInvalidTrigger, req.TaskID, def.Name,
			"cannot restart at %q; choose one of %v", state, restartStates(def))
	}
	drop := h.invalidated(def.Name, req.Keep)

	var replaced string
	err = h.records.WithScopedUpdate(ctx, req.TaskID, func(rec *taskstate.Record) error {
		inst, err := h.restartInstance(tk, def, *rec)
		if err != nil {
			return err
		}
		if rec.Active != nil && rec.Active.Tool != def.Name {
			replaced = rec.Active.Tool
		}
		if err := inst.Reset(state); err != nil {
			return failure.Wrap(failure.KindInternal, err, tk.ID, def.Name, "could not reset the tool")
		}
		for _, name := range drop {
			delete(rec.CompletedOutputs, name)
		}
		if def.DependsOn != "" && !rec.HasOutput(def.DependsOn) {
			return failure.New(failure.KindMissingDependency, tk.ID, def.Name,
				"cannot restart: requires completed output from %s", def.DependsOn)
		}
		if req.Status != "" {
			rec.Status = req.Status
		} else if rec.Status == "" {
			rec.Status = tk.Status
		}
		res = describe(tk.ID, def, inst)
		return rec.SetActive(inst)
	})
	if err != nil {
		return Result{}, failure.Ensure(err, req.TaskID, def.Name)
	}
	h.metrics.ObserveRestart(def.Name)
	if replaced != "" {
		h.journal(tk.ID).Warn("restart of %s discarded active tool %s", def.Name, replaced)
	}
	if req.Status != "" && req.Status != tk.Status {
		if err := h.tasks.UpdateStatus(ctx, tk.ID, req.Status); err != nil {
			h.logger.Printf("engine: task %s: restart of %s could not store status %s: %v", tk.ID, def.Name, req.Status, err)
			return Result{}, failure.Wrap(failure.KindWriteFailure, err, tk.ID, def.Name,
				"restart recorded but the task source rejected status %s", req.Status)
		}
	}
	return res, nil
}

// restartInstance keeps the context of a same-tool active instance so a
// restart within a tool does not lose submitted work.
func (h *Handler) restartInstance(tk task.Task, def tool.Definition, rec taskstate.Record) (*tool.Instance, error) {
	if active, ok := rec.ActiveFor(def.Name); ok {
		if inst, err := tool.Rehydrate(tk.ID, def, *active); err == nil {
			return inst, nil
		}
	}
	inst, err := tool.New(tk.ID, def)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, err, tk.ID, def.Name, "could not build the tool state machine")
	}
	return inst, nil
}

// invalidated returns name plus every tool depending on it, directly or
// transitively, minus keep.
func (h *Handler) invalidated(name string, keep []string) []string {
	set := map[string]bool{name: true}
	defs := h.registry.All()
	for changed := true; changed; {
		changed = false
		for _, def := range defs {
			if def.DependsOn != "" && set[def.DependsOn] && !set[def.Name] {
				set[def.Name] = true
				changed = true
			}
		}
	}
	for _, k := range keep {
		delete(set, k)
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func restartable(def tool.Definition, state string) bool {
	for _, s := range restartStates(def) {
		if s == state {
			return true
		}
	}
	return false
}

func restartStates(def tool.Definition) []string {
	states := def.Works()
	if def.Shape() == tool.ShapeDispatch {
		states = append([]string{def.DispatchState}, states...)
	}
	return states
}
