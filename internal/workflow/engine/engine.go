package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kingrea/taskgate/internal/failure"
	"github.com/kingrea/taskgate/internal/logbook"
	"github.com/kingrea/taskgate/internal/logging"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/telemetry"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow"
	"github.com/kingrea/taskgate/internal/workflow/resolver"
)

// Handler executes tools against tasks. It holds no per-task state: every
// call reloads the persisted record under the task lock.
type Handler struct {
	registry  *tool.Registry
	tasks     task.Source
	records   RecordStore
	logger    *logging.Logger
	journals  func(taskID string) *logbook.Logbook
	metrics   *telemetry.Metrics
	observers []Observer
	clock     func() time.Time
}

// Option customizes the handler.
type Option func(*Handler)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithLogger routes internal failures to the process log.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithJournals appends a line per call to the task's activity log.
func WithJournals(open func(taskID string) *logbook.Logbook) Option {
	return func(h *Handler) {
		h.journals = open
	}
}

// WithMetrics records call outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithObserver registers a completion observer.
func WithObserver(obs Observer) Option {
	return func(h *Handler) {
		if obs != nil {
			h.observers = append(h.observers, obs)
		}
	}
}

// New wires a handler to the tool registry, the task source and the record
// store.
func New(registry *tool.Registry, tasks task.Source, records RecordStore, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, fmt.Errorf("workflow engine: tool registry is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("workflow engine: task source is required")
	}
	if records == nil {
		return nil, fmt.Errorf("workflow engine: record store is required")
	}
	h := &Handler{
		registry: registry,
		tasks:    tasks,
		records:  records,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Registry exposes the tool catalogue the handler serves.
func (h *Handler) Registry() *tool.Registry {
	return h.registry
}

// Execute enters or resumes toolName for taskID. The reserved input
// "trigger" fires a transition on the active instance; remaining inputs are
// merged into the instance's context store.
func (h *Handler) Execute(ctx context.Context, taskID, toolName string, inputs map[string]any) (res Result, err error) {
	started := h.clock()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("engine: panic executing %s for task %s: %v\n%s", toolName, taskID, r, debug.Stack())
			res = Result{}
			err = failure.New(failure.KindInternal, taskID, toolName, "internal error; see the taskgate log")
		}
		h.finish("execute", taskID, toolName, res, err, h.clock().Sub(started))
	}()
	return h.execute(ctx, taskID, toolName, inputs)
}

// Fire applies trigger to the active instance of toolName.
func (h *Handler) Fire(ctx context.Context, taskID, toolName, trigger string, inputs map[string]any) (Result, error) {
	merged := make(map[string]any, len(inputs)+1)
	for k, v := range inputs {
		merged[k] = v
	}
	merged[InputTrigger] = trigger
	return h.Execute(ctx, taskID, toolName, merged)
}

// Record returns the persisted record for taskID without writing.
func (h *Handler) Record(ctx context.Context, taskID string) (taskstate.Record, error) {
	if _, err := h.loadTask(ctx, taskID); err != nil {
		return taskstate.Record{}, err
	}
	rec, err := h.records.LoadOrCreate(ctx, taskID)
	if err != nil {
		return taskstate.Record{}, failure.Ensure(err, taskID, "")
	}
	return rec, nil
}

// Report resolves the readiness of every registered tool for taskID.
func (h *Handler) Report(ctx context.Context, taskID string) (resolver.Report, error) {
	tk, err := h.loadTask(ctx, taskID)
	if err != nil {
		return resolver.Report{}, err
	}
	rec, err := h.records.LoadOrCreate(ctx, taskID)
	if err != nil {
		return resolver.Report{}, failure.Ensure(err, taskID, "")
	}
	return resolver.Resolve(tk, rec, h.registry), nil
}

func (h *Handler) execute(ctx context.Context, taskID, toolName string, inputs map[string]any) (Result, error) {
	tk, err := h.loadTask(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	def, err := h.registry.Get(toolName)
	if err != nil {
		return Result{}, failure.Ensure(err, taskID, toolName)
	}
	trigger, payload, err := splitInputs(inputs)
	if err != nil {
		return Result{}, failure.New(failure.KindInvalidTrigger, taskID, def.Name, "%s", err.Error())
	}

	var (
		res        Result
		completion *Completion
		resync     bool
	)
	err = h.records.WithScopedUpdate(ctx, taskID, func(rec *taskstate.Record) error {
		if trigger == "" && unsynced(tk, def, *rec) {
			resync = true
			return nil
		}
		inst, err := h.enter(tk, def, *rec, trigger)
		if err != nil {
			return err
		}
		if inst.AwaitingDispatch() {
			if err := h.dispatch(tk, def, *rec, inst); err != nil {
				return err
			}
			if trigger == workflow.TriggerDispatch {
				trigger = ""
			}
		}
		inst.Context.Merge(payload)
		if trigger != "" {
			if err := inst.Fire(trigger); err != nil {
				return failure.Wrap(failure.KindInvalidTrigger, err, taskID, def.Name,
					"%s cannot fire from %s (available: %s)", trigger, inst.CurrentState(), strings.Join(inst.Available(), ", "))
			}
		}
		if rec.Status == "" {
			rec.Status = tk.Status
		}
		res = describe(taskID, def, inst)
		if !inst.IsTerminal() {
			return rec.SetActive(inst)
		}
		output, err := inst.Context.Output()
		if err != nil {
			return failure.Wrap(failure.KindInternal, err, taskID, def.Name, "could not serialize tool output")
		}
		if err := rec.AddOutput(def.Name, output); err != nil {
			return err
		}
		rec.Active = nil
		if def.ExitStatus != "" {
			rec.Status = def.ExitStatus
		}
		completion = &Completion{
			Task:       tk,
			Tool:       def.Name,
			Output:     output,
			ExitStatus: def.ExitStatus,
			At:         h.clock().UTC(),
		}
		return nil
	})
	if err != nil {
		return Result{}, failure.Ensure(err, taskID, def.Name)
	}
	if resync {
		return h.resync(ctx, tk, def)
	}
	if completion != nil {
		if err := h.complete(ctx, *completion); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// enter resumes the active instance of def or, when the tool is not active,
// checks the entry preconditions and builds a fresh instance.
func (h *Handler) enter(tk task.Task, def tool.Definition, rec taskstate.Record, trigger string) (*tool.Instance, error) {
	if active, ok := rec.ActiveFor(def.Name); ok {
		inst, err := tool.Rehydrate(tk.ID, def, *active)
		if err != nil {
			return nil, failure.Wrap(failure.KindInternal, err, tk.ID, def.Name, "persisted instance does not match the tool definition")
		}
		return inst, nil
	}
	if rec.Active != nil {
		return nil, failure.New(failure.KindToolBusy, tk.ID, def.Name,
			"tool %s is active at %s; finish or restart it first", rec.Active.Tool, rec.Active.State)
	}
	if trigger != "" {
		return nil, failure.New(failure.KindInvalidTrigger, tk.ID, def.Name,
			"cannot fire %s: the tool is not active for this task", trigger)
	}
	if err := checkEntry(tk, def, rec); err != nil {
		return nil, err
	}
	inst, err := tool.New(tk.ID, def)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, err, tk.ID, def.Name, "could not build the tool state machine")
	}
	return inst, nil
}

func checkEntry(tk task.Task, def tool.Definition, rec taskstate.Record) error {
	if len(def.EntryStatuses) > 0 && !containsStatus(def.EntryStatuses, tk.Status) {
		return failure.New(failure.KindEntryStatusInvalid, tk.ID, def.Name,
			"task status is %s; the tool accepts %s", displayStatus(tk.Status), joinStatuses(def.EntryStatuses))
	}
	if def.RequiredStatus != "" && tk.Status != def.RequiredStatus {
		return failure.New(failure.KindEntryStatusInvalid, tk.ID, def.Name,
			"task status is %s; the tool requires %s", displayStatus(tk.Status), def.RequiredStatus)
	}
	if def.Validator != nil {
		if msg := strings.TrimSpace(def.Validator(tk)); msg != "" {
			return failure.New(failure.KindCustomValidationFailed, tk.ID, def.Name, "%s", msg)
		}
	}
	if def.DependsOn != "" && !rec.HasOutput(def.DependsOn) {
		return failure.New(failure.KindMissingDependency, tk.ID, def.Name,
			"requires completed output from %s", def.DependsOn)
	}
	return nil
}

func (h *Handler) dispatch(tk task.Task, def tool.Definition, rec taskstate.Record, inst *tool.Instance) error {
	if def.ContextLoader != nil {
		loaded, err := def.ContextLoader(tk, rec)
		if err != nil {
			if errors.Is(err, tool.ErrMissingPrerequisite) {
				return failure.Wrap(failure.KindMissingPrerequisite, err, tk.ID, def.Name,
					"%s", strings.TrimPrefix(err.Error(), "tool: "))
			}
			return failure.Wrap(failure.KindInternal, err, tk.ID, def.Name, "context loader failed")
		}
		inst.Context.Merge(loaded)
	}
	if err := inst.Fire(workflow.TriggerDispatch); err != nil {
		return failure.Wrap(failure.KindInternal, err, tk.ID, def.Name, "dispatch transition is missing")
	}
	return nil
}

// unsynced reports a tool whose completion was committed to the record while
// the task source never took its exit status.
func unsynced(tk task.Task, def tool.Definition, rec taskstate.Record) bool {
	return rec.Active == nil &&
		def.ExitStatus != "" &&
		rec.HasOutput(def.Name) &&
		rec.Status == def.ExitStatus &&
		tk.Status != def.ExitStatus
}

// resync pushes the committed exit status to the task source again and
// reports the tool as complete without re-entering it.
func (h *Handler) resync(ctx context.Context, tk task.Task, def tool.Definition) (Result, error) {
	if err := h.tasks.UpdateStatus(ctx, tk.ID, def.ExitStatus); err != nil {
		h.logger.Printf("engine: task %s: status %s for %s still not stored: %v", tk.ID, def.ExitStatus, def.Name, err)
		return Result{}, failure.Wrap(failure.KindWriteFailure, err, tk.ID, def.Name,
			"tool completed but the task source rejected status %s", def.ExitStatus)
	}
	h.journal(tk.ID).Warn("task status resynced to %s after %s", displayStatus(def.ExitStatus), def.Name)
	return Result{
		TaskID:     tk.ID,
		Tool:       def.Name,
		State:      def.TerminalState,
		Complete:   true,
		ExitStatus: def.ExitStatus,
		Message:    fmt.Sprintf("%s complete; task moved to %s", def.Name, def.ExitStatus),
	}, nil
}

func (h *Handler) complete(ctx context.Context, c Completion) error {
	h.metrics.ObserveCompletion(c.Tool, string(c.ExitStatus))
	h.journal(c.Task.ID).Info("tool %s complete; status %s", c.Tool, displayStatus(c.ExitStatus))
	if c.ExitStatus != "" {
		if err := h.tasks.UpdateStatus(ctx, c.Task.ID, c.ExitStatus); err != nil {
			h.logger.Printf("engine: task %s: %s completed but status %s was not stored: %v", c.Task.ID, c.Tool, c.ExitStatus, err)
			return failure.Wrap(failure.KindWriteFailure, err, c.Task.ID, c.Tool,
				"tool completed but the task source rejected status %s", c.ExitStatus)
		}
	}
	for _, obs := range h.observers {
		if err := obs.ToolCompleted(ctx, c); err != nil {
			h.logger.Printf("engine: task %s: completion observer for %s: %v", c.Task.ID, c.Tool, err)
			h.journal(c.Task.ID).Warn("completion hook for %s failed: %v", c.Tool, err)
		}
	}
	return nil
}

func (h *Handler) loadTask(ctx context.Context, taskID string) (task.Task, error) {
	if err := task.ValidateID(taskID); err != nil {
		return task.Task{}, failure.Wrap(failure.KindTaskNotFound, err, "", "", "invalid task id %q", taskID)
	}
	tk, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return task.Task{}, failure.Wrap(failure.KindTaskNotFound, err, taskID, "", "task does not exist")
		}
		return task.Task{}, failure.Wrap(failure.KindInternal, err, taskID, "", "could not load task")
	}
	return tk, nil
}

func (h *Handler) finish(op, taskID, toolName string, res Result, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(failure.KindOf(err))
	}
	h.metrics.ObserveCall(toolName, outcome, elapsed)
	if err != nil && failure.KindOf(err) == failure.KindInternal {
		h.logger.Printf("engine: %s %s for task %s: %v (cause: %v)", op, toolName, taskID, err, errors.Unwrap(err))
	}
	if failure.KindOf(err) == failure.KindTaskNotFound {
		return
	}
	book := h.journal(taskID)
	if err != nil {
		book.Warn("%s %s rejected: %v", op, toolName, err)
		return
	}
	book.Info("%s %s -> %s", op, toolName, res.State)
}

func (h *Handler) journal(taskID string) *logbook.Logbook {
	if h.journals == nil || task.ValidateID(taskID) != nil {
		return nil
	}
	return h.journals(taskID)
}

func splitInputs(inputs map[string]any) (string, map[string]any, error) {
	payload := make(map[string]any, len(inputs))
	var trigger string
	for k, v := range inputs {
		if k != InputTrigger {
			payload[k] = v
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", nil, fmt.Errorf("input %q must be a string, got %T", InputTrigger, v)
		}
		trigger = strings.TrimSpace(s)
	}
	return trigger, payload, nil
}

func containsStatus(values []task.Status, s task.Status) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func joinStatuses(values []task.Status) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func displayStatus(s task.Status) string {
	if s == "" {
		return "(none)"
	}
	return string(s)
}
