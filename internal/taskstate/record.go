package taskstate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kingrea/taskgate/internal/task"
)

// Record is the single persisted unit of truth for a task.
type Record struct {
	TaskID           string                    `json:"task_id"`
	Status           task.Status               `json:"status,omitempty"`
	Active           *ActiveTool               `json:"active_tool,omitempty"`
	CompletedOutputs map[string]map[string]any `json:"completed_outputs"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// ActiveTool is the persisted form of the one in-flight tool instance.
type ActiveTool struct {
	Tool    string         `json:"tool"`
	State   string         `json:"state"`
	Context map[string]any `json:"context,omitempty"`
}

// ToolInstance is the view of a live tool instance the manager persists.
type ToolInstance interface {
	ToolName() string
	CurrentState() string
	ContextValues() map[string]any
}

// HasOutput reports whether tool completed for this task.
func (r Record) HasOutput(tool string) bool {
	_, ok := r.CompletedOutputs[tool]
	return ok
}

// Output returns the completed output of tool.
func (r Record) Output(tool string) (map[string]any, bool) {
	out, ok := r.CompletedOutputs[tool]
	return out, ok
}

// ActiveFor returns the active instance when it belongs to tool.
func (r Record) ActiveFor(tool string) (*ActiveTool, bool) {
	if r.Active == nil || r.Active.Tool != tool {
		return nil, false
	}
	return r.Active, true
}

// SetActive replaces the active instance with a flattened snapshot of inst.
func (r *Record) SetActive(inst ToolInstance) error {
	if inst == nil {
		r.Active = nil
		return nil
	}
	values, err := Flatten(inst.ContextValues())
	if err != nil {
		return fmt.Errorf("taskstate: flatten %s context: %w", inst.ToolName(), err)
	}
	r.Active = &ActiveTool{
		Tool:    inst.ToolName(),
		State:   inst.CurrentState(),
		Context: values,
	}
	return nil
}

// AddOutput records payload as tool's completed output.
func (r *Record) AddOutput(tool string, payload map[string]any) error {
	values, err := Flatten(payload)
	if err != nil {
		return fmt.Errorf("taskstate: flatten %s output: %w", tool, err)
	}
	if r.CompletedOutputs == nil {
		r.CompletedOutputs = map[string]map[string]any{}
	}
	if values == nil {
		values = map[string]any{}
	}
	r.CompletedOutputs[tool] = values
	return nil
}

// Flatten converts structured payloads (structs, typed slices, json.Marshaler
// values) into plain JSON data so what is persisted equals what is reloaded.
func Flatten(values map[string]any) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func newRecord(taskID string, now time.Time) Record {
	return Record{
		TaskID:           taskID,
		CompletedOutputs: map[string]map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func decodeRecord(taskID string, data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	if rec.TaskID == "" {
		rec.TaskID = taskID
	}
	if rec.CompletedOutputs == nil {
		rec.CompletedOutputs = map[string]map[string]any{}
	}
	return rec, nil
}

func encodeRecord(rec Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
