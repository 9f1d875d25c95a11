package tool

import "github.com/kingrea/taskgate/internal/taskstate"

// Well-known context keys.
const (
	// KeyLastTrigger records the most recent trigger fired on the instance.
	KeyLastTrigger = "last_trigger"
	// KeyRevisions counts request_revision transitions.
	KeyRevisions = "revisions"
)

// Context is the per-instance key/value store. Values are either plain data
// or structured payloads; the latter are flattened to plain data when the
// instance is persisted.
type Context map[string]any

// Clone returns a deep copy of plain nested maps and slices.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge copies every entry of other into c, overwriting existing keys.
func (c Context) Merge(other map[string]any) {
	for k, v := range other {
		c[k] = cloneValue(v)
	}
}

// Flatten returns the persisted (plain JSON data) form of the context.
func (c Context) Flatten() (Context, error) {
	out, err := taskstate.Flatten(c)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return Context{}, nil
	}
	return Context(out), nil
}

// Output returns the flattened context without the instance bookkeeping
// keys. It is what a completed tool hands to its dependents.
func (c Context) Output() (Context, error) {
	out, err := c.Flatten()
	if err != nil {
		return nil, err
	}
	delete(out, KeyLastTrigger)
	delete(out, KeyRevisions)
	return out, nil
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case Context:
		return map[string]any(typed.Clone())
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
