package workflow

import "strings"

// Fixed trigger names shared by every review-wrapped work state.
const (
	TriggerAIApprove       = "ai_approve"
	TriggerHumanApprove    = "human_approve"
	TriggerRequestRevision = "request_revision"
	TriggerDispatch        = "dispatch"

	submitPrefix      = "submit_"
	aiReviewSuffix    = "_awaiting_ai_review"
	humanReviewSuffix = "_awaiting_human_review"
)

// Transition is one edge of a compiled state graph.
type Transition struct {
	Trigger string `json:"trigger"`
	Source  string `json:"source"`
	Dest    string `json:"dest"`
}

// Graph is the compiled finite-state-machine for one tool. It is rebuilt from
// the tool definition whenever an instance is constructed and never persisted.
type Graph struct {
	States      []string
	Transitions []Transition
	Initial     string
	Terminal    string
}

// SubmitTrigger names the trigger that hands work state s to AI review.
func SubmitTrigger(s string) string {
	return submitPrefix + s
}

// AIReviewState names the AI review sub-state generated for s.
func AIReviewState(s string) string {
	return s + aiReviewSuffix
}

// HumanReviewState names the human review sub-state generated for s.
func HumanReviewState(s string) string {
	return s + humanReviewSuffix
}

// ReviewStage reports which review sub-state (if any) state is, and the work
// state it wraps.
func ReviewStage(state string) (work string, stage Stage) {
	switch {
	case strings.HasSuffix(state, aiReviewSuffix):
		return strings.TrimSuffix(state, aiReviewSuffix), StageAIReview
	case strings.HasSuffix(state, humanReviewSuffix):
		return strings.TrimSuffix(state, humanReviewSuffix), StageHumanReview
	default:
		return state, StageWork
	}
}

// Stage classifies a state within the review cycle of its work state.
type Stage string

const (
	StageWork        Stage = "work"
	StageAIReview    Stage = "ai_review"
	StageHumanReview Stage = "human_review"
)

// BuildReviewedWorkflow compiles the multi-step shape: every work state is
// wrapped in an AI + human review pair, state i approves into state i+1 and
// the last one approves into terminal.
func BuildReviewedWorkflow(workStates []string, terminal, initial string) Graph {
	g := Graph{Initial: initial, Terminal: terminal}
	for i, s := range workStates {
		next := terminal
		if i+1 < len(workStates) {
			next = workStates[i+1]
		}
		states, transitions := wrapWithReview(s, next)
		g.States = append(g.States, states...)
		g.Transitions = append(g.Transitions, transitions...)
	}
	g.States = append(g.States, terminal)
	return g
}

// BuildDispatchWorkflow compiles the simple shape: a dispatch state that moves
// into a single reviewed work state, which approves into terminal.
func BuildDispatchWorkflow(dispatch, work, terminal string) Graph {
	g := Graph{Initial: dispatch, Terminal: terminal}
	g.States = append(g.States, dispatch)
	g.Transitions = append(g.Transitions, Transition{Trigger: TriggerDispatch, Source: dispatch, Dest: work})
	states, transitions := wrapWithReview(work, terminal)
	g.States = append(g.States, states...)
	g.Transitions = append(g.Transitions, transitions...)
	g.States = append(g.States, terminal)
	return g
}

func wrapWithReview(s, success string) ([]string, []Transition) {
	ai := AIReviewState(s)
	human := HumanReviewState(s)
	states := []string{s, ai, human}
	transitions := []Transition{
		{Trigger: SubmitTrigger(s), Source: s, Dest: ai},
		{Trigger: TriggerAIApprove, Source: ai, Dest: human},
		{Trigger: TriggerRequestRevision, Source: ai, Dest: s},
		{Trigger: TriggerHumanApprove, Source: human, Dest: success},
		{Trigger: TriggerRequestRevision, Source: human, Dest: s},
	}
	return states, transitions
}

// HasState reports whether state belongs to the graph.
func (g Graph) HasState(state string) bool {
	for _, s := range g.States {
		if s == state {
			return true
		}
	}
	return false
}

// From returns the transitions leaving state, in declaration order.
func (g Graph) From(state string) []Transition {
	var out []Transition
	for _, t := range g.Transitions {
		if t.Source == state {
			out = append(out, t)
		}
	}
	return out
}
