package run

import "time"

// Phase is a named stage of a run's pipeline.
type Phase string

const (
	PhaseCreatingWorktree Phase = "creating-worktree"
	PhaseBuildingDocker   Phase = "building-docker"
	PhaseStartingAgent    Phase = "starting-agent"
	PhaseRunning          Phase = "running"
	PhaseCommitting       Phase = "committing"
	PhasePushing          Phase = "pushing"
	PhaseCreatingPR       Phase = "creating-pr"
	PhaseRemovingWorktree Phase = "removing-worktree"
	PhaseDone             Phase = "done"
)

// ToolCallStatus is the progress of a single tool invocation.
type ToolCallStatus string

const (
	ToolCallRunning ToolCallStatus = "running"
	ToolCallDone    ToolCallStatus = "done"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCall is a tool invocation reported by the agent, unique by ID.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Status ToolCallStatus `json:"status,omitempty"`
}

// StepStatus is the progress of one pipeline step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepError   StepStatus = "error"
)

// Step tracks one sub-skill of a pipeline run.
type Step struct {
	Skill       string     `json:"skill"`
	Status      StepStatus `json:"status"`
	Output      []string   `json:"output,omitempty"`
	PartialLine string     `json:"partial_line,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
}

// State is the live execution state of a run. When Steps is set, output
// and tool calls are recorded on the active step instead of the run.
type State struct {
	Phase            Phase      `json:"phase"`
	Output           []string   `json:"output,omitempty"`
	PartialLine      string     `json:"partial_line,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	Error            string     `json:"error,omitempty"`
	Steps            []Step     `json:"steps,omitempty"`
	CurrentStepIndex int        `json:"current_step_index,omitempty"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	c.Output = cloneStrings(s.Output)
	c.ToolCalls = cloneToolCalls(s.ToolCalls)
	if s.Steps != nil {
		c.Steps = make([]Step, len(s.Steps))
		for i, st := range s.Steps {
			c.Steps[i] = st.Clone()
		}
	}
	return c
}

// Clone returns a deep copy of s.
func (s Step) Clone() Step {
	c := s
	c.Output = cloneStrings(s.Output)
	c.ToolCalls = cloneToolCalls(s.ToolCalls)
	return c
}

func cloneToolCalls(in []ToolCall) []ToolCall {
	if in == nil {
		return nil
	}
	out := make([]ToolCall, len(in))
	copy(out, in)
	return out
}

// RunPatch is a shallow update of top-level run fields. Nil fields are left
// untouched.
type RunPatch struct {
	Status       *Status
	Error        *string
	PRURL        *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	WorktreePath *string
}

// StatePatch updates a run's State. Output is appended, ToolCalls are
// upserted by ID and PartialLine replaces the previous value only when set.
// A non-nil Steps replaces the step list.
type StatePatch struct {
	Phase            *Phase
	Output           []string
	PartialLine      *string
	ToolCalls        []ToolCall
	Error            *string
	Steps            []Step
	CurrentStepIndex *int
}

// StepPatch updates one step with the same merge rules as StatePatch.
type StepPatch struct {
	Status      *StepStatus
	Output      []string
	PartialLine *string
	ToolCalls   []ToolCall
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
