// Package run defines the records the run queue schedules and mutates.
package run

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// CanTransition reports whether a run may move from s to next.
// Runs only move forward: pending -> running -> {done|error|cancelled},
// with pending also allowed to go straight to a terminal status.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next.Terminal()
	case StatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Skill is a named, parameterizable task for an agent. A skill with a
// Pipeline runs each sub-skill in order as its own step.
type Skill struct {
	Name       string  `json:"name"`
	Prompt     string  `json:"prompt"`
	NoWorktree bool    `json:"no_worktree,omitempty"`
	Pipeline   []Skill `json:"pipeline,omitempty"`
}

// Steps returns the sub-skills to execute. A skill without a pipeline is
// its own single step.
func (s Skill) Steps() []Skill {
	if len(s.Pipeline) == 0 {
		return []Skill{s}
	}
	return s.Pipeline
}

// ArgumentPlaceholder in a prompt is replaced by the run's argument.
const ArgumentPlaceholder = "$ARGUMENTS"

// RenderPrompt returns the prompt with arg substituted for the placeholder,
// or appended when the prompt has none.
func (s Skill) RenderPrompt(arg string) string {
	if strings.Contains(s.Prompt, ArgumentPlaceholder) {
		return strings.ReplaceAll(s.Prompt, ArgumentPlaceholder, arg)
	}
	if arg == "" {
		return s.Prompt
	}
	return s.Prompt + "\n\n" + arg
}

// Agent describes the agent CLI that executes a turn.
type Agent struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Image   string   `json:"image,omitempty"`
}

// SessionConfig describes what a run executes. The engine treats it as
// read-only apart from WorktreePath, which is filled in once the worktree
// has been created.
type SessionConfig struct {
	RepoPath       string `json:"repo_path"`
	RepoName       string `json:"repo_name"`
	Skill          Skill  `json:"skill"`
	Agent          Agent  `json:"agent"`
	Model          string `json:"model,omitempty"`
	UseDocker      bool   `json:"use_docker,omitempty"`
	DockerfilePath string `json:"dockerfile_path,omitempty"`
	WorktreeName   string `json:"worktree_name,omitempty"`
	Branch         string `json:"branch,omitempty"`
	NewBranch      bool   `json:"new_branch,omitempty"`
	ForceWorktree  bool   `json:"force_worktree,omitempty"`
	Argument       string `json:"argument,omitempty"`
	NoWorktree     bool   `json:"no_worktree,omitempty"`
	WorktreePath   string `json:"worktree_path,omitempty"`
}

// SkipsWorktree reports whether the run executes directly in RepoPath.
func (c SessionConfig) SkipsWorktree() bool {
	return c.NoWorktree || c.Skill.NoWorktree
}

// Run is one requested execution of a skill.
type Run struct {
	ID         string        `json:"id"`
	Config     SessionConfig `json:"config"`
	Status     Status        `json:"status"`
	State      State         `json:"state"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	PRURL      string        `json:"pr_url,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// New creates a pending run for cfg with a fresh ID.
func New(cfg SessionConfig, now time.Time) *Run {
	return &Run{
		ID:         NewID(),
		Config:     cfg,
		Status:     StatusPending,
		State:      State{Phase: PhaseCreatingWorktree},
		EnqueuedAt: now,
	}
}

// NewID generates a unique run identifier.
func NewID() string {
	return uuid.New().String()
}

// Duration returns how long the run has been executing, or executed.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.FinishedAt == nil {
		return time.Since(*r.StartedAt)
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Config.Skill = r.Config.Skill.clone()
	c.Config.Agent.Args = cloneStrings(r.Config.Agent.Args)
	c.State = r.State.Clone()
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (s Skill) clone() Skill {
	c := s
	if s.Pipeline != nil {
		c.Pipeline = make([]Skill, len(s.Pipeline))
		for i, p := range s.Pipeline {
			c.Pipeline[i] = p.clone()
		}
	}
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
