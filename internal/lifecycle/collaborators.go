package lifecycle

import (
	"context"

	"github.com/caevv/skillq/internal/agent"
	"github.com/caevv/skillq/internal/container"
	"github.com/caevv/skillq/internal/run"
)

// VCS creates isolated worktrees and lands their changes.
type VCS interface {
	CreateWorktree(ctx context.Context, repoPath, name, branch string, isNew, force bool) (string, error)
	RemoveWorktree(ctx context.Context, repoPath, path string) error
	StageAll(ctx context.Context, path string) error
	Commit(ctx context.Context, path, message string) error
	Push(ctx context.Context, path, branch string) error
}

// ImageBuilder ensures a container image exists.
type ImageBuilder interface {
	EnsureImage(ctx context.Context, tag, dockerfile, contextPath string, progress func(string)) (container.BuildResult, error)
}

// PRHost opens pull requests. Available and IsHosted are expected to be
// memoized by the implementation.
type PRHost interface {
	Available(ctx context.Context) bool
	IsHosted(ctx context.Context, path string) bool
	CreatePR(ctx context.Context, path, branch, title, body string) (string, error)
}

// AgentRunner runs one agent turn and honors ctx cancellation by
// terminating the agent.
type AgentRunner interface {
	RunTurn(ctx context.Context, cfg agent.TurnConfig, onEvent func(agent.Event)) error
}

// Collaborators are the external services a run is driven through. PRs may
// be nil, in which case no pull requests are opened. Images may be nil when
// containers are never requested.
type Collaborators struct {
	VCS    VCS
	Images ImageBuilder
	PRs    PRHost
	Agents AgentRunner
}

// Sink applies a run's state changes. It is bound to a single run.
type Sink interface {
	UpdateRun(p run.RunPatch)
	UpdateState(p run.StatePatch)
	UpdateStep(index int, p run.StepPatch)
	// Finish records a terminal status. It must not overwrite a status that
	// is already terminal.
	Finish(status run.Status, errMsg, prURL string)
}

// Output receives streamed text for the run (step -1) or a pipeline step.
type Output interface {
	Write(step int, text string)
	WriteLine(step int, text string)
	Flush()
}

// Job is one admitted run and the channels its progress is reported through.
type Job struct {
	Run    *run.Run
	Sink   Sink
	Output Output
}
