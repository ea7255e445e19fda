package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/caevv/skillq/internal/agent"
	"github.com/caevv/skillq/internal/container"
	"github.com/caevv/skillq/internal/output"
	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/runstate"
	"github.com/caevv/skillq/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeSink applies driver updates to a runstate.Store the same way the
// queue does, and records every phase it sees.
type storeSink struct {
	store *runstate.Store
	id    string

	mu     sync.Mutex
	phases []run.Phase
}

func (s *storeSink) UpdateRun(p run.RunPatch) { s.store.UpdateRun(s.id, p) }

func (s *storeSink) UpdateState(p run.StatePatch) {
	if p.Phase != nil {
		s.mu.Lock()
		s.phases = append(s.phases, *p.Phase)
		s.mu.Unlock()
	}
	s.store.UpdateState(s.id, p)
}

func (s *storeSink) UpdateStep(i int, p run.StepPatch) { s.store.UpdateStep(s.id, i, p) }

func (s *storeSink) Finish(status run.Status, errMsg, prURL string) {
	s.store.Finish(s.id, status, errMsg, prURL, time.Now())
}

func (s *storeSink) AppendOutput(step int, lines []string, partial string) {
	if step == output.RunTarget {
		s.store.UpdateState(s.id, run.StatePatch{Output: lines, PartialLine: &partial})
		return
	}
	s.store.UpdateStep(s.id, step, run.StepPatch{Output: lines, PartialLine: &partial})
}

func (s *storeSink) recordedPhases() []run.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]run.Phase(nil), s.phases...)
}

type fakeVCS struct {
	mu        sync.Mutex
	calls     []string
	createErr error
	commitErr error
	pushErr   error
	removeErr error
	branch    string
}

func (f *fakeVCS) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeVCS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVCS) CreateWorktree(_ context.Context, _, name, branch string, _, _ bool) (string, error) {
	f.record("create")
	f.mu.Lock()
	f.branch = branch
	f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	return "/wt/" + name, nil
}

func (f *fakeVCS) RemoveWorktree(context.Context, string, string) error {
	f.record("remove")
	return f.removeErr
}

func (f *fakeVCS) StageAll(context.Context, string) error {
	f.record("stage")
	return nil
}

func (f *fakeVCS) Commit(context.Context, string, string) error {
	f.record("commit")
	return f.commitErr
}

func (f *fakeVCS) Push(context.Context, string, string) error {
	f.record("push")
	return f.pushErr
}

type fakePRs struct {
	available bool
	url       string
	err       error
	created   int
}

func (f *fakePRs) Available(context.Context) bool       { return f.available }
func (f *fakePRs) IsHosted(context.Context, string) bool { return true }

func (f *fakePRs) CreatePR(context.Context, string, string, string, string) (string, error) {
	f.created++
	return f.url, f.err
}

type fakeImages struct {
	tag string
	err error
}

func (f *fakeImages) EnsureImage(_ context.Context, tag, _, _ string, progress func(string)) (container.BuildResult, error) {
	f.tag = tag
	progress("Step 1/1 : FROM alpine")
	return container.BuildResult{Tag: tag, Built: true}, f.err
}

// scriptedAgent runs turn functions in order, one per RunTurn call.
type scriptedAgent struct {
	mu    sync.Mutex
	turns []func(ctx context.Context, cfg agent.TurnConfig, emit func(agent.Event)) error
	seen  []agent.TurnConfig
}

func (a *scriptedAgent) RunTurn(ctx context.Context, cfg agent.TurnConfig, emit func(agent.Event)) error {
	a.mu.Lock()
	i := len(a.seen)
	a.seen = append(a.seen, cfg)
	a.mu.Unlock()
	if i >= len(a.turns) {
		return nil
	}
	return a.turns[i](ctx, cfg, emit)
}

func (a *scriptedAgent) Seen() []agent.TurnConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agent.TurnConfig(nil), a.seen...)
}

func say(text string) func(context.Context, agent.TurnConfig, func(agent.Event)) error {
	return func(_ context.Context, _ agent.TurnConfig, emit func(agent.Event)) error {
		emit(agent.OutputEvent(text))
		return nil
	}
}

type harness struct {
	store  *runstate.Store
	sink   *storeSink
	buffer *output.Buffer
	job    Job
}

func newHarness(t *testing.T, cfg run.SessionConfig) *harness {
	t.Helper()
	store := runstate.New()
	r := run.New(cfg, time.Now())
	require.True(t, store.Insert(r))
	id, ok := store.ClaimPending(time.Now())
	require.True(t, ok)

	sink := &storeSink{store: store, id: id}
	buf := output.New(sink, time.Hour)
	t.Cleanup(buf.Close)

	claimed, _ := store.Get(id)
	return &harness{
		store:  store,
		sink:   sink,
		buffer: buf,
		job:    Job{Run: claimed, Sink: sink, Output: buf},
	}
}

func (h *harness) run(t *testing.T) *run.Run {
	t.Helper()
	r, ok := h.store.Get(h.job.Run.ID)
	require.True(t, ok)
	return r
}

func baseConfig() run.SessionConfig {
	return run.SessionConfig{
		RepoPath: "/repo",
		RepoName: "app",
		Skill:    run.Skill{Name: "lint", Prompt: "fix lint in $ARGUMENTS"},
		Agent:    run.Agent{Name: "claude"},
		Model:    "opus",
		Argument: "pkg/a",
	}
}

func TestDrive_WorktreePipeline(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{}
	prs := &fakePRs{available: true, url: "https://github.com/acme/app/pull/1"}
	agents := &scriptedAgent{turns: []func(context.Context, agent.TurnConfig, func(agent.Event)) error{
		func(_ context.Context, _ agent.TurnConfig, emit func(agent.Event)) error {
			emit(agent.OutputEvent("working\n"))
			emit(agent.ToolCallEvent("t1", "Bash", run.ToolCallRunning))
			emit(agent.ToolCallEvent("t1", "", run.ToolCallDone))
			return nil
		},
	}}

	d := New(Collaborators{VCS: git, PRs: prs, Agents: agents})
	require.NoError(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusDone, r.Status)
	assert.Equal(t, "https://github.com/acme/app/pull/1", r.PRURL)
	assert.Equal(t, run.PhaseDone, r.State.Phase)
	assert.NotNil(t, r.FinishedAt)
	assert.Contains(t, r.State.Output, "working")
	assert.Equal(t, []run.ToolCall{{ID: "t1", Name: "Bash", Status: run.ToolCallDone}}, r.State.ToolCalls)
	assert.Equal(t, "/wt/lint-"+r.ID[:8], r.Config.WorktreePath)

	assert.Equal(t, []string{"create", "stage", "commit", "push", "remove"}, git.Calls())
	assert.Equal(t, "skillq/lint-"+r.ID[:8], git.branch)
	assert.Equal(t, []run.Phase{
		run.PhaseCreatingWorktree, run.PhaseStartingAgent, run.PhaseRunning,
		run.PhaseCommitting, run.PhasePushing, run.PhaseCreatingPR,
		run.PhaseRemovingWorktree, run.PhaseDone,
	}, h.sink.recordedPhases())

	seen := agents.Seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "fix lint in pkg/a", seen[0].Prompt)
	assert.Equal(t, r.Config.WorktreePath, seen[0].WorkDir)
	assert.Equal(t, "opus", seen[0].Model)
	assert.Empty(t, seen[0].Image)
}

func TestDrive_NothingToCommit(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"sentinel", nothingErr{}},
		{"message", errors.New("On branch x\nnothing to commit, working tree clean")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, baseConfig())
			git := &fakeVCS{commitErr: tt.err}
			prs := &fakePRs{available: true, url: "u"}

			d := New(Collaborators{VCS: git, PRs: prs, Agents: &scriptedAgent{}})
			require.NoError(t, d.Drive(context.Background(), h.job))

			r := h.run(t)
			assert.Equal(t, run.StatusDone, r.Status)
			assert.Empty(t, r.Error)
			assert.Contains(t, r.State.Output, "Nothing to commit; skipping push and pull request.")
			assert.Equal(t, []string{"create", "stage", "commit", "remove"}, git.Calls())
			assert.Zero(t, prs.created)
		})
	}
}

// nothingErr matches vcs.ErrNothingToCommit without mentioning it in its
// message.
type nothingErr struct{}

func (nothingErr) Error() string        { return "exit status 1" }
func (nothingErr) Is(target error) bool { return target == vcs.ErrNothingToCommit }

func TestDrive_CommitFailureIsFatal(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{commitErr: errors.New("hook rejected commit")}

	d := New(Collaborators{VCS: git, Agents: &scriptedAgent{}})
	require.Error(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusError, r.Status)
	assert.Equal(t, "failed to commit: hook rejected commit", r.Error)
	assert.Equal(t, []string{"create", "stage", "commit", "remove"}, git.Calls())
}

func TestDrive_PushFailureIsWarning(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{pushErr: errors.New("permission denied")}
	prs := &fakePRs{available: true, url: "u"}

	d := New(Collaborators{VCS: git, PRs: prs, Agents: &scriptedAgent{}})
	require.NoError(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusDone, r.Status)
	assert.Contains(t, r.State.Output, "Warning: push failed: permission denied")
	assert.Zero(t, prs.created)
	assert.Empty(t, r.PRURL)
}

func TestDrive_PRHostUnavailable(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{}

	d := New(Collaborators{VCS: git, PRs: &fakePRs{available: false}, Agents: &scriptedAgent{}})
	require.NoError(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusDone, r.Status)
	assert.Empty(t, r.PRURL)
	require.NotEmpty(t, r.State.Output)
	assert.Contains(t, r.State.Output[len(r.State.Output)-1], "Pull request hosting unavailable")
}

func TestDrive_CreatePRFailureIsFatal(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{}
	prs := &fakePRs{available: true, err: errors.New("no commits between main and branch")}

	d := New(Collaborators{VCS: git, PRs: prs, Agents: &scriptedAgent{}})
	require.Error(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusError, r.Status)
	assert.Equal(t, "no commits between main and branch", r.Error)
	assert.Contains(t, git.Calls(), "remove")
}

func TestDrive_CreateWorktreeFailure(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{createErr: vcs.ErrBranchCheckedOut}
	agents := &scriptedAgent{}

	d := New(Collaborators{VCS: git, Agents: agents})
	err := d.Drive(context.Background(), h.job)
	require.ErrorIs(t, err, vcs.ErrBranchCheckedOut)

	r := h.run(t)
	assert.Equal(t, run.StatusError, r.Status)
	assert.Equal(t, "failed to create worktree: branch is already checked out", r.Error)
	assert.Equal(t, r.Error, r.State.Error)
	assert.Empty(t, agents.Seen())
	assert.Equal(t, []string{"create"}, git.Calls())
}

func TestDrive_AgentFailureStillRemovesWorktree(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{removeErr: errors.New("locked")}
	agents := &scriptedAgent{turns: []func(context.Context, agent.TurnConfig, func(agent.Event)) error{
		func(context.Context, agent.TurnConfig, func(agent.Event)) error {
			return &agent.RPCError{Code: -32603, Message: "model overloaded"}
		},
	}}

	d := New(Collaborators{VCS: git, Agents: agents})
	require.Error(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusError, r.Status)
	assert.Equal(t, "model overloaded", r.Error, "earlier error wins over removal failure")
	assert.Equal(t, []string{"create", "remove"}, git.Calls())
}

func TestDrive_RemovalFailureIsRunError(t *testing.T) {
	h := newHarness(t, baseConfig())
	git := &fakeVCS{removeErr: errors.New("locked")}

	d := New(Collaborators{VCS: git, PRs: &fakePRs{available: false}, Agents: &scriptedAgent{}})
	require.Error(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusError, r.Status)
	assert.Equal(t, "failed to remove worktree: locked", r.Error)
}

func TestDrive_DockerImageBuild(t *testing.T) {
	cfg := baseConfig()
	cfg.UseDocker = true
	cfg.DockerfilePath = "/repo/.skillq/Dockerfile"
	h := newHarness(t, cfg)
	images := &fakeImages{}
	agents := &scriptedAgent{}

	d := New(Collaborators{VCS: &fakeVCS{}, Images: images, Agents: agents})
	require.NoError(t, d.Drive(context.Background(), h.job))

	assert.Equal(t, "skillq/app:latest", images.tag)
	r := h.run(t)
	assert.Equal(t, "Step 1/1 : FROM alpine", r.State.Output[0])
	assert.Contains(t, h.sink.recordedPhases(), run.PhaseBuildingDocker)
	require.Len(t, agents.Seen(), 1)
	assert.Equal(t, "skillq/app:latest", agents.Seen()[0].Image)
}

func TestDrive_DockerBuildFailure(t *testing.T) {
	cfg := baseConfig()
	cfg.UseDocker = true
	cfg.DockerfilePath = "/repo/Dockerfile"
	h := newHarness(t, cfg)
	agents := &scriptedAgent{}

	d := New(Collaborators{VCS: &fakeVCS{}, Images: &fakeImages{err: errors.New("exit status 1")}, Agents: agents})
	require.Error(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusError, r.Status)
	assert.Contains(t, r.Error, "failed to build image skillq/app:latest")
	assert.Empty(t, agents.Seen())
}

func pipelineConfig(steps ...string) run.SessionConfig {
	cfg := baseConfig()
	cfg.NoWorktree = true
	cfg.Skill = run.Skill{Name: "ship"}
	for _, s := range steps {
		cfg.Skill.Pipeline = append(cfg.Skill.Pipeline, run.Skill{Name: s, Prompt: "do " + s})
	}
	return cfg
}

func TestDrive_NoWorktreePipeline(t *testing.T) {
	h := newHarness(t, pipelineConfig("lint", "test"))
	git := &fakeVCS{}
	agents := &scriptedAgent{turns: []func(context.Context, agent.TurnConfig, func(agent.Event)) error{
		func(_ context.Context, _ agent.TurnConfig, emit func(agent.Event)) error {
			emit(agent.OutputEvent("lint ok\n"))
			emit(agent.ToolCallEvent("t1", "Bash", run.ToolCallRunning))
			return nil
		},
		say("tests ok\npartial"),
	}}

	d := New(Collaborators{VCS: git, Agents: agents})
	require.NoError(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusDone, r.Status)
	assert.Empty(t, git.Calls(), "no-worktree runs never touch git")
	require.Len(t, r.State.Steps, 2)
	assert.Equal(t, run.StepDone, r.State.Steps[0].Status)
	assert.Equal(t, []string{"lint ok"}, r.State.Steps[0].Output)
	assert.Len(t, r.State.Steps[0].ToolCalls, 1)
	assert.Equal(t, run.StepDone, r.State.Steps[1].Status)
	assert.Equal(t, []string{"tests ok"}, r.State.Steps[1].Output)
	assert.Equal(t, "partial", r.State.Steps[1].PartialLine)
	assert.Equal(t, 1, r.State.CurrentStepIndex)
	assert.Empty(t, r.State.Output, "step output is not copied to the run")
	assert.Empty(t, r.State.ToolCalls)

	for _, cfg := range agents.Seen() {
		assert.Equal(t, "/repo", cfg.WorkDir)
	}
	assert.Equal(t, []run.Phase{run.PhaseStartingAgent, run.PhaseRunning, run.PhaseRunning, run.PhaseDone}, h.sink.recordedPhases())
}

func TestDrive_CancelDuringSecondStep(t *testing.T) {
	h := newHarness(t, pipelineConfig("a", "b", "c"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agents := &scriptedAgent{turns: []func(context.Context, agent.TurnConfig, func(agent.Event)) error{
		say("a done\n"),
		func(ctx context.Context, _ agent.TurnConfig, emit func(agent.Event)) error {
			emit(agent.OutputEvent("b started\n"))
			// The queue signals the context and records the cancellation.
			cancel()
			h.store.Transition(h.job.Run.ID, run.StatusCancelled, "Cancelled", time.Now())
			<-ctx.Done()
			return errors.New("agent terminated by signal")
		},
	}}

	d := New(Collaborators{VCS: &fakeVCS{}, Agents: agents})
	err := d.Drive(ctx, h.job)
	require.ErrorIs(t, err, context.Canceled)

	r := h.run(t)
	assert.Equal(t, run.StatusCancelled, r.Status)
	assert.Equal(t, "Cancelled", r.Error)
	require.Len(t, r.State.Steps, 3)
	assert.Equal(t, run.StepDone, r.State.Steps[0].Status)
	assert.Equal(t, run.StepError, r.State.Steps[1].Status)
	assert.Equal(t, run.StepPending, r.State.Steps[2].Status)
	assert.Equal(t, []string{"b started"}, r.State.Steps[1].Output)
	assert.Len(t, agents.Seen(), 2, "step c must not start")
}

func TestDrive_CancelledWorktreeRunSkipsPublish(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	git := &fakeVCS{}

	agents := &scriptedAgent{turns: []func(context.Context, agent.TurnConfig, func(agent.Event)) error{
		func(ctx context.Context, _ agent.TurnConfig, _ func(agent.Event)) error {
			cancel()
			h.store.Transition(h.job.Run.ID, run.StatusCancelled, "Cancelled", time.Now())
			return ctx.Err()
		},
	}}

	d := New(Collaborators{VCS: git, Agents: agents})
	require.ErrorIs(t, d.Drive(ctx, h.job), context.Canceled)

	r := h.run(t)
	assert.Equal(t, run.StatusCancelled, r.Status)
	assert.Equal(t, []string{"create"}, git.Calls())
}

func TestDrive_StepFailureMarksStepError(t *testing.T) {
	h := newHarness(t, pipelineConfig("a", "b"))
	agents := &scriptedAgent{turns: []func(context.Context, agent.TurnConfig, func(agent.Event)) error{
		func(context.Context, agent.TurnConfig, func(agent.Event)) error { return errors.New("boom") },
	}}

	d := New(Collaborators{VCS: &fakeVCS{}, Agents: agents})
	require.Error(t, d.Drive(context.Background(), h.job))

	r := h.run(t)
	assert.Equal(t, run.StatusError, r.Status)
	assert.Equal(t, "step a failed: boom", r.Error)
	assert.Equal(t, run.StepError, r.State.Steps[0].Status)
	assert.Equal(t, run.StepPending, r.State.Steps[1].Status)
}

func TestImageTag(t *testing.T) {
	assert.Equal(t, "custom:1", ImageTag(run.SessionConfig{Agent: run.Agent{Image: "custom:1"}}))
	assert.Equal(t, "skillq/my-app:latest", ImageTag(run.SessionConfig{RepoName: "My App"}))
	assert.Equal(t, "skillq/svc:latest", ImageTag(run.SessionConfig{RepoPath: "/src/svc"}))
}

func TestWorktreeTarget(t *testing.T) {
	r := run.New(run.SessionConfig{Skill: run.Skill{Name: "Fix Lint!"}}, time.Now())
	name, branch, isNew := worktreeTarget(r)
	assert.Equal(t, "fix-lint-"+r.ID[:8], name)
	assert.Equal(t, "skillq/"+name, branch)
	assert.True(t, isNew)

	r.Config.WorktreeName = "wt"
	r.Config.Branch = "feature/x"
	name, branch, isNew = worktreeTarget(r)
	assert.Equal(t, "wt", name)
	assert.Equal(t, "feature/x", branch)
	assert.False(t, isNew)
}
