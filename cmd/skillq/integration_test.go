package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caevv/skillq/internal/config"
	"github.com/caevv/skillq/internal/launch"
	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/skill"
	"github.com/caevv/skillq/internal/store"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

// testConfig builds a config whose agent is a shell script that prints the
// prompt it receives.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()

	skills := filepath.Join(dir, "skills")
	require.NoError(t, os.MkdirAll(skills, 0o755))
	greet := "name: greet\nprompt: say hello to $ARGUMENTS\nno_worktree: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(skills, "greet.yaml"), []byte(greet), 0o644))

	agentPath := filepath.Join(dir, "bin", "fake-agent")
	writeScript(t, agentPath, "echo \"agent got: $(cat)\"\necho done\n")

	hookLog := filepath.Join(dir, "hooks.log")
	writeScript(t, filepath.Join(dir, "hooks", "record"), "echo \"$HOOK $STATUS $SKILL\" >> "+hookLog+"\n")

	return &config.Config{
		Repo:    config.Repo{Path: dir, Name: "test"},
		Queue:   config.Queue{Concurrency: 1, FlushDelayMS: 5, PersistDelayMS: 5},
		Store:   config.Store{Driver: "json", Path: filepath.Join(dir, "runs.json")},
		Logging: config.Logging{Format: "json", Level: "error", Output: "discard"},
		Skills:  config.Skills{Dirs: []string{skills}},
		Agents:  []config.Agent{{Name: "fake", Command: agentPath, Default: true}},
		Hooks: config.Hooks{
			Paths:      []string{filepath.Join(dir, "hooks")},
			TimeoutSec: 5,
			PostRun:    []config.HookAgent{{Agent: "record"}},
			OnSuccess:  []config.HookAgent{{Agent: "record"}},
		},
	}
}

func TestIntegration_RunStreamsAndPersists(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var out bytes.Buffer
	s := newStreamer(&out)
	a, err := newApp(ctx, cfg, s.observe)
	require.NoError(t, err)
	require.NotNil(t, a.probes)

	id, err := a.launcher.Launch(launch.Request{Skill: "greet", Argument: "the world"})
	require.NoError(t, err)
	s.follow(id)
	s.observe(a.queue.Snapshot())

	select {
	case <-s.done:
	case <-ctx.Done():
		t.Fatal("run did not finish")
	}

	hookLog := filepath.Join(cfg.Repo.Path, "hooks.log")
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(hookLog)
		return strings.Count(string(data), "\n") >= 2
	}, 5*time.Second, 20*time.Millisecond, "hooks did not run")

	require.NoError(t, a.shutdown())

	got := out.String()
	assert.Contains(t, got, "agent got: say hello to the world")
	assert.Contains(t, got, "==> starting-agent")
	assert.Equal(t, 1, strings.Count(got, "agent got:"), "agent line printed more than once:\n%s", got)

	data, err := os.ReadFile(hookLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "post_run done greet", lines[0])
	assert.Equal(t, "on_success done greet", lines[1])

	st, err := store.NewStore(cfg.Store.Driver, cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Load()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, run.StatusDone, runs[0].Status)
}

func TestIntegration_UnknownSkill(t *testing.T) {
	cfg := testConfig(t)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.shutdown()

	_, err = a.launcher.Launch(launch.Request{Skill: "missing"})
	require.Error(t, err)
	assert.Empty(t, a.queue.Snapshot().Runs)
}

func TestIntegration_InvalidHook(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hooks.OnError = []config.HookAgent{{Agent: "not-installed"}}

	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err, "missing hook executable")
}

func TestRequestFromFlags(t *testing.T) {
	cfg := testConfig(t)
	catalog, err := skill.LoadDirs(cfg.Skills.Dirs...)
	require.NoError(t, err)
	launcher := launch.New(cfg, catalog, nil)

	tests := []struct {
		name       string
		args       []string
		cfgDocker  bool
		wantDocker bool
	}{
		{name: "docker flag enables", args: []string{"--docker"}, wantDocker: true},
		{name: "docker flag overrides config", args: []string{"--docker=false"}, cfgDocker: true, wantDocker: false},
		{name: "config default applies", cfgDocker: true, wantDocker: true},
		{name: "off by default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			addRunFlags(flags)
			require.NoError(t, flags.Parse(append(tt.args, "--model", "opus", "--branch", "fix/1", "--new-branch")))

			req := requestFromFlags(flags, []string{"greet", "the", "world"})
			assert.Equal(t, "greet", req.Skill)
			assert.Equal(t, "the world", req.Argument)
			assert.Equal(t, "opus", req.Model)

			cfg.Docker.Enabled = tt.cfgDocker
			sc, err := launcher.SessionConfig(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDocker, sc.UseDocker)
			assert.Equal(t, "fix/1", sc.Branch)
			assert.True(t, sc.NewBranch)
		})
	}
}

func TestStreamer_Steps(t *testing.T) {
	var out bytes.Buffer
	s := newStreamer(&out)
	s.follow("r1")

	r := &run.Run{ID: "r1", Status: run.StatusRunning, State: run.State{
		Phase: run.PhaseRunning,
		Steps: []run.Step{
			{Skill: "plan", Status: run.StepRunning, Output: []string{"a"}},
			{Skill: "build", Status: run.StepPending},
		},
	}}
	s.observe(&run.Snapshot{Runs: []*run.Run{r}})

	r.State.Steps[0].Output = []string{"a", "b"}
	r.State.Steps[0].Status = run.StepDone
	r.State.Steps[1] = run.Step{Skill: "build", Status: run.StepRunning, Output: []string{"c"}, PartialLine: "tail"}
	r.State.CurrentStepIndex = 1
	s.observe(&run.Snapshot{Runs: []*run.Run{r}})

	r.Status = run.StatusError
	r.Error = "agent fake exited with code 2"
	s.observe(&run.Snapshot{Runs: []*run.Run{r}})
	s.observe(&run.Snapshot{Runs: []*run.Run{r}})

	want := strings.Join([]string{
		"==> running",
		"--- step 1/2: plan",
		"a",
		"b",
		"--- step 2/2: build",
		"c",
		"tail",
		"==> error: agent fake exited with code 2",
		"",
	}, "\n")
	assert.Equal(t, want, out.String())

	select {
	case <-s.done:
	default:
		t.Error("done not closed after terminal status")
	}
}

func TestStreamer_IgnoresOtherRuns(t *testing.T) {
	var out bytes.Buffer
	s := newStreamer(&out)

	other := &run.Run{ID: "x", Status: run.StatusDone, State: run.State{Output: []string{"nope"}}}
	s.observe(&run.Snapshot{Runs: []*run.Run{other}})
	s.follow("r1")
	s.observe(&run.Snapshot{Runs: []*run.Run{other}})

	assert.Empty(t, out.String())
}

func TestFilterRuns(t *testing.T) {
	runs := []*run.Run{
		{ID: "1", Status: run.StatusDone},
		{ID: "2", Status: run.StatusError},
		{ID: "3", Status: run.StatusDone},
		{ID: "4", Status: run.StatusPending},
	}

	tests := []struct {
		name   string
		status run.Status
		limit  int
		want   []string
	}{
		{name: "all newest first", want: []string{"4", "3", "2", "1"}},
		{name: "by status", status: run.StatusDone, want: []string{"3", "1"}},
		{name: "limited", limit: 2, want: []string{"4", "3"}},
		{name: "no match", status: run.StatusCancelled, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range filterRuns(runs, tt.status, tt.limit) {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindRun(t *testing.T) {
	runs := []*run.Run{{ID: "abc123"}, {ID: "abd456"}, {ID: "ab"}}

	r, err := findRun(runs, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", r.ID)

	r, err = findRun(runs, "ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", r.ID, "exact id should win")

	_, err = findRun(runs, "abd4")
	assert.NoError(t, err)

	_, err = findRun(runs[:2], "ab")
	assert.Error(t, err, "ambiguous prefix")

	_, err = findRun(runs, "zzz")
	assert.Error(t, err, "unknown id")
}

func TestRenderRunList(t *testing.T) {
	var out bytes.Buffer
	renderRunList(&out, nil)
	assert.Equal(t, "No runs\n", out.String())

	out.Reset()
	renderRunList(&out, []*run.Run{{
		ID:     "0123456789",
		Status: run.StatusDone,
		Config: run.SessionConfig{Skill: run.Skill{Name: "lint"}, Agent: run.Agent{Name: "claude"}},
		PRURL:  "https://github.com/o/r/pull/1",
	}})
	for _, want := range []string{"01234567", "lint", "claude", "done", "pull/1", "(1 runs)"} {
		assert.Contains(t, out.String(), want)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 130, exitCode(&runFailedError{status: run.StatusCancelled}))
	assert.Equal(t, 1, exitCode(&runFailedError{status: run.StatusError, msg: "boom"}))
	assert.Equal(t, "run error: boom", (&runFailedError{status: run.StatusError, msg: "boom"}).Error())
}
