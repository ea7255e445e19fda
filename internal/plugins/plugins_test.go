package plugins

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caevv/skillq/internal/config"
	"github.com/caevv/skillq/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeHook writes an executable shell script into dir.
func writeHook(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func finishedRun(status run.Status, errMsg string) *run.Run {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := run.New(run.SessionConfig{
		RepoPath:     "/",
		Skill:        run.Skill{Name: "lint"},
		Agent:        run.Agent{Name: "claude"},
		Branch:       "skillq/lint-1234",
		WorktreePath: "/tmp/wt",
	}, now)
	started := now.Add(time.Second)
	finished := now.Add(time.Minute)
	r.Status = status
	r.Error = errMsg
	r.StartedAt = &started
	r.FinishedAt = &finished
	if status == run.StatusDone {
		r.PRURL = "https://github.com/o/r/pull/7"
	}
	return r
}

func TestDiscoverExecutables(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	writeHook(t, first, "notify", "exit 0\n")
	writeHook(t, second, "notify", "exit 1\n")
	writeHook(t, second, "page", "exit 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(first, "README"), []byte("docs"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(first, "subdir"), 0o755))

	found, err := DiscoverExecutables([]string{first, filepath.Join(first, "missing"), second})
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal(t, filepath.Join(first, "notify"), found["notify"], "earlier path should win")
	assert.NotContains(t, found, "README", "non-executable file discovered")

	_, err = FindExecutable(found, "page")
	assert.NoError(t, err)
	_, err = FindExecutable(found, "ghost")
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	t.Setenv("SKILLQ_TEST_DIR", "/opt/hooks")

	assert.Equal(t, "/opt/hooks/x", expandPath("$SKILLQ_TEST_DIR/x"))
	assert.True(t, filepath.IsAbs(expandPath("rel")))
}

func TestDefaultHookPaths(t *testing.T) {
	t.Setenv("SKILLQ_HOME", "/home/skillq")

	paths := defaultHookPaths()
	require.Len(t, paths, 3)
	assert.Equal(t, "/home/skillq/hooks", paths[1])
}

func TestExecutor_Execute(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	writeHook(t, dir, "env", `echo "RUN_ID=$RUN_ID"
echo "SKILL=$SKILL"
echo "STATUS=$STATUS"
echo "PR_URL=$PR_URL"
echo "BRANCH=$BRANCH"
echo "WORKTREE_PATH=$WORKTREE_PATH"
echo "HOOK=$HOOK"
echo "CONFIG_JSON=$CONFIG_JSON"
`)
	writeHook(t, dir, "json", `echo "preamble"
echo '{"notified":true}'
`)
	writeHook(t, dir, "fail", "echo boom >&2\nexit 3\n")
	writeHook(t, dir, "slow", "exec sleep 5\n")

	executor := New(quietLogger())
	require.NoError(t, executor.Discover([]string{dir}))

	t.Run("environment", func(t *testing.T) {
		params := ParamsFor(finishedRun(run.StatusDone, ""))
		params.Hook = "post_run"
		params.ConfigJSON = `{"a":1}`

		result, err := executor.Execute(context.Background(), "env", params)
		require.NoError(t, err)
		for _, want := range []string{
			"RUN_ID=" + params.RunID,
			"SKILL=lint",
			"STATUS=done",
			"PR_URL=https://github.com/o/r/pull/7",
			"BRANCH=skillq/lint-1234",
			"WORKTREE_PATH=/tmp/wt",
			"HOOK=post_run",
			`CONFIG_JSON={"a":1}`,
		} {
			assert.Contains(t, result.Stdout, want)
		}
	})

	t.Run("json output", func(t *testing.T) {
		result, err := executor.Execute(context.Background(), "json", Params{})
		require.NoError(t, err)
		assert.Equal(t, true, result.JSONOutput["notified"])
	})

	t.Run("non-zero exit", func(t *testing.T) {
		result, err := executor.Execute(context.Background(), "fail", Params{})
		require.NoError(t, err)
		assert.Equal(t, 3, result.ExitCode)
		assert.Contains(t, result.Stderr, "boom")
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		_, err := executor.Execute(context.Background(), "slow", Params{TimeoutSec: 1})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 4*time.Second, "hook was not killed at the timeout")
	})

	t.Run("unknown executable", func(t *testing.T) {
		_, err := executor.Execute(context.Background(), "ghost", Params{})
		assert.Error(t, err)
	})
}

func TestExecutor_Validate(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "notify", "exit 0\n")

	executor := New(quietLogger())
	require.NoError(t, executor.Discover([]string{dir}))

	tests := []struct {
		name    string
		exe     string
		allowed []string
		wantErr bool
	}{
		{name: "no allow list", exe: "notify"},
		{name: "allowed", exe: "notify", allowed: []string{"notify"}},
		{name: "not allowed", exe: "notify", allowed: []string{"page"}, wantErr: true},
		{name: "missing", exe: "ghost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.Validate(tt.exe, tt.allowed)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	hooks := config.Hooks{PostRun: []config.HookAgent{{Agent: "notify"}}, OnError: []config.HookAgent{{Agent: "ghost"}}}
	assert.Error(t, ValidateHooks(executor, hooks, nil), "missing on_error executable")
}

func TestParseJSONOutput(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   bool
	}{
		{name: "empty", stdout: "", want: false},
		{name: "whole output", stdout: `{"ok":true}`, want: true},
		{name: "embedded line", stdout: "log line\n{\"ok\":true}\n", want: true},
		{name: "plain text", stdout: "nothing here\n", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseJSONOutput(tt.stdout)
			if tt.want {
				assert.NotNil(t, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestHookTypesFor(t *testing.T) {
	tests := []struct {
		status run.Status
		want   []HookType
	}{
		{run.StatusDone, []HookType{PostRun, OnSuccess}},
		{run.StatusError, []HookType{PostRun, OnError}},
		{run.StatusCancelled, []HookType{PostRun}},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, HookTypesFor(tt.status))
		})
	}
}

func TestRunner_OnRunComplete(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	logFile := filepath.Join(t.TempDir(), "calls.log")

	record := `echo "$HOOK $STATUS $(basename "$0")" >> "` + logFile + `"` + "\n"
	writeHook(t, dir, "always", record)
	writeHook(t, dir, "success", record)
	writeHook(t, dir, "failure", record+"exit 1\n")

	executor := New(quietLogger())
	require.NoError(t, executor.Discover([]string{dir}))

	hooks := config.Hooks{
		TimeoutSec: 5,
		PostRun:    []config.HookAgent{{Agent: "always"}},
		OnSuccess:  []config.HookAgent{{Agent: "success"}},
		OnError:    []config.HookAgent{{Agent: "failure"}, {Agent: "ghost"}, {Agent: "always"}},
	}
	runner := NewRunner(context.Background(), executor, hooks, quietLogger())

	runner.OnRunComplete(finishedRun(run.StatusDone, ""))
	runner.OnRunComplete(finishedRun(run.StatusError, "boom"))
	runner.OnRunComplete(finishedRun(run.StatusCancelled, "Cancelled"))
	runner.OnRunComplete(run.New(run.SessionConfig{}, time.Now()))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	got := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"post_run done always",
		"on_success done success",
		"post_run error always",
		"on_error error failure",
		"on_error error always",
		"post_run cancelled always",
	}
	assert.Equal(t, want, got)
}
