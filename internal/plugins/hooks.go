// Package plugins runs user executables after runs finish.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/caevv/skillq/internal/config"
	"github.com/caevv/skillq/internal/logging"
	"github.com/caevv/skillq/internal/run"
)

// HookType is a point in a run's lifecycle at which hooks execute.
type HookType string

const (
	// PostRun is executed after every run, whatever its status.
	PostRun HookType = "post_run"

	// OnSuccess is executed after runs that end done.
	OnSuccess HookType = "on_success"

	// OnError is executed after runs that end in error.
	OnError HookType = "on_error"
)

// String returns the string representation of HookType
func (h HookType) String() string {
	return string(h)
}

// ExecuteHooks runs each hook in order. Every hook runs even if an earlier
// one fails; the first failure is returned.
func ExecuteHooks(ctx context.Context, executor *Executor, hooks []config.HookAgent, params Params) error {
	if len(hooks) == 0 {
		return nil
	}

	logger := executor.logger.With(
		slog.String("hook", params.Hook),
		slog.String("run_id", params.RunID))

	var firstError error
	record := func(err error) {
		if firstError == nil {
			firstError = err
		}
	}

	for i, hook := range hooks {
		configJSON, err := json.Marshal(hook.With)
		if err != nil {
			logger.Error("failed to marshal hook config",
				slog.String("executable", hook.Agent),
				slog.String("error", err.Error()))
			record(fmt.Errorf("failed to marshal config for %s: %w", hook.Agent, err))
			continue
		}

		hookParams := params
		hookParams.ConfigJSON = string(configJSON)

		result, err := executor.Execute(ctx, hook.Agent, hookParams)
		if err != nil {
			logger.Error("hook execution failed",
				slog.String("executable", hook.Agent),
				slog.Int("hook_index", i),
				slog.String("error", err.Error()))
			record(fmt.Errorf("hook %s (%s) failed: %w", params.Hook, hook.Agent, err))
			continue
		}

		if result.ExitCode != 0 {
			logger.Warn("hook returned non-zero exit code",
				slog.String("executable", hook.Agent),
				slog.Int("hook_index", i),
				slog.Int("exit_code", result.ExitCode),
				slog.String("stderr", result.Stderr))
			record(fmt.Errorf("hook %s (%s) exited with code %d", params.Hook, hook.Agent, result.ExitCode))
			continue
		}

		logger.Info("hook executed",
			slog.String("executable", hook.Agent),
			slog.Duration("duration", result.Duration))

		if result.JSONOutput != nil {
			logger.Debug("hook output",
				slog.String("executable", hook.Agent),
				slog.Any("output", result.JSONOutput))
		}
	}

	return firstError
}

// ValidateHooks checks that every configured hook executable exists and is
// allowed.
func ValidateHooks(executor *Executor, hooks config.Hooks, allowed []string) error {
	for _, hookType := range []HookType{PostRun, OnSuccess, OnError} {
		for i, hook := range GetHooksByType(hooks, hookType) {
			if err := executor.Validate(hook.Agent, allowed); err != nil {
				return fmt.Errorf("invalid executable in %s hook #%d: %w", hookType, i, err)
			}
		}
	}
	return nil
}

// GetHooksByType returns hooks for a specific hook type from a Hooks configuration
func GetHooksByType(hooks config.Hooks, hookType HookType) []config.HookAgent {
	switch hookType {
	case PostRun:
		return hooks.PostRun
	case OnSuccess:
		return hooks.OnSuccess
	case OnError:
		return hooks.OnError
	default:
		return nil
	}
}

// HookTypesFor returns the hook points that apply to a run that ended with
// status, in execution order.
func HookTypesFor(status run.Status) []HookType {
	switch status {
	case run.StatusDone:
		return []HookType{PostRun, OnSuccess}
	case run.StatusError:
		return []HookType{PostRun, OnError}
	default:
		return []HookType{PostRun}
	}
}

// Runner executes the configured hooks for finished runs.
type Runner struct {
	ctx        context.Context
	executor   *Executor
	hooks      config.Hooks
	timeoutSec int
	logger     *slog.Logger
}

// NewRunner creates a Runner. Hook processes are killed when ctx is done.
func NewRunner(ctx context.Context, executor *Executor, hooks config.Hooks, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ctx:        ctx,
		executor:   executor,
		hooks:      hooks,
		timeoutSec: hooks.TimeoutSec,
		logger:     logger,
	}
}

// OnRunComplete runs post_run hooks and then on_success or on_error hooks
// for r. Failures are logged and never change the run.
func (h *Runner) OnRunComplete(r *run.Run) {
	if r == nil || !r.Status.Terminal() {
		return
	}
	logger := logging.ForRun(h.logger, r)

	params := ParamsFor(r)
	params.TimeoutSec = h.timeoutSec

	for _, hookType := range HookTypesFor(r.Status) {
		hooks := GetHooksByType(h.hooks, hookType)
		if len(hooks) == 0 {
			continue
		}
		params.Hook = hookType.String()
		if err := ExecuteHooks(h.ctx, h.executor, hooks, params); err != nil {
			logger.Warn("run hooks failed",
				slog.String("hook", hookType.String()),
				slog.String("error", err.Error()))
		}
	}
}
