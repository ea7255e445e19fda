package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/caevv/skillq/internal/run"
)

// Executor runs hook executables found on the hook search path.
type Executor struct {
	logger      *slog.Logger
	executables map[string]string
}

// Params describes the finished run passed to a hook.
type Params struct {
	Hook string

	RunID        string
	Skill        string
	Agent        string
	Status       string
	Error        string
	PRURL        string
	Branch       string
	WorktreePath string
	RepoPath     string
	EnqueuedTS   time.Time
	StartTS      time.Time
	EndTS        time.Time

	// ConfigJSON is the hook's "with" block encoded as JSON.
	ConfigJSON string

	ExtraEnv map[string]string

	TimeoutSec int
}

// ParamsFor builds hook parameters from a run record.
func ParamsFor(r *run.Run) Params {
	p := Params{
		RunID:        r.ID,
		Skill:        r.Config.Skill.Name,
		Agent:        r.Config.Agent.Name,
		Status:       string(r.Status),
		Error:        r.Error,
		PRURL:        r.PRURL,
		Branch:       r.Config.Branch,
		WorktreePath: r.Config.WorktreePath,
		RepoPath:     r.Config.RepoPath,
		EnqueuedTS:   r.EnqueuedAt,
	}
	if r.StartedAt != nil {
		p.StartTS = *r.StartedAt
	}
	if r.FinishedAt != nil {
		p.EndTS = *r.FinishedAt
	}
	return p
}

// Result contains the result of a hook execution
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// Parsed JSON output from the hook (optional)
	JSONOutput map[string]interface{}
}

// New creates an Executor with no executables. Call Discover to populate it.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:      logger,
		executables: make(map[string]string),
	}
}

// Discover loads hook executables from the specified paths
func (e *Executor) Discover(paths []string) error {
	found, err := DiscoverExecutables(paths)
	if err != nil {
		return fmt.Errorf("failed to discover hooks: %w", err)
	}

	e.executables = found
	e.logger.Debug("discovered hook executables",
		slog.Int("count", len(found)),
		slog.Any("names", executableNames(found)))

	return nil
}

// Execute runs a hook executable with the specified parameters. A non-zero
// exit code is reported in the result, not as an error.
func (e *Executor) Execute(ctx context.Context, name string, params Params) (*Result, error) {
	path, err := FindExecutable(e.executables, name)
	if err != nil {
		return nil, err
	}

	execCtx := ctx
	if params.TimeoutSec > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutSec)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, path)
	cmd.Env = e.buildEnvironment(params)
	if params.RepoPath != "" {
		cmd.Dir = params.RepoPath
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("executing hook",
		slog.String("hook", params.Hook),
		slog.String("executable", name),
		slog.String("run_id", params.RunID))

	startTime := time.Now()
	execErr := cmd.Run()
	duration := time.Since(startTime)

	exitCode := 0
	if execErr != nil {
		var exitError *exec.ExitError
		if !errors.As(execErr, &exitError) || execCtx.Err() != nil {
			return nil, fmt.Errorf("hook execution failed: %w", execErr)
		}
		exitCode = exitError.ExitCode()
	}

	result := &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	result.JSONOutput = parseJSONOutput(result.Stdout)

	return result, nil
}

// buildEnvironment creates the environment variables for a hook
func (e *Executor) buildEnvironment(params Params) []string {
	env := os.Environ()

	envVars := map[string]string{
		"HOOK":          params.Hook,
		"RUN_ID":        params.RunID,
		"SKILL":         params.Skill,
		"AGENT":         params.Agent,
		"STATUS":        params.Status,
		"ERROR":         params.Error,
		"PR_URL":        params.PRURL,
		"BRANCH":        params.Branch,
		"WORKTREE_PATH": params.WorktreePath,
		"REPO_PATH":     params.RepoPath,
		"ENQUEUED_TS":   formatTimestamp(params.EnqueuedTS),
		"START_TS":      formatTimestamp(params.StartTS),
		"END_TS":        formatTimestamp(params.EndTS),
		"CONFIG_JSON":   params.ConfigJSON,
	}

	for k, v := range params.ExtraEnv {
		envVars[k] = v
	}

	for k, v := range envVars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	return env
}

// parseJSONOutput attempts to parse JSON from hook stdout
func parseJSONOutput(stdout string) map[string]interface{} {
	if stdout == "" {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &result); err == nil {
		return result
	}

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") {
			var result map[string]interface{}
			if err := json.Unmarshal([]byte(line), &result); err == nil {
				return result
			}
		}
	}

	return nil
}

// formatTimestamp formats a time.Time as RFC3339
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func executableNames(executables map[string]string) []string {
	names := make([]string, 0, len(executables))
	for name := range executables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Executables returns the discovered executables.
func (e *Executor) Executables() map[string]string {
	return e.executables
}

// Validate checks that a hook executable exists and is allowed.
func (e *Executor) Validate(name string, allowed []string) error {
	if _, err := FindExecutable(e.executables, name); err != nil {
		return err
	}

	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if a == name {
			return nil
		}
	}
	return fmt.Errorf("hook executable not allowed: %s", name)
}
