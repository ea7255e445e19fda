package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultCommand is the agent CLI used when the agent names none.
	DefaultCommand = "claude"

	// ContainerWorkDir is where the work directory is mounted inside the
	// agent container.
	ContainerWorkDir = "/workspace"

	defaultWaitDelay = 5 * time.Second
)

// DefaultArgs puts the agent CLI in non-interactive stream-json mode. The
// prompt is written to stdin.
var DefaultArgs = []string{"-p", "--output-format", "stream-json", "--verbose"}

// ExecRunner runs each turn as a child process of the agent CLI, optionally
// wrapped in `docker run`.
type ExecRunner struct {
	logger    *slog.Logger
	docker    string
	waitDelay time.Duration
}

// ExecOption configures an ExecRunner.
type ExecOption func(*ExecRunner)

// WithDockerBinary overrides the docker executable.
func WithDockerBinary(path string) ExecOption {
	return func(r *ExecRunner) { r.docker = path }
}

// WithWaitDelay sets how long a cancelled agent gets to exit after SIGTERM
// before it is killed.
func WithWaitDelay(d time.Duration) ExecOption {
	return func(r *ExecRunner) { r.waitDelay = d }
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *slog.Logger, opts ...ExecOption) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ExecRunner{logger: logger, docker: "docker", waitDelay: defaultWaitDelay}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Command returns the executable and arguments for cfg.
func (r *ExecRunner) Command(cfg TurnConfig) (string, []string) {
	name := cfg.Agent.Command
	if name == "" {
		name = DefaultCommand
	}
	args := append([]string(nil), cfg.Agent.Args...)
	if len(args) == 0 {
		args = append(args, DefaultArgs...)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	if cfg.Image == "" {
		return name, args
	}

	docker := []string{
		"run", "--rm", "-i",
		"-v", cfg.WorkDir + ":" + ContainerWorkDir,
		"-w", ContainerWorkDir,
		cfg.Image,
		name,
	}
	return r.docker, append(docker, args...)
}

// RunTurn runs one agent turn, delivering events to onEvent until the agent
// exits or ctx is cancelled. On cancellation the agent receives SIGTERM and
// ctx.Err() is returned.
func (r *ExecRunner) RunTurn(ctx context.Context, cfg TurnConfig, onEvent func(Event)) error {
	name, args := r.Command(cfg)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = os.Environ()
	cmd.Stdin = strings.NewReader(cfg.Prompt)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Stdout goes through an io.Pipe so WaitDelay also bounds reads when a
	// grandchild keeps the descriptor open after cancellation.
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	r.logger.Debug("starting agent turn",
		slog.String("command", name),
		slog.String("skill", cfg.SkillName),
		slog.String("workdir", cfg.WorkDir))

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start agent %s: %w", name, err)
	}

	parsed := make(chan error, 1)
	go func() {
		err := ParseStream(pr, onEvent)
		// Drain so the writer never blocks if parsing stopped early.
		_, _ = io.Copy(io.Discard, pr)
		parsed <- err
	}()

	waitErr := cmd.Wait()
	pw.Close()
	streamErr := <-parsed

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if streamErr != nil {
				return streamErr
			}
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return fmt.Errorf("agent %s exited with code %d: %s", name, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("agent %s failed: %w", name, waitErr)
	}
	return streamErr
}
