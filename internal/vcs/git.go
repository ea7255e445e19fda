// Package vcs wraps the git CLI operations a run needs: worktrees, staging,
// committing and pushing.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Errors classified from git's stderr.
var (
	ErrWorktreeExists   = errors.New("worktree already exists")
	ErrBranchCheckedOut = errors.New("branch is already checked out")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrNothingToCommit  = errors.New("nothing to commit")
)

// DefaultWorktreeDir is where worktrees are created, relative to the repository.
const DefaultWorktreeDir = ".skillq/worktrees"

// CommandError is a failed git invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
	kind   error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() []error {
	if e.kind != nil {
		return []error{e.kind, e.Err}
	}
	return []error{e.Err}
}

// Git runs git commands.
type Git struct {
	binary      string
	worktreeDir string
	logger      *slog.Logger
}

// Option configures Git.
type Option func(*Git)

// WithBinary overrides the git executable.
func WithBinary(path string) Option {
	return func(g *Git) { g.binary = path }
}

// WithWorktreeDir sets the directory worktrees are created in. Relative
// paths are resolved against the repository.
func WithWorktreeDir(dir string) Option {
	return func(g *Git) { g.worktreeDir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Git) { g.logger = logger }
}

// New creates a Git wrapper.
func New(opts ...Option) *Git {
	g := &Git{binary: "git", worktreeDir: DefaultWorktreeDir, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WorktreePath returns where the worktree called name lives for repoPath.
func (g *Git) WorktreePath(repoPath, name string) string {
	dir := g.worktreeDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoPath, dir)
	}
	return filepath.Join(dir, name)
}

// CreateWorktree creates a worktree called name checked out at branch. When
// isNew is set the branch is created from HEAD. force replaces an existing
// worktree at the same path.
func (g *Git) CreateWorktree(ctx context.Context, repoPath, name, branch string, isNew, force bool) (string, error) {
	path := g.WorktreePath(repoPath, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create worktree directory: %w", err)
	}

	if force {
		if _, err := os.Stat(path); err == nil {
			if err := g.RemoveWorktree(ctx, repoPath, path); err != nil {
				return "", err
			}
		}
	}

	args := []string{"worktree", "add"}
	if force {
		args = append(args, "--force")
	}
	if isNew {
		args = append(args, "-b", branch, path)
	} else {
		args = append(args, path, branch)
	}

	if _, err := g.run(ctx, repoPath, args...); err != nil {
		return "", err
	}

	g.logger.Debug("worktree created",
		slog.String("path", path),
		slog.String("branch", branch))
	return path, nil
}

// RemoveWorktree removes the worktree at path.
func (g *Git) RemoveWorktree(ctx context.Context, repoPath, path string) error {
	_, err := g.run(ctx, repoPath, "worktree", "remove", "--force", path)
	return err
}

// StageAll stages every change in the worktree at path.
func (g *Git) StageAll(ctx context.Context, path string) error {
	_, err := g.run(ctx, path, "add", "-A")
	return err
}

// Commit commits staged changes. It returns an error wrapping
// ErrNothingToCommit when the tree is clean.
func (g *Git) Commit(ctx context.Context, path, message string) error {
	_, err := g.run(ctx, path, "commit", "-m", message)
	return err
}

// Push pushes branch to origin and sets its upstream.
func (g *Git) Push(ctx context.Context, path, branch string) error {
	_, err := g.run(ctx, path, "push", "-u", "origin", branch)
	return err
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// git commit reports a clean tree on stdout.
		combined := stderr.String() + stdout.String()
		return "", &CommandError{Args: args, Stderr: combined, Err: err, kind: classify(combined)}
	}
	return stdout.String(), nil
}

func classify(output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "nothing to commit"), strings.Contains(lower, "nothing added to commit"):
		return ErrNothingToCommit
	case strings.Contains(lower, "already checked out"), strings.Contains(lower, "is already used by worktree"):
		return ErrBranchCheckedOut
	case strings.Contains(lower, "already exists"):
		return ErrWorktreeExists
	case strings.Contains(lower, "invalid reference"), strings.Contains(lower, "not a valid object name"):
		return ErrBranchNotFound
	default:
		return nil
	}
}
