// Package lifecycle drives a single run through its phases: worktree,
// optional image build, agent turns, commit, push, pull request and cleanup.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caevv/skillq/internal/agent"
	"github.com/caevv/skillq/internal/logging"
	"github.com/caevv/skillq/internal/output"
	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/vcs"
)

// Driver executes runs. A single Driver is shared by every admitted run.
type Driver struct {
	collab Collaborators
	logger *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// New creates a Driver.
func New(collab Collaborators, opts ...Option) *Driver {
	d := &Driver{collab: collab, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drive runs job to completion and records its terminal status through the
// job's Sink. When ctx is cancelled Drive stops at the next boundary and
// returns ctx.Err() without recording a status; the canceller owns it.
// Otherwise it returns the error the run failed with, or nil.
func (d *Driver) Drive(ctx context.Context, job Job) error {
	r := job.Run
	logger := logging.ForRun(d.logger, r)
	logger.Info("run started", slog.Bool("worktree", !r.Config.SkipsWorktree()))

	var err error
	if r.Config.SkipsWorktree() {
		err = d.driveInPlace(ctx, job)
	} else {
		err = d.driveWorktree(ctx, job, logger)
	}

	switch {
	case ctx.Err() != nil:
		logger.Info("run cancelled")
	case err != nil:
		logger.Warn("run failed", slog.String("error", err.Error()))
	default:
		logger.Info("run completed")
	}
	return err
}

func (d *Driver) driveInPlace(ctx context.Context, job Job) error {
	setPhase(job, run.PhaseStartingAgent)
	err := d.runSteps(ctx, job, job.Run.Config.RepoPath, "")
	return d.finish(ctx, job, err, "")
}

func (d *Driver) driveWorktree(ctx context.Context, job Job, logger *slog.Logger) error {
	cfg := job.Run.Config
	out := job.Output

	setPhase(job, run.PhaseCreatingWorktree)
	name, branch, isNew := worktreeTarget(job.Run)
	path, err := d.collab.VCS.CreateWorktree(ctx, cfg.RepoPath, name, branch, isNew, cfg.ForceWorktree)
	if err != nil {
		return d.finish(ctx, job, fmt.Errorf("failed to create worktree: %w", err), "")
	}
	job.Sink.UpdateRun(run.RunPatch{WorktreePath: &path})

	image := ""
	if cfg.UseDocker && cfg.DockerfilePath != "" && d.collab.Images != nil {
		setPhase(job, run.PhaseBuildingDocker)
		image = ImageTag(cfg)
		_, err := d.collab.Images.EnsureImage(ctx, image, cfg.DockerfilePath, filepath.Dir(cfg.DockerfilePath), func(line string) {
			out.WriteLine(output.RunTarget, line)
		})
		out.Flush()
		if err != nil {
			return d.finish(ctx, job, fmt.Errorf("failed to build image %s: %w", image, err), "")
		}
	}

	setPhase(job, run.PhaseStartingAgent)
	runErr := d.runSteps(ctx, job, path, image)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var prURL string
	if runErr == nil {
		prURL, runErr = d.publish(ctx, job, path, branch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	setPhase(job, run.PhaseRemovingWorktree)
	if err := d.collab.VCS.RemoveWorktree(ctx, cfg.RepoPath, path); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("failed to remove worktree: %w", err)
		} else {
			logger.Warn("failed to remove worktree",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	return d.finish(ctx, job, runErr, prURL)
}

// runSteps runs one agent turn per sub-skill in workDir. Multi-step skills
// get a step list whose entries collect their own output and tool calls.
func (d *Driver) runSteps(ctx context.Context, job Job, workDir, image string) error {
	cfg := job.Run.Config
	steps := cfg.Skill.Steps()
	multi := len(steps) > 1

	if multi {
		initial := make([]run.Step, len(steps))
		for i, s := range steps {
			initial[i] = run.Step{Skill: s.Name, Status: run.StepPending}
		}
		job.Sink.UpdateState(run.StatePatch{Steps: initial, CurrentStepIndex: run.Ptr(0)})
	}

	for i, s := range steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		target := output.RunTarget
		if multi {
			target = i
			job.Sink.UpdateStep(i, run.StepPatch{Status: run.Ptr(run.StepRunning)})
			job.Sink.UpdateState(run.StatePatch{Phase: run.Ptr(run.PhaseRunning), CurrentStepIndex: run.Ptr(i)})
		} else {
			setPhase(job, run.PhaseRunning)
		}

		turn := agent.TurnConfig{
			WorkDir:   workDir,
			Prompt:    s.RenderPrompt(cfg.Argument),
			Model:     cfg.Model,
			Agent:     cfg.Agent,
			Image:     image,
			SkillName: s.Name,
		}
		err := d.collab.Agents.RunTurn(ctx, turn, func(ev agent.Event) {
			route(job, target, ev)
		})
		job.Output.Flush()

		if multi {
			status := run.StepDone
			if err != nil || ctx.Err() != nil {
				status = run.StepError
			}
			job.Sink.UpdateStep(i, run.StepPatch{Status: &status})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if multi {
				return fmt.Errorf("step %s failed: %w", s.Name, err)
			}
			return err
		}
	}
	return nil
}

// publish commits the worktree, pushes its branch and opens a pull request.
// A clean tree and push failures are reported as output, not errors, and
// both skip the pull request step: a clean tree has nothing to push and a
// failed push leaves no remote branch to open the request from.
func (d *Driver) publish(ctx context.Context, job Job, path, branch string) (string, error) {
	r := job.Run
	out := job.Output

	setPhase(job, run.PhaseCommitting)
	if err := d.collab.VCS.StageAll(ctx, path); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}
	if err := d.collab.VCS.Commit(ctx, path, commitMessage(r)); err != nil {
		if !isNothingToCommit(err) {
			return "", fmt.Errorf("failed to commit: %w", err)
		}
		out.WriteLine(output.RunTarget, "Nothing to commit; skipping push and pull request.")
		out.Flush()
		return "", nil
	}

	setPhase(job, run.PhasePushing)
	if err := d.collab.VCS.Push(ctx, path, branch); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		out.WriteLine(output.RunTarget, "Warning: push failed: "+ErrorMessage(err))
		out.Flush()
		return "", nil
	}

	setPhase(job, run.PhaseCreatingPR)
	prs := d.collab.PRs
	if prs == nil || !prs.Available(ctx) || !prs.IsHosted(ctx, r.Config.RepoPath) {
		out.WriteLine(output.RunTarget, fmt.Sprintf("Pull request hosting unavailable; branch %s was pushed.", branch))
		out.Flush()
		return "", nil
	}
	url, err := prs.CreatePR(ctx, path, branch, prTitle(r), prBody(r, branch))
	if err != nil {
		return "", err
	}
	out.WriteLine(output.RunTarget, "Opened pull request "+url)
	out.Flush()
	return url, nil
}

// finish records the outcome unless the run was cancelled.
func (d *Driver) finish(ctx context.Context, job Job, err error, prURL string) error {
	job.Output.Flush()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		job.Sink.Finish(run.StatusError, ErrorMessage(err), "")
		return err
	}
	setPhase(job, run.PhaseDone)
	job.Sink.Finish(run.StatusDone, "", prURL)
	return nil
}

func route(job Job, target int, ev agent.Event) {
	switch ev.Kind {
	case agent.EventOutput:
		job.Output.Write(target, ev.Text)
	case agent.EventToolCall:
		calls := []run.ToolCall{ev.ToolCall}
		if target == output.RunTarget {
			job.Sink.UpdateState(run.StatePatch{ToolCalls: calls})
		} else {
			job.Sink.UpdateStep(target, run.StepPatch{ToolCalls: calls})
		}
	}
}

func setPhase(job Job, phase run.Phase) {
	job.Sink.UpdateState(run.StatePatch{Phase: &phase})
}

func isNothingToCommit(err error) bool {
	return errors.Is(err, vcs.ErrNothingToCommit) || strings.Contains(strings.ToLower(err.Error()), "nothing to commit")
}

// worktreeTarget picks the worktree name and branch for r. Without an
// explicit branch a new skillq/<name> branch is created.
func worktreeTarget(r *run.Run) (name, branch string, isNew bool) {
	cfg := r.Config
	name = cfg.WorktreeName
	if name == "" {
		name = sanitize(cfg.Skill.Name) + "-" + shortID(r.ID)
	}
	branch, isNew = cfg.Branch, cfg.NewBranch
	if branch == "" {
		branch, isNew = "skillq/"+name, true
	}
	return name, branch, isNew
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "run"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ImageTag is the container image a run's agent executes in.
func ImageTag(cfg run.SessionConfig) string {
	if cfg.Agent.Image != "" {
		return cfg.Agent.Image
	}
	name := cfg.RepoName
	if name == "" {
		name = filepath.Base(cfg.RepoPath)
	}
	return "skillq/" + sanitize(name) + ":latest"
}

func commitMessage(r *run.Run) string {
	msg := "skillq: " + r.Config.Skill.Name
	if r.Config.Argument != "" {
		msg += "\n\n" + r.Config.Argument
	}
	return msg
}

func prTitle(r *run.Run) string {
	title := "skillq: " + r.Config.Skill.Name
	if arg := firstLine(r.Config.Argument); arg != "" {
		title += " (" + arg + ")"
	}
	return title
}

func prBody(r *run.Run, branch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated run of skill `%s`", r.Config.Skill.Name)
	if r.Config.Agent.Name != "" {
		fmt.Fprintf(&b, " by agent `%s`", r.Config.Agent.Name)
	}
	fmt.Fprintf(&b, ".\n\nBranch: `%s`\nRun: `%s`\n", branch, r.ID)
	if r.Config.Argument != "" {
		fmt.Fprintf(&b, "\nArgument:\n\n%s\n", r.Config.Argument)
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}
