package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/caevv/skillq/internal/launch"
	"github.com/caevv/skillq/internal/run"
)

var runCmd = &cobra.Command{
	Use:   "run <skill> [argument...]",
	Short: "Run one skill and stream its output",
	Long: `Enqueue one run of a skill, stream its output to stdout and wait for it
to finish. The command exits non-zero when the run fails or is cancelled.

Persisted runs are restored first, so the run waits behind pending runs
when the queue is full.

Examples:
  skillq run lint
  skillq run fix-issue "issue 42" --branch fix/42 --new-branch
  skillq run docs --no-worktree --agent codex`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOnce,
}

func init() {
	addRunFlags(runCmd.Flags())
}

func addRunFlags(f *pflag.FlagSet) {
	f.String("agent", "", "Agent to run the skill with (default agent when empty)")
	f.String("model", "", "Model passed to the agent")
	f.String("branch", "", "Branch to check out in the worktree")
	f.Bool("new-branch", false, "Create --branch instead of checking it out")
	f.String("worktree", "", "Worktree name (defaults to one derived from the run)")
	f.Bool("force", false, "Replace an existing worktree with the same name")
	f.Bool("no-worktree", false, "Run directly in the repository")
	f.Bool("docker", false, "Run the agent in a container")
}

// runFailedError reports a run that ended in a non-done status.
type runFailedError struct {
	status run.Status
	msg    string
}

func (e *runFailedError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("run %s", e.status)
	}
	return fmt.Sprintf("run %s: %s", e.status, e.msg)
}

// exitCode maps command errors to process exit codes.
func exitCode(err error) int {
	var rf *runFailedError
	if errors.As(err, &rf) && rf.status == run.StatusCancelled {
		return 130
	}
	return 1
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	req := requestFromFlags(cmd.Flags(), args)
	ctx := setupSignalHandler()
	out := newStreamer(cmd.OutOrStdout())

	a, err := newApp(ctx, cfg, out.observe)
	if err != nil {
		return err
	}

	if err := a.queue.Hydrate(ctx); err != nil {
		_ = a.shutdown()
		return fmt.Errorf("restore runs: %w", err)
	}

	id, err := a.launcher.Launch(req)
	if err != nil {
		_ = a.shutdown()
		return err
	}
	out.follow(id)
	out.observe(a.queue.Snapshot())
	logger.Info("run enqueued", "run_id", id, "skill", req.Skill)

	select {
	case <-out.done:
	case <-ctx.Done():
		a.queue.Cancel(id)
	}

	final, _ := a.queue.Get(id)
	if err := a.shutdown(); err != nil {
		return err
	}

	if final == nil || final.Status == run.StatusDone {
		if final != nil && final.PRURL != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Pull request: %s\n", final.PRURL)
		}
		return nil
	}
	return &runFailedError{status: final.Status, msg: final.Error}
}

// requestFromFlags builds the launch request for `run <skill> [argument...]`.
// Docker is only set when --docker was given, so the config default applies
// otherwise.
func requestFromFlags(f *pflag.FlagSet, args []string) launch.Request {
	req := launch.Request{Skill: args[0], Argument: strings.Join(args[1:], " ")}
	req.Agent, _ = f.GetString("agent")
	req.Model, _ = f.GetString("model")
	req.Branch, _ = f.GetString("branch")
	req.NewBranch, _ = f.GetBool("new-branch")
	req.WorktreeName, _ = f.GetString("worktree")
	req.Force, _ = f.GetBool("force")
	req.NoWorktree, _ = f.GetBool("no-worktree")
	if f.Changed("docker") {
		docker, _ := f.GetBool("docker")
		req.Docker = &docker
	}
	return req
}

// streamer prints the followed run's phases and output lines as snapshots
// arrive. Only committed lines are printed.
type streamer struct {
	w io.Writer

	mu      sync.Mutex
	id      string
	phase   run.Phase
	printed map[int]int // output lines printed, by step; -1 is the run itself
	step    int
	done    chan struct{}
	closed  bool
}

func newStreamer(w io.Writer) *streamer {
	return &streamer{w: w, printed: make(map[int]int), step: -1, done: make(chan struct{})}
}

// follow selects the run to print. Snapshots seen before follow are ignored.
func (s *streamer) follow(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *streamer) observe(snap *run.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id == "" || s.closed {
		return
	}
	r, ok := snap.Find(s.id)
	if !ok {
		return
	}

	if r.Status != run.StatusPending && r.State.Phase != s.phase {
		s.phase = r.State.Phase
		fmt.Fprintf(s.w, "==> %s\n", s.phase)
	}

	if len(r.State.Steps) == 0 {
		s.printLines(-1, r.State.Output)
	} else {
		for i, st := range r.State.Steps {
			if len(st.Output) > s.printed[i] && s.step != i {
				s.step = i
				fmt.Fprintf(s.w, "--- step %d/%d: %s\n", i+1, len(r.State.Steps), st.Skill)
			}
			s.printLines(i, st.Output)
		}
	}

	if r.Status.Terminal() {
		if partial := trailingPartial(r); partial != "" {
			fmt.Fprintln(s.w, partial)
		}
		if r.Status != run.StatusDone {
			fmt.Fprintf(s.w, "==> %s: %s\n", r.Status, r.Error)
		}
		s.closed = true
		close(s.done)
	}
}

func (s *streamer) printLines(key int, lines []string) {
	for _, line := range lines[min(s.printed[key], len(lines)):] {
		fmt.Fprintln(s.w, line)
	}
	if len(lines) > s.printed[key] {
		s.printed[key] = len(lines)
	}
}

// trailingPartial returns the unterminated last line of the run's output.
func trailingPartial(r *run.Run) string {
	if n := len(r.State.Steps); n > 0 {
		return r.State.Steps[min(max(r.State.CurrentStepIndex, 0), n-1)].PartialLine
	}
	return r.State.PartialLine
}
