package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/caevv/skillq/internal/scheduler"
	"github.com/caevv/skillq/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the queue with a terminal monitor",
	Long: `Start the run queue and recurring schedules with an interactive
terminal monitor showing every run, its phase and its live output.

Navigation:
  ↑/↓ or k/j  - Navigate run list
  enter       - View run details (steps, tool calls, output)
  esc         - Go back to run list
  g/G         - Jump to top/bottom
  c           - Cancel the selected run
  +/-         - Raise or lower the concurrency limit
  q           - Quit

Example:
  skillq tui --config ./skillq.yaml`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Logs on the terminal would corrupt the interface.
	if !cmd.Flags().Changed("log-output") && (cfg.Logging.Output == "" || cfg.Logging.Output == "stderr") {
		cfg.Logging.Output = "discard"
	}

	ctx, cancel := context.WithCancel(setupSignalHandler())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	sched := scheduler.New(ctx, a.launcher, logger)
	for _, s := range cfg.Schedules {
		if err := sched.Add(s); err != nil {
			_ = a.shutdown()
			return fmt.Errorf("failed to add schedule %s: %w", s.ID, err)
		}
	}

	if err := a.queue.Hydrate(ctx); err != nil {
		_ = a.shutdown()
		return fmt.Errorf("restore runs: %w", err)
	}
	sched.Start()

	p := tea.NewProgram(
		tui.New(a.queue, sched, logger),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	// Push snapshots on every queue change; the model also refreshes on a tick.
	updates := a.notifier.Subscribe()
	go func() {
		defer a.notifier.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				p.Send(tui.SnapshotMsg{Snapshot: a.queue.Snapshot()})
			}
		}
	}()

	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = nil
	}
	cancel()

	if err := sched.Stop(context.Background()); err != nil {
		logger.Error("error stopping scheduler", "error", err)
	}
	if runErr != nil {
		_ = a.shutdown()
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return a.shutdown()
}
