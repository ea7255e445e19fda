package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted runs",
	Long: `Inspect the run history kept in the configured store.

Subcommands:
  list  - List runs, newest first
  show  - Show one run with its steps and output

Examples:
  skillq runs list --status error
  skillq runs show 3f2a9c1e`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted runs",
	Args:  cobra.NoArgs,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one persisted run",
	Long: `Show one persisted run. The run ID may be abbreviated to any unique
prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runShowRun,
}

func init() {
	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)

	listRunsCmd.Flags().String("status", "", "Only list runs with this status")
	listRunsCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list (0 for all)")
	showRunCmd.Flags().Bool("json", false, "Print the run as JSON")
	showRunCmd.Flags().Int("lines", 40, "Output lines to show (0 for all)")
}

// loadRuns reads every persisted run from the configured store.
func loadRuns(cmd *cobra.Command) ([]*run.Run, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	st, err := store.NewStore(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	runs, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	return runs, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runs, err := loadRuns(cmd)
	if err != nil {
		return err
	}
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	renderRunList(cmd.OutOrStdout(), filterRuns(runs, run.Status(status), limit))
	return nil
}

// filterRuns returns runs newest first, optionally restricted to status and
// truncated to limit.
func filterRuns(runs []*run.Run, status run.Status, limit int) []*run.Run {
	var out []*run.Run
	for i := len(runs) - 1; i >= 0; i-- {
		if status != "" && runs[i].Status != status {
			continue
		}
		out = append(out, runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func renderRunList(w io.Writer, runs []*run.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Skill", "Agent", "Status", "Enqueued", "Duration", "Result"})

	for _, r := range runs {
		result := r.PRURL
		if result == "" {
			result = truncate(r.Error, 50)
		}
		t.AppendRow(table.Row{
			shortID(r.ID),
			r.Config.Skill.Name,
			r.Config.Agent.Name,
			string(r.Status),
			r.EnqueuedAt.Local().Format("2006-01-02 15:04:05"),
			formatRunDuration(r),
			result,
		})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d runs)\n", len(runs))
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runs, err := loadRuns(cmd)
	if err != nil {
		return err
	}
	r, err := findRun(runs, args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	lines, _ := cmd.Flags().GetInt("lines")
	renderRun(w, r, lines)
	return nil
}

// findRun returns the run whose ID equals or uniquely starts with prefix.
func findRun(runs []*run.Run, prefix string) (*run.Run, error) {
	var match *run.Run
	for _, r := range runs {
		if r.ID == prefix {
			return r, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			if match != nil {
				return nil, fmt.Errorf("run id %q is ambiguous", prefix)
			}
			match = r
		}
	}
	if match == nil {
		return nil, fmt.Errorf("run not found: %s", prefix)
	}
	return match, nil
}

func renderRun(w io.Writer, r *run.Run, lines int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"ID", r.ID},
		{"Skill", r.Config.Skill.Name},
		{"Agent", r.Config.Agent.Name},
		{"Status", string(r.Status)},
		{"Phase", string(r.State.Phase)},
		{"Repository", r.Config.RepoPath},
		{"Enqueued", r.EnqueuedAt.Local().Format(time.RFC3339)},
		{"Duration", formatRunDuration(r)},
	})
	if r.Config.Argument != "" {
		t.AppendRow(table.Row{"Argument", truncate(r.Config.Argument, 80)})
	}
	if r.Config.Branch != "" {
		t.AppendRow(table.Row{"Branch", r.Config.Branch})
	}
	if r.Config.WorktreePath != "" {
		t.AppendRow(table.Row{"Worktree", r.Config.WorktreePath})
	}
	if r.PRURL != "" {
		t.AppendRow(table.Row{"Pull request", r.PRURL})
	}
	if r.Error != "" {
		t.AppendRow(table.Row{"Error", r.Error})
	}
	t.Render()

	if len(r.State.Steps) > 0 {
		st := table.NewWriter()
		st.SetOutputMirror(w)
		st.SetStyle(table.StyleLight)
		st.AppendHeader(table.Row{"#", "Step", "Status", "Lines"})
		for i, step := range r.State.Steps {
			st.AppendRow(table.Row{i + 1, step.Skill, string(step.Status), len(step.Output)})
		}
		st.Render()

		for i, step := range r.State.Steps {
			_, _ = fmt.Fprintf(w, "\n--- step %d: %s\n", i+1, step.Skill)
			printOutput(w, step.Output, step.PartialLine, lines)
		}
		return
	}

	_, _ = fmt.Fprintln(w, "\n--- output")
	printOutput(w, r.State.Output, r.State.PartialLine, lines)
}

func printOutput(w io.Writer, output []string, partial string, limit int) {
	if partial != "" {
		output = append(append([]string(nil), output...), partial)
	}
	if limit > 0 && len(output) > limit {
		_, _ = fmt.Fprintf(w, "... %d earlier lines\n", len(output)-limit)
		output = output[len(output)-limit:]
	}
	for _, line := range output {
		_, _ = fmt.Fprintln(w, line)
	}
}

func formatRunDuration(r *run.Run) string {
	if r.StartedAt == nil {
		return "-"
	}
	return r.Duration().Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
