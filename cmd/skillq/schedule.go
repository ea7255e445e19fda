package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/caevv/skillq/internal/config"
	"github.com/caevv/skillq/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring runs in the configuration",
	Long: `Manage recurring skill runs in the skillq configuration file.

Subcommands:
  add     - Add a recurring run
  list    - List recurring runs and their next fire time
  remove  - Remove a recurring run

Schedules accept cron expressions (5 or 6 fields), @-shortcuts such as
@daily, "@every 1h30m" and "every <n> <unit>".

Examples:
  skillq schedule add nightly-lint --schedule "@daily" --skill lint
  skillq schedule add deps --schedule "every 6 hours" --skill update-deps --argument "minor only"
  skillq schedule list
  skillq schedule remove nightly-lint`,
}

var addScheduleCmd = &cobra.Command{
	Use:   "add <schedule-id>",
	Short: "Add a recurring run",
	Args:  cobra.ExactArgs(1),
	RunE:  runAddSchedule,
}

var listSchedulesCmd = &cobra.Command{
	Use:   "list",
	Short: "List recurring runs",
	Args:  cobra.NoArgs,
	RunE:  runListSchedules,
}

var removeScheduleCmd = &cobra.Command{
	Use:   "remove <schedule-id>",
	Short: "Remove a recurring run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoveSchedule,
}

func init() {
	scheduleCmd.AddCommand(addScheduleCmd)
	scheduleCmd.AddCommand(listSchedulesCmd)
	scheduleCmd.AddCommand(removeScheduleCmd)

	f := addScheduleCmd.Flags()
	f.String("schedule", "", "Cron expression, @-shortcut or \"every <n> <unit>\" (required)")
	f.String("skill", "", "Skill to run (required)")
	f.String("argument", "", "Argument passed to the skill")
	f.String("agent", "", "Agent to run the skill with")
	f.String("model", "", "Model passed to the agent")
	f.Bool("docker", false, "Run the agent in a container")
	_ = addScheduleCmd.MarkFlagRequired("schedule")
	_ = addScheduleCmd.MarkFlagRequired("skill")
}

func runAddSchedule(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	f := cmd.Flags()

	s := config.Schedule{ID: args[0]}
	s.Schedule, _ = f.GetString("schedule")
	s.Skill, _ = f.GetString("skill")
	s.Argument, _ = f.GetString("argument")
	s.Agent, _ = f.GetString("agent")
	s.Model, _ = f.GetString("model")
	s.Docker, _ = f.GetBool("docker")

	if _, err := scheduler.ParseSchedule(s.Schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if err := config.AddSchedule(path, s); err != nil {
		return fmt.Errorf("failed to add schedule: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Schedule '%s' added to %s\n", s.ID, path)
	fmt.Fprintf(w, "  Schedule: %s\n", s.Schedule)
	fmt.Fprintf(w, "  Skill:    %s\n", s.Skill)
	if next, err := scheduler.NextRun(s.Schedule, time.Now()); err == nil {
		fmt.Fprintf(w, "  Next run: %s\n", next.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runListSchedules(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath(cmd))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(cfg.Schedules) == 0 {
		fmt.Fprintln(w, "No schedules configured")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Schedule", "Skill", "Argument", "Agent", "Next Run"})

	now := time.Now()
	for _, s := range cfg.Schedules {
		next := "-"
		if at, err := scheduler.NextRun(s.Schedule, now); err == nil {
			next = at.Format("2006-01-02 15:04:05")
		}
		agentName := s.Agent
		if agentName == "" {
			agentName = "(default)"
		}
		t.AppendRow(table.Row{s.ID, s.Schedule, s.Skill, truncate(s.Argument, 30), agentName, next})
	}
	t.Render()
	fmt.Fprintf(w, "(%d schedules)\n", len(cfg.Schedules))
	return nil
}

func runRemoveSchedule(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if err := config.RemoveSchedule(path, args[0]); err != nil {
		return fmt.Errorf("failed to remove schedule: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Schedule '%s' removed from %s\n", args[0], path)
	return nil
}
