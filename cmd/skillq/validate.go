package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caevv/skillq/internal/plugins"
	"github.com/caevv/skillq/internal/scheduler"
	"github.com/caevv/skillq/internal/skill"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration, skills and hooks",
	Long: `Validate the skillq configuration without starting the queue.

This command checks for:
  - Valid YAML syntax and required fields
  - Valid store driver configuration
  - Unique agents with at most one default
  - Valid schedule expressions that reference known skills
  - Skill pipelines without unknown or cyclic references
  - Hook executables that exist and are allowed

Example:
  skillq validate --config ./skillq.yaml`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		logger.Error("configuration validation failed", "error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	catalog, err := skill.LoadDirs(cfg.Skills.Dirs...)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for _, s := range cfg.Schedules {
		if _, err := catalog.Resolve(s.Skill); err != nil {
			return fmt.Errorf("validation failed: schedule %s: %w", s.ID, err)
		}
		if _, err := scheduler.ParseSchedule(s.Schedule); err != nil {
			return fmt.Errorf("validation failed: schedule %s: %w", s.ID, err)
		}
	}

	executor := plugins.New(logger)
	if err := executor.Discover(cfg.Hooks.Paths); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := plugins.ValidateHooks(executor, cfg.Hooks, cfg.Security.AllowedAgents); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for _, s := range cfg.Schedules {
		logger.Debug("schedule configured", "id", s.ID, "schedule", s.Schedule, "skill", s.Skill)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n✓ Configuration is valid\n")
	fmt.Fprintf(w, "  Repository:  %s\n", cfg.Repo.Path)
	fmt.Fprintf(w, "  Skills:      %d\n", len(catalog.Names()))
	fmt.Fprintf(w, "  Agents:      %d\n", len(cfg.Agents))
	fmt.Fprintf(w, "  Schedules:   %d\n", len(cfg.Schedules))
	fmt.Fprintf(w, "  Hooks:       %d executables\n", len(executor.Executables()))
	fmt.Fprintf(w, "  Store:       %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
	fmt.Fprintf(w, "  Concurrency: %d\n", cfg.Queue.Concurrency)

	return nil
}
