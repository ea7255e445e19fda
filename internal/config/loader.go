package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	// EnvPrefix prefixes environment overrides. Nested keys are separated by
	// a double underscore: SKILLQ_QUEUE__CONCURRENCY sets queue.concurrency.
	EnvPrefix = "SKILLQ_"

	DefaultConfigFile = "skillq.yaml"
	DefaultStorePath  = ".skillq/runs.json"
	DefaultSkillsDir  = ".skillq/skills"
	DefaultServerAddr = "127.0.0.1:7420"
)

// ErrNotFound is returned by LoadConfig when the config file does not exist.
var ErrNotFound = errors.New("config file not found")

var (
	validDrivers = map[string]bool{"memory": true, "json": true, "bbolt": true, "sqlite": true}

	intervalPattern = regexp.MustCompile(`^every\s+\d+\s*(s|sec|second|seconds|m|min|minute|minutes|h|hour|hours|d|day|days)$`)
	cronShortcuts   = []string{"@annually", "@yearly", "@monthly", "@weekly", "@daily", "@midnight", "@hourly"}
)

// flagKeys maps CLI flag names to config keys. Only changed flags are loaded.
var flagKeys = map[string]string{
	"repo":         "repo.path",
	"concurrency":  "queue.concurrency",
	"store-driver": "store.driver",
	"store-path":   "store.path",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-output":   "logging.output",
	"docker":       "docker.enabled",
	"addr":         "server.addr",
}

// defaults returns the lowest-priority configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"repo.path":              ".",
		"queue.concurrency":      2,
		"queue.flush_delay_ms":   50,
		"queue.persist_delay_ms": 500,
		"store.driver":           "json",
		"store.path":             DefaultStorePath,
		"logging.format":         "json",
		"logging.level":          "info",
		"logging.output":         "stderr",
		"skills.dirs":            []string{DefaultSkillsDir},
		"hooks.timeout_sec":      30,
		"server.addr":            DefaultServerAddr,
	}
}

// findConfigFile finds the config file to use.
// Priority: explicit path > skillq.yaml > skillq.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{DefaultConfigFile, "skillq.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load builds the configuration from defaults, the config file, SKILLQ_
// environment variables and changed flags, in increasing priority. A missing
// default config file is not an error; a missing explicit one is.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(path)
	if used != "" {
		if _, err := os.Stat(used); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, used)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	baseDir := "."
	if used != "" {
		baseDir = filepath.Dir(used)
	}
	applyDefaults(&cfg)
	resolvePaths(&cfg, baseDir)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfig loads and validates the configuration in path, which must exist.
// Environment variables apply; flags do not.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(path, nil)
}

// envKey transforms SKILLQ_QUEUE__CONCURRENCY into queue.concurrency.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// applyDefaults sets default values that depend on other fields.
func applyDefaults(cfg *Config) {
	if len(cfg.Agents) == 0 {
		cfg.Agents = []Agent{{Name: "claude", Command: "claude", Default: true}}
	}
	if cfg.Repo.Name == "" && cfg.Repo.Path != "" {
		if abs, err := filepath.Abs(cfg.Repo.Path); err == nil {
			cfg.Repo.Name = filepath.Base(abs)
		}
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// resolvePaths anchors relative paths at the config file's directory.
func resolvePaths(cfg *Config, baseDir string) {
	cfg.Repo.Path = resolvePathRelativeTo(cfg.Repo.Path, baseDir)
	if cfg.Store.Driver != "memory" {
		cfg.Store.Path = resolvePathRelativeTo(cfg.Store.Path, baseDir)
	}
	for i, dir := range cfg.Skills.Dirs {
		cfg.Skills.Dirs[i] = resolvePathRelativeTo(dir, baseDir)
	}
	for i, dir := range cfg.Hooks.Paths {
		cfg.Hooks.Paths[i] = resolvePathRelativeTo(dir, baseDir)
	}
}

// validate checks the configuration for errors and inconsistencies.
func validate(cfg *Config) error {
	if !validDrivers[cfg.Store.Driver] {
		return fmt.Errorf("invalid store driver: %s (must be 'memory', 'json', 'bbolt' or 'sqlite')", cfg.Store.Driver)
	}
	if cfg.Store.Driver != "memory" && cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required for driver %s", cfg.Store.Driver)
	}

	if cfg.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	if cfg.Queue.FlushDelayMS < 0 || cfg.Queue.PersistDelayMS < 0 {
		return fmt.Errorf("queue delays must be non-negative")
	}

	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'text')", cfg.Logging.Format)
	}

	agentNames := make(map[string]bool)
	defaults := 0
	for i, a := range cfg.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent at index %d is missing a name", i)
		}
		if a.Command == "" {
			return fmt.Errorf("agent %s is missing a command", a.Name)
		}
		if agentNames[a.Name] {
			return fmt.Errorf("duplicate agent name: %s", a.Name)
		}
		agentNames[a.Name] = true
		if a.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("only one agent may be marked default")
	}

	scheduleIDs := make(map[string]bool)
	for i, s := range cfg.Schedules {
		if s.ID == "" {
			return fmt.Errorf("schedule at index %d is missing an ID", i)
		}
		if s.Skill == "" {
			return fmt.Errorf("schedule %s is missing a skill", s.ID)
		}
		if scheduleIDs[s.ID] {
			return fmt.Errorf("duplicate schedule ID: %s", s.ID)
		}
		scheduleIDs[s.ID] = true

		if err := ValidateSchedule(s.Schedule); err != nil {
			return fmt.Errorf("schedule %s has invalid schedule: %w", s.ID, err)
		}
		if s.Agent != "" && !agentNames[s.Agent] {
			return fmt.Errorf("schedule %s uses unknown agent %s", s.ID, s.Agent)
		}
	}

	if cfg.Hooks.TimeoutSec < 0 {
		return fmt.Errorf("hooks.timeout_sec must be non-negative")
	}
	if len(cfg.Security.AllowedAgents) > 0 {
		if err := validateHookAgents(cfg.Hooks, cfg.Security.AllowedAgents); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSchedule checks if a schedule expression is valid.
// Supports cron expressions, @-prefixed shortcuts, @every and "every <n><unit>"
// intervals.
func ValidateSchedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}

	if strings.HasPrefix(strings.ToLower(schedule), "every ") {
		if intervalPattern.MatchString(strings.ToLower(schedule)) {
			return nil
		}
		return fmt.Errorf("invalid interval: %s (must be like 'every 5m', 'every 2h')", schedule)
	}

	// Check for @-prefixed shortcuts
	if strings.HasPrefix(schedule, "@") {
		for _, shortcut := range cronShortcuts {
			if schedule == shortcut {
				return nil
			}
		}

		// Check for @every interval
		if strings.HasPrefix(schedule, "@every ") {
			interval := strings.TrimPrefix(schedule, "@every ")
			if matched, _ := regexp.MatchString(`^(\d+[smh])+$`, interval); matched {
				return nil
			}
			return fmt.Errorf("invalid @every interval: %s (must be like '5m', '1h', '30s')", interval)
		}

		return fmt.Errorf("unknown schedule shortcut: %s", schedule)
	}

	// robfig/cron validates the fields at runtime; this catches obvious errors early.
	fields := strings.Fields(schedule)
	if len(fields) < 5 || len(fields) > 6 {
		return fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
	}
	return nil
}

// validateHookAgents checks that all hook executables are in the allowed list.
func validateHookAgents(hooks Hooks, allowedAgents []string) error {
	allowed := make(map[string]bool)
	for _, agent := range allowedAgents {
		allowed[agent] = true
	}

	checkAgentList := func(agents []HookAgent, hookName string) error {
		for _, agent := range agents {
			if !allowed[agent.Agent] {
				return fmt.Errorf("agent '%s' in hook '%s' is not in the allowed agents list", agent.Agent, hookName)
			}
		}
		return nil
	}

	if err := checkAgentList(hooks.PostRun, "post_run"); err != nil {
		return err
	}
	if err := checkAgentList(hooks.OnSuccess, "on_success"); err != nil {
		return err
	}
	return checkAgentList(hooks.OnError, "on_error")
}
