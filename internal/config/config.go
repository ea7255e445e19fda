// Package config loads and writes the skillq.yaml configuration.
package config

// Config represents the top-level configuration structure for skillq.
type Config struct {
	Repo      Repo       `koanf:"repo" yaml:"repo"`
	Queue     Queue      `koanf:"queue" yaml:"queue"`
	Store     Store      `koanf:"store" yaml:"store"`
	Logging   Logging    `koanf:"logging" yaml:"logging"`
	Docker    Docker     `koanf:"docker" yaml:"docker"`
	Skills    Skills     `koanf:"skills" yaml:"skills"`
	Agents    []Agent    `koanf:"agents" yaml:"agents"`
	Hooks     Hooks      `koanf:"hooks" yaml:"hooks"`
	Schedules []Schedule `koanf:"schedules" yaml:"schedules"`
	Security  Security   `koanf:"security" yaml:"security"`
	Server    Server     `koanf:"server" yaml:"server"`
}

// Repo identifies the repository skills run against.
type Repo struct {
	Path string `koanf:"path" yaml:"path"`
	Name string `koanf:"name" yaml:"name,omitempty"` // defaults to the base name of Path
}

// Queue tunes the run queue.
type Queue struct {
	Concurrency    int `koanf:"concurrency" yaml:"concurrency"`
	FlushDelayMS   int `koanf:"flush_delay_ms" yaml:"flush_delay_ms"`
	PersistDelayMS int `koanf:"persist_delay_ms" yaml:"persist_delay_ms"`
}

// Store configuration for run persistence.
type Store struct {
	Driver string `koanf:"driver" yaml:"driver"` // "memory", "json", "bbolt" or "sqlite"
	Path   string `koanf:"path" yaml:"path"`     // file path for the store
}

// Logging configures the process logger.
type Logging struct {
	Format string `koanf:"format" yaml:"format"` // "json" or "text"
	Level  string `koanf:"level" yaml:"level"`
	Output string `koanf:"output" yaml:"output"` // stderr, stdout, discard or a file path
}

// Docker controls sandboxed agent runs.
type Docker struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"`
	Template string `koanf:"template" yaml:"template,omitempty"` // Dockerfile path, relative to the repo
}

// Skills lists the directories skill definitions are loaded from. Later
// directories override earlier ones.
type Skills struct {
	Dirs []string `koanf:"dirs" yaml:"dirs"`
}

// Agent is a coding agent CLI skills can be run with.
type Agent struct {
	Name    string   `koanf:"name" yaml:"name"`
	Command string   `koanf:"command" yaml:"command"`
	Args    []string `koanf:"args" yaml:"args,omitempty"`
	Image   string   `koanf:"image" yaml:"image,omitempty"`
	Default bool     `koanf:"default" yaml:"default,omitempty"`
}

// Hooks defines executables run after a run finishes.
type Hooks struct {
	Paths      []string    `koanf:"paths" yaml:"paths,omitempty"` // hook search path, defaults apply when empty
	TimeoutSec int         `koanf:"timeout_sec" yaml:"timeout_sec"`
	PostRun    []HookAgent `koanf:"post_run" yaml:"post_run,omitempty"`   // run after every run
	OnSuccess  []HookAgent `koanf:"on_success" yaml:"on_success,omitempty"` // run after done runs
	OnError    []HookAgent `koanf:"on_error" yaml:"on_error,omitempty"`   // run after error runs
}

// HookAgent is an executable to run at a hook point.
type HookAgent struct {
	Agent string         `koanf:"agent" yaml:"agent"` // executable name
	With  map[string]any `koanf:"with" yaml:"with,omitempty"`
}

// Schedule enqueues a skill on a recurring schedule.
type Schedule struct {
	ID       string `koanf:"id" yaml:"id"`
	Schedule string `koanf:"schedule" yaml:"schedule"` // cron expression or "every <n><unit>"
	Skill    string `koanf:"skill" yaml:"skill"`
	Argument string `koanf:"argument" yaml:"argument,omitempty"`
	Agent    string `koanf:"agent" yaml:"agent,omitempty"`
	Model    string `koanf:"model" yaml:"model,omitempty"`
	Docker   bool   `koanf:"docker" yaml:"docker,omitempty"`
}

// Security configuration for hook restrictions.
type Security struct {
	AllowedAgents []string `koanf:"allowed_agents" yaml:"allowed_agents"` // optional: whitelist of hook executables
}

// Server configures the HTTP API.
type Server struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// DefaultAgent returns the agent marked default, or the first agent.
func (c *Config) DefaultAgent() (Agent, bool) {
	for _, a := range c.Agents {
		if a.Default {
			return a, true
		}
	}
	if len(c.Agents) > 0 {
		return c.Agents[0], true
	}
	return Agent{}, false
}

// FindAgent returns the agent with the given name. An empty name selects
// the default agent.
func (c *Config) FindAgent(name string) (Agent, bool) {
	if name == "" {
		return c.DefaultAgent()
	}
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}
