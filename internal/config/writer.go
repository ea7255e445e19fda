package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveConfig writes a Config to a YAML file.
// It performs an atomic write by writing to a temporary file first, loading
// it back to validate it, then renaming it to the target path.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if _, err := Load(tempPath, nil); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) // Clean up temp file on error
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// readRaw reads the file as written, without defaults or path resolution, so
// it can be edited and saved back. A missing file yields a default config.
func readRaw(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewDefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// AddSchedule adds a new schedule to the config file.
// If the config file doesn't exist, it creates a new one with sensible defaults.
func AddSchedule(configPath string, s Schedule) error {
	if err := ValidateSchedule(s.Schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	cfg, err := readRaw(configPath)
	if err != nil {
		return err
	}

	for _, existing := range cfg.Schedules {
		if existing.ID == s.ID {
			return fmt.Errorf("schedule with ID '%s' already exists", s.ID)
		}
	}
	cfg.Schedules = append(cfg.Schedules, s)

	if err := SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// RemoveSchedule removes a schedule from the config file by ID.
func RemoveSchedule(configPath, id string) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, configPath)
	}
	cfg, err := readRaw(configPath)
	if err != nil {
		return err
	}

	found := false
	kept := make([]Schedule, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		if s.ID == id {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return fmt.Errorf("schedule with ID '%s' not found", id)
	}
	cfg.Schedules = kept

	if err := SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID from the config file.
func GetSchedule(configPath, id string) (*Schedule, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, s := range cfg.Schedules {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("schedule with ID '%s' not found", id)
}

// NewDefaultConfig creates a new Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Repo:  Repo{Path: "."},
		Queue: Queue{Concurrency: 2, FlushDelayMS: 50, PersistDelayMS: 500},
		Store: Store{
			Driver: "json",
			Path:   DefaultStorePath,
		},
		Logging: Logging{Format: "json", Level: "info", Output: "stderr"},
		Skills:  Skills{Dirs: []string{DefaultSkillsDir}},
		Agents:  []Agent{{Name: "claude", Command: "claude", Default: true}},
		Hooks:   Hooks{TimeoutSec: 30},
		Security: Security{
			AllowedAgents: []string{},
		},
		Server:    Server{Addr: DefaultServerAddr},
		Schedules: []Schedule{},
	}
}
