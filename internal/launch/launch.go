// Package launch turns run requests into session configs and enqueues them.
package launch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caevv/skillq/internal/config"
	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/skill"
)

// ErrUnknownAgent is returned when a request names an agent that is not
// configured.
var ErrUnknownAgent = errors.New("unknown agent")

// Request asks for one run of a skill.
type Request struct {
	Skill        string `json:"skill"`
	Argument     string `json:"argument,omitempty"`
	Agent        string `json:"agent,omitempty"`
	Model        string `json:"model,omitempty"`
	Docker       *bool  `json:"docker,omitempty"`
	Branch       string `json:"branch,omitempty"`
	NewBranch    bool   `json:"new_branch,omitempty"`
	WorktreeName string `json:"worktree_name,omitempty"`
	Force        bool   `json:"force,omitempty"`
	NoWorktree   bool   `json:"no_worktree,omitempty"`
}

// Enqueuer accepts session configs for execution.
type Enqueuer interface {
	Enqueue(cfg run.SessionConfig) string
}

// Launcher resolves requests against the configuration and skill catalog.
type Launcher struct {
	cfg     *config.Config
	catalog *skill.Catalog
	queue   Enqueuer
}

// New creates a Launcher. queue may be nil when only SessionConfig is used.
func New(cfg *config.Config, catalog *skill.Catalog, queue Enqueuer) *Launcher {
	return &Launcher{cfg: cfg, catalog: catalog, queue: queue}
}

// SessionConfig builds the session config for req.
func (l *Launcher) SessionConfig(req Request) (run.SessionConfig, error) {
	name := strings.TrimSpace(req.Skill)
	if name == "" {
		return run.SessionConfig{}, fmt.Errorf("skill is required")
	}

	sk, err := l.catalog.Resolve(name)
	if err != nil {
		return run.SessionConfig{}, err
	}

	agentCfg, ok := l.cfg.FindAgent(req.Agent)
	if !ok {
		return run.SessionConfig{}, fmt.Errorf("%w: %s", ErrUnknownAgent, req.Agent)
	}

	useDocker := l.cfg.Docker.Enabled
	if req.Docker != nil {
		useDocker = *req.Docker
	}

	sc := run.SessionConfig{
		RepoPath: l.cfg.Repo.Path,
		RepoName: l.cfg.Repo.Name,
		Skill:    sk,
		Agent: run.Agent{
			Name:    agentCfg.Name,
			Command: agentCfg.Command,
			Args:    append([]string(nil), agentCfg.Args...),
			Image:   agentCfg.Image,
		},
		Model:         req.Model,
		UseDocker:     useDocker,
		WorktreeName:  req.WorktreeName,
		Branch:        req.Branch,
		NewBranch:     req.Branch != "" && req.NewBranch,
		ForceWorktree: req.Force,
		Argument:      req.Argument,
		NoWorktree:    req.NoWorktree,
	}
	if useDocker {
		sc.DockerfilePath = l.dockerfile()
	}
	return sc, nil
}

// dockerfile returns the configured Dockerfile, relative to the repository.
func (l *Launcher) dockerfile() string {
	tmpl := l.cfg.Docker.Template
	if tmpl == "" {
		tmpl = "Dockerfile"
	}
	if filepath.IsAbs(tmpl) {
		return tmpl
	}
	return filepath.Join(l.cfg.Repo.Path, tmpl)
}

// Launch builds the session config for req and enqueues it.
func (l *Launcher) Launch(req Request) (string, error) {
	if l.queue == nil {
		return "", fmt.Errorf("no queue to launch into")
	}
	sc, err := l.SessionConfig(req)
	if err != nil {
		return "", err
	}
	return l.queue.Enqueue(sc), nil
}

// Trigger enqueues a run for a schedule.
func (l *Launcher) Trigger(ctx context.Context, s config.Schedule) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	req := Request{
		Skill:    s.Skill,
		Argument: s.Argument,
		Agent:    s.Agent,
		Model:    s.Model,
	}
	if s.Docker {
		req.Docker = &s.Docker
	}
	return l.Launch(req)
}
