package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caevv/skillq/internal/agent"
	"github.com/caevv/skillq/internal/config"
	"github.com/caevv/skillq/internal/container"
	"github.com/caevv/skillq/internal/launch"
	"github.com/caevv/skillq/internal/lifecycle"
	"github.com/caevv/skillq/internal/logging"
	"github.com/caevv/skillq/internal/plugins"
	"github.com/caevv/skillq/internal/prhost"
	"github.com/caevv/skillq/internal/queue"
	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/server"
	"github.com/caevv/skillq/internal/skill"
	"github.com/caevv/skillq/internal/store"
	"github.com/caevv/skillq/internal/vcs"
)

// shutdownTimeout bounds how long active runs get to stop on shutdown.
const shutdownTimeout = 30 * time.Second

// app is the wired engine shared by the serve, run and tui commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	catalog  *skill.Catalog
	notifier *server.Notifier
	queue    *queue.Queue
	launcher *launch.Launcher
	probes   *prhost.ProbeCache

	logCloser io.Closer
}

// setupLogger replaces the global logger with one built from cfg.
func setupLogger(cfg *config.Config) (io.Closer, error) {
	l, closer, err := logging.NewFromConfig(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = l
	slog.SetDefault(l)
	return closer, nil
}

// newApp wires the store, skill catalog, hooks, collaborators and queue.
// extra observers are called after the event notifier on every change.
// Hooks run until ctx is done.
func newApp(ctx context.Context, cfg *config.Config, extra ...queue.Observer) (*app, error) {
	logCloser, err := setupLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}

	a.catalog, err = skill.LoadDirs(cfg.Skills.Dirs...)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to load skills: %w", err)
	}
	if err := a.catalog.Validate(); err != nil {
		a.closeLog()
		return nil, fmt.Errorf("invalid skills: %w", err)
	}

	executor := plugins.New(logger)
	if err := executor.Discover(cfg.Hooks.Paths); err != nil {
		a.closeLog()
		return nil, err
	}
	if err := plugins.ValidateHooks(executor, cfg.Hooks, cfg.Security.AllowedAgents); err != nil {
		a.closeLog()
		return nil, fmt.Errorf("invalid hooks: %w", err)
	}
	hooks := plugins.NewRunner(ctx, executor, cfg.Hooks, logger)

	a.store, err = store.NewStore(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	logger.Info("store initialized", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	a.probes = prhost.NewProbeCache()
	driver := lifecycle.New(lifecycle.Collaborators{
		VCS:    vcs.New(vcs.WithLogger(logger)),
		Images: container.New("", logger),
		PRs:    prhost.New(prhost.WithLogger(logger), prhost.WithCache(a.probes)),
		Agents: agent.NewExecRunner(logger),
	}, lifecycle.WithLogger(logger))

	a.notifier = server.NewNotifier()
	observers := append([]queue.Observer{func(*run.Snapshot) { a.notifier.Broadcast() }}, extra...)

	a.queue = queue.New(driver,
		queue.WithConcurrency(cfg.Queue.Concurrency),
		queue.WithFlushDelay(time.Duration(cfg.Queue.FlushDelayMS)*time.Millisecond),
		queue.WithPersistDelay(time.Duration(cfg.Queue.PersistDelayMS)*time.Millisecond),
		queue.WithPersistence(a.store),
		queue.WithObserver(func(snap *run.Snapshot) {
			for _, o := range observers {
				o(snap)
			}
		}),
		queue.WithCompletionHook(hooks.OnRunComplete),
		queue.WithLogger(logger),
	)
	a.launcher = launch.New(cfg, a.catalog, a.queue)

	logger.Info("engine initialized",
		"repo", cfg.Repo.Path,
		"skills", len(a.catalog.Names()),
		"concurrency", cfg.Queue.Concurrency,
		"hooks", len(executor.Executables()))
	return a, nil
}

// shutdown cancels active runs, waits for their drivers, saves the run list
// and closes the store. Runs still active when the wait times out are
// reported as interrupted on the next start.
func (a *app) shutdown() error {
	a.queue.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.queue.Wait(ctx); err != nil {
		a.logger.Warn("runs still active at shutdown", "error", err)
	}

	var firstErr error
	if err := a.queue.SaveNow(); err != nil {
		a.logger.Error("failed to save runs", "error", err)
		firstErr = err
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	a.closeLog()
	return firstErr
}

func (a *app) closeLog() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}
