package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/caevv/skillq/internal/scheduler"
	"github.com/caevv/skillq/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue with the HTTP API and recurring schedules",
	Long: `Start the run queue, the recurring schedules and the HTTP API.

Persisted runs are restored first: runs that were executing when skillq last
stopped are marked as interrupted and pending runs are started again.

Routes:
  GET  /                       dashboard
  GET  /api/health             queue health
  GET  /api/snapshot           every run and the queue counters
  GET  /api/events             snapshots as server-sent events
  GET  /api/schedules          recurring schedule activity
  PUT  /api/concurrency        change the concurrency limit
  POST /api/runs               enqueue a run
  GET  /api/runs/{id}          one run
  POST /api/runs/{id}/cancel   cancel a run

Example:
  skillq serve --config ./skillq.yaml --addr 127.0.0.1:7420`,
	RunE: runServer,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "HTTP server address (host:port)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := setupSignalHandler()

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

	srv := server.New(cfg.Server.Addr, a.queue, a.launcher, a.notifier, logger,
		server.WithSchedules(sched))

	logger.Info("starting skillq in serve mode",
		"addr", cfg.Server.Addr,
		"schedules", len(cfg.Schedules),
		"store_driver", cfg.Store.Driver)

	g, gCtx := errgroup.WithContext(ctx)

	// Restore persisted runs
	g.Go(func() error {
		if err := a.queue.Hydrate(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("restore runs: %w", err)
		}
		return nil
	})

	// Recurring runs
	g.Go(func() error {
		sched.Start()
		<-gCtx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			logger.Error("error stopping scheduler", "error", err)
		}
		return nil
	})

	// HTTP server
	g.Go(func() error {
		if err := srv.Start(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	logger.Info("skillq serve mode started",
		"dashboard_url", fmt.Sprintf("http://%s", cfg.Server.Addr))

	runErr := g.Wait()

	logger.Info("shutting down gracefully...")
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("skillq stopped")
	return nil
}
