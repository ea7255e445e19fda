// Package scheduler enqueues skill runs on cron and interval schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/caevv/skillq/internal/config"
)

// Scheduler wraps robfig/cron and fires schedules through a Trigger.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	trigger Trigger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// entry tracks a schedule and its cron entry.
type entry struct {
	schedule config.Schedule
	spec     cron.Schedule
	entryID  cron.EntryID
	stats    Stats
}

// New creates a Scheduler. Fired triggers receive a context derived from ctx
// that is cancelled by Stop.
func New(ctx context.Context, trigger Trigger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	schedCtx, cancel := context.WithCancel(ctx)
	cronLogger := &cronSlogAdapter{logger: logger}

	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
		),
	)

	return &Scheduler{
		cron:    c,
		ctx:     schedCtx,
		cancel:  cancel,
		logger:  logger,
		trigger: trigger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Add schedules s. It fails if the ID is taken or the expression is invalid.
func (s *Scheduler) Add(sched config.Schedule) error {
	if sched.ID == "" {
		return fmt.Errorf("schedule ID cannot be empty")
	}
	if sched.Skill == "" {
		return fmt.Errorf("schedule %q has no skill", sched.ID)
	}

	spec, err := ParseSchedule(sched.Schedule)
	if err != nil {
		return fmt.Errorf("failed to parse schedule %q: %w", sched.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[sched.ID]; exists {
		return fmt.Errorf("schedule with ID %q already exists", sched.ID)
	}

	id := sched.ID
	e := &entry{
		schedule: sched,
		spec:     spec,
		stats: Stats{
			ID:       sched.ID,
			Schedule: sched.Schedule,
			Skill:    sched.Skill,
			NextFire: spec.Next(s.now()),
		},
	}
	e.entryID = s.cron.Schedule(spec, cron.FuncJob(func() { s.Fire(id) }))
	s.entries[id] = e

	s.logger.Info("schedule added",
		slog.String("schedule_id", id),
		slog.String("schedule", sched.Schedule),
		slog.String("skill", sched.Skill),
		slog.Time("next_fire", e.stats.NextFire))

	return nil
}

// Remove unschedules the schedule with the given ID.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[id]
	if !exists {
		return false
	}
	s.cron.Remove(e.entryID)
	delete(s.entries, id)

	s.logger.Info("schedule removed", slog.String("schedule_id", id))
	return true
}

// Fire triggers the schedule immediately and records the outcome. It is
// what cron calls on each tick.
func (s *Scheduler) Fire(id string) (string, error) {
	s.mu.Lock()
	e, exists := s.entries[id]
	if !exists {
		s.mu.Unlock()
		return "", fmt.Errorf("schedule %q not found", id)
	}
	sched := e.schedule
	e.stats.LastFire = s.now()
	e.stats.FireCount++
	s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return "", err
	}

	runID, err := s.trigger.Trigger(s.ctx, sched)

	s.mu.Lock()
	if e, exists := s.entries[id]; exists {
		e.stats.LastRunID = runID
		e.stats.LastError = ""
		if err != nil {
			e.stats.LastError = err.Error()
		}
		e.stats.NextFire = e.spec.Next(s.now())
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled run failed to start",
			slog.String("schedule_id", id),
			slog.String("skill", sched.Skill),
			slog.String("error", err.Error()))
		return "", err
	}

	s.logger.Info("scheduled run enqueued",
		slog.String("schedule_id", id),
		slog.String("skill", sched.Skill),
		slog.String("run_id", runID))
	return runID, nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.mu.RLock()
	count := len(s.entries)
	s.mu.RUnlock()

	s.logger.Info("starting scheduler", slog.Int("schedule_count", count))
	s.cron.Start()
}

// Stop stops firing schedules and waits for in-flight triggers or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping scheduler")

	stopped := s.cron.Stop()
	defer s.cancel()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the schedule with the given ID.
func (s *Scheduler) Get(id string) (config.Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[id]
	if !exists {
		return config.Schedule{}, false
	}
	return e.schedule, true
}

// List returns all schedules ordered by ID.
func (s *Scheduler) List() []config.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]config.Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the activity of one schedule.
func (s *Scheduler) Stats(id string) (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[id]
	if !exists {
		return Stats{}, false
	}
	return s.statsLocked(e), true
}

// AllStats returns the activity of every schedule ordered by ID.
func (s *Scheduler) AllStats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Stats, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.statsLocked(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) statsLocked(e *entry) Stats {
	stats := e.stats
	// cron knows the real next tick once started
	if ce := s.cron.Entry(e.entryID); ce.ID != 0 && !ce.Next.IsZero() {
		stats.NextFire = ce.Next
	}
	return stats
}

// cronSlogAdapter adapts slog.Logger to cron.Logger interface.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := make([]any, 0, len(keysAndValues)+1)
	attrs = append(attrs, slog.String("error", err.Error()))
	attrs = append(attrs, keysAndValues...)
	a.logger.Error(msg, attrs...)
}
