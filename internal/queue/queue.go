// Package queue admits runs under a concurrency limit, drives them and
// publishes snapshots of their state.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caevv/skillq/internal/lifecycle"
	"github.com/caevv/skillq/internal/logging"
	"github.com/caevv/skillq/internal/output"
	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/runstate"
	"github.com/caevv/skillq/internal/timer"
)

const (
	DefaultConcurrency  = 2
	DefaultPersistDelay = 500 * time.Millisecond

	// CancelledMessage is recorded on runs stopped by Cancel.
	CancelledMessage = "Cancelled"

	// InterruptedMessage is recorded on runs found running at startup.
	InterruptedMessage = "Interrupted: skillq restarted while this run was in progress"
)

// Driver executes one admitted run.
type Driver interface {
	Drive(ctx context.Context, job lifecycle.Job) error
}

// Persistence loads and saves the full run list.
type Persistence interface {
	Load() ([]*run.Run, error)
	Save(runs []*run.Run) error
}

// Observer is called synchronously with a fresh snapshot after every state
// change. Calls are serialized. An observer must not mutate the queue from
// within the call.
type Observer func(snap *run.Snapshot)

// CompletionHook receives the final record of every admitted run once its
// driver returns.
type CompletionHook func(r *run.Run)

// execution is the live context of one admitted run.
type execution struct {
	cancel context.CancelFunc
	sink   *runSink
	buffer *output.Buffer
}

// Queue is a FIFO run queue with bounded concurrency.
type Queue struct {
	driver       Driver
	store        *runstate.Store
	logger       *slog.Logger
	now          func() time.Time
	observer     Observer
	persist      Persistence
	persistDelay time.Duration
	flushDelay   time.Duration
	onComplete   CompletionHook
	saver        *timer.Debouncer

	mu        sync.Mutex
	limit     int
	active    map[string]*execution
	destroyed bool

	snapMu sync.Mutex
	snap   *run.Snapshot

	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the initial concurrency limit.
func WithConcurrency(n int) Option {
	return func(q *Queue) { q.limit = clampLimit(n) }
}

// WithObserver registers the snapshot observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithPersistence sets where runs are loaded from and saved to.
func WithPersistence(p Persistence) Option {
	return func(q *Queue) { q.persist = p }
}

// WithPersistDelay sets the save debounce delay.
func WithPersistDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.persistDelay = d
		}
	}
}

// WithFlushDelay sets the output coalescing delay for each run.
func WithFlushDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.flushDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithCompletionHook registers a hook called after each admitted run ends.
func WithCompletionHook(h CompletionHook) Option {
	return func(q *Queue) { q.onComplete = h }
}

// New creates a Queue that drives admitted runs with driver.
func New(driver Driver, opts ...Option) *Queue {
	q := &Queue{
		driver:       driver,
		store:        runstate.New(),
		logger:       slog.Default(),
		now:          time.Now,
		persistDelay: DefaultPersistDelay,
		flushDelay:   output.DefaultDelay,
		limit:        DefaultConcurrency,
		active:       make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.saver = timer.NewDebouncer(q.persistDelay, q.save)
	return q
}

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Enqueue registers a pending run for cfg, starts it if a slot is free and
// returns its ID without waiting for it to execute.
func (q *Queue) Enqueue(cfg run.SessionConfig) string {
	r := run.New(cfg, q.now())
	q.store.Insert(r)

	q.logger.Info("run enqueued",
		slog.String("run_id", r.ID),
		slog.String("skill", cfg.Skill.Name))

	q.changed()
	q.admit()
	return r.ID
}

// Cancel stops a pending or running run and marks it cancelled. It is a
// no-op for unknown and finished runs.
func (q *Queue) Cancel(id string) {
	q.mu.Lock()
	if exec, ok := q.active[id]; ok {
		exec.cancel()
	}
	ok := q.store.Transition(id, run.StatusCancelled, CancelledMessage, q.now())
	q.mu.Unlock()

	if ok {
		q.logger.Info("run cancelled", slog.String("run_id", id))
		q.changed()
	}
}

// SetConcurrency changes the limit and admits pending runs if it grew.
// Running runs are never preempted.
func (q *Queue) SetConcurrency(n int) {
	q.mu.Lock()
	q.limit = clampLimit(n)
	q.mu.Unlock()

	q.changed()
	q.admit()
}

// Concurrency returns the current limit.
func (q *Queue) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Get returns a copy of the run with the given ID.
func (q *Queue) Get(id string) (*run.Run, bool) {
	return q.store.Get(id)
}

// Snapshot returns the current snapshot. It is recomputed only after a
// state change; callers must treat it as read-only.
func (q *Queue) Snapshot() *run.Snapshot {
	q.snapMu.Lock()
	defer q.snapMu.Unlock()

	if q.snap != nil {
		return q.snap
	}

	runs := q.store.List()
	q.mu.Lock()
	limit, active := q.limit, len(q.active)
	q.mu.Unlock()

	pending := 0
	for _, r := range runs {
		if r.Status == run.StatusPending {
			pending++
		}
	}
	q.snap = &run.Snapshot{Runs: runs, Concurrency: limit, Active: active, Pending: pending}
	return q.snap
}

// Hydrate loads persisted runs. Runs that were running when the process
// stopped are marked as interrupted errors. Pending runs are admitted.
func (q *Queue) Hydrate(ctx context.Context) error {
	if q.persist == nil {
		return nil
	}
	runs, err := q.persist.Load()
	if err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}

	interrupted := 0
	for _, r := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Status == run.StatusRunning {
			at := q.now()
			r.Status = run.StatusError
			r.Error = InterruptedMessage
			r.State.Error = InterruptedMessage
			r.FinishedAt = &at
			interrupted++
		}
		q.store.Insert(r)
	}

	q.logger.Info("runs restored",
		slog.Int("count", len(runs)),
		slog.Int("interrupted", interrupted))

	q.changed()
	q.admit()
	return nil
}

// Destroy cancels every active run and stops the persistence timer. No runs
// are admitted afterwards. Cancelled runs keep their running status and are
// reported as interrupted by the next Hydrate.
func (q *Queue) Destroy() {
	q.mu.Lock()
	q.destroyed = true
	for _, exec := range q.active {
		exec.cancel()
	}
	q.mu.Unlock()

	q.saver.Stop()
}

// Wait blocks until every admitted run's driver has returned or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveNow persists the current run list immediately.
func (q *Queue) SaveNow() error {
	if q.persist == nil {
		return nil
	}
	if err := q.persist.Save(q.store.List()); err != nil {
		return fmt.Errorf("failed to save runs: %w", err)
	}
	return nil
}

func (q *Queue) save() {
	if err := q.SaveNow(); err != nil {
		q.logger.Warn("persist runs", slog.String("error", err.Error()))
	}
}

// admit starts pending runs in FIFO order while slots are free.
func (q *Queue) admit() {
	type admitted struct {
		ctx  context.Context
		exec *execution
		run  *run.Run
	}
	var started []admitted

	q.mu.Lock()
	for !q.destroyed && len(q.active) < q.limit {
		id, ok := q.store.ClaimPending(q.now())
		if !ok {
			break
		}
		r, _ := q.store.Get(id)
		ctx, cancel := context.WithCancel(context.Background())
		sink := &runSink{q: q, id: id, ctx: ctx}
		exec := &execution{
			cancel: cancel,
			sink:   sink,
			buffer: output.New(sink, q.flushDelay),
		}
		q.active[id] = exec
		q.wg.Add(1)
		started = append(started, admitted{ctx: ctx, exec: exec, run: r})
	}
	q.mu.Unlock()

	if len(started) == 0 {
		return
	}
	q.changed()
	for _, a := range started {
		go q.execute(a.ctx, a.exec, a.run)
	}
}

func (q *Queue) execute(ctx context.Context, exec *execution, r *run.Run) {
	defer q.wg.Done()
	logger := logging.ForRun(q.logger, r)

	defer func() {
		if p := recover(); p != nil {
			msg := lifecycle.ErrorMessage(p)
			logger.Error("run panicked", slog.String("error", msg))
			exec.buffer.Flush()
			if ctx.Err() == nil && q.store.Transition(r.ID, run.StatusError, msg, q.now()) {
				q.changed()
			}
		}
		q.release(r.ID, exec)
	}()

	job := lifecycle.Job{Run: r, Sink: exec.sink, Output: exec.buffer}
	if err := q.driver.Drive(ctx, job); err != nil && ctx.Err() == nil {
		logger.Debug("driver returned error", slog.String("error", err.Error()))
	}

	if ctx.Err() == nil {
		if cur, ok := q.store.Get(r.ID); ok && cur.Status == run.StatusRunning {
			q.store.Transition(r.ID, run.StatusError, "run ended without a result", q.now())
			q.changed()
		}
	}
}

// release frees the run's slot, admits the next pending run and fires the
// completion hook.
func (q *Queue) release(id string, exec *execution) {
	exec.buffer.Close()
	exec.cancel()

	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()

	q.changed()
	q.admit()

	if q.onComplete != nil {
		if final, ok := q.store.Get(id); ok {
			q.onComplete(final)
		}
	}
}

// changed invalidates the snapshot, schedules a save and notifies the
// observer. It must not be called with q.mu held.
func (q *Queue) changed() {
	q.snapMu.Lock()
	q.snap = nil
	q.snapMu.Unlock()

	if q.persist != nil {
		q.saver.Trigger()
	}

	if q.observer != nil {
		q.notifyMu.Lock()
		defer q.notifyMu.Unlock()
		q.observer(q.Snapshot())
	}
}
