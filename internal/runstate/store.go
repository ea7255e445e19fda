// Package runstate holds the authoritative in-memory run records and applies
// structural patches to them.
package runstate

import (
	"sync"
	"time"

	"github.com/caevv/skillq/internal/run"
)

// Store is an insertion-ordered map of run ID to run record. Readers always
// receive clones, so callers never observe a record mid-mutation.
type Store struct {
	mu    sync.RWMutex
	order []string
	runs  map[string]*run.Run
}

// New creates an empty store.
func New() *Store {
	return &Store{runs: make(map[string]*run.Run)}
}

// Insert adds r to the end of the iteration order. It returns false if a
// run with the same ID already exists.
func (s *Store) Insert(r *run.Run) bool {
	if r == nil || r.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[r.ID]; exists {
		return false
	}
	s.runs[r.ID] = r.Clone()
	s.order = append(s.order, r.ID)
	return true
}

// Get returns a clone of the run with the given ID.
func (s *Store) Get(id string) (*run.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List returns clones of every run in iteration order.
func (s *Store) List() []*run.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*run.Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id].Clone())
	}
	return out
}

// ClaimPending marks the first pending run in iteration order as running and
// returns its ID.
func (s *Store) ClaimPending(now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		r := s.runs[id]
		if r.Status != run.StatusPending {
			continue
		}
		r.Status = run.StatusRunning
		started := now
		r.StartedAt = &started
		return id, true
	}
	return "", false
}

// Transition moves a run to status next if the move is allowed. Terminal
// statuses record the finish time and, when non-empty, the error message
// on both the run and its state. It returns false for unknown runs and
// disallowed transitions.
func (s *Store) Transition(id string, next run.Status, errMsg string, now time.Time) bool {
	return s.Finish(id, next, errMsg, "", now)
}

// Finish is Transition that also records prURL when the move succeeds.
func (s *Store) Finish(id string, next run.Status, errMsg, prURL string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok || !r.Status.CanTransition(next) {
		return false
	}
	r.Status = next
	at := now
	if next == run.StatusRunning {
		r.StartedAt = &at
	}
	if next.Terminal() {
		r.FinishedAt = &at
		if errMsg != "" {
			r.Error = errMsg
			r.State.Error = errMsg
		}
		if prURL != "" {
			r.PRURL = prURL
		}
	}
	return true
}

// UpdateRun shallow-merges p into the run record.
func (s *Store) UpdateRun(id string, p run.RunPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return false
	}
	applyRunPatch(r, p)
	return true
}

// UpdateState merges p into the run's State.
func (s *Store) UpdateState(id string, p run.StatePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return false
	}
	applyStatePatch(&r.State, p)
	return true
}

// UpdateStep merges p into step index of the run. It is a no-op when the
// run has no steps or the index is out of range.
func (s *Store) UpdateStep(id string, index int, p run.StepPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok || index < 0 || index >= len(r.State.Steps) {
		return false
	}
	applyStepPatch(&r.State.Steps[index], p)
	return true
}
