// Package store persists the run list between process restarts.
package store

import (
	"github.com/caevv/skillq/internal/run"
)

// Store loads and saves the complete, ordered run list. Save replaces
// whatever was stored before.
type Store interface {
	// Load returns the stored runs in enqueue order. An empty store returns
	// no runs and no error.
	Load() ([]*run.Run, error)

	// Save replaces the stored runs with runs.
	Save(runs []*run.Run) error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore keeps nothing. It is used when runs live only as long as the
// process.
type MemoryStore struct{}

// NewMemoryStore returns a store that discards saves.
func NewMemoryStore() Store {
	return MemoryStore{}
}

func (MemoryStore) Load() ([]*run.Run, error) { return nil, nil }
func (MemoryStore) Save([]*run.Run) error     { return nil }
func (MemoryStore) Close() error              { return nil }

// validRuns filters out records that cannot be restored.
func validRuns(runs []*run.Run) []*run.Run {
	out := make([]*run.Run, 0, len(runs))
	for _, r := range runs {
		if r == nil || r.ID == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
