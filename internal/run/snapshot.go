package run

// Snapshot is a read-only view of every run plus the queue's capacity
// counters. Runs are clones in store iteration order.
type Snapshot struct {
	Runs        []*Run `json:"runs"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
	Pending     int    `json:"pending"`
}

// Find returns the run with the given id, if present.
func (s *Snapshot) Find(id string) (*Run, bool) {
	if s == nil {
		return nil, false
	}
	for _, r := range s.Runs {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Count returns how many runs have the given status.
func (s *Snapshot) Count(status Status) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, r := range s.Runs {
		if r.Status == status {
			n++
		}
	}
	return n
}
