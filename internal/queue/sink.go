package queue

import (
	"context"

	"github.com/caevv/skillq/internal/output"
	"github.com/caevv/skillq/internal/run"
)

// runSink applies one run's updates to the store and publishes each change.
// Once ctx is cancelled the canceller owns the terminal status and Finish
// becomes a no-op.
type runSink struct {
	q   *Queue
	id  string
	ctx context.Context
}

func (s *runSink) UpdateRun(p run.RunPatch) {
	if s.q.store.UpdateRun(s.id, p) {
		s.q.changed()
	}
}

func (s *runSink) UpdateState(p run.StatePatch) {
	if s.q.store.UpdateState(s.id, p) {
		s.q.changed()
	}
}

func (s *runSink) UpdateStep(index int, p run.StepPatch) {
	if s.q.store.UpdateStep(s.id, index, p) {
		s.q.changed()
	}
}

func (s *runSink) Finish(status run.Status, errMsg, prURL string) {
	if s.ctx.Err() != nil {
		return
	}
	if s.q.store.Finish(s.id, status, errMsg, prURL, s.q.now()) {
		s.q.changed()
	}
}

func (s *runSink) AppendOutput(step int, lines []string, partial string) {
	if step == output.RunTarget {
		s.UpdateState(run.StatePatch{Output: lines, PartialLine: &partial})
		return
	}
	s.UpdateStep(step, run.StepPatch{Output: lines, PartialLine: &partial})
}
