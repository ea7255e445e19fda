package tui

import (
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu        sync.Mutex
	runs      []*run.Run
	limit     int
	cancelled []string
}

func (q *fakeQueue) Snapshot() *run.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := &run.Snapshot{Concurrency: q.limit}
	for _, r := range q.runs {
		snap.Runs = append(snap.Runs, r.Clone())
		switch r.Status {
		case run.StatusPending:
			snap.Pending++
		case run.StatusRunning:
			snap.Active++
		}
	}
	return snap
}

func (q *fakeQueue) Cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
	for _, r := range q.runs {
		if r.ID == id {
			r.Status = run.StatusCancelled
		}
	}
}

func (q *fakeQueue) SetConcurrency(n int) {
	q.mu.Lock()
	q.limit = n
	q.mu.Unlock()
}

type fakeSchedules []scheduler.Stats

func (f fakeSchedules) AllStats() []scheduler.Stats { return f }

func newRun(skill string, status run.Status) *run.Run {
	r := run.New(run.SessionConfig{Skill: run.Skill{Name: skill}, Agent: run.Agent{Name: "claude"}}, time.Now())
	r.Status = status
	if status != run.StatusPending {
		started := time.Now().Add(-2 * time.Second)
		r.StartedAt = &started
	}
	return r
}

func press(t *testing.T, m Model, key string) Model {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModel_ListView(t *testing.T) {
	q := &fakeQueue{limit: 2, runs: []*run.Run{
		newRun("lint", run.StatusRunning),
		newRun("docs", run.StatusPending),
	}}
	m := New(q, fakeSchedules{{ID: "nightly", Skill: "lint", FireCount: 2}}, nil)

	view := m.View()
	for _, want := range []string{"lint", "docs", "Runs (2)", "Active:", "nightly"} {
		assert.Contains(t, view, want)
	}
}

func TestModel_EmptyQueue(t *testing.T) {
	m := New(&fakeQueue{limit: 1}, nil, nil)
	assert.Contains(t, m.View(), "No runs yet")
	m = press(t, m, "enter")
	assert.Equal(t, ViewModeList, m.viewMode, "enter without runs should stay on the list")
	m = press(t, m, "c")
	m = press(t, m, "down")
	assert.Equal(t, 0, m.selected)
}

func TestModel_Navigation(t *testing.T) {
	q := &fakeQueue{limit: 2, runs: []*run.Run{
		newRun("a", run.StatusDone),
		newRun("b", run.StatusRunning),
		newRun("c", run.StatusPending),
	}}
	m := New(q, nil, nil)

	m = press(t, m, "down")
	m = press(t, m, "j")
	require.Equal(t, 2, m.selected)
	m = press(t, m, "down")
	assert.Equal(t, 2, m.selected, "cursor moved past the last run")
	m = press(t, m, "g")
	assert.Equal(t, 0, m.selected)
	m = press(t, m, "G")
	assert.Equal(t, 2, m.selected)
}

func TestModel_CursorFollowsRun(t *testing.T) {
	q := &fakeQueue{limit: 2, runs: []*run.Run{
		newRun("a", run.StatusPending),
		newRun("b", run.StatusPending),
	}}
	m := New(q, nil, nil)
	m = press(t, m, "down")
	target := m.selectedID

	snap := q.Snapshot()
	snap.Runs = append([]*run.Run{newRun("new", run.StatusPending)}, snap.Runs...)
	next, _ := m.Update(SnapshotMsg{Snapshot: snap})
	m = next.(Model)

	r, ok := m.selectedRun()
	require.True(t, ok)
	assert.Equal(t, target, r.ID, "cursor moved off the selected run")
}

func TestModel_Cancel(t *testing.T) {
	running := newRun("lint", run.StatusRunning)
	done := newRun("docs", run.StatusDone)
	q := &fakeQueue{limit: 2, runs: []*run.Run{running, done}}
	m := New(q, nil, nil)

	m = press(t, m, "c")
	require.Equal(t, []string{running.ID}, q.cancelled)
	r, _ := m.selectedRun()
	assert.Equal(t, run.StatusCancelled, r.Status)

	m = press(t, m, "down")
	press(t, m, "c")
	assert.Len(t, q.cancelled, 1, "finished runs must not be cancelled")
}

func TestModel_Concurrency(t *testing.T) {
	q := &fakeQueue{limit: 1}
	m := New(q, nil, nil)

	m = press(t, m, "-")
	assert.Equal(t, 1, q.limit, "limit dropped below 1")
	m = press(t, m, "+")
	press(t, m, "+")
	assert.Equal(t, 3, q.limit)
}

func TestModel_DetailView(t *testing.T) {
	r := newRun("ship", run.StatusRunning)
	r.Config.Argument = "issue 42"
	r.State = run.State{
		Phase: run.PhaseRunning,
		Steps: []run.Step{
			{Skill: "plan", Status: run.StepDone, Output: []string{"planned"}},
			{Skill: "build", Status: run.StepRunning, Output: []string{"compiling"}, PartialLine: "linking",
				ToolCalls: []run.ToolCall{{ID: "t1", Name: "Bash", Status: run.ToolCallRunning}}},
		},
		CurrentStepIndex: 1,
	}
	m := New(&fakeQueue{limit: 1, runs: []*run.Run{r}}, nil, nil)

	m = press(t, m, "enter")
	require.Equal(t, ViewModeDetail, m.viewMode)
	view := m.View()
	for _, want := range []string{"ship", "issue 42", "plan", "build", "compiling", "linking", "Bash (running)"} {
		assert.Contains(t, view, want)
	}
	assert.NotContains(t, view, "planned", "detail view should show only the active step output")

	m = press(t, m, "esc")
	assert.Equal(t, ViewModeList, m.viewMode)
}

func TestModel_Quit(t *testing.T) {
	m := New(&fakeQueue{limit: 1}, nil, nil)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, next.(Model).Quitting())
	assert.NotNil(t, cmd)
	assert.Equal(t, "Shutting down...\n", next.View())
}

func TestTailLines(t *testing.T) {
	lines := []string{"1", "2", "3"}
	assert.Equal(t, []string{"3", "4"}, tailLines(lines, "4", 2))
	assert.Len(t, tailLines(lines, "", 5), 3)
	assert.Equal(t, []string{"1", "2", "3"}, lines, "tailLines mutated its input")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1.5m"},
		{90 * time.Minute, "1.5h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d), "formatDuration(%v)", tt.d)
	}
}
