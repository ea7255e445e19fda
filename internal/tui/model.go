package tui

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/scheduler"
)

// ViewMode represents the current view in the TUI.
type ViewMode int

const (
	ViewModeList ViewMode = iota
	ViewModeDetail
)

// outputLines is how many trailing output lines the detail view shows.
const outputLines = 15

// Queue is the part of the run queue the monitor reads and controls.
type Queue interface {
	Snapshot() *run.Snapshot
	Cancel(id string)
	SetConcurrency(n int)
}

// Schedules reports recurring schedule activity.
type Schedules interface {
	AllStats() []scheduler.Stats
}

// Model holds the state for the TUI.
type Model struct {
	queue     Queue
	schedules Schedules
	logger    *slog.Logger

	viewMode     ViewMode
	snap         *run.Snapshot
	stats        []scheduler.Stats
	selected     int
	selectedID   string
	width        int
	height       int
	lastUpdate   time.Time
	quitting     bool
	errorMessage string
}

// SnapshotMsg delivers a fresh queue snapshot, for example from a queue
// observer through tea.Program.Send.
type SnapshotMsg struct {
	Snapshot *run.Snapshot
}

// New creates a new TUI model. schedules may be nil.
func New(queue Queue, schedules Schedules, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := Model{
		queue:     queue,
		schedules: schedules,
		logger:    logger,
	}
	m.refreshData()
	return m
}

// Init initializes the model (required by Bubbletea).
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// tickMsg is sent on a regular interval to refresh the UI.
type tickMsg time.Time

// tickCmd returns a command that sends a tick message every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshData reads the latest snapshot and schedule stats.
func (m *Model) refreshData() {
	m.setSnapshot(m.queue.Snapshot())
	if m.schedules != nil {
		m.stats = m.schedules.AllStats()
	}
}

// setSnapshot replaces the snapshot and keeps the cursor on the same run
// when it is still listed.
func (m *Model) setSnapshot(snap *run.Snapshot) {
	if snap == nil {
		snap = &run.Snapshot{}
	}
	m.snap = snap
	m.lastUpdate = time.Now()

	if m.selectedID != "" {
		for i, r := range snap.Runs {
			if r.ID == m.selectedID {
				m.selected = i
				return
			}
		}
	}
	if m.selected >= len(snap.Runs) {
		m.selected = len(snap.Runs) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	m.selectedID = ""
	if len(snap.Runs) > 0 {
		m.selectedID = snap.Runs[m.selected].ID
	}
}

// selectedRun returns the run under the cursor.
func (m Model) selectedRun() (*run.Run, bool) {
	if m.snap == nil || m.selected >= len(m.snap.Runs) || m.selected < 0 {
		return nil, false
	}
	return m.snap.Runs[m.selected], true
}

// Quitting returns true if the user has requested to quit.
func (m Model) Quitting() bool {
	return m.quitting
}
