package tui

import (
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles incoming messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.setSnapshot(msg.Snapshot)
		return m, nil

	case tickMsg:
		m.refreshData()
		return m, tickCmd()

	case error:
		m.errorMessage = msg.Error()
		return m, nil
	}

	return m, nil
}

// handleKeyPress processes keyboard input.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.viewMode = ViewModeList
		return m, nil

	case "enter":
		if _, ok := m.selectedRun(); ok {
			m.viewMode = ViewModeDetail
		}
		return m, nil

	case "up", "k":
		if m.viewMode == ViewModeList && m.selected > 0 {
			m.moveTo(m.selected - 1)
		}
		return m, nil

	case "down", "j":
		if m.viewMode == ViewModeList && m.selected < len(m.snap.Runs)-1 {
			m.moveTo(m.selected + 1)
		}
		return m, nil

	case "g":
		if m.viewMode == ViewModeList {
			m.moveTo(0)
		}
		return m, nil

	case "G":
		if m.viewMode == ViewModeList && len(m.snap.Runs) > 0 {
			m.moveTo(len(m.snap.Runs) - 1)
		}
		return m, nil

	case "c", "x":
		r, ok := m.selectedRun()
		if ok && !r.Status.Terminal() {
			m.logger.Info("cancelling run", slog.String("run_id", r.ID))
			m.queue.Cancel(r.ID)
			m.refreshData()
		}
		return m, nil

	case "+", "=":
		m.queue.SetConcurrency(m.snap.Concurrency + 1)
		m.refreshData()
		return m, nil

	case "-":
		if m.snap.Concurrency > 1 {
			m.queue.SetConcurrency(m.snap.Concurrency - 1)
			m.refreshData()
		}
		return m, nil

	case "r":
		m.errorMessage = ""
		m.refreshData()
		return m, nil
	}

	return m, nil
}

func (m *Model) moveTo(i int) {
	m.selected = i
	m.selectedID = m.snap.Runs[i].ID
}
