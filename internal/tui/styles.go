// Package tui provides a terminal monitor for the skillq run queue.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/caevv/skillq/internal/run"
)

var (
	// Color palette
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSuccess   = lipgloss.Color("#10B981") // Green
	colorError     = lipgloss.Color("#EF4444") // Red
	colorWarning   = lipgloss.Color("#F59E0B") // Orange
	colorInfo      = lipgloss.Color("#3B82F6") // Blue
	colorMuted     = lipgloss.Color("#6B7280") // Gray
	colorBorder    = lipgloss.Color("#374151") // Dark gray
	colorHighlight = lipgloss.Color("#8B5CF6") // Light purple

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorBorder).
			Padding(0, 1).
			MarginBottom(1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1).
			MarginTop(1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2).
			MarginBottom(1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	rowSelectedStyle = lipgloss.NewStyle().
				Foreground(colorHighlight).
				Bold(true).
				Padding(0, 1)

	statusRunningStyle = lipgloss.NewStyle().
				Foreground(colorInfo).
				Bold(true)

	statusSuccessStyle = lipgloss.NewStyle().
				Foreground(colorSuccess).
				Bold(true)

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(colorError).
				Bold(true)

	statusCancelledStyle = lipgloss.NewStyle().
				Foreground(colorWarning)

	statusPendingStyle = lipgloss.NewStyle().
				Foreground(colorMuted)

	statsStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Padding(0, 1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	valueStyle = lipgloss.NewStyle().
			Bold(true)

	durationStyle = lipgloss.NewStyle().
			Foreground(colorInfo)

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D1D5DB"))
)

// Status icons
const (
	iconRunning   = "⟳"
	iconSuccess   = "✓"
	iconError     = "✗"
	iconCancelled = "⊘"
	iconPending   = "◌"
	iconArrow     = ">"
	iconBullet    = "•"
)

// statusLabel returns the icon and style for a run status.
func statusLabel(s run.Status) (string, lipgloss.Style) {
	switch s {
	case run.StatusRunning:
		return iconRunning, statusRunningStyle
	case run.StatusDone:
		return iconSuccess, statusSuccessStyle
	case run.StatusError:
		return iconError, statusErrorStyle
	case run.StatusCancelled:
		return iconCancelled, statusCancelledStyle
	default:
		return iconPending, statusPendingStyle
	}
}

// stepLabel returns the icon and style for a pipeline step status.
func stepLabel(s run.StepStatus) (string, lipgloss.Style) {
	switch s {
	case run.StepRunning:
		return iconRunning, statusRunningStyle
	case run.StepDone:
		return iconSuccess, statusSuccessStyle
	case run.StepError:
		return iconError, statusErrorStyle
	default:
		return iconPending, statusPendingStyle
	}
}
