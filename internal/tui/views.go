package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/caevv/skillq/internal/run"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	if m.viewMode == ViewModeDetail {
		return m.renderDetailView()
	}

	sections := []string{
		m.renderHeader("⚡ skillq"),
		m.renderStats(),
		m.renderRunList(),
	}
	if len(m.stats) > 0 {
		sections = append(sections, m.renderSchedules())
	}
	sections = append(sections, m.renderHelpBar("q: quit  │  ↑/↓: navigate  │  enter: details  │  c: cancel  │  +/-: concurrency"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderHeader renders the dashboard header.
func (m Model) renderHeader(title string) string {
	subtitle := subtitleStyle.Render(fmt.Sprintf("Last updated: %s", m.lastUpdate.Format("15:04:05")))
	header := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render(title), "  ", subtitle)
	return headerStyle.Render(header)
}

// renderStats renders the queue counters.
func (m Model) renderStats() string {
	stats := []string{
		fmt.Sprintf("%s %d/%d", keyStyle.Render("Active:"), m.snap.Active, m.snap.Concurrency),
		fmt.Sprintf("%s %d", keyStyle.Render("Pending:"), m.snap.Pending),
		fmt.Sprintf("%s %d", keyStyle.Render("Done:"), m.snap.Count(run.StatusDone)),
		fmt.Sprintf("%s %d", keyStyle.Render("Failed:"), m.snap.Count(run.StatusError)),
		fmt.Sprintf("%s %d", keyStyle.Render("Cancelled:"), m.snap.Count(run.StatusCancelled)),
	}
	return statsStyle.Render(strings.Join(stats, "  │  "))
}

// renderRunList renders every run in queue order.
func (m Model) renderRunList() string {
	if len(m.snap.Runs) == 0 {
		return panelStyle.Render(subtitleStyle.Render("No runs yet"))
	}

	rows := []string{titleStyle.Render(fmt.Sprintf("Runs (%d)", len(m.snap.Runs))), ""}
	header := fmt.Sprintf("   %-8s  %-20s  %-11s  %-18s  %s", "Run", "Skill", "Status", "Phase", "Duration")
	rows = append(rows, keyStyle.Render(header))
	rows = append(rows, keyStyle.Render(strings.Repeat("─", 74)))

	for i, r := range m.snap.Runs {
		rows = append(rows, m.renderRunRow(r, i == m.selected))
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

// renderRunRow renders a single run row.
func (m Model) renderRunRow(r *run.Run, selected bool) string {
	cursor := " "
	if selected {
		cursor = iconArrow
	}

	icon, style := statusLabel(r.Status)
	status := style.Render(padRight(fmt.Sprintf("%s %s", icon, r.Status), 11))

	phase := string(r.State.Phase)
	if r.Status == run.StatusPending {
		phase = "-"
	}

	row := fmt.Sprintf("%s  %-8s  %-20s  %s  %-18s  %s",
		cursor,
		truncate(r.ID, 8),
		truncate(r.Config.Skill.Name, 20),
		status,
		truncate(phase, 18),
		durationStyle.Render(runDuration(r)),
	)

	if selected {
		return rowSelectedStyle.Render(row)
	}
	return rowStyle.Render(row)
}

// renderSchedules renders recurring schedule activity.
func (m Model) renderSchedules() string {
	rows := []string{titleStyle.Render("Schedules"), ""}
	header := fmt.Sprintf("   %-16s  %-16s  %-6s  %s", "ID", "Skill", "Fired", "Next")
	rows = append(rows, keyStyle.Render(header))

	for _, s := range m.stats {
		next := "-"
		if !s.NextFire.IsZero() {
			next = formatTimeFromNow(s.NextFire)
		}
		row := fmt.Sprintf("%s  %-16s  %-16s  %-6d  %s",
			iconBullet, truncate(s.ID, 16), truncate(s.Skill, 16), s.FireCount, next)
		if s.LastError != "" {
			row += "  " + statusErrorStyle.Render(truncate(s.LastError, 40))
		}
		rows = append(rows, rowStyle.Render(row))
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

// renderHelpBar renders the help/status bar at the bottom.
func (m Model) renderHelpBar(help string) string {
	if m.errorMessage != "" {
		return statusBarStyle.Render(statusErrorStyle.Render("Error: " + m.errorMessage))
	}
	return statusBarStyle.Render(help)
}

// renderDetailView renders the selected run with its steps and output.
func (m Model) renderDetailView() string {
	r, ok := m.selectedRun()
	if !ok {
		return "Invalid run selection"
	}

	sections := []string{m.renderHeader(fmt.Sprintf("⚡ skillq - %s", r.Config.Skill.Name))}

	icon, style := statusLabel(r.Status)
	info := []string{
		titleStyle.Render("Run"),
		"",
		kv("ID:", r.ID),
		fmt.Sprintf("%s %s", keyStyle.Render("Status:"), style.Render(fmt.Sprintf("%s %s", icon, r.Status))),
		kv("Phase:", string(r.State.Phase)),
		kv("Agent:", r.Config.Agent.Name),
	}
	if r.Config.Argument != "" {
		info = append(info, kv("Argument:", truncate(r.Config.Argument, 60)))
	}
	if r.Config.Branch != "" {
		info = append(info, kv("Branch:", r.Config.Branch))
	}
	if r.Config.WorktreePath != "" {
		info = append(info, kv("Worktree:", r.Config.WorktreePath))
	}
	info = append(info, fmt.Sprintf("%s %s", keyStyle.Render("Duration:"), durationStyle.Render(runDuration(r))))
	if r.PRURL != "" {
		info = append(info, kv("Pull request:", r.PRURL))
	}
	if r.Error != "" {
		info = append(info, keyStyle.Render("Error: ")+statusErrorStyle.Render(truncate(r.Error, 75)))
	}
	sections = append(sections, panelStyle.Render(strings.Join(info, "\n")))

	if len(r.State.Steps) > 0 {
		steps := []string{titleStyle.Render("Steps"), ""}
		for i, st := range r.State.Steps {
			icon, style := stepLabel(st.Status)
			line := fmt.Sprintf("%d. %s %s", i+1, style.Render(icon), st.Skill)
			if i == r.State.CurrentStepIndex && st.Status == run.StepRunning {
				line = valueStyle.Render(line)
			}
			steps = append(steps, line)
		}
		sections = append(sections, panelStyle.Render(strings.Join(steps, "\n")))
	}

	lines, partial, calls := liveOutput(r)
	out := []string{titleStyle.Render("Output"), ""}
	if len(calls) > 0 {
		for _, c := range calls {
			out = append(out, keyStyle.Render(fmt.Sprintf("%s %s (%s)", iconBullet, c.Name, c.Status)))
		}
		out = append(out, "")
	}
	tail := tailLines(lines, partial, outputLines)
	if len(tail) == 0 {
		out = append(out, subtitleStyle.Render("No output yet"))
	}
	for _, l := range tail {
		out = append(out, outputStyle.Render(truncate(l, 100)))
	}
	sections = append(sections, panelStyle.Render(strings.Join(out, "\n")))

	sections = append(sections, m.renderHelpBar("esc: back  │  c: cancel  │  q: quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func kv(key, value string) string {
	return fmt.Sprintf("%s %s", keyStyle.Render(key), valueStyle.Render(value))
}

// liveOutput returns the output of the active step, or of the run when it
// has no steps.
func liveOutput(r *run.Run) ([]string, string, []run.ToolCall) {
	if n := len(r.State.Steps); n > 0 {
		i := r.State.CurrentStepIndex
		if i < 0 || i >= n {
			i = n - 1
		}
		st := r.State.Steps[i]
		return st.Output, st.PartialLine, st.ToolCalls
	}
	return r.State.Output, r.State.PartialLine, r.State.ToolCalls
}

// tailLines returns the last n lines including a non-empty partial line.
func tailLines(lines []string, partial string, n int) []string {
	all := lines
	if partial != "" {
		all = append(append([]string(nil), lines...), partial)
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// runDuration formats how long a run has been executing.
func runDuration(r *run.Run) string {
	if r.StartedAt == nil {
		return "-"
	}
	return formatDuration(r.Duration())
}

// Helper functions

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// formatTimeFromNow formats a time relative to now.
func formatTimeFromNow(t time.Time) string {
	duration := time.Until(t)

	if duration < 0 {
		return "now"
	}
	if duration < time.Minute {
		return fmt.Sprintf("in %ds", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("in %dm", int(duration.Minutes()))
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("in %dh %dm", int(duration.Hours()), int(duration.Minutes())%60)
	}
	return fmt.Sprintf("in %dd", int(duration.Hours()/24))
}

// truncate truncates a string to a maximum length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// padRight pads a string with spaces to reach the desired length.
func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}
