package server

import (
	"html/template"
	"net/http"
	"time"

	"github.com/caevv/skillq/internal/run"
	"github.com/caevv/skillq/internal/scheduler"
)

// DashboardData holds data for the dashboard template
type DashboardData struct {
	Title     string
	Version   string
	Uptime    string
	Snapshot  *run.Snapshot
	Schedules []scheduler.Stats
}

// handleDashboard serves a read-only HTML overview of the queue. It reloads
// itself whenever the event stream reports a change.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		Title:    "skillq",
		Version:  version,
		Uptime:   s.Uptime(),
		Snapshot: s.queue.Snapshot(),
	}
	if s.schedules != nil {
		data.Schedules = s.schedules.AllStats()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error("failed to render dashboard template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// templateFuncs provides custom template functions
var templateFuncs = template.FuncMap{
	"formatTime": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"formatDuration": func(r *run.Run) string {
		d := r.Duration()
		if d == 0 {
			return "-"
		}
		return d.Round(time.Second).String()
	},
	"statusBadge": func(status run.Status) template.HTML {
		class := "badge-secondary"
		switch status {
		case run.StatusDone:
			class = "badge-success"
		case run.StatusError:
			class = "badge-danger"
		case run.StatusRunning:
			class = "badge-info"
		}
		return template.HTML(`<span class="badge ` + class + `">` + template.HTMLEscapeString(string(status)) + `</span>`)
	},
	"truncate": func(s string, max int) string {
		if len(s) <= max {
			return s
		}
		return s[:max] + "..."
	},
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(templateFuncs).Parse(dashboardTemplate))

// dashboardTemplate is the main dashboard HTML template
const dashboardTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; color: #333; line-height: 1.6; }
        .container { max-width: 1200px; margin: 0 auto; padding: 20px; }
        header { background: #2c3e50; color: white; padding: 20px 0; margin-bottom: 30px; }
        header .meta { font-size: 14px; opacity: 0.8; }
        .stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 20px; margin-bottom: 30px; }
        .stat-card, .section { background: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .section { margin-bottom: 30px; }
        .stat-card h3 { font-size: 14px; color: #7f8c8d; text-transform: uppercase; }
        .stat-card .value { font-size: 32px; font-weight: bold; color: #2c3e50; }
        table { width: 100%; border-collapse: collapse; }
        th { background: #f8f9fa; text-align: left; padding: 12px; border-bottom: 2px solid #dee2e6; }
        td { padding: 12px; border-bottom: 1px solid #dee2e6; }
        .badge { display: inline-block; padding: 4px 8px; border-radius: 4px; font-size: 12px; font-weight: 600; text-transform: uppercase; }
        .badge-success { background: #d4edda; color: #155724; }
        .badge-danger { background: #f8d7da; color: #721c24; }
        .badge-info { background: #d1ecf1; color: #0c5460; }
        .badge-secondary { background: #e2e3e5; color: #383d41; }
        .empty { text-align: center; padding: 40px; color: #7f8c8d; }
        code { background: #f8f9fa; padding: 2px 6px; border-radius: 3px; font-family: monospace; font-size: 13px; }
    </style>
</head>
<body>
    <header>
        <div class="container">
            <h1>{{.Title}}</h1>
            <div class="meta">Version: {{.Version}} | Uptime: {{.Uptime}}</div>
        </div>
    </header>

    <div class="container">
        <div class="stats">
            <div class="stat-card"><h3>Concurrency</h3><div class="value">{{.Snapshot.Concurrency}}</div></div>
            <div class="stat-card"><h3>Active</h3><div class="value">{{.Snapshot.Active}}</div></div>
            <div class="stat-card"><h3>Pending</h3><div class="value">{{.Snapshot.Pending}}</div></div>
            <div class="stat-card"><h3>Runs</h3><div class="value">{{len .Snapshot.Runs}}</div></div>
        </div>

        <div class="section">
            <h2>Runs</h2>
            {{if .Snapshot.Runs}}
            <table>
                <thead>
                    <tr><th>Run</th><th>Skill</th><th>Agent</th><th>Status</th><th>Phase</th><th>Started</th><th>Duration</th><th>Result</th></tr>
                </thead>
                <tbody>
                    {{range .Snapshot.Runs}}
                    <tr>
                        <td><code>{{truncate .ID 8}}</code></td>
                        <td>{{.Config.Skill.Name}}</td>
                        <td>{{.Config.Agent.Name}}</td>
                        <td>{{statusBadge .Status}}</td>
                        <td>{{.State.Phase}}</td>
                        <td>{{formatTime .StartedAt}}</td>
                        <td>{{formatDuration .}}</td>
                        <td>{{if .PRURL}}<a href="{{.PRURL}}">pull request</a>{{else}}{{truncate .Error 80}}{{end}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
            {{else}}
            <div class="empty">No runs yet</div>
            {{end}}
        </div>

        {{if .Schedules}}
        <div class="section">
            <h2>Schedules</h2>
            <table>
                <thead>
                    <tr><th>ID</th><th>Schedule</th><th>Skill</th><th>Fired</th><th>Next</th><th>Last error</th></tr>
                </thead>
                <tbody>
                    {{range .Schedules}}
                    <tr>
                        <td>{{.ID}}</td>
                        <td><code>{{.Schedule}}</code></td>
                        <td>{{.Skill}}</td>
                        <td>{{.FireCount}}</td>
                        <td>{{.NextFire.Format "2006-01-02 15:04:05"}}</td>
                        <td>{{truncate .LastError 80}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </div>
        {{end}}
    </div>
    <script>
        new EventSource("/api/events").addEventListener("snapshot", function () {
            if (window.__loaded) { location.reload(); }
            window.__loaded = true;
        });
    </script>
</body>
</html>
`
