// Package logging builds the slog loggers used across skillq and attaches
// run-scoped attributes to them.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/caevv/skillq/internal/run"
)

const redacted = "***REDACTED***"

// secretPatterns match attribute keys whose values must never be logged.
// Agents and PR hosts are configured through tokens and API keys.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i).*_TOKEN$`),
	regexp.MustCompile(`(?i).*_SECRET$`),
	regexp.MustCompile(`(?i).*API_?KEY.*`),
	regexp.MustCompile(`(?i).*PASSWORD.*`),
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a JSON logger on stderr.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter creates a JSON logger writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(newHandler(w, "json", ParseLevel(level)))
}

// NewFromConfig creates a logger from the logging config section. format is
// json or text. output is stderr, stdout, discard or a file path. The
// returned closer releases the log file, if any.
func NewFromConfig(format, level, output string) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "discard", os.DevNull:
		w = io.Discard
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	return slog.New(newHandler(w, format, ParseLevel(level))), closer, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSecrets,
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	for _, pattern := range secretPatterns {
		if pattern.MatchString(a.Key) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// ForRun returns logger scoped to r.
func ForRun(logger *slog.Logger, r *run.Run) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		return logger
	}
	attrs := []any{
		slog.String("run_id", r.ID),
		slog.String("skill", r.Config.Skill.Name),
	}
	if r.Config.Agent.Name != "" {
		attrs = append(attrs, slog.String("agent", r.Config.Agent.Name))
	}
	return logger.With(attrs...)
}
