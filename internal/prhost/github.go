package prhost

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const availableKey = "gh:available"

// GitHub creates pull requests with the gh CLI.
type GitHub struct {
	binary string
	cache  *ProbeCache
	logger *slog.Logger
}

// Option configures GitHub.
type Option func(*GitHub)

// WithBinary overrides the gh executable.
func WithBinary(path string) Option {
	return func(g *GitHub) { g.binary = path }
}

// WithCache shares a probe cache between clients.
func WithCache(c *ProbeCache) Option {
	return func(g *GitHub) { g.cache = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *GitHub) { g.logger = logger }
}

// New creates a GitHub client.
func New(opts ...Option) *GitHub {
	g := &GitHub{binary: "gh", logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewProbeCache()
	}
	return g
}

// Available reports whether gh is installed and authenticated. The result
// is memoized unless ctx ended before the probe finished.
func (g *GitHub) Available(ctx context.Context) bool {
	return g.cache.Get(availableKey, func() (bool, error) {
		if _, err := exec.LookPath(g.binary); err != nil {
			return false, nil
		}
		_, err := g.run(ctx, "", "auth", "status")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if err != nil {
			g.logger.Debug("gh unavailable", slog.String("error", err.Error()))
		}
		return err == nil, nil
	})
}

// IsHosted reports whether the repository at path has a GitHub origin. The
// result is memoized per path unless ctx ended before the probe finished.
func (g *GitHub) IsHosted(ctx context.Context, path string) bool {
	return g.cache.Get("repo:"+path, func() (bool, error) {
		_, err := g.run(ctx, path, "repo", "view", "--json", "url")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return err == nil, nil
	})
}

// CreatePR opens a pull request for branch and returns its URL.
func (g *GitHub) CreatePR(ctx context.Context, path, branch, title, body string) (string, error) {
	out, err := g.run(ctx, path, "pr", "create", "--head", branch, "--title", title, "--body", body)
	if err != nil {
		return "", fmt.Errorf("failed to create pull request: %w", err)
	}
	url := lastLine(out)
	if url == "" {
		return "", fmt.Errorf("gh pr create returned no URL")
	}
	return url, nil
}

func (g *GitHub) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("gh %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("gh %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
