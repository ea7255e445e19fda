// Package container ensures agent container images exist, building them
// with the docker CLI when missing.
package container

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// BuildResult reports what EnsureImage did.
type BuildResult struct {
	Tag   string
	Built bool
}

// Docker builds images with the docker CLI.
type Docker struct {
	binary string
	logger *slog.Logger
}

// New creates a Docker builder. An empty binary means "docker".
func New(binary string, logger *slog.Logger) *Docker {
	if binary == "" {
		binary = "docker"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Docker{binary: binary, logger: logger}
}

// ImageExists reports whether tag is present locally.
func (d *Docker) ImageExists(ctx context.Context, tag string) (bool, error) {
	cmd := exec.CommandContext(ctx, d.binary, "image", "inspect", tag)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = io.Discard

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %s: %w", tag, err)
}

// EnsureImage builds tag from dockerfile unless it already exists. Build
// output is delivered line by line to progress.
func (d *Docker) EnsureImage(ctx context.Context, tag, dockerfile, contextPath string, progress func(string)) (BuildResult, error) {
	exists, err := d.ImageExists(ctx, tag)
	if err != nil {
		return BuildResult{Tag: tag}, err
	}
	if exists {
		return BuildResult{Tag: tag}, nil
	}

	d.logger.Info("building image",
		slog.String("tag", tag),
		slog.String("dockerfile", dockerfile))

	cmd := exec.CommandContext(ctx, d.binary, "build", "-t", tag, "-f", dockerfile, contextPath)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var tail tailBuffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			if progress != nil {
				progress(line)
			}
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	runErr := cmd.Run()
	pw.Close()
	<-done

	if runErr != nil {
		if ctx.Err() != nil {
			return BuildResult{Tag: tag}, ctx.Err()
		}
		return BuildResult{Tag: tag}, fmt.Errorf("docker build %s failed: %w: %s", tag, runErr, tail.String())
	}
	return BuildResult{Tag: tag, Built: true}, nil
}

const tailLines = 5

// tailBuffer keeps the last few build lines for error messages.
type tailBuffer struct {
	lines []string
}

func (t *tailBuffer) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > tailLines {
		t.lines = t.lines[len(t.lines)-tailLines:]
	}
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
