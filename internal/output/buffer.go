// Package output coalesces streamed text fragments into committed lines and
// a trailing partial line.
package output

import (
	"strings"
	"sync"
	"time"

	"github.com/caevv/skillq/internal/timer"
)

// RunTarget addresses the run's own output rather than a pipeline step.
const RunTarget = -1

// DefaultDelay is how long fragments are buffered before a flush.
const DefaultDelay = 50 * time.Millisecond

// Sink receives flushed output. step is RunTarget or a step index. lines are
// the newly completed lines and partial replaces the previous partial line.
type Sink interface {
	AppendOutput(step int, lines []string, partial string)
}

// Buffer aggregates output for a single run. It is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	sink     Sink
	target   int
	partial  string
	pending  []string
	dirty    bool
	closed   bool
	debounce *timer.Debouncer
}

// New creates a Buffer that flushes into sink at most once per delay.
func New(sink Sink, delay time.Duration) *Buffer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	b := &Buffer{sink: sink, target: RunTarget}
	b.debounce = timer.NewDebouncer(delay, b.Flush)
	return b
}

// Write appends text to the given target. Switching targets flushes what was
// buffered for the previous one first.
func (b *Buffer) Write(step int, text string) {
	if text == "" {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if step != b.target {
		b.flushLocked()
		b.target = step
		b.partial = ""
	}

	parts := strings.Split(b.partial+text, "\n")
	b.pending = append(b.pending, parts[:len(parts)-1]...)
	b.partial = parts[len(parts)-1]
	b.dirty = true
	b.mu.Unlock()

	b.debounce.Trigger()
}

// WriteLine writes text as one complete line.
func (b *Buffer) WriteLine(step int, text string) {
	b.Write(step, text+"\n")
}

// Flush commits buffered lines and the current partial line to the sink.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Buffer) flushLocked() {
	if !b.dirty {
		return
	}
	lines := b.pending
	b.pending = nil
	b.dirty = false
	b.sink.AppendOutput(b.target, lines, b.partial)
}

// Close flushes any buffered output and stops the flush timer. Writes after
// Close are dropped.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.flushLocked()
	b.closed = true
	b.mu.Unlock()

	b.debounce.Stop()
}
