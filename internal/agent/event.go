// Package agent runs single agent turns and translates the agent's stream
// into ordered events.
package agent

import (
	"fmt"

	"github.com/caevv/skillq/internal/run"
)

// EventKind identifies what an Event carries.
type EventKind string

const (
	EventOutput   EventKind = "output"
	EventToolCall EventKind = "tool-call"
)

// Event is one update emitted during a turn. Events for a turn are delivered
// in emission order from a single goroutine.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall run.ToolCall
}

// OutputEvent returns an output event for text.
func OutputEvent(text string) Event {
	return Event{Kind: EventOutput, Text: text}
}

// ToolCallEvent returns a tool-call event.
func ToolCallEvent(id, name string, status run.ToolCallStatus) Event {
	return Event{Kind: EventToolCall, ToolCall: run.ToolCall{ID: id, Name: name, Status: status}}
}

// TurnConfig describes one agent turn.
type TurnConfig struct {
	WorkDir   string
	Prompt    string
	Model     string
	Agent     run.Agent
	Image     string
	SkillName string
}

// RPCError is a structured error reported by the agent protocol.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
	}
	return e.Message
}
