package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/caevv/skillq/internal/run"
)

const maxLineSize = 4 * 1024 * 1024

// streamLine covers the message shapes of the agent's stream-json output.
type streamLine struct {
	Type    string         `json:"type"`
	Subtype string         `json:"subtype"`
	IsError bool           `json:"is_error"`
	Result  string         `json:"result"`
	Message *streamMessage `json:"message"`
	Event   *streamEvent   `json:"event"`
	Error   *RPCError      `json:"error"`
}

type streamMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	ToolUseID string `json:"tool_use_id"`
	IsError   bool   `json:"is_error"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// ParseStream reads newline-delimited JSON from r and emits events in order.
// Lines that are not JSON are passed through as output. It returns an error
// when the stream reports a failed result.
func ParseStream(r io.Reader, emit func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var resultErr error
	streamedText := false

	for scanner.Scan() {
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		var line streamLine
		if !strings.HasPrefix(trimmed, "{") || json.Unmarshal([]byte(trimmed), &line) != nil {
			emit(OutputEvent(raw + "\n"))
			continue
		}

		switch line.Type {
		case "stream_event":
			if line.Event != nil && line.Event.Delta.Type == "text_delta" && line.Event.Delta.Text != "" {
				streamedText = true
				emit(OutputEvent(line.Event.Delta.Text))
			}
		case "assistant":
			if line.Message == nil {
				continue
			}
			for _, block := range line.Message.Content {
				switch block.Type {
				case "text":
					// Already delivered as deltas when partial messages are enabled.
					if streamedText || block.Text == "" {
						continue
					}
					text := block.Text
					if !strings.HasSuffix(text, "\n") {
						text += "\n"
					}
					emit(OutputEvent(text))
				case "tool_use":
					emit(ToolCallEvent(block.ID, block.Name, run.ToolCallRunning))
				}
			}
		case "user":
			if line.Message == nil {
				continue
			}
			for _, block := range line.Message.Content {
				if block.Type != "tool_result" {
					continue
				}
				status := run.ToolCallDone
				if block.IsError {
					status = run.ToolCallError
				}
				emit(ToolCallEvent(block.ToolUseID, "", status))
			}
		case "result":
			if line.IsError || (line.Subtype != "" && line.Subtype != "success") {
				msg := line.Result
				if msg == "" {
					msg = line.Subtype
				}
				resultErr = &RPCError{Message: msg}
			}
		case "error":
			if line.Error != nil {
				resultErr = line.Error
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read agent stream: %w", err)
	}
	return resultErr
}
