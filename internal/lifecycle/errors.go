package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/caevv/skillq/internal/agent"
)

// ErrorMessage normalizes a failure value into a human-readable string. It
// accepts errors, strings, recovered panic values and decoded protocol
// payloads.
func ErrorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return "unknown error"
	case string:
		return e
	case *agent.RPCError:
		if e.Message != "" {
			return e.Message
		}
		return e.Error()
	case error:
		if msg := e.Error(); msg != "" {
			return msg
		}
		return "unknown error"
	case map[string]any:
		if nested, ok := e["error"].(map[string]any); ok {
			if msg, ok := nested["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	case fmt.Stringer:
		return e.String()
	}

	if data, err := json.Marshal(v); err == nil && string(data) != "null" {
		return string(data)
	}
	return fmt.Sprint(v)
}
