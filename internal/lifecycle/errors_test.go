package lifecycle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/caevv/skillq/internal/agent"
	"github.com/stretchr/testify/assert"
)

type named string

func (n named) String() string { return "named:" + string(n) }

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: "unknown error"},
		{name: "string", in: "boom", want: "boom"},
		{name: "error", in: errors.New("disk full"), want: "disk full"},
		{name: "wrapped error", in: fmt.Errorf("commit: %w", errors.New("locked")), want: "commit: locked"},
		{name: "empty error", in: errors.New(""), want: "unknown error"},
		{name: "rpc error message", in: &agent.RPCError{Code: -32000, Message: "rate limited"}, want: "rate limited"},
		{name: "rpc error without message", in: &agent.RPCError{Code: 7}, want: "agent error 7: "},
		{
			name: "nested error message",
			in:   map[string]any{"error": map[string]any{"message": "overloaded"}, "message": "outer"},
			want: "overloaded",
		},
		{name: "top-level message", in: map[string]any{"message": "bad request", "code": 400}, want: "bad request"},
		{name: "map without message", in: map[string]any{"code": 500}, want: `{"code":500}`},
		{name: "empty nested message", in: map[string]any{"error": map[string]any{"message": ""}, "message": "fallback"}, want: "fallback"},
		{name: "stringer", in: named("x"), want: "named:x"},
		{name: "json value", in: []int{1, 2}, want: "[1,2]"},
		{name: "number", in: 42, want: "42"},
		{name: "unmarshalable falls back to Sprint", in: make(chan int), want: "<sprint>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorMessage(tt.in)
			if tt.want == "<sprint>" {
				assert.Equal(t, fmt.Sprint(tt.in), got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
