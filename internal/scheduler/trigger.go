package scheduler

import (
	"context"
	"time"

	"github.com/caevv/skillq/internal/config"
)

// Trigger starts a run for a schedule and returns the new run's ID.
// Implementations must not block on the run itself.
type Trigger interface {
	Trigger(ctx context.Context, s config.Schedule) (string, error)
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, s config.Schedule) (string, error)

func (f TriggerFunc) Trigger(ctx context.Context, s config.Schedule) (string, error) {
	return f(ctx, s)
}

// Stats describes a schedule's activity.
type Stats struct {
	ID        string    `json:"id"`
	Schedule  string    `json:"schedule"`
	Skill     string    `json:"skill"`
	LastFire  time.Time `json:"last_fire,omitempty"`
	NextFire  time.Time `json:"next_fire"`
	FireCount int64     `json:"fire_count"`
	LastRunID string    `json:"last_run_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}
