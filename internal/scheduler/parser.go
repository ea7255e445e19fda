package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	minInterval = time.Second
	maxInterval = 365 * 24 * time.Hour
)

var (
	// Optional seconds field plus @hourly-style descriptors and @every.
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	intervalRegex = regexp.MustCompile(`^every\s+(\d+)\s*(s|sec|second|seconds|m|min|minute|minutes|h|hour|hours|d|day|days)$`)

	unitDurations = map[string]time.Duration{
		"s": time.Second, "sec": time.Second, "second": time.Second, "seconds": time.Second,
		"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
		"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
		"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	}
)

// ParseSchedule parses a schedule expression. Accepted forms:
//   - cron expressions with 5 or 6 fields: "0 2 * * *", "*/30 * * * * *"
//   - descriptors: "@hourly", "@daily", "@every 90m"
//   - intervals: "every 5m", "every 2 hours", "every 1d"
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule expression cannot be empty")
	}

	if lower := strings.ToLower(expr); strings.HasPrefix(lower, "every ") {
		d, err := parseInterval(lower)
		if err != nil {
			return nil, fmt.Errorf("invalid interval expression %q: %w", expr, err)
		}
		return cron.Every(d), nil
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// parseInterval returns the duration of an "every <n><unit>" expression.
func parseInterval(expr string) (time.Duration, error) {
	matches := intervalRegex.FindStringSubmatch(expr)
	if len(matches) != 3 {
		return 0, fmt.Errorf("expected 'every <number><unit>' (e.g., 'every 5m')")
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("interval must be a positive integer")
	}

	d := time.Duration(value) * unitDurations[matches[2]]
	switch {
	case d < minInterval:
		return 0, fmt.Errorf("interval must be at least %s", minInterval)
	case d > maxInterval:
		return 0, fmt.Errorf("interval cannot exceed one year")
	}
	return d, nil
}

// ValidateSchedule reports whether expr can be scheduled.
func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// NextRun calculates the next fire time for a schedule expression after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
