package store

import (
	"fmt"
	"strings"
)

// SupportedDrivers lists all available store drivers.
var SupportedDrivers = []string{"memory", "json", "bbolt", "sqlite"}

// NewStore creates a new Store instance based on the specified driver.
// Supported drivers:
//   - "memory": nothing is persisted (the default)
//   - "json": one JSON file rewritten atomically on each save
//   - "bbolt": BoltDB-backed persistent storage
//   - "sqlite": a SQLite database file
//
// The path parameter specifies where the store data will be persisted. It is
// ignored by the memory driver.
func NewStore(driver, path string) (Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" || driver == "memory" {
		return NewMemoryStore(), nil
	}

	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	switch driver {
	case "json":
		return NewJSONStore(path)
	case "bbolt":
		return NewBoltStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (supported: %v)", driver, SupportedDrivers)
	}
}
