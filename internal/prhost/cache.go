// Package prhost creates pull requests through the GitHub CLI and memoizes
// the probes that decide whether that is possible.
package prhost

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// ProbeCache memoizes boolean probe results per key. Concurrent lookups of
// the same key share a single probe.
type ProbeCache struct {
	mu      sync.RWMutex
	results map[string]bool
	group   singleflight.Group
}

// NewProbeCache creates an empty cache.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{results: make(map[string]bool)}
}

// Get returns the cached result for key, running probe on a miss. A probe
// that returns an error is not cached and reports false. A caller that
// shared another caller's failed probe runs its own.
func (c *ProbeCache) Get(key string, probe func() (bool, error)) bool {
	c.mu.RLock()
	v, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		return v
	}

	ran := false
	res, err, _ := c.group.Do(key, func() (any, error) {
		ran = true
		return c.load(key, probe)
	})
	if err != nil && !ran {
		res, err = c.load(key, probe)
	}
	if err != nil {
		return false
	}
	return res.(bool)
}

func (c *ProbeCache) load(key string, probe func() (bool, error)) (any, error) {
	c.mu.RLock()
	v, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := probe()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.results[key] = v
	c.mu.Unlock()
	return v, nil
}

// Reset forgets every cached result.
func (c *ProbeCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]bool)
}
