package plugins

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverExecutables searches for hook executables in paths and returns a
// map of executable name to full path. Earlier paths win. With no paths the
// search order is:
// 1. ./.skillq/hooks/
// 2. $SKILLQ_HOME/hooks/
// 3. /usr/local/lib/skillq/hooks/
func DiscoverExecutables(paths []string) (map[string]string, error) {
	found := make(map[string]string)

	if len(paths) == 0 {
		paths = defaultHookPaths()
	}

	for _, path := range paths {
		dir := expandPath(path)

		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			fullPath := filepath.Join(dir, entry.Name())
			if !isExecutable(fullPath) {
				continue
			}
			if _, exists := found[entry.Name()]; !exists {
				found[entry.Name()] = fullPath
			}
		}
	}

	return found, nil
}

// defaultHookPaths returns the default hook search paths in priority order.
func defaultHookPaths() []string {
	paths := []string{"./.skillq/hooks/"}

	if home := os.Getenv("SKILLQ_HOME"); home != "" {
		paths = append(paths, filepath.Join(home, "hooks"))
	}

	return append(paths, "/usr/local/lib/skillq/hooks/")
}

// expandPath expands environment variables and resolves relative paths
func expandPath(path string) string {
	expanded := os.ExpandEnv(path)

	if !filepath.IsAbs(expanded) {
		if abs, err := filepath.Abs(expanded); err == nil {
			return abs
		}
	}

	return expanded
}

// isExecutable checks if a file is executable
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&0o111 != 0
}

// FindExecutable looks up a hook executable by name.
func FindExecutable(executables map[string]string, name string) (string, error) {
	path, exists := executables[name]
	if !exists {
		return "", fmt.Errorf("hook executable not found: %s", name)
	}
	return path, nil
}
