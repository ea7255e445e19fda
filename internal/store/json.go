package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/caevv/skillq/internal/run"
)

// JSONStore keeps the run list in a single JSON file. Each save rewrites the
// file through a temporary file and a rename.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// jsonPersistence is the on-disk format for the JSON store.
type jsonPersistence struct {
	Runs []*run.Run `json:"runs"`
}

// NewJSONStore creates a new JSON file-backed store at the given path. The
// file is created on the first save.
func NewJSONStore(path string) (Store, error) {
	if _, err := os.Stat(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	return &JSONStore{path: path}, nil
}

// Load reads the run list. A missing file is an empty store.
func (s *JSONStore) Load() ([]*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var persist jsonPersistence
	if err := json.Unmarshal(data, &persist); err != nil {
		return nil, fmt.Errorf("unmarshal json: %w", err)
	}
	return validRuns(persist.Runs), nil
}

// Save writes runs to the file.
func (s *JSONStore) Save(runs []*run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	persist := jsonPersistence{Runs: validRuns(runs)}
	data, err := json.MarshalIndent(persist, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	// Write to temp file first, then rename (atomic on POSIX)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Close is a no-op for the JSON store.
func (s *JSONStore) Close() error {
	return nil
}
