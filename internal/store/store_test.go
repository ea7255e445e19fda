package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caevv/skillq/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRuns() []*run.Run {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	started := base.Add(time.Second)
	finished := base.Add(time.Minute)

	done := run.New(run.SessionConfig{
		RepoPath: "/repo",
		RepoName: "repo",
		Skill:    run.Skill{Name: "lint", Prompt: "lint it"},
		Agent:    run.Agent{Name: "claude", Command: "claude"},
	}, base)
	done.Status = run.StatusDone
	done.StartedAt = &started
	done.FinishedAt = &finished
	done.PRURL = "https://github.com/o/r/pull/1"
	done.State.Phase = run.PhaseDone
	done.State.Output = []string{"line one", "line two"}
	done.State.ToolCalls = []run.ToolCall{{ID: "t1", Name: "Bash", Status: run.ToolCallDone}}

	pending := run.New(run.SessionConfig{
		RepoPath: "/repo",
		Skill: run.Skill{Name: "ship", Pipeline: []run.Skill{
			{Name: "test", Prompt: "test"},
			{Name: "docs", Prompt: "docs"},
		}},
	}, base.Add(2*time.Second))

	return []*run.Run{done, pending}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	stores := make(map[string]Store)
	for _, tc := range []struct {
		driver string
		file   string
	}{
		{"json", "runs.json"},
		{"bbolt", "runs.db"},
		{"sqlite", "runs.sqlite"},
	} {
		s, err := NewStore(tc.driver, filepath.Join(dir, tc.file))
		require.NoError(t, err, "NewStore(%q)", tc.driver)
		t.Cleanup(func() { s.Close() })
		stores[tc.driver] = s
	}
	return stores
}

func TestStore_EmptyLoad(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			runs, err := s.Load()
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			want := sampleRuns()
			require.NoError(t, s.Save(want))

			got, err := s.Load()
			require.NoError(t, err)
			require.Len(t, got, len(want))

			for i := range want {
				assert.Equal(t, want[i].ID, got[i].ID, "run %d: order not preserved", i)
				assert.Equal(t, want[i].Status, got[i].Status, "run %d", i)
				assert.True(t, got[i].EnqueuedAt.Equal(want[i].EnqueuedAt), "run %d: EnqueuedAt = %v", i, got[i].EnqueuedAt)
			}

			first := got[0]
			assert.Equal(t, want[0].PRURL, first.PRURL)
			require.NotNil(t, first.FinishedAt)
			assert.True(t, first.FinishedAt.Equal(*want[0].FinishedAt))
			assert.Equal(t, []string{"line one", "line two"}, first.State.Output)
			require.Len(t, first.State.ToolCalls, 1)
			assert.Equal(t, run.ToolCallDone, first.State.ToolCalls[0].Status)

			steps := got[1].Config.Skill.Steps()
			require.Len(t, steps, 2, "pipeline not restored")
			assert.Equal(t, "docs", steps[1].Name)
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			runs := sampleRuns()
			require.NoError(t, s.Save(runs))
			require.NoError(t, s.Save(runs[1:]))

			got, err := s.Load()
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, runs[1].ID, got[0].ID)

			require.NoError(t, s.Save(nil))
			got, err = s.Load()
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_SkipsInvalidRecords(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			runs := sampleRuns()
			require.NoError(t, s.Save([]*run.Run{nil, runs[0], {Status: run.StatusDone}}))

			got, err := s.Load()
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, runs[0].ID, got[0].ID)
		})
	}
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	want := sampleRuns()

	for _, driver := range []string{"json", "bbolt", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(dir, "reopen-"+driver)

			s, err := NewStore(driver, path)
			require.NoError(t, err)
			require.NoError(t, s.Save(want))
			require.NoError(t, s.Close())

			s, err = NewStore(driver, path)
			require.NoError(t, err, "reopen")
			defer s.Close()

			got, err := s.Load()
			require.NoError(t, err)
			assert.Len(t, got, len(want))
		})
	}
}

func TestJSONStore_AtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(sampleRuns()))
	assert.FileExists(t, path)
	assert.NoFileExists(t, path+".tmp", "temporary file left behind")
}

func TestJSONStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewJSONStore(path)
	require.NoError(t, err)
	_, err = s.Load()
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s, err := NewStore("", "")
	require.NoError(t, err)
	require.IsType(t, MemoryStore{}, s)

	require.NoError(t, s.Save(sampleRuns()))
	runs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		driver  string
		path    string
		wantErr bool
	}{
		{name: "memory ignores path", driver: "memory", path: ""},
		{name: "json", driver: "json", path: filepath.Join(dir, "a.json")},
		{name: "bbolt case insensitive", driver: " BBolt ", path: filepath.Join(dir, "a.db")},
		{name: "sqlite", driver: "sqlite", path: filepath.Join(dir, "a.sqlite")},
		{name: "missing path", driver: "json", path: "", wantErr: true},
		{name: "unknown driver", driver: "redis", path: filepath.Join(dir, "x"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.driver, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			s.Close()
		})
	}
}
