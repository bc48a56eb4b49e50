package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "live_state.json")
	s, err := NewStore(path, logr.Discard())
	require.NoError(t, err)
	s.interval = 0 // no throttling in tests unless explicitly set
	return s, path
}

func TestStore_SaveLoad_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	run := model.NewRun(1, "r1", "alice", "KE", []string{"svc-a", "svc-b"})
	run.Status = model.RunRunning

	require.NoError(t, s.Save(run, true))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, run.Status, loaded.Status)
	assert.Equal(t, run.SelectedServices, loaded.SelectedServices)
}

func TestStore_Load_MissingFile_ReturnsNilNoError(t *testing.T) {
	s, _ := newTestStore(t)
	run, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestStore_Save_Throttled(t *testing.T) {
	s, path := newTestStore(t)
	s.interval = time.Hour

	run := model.NewRun(1, "r1", "bob", "NG", nil)
	require.NoError(t, s.Save(run, true))
	info1, err := os.Stat(path)
	require.NoError(t, err)

	run.Status = model.RunSuccess
	require.NoError(t, s.Save(run, false)) // throttled, should not rewrite
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())

	require.NoError(t, s.Save(run, true)) // forced, bypasses throttle
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, loaded.Status)
}

func TestStore_Load_RecoversCorruptedObjectField(t *testing.T) {
	s, path := newTestStore(t)

	doc := map[string]any{
		"schema_version": SchemaVersion,
		"run": map[string]any{
			"id":     "r1",
			"status": "running",
			// health_map corrupted into a Python-repr string instead of an object.
			"health_map":    `{'svc-a': 'Healthy'}`,
			"steps":         map[string]any{},
			"expected_tags": map[string]any{},
			"shas":          map[string]any{},
		},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	run, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.HealthStatus("Healthy"), run.HealthMap["svc-a"])

	// The repaired document should have been resaved as valid JSON.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var redoc Document
	require.NoError(t, json.Unmarshal(raw, &redoc))
	assert.Equal(t, "Healthy", string(redoc.Run.HealthMap["svc-a"]))
}

// TestStore_Load_RecoversWrapperPrefixedField exercises the S6 scenario:
// a field saved by an older process as an ImmutableMutableProxy(...)-wrapped
// Python repr, not just a bare dict/list repr.
func TestStore_Load_RecoversWrapperPrefixedField(t *testing.T) {
	s, path := newTestStore(t)

	doc := map[string]any{
		"schema_version": SchemaVersion,
		"run": map[string]any{
			"id":            "r1",
			"status":        "running",
			"logs":          `ImmutableMutableProxy([{'kind': 'i', 'text': 'hello', 'step_id': 'merge', 'timestamp': ''}])`,
			"steps":         map[string]any{},
			"health_map":    map[string]any{},
			"expected_tags": map[string]any{},
			"shas":          map[string]any{},
		},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	run, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Len(t, run.Logs, 1)
	assert.Equal(t, "hello", run.Logs[0].Text)
}

func TestStore_Load_ResetsUnrecoverableField(t *testing.T) {
	s, path := newTestStore(t)

	doc := map[string]any{
		"schema_version": SchemaVersion,
		"run": map[string]any{
			"id":            "r1",
			"status":        "running",
			"health_map":    "totally not json-ish at all {{{",
			"steps":         map[string]any{},
			"expected_tags": map[string]any{},
			"shas":          map[string]any{},
		},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	run, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Empty(t, run.HealthMap)
}
