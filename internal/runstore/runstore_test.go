package runstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_NilReceiverMethodsAreNoOps(t *testing.T) {
	var s *Store
	assert.NoError(t, s.RecordRun(context.Background(), nil))
	assert.NotPanics(t, func() { s.Close() })
}

func TestOpen_RejectsMalformedDSN(t *testing.T) {
	_, err := Open(context.Background(), "not a dsn \x00")
	assert.Error(t, err)
}

func TestEmbeddedMigrations_AreDiscoverable(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	assert.NoError(t, err)
	assert.NotEmpty(t, entries)
	body, err := migrationFiles.ReadFile("migrations/" + entries[0].Name())
	assert.NoError(t, err)
	assert.Contains(t, string(body), "run_records")
}
