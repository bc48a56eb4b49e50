package clientstest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
)

func TestSourceControl_DefaultsToSHAWhenUnscripted(t *testing.T) {
	f := NewSourceControl()
	out, err := f.MergeToPrerelease(context.Background(), map[string]string{"svc-a": "pre-release"})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", out["svc-a"].SHA)
	assert.Len(t, f.Calls, 1)
}

func TestArtifactRegistry_ImageExists(t *testing.T) {
	f := NewArtifactRegistry()
	f.Exists["svc-a@sha1"] = true
	ok, err := f.ImageExists(context.Background(), "svc-a", "sha1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.ImageExists(context.Background(), "svc-a", "sha2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeployController_ReplaysEvents(t *testing.T) {
	f := &DeployController{Events: []clients.DeployEvent{
		{Service: "svc-a", Health: "Progressing"},
		{Service: "svc-a", Health: "Healthy", CurrentTag: "v2"},
	}}
	var got []clients.DeployEvent
	err := f.WatchHealth(context.Background(), []string{"svc-a"}, func(ev clients.DeployEvent) {
		got = append(got, ev)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Healthy", got[1].Health)
}
