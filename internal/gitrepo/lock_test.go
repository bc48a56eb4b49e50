package gitrepo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryLock_AcquireRelease(t *testing.T) {
	r := setupRemoteAndClone(t)

	ok, err := r.TryAcquireCountryLock("KE", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryAcquireCountryLock("KE", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok) // still held by run-1, not expired

	require.NoError(t, r.ReleaseCountryLock("KE", "run-1"))

	ok, err = r.TryAcquireCountryLock("KE", "run-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCountryLock_ExpiredIsReacquirable(t *testing.T) {
	r := setupRemoteAndClone(t)

	ok, err := r.TryAcquireCountryLock("NG", "run-1", -time.Second) // already expired
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryAcquireCountryLock("NG", "run-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok) // run-1's lock had already expired
}

func TestCountryLock_DifferentCountriesIndependent(t *testing.T) {
	r := setupRemoteAndClone(t)

	ok, err := r.TryAcquireCountryLock("KE", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryAcquireCountryLock("NG", "run-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
