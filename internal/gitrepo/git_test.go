package gitrepo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRemoteAndClone creates a bare "remote" repo and a working clone,
// returning the clone's Repo handle.
func setupRemoteAndClone(t *testing.T) *Repo {
	t.Helper()
	remoteDir := filepath.Join(t.TempDir(), "remote.git")
	require.NoError(t, exec.Command("git", "init", "--bare", "-b", "main", remoteDir).Run())

	cloneDir := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, exec.Command("git", "clone", remoteDir, cloneDir).Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "config", "user.name", "test").Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "config", "user.email", "test@example.com").Run())

	r := Open(cloneDir, "origin", "main")
	_, err := r.CommitAllowEmpty("initial commit")
	require.NoError(t, err)
	require.NoError(t, r.Push())
	return r
}

func TestRepo_CommitAndPush(t *testing.T) {
	r := setupRemoteAndClone(t)

	require.NoError(t, os.WriteFile(filepath.Join(r.Dir, "values.yaml"), []byte("tag: v1\n"), 0o644))
	sha, err := r.CommitAllowEmpty("bump tag")
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	require.NoError(t, r.Push())

	head, err := r.HeadSHA()
	require.NoError(t, err)
	assert.Equal(t, sha, head)
}

func TestRepo_Push_NonFastForwardDetected(t *testing.T) {
	remoteDir := filepath.Join(t.TempDir(), "remote.git")
	require.NoError(t, exec.Command("git", "init", "--bare", "-b", "main", remoteDir).Run())

	cloneA := filepath.Join(t.TempDir(), "clone-a")
	require.NoError(t, exec.Command("git", "clone", remoteDir, cloneA).Run())
	require.NoError(t, exec.Command("git", "-C", cloneA, "config", "user.name", "a").Run())
	require.NoError(t, exec.Command("git", "-C", cloneA, "config", "user.email", "a@example.com").Run())
	a := Open(cloneA, "origin", "main")
	_, err := a.CommitAllowEmpty("a commits first")
	require.NoError(t, err)
	require.NoError(t, a.Push())

	cloneB := filepath.Join(t.TempDir(), "clone-b")
	require.NoError(t, exec.Command("git", "clone", remoteDir, cloneB).Run())
	require.NoError(t, exec.Command("git", "-C", cloneB, "config", "user.name", "b").Run())
	require.NoError(t, exec.Command("git", "-C", cloneB, "config", "user.email", "b@example.com").Run())
	b := Open(cloneB, "origin", "main")
	// b is now behind: commit locally without fetching a's change first.
	_, err = b.CommitAllowEmpty("b commits without fetching")
	require.NoError(t, err)

	// a pushes another commit so the remote advances further.
	_, err = a.CommitAllowEmpty("a commits again")
	require.NoError(t, err)
	require.NoError(t, a.Push())

	err = b.Push()
	require.Error(t, err)
	assert.True(t, IsNonFastForward(err))
}
