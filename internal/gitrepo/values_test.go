package gitrepo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateValuesFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ke"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ke", "values-svc-a.yaml"), []byte("tag: v1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ke", "values-svc-b.yaml"), []byte("tag: v1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ke", "README.md"), []byte("ignore me"), 0o644))

	got, err := LocateValuesFiles(root, "**/values-*.yaml")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

var defaultTagPath = []string{"image", "tag"}

func TestRewriteImageTag_BareScalar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image:\n  repository: svc-a\n  tag: v1.0.0\nreplicas: 3\n"), 0o644))

	changed, err := RewriteImageTag(path, defaultTagPath, "v1.2.3")
	require.NoError(t, err)
	assert.True(t, changed)

	tag, err := CurrentImageTag(path, defaultTagPath)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", tag)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "replicas: 3") // untouched sibling key survives
}

func TestRewriteImageTag_QuotedScalarKeepsQuoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image:\n  tag: \"v1.0.0\"\n"), 0o644))

	changed, err := RewriteImageTag(path, defaultTagPath, "v2.0.0")
	require.NoError(t, err)
	assert.True(t, changed)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tag: "v2.0.0"`)
}

func TestRewriteImageTag_NoOpWhenTagUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image:\n  tag: v1.0.0\n"), 0o644))

	changed, err := RewriteImageTag(path, defaultTagPath, "v1.0.0")
	require.NoError(t, err)
	assert.False(t, changed)
}

// TestRewriteImageTag_OnlyTouchesKeyPathNode guards against the bug a
// whole-document "every tag: node" scan would have: a values file with more
// than one key literally named "tag" (here, a subchart's own image tag
// sitting alongside the top-level one) must have only the configured
// keyPath's node rewritten.
func TestRewriteImageTag_OnlyTouchesKeyPathNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	body := "image:\n  tag: v1.0.0\nsubchart:\n  image:\n    tag: v1.0.0\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	changed, err := RewriteImageTag(path, defaultTagPath, "v2.0.0")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := CurrentImageTag(path, defaultTagPath)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", got)

	subchart, err := CurrentImageTag(path, []string{"subchart", "image", "tag"})
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", subchart) // sibling "tag:" node untouched
}

func TestRewriteImageTag_MissingPathErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image:\n  tag: v1.0.0\n"), 0o644))

	_, err := RewriteImageTag(path, []string{"nope", "tag"}, "v2.0.0")
	require.Error(t, err)
}

func TestRewriteImageTagAtPath_OnlyTouchesTargetService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared-values.yaml")
	body := "gateways:\n  checkout:\n    image:\n      tag: v1.0.0\n  catalog:\n    image:\n      tag: v1.0.0\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	keyPath := []string{"gateways", "checkout", "image", "tag"}
	changed, err := RewriteImageTag(path, keyPath, "v2.0.0")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := CurrentImageTag(path, keyPath)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", got)

	other, err := CurrentImageTag(path, []string{"gateways", "catalog", "image", "tag"})
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", other) // sibling service untouched
}
