package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmails_ParsesHandlePairs(t *testing.T) {
	r := Roster{EmailsRaw: "@alice=alice@example.com\n@bob=bob@example.com\n\nmalformed-line"}
	emails := r.Emails()
	require.Equal(t, "alice@example.com", emails["alice"])
	require.Equal(t, "bob@example.com", emails["bob"])
	require.Len(t, emails, 2)
}

func TestEmailFor_FallsBackWhenUnlisted(t *testing.T) {
	r := Roster{EmailsRaw: "@alice=alice@example.com"}
	require.Equal(t, "alice@example.com", r.EmailFor("alice", "svc@example.com"))
	require.Equal(t, "svc@example.com", r.EmailFor("carol", "svc@example.com"))
}

func TestLoad_MissingFileReturnsZeroValue(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Equal(t, Roster{}, r)
}

func TestLoad_ParsesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.json")
	body := `{"shift":"apac","oncall":"alice","escalation":"bob","emails_raw":"@alice=alice@example.com"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "apac", r.Shift)
	require.Equal(t, "alice", r.OnCall)
	require.Equal(t, "bob", r.Escalation)
}
