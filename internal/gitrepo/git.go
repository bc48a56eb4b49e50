// Package gitrepo wraps the git CLI for the staging GitOps repository: the
// read/commit/push/fast-forward operations the pipeline needs to land an
// image tag bump, plus values-file discovery and surgical tag rewriting,
// plus a CAS-style advisory lock used to serialize concurrent deploys to
// the same country.
package gitrepo

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// CommandError wraps a failed git invocation with its captured output.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, string, error) {
	base := []string{"-C", dir, "-c", "maintenance.auto=0", "-c", "gc.auto=0"}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr, errStr := stdout.String(), stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// Repo is a checked-out GitOps repository at Dir.
type Repo struct {
	Dir    string
	Remote string
	Branch string
}

// Open wraps an already-cloned working directory. It does not clone.
func Open(dir, remote, branch string) *Repo {
	return &Repo{Dir: dir, Remote: remote, Branch: branch}
}

// IsClean reports whether the working tree has no pending changes.
func (r *Repo) IsClean() (bool, error) {
	out, _, err := runGit(r.Dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// HeadSHA returns the current HEAD commit SHA.
func (r *Repo) HeadSHA() (string, error) {
	out, _, err := runGit(r.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Fetch updates the local view of Remote without merging.
func (r *Repo) Fetch() error {
	_, _, err := runGit(r.Dir, "fetch", r.Remote, r.Branch)
	return err
}

// FastForwardToRemote fast-forwards the checked-out branch to
// Remote/Branch, failing rather than merging if that isn't a fast-forward.
func (r *Repo) FastForwardToRemote() error {
	if err := r.Fetch(); err != nil {
		return fmt.Errorf("fetch %s: %w", r.Remote, err)
	}
	_, _, err := runGit(r.Dir, "merge", "--ff-only", r.Remote+"/"+r.Branch)
	return err
}

// AddAll stages every pending change.
func (r *Repo) AddAll() error {
	_, _, err := runGit(r.Dir, "add", "-A")
	return err
}

// CommitAllowEmpty stages and commits, retrying once with a fallback
// identity if the repo has no configured git user (common for a fresh
// CI worker checkout).
func (r *Repo) CommitAllowEmpty(message string) (string, error) {
	if err := r.AddAll(); err != nil {
		return "", err
	}
	_, _, err := runGit(r.Dir, "commit", "--allow-empty", "-m", message)
	if err != nil {
		if strings.Contains(err.Error(), "Author identity unknown") ||
			strings.Contains(err.Error(), "Please tell me who you are") ||
			strings.Contains(err.Error(), "unable to auto-detect email address") {
			_, _, err = runGit(r.Dir,
				"-c", "user.name=qa-goldenpath",
				"-c", "user.email=qa-goldenpath@local",
				"commit", "--allow-empty", "-m", message,
			)
		}
		if err != nil {
			return "", err
		}
	}
	return r.HeadSHA()
}

// CommitAs stages and commits using an explicit author identity, for the
// GitOps step's practice of attributing the values-file bump to whichever
// user triggered the run rather than the process's own fallback identity.
func (r *Repo) CommitAs(message, name, email string) (string, error) {
	if err := r.AddAll(); err != nil {
		return "", err
	}
	_, _, err := runGit(r.Dir,
		"-c", "user.name="+name,
		"-c", "user.email="+email,
		"commit", "--allow-empty", "-m", message,
	)
	if err != nil {
		return "", err
	}
	return r.HeadSHA()
}

// LastCommitMessage returns HEAD's subject + body.
func (r *Repo) LastCommitMessage() (string, error) {
	out, _, err := runGit(r.Dir, "log", "-1", "--format=%B")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Push pushes Branch to Remote. Non-fast-forward rejection (another writer
// landed first) is returned as an ordinary error for the caller to inspect
// with IsNonFastForward.
func (r *Repo) Push() error {
	_, _, err := runGit(r.Dir, "push", r.Remote, r.Branch)
	return err
}

// IsNonFastForward reports whether err came from a push rejected because
// the remote has diverged — the signal the country lock and the GitOps
// step use to detect a lost race against a concurrent writer.
func IsNonFastForward(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") ||
		strings.Contains(msg, "fetch first") ||
		strings.Contains(msg, "rejected")
}

// DiffNameOnly lists files changed between baseRef and the working tree.
func (r *Repo) DiffNameOnly(baseRef string) ([]string, error) {
	out, _, err := runGit(r.Dir, "diff", "--name-only", baseRef)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files, nil
}
