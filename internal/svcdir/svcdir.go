// Package svcdir loads the per-service registry entries the pipeline needs
// to resolve a service's target pre-release branch, artifact tag prefix,
// ECR repository, and Jenkins job name — falling back to configured
// process-wide defaults when a service has no specific entry. This is the
// "service registry" the original implementation imported and called
// inside its build step; here it is re-pulled explicitly before every
// Image Check step (see DESIGN.md's Open Questions decision log) rather
// than trusted from a possibly-stale cached copy.
package svcdir

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Entry is one service's registry row.
type Entry struct {
	Name         string `yaml:"name"`
	TargetBranch string `yaml:"target_branch"`
	BranchPrefix string `yaml:"branch_prefix"`
	ECRRepo      string `yaml:"ecr_repo"`
	JenkinsJob   string `yaml:"jenkins_job"`
}

// file is the on-disk shape of the registry YAML.
type file struct {
	DefaultTargetBranch string  `yaml:"default_target_branch"`
	Services            []Entry `yaml:"services"`
}

// Directory is a re-pullable, read-mostly view of the service registry.
type Directory struct {
	path string

	mu            sync.RWMutex
	defaultBranch string
	entries       map[string]Entry
}

// Load reads path and returns a Directory. A missing file is not an error —
// every lookup then falls back to defaultBranch alone.
func Load(path, defaultBranch string) (*Directory, error) {
	d := &Directory{path: path, defaultBranch: defaultBranch, entries: map[string]Entry{}}
	if err := d.Refresh(); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh re-reads the registry file from disk, replacing the in-memory
// table atomically. Call this before reading branch/prefix data for a step
// that must not act on a stale registry (Image Check, per the Open
// Questions decision).
func (d *Directory) Refresh() error {
	body, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read service registry %s: %w", d.path, err)
	}
	var f file
	if err := yaml.Unmarshal(body, &f); err != nil {
		return fmt.Errorf("parse service registry %s: %w", d.path, err)
	}

	entries := make(map[string]Entry, len(f.Services))
	for _, e := range f.Services {
		entries[e.Name] = e
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = entries
	if f.DefaultTargetBranch != "" {
		d.defaultBranch = f.DefaultTargetBranch
	}
	return nil
}

// Entry returns svc's registry row, with TargetBranch/BranchPrefix
// defaulted when the service has no specific entry or leaves a field
// blank. BranchPrefix defaults to "<target_branch>-" per spec.md §6.
func (d *Directory) Entry(svc string) Entry {
	d.mu.RLock()
	e, ok := d.entries[svc]
	fallbackBranch := d.defaultBranch
	d.mu.RUnlock()

	if !ok {
		e = Entry{Name: svc}
	}
	if e.TargetBranch == "" {
		e.TargetBranch = fallbackBranch
	}
	if e.BranchPrefix == "" {
		e.BranchPrefix = e.TargetBranch + "-"
	}
	return e
}

// ExpectedTag computes the artifact tag for a service's SHA:
// {branch_prefix}{sha[:10]}.
func ExpectedTag(prefix, sha string) string {
	if len(sha) > 10 {
		sha = sha[:10]
	}
	return prefix + sha
}
