// Package registry holds the single canonical run snapshot shared across the
// executor goroutine, the observer poller, and the HTTP handlers. Unlike a
// PipelineRegistry that tracks many concurrent runs by ID, this engine
// drives one run at a time, so the whole thing collapses to one guarded
// cell plus a monotonic version counter that readers use to detect change
// without diffing the snapshot itself.
package registry

import (
	"sync"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// DiagContext is the cross-session slot the diagnostics engine publishes its
// current run/correlation identity into, so a late subscriber can attach to
// an in-flight diagnosis without replaying the whole run.
type DiagContext struct {
	RunID         string
	ContextText   string
	CorrelationID string
}

// Registry is the process-wide shared-state cell. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	run     *model.Run
	version uint64

	isRunning bool

	pauseAction string // consume-on-read
	abortFlag   bool   // sticky until explicitly cleared

	diag DiagContext
}

// New returns an empty registry with no published run.
func New() *Registry {
	return &Registry{}
}

// Publish installs run as the current canonical snapshot and bumps the
// version counter. A nil run clears the registry.
func (r *Registry) Publish(run *model.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run = run
	r.version++
}

// Snapshot returns the current run (or nil) and its version.
func (r *Registry) Snapshot() (*model.Run, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run, r.version
}

// Version returns the current version without copying the run.
func (r *Registry) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// SetRunning records whether an executor currently owns the run.
func (r *Registry) SetRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isRunning = running
}

// IsRunning reports whether an executor currently owns the run.
func (r *Registry) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRunning
}

// SetPauseAction stores a human decision (retry|proceed|rollback|abort) for
// the step runner currently waiting on one. Overwrites any unread value.
func (r *Registry) SetPauseAction(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseAction = action
}

// ReadPauseAction returns the pending pause action and clears the slot. A
// second call before a new SetPauseAction returns "".
func (r *Registry) ReadPauseAction() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.pauseAction
	r.pauseAction = ""
	return a
}

// SetAbort raises the sticky abort flag.
func (r *Registry) SetAbort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortFlag = true
}

// ReadAbort reports the abort flag without clearing it.
func (r *Registry) ReadAbort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortFlag
}

// ClearAbort lowers the abort flag, e.g. once a new run starts.
func (r *Registry) ClearAbort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortFlag = false
}

// PublishDiagContext records the diagnostic engine's current identity.
func (r *Registry) PublishDiagContext(d DiagContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diag = d
}

// ReadDiagContext returns the last published diagnostic identity.
func (r *Registry) ReadDiagContext() DiagContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diag
}

// Changed returns the current run and version and reports whether the
// version differs from since. It neither blocks nor loops: callers drive
// their own idle-backoff poll cadence (see internal/session); this helper
// only expresses a single non-blocking compare.
func (r *Registry) Changed(since uint64) (*model.Run, uint64, bool) {
	run, v := r.Snapshot()
	return run, v, v != since
}
