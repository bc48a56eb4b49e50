// Package pipeline wires the five step runners into one fixed-order
// execution: merge -> build -> gitops -> deploy -> jenkins, every attempt
// producing one *model.Run that is published and persisted as it
// progresses, with an LLM diagnosis attached on any failure path.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sportygroup/qa-goldenpath/internal/persistence"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/steps"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
)

// Engine drives one run of the five-step pipeline at a time against a
// shared *steps.Deps.
type Engine struct {
	Deps  *steps.Deps
	Store *persistence.Store

	mu     sync.Mutex
	lastID int
}

// NewEngine returns an Engine that persists to store.
func NewEngine(deps *steps.Deps, store *persistence.Store) *Engine {
	return &Engine{Deps: deps, Store: store}
}

// runner is one step in the fixed execution order.
type runner struct {
	id model.StepID
	fn func(context.Context, *model.Run) error
}

// Run executes one full pipeline attempt for the given user/country/
// services, left to right through the five steps, stopping at the first
// one that returns an error. It always returns the run (even on failure)
// so the caller can inspect its final state.
func (e *Engine) Run(ctx context.Context, user, country string, services []string) (*model.Run, error) {
	run := e.newRun(user, country, services)

	e.Deps.Reg.ClearAbort()
	e.Deps.Reg.SetRunning(true)
	defer e.Deps.Reg.SetRunning(false)
	defer e.releaseCountryLock(run)

	run.Status = model.RunRunning
	e.publish(run, true)

	started := time.Now()
	runners := []runner{
		{model.StepMerge, e.Deps.RunMerge},
		{model.StepBuild, e.Deps.RunBuild},
		{model.StepGitOps, e.Deps.RunGitOps},
		{model.StepDeploy, e.Deps.RunDeploy},
		{model.StepJenkins, e.Deps.RunQATrigger},
	}

	var runErr error
	for _, r := range runners {
		if err := r.fn(ctx, run); err != nil {
			runErr = err
			break
		}
		e.publish(run, true)
	}

	run.Duration = time.Since(started).Round(time.Second).String()
	if runErr != nil {
		e.finalizeFailure(run, runErr)
	} else if run.Status != model.RunDegraded {
		run.Status = model.RunSuccess
	}
	e.publish(run, true)

	return run, runErr
}

func (e *Engine) newRun(user, country string, services []string) *model.Run {
	e.mu.Lock()
	e.lastID++
	num := e.lastID
	e.mu.Unlock()

	run := model.NewRun(num, fmt.Sprintf("r%d", num), user, country, services)
	run.StartedAt = time.Now().Format("15:04:05")
	run.CorrelationID = ulid.Make().String()
	return run
}

// finalizeFailure classifies how the run ended: an operator abort is
// Interrupted, a Deploy-step rollback already marked the run Degraded and
// is left as-is, anything else is a hard Failed — and, whenever the run
// didn't end by an explicit operator decision, a diagnosis is attempted so
// the run doesn't surface a bare error with no root-cause context.
func (e *Engine) finalizeFailure(run *model.Run, runErr error) {
	switch {
	case run.AbortedBy != "":
		run.Status = model.RunInterrupted
	case run.Status == model.RunDegraded:
		// already set by the Deploy step's rollback path
	default:
		run.Status = model.RunFailed
	}

	if run.AbortedBy != "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	e.diagnose(ctx, run, runErr)
}

func (e *Engine) diagnose(ctx context.Context, run *model.Run, runErr error) {
	diag := e.Deps.Diag
	if diag == nil {
		return
	}

	text, err := diag.Diagnose(ctx, run)
	if err != nil {
		run.Diagnostics = fmt.Sprintf("diagnosis unavailable: %v (original error: %v)", err, runErr)
		e.publish(run, true)
		return
	}
	run.Diagnostics = text
	e.Deps.Reg.PublishDiagContext(registry.DiagContext{
		RunID:         run.ID,
		ContextText:   text,
		CorrelationID: run.CorrelationID,
	})
	e.publish(run, true)

	actions, err := diag.ProposeActions(ctx, run, text)
	if err != nil {
		return
	}
	run.ProposedActions = actions
	e.autoExecute(ctx, run)
	e.publish(run, true)
}

// autoExecute runs whichever proposed actions both meet the engine's
// auto-execute policy and have a concrete executor wired in this engine —
// today that is hard_sync (via the deployment controller client) and
// rollback_image (via the GitOps repo's per-service rollback). Every other
// auto-executable action is left pending for an operator to approve through
// the human-loop endpoint, since no client surface exists here to actually
// perform a pod restart, merge retry, or cache clear.
func (e *Engine) autoExecute(ctx context.Context, run *model.Run) {
	diag := e.Deps.Diag
	for i := range run.ProposedActions {
		a := &run.ProposedActions[i]
		if a.State != "proposed" || !diag.AutoExecutable(*a) {
			continue
		}
		switch a.Action {
		case "hard_sync":
			if err := e.Deps.Deploy.HardSync(ctx, a.Target); err != nil {
				a.State = "failed"
				a.Result = err.Error()
				continue
			}
			a.State = "executed"
			a.Result = "hard sync triggered automatically"
		case "rollback_image":
			if err := e.Deps.RollbackService(ctx, run, a.Target); err != nil {
				a.State = "failed"
				a.Result = err.Error()
				continue
			}
			a.State = "executed"
			a.Result = "rolled back to prior tag automatically"
		default:
			continue
		}
	}
}

// releaseCountryLock releases the GitOps country lock on every exit path —
// success, failure, interruption, or a panic unwinding past this run —
// since the lock must be held from end-of-GitOps through end-of-QA rather
// than just through the GitOps step itself. Releasing is a no-op if the
// lock was never acquired (GitOps failed before acquiring it, or this run
// never reached GitOps) or is held by a different owner.
func (e *Engine) releaseCountryLock(run *model.Run) {
	owner := e.Deps.CountryLockOwner
	if owner == "" {
		owner = run.ID
	}
	if err := e.Deps.Git.ReleaseCountryLock(run.Country, owner); err != nil {
		e.Deps.Log.Error(err, "releasing country lock", "country", run.Country)
	}
}

func (e *Engine) publish(run *model.Run, force bool) {
	e.Deps.Reg.Publish(run)
	if e.Store != nil {
		_ = e.Store.Save(run, force)
	}
}
