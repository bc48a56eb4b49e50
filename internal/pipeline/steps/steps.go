// Package steps implements the five fixed pipeline step runners: merge,
// image check (build), GitOps update, deploy watch, and QA trigger
// (Jenkins). Each runner mutates the shared *model.Run in place and
// republishes it to the registry as it progresses, the way the original
// state-machine methods did one state-object field at a time.
package steps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
	"github.com/sportygroup/qa-goldenpath/internal/config"
	"github.com/sportygroup/qa-goldenpath/internal/diagnostics"
	"github.com/sportygroup/qa-goldenpath/internal/gitrepo"
	"github.com/sportygroup/qa-goldenpath/internal/humanloop"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
	"github.com/sportygroup/qa-goldenpath/internal/roster"
	"github.com/sportygroup/qa-goldenpath/internal/svcdir"
	"github.com/sportygroup/qa-goldenpath/internal/watch"
)

// Deps bundles everything a step runner needs: the external collaborator
// clients, the GitOps repo handle, the shared registry, and the
// human-in-loop/diagnostics controllers every step falls back to on
// exhausted retries.
type Deps struct {
	Cfg config.Config
	Log logr.Logger

	SourceControl clients.SourceControlClient
	Artifacts     clients.ArtifactRegistryClient
	CI            clients.CIWorkerClient
	Deploy        clients.DeployControllerClient
	Notifier      clients.NotificationClient

	Git      *gitrepo.Repo
	Services *svcdir.Directory
	Roster   roster.Roster

	Reg       *registry.Registry
	HumanLoop *humanloop.Controller
	Diag      *diagnostics.Engine

	// CountryLockOwner identifies this process to the GitOps repo's
	// advisory country lock (run id, typically).
	CountryLockOwner string
	LockTTL          time.Duration

	// SkipQA honors the runtime skip toggle for the Jenkins/QA Trigger step.
	SkipQA bool
}

// NewWatcher builds a Deploy Watcher using Deps' configured timeouts.
func (d *Deps) NewWatcher() *watch.Watcher {
	return watch.New(d.Deploy, d.Log, watch.Config{
		SettleGrace: d.Cfg.SettleGrace,
		Timeout:     d.Cfg.DeployTimeout,
	})
}

// Outcome is what a retry loop decided after a human weighed in, or
// OutcomeSucceeded if the attempt function itself succeeded without needing
// one.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeProceeded  Outcome = "proceeded" // human told it to move on despite the failure
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeAborted    Outcome = "aborted"
)

// errSettledDegraded marks an attempt failure as a deploy-watch "settled"
// resolution: zero services progressing while at least one stays
// non-Healthy. It is terminal for the attempt budget — runWithRetry skips
// any remaining retries and escalates straight to a human decision instead
// of sleeping and trying again.
var errSettledDegraded = errors.New("rollout settled degraded")

// runWithRetry calls attempt up to cfg.RetryMax+1 times, sleeping delay(n)
// between attempts, unless an attempt fails with errSettledDegraded, in
// which case all remaining attempts are skipped immediately. If the budget
// is exhausted (or skipped via errSettledDegraded), it pauses the run and
// waits for a human decision: retry resets the attempt budget, proceed
// treats the step as forced-success, rollback invokes onRollback (if
// non-nil) and reports OutcomeRolledBack, abort marks the run aborted.
func (d *Deps) runWithRetry(ctx context.Context, run *model.Run, stepID model.StepID, attempt func(ctx context.Context, n int) error, onRollback func(ctx context.Context) error, delay func(n int) time.Duration) (Outcome, error) {
	for {
		var lastErr error
		for n := 1; n <= d.Cfg.RetryMax+1; n++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			lastErr = attempt(ctx, n)
			if lastErr == nil {
				return OutcomeSucceeded, nil
			}
			d.appendLog(run, stepID, model.LogWarning, fmt.Sprintf("%s attempt %d failed: %v", stepID, n, lastErr))
			if errors.Is(lastErr, errSettledDegraded) {
				break
			}
			if n <= d.Cfg.RetryMax {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(delay(n)):
				}
			}
		}

		d.HumanLoop.Pause(run, fmt.Sprintf("%s failed after %d attempts: %v", stepID, d.Cfg.RetryMax+1, lastErr))
		decision, err := d.HumanLoop.WaitForDecision(ctx)
		if err != nil {
			return "", fmt.Errorf("waiting for human decision on %s: %w", stepID, err)
		}
		d.HumanLoop.Resume(run)

		switch decision {
		case humanloop.DecisionRetry:
			continue
		case humanloop.DecisionProceed:
			d.appendLog(run, stepID, model.LogWarning, fmt.Sprintf("%s forced to proceed by operator despite failure", stepID))
			return OutcomeProceeded, nil
		case humanloop.DecisionRollback:
			if onRollback != nil {
				if err := onRollback(ctx); err != nil {
					return "", fmt.Errorf("rollback after %s failure: %w", stepID, err)
				}
			}
			return OutcomeRolledBack, nil
		case humanloop.DecisionAbort:
			run.AbortedBy = "operator"
			return OutcomeAborted, nil
		default:
			return "", fmt.Errorf("unexpected pause decision %q", decision)
		}
	}
}

// retryDelay mirrors the engine's exponential backoff: a 1s base doubling
// per attempt, capped at 30s.
func retryDelay(attempt int) time.Duration {
	const base = float64(time.Second)
	const maxDelay = 30 * time.Second
	d := base * math.Pow(2, float64(attempt-1))
	if time.Duration(d) > maxDelay {
		return maxDelay
	}
	return time.Duration(d)
}

func (d *Deps) appendLog(run *model.Run, stepID model.StepID, kind model.LogKind, text string) {
	run.Logs = append(run.Logs, model.LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Kind:      kind,
		Text:      text,
		StepID:    stepID,
	})
	if len(run.Logs) > model.LogRingCap {
		run.Logs = run.Logs[len(run.Logs)-model.LogRingCap:]
	}
	d.Reg.Publish(run)
}

func (d *Deps) setStepStatus(run *model.Run, stepID model.StepID, status model.StepStatus) {
	run.Steps[stepID] = status
	d.Reg.Publish(run)
}
