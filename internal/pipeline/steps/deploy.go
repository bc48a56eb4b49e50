package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/sportygroup/qa-goldenpath/internal/gitrepo"
	"github.com/sportygroup/qa-goldenpath/internal/humanloop"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/watch"
)

// RunDeploy is the Deploy Watch step: it forces the deployment controller to
// reconcile every service pushed by the GitOps step, then watches the
// health stream until every service converges, the rollout settles
// degraded, or the attempt budget elapses — retrying and, if the operator
// chooses, rolling the values files back to their pre-run tags.
func (d *Deps) RunDeploy(ctx context.Context, run *model.Run) error {
	d.setStepStatus(run, model.StepDeploy, model.StepRunning)
	d.appendLog(run, model.StepDeploy, model.LogHeader, "watching deploy rollout")

	expected := map[string]string{}
	var services []string
	for _, gr := range run.GitOpsStatuses {
		if gr.Phase == model.GitOpsPushed {
			expected[gr.Name] = gr.Tag
			services = append(services, gr.Name)
		}
	}
	run.ExpectedTags = expected

	if len(services) == 0 {
		d.setStepStatus(run, model.StepDeploy, model.StepSuccess)
		d.appendLog(run, model.StepDeploy, model.LogInfo, "no services changed tag, nothing to watch")
		return nil
	}

	watcher := d.NewWatcher()
	stepStart := time.Now()
	var degradedSince time.Time

	outcome, err := d.runWithRetry(ctx, run, model.StepDeploy, func(ctx context.Context, attempt int) error {
		degradedSince = time.Time{}
		for _, svc := range services {
			if err := d.Deploy.HardSync(ctx, svc); err != nil {
				d.appendLog(run, model.StepDeploy, model.LogWarning, fmt.Sprintf("hard sync %s: %v", svc, err))
			}
		}

		res, werr := watcher.Watch(ctx, services, expected, func(r watch.Result) {
			d.applyDeployResult(run, r, stepStart, &degradedSince)
		})
		if werr != nil {
			return fmt.Errorf("deploy watch: %w", werr)
		}
		d.applyDeployResult(run, res, stepStart, &degradedSince)

		switch res.Outcome {
		case watch.OutcomeHealthy:
			run.MTTRSeconds = time.Since(stepStart).Seconds()
			d.computePropagation(run, services, stepStart)
			return nil
		case watch.OutcomeSettled:
			return fmt.Errorf("%w: %s", errSettledDegraded, degradedServiceList(res))
		default:
			return fmt.Errorf("rollout timed out after %s", d.Cfg.DeployTimeout)
		}
	}, func(ctx context.Context) error {
		return d.rollbackDeploy(ctx, run)
	}, deployRetryDelay)
	if err != nil {
		d.setStepStatus(run, model.StepDeploy, model.StepFailed)
		return fmt.Errorf("deploy step: %w", err)
	}

	switch outcome {
	case OutcomeAborted:
		d.setStepStatus(run, model.StepDeploy, model.StepInterrupted)
		return fmt.Errorf("deploy step aborted by operator")
	case OutcomeRolledBack:
		d.setStepStatus(run, model.StepDeploy, model.StepInterrupted)
		run.Status = model.RunDegraded
		d.appendLog(run, model.StepDeploy, model.LogWarning, "rolled back to prior tags after unhealthy rollout")
		return fmt.Errorf("deploy step rolled back")
	case OutcomeProceeded:
		d.setStepStatus(run, model.StepDeploy, model.StepSuccess)
		d.appendLog(run, model.StepDeploy, model.LogWarning, "deploy step forced to proceed despite unhealthy rollout")
	default:
		d.setStepStatus(run, model.StepDeploy, model.StepSuccess)
		d.appendLog(run, model.StepDeploy, model.LogSuccess, "all services healthy")
	}
	return nil
}

// applyDeployResult publishes the watcher's current snapshot onto the run
// and appends a timeline entry when the rollout goes from all-Healthy to
// having any non-Healthy service ("degraded") and back ("recovered"), so the
// UI's rollback/degradation timeline reads as discrete events rather than a
// tick-by-tick transcript. The timeline keeps at most
// humanloop.DeployTimelineCap entries, dropping the oldest.
func (d *Deps) applyDeployResult(run *model.Run, r watch.Result, stepStart time.Time, degradedSince *time.Time) {
	apps := make([]model.DeployApp, 0, len(r.Apps))
	anyDegraded := false
	for _, app := range r.Apps {
		apps = append(apps, app)
		run.HealthMap[app.Service] = app.Health
		if app.Health != model.HealthHealthy {
			anyDegraded = true
		}
	}
	run.DeployApps = apps

	now := time.Now()
	if anyDegraded && degradedSince.IsZero() {
		*degradedSince = now
		run.DeployTimeline = append(run.DeployTimeline, model.DeployTimelineEntry{
			TS: now.Format(time.RFC3339), Epoch: float64(now.Unix()),
			ElapsedSinceDegra: 0, Event: "degraded", Detail: "one or more services left Healthy",
		})
	} else if !anyDegraded && !degradedSince.IsZero() {
		run.DeployTimeline = append(run.DeployTimeline, model.DeployTimelineEntry{
			TS: now.Format(time.RFC3339), Epoch: float64(now.Unix()),
			ElapsedSinceDegra: now.Sub(*degradedSince).Seconds(), Event: "recovered", Detail: "all services converged",
		})
		*degradedSince = time.Time{}
	}
	if len(run.DeployTimeline) > humanloop.DeployTimelineCap {
		run.DeployTimeline = run.DeployTimeline[len(run.DeployTimeline)-humanloop.DeployTimelineCap:]
	}
	d.Reg.Publish(run)
}

// computePropagation records each service's push-to-healthy latency, or -1
// if it never reached Healthy this run (a sentinel, not a zero, since zero
// would misreport an instantaneous rollout).
func (d *Deps) computePropagation(run *model.Run, services []string, stepStart time.Time) {
	run.PropagationStats = run.PropagationStats[:0]
	for _, svc := range services {
		secs := int64(-1)
		if pushedAt, ok := run.PushedAt[svc]; ok {
			if t, err := time.Parse(time.RFC3339, pushedAt); err == nil {
				if health := run.HealthMap[svc]; health == model.HealthHealthy {
					secs = int64(time.Since(t).Seconds())
				}
			}
		}
		run.PropagationStats = append(run.PropagationStats, model.PropagationStat{Service: svc, PushToHealthySec: secs})
	}
}

// deployRetryDelay is a fixed 2s wait between deploy-watch timeout retries,
// distinct from the other steps' exponential backoff: a rollout that merely
// timed out with retries remaining should be re-watched promptly, not made
// to wait longer each time.
func deployRetryDelay(int) time.Duration {
	return 2 * time.Second
}

func degradedServiceList(r watch.Result) string {
	out := ""
	for svc, app := range r.Apps {
		if app.Health != model.HealthHealthy {
			if out != "" {
				out += ", "
			}
			out += fmt.Sprintf("%s=%s", svc, app.Health)
		}
	}
	return out
}

// rewriteServiceTag rewrites one service's values file back to tag, via the
// shared-values path when configured for that service, the plain per-service
// path otherwise.
func (d *Deps) rewriteServiceTag(run *model.Run, service, tag string) error {
	path := gitopsValuesFilePath(d.Cfg, service, run.Country)
	_, err := gitrepo.RewriteImageTag(path, tagKeyPath(d.Cfg, service), tag)
	if err != nil {
		return fmt.Errorf("rollback %s to %s: %w", service, tag, err)
	}
	return nil
}

// rollbackDeploy rewrites every pushed service's values file back to the
// tag recorded before this run touched it (read from the GitOps repo via
// the GitOps step's own OldTag bookkeeping, never from the deployment
// controller, which may itself be in a degraded state) and re-triggers a
// hard sync so the rollback takes effect immediately.
func (d *Deps) rollbackDeploy(ctx context.Context, run *model.Run) error {
	if err := d.Git.FastForwardToRemote(); err != nil {
		return fmt.Errorf("sync before rollback: %w", err)
	}

	var rolledBack []string
	for _, gr := range run.GitOpsStatuses {
		if gr.Phase != model.GitOpsPushed || gr.OldTag == "" {
			continue
		}
		if err := d.rewriteServiceTag(run, gr.Name, gr.OldTag); err != nil {
			return err
		}
		rolledBack = append(rolledBack, gr.Name)
	}
	if len(rolledBack) == 0 {
		return fmt.Errorf("no prior tags recorded to roll back to")
	}

	name, email := d.commitIdentity(run)
	message := fmt.Sprintf("qa-goldenpath #%d staging-%s (%s): rollback %v [%s]", run.Num, run.Country, run.User, rolledBack, run.CorrelationID)
	if _, err := d.Git.CommitAs(message, name, email); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	if err := d.Git.Push(); err != nil {
		return fmt.Errorf("push rollback: %w", err)
	}
	for _, svc := range rolledBack {
		if err := d.Deploy.HardSync(ctx, svc); err != nil {
			d.appendLog(run, model.StepDeploy, model.LogWarning, fmt.Sprintf("hard sync after rollback %s: %v", svc, err))
		}
	}
	d.appendLog(run, model.StepDeploy, model.LogWarning, fmt.Sprintf("rolled back %v to prior tags", rolledBack))
	return nil
}

// RollbackService rewrites a single service's values file back to the tag it
// held before this run, commits, pushes, and hard-syncs it. It is the
// single-service counterpart to rollbackDeploy, used by the diagnostics
// engine's auto-execution path to act on a confidence-scored rollback_image
// proposal without waiting on an operator decision.
func (d *Deps) RollbackService(ctx context.Context, run *model.Run, service string) error {
	var oldTag string
	for _, gr := range run.GitOpsStatuses {
		if gr.Name == service && gr.Phase == model.GitOpsPushed && gr.OldTag != "" {
			oldTag = gr.OldTag
			break
		}
	}
	if oldTag == "" {
		return fmt.Errorf("no prior tag recorded for %s to roll back to", service)
	}

	if err := d.Git.FastForwardToRemote(); err != nil {
		return fmt.Errorf("sync before rollback: %w", err)
	}
	if err := d.rewriteServiceTag(run, service, oldTag); err != nil {
		return err
	}

	name, email := d.commitIdentity(run)
	message := fmt.Sprintf("qa-goldenpath #%d staging-%s (%s): rollback %s [%s]", run.Num, run.Country, run.User, service, run.CorrelationID)
	if _, err := d.Git.CommitAs(message, name, email); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	if err := d.Git.Push(); err != nil {
		return fmt.Errorf("push rollback: %w", err)
	}
	if err := d.Deploy.HardSync(ctx, service); err != nil {
		d.appendLog(run, model.StepDeploy, model.LogWarning, fmt.Sprintf("hard sync after rollback %s: %v", service, err))
	}
	d.appendLog(run, model.StepDeploy, model.LogWarning, fmt.Sprintf("rolled back %s to prior tag %s", service, oldTag))
	return nil
}
