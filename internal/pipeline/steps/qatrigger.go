package steps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// qaJobs is the fixed pair of QA jobs triggered in parallel once a country's
// rollout goes healthy, per spec.md §4.4.5.
var qaJobs = []string{"smoke", "integration"}

// RunQATrigger is the QA Trigger step: it fires the smoke and integration
// Jenkins jobs in parallel and waits for each to reach a terminal state,
// honoring the runtime skip toggle. A job that times out is logged as a
// warning but does not fail the step — only an explicit failed/aborted
// result does, per spec.md §4.4.5's "timeout is not a step failure" rule.
func (d *Deps) RunQATrigger(ctx context.Context, run *model.Run) error {
	d.setStepStatus(run, model.StepJenkins, model.StepRunning)
	d.appendLog(run, model.StepJenkins, model.LogHeader, "triggering QA jobs")

	if d.SkipQA {
		d.setStepStatus(run, model.StepJenkins, model.StepSkipped)
		d.appendLog(run, model.StepJenkins, model.LogInfo, "QA trigger skipped by runtime toggle")
		return nil
	}

	run.JenkinsJobs = make([]model.JenkinsJobSnapshot, len(qaJobs))

	// Each job is independent: a hard failure in one must not cancel the
	// other's watch loop, so this is a plain errgroup.Group (no WithContext)
	// used purely for fan-out/wait, not for shared-context cancellation.
	var g errgroup.Group
	var mu sync.Mutex
	for i, job := range qaJobs {
		i, job := i, job
		g.Go(func() error {
			r := d.runOneQAJob(ctx, run, job)
			mu.Lock()
			run.JenkinsJobs[i] = r.snapshot
			if r.warning != "" {
				d.appendLog(run, model.StepJenkins, model.LogWarning, r.warning)
			}
			d.Reg.Publish(run)
			mu.Unlock()
			if r.hardFail {
				return r.err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.setStepStatus(run, model.StepJenkins, model.StepFailed)
		return fmt.Errorf("qa trigger step: %w", err)
	}

	d.setStepStatus(run, model.StepJenkins, model.StepSuccess)
	d.appendLog(run, model.StepJenkins, model.LogSuccess, "QA jobs complete")
	if err := d.Notifier.Notify(ctx, "releases", d.notifySummary(run)); err != nil {
		d.appendLog(run, model.StepJenkins, model.LogWarning, fmt.Sprintf("notify failed: %v", err))
	}
	return nil
}

func (d *Deps) runOneQAJob(ctx context.Context, run *model.Run, jobName string) (result struct {
	snapshot model.JenkinsJobSnapshot
	hardFail bool
	err      error
	warning  string
}) {
	jobCtx, cancel := context.WithTimeout(ctx, d.Cfg.JobTimeout)
	defer cancel()

	params := map[string]string{"country": run.Country}
	handle, err := d.CI.TriggerJob(jobCtx, jobName, params)
	if err != nil {
		result.snapshot = model.JenkinsJobSnapshot{Name: jobName, Status: "failed"}
		result.hardFail, result.err = true, fmt.Errorf("%s: trigger failed: %w", jobName, err)
		return result
	}

	snap := model.JenkinsJobSnapshot{Name: jobName, URL: handle.URL, Status: "running"}
	outcome, err := d.CI.WatchJob(jobCtx, handle, "", func(stage model.BuildStage) {
		snap.Stages = append(snap.Stages, stage)
	})
	if err != nil {
		if jobCtx.Err() != nil {
			snap.Status = "timeout"
			result.warning = fmt.Sprintf("%s: timed out after %s", jobName, d.Cfg.JobTimeout)
			result.snapshot = snap
			return result
		}
		snap.Status = "failed"
		result.snapshot = snap
		result.hardFail, result.err = true, fmt.Errorf("%s: %w", jobName, err)
		return result
	}

	snap.Status = outcome.Status
	snap.FailedStep = outcome.FailedStage
	result.snapshot = snap
	if outcome.Status == "failed" || outcome.Status == "aborted" {
		result.hardFail = true
		result.err = fmt.Errorf("%s: ended %s", jobName, outcome.Status)
	}
	return result
}

// notifySummary assembles the human-facing release summary sent once the
// QA jobs complete.
func (d *Deps) notifySummary(run *model.Run) string {
	msg := fmt.Sprintf("run #%d (%s) staging-%s: ", run.Num, run.User, run.Country)
	for i, mr := range run.MergeStatuses {
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s@%s", mr.Name, mr.ECRTag)
	}
	if run.MTTRSeconds > 0 {
		msg += fmt.Sprintf(" (mttr %s)", time.Duration(run.MTTRSeconds*float64(time.Second)))
	}
	return msg
}
