package steps

import (
	"context"
	"fmt"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/svcdir"
)

// RunMerge merges master into the pre-release branch for every selected
// service and records the resulting SHA (or no-op) per service. Per
// spec.md §4.4.1, _shas[svc] is populated for every non-failed service —
// from the merge's own SHA when a new commit was created, or from a
// batch-fetched target-branch HEAD sha when the merge was a no-op — and
// the expected artifact tag is computed for every success-or-no-op
// service from that service's registry branch prefix.
func (d *Deps) RunMerge(ctx context.Context, run *model.Run) error {
	d.setStepStatus(run, model.StepMerge, model.StepRunning)
	d.appendLog(run, model.StepMerge, model.LogHeader, "merging master into pre-release")

	if err := d.Services.Refresh(); err != nil {
		d.appendLog(run, model.StepMerge, model.LogWarning, fmt.Sprintf("service registry refresh failed, using last-known copy: %v", err))
	}

	targetBranch := make(map[string]string, len(run.SelectedServices))
	for _, svc := range run.SelectedServices {
		targetBranch[svc] = d.Services.Entry(svc).TargetBranch
	}

	outcome, err := d.runWithRetry(ctx, run, model.StepMerge, func(ctx context.Context, attempt int) error {
		outcomes, err := d.SourceControl.MergeToPrerelease(ctx, targetBranch)
		if err != nil {
			return err
		}

		run.MergeStatuses = run.MergeStatuses[:0]
		run.ActuallyMerged = run.ActuallyMerged[:0]

		// Services whose merge was a no-op need their target branch's HEAD
		// sha batch-fetched, since the merge call itself produced no new
		// commit to report a sha from.
		noOpRefs := map[string]string{}
		var firstFailure error
		type pending struct {
			svc    string
			branch string
		}
		var noOps []pending

		for _, svc := range run.SelectedServices {
			o, ok := outcomes[svc]
			if !ok {
				continue
			}
			if o.Err != nil {
				run.MergeStatuses = append(run.MergeStatuses, model.MergeResult{
					Name: svc, Branch: targetBranch[svc], Status: model.MergeFailed, Message: o.Err.Error(),
				})
				if firstFailure == nil {
					firstFailure = o.Err
				}
				continue
			}
			if o.NoOp {
				noOpRefs[svc] = targetBranch[svc]
				noOps = append(noOps, pending{svc: svc, branch: targetBranch[svc]})
				continue
			}
			run.ActuallyMerged = append(run.ActuallyMerged, svc)
			run.SHAs[svc] = o.SHA
			entry := d.Services.Entry(svc)
			tag := svcdir.ExpectedTag(entry.BranchPrefix, o.SHA)
			run.MergeStatuses = append(run.MergeStatuses, model.MergeResult{
				Name: svc, Branch: targetBranch[svc], TargetSHA: o.SHA, SHA: o.SHA,
				Status: model.MergeSuccess, ECRTag: tag, ECRRepo: entry.ECRRepo,
			})
		}

		if len(noOps) > 0 {
			heads, err := d.SourceControl.HeadSHAs(ctx, noOpRefs)
			if err != nil {
				return fmt.Errorf("fetch target-branch heads for no-op services: %w", err)
			}
			for _, p := range noOps {
				sha := heads[p.svc]
				run.SHAs[p.svc] = sha
				entry := d.Services.Entry(p.svc)
				tag := svcdir.ExpectedTag(entry.BranchPrefix, sha)
				run.MergeStatuses = append(run.MergeStatuses, model.MergeResult{
					Name: p.svc, Branch: p.branch, TargetSHA: sha, SHA: sha,
					Status: model.MergeNoOp, ECRTag: tag, ECRRepo: entry.ECRRepo,
				})
			}
		}

		return firstFailure
	}, nil, retryDelay)
	if err != nil {
		d.setStepStatus(run, model.StepMerge, model.StepFailed)
		return fmt.Errorf("merge step: %w", err)
	}

	switch outcome {
	case OutcomeAborted:
		d.setStepStatus(run, model.StepMerge, model.StepInterrupted)
		return fmt.Errorf("merge step aborted by operator")
	case OutcomeProceeded:
		d.setStepStatus(run, model.StepMerge, model.StepSuccess)
		d.appendLog(run, model.StepMerge, model.LogWarning, "merge proceeded despite unresolved failures")
	default:
		d.setStepStatus(run, model.StepMerge, model.StepSuccess)
		d.appendLog(run, model.StepMerge, model.LogSuccess, fmt.Sprintf("merged %d service(s)", len(run.ActuallyMerged)))
	}
	return nil
}
