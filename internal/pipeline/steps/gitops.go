package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sportygroup/qa-goldenpath/internal/config"
	"github.com/sportygroup/qa-goldenpath/internal/gitrepo"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// gitIdentityName is the fallback git author name used when the triggering
// user has no roster entry.
const gitIdentityName = "qa-goldenpath"

// gitopsValuesFilePath resolves the staging values file for service in
// country, honoring the one named exception (spec.md §4.4.3) whose tag
// lives inside a shared file instead of its own per-service one.
func gitopsValuesFilePath(cfg config.Config, service, country string) string {
	if cfg.SharedValuesService != "" && service == cfg.SharedValuesService {
		return filepath.Join(cfg.GitOpsRepoPath, fmt.Sprintf(cfg.SharedValuesFile, country))
	}
	return filepath.Join(cfg.GitOpsRepoPath, service, fmt.Sprintf("values-staging-%s.yaml", country))
}

// tagKeyPath resolves which YAML key path holds service's tag: the shared
// values file's configured nested path for the one named exception, the
// ordinary per-service file's configured default path otherwise.
func tagKeyPath(cfg config.Config, service string) []string {
	if cfg.SharedValuesService != "" && service == cfg.SharedValuesService {
		return cfg.SharedValuesTagPath
	}
	return cfg.DefaultTagPath
}

// RunGitOps is the GitOps Update step: acquire the country's advisory lock,
// rewrite each non-failed service's staging values file to its expected
// tag, commit, and push — verifying the push actually landed before
// recording _tag_pushed_at.
func (d *Deps) RunGitOps(ctx context.Context, run *model.Run) error {
	d.setStepStatus(run, model.StepGitOps, model.StepRunning)
	d.appendLog(run, model.StepGitOps, model.LogHeader, fmt.Sprintf("updating gitops values for %s", run.Country))

	owner := d.CountryLockOwner
	if owner == "" {
		owner = run.ID
	}
	ttl := d.LockTTL
	if ttl == 0 {
		ttl = d.Cfg.CountryLockTTL
	}

	acquired := false
	for attempt := 1; attempt <= d.Cfg.RetryMax+1; attempt++ {
		ok, err := d.Git.TryAcquireCountryLock(run.Country, owner, ttl)
		if err != nil {
			d.setStepStatus(run, model.StepGitOps, model.StepFailed)
			return fmt.Errorf("gitops step: acquire country lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		d.appendLog(run, model.StepGitOps, model.LogWarning, fmt.Sprintf("country lock for %s held by another run, attempt %d", run.Country, attempt))
		select {
		case <-ctx.Done():
			d.setStepStatus(run, model.StepGitOps, model.StepFailed)
			return ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}
	}
	if !acquired {
		d.setStepStatus(run, model.StepGitOps, model.StepFailed)
		return fmt.Errorf("gitops step: could not acquire %s deploy lock", run.Country)
	}
	// Held past this step on purpose: the country lock serializes GitOps-repo
	// access for the whole deploy+QA window, not just this step, so release
	// happens once at the end of the run (see Engine.releaseCountryLock) —
	// covering every exit path, not just a clean QA Trigger finish.

	tags := d.pendingTags(run)

	outcome, err := d.runWithRetry(ctx, run, model.StepGitOps, func(ctx context.Context, attempt int) error {
		if err := d.Git.FastForwardToRemote(); err != nil {
			return fmt.Errorf("sync gitops repo: %w", err)
		}

		run.GitOpsStatuses = run.GitOpsStatuses[:0]
		var firstFailure error
		var pushed []string
		var summary []string

		for _, svc := range run.SelectedServices {
			tag, ok := tags[svc]
			if !ok {
				continue
			}
			res := d.rewriteOneService(run, svc, tag)
			run.GitOpsStatuses = append(run.GitOpsStatuses, res)
			d.Reg.Publish(run)
			if res.Status == model.MergeFailed {
				if firstFailure == nil {
					firstFailure = fmt.Errorf("%s: %s", svc, res.Message)
				}
				continue
			}
			if res.Phase == model.GitOpsUpdated {
				pushed = append(pushed, svc)
				summary = append(summary, fmt.Sprintf("%s=%s", svc, tag))
			}
		}
		if firstFailure != nil {
			return firstFailure
		}
		if len(pushed) == 0 {
			d.appendLog(run, model.StepGitOps, model.LogInfo, "no values files changed, nothing to push")
			return nil
		}

		name, email := d.commitIdentity(run)
		message := d.commitMessage(run, pushed, summary)
		if _, err := d.Git.CommitAs(message, name, email); err != nil {
			return fmt.Errorf("commit values changes: %w", err)
		}
		if err := d.Git.Push(); err != nil {
			if gitrepo.IsNonFastForward(err) {
				return fmt.Errorf("push rejected, remote advanced: %w", err)
			}
			return fmt.Errorf("push values changes: %w", err)
		}
		if err := d.verifyPush(message); err != nil {
			return fmt.Errorf("verify push: %w", err)
		}

		pushedAt := time.Now().Format(time.RFC3339)
		for i := range run.GitOpsStatuses {
			if run.GitOpsStatuses[i].Phase == model.GitOpsUpdated {
				run.GitOpsStatuses[i].Phase = model.GitOpsPushed
				run.GitOpsStatuses[i].Message = "pushed at " + pushedAt
				run.PushedAt[run.GitOpsStatuses[i].Name] = pushedAt
			}
		}
		d.Reg.Publish(run)
		return nil
	}, nil, retryDelay)
	if err != nil {
		d.setStepStatus(run, model.StepGitOps, model.StepFailed)
		return fmt.Errorf("gitops step: %w", err)
	}

	switch outcome {
	case OutcomeAborted:
		d.setStepStatus(run, model.StepGitOps, model.StepInterrupted)
		return fmt.Errorf("gitops step aborted by operator")
	case OutcomeProceeded:
		d.setStepStatus(run, model.StepGitOps, model.StepSuccess)
		d.appendLog(run, model.StepGitOps, model.LogWarning, "gitops step forced to proceed by operator")
	default:
		d.setStepStatus(run, model.StepGitOps, model.StepSuccess)
		d.appendLog(run, model.StepGitOps, model.LogSuccess, "values files updated and pushed")
	}
	return nil
}

// pendingTags returns the tag each non-failed, non-skipped service should be
// deployed at, preferring the Image Check step's resolved tag (which may
// have fallen back to the currently-deployed tag for a no-op service whose
// expected image never materialized) over the Merge step's computed one.
// This is a local working set only: run.ExpectedTags stays untouched until
// the Deploy step computes it scoped to services actually pushed, so an
// observer polling mid-GitOps never sees tags for services that never land.
func (d *Deps) pendingTags(run *model.Run) map[string]string {
	tags := map[string]string{}
	for _, mr := range run.MergeStatuses {
		if mr.Status != model.MergeFailed {
			tags[mr.Name] = mr.ECRTag
		}
	}
	for _, br := range run.BuildStatuses {
		if br.Status != model.MergeFailed && br.Tag != "" {
			tags[br.Name] = br.Tag
		}
	}
	return tags
}

func (d *Deps) rewriteOneService(run *model.Run, svc, tag string) model.GitOpsResult {
	path := gitopsValuesFilePath(d.Cfg, svc, run.Country)
	keyPath := tagKeyPath(d.Cfg, svc)

	oldTag, _ := gitrepo.CurrentImageTag(path, keyPath)
	changed, err := gitrepo.RewriteImageTag(path, keyPath, tag)
	if err != nil {
		return model.GitOpsResult{Name: svc, Tag: tag, OldTag: oldTag, Status: model.MergeFailed, Phase: model.GitOpsError, Message: err.Error()}
	}
	if !changed {
		return model.GitOpsResult{Name: svc, Tag: tag, OldTag: oldTag, Status: model.MergeSuccess, Phase: model.GitOpsUnchanged, Message: "already at expected tag"}
	}
	return model.GitOpsResult{Name: svc, Tag: tag, OldTag: oldTag, Status: model.MergeSuccess, Phase: model.GitOpsUpdated, Message: "rewritten, pending push"}
}

// commitIdentity resolves the git author for the values-bump commit from
// the on-call roster, so the commit is attributed to the triggering user
// rather than the process's own service identity.
func (d *Deps) commitIdentity(run *model.Run) (name, email string) {
	fallback := gitIdentityName + "@local"
	email = d.Roster.EmailFor(run.User, fallback)
	name = run.User
	if name == "" {
		name = gitIdentityName
	}
	return name, email
}

// commitMessage builds the structured commit message the push-verification
// step later greps for: "qa-goldenpath #<n> staging-<country> (<user>):
// <svc1>, <svc2>, ... [<svc1>=<tag1> | ...] [<correlation>]".
func (d *Deps) commitMessage(run *model.Run, services, tagSummary []string) string {
	return fmt.Sprintf("qa-goldenpath #%d staging-%s (%s): %s [%s] [%s]",
		run.Num, run.Country, run.User, strings.Join(services, ", "),
		strings.Join(tagSummary, " | "), run.CorrelationID)
}

// verifyPush fast-forwards to the remote and checks the landed HEAD commit
// carries the marker we just pushed, guarding against a push that appeared
// to succeed locally but lost a race before we could confirm it.
func (d *Deps) verifyPush(message string) error {
	if err := d.Git.FastForwardToRemote(); err != nil {
		return fmt.Errorf("fast-forward after push: %w", err)
	}
	landed, err := d.Git.LastCommitMessage()
	if err != nil {
		return fmt.Errorf("read head commit message after push: %w", err)
	}
	if !strings.Contains(landed, message) {
		return fmt.Errorf("head commit message does not match what we pushed, lost a race")
	}
	return nil
}
