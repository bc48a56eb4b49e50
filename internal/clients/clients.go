// Package clients declares the boundary interfaces for every external
// system the pipeline talks to: the source-control host, the artifact
// registry, the CI worker (Jenkins-shaped), the deployment controller
// (ArgoCD-shaped), the notification service, and the LLM diagnostic
// service. Concrete HTTP/gRPC implementations are deliberately out of
// scope here — per spec.md §1 these are "external collaborators,
// specified only by the interface the core consumes" — so this package
// exists only so the orchestration core and its tests depend on behavior,
// never on a specific wire protocol or SDK. See internal/clients/clientstest
// for the in-memory fakes used by the unit tests.
package clients

import (
	"context"
	"strings"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// SourceControlClient merges master into each service's pre-release branch
// and reports the resulting commit SHAs.
type SourceControlClient interface {
	// MergeToPrerelease merges master into targetBranch[svc] for every
	// service in targetBranch, in parallel, and returns the outcome per
	// service.
	MergeToPrerelease(ctx context.Context, targetBranch map[string]string) (map[string]MergeOutcome, error)

	// HeadSHAs batch-fetches the current HEAD sha for every ref in refs
	// (ref -> branch name). Used after Merge completes to populate
	// target_sha for services whose merge was a no-op.
	HeadSHAs(ctx context.Context, refs map[string]string) (map[string]string, error)
}

// MergeOutcome is one service's merge result.
type MergeOutcome struct {
	SHA  string
	NoOp bool // branch already up to date, nothing to merge
	Err  error
}

// ArtifactRegistryClient checks whether a built image for a given tag
// already exists.
type ArtifactRegistryClient interface {
	// ImageExists reports whether service:tag has a pushed image. A
	// non-nil error whose text contains a credentials/auth substring is
	// treated specially by the Image Check runner (trust-CI fallback);
	// see clients.IsAuthError.
	ImageExists(ctx context.Context, service, tag string) (bool, error)
}

// IsAuthError reports whether err looks like a credentials/auth failure
// from the registry, identified by substring match on its text (the
// registry SDKs in this corpus don't expose a typed auth-error, so this
// mirrors the original's string-matching fallback).
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"credentials", "unauthorized", "403", "accessdenied", "authentication"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// BuildHandle identifies a single CI build/job run.
type BuildHandle struct {
	JobName     string
	BuildNumber int
	URL         string
}

// JobOutcome is the terminal state of one CI build or job.
type JobOutcome struct {
	Status      string // success|failed|aborted|unstable|timeout
	URL         string
	FailedStage string
}

// CIWorkerClient is the Jenkins-shaped CI collaborator: it locates and
// streams an already-running build (Image Check's monitoring path) and can
// also trigger and stream a fresh job (QA Trigger's smoke/integration
// jobs).
type CIWorkerClient interface {
	// LatestBuild locates (or waits a short while for) the most recent
	// build of jobName, returning its handle.
	LatestBuild(ctx context.Context, jobName string) (BuildHandle, error)

	// TriggerJob starts a new run of jobName with params and returns its
	// handle immediately (the run itself is asynchronous).
	TriggerJob(ctx context.Context, jobName string, params map[string]string) (BuildHandle, error)

	// WatchJob streams stage updates for handle via onStage until the job
	// reaches a terminal status, or — when waitForStage is non-empty —
	// until that specific stage succeeds, whichever the caller asked for.
	WatchJob(ctx context.Context, handle BuildHandle, waitForStage string, onStage func(model.BuildStage)) (JobOutcome, error)
}

// DeployEvent is one health observation for one service, pushed by the
// deployment controller's streaming event feed.
type DeployEvent struct {
	Service    string
	Health     string
	CurrentTag string
}

// DeployControllerClient streams deployment health events for the services
// being watched and can force an out-of-band sync.
type DeployControllerClient interface {
	// WatchHealth streams health snapshots until ctx is done; it invokes
	// onEvent for every received event and returns the error (if any) that
	// ended the stream.
	WatchHealth(ctx context.Context, services []string, onEvent func(DeployEvent)) error

	// HardSync forces the controller to reconcile service against its
	// current desired manifest immediately, rather than waiting for its
	// normal poll interval.
	HardSync(ctx context.Context, service string) error
}

// NotificationClient sends human-facing notifications (chat, email) about
// run progress and incidents.
type NotificationClient interface {
	Notify(ctx context.Context, channel, message string) error
}

// LLMClient performs chat completions against a hosted model, used by the
// diagnostics engine for root-cause analysis and remediation proposals.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
