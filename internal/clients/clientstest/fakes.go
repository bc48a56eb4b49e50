// Package clientstest provides scriptable fakes for internal/clients,
// used across the pipeline step-runner and engine tests.
package clientstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// SourceControl is a scriptable clients.SourceControlClient.
type SourceControl struct {
	mu       sync.Mutex
	Outcomes map[string]clients.MergeOutcome
	Heads    map[string]string // ref -> sha, for HeadSHAs
	Err      error
	Calls    []map[string]string
}

func NewSourceControl() *SourceControl {
	return &SourceControl{Outcomes: map[string]clients.MergeOutcome{}, Heads: map[string]string{}}
}

func (f *SourceControl) MergeToPrerelease(_ context.Context, targetBranch map[string]string) (map[string]clients.MergeOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, targetBranch)
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]clients.MergeOutcome, len(targetBranch))
	for svc := range targetBranch {
		if o, ok := f.Outcomes[svc]; ok {
			out[svc] = o
		} else {
			out[svc] = clients.MergeOutcome{SHA: "deadbeef"}
		}
	}
	return out, nil
}

func (f *SourceControl) HeadSHAs(_ context.Context, refs map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]string, len(refs))
	for ref := range refs {
		if sha, ok := f.Heads[ref]; ok {
			out[ref] = sha
		} else {
			out[ref] = "deadbeef"
		}
	}
	return out, nil
}

// ArtifactRegistry is a scriptable clients.ArtifactRegistryClient.
type ArtifactRegistry struct {
	mu     sync.Mutex
	Exists map[string]bool // keyed by "service@tag"
	Err    error
}

func NewArtifactRegistry() *ArtifactRegistry {
	return &ArtifactRegistry{Exists: map[string]bool{}}
}

func (f *ArtifactRegistry) ImageExists(_ context.Context, service, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return f.Exists[service+"@"+tag], nil
}

// CIWorker is a scriptable clients.CIWorkerClient.
type CIWorker struct {
	mu          sync.Mutex
	Latest      map[string]clients.BuildHandle // keyed by job name
	JobOutcomes map[string]clients.JobOutcome  // keyed by job name
	Stages      map[string][]model.BuildStage  // keyed by job name
	Err         error
	nextBuild   int
}

func NewCIWorker() *CIWorker {
	return &CIWorker{
		Latest:      map[string]clients.BuildHandle{},
		JobOutcomes: map[string]clients.JobOutcome{},
		Stages:      map[string][]model.BuildStage{},
	}
}

func (f *CIWorker) LatestBuild(_ context.Context, jobName string) (clients.BuildHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return clients.BuildHandle{}, f.Err
	}
	if h, ok := f.Latest[jobName]; ok {
		return h, nil
	}
	return clients.BuildHandle{JobName: jobName, BuildNumber: 1, URL: "https://ci.example/job/" + jobName + "/1"}, nil
}

func (f *CIWorker) TriggerJob(_ context.Context, jobName string, _ map[string]string) (clients.BuildHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return clients.BuildHandle{}, f.Err
	}
	f.nextBuild++
	return clients.BuildHandle{JobName: jobName, BuildNumber: f.nextBuild, URL: fmt.Sprintf("https://ci.example/job/%s/%d", jobName, f.nextBuild)}, nil
}

func (f *CIWorker) WatchJob(_ context.Context, handle clients.BuildHandle, _ string, onStage func(model.BuildStage)) (clients.JobOutcome, error) {
	f.mu.Lock()
	stages := append([]model.BuildStage{}, f.Stages[handle.JobName]...)
	outcome, ok := f.JobOutcomes[handle.JobName]
	err := f.Err
	f.mu.Unlock()

	if err != nil {
		return clients.JobOutcome{}, err
	}
	for _, s := range stages {
		if onStage != nil {
			onStage(s)
		}
	}
	if !ok {
		outcome = clients.JobOutcome{Status: "success", URL: handle.URL}
	}
	return outcome, nil
}

// DeployController is a scriptable clients.DeployControllerClient that
// replays a fixed sequence of events, one per Events entry, then returns.
type DeployController struct {
	mu        sync.Mutex
	Events    []clients.DeployEvent
	Err       error
	SyncCalls []string
}

func (f *DeployController) WatchHealth(ctx context.Context, _ []string, onEvent func(clients.DeployEvent)) error {
	for _, ev := range f.Events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		onEvent(ev)
	}
	<-ctx.Done()
	return f.Err
}

func (f *DeployController) HardSync(_ context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SyncCalls = append(f.SyncCalls, service)
	return f.Err
}

// Notification records every notification sent to it.
type Notification struct {
	mu   sync.Mutex
	Sent []string
	Err  error
}

func (f *Notification) Notify(_ context.Context, channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, channel+": "+message)
	return nil
}

// LLM returns a fixed canned response, or Err if set.
type LLM struct {
	Response string
	Err      error
}

func (f *LLM) Complete(_ context.Context, _, _ string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}
