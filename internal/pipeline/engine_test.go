package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
	"github.com/sportygroup/qa-goldenpath/internal/clients/clientstest"
	"github.com/sportygroup/qa-goldenpath/internal/config"
	"github.com/sportygroup/qa-goldenpath/internal/diagnostics"
	"github.com/sportygroup/qa-goldenpath/internal/gitrepo"
	"github.com/sportygroup/qa-goldenpath/internal/humanloop"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/steps"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
	"github.com/sportygroup/qa-goldenpath/internal/roster"
	"github.com/sportygroup/qa-goldenpath/internal/svcdir"
)

// setupGitOpsFixture creates a bare remote and a working clone seeded with
// one values file per service, each holding the tag "old-tag".
func setupGitOpsFixture(t *testing.T, services []string, country string) *gitrepo.Repo {
	t.Helper()
	remoteDir := filepath.Join(t.TempDir(), "remote.git")
	require.NoError(t, exec.Command("git", "init", "--bare", "-b", "main", remoteDir).Run())

	cloneDir := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, exec.Command("git", "clone", remoteDir, cloneDir).Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "config", "user.name", "fixture").Run())
	require.NoError(t, exec.Command("git", "-C", cloneDir, "config", "user.email", "fixture@example.com").Run())

	for _, svc := range services {
		dir := filepath.Join(cloneDir, svc)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		path := filepath.Join(dir, "values-staging-"+country+".yaml")
		require.NoError(t, os.WriteFile(path, []byte("image:\n  tag: old-tag\n"), 0o644))
	}

	r := gitrepo.Open(cloneDir, "origin", "main")
	_, err := r.CommitAllowEmpty("seed values files")
	require.NoError(t, err)
	require.NoError(t, r.Push())
	return r
}

func writeServiceDirectory(t *testing.T, path string, services []string) *svcdir.Directory {
	t.Helper()
	var body string
	for _, s := range services {
		body += "  - name: " + s + "\n    target_branch: main\n    ecr_repo: " + s + "\n    jenkins_job: " + s + "-job\n"
	}
	require.NoError(t, os.WriteFile(path, []byte("default_target_branch: main\nservices:\n"+body), 0o644))
	dir, err := svcdir.Load(path, "main")
	require.NoError(t, err)
	return dir
}

func TestEngine_Run_HappyPathConvergesAllFiveSteps(t *testing.T) {
	services := []string{"svc-a", "svc-b"}
	country := "ke"

	repo := setupGitOpsFixture(t, services, country)
	svcDirPath := filepath.Join(t.TempDir(), "services.yaml")
	dir := writeServiceDirectory(t, svcDirPath, services)

	cfg := config.Default()
	cfg.GitOpsRepoPath = repo.Dir
	cfg.GitOpsRemote = "origin"
	cfg.Country = country
	cfg.Services = services
	cfg.RetryMax = 0
	cfg.SettleGrace = 50 * time.Millisecond
	cfg.DeployTimeout = 2 * time.Second
	cfg.JobTimeout = 2 * time.Second
	cfg.CountryLockTTL = time.Minute

	sc := clientstest.NewSourceControl()
	artifacts := clientstest.NewArtifactRegistry()
	for _, svc := range services {
		artifacts.Exists[svc+"@main-deadbeef"] = true
	}
	ci := clientstest.NewCIWorker()
	deploy := &clientstest.DeployController{}
	for _, svc := range services {
		deploy.Events = append(deploy.Events, clients.DeployEvent{Service: svc, Health: "Healthy", CurrentTag: "main-deadbeef"})
	}
	notifier := &clientstest.Notification{}

	reg := registry.New()
	r, err := roster.Load(filepath.Join(t.TempDir(), "roster.json"))
	require.NoError(t, err)

	deps := &steps.Deps{
		Cfg:              cfg,
		Log:              logr.Discard(),
		SourceControl:    sc,
		Artifacts:        artifacts,
		CI:               ci,
		Deploy:           deploy,
		Notifier:         notifier,
		Git:              repo,
		Services:         dir,
		Roster:           r,
		Reg:              reg,
		HumanLoop:        humanloop.New(reg),
		CountryLockOwner: "engine-test",
		LockTTL:          time.Minute,
	}

	eng := NewEngine(deps, nil)
	run, err := eng.Run(context.Background(), "alice", country, services)
	require.NoError(t, err)

	assert.Equal(t, model.RunSuccess, run.Status)
	for _, id := range model.StepIDs {
		assert.Equal(t, model.StepSuccess, run.Steps[id], "step %s", id)
	}
	assert.Len(t, run.MergeStatuses, 2)
	assert.Len(t, run.GitOpsStatuses, 2)
	for _, gr := range run.GitOpsStatuses {
		assert.Equal(t, model.GitOpsPushed, gr.Phase)
	}
	assert.Equal(t, model.HealthHealthy, run.HealthMap["svc-a"])
	assert.NotEmpty(t, deploy.SyncCalls)
	assert.Len(t, run.JenkinsJobs, 2)
	assert.NotEmpty(t, notifier.Sent)

	landed, err := repo.LastCommitMessage()
	require.NoError(t, err)
	assert.Contains(t, landed, "qa-goldenpath")

	// The country lock GitOps acquired must be released by the time Run
	// returns, not left held past the end of the whole pipeline.
	ok, err := repo.TryAcquireCountryLock(country, "someone-else", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "country lock should have been released once the run finished")
}

func TestEngine_Run_MergeFailureStopsThePipeline(t *testing.T) {
	services := []string{"svc-a"}
	country := "ke"

	repo := setupGitOpsFixture(t, services, country)
	svcDirPath := filepath.Join(t.TempDir(), "services.yaml")
	dir := writeServiceDirectory(t, svcDirPath, services)

	cfg := config.Default()
	cfg.GitOpsRepoPath = repo.Dir
	cfg.GitOpsRemote = "origin"
	cfg.Country = country
	cfg.Services = services
	cfg.RetryMax = 0

	sc := clientstest.NewSourceControl()
	sc.Err = assertErr{"merge host unreachable"}

	reg := registry.New()
	r, _ := roster.Load(filepath.Join(t.TempDir(), "roster.json"))
	deps := &steps.Deps{
		Cfg:              cfg,
		Log:              logr.Discard(),
		SourceControl:    sc,
		Artifacts:        clientstest.NewArtifactRegistry(),
		CI:               clientstest.NewCIWorker(),
		Deploy:           &clientstest.DeployController{},
		Notifier:         &clientstest.Notification{},
		Git:              repo,
		Services:         dir,
		Roster:           r,
		Reg:              reg,
		HumanLoop:        humanloop.New(reg),
		CountryLockOwner: "engine-test",
		LockTTL:          time.Minute,
	}
	eng := NewEngine(deps, nil)

	type result struct {
		run *model.Run
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := eng.Run(context.Background(), "alice", country, services)
		done <- result{run, err}
	}()

	// Give the merge step time to exhaust its retries and pause, then
	// abort it rather than supply a retry/proceed decision.
	time.Sleep(200 * time.Millisecond)
	reg.SetAbort()

	res := <-done
	run, err := res.run, res.err
	require.Error(t, err)
	assert.Equal(t, model.RunInterrupted, run.Status)
	assert.Equal(t, model.StepInterrupted, run.Steps[model.StepMerge])
	assert.Equal(t, model.StepPending, run.Steps[model.StepBuild])
}

// TestAutoExecute_RollbackImageConfidenceEligibleRunsUnattended drives
// autoExecute directly against a confidence=80 rollback_image proposal,
// matching spec.md §8's testable property that such a proposal executes
// without an operator approving it first.
func TestAutoExecute_RollbackImageConfidenceEligibleRunsUnattended(t *testing.T) {
	services := []string{"svc-a"}
	country := "ke"
	repo := setupGitOpsFixture(t, services, country)

	cfg := config.Default()
	cfg.GitOpsRepoPath = repo.Dir
	cfg.GitOpsRemote = "origin"

	deploy := &clientstest.DeployController{}
	reg := registry.New()
	deps := &steps.Deps{
		Cfg:       cfg,
		Log:       logr.Discard(),
		Deploy:    deploy,
		Git:       repo,
		Roster:    roster.Roster{},
		Reg:       reg,
		HumanLoop: humanloop.New(reg),
		Diag:      diagnostics.NewEngine(nil, 80),
	}
	eng := NewEngine(deps, nil)

	run := model.NewRun(1, "r1", "alice", country, services)
	run.GitOpsStatuses = []model.GitOpsResult{
		{Name: "svc-a", Tag: "main-deadbeef", OldTag: "old-tag", Phase: model.GitOpsPushed, Status: model.MergeSuccess},
	}
	run.ProposedActions = []model.ProposedAction{
		{ID: "r1-action-1", Action: "rollback_image", Target: "svc-a", Confidence: 80, State: "proposed"},
	}

	eng.autoExecute(context.Background(), run)

	assert.Equal(t, "executed", run.ProposedActions[0].State)
	assert.Contains(t, deploy.SyncCalls, "svc-a")

	tag, err := gitrepo.CurrentImageTag(filepath.Join(repo.Dir, "svc-a", "values-staging-"+country+".yaml"), []string{"image", "tag"})
	require.NoError(t, err)
	assert.Equal(t, "old-tag", tag)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
