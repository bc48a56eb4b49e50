package steps

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
	"github.com/sportygroup/qa-goldenpath/internal/clients/clientstest"
	"github.com/sportygroup/qa-goldenpath/internal/config"
	"github.com/sportygroup/qa-goldenpath/internal/humanloop"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
)

func newQATriggerDeps(t *testing.T) (*Deps, *clientstest.CIWorker, *clientstest.Notification) {
	t.Helper()
	cfg := config.Default()
	cfg.JobTimeout = time.Second
	ci := clientstest.NewCIWorker()
	notifier := &clientstest.Notification{}
	reg := registry.New()
	return &Deps{
		Cfg:       cfg,
		Log:       logr.Discard(),
		CI:        ci,
		Notifier:  notifier,
		Reg:       reg,
		HumanLoop: humanloop.New(reg),
	}, ci, notifier
}

func TestRunQATrigger_BothJobsSucceed(t *testing.T) {
	d, ci, notifier := newQATriggerDeps(t)
	ci.JobOutcomes["smoke"] = clients.JobOutcome{Status: "success"}
	ci.JobOutcomes["integration"] = clients.JobOutcome{Status: "success"}

	run := model.NewRun(1, "r1", "alice", "ke", []string{"svc-a"})
	run.MergeStatuses = []model.MergeResult{{Name: "svc-a", ECRTag: "main-deadbeef"}}

	err := d.RunQATrigger(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, model.StepSuccess, run.Steps[model.StepJenkins])
	assert.Len(t, run.JenkinsJobs, 2)
	assert.NotEmpty(t, notifier.Sent)
}

func TestRunQATrigger_OneJobHardFailureFailsStepButNotTheOther(t *testing.T) {
	d, ci, notifier := newQATriggerDeps(t)
	ci.JobOutcomes["smoke"] = clients.JobOutcome{Status: "failed", FailedStage: "unit-tests"}
	ci.JobOutcomes["integration"] = clients.JobOutcome{Status: "success"}

	run := model.NewRun(1, "r1", "alice", "ke", []string{"svc-a"})

	err := d.RunQATrigger(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, model.StepFailed, run.Steps[model.StepJenkins])
	assert.Len(t, run.JenkinsJobs, 2)
	assert.Empty(t, notifier.Sent)
}

func TestRunQATrigger_SkipToggleSkipsWithoutCallingCI(t *testing.T) {
	d, _, notifier := newQATriggerDeps(t)
	d.SkipQA = true

	run := model.NewRun(1, "r1", "alice", "ke", []string{"svc-a"})
	err := d.RunQATrigger(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, model.StepSkipped, run.Steps[model.StepJenkins])
	assert.Empty(t, notifier.Sent)
}
