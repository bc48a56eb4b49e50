package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
	"github.com/sportygroup/qa-goldenpath/internal/clients/clientstest"
	"github.com/sportygroup/qa-goldenpath/internal/config"
	"github.com/sportygroup/qa-goldenpath/internal/diagnostics"
	"github.com/sportygroup/qa-goldenpath/internal/gitrepo"
	"github.com/sportygroup/qa-goldenpath/internal/humanloop"
	"github.com/sportygroup/qa-goldenpath/internal/logging"
	"github.com/sportygroup/qa-goldenpath/internal/persistence"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/steps"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
	"github.com/sportygroup/qa-goldenpath/internal/roster"
	"github.com/sportygroup/qa-goldenpath/internal/runstore"
	"github.com/sportygroup/qa-goldenpath/internal/server"
	"github.com/sportygroup/qa-goldenpath/internal/session"
	"github.com/sportygroup/qa-goldenpath/internal/svcdir"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration engine and its HTTP/SSE console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", ":8090", "address the HTTP server listens on")
	cmd.Flags().BoolVar(&flagSkipQA, "skip-qa", false, "skip the Jenkins QA trigger step")
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Dev = cfg.Dev || flagDev

	log, flushLog, err := logging.New(cfg.Dev)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer flushLog()

	git := gitrepo.Open(cfg.GitOpsRepoPath, cfg.GitOpsRemote, cfg.PreReleaseBranch)

	svcDir, err := svcdir.Load(cfg.ServiceDirFile, cfg.PreReleaseBranch)
	if err != nil {
		return fmt.Errorf("load service directory: %w", err)
	}

	rost, err := roster.Load(cfg.RosterFile)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	store, err := persistence.NewStore(cfg.LiveStateFile, log)
	if err != nil {
		return fmt.Errorf("init live state store: %w", err)
	}

	var diagLLM clients.LLMClient
	if cfg.Anthropic.APIKey != "" {
		diagLLM = diagnostics.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Anthropic.Model)
	} else {
		log.Info("no ANTHROPIC_API_KEY set, diagnostics will run against a stub LLM")
		diagLLM = &clientstest.LLM{Response: `{"diagnosis":"no LLM configured","actions":[]}`}
	}
	diagEngine := diagnostics.NewEngine(diagLLM, cfg.AutoExecuteConfidence)

	// The real Jenkins/ArgoCD/ECR/Bitbucket collaborators are reached
	// through internal/clients' interfaces; wiring a concrete HTTP/gRPC
	// implementation for each is out of scope here, so serve runs against
	// the same scriptable fakes the step-runner tests use. Swap these for
	// real clients before pointing this at a production GitOps repo.
	sourceControl := clientstest.NewSourceControl()
	artifacts := clientstest.NewArtifactRegistry()
	ci := clientstest.NewCIWorker()
	deploy := &clientstest.DeployController{}
	notifier := &clientstest.Notification{}

	reg := registry.New()
	deps := &steps.Deps{
		Cfg:              cfg,
		Log:              log,
		SourceControl:    sourceControl,
		Artifacts:        artifacts,
		CI:               ci,
		Deploy:           deploy,
		Notifier:         notifier,
		Git:              git,
		Services:         svcDir,
		Roster:           rost,
		Reg:              reg,
		HumanLoop:        humanloop.New(reg),
		Diag:             diagEngine,
		CountryLockOwner: "qa-goldenpath-server",
		LockTTL:          cfg.CountryLockTTL,
		SkipQA:           flagSkipQA,
	}

	engine := pipeline.NewEngine(deps, store)
	srv := server.New(engine, reg, log)

	var history *runstore.Store
	if cfg.Database.DSN != "" {
		history, err = runstore.Open(ctx, cfg.Database.DSN)
		if err != nil {
			log.Error(err, "could not connect to run-history database, continuing without it")
		} else {
			defer history.Close()
		}
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.Pump(runCtx)
	if history != nil {
		go recordFinishedRuns(runCtx, session.NewPoller(reg), history)
	}

	httpSrv := &http.Server{
		Addr:              flagAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", flagAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// recordFinishedRuns watches the registry for terminal run snapshots and
// persists each one exactly once to the durable history store.
func recordFinishedRuns(ctx context.Context, poller *session.Poller, history *runstore.Store) {
	var since uint64
	recorded := map[string]bool{}
	for {
		run, v, changed := poller.Wait(ctx, since)
		if ctx.Err() != nil {
			return
		}
		if !changed {
			continue
		}
		since = v
		if run == nil || recorded[run.ID] || !isTerminal(run.Status) {
			continue
		}
		if err := history.RecordRun(ctx, run); err != nil {
			continue
		}
		recorded[run.ID] = true
	}
}

func isTerminal(status model.RunStatus) bool {
	switch status {
	case model.RunSuccess, model.RunFailed, model.RunDegraded, model.RunInterrupted:
		return true
	default:
		return false
	}
}
