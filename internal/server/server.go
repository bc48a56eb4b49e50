// Package server exposes the pipeline engine over HTTP: starting a run,
// observing its live progress over Server-Sent Events, and the
// pause/decision, abort, and action-approval endpoints the human-in-loop
// and diagnostics protocols depend on.
package server

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/sportygroup/qa-goldenpath/internal/humanloop"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
	"github.com/sportygroup/qa-goldenpath/internal/session"
)

// Server bundles the pipeline engine with the concurrency primitives and
// HTTP plumbing needed to drive it from a browser.
type Server struct {
	Engine    *pipeline.Engine
	Reg       *registry.Registry
	HumanLoop *humanloop.Controller
	Executor  *session.Executor
	Poller    *session.Poller
	Log       logr.Logger

	broadcaster *Broadcaster
}

// New wires a Server around the given engine and registry.
func New(engine *pipeline.Engine, reg *registry.Registry, log logr.Logger) *Server {
	return &Server{
		Engine:      engine,
		Reg:         reg,
		HumanLoop:   humanloop.New(reg),
		Executor:    session.NewExecutor(),
		Poller:      session.NewPoller(reg),
		Log:         log,
		broadcaster: NewBroadcaster(),
	}
}

// Routes returns the configured mux. Call Pump in its own goroutine before
// serving so the broadcaster actually has events to fan out.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", s.handleStart)
	mux.HandleFunc("GET /api/runs/current", s.handleCurrent)
	mux.HandleFunc("GET /api/events", s.handleObserve)
	mux.HandleFunc("POST /api/runs/decision", s.handlePauseDecision)
	mux.HandleFunc("POST /api/runs/abort", s.handleAbort)
	mux.HandleFunc("POST /api/runs/actions/approve", s.handleApproveAction)
	mux.HandleFunc("POST /api/runs/actions/skip", s.handleSkipAction)
	return mux
}

// Pump forwards every registry version change onto the broadcaster until
// ctx is done. Run exactly one of these per process.
func (s *Server) Pump(ctx context.Context) {
	var since uint64
	for {
		run, v, changed := s.Poller.Wait(ctx, since)
		if ctx.Err() != nil {
			return
		}
		if changed {
			since = v
			s.broadcaster.Publish(map[string]any{"type": "run", "version": v, "run": run})
		}
	}
}

// currentPausedStep returns the step currently mid-retry-wait (the one
// still StepRunning while the run is paused), or "" if none.
func currentPausedStep(run *model.Run) model.StepID {
	if run == nil || !run.Paused {
		return ""
	}
	for _, id := range model.StepIDs {
		if run.Steps[id] == model.StepRunning {
			return id
		}
	}
	return ""
}
