package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sportygroup/qa-goldenpath/internal/humanloop"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// handleStart kicks off a run in the background and returns immediately;
// a request that arrives while a run is already in flight collapses onto
// it (session.Executor's singleflight) rather than starting a duplicate
// execution. The response is the same 202 either way.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Country == "" || len(req.Services) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("country and at least one service are required"))
		return
	}

	// Fired in its own goroutine: a run can take many minutes, and the
	// executor gate — not this handler — is what decides whether this
	// request starts a fresh run or collapses onto one already in flight.
	go func() {
		shared, err := s.Executor.Start(func() error {
			_, err := s.Engine.Run(context.Background(), req.User, req.Country, req.Services)
			return err
		})
		if err != nil {
			s.Log.Error(err, "run ended with error")
		}
		if shared {
			s.Log.Info("start request attached to an already in-flight run")
		}
	}()

	writeJSON(w, http.StatusAccepted, StartResponse{Accepted: true})
}

// handleCurrent returns the latest run snapshot as a one-shot JSON GET.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	run, version := s.Reg.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "run": run})
}

// handleObserve streams run snapshots over SSE: the replay history first,
// then live events until the client disconnects.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, history, unsubscribe := s.broadcaster.Subscribe()
	defer unsubscribe()

	for _, ev := range history {
		if err := WriteSSE(w, "run", ev); err != nil {
			return
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := WriteSSE(w, "run", ev); err != nil {
				return
			}
		}
	}
}

// handlePauseDecision resolves the step currently waiting on a human: a
// rollback decision is only legal while the Deploy step is the one paused,
// per spec.md's "rollback only at the Deploy step" invariant.
func (s *Server) handlePauseDecision(w http.ResponseWriter, r *http.Request) {
	var req PauseDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	decision, err := humanloop.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	run, _ := s.Reg.Snapshot()
	if decision == humanloop.DecisionRollback {
		if step := currentPausedStep(run); step != "deploy" {
			writeError(w, http.StatusConflict, fmt.Errorf("rollback is only valid while the deploy step is paused, current paused step is %q", step))
			return
		}
	}

	s.Reg.SetPauseAction(string(decision))
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

// handleAbort raises the sticky abort flag, which a step paused for a human
// decision observes on its next poll tick (humanloop.WaitForDecision). A
// step attempt that is still running is not interrupted by it.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.Reg.SetAbort()
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	run, _ := s.Reg.Snapshot()
	if run == nil || !s.HumanLoop.ApproveAction(run, req.ActionID, req.Result) {
		writeError(w, http.StatusNotFound, fmt.Errorf("proposed action %q not found", req.ActionID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (s *Server) handleSkipAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	run, _ := s.Reg.Snapshot()
	if run == nil || !s.HumanLoop.SkipAction(run, req.ActionID) {
		writeError(w, http.StatusNotFound, fmt.Errorf("proposed action %q not found", req.ActionID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}
