// Package diagnostics runs LLM-driven root-cause diagnosis and remediation
// proposals against a stuck or degraded run. Calls to the LLM client are
// guarded by a bulkhead (a fixed concurrency cap, since diagnostic calls
// are expensive and this is a shared resource across a fleet of workers)
// composed with a circuit breaker (so a sustained upstream outage stops
// burning budget on calls that are going to fail anyway).
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// BulkheadLimit is the default number of concurrent in-flight diagnostic
// calls allowed across the process.
const BulkheadLimit = 2

// Engine runs diagnosis and remediation-proposal calls through a bulkhead
// and circuit breaker shared across the whole process (one Engine per
// process, not per run).
type Engine struct {
	llm     clients.LLMClient
	sem     chan struct{}
	breaker *gobreaker.CircuitBreaker

	autoExecuteConfidence int
}

// NewEngine builds an Engine. autoExecuteConfidence is the minimum
// confidence (0-100) a proposed action needs to qualify for automatic
// execution, on top of being in AutoExecuteActions.
func NewEngine(llm clients.LLMClient, autoExecuteConfidence int) *Engine {
	return &Engine{
		llm: llm,
		sem: make(chan struct{}, BulkheadLimit),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "claude_api",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		autoExecuteConfidence: autoExecuteConfidence,
	}
}

// call runs fn inside the bulkhead semaphore and the circuit breaker.
func (e *Engine) call(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-e.sem }()

	out, err := e.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// Diagnose asks the LLM for a root-cause diagnosis of run's current state.
func (e *Engine) Diagnose(ctx context.Context, run *model.Run) (string, error) {
	prompt := buildDiagnosisPrompt(run)
	return e.call(ctx, func(ctx context.Context) (string, error) {
		return e.llm.Complete(ctx, diagnosisSystemPrompt, prompt)
	})
}

// ProposeActions asks the LLM for remediation actions given a diagnosis,
// parses and validates the JSON response, and assigns each proposal an ID.
func (e *Engine) ProposeActions(ctx context.Context, run *model.Run, diagnosis string) ([]model.ProposedAction, error) {
	raw, err := e.call(ctx, func(ctx context.Context) (string, error) {
		return e.llm.Complete(ctx, actionSystemPrompt, diagnosis)
	})
	if err != nil {
		return nil, err
	}
	return parseProposedActions(run, raw)
}

// AutoExecutable reports whether a proposed action meets the engine's
// policy for unattended execution: it's in the approved auto-execute set
// and its confidence meets the configured threshold.
func (e *Engine) AutoExecutable(a model.ProposedAction) bool {
	return AutoExecuteActions[a.Action] && a.Confidence >= e.autoExecuteConfidence
}

func buildDiagnosisPrompt(run *model.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s, country %s, status %s.\n", run.ID, run.Country, run.Status)
	b.WriteString("Step states:\n")
	for _, id := range model.StepIDs {
		fmt.Fprintf(&b, "  %s: %s\n", id, run.Steps[id])
	}
	if len(run.HealthMap) > 0 {
		b.WriteString("Service health:\n")
		for svc, h := range run.HealthMap {
			fmt.Fprintf(&b, "  %s: %s\n", svc, h)
		}
	}
	b.WriteString("Recent log tail:\n")
	logs := run.Logs
	if len(logs) > 30 {
		logs = logs[len(logs)-30:]
	}
	for _, l := range logs {
		fmt.Fprintf(&b, "  [%s] %s\n", l.Kind, l.Text)
	}
	return b.String()
}

type rawAction struct {
	Action     string `json:"action"`
	Target     string `json:"target"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

func parseProposedActions(run *model.Run, raw string) ([]model.ProposedAction, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "```"))
	}
	var parsed []rawAction
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse proposed actions: %w", err)
	}
	if len(parsed) > 5 {
		parsed = parsed[:5]
	}

	out := make([]model.ProposedAction, 0, len(parsed))
	for i, p := range parsed {
		if !AllowedActions[p.Action] {
			continue
		}
		out = append(out, model.ProposedAction{
			ID:         fmt.Sprintf("%s-action-%d", run.ID, i+1),
			Action:     p.Action,
			Target:     p.Target,
			Confidence: clampConfidence(p.Confidence),
			Reason:     p.Reason,
			State:      "proposed",
		})
	}
	return out, nil
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
