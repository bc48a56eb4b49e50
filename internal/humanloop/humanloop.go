// Package humanloop implements the pause/retry/proceed/rollback/abort
// protocol a step runner falls back to when it cannot resolve on its own:
// it publishes a paused run and polls the shared registry for a human
// decision, the way the teacher's WebInterviewer parks a question until an
// HTTP client answers it — except the signal here is a single-slot,
// consume-on-read registry field rather than a per-question channel, since
// only one step is ever paused at a time in this engine.
package humanloop

import (
	"context"
	"fmt"
	"time"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
)

// PollInterval is how often WaitForDecision checks the registry.
const PollInterval = 500 * time.Millisecond

// Decision is a human response to a paused step.
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionProceed  Decision = "proceed"
	DecisionRollback Decision = "rollback"
	DecisionAbort    Decision = "abort"
	DecisionTimedOut Decision = "timed_out"
)

// ParseDecision validates a human-supplied action string.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionRetry, DecisionProceed, DecisionRollback, DecisionAbort:
		return Decision(s), nil
	default:
		return "", fmt.Errorf("invalid pause decision %q", s)
	}
}

// Controller drives the human-in-loop protocol against the shared registry.
type Controller struct {
	reg *registry.Registry
}

// New returns a Controller bound to reg.
func New(reg *registry.Registry) *Controller {
	return &Controller{reg: reg}
}

// Pause marks run as waiting on a human decision with the given reason and
// republishes it.
func (c *Controller) Pause(run *model.Run, reason string) {
	run.Paused = true
	run.PauseError = reason
	c.reg.Publish(run)
}

// Resume clears the paused flag and republishes run.
func (c *Controller) Resume(run *model.Run) {
	run.Paused = false
	run.PauseError = ""
	c.reg.Publish(run)
}

// WaitForDecision polls the registry every PollInterval for a pause action
// or the sticky abort flag, until one arrives or ctx is done.
func (c *Controller) WaitForDecision(ctx context.Context) (Decision, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if c.reg.ReadAbort() {
			return DecisionAbort, nil
		}
		if raw := c.reg.ReadPauseAction(); raw != "" {
			d, err := ParseDecision(raw)
			if err != nil {
				return "", err
			}
			return d, nil
		}
		select {
		case <-ctx.Done():
			return DecisionTimedOut, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ApproveAction marks a pending proposed action (by ID) as executed with
// result. It reports false if no action has that ID.
func (c *Controller) ApproveAction(run *model.Run, actionID, result string) bool {
	for i := range run.ProposedActions {
		if run.ProposedActions[i].ID == actionID {
			run.ProposedActions[i].State = "executed"
			run.ProposedActions[i].Result = result
			c.reg.Publish(run)
			return true
		}
	}
	return false
}

// SkipAction marks a pending proposed action as explicitly skipped by a human.
func (c *Controller) SkipAction(run *model.Run, actionID string) bool {
	for i := range run.ProposedActions {
		if run.ProposedActions[i].ID == actionID {
			run.ProposedActions[i].State = "skipped"
			c.reg.Publish(run)
			return true
		}
	}
	return false
}
