// Package session provides the two concurrency primitives the HTTP layer
// needs around the single shared *model.Run: an executor gate ensuring at
// most one goroutine is ever driving the pipeline forward, and an observer
// poller giving long-poll subscribers an idle-backoff wait instead of a
// busy loop.
package session

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
)

// runKey is the singleflight.Group key for the one pipeline this process
// ever drives at a time. A real multi-tenant deployment would key this by
// run or country; this engine is single-run, so one constant key suffices.
const runKey = "run"

// Idle-backoff schedule for Poller.Wait: 1.0s plus 0.5s per consecutive
// idle tick, capped at 3.0s, plus up to 0.3s of jitter to avoid every
// observer waking in lockstep.
const (
	idleBackoffBase = 1.0
	idleBackoffStep = 0.5
	idleBackoffCap  = 3.0
	idleJitterMax   = 0.3
)

// Executor serializes pipeline-start attempts: concurrent callers collapse
// onto whichever one is already in flight and share its outcome, the way a
// second HTTP client hitting "start" while a run is already executing
// should attach to that run rather than kick off a duplicate.
type Executor struct {
	group singleflight.Group
}

// NewExecutor returns a ready Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Start runs fn if no run is currently in flight, or waits for the in-flight
// one and shares its result if there is. shared reports whether this caller
// attached to someone else's in-flight execution rather than starting its
// own.
func (e *Executor) Start(fn func() error) (shared bool, err error) {
	_, err, shared = e.group.Do(runKey, func() (any, error) {
		return nil, fn()
	})
	return shared, err
}

// Poller gives an SSE/long-poll observer a version-change wait with
// idle-backoff, so a quiet run doesn't keep every connected client spinning
// at full poll rate.
type Poller struct {
	reg *registry.Registry
}

// NewPoller binds a Poller to reg.
func NewPoller(reg *registry.Registry) *Poller {
	return &Poller{reg: reg}
}

// Wait blocks until the registry's version differs from since, ctx ends, or
// returns immediately if it already differs. changed is false only when ctx
// ended first.
func (p *Poller) Wait(ctx context.Context, since uint64) (run *model.Run, version uint64, changed bool) {
	idle := 0
	for {
		run, version, changed = p.reg.Changed(since)
		if changed {
			return run, version, true
		}
		select {
		case <-ctx.Done():
			return run, version, false
		case <-time.After(idleBackoffDelay(idle)):
		}
		idle++
	}
}

func idleBackoffDelay(idleCount int) time.Duration {
	secs := idleBackoffBase + float64(idleCount)*idleBackoffStep
	if secs > idleBackoffCap {
		secs = idleBackoffCap
	}
	secs += rand.Float64() * idleJitterMax
	return time.Duration(secs * float64(time.Second))
}
