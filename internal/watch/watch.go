// Package watch implements the Deploy Watcher: it consumes the deployment
// controller's health event stream for a set of services and resolves to
// one of three outcomes — healthy (every service converged), settled (the
// rollout stopped changing before every service went healthy), or timeout
// (the attempt's wall-clock budget elapsed). Two things evaluate the same
// state concurrently: the controller's own event callback, and a fixed
// checkpoint tick that re-evaluates the settle-grace and overall timeout
// even when the controller stream has gone quiet.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// CheckpointInterval is the fixed tick period for the secondary evaluation
// loop, independent of the event callback.
const CheckpointInterval = 2 * time.Second

// ProgressLogInterval is how often the checkpoint tick logs progress while
// still waiting.
const ProgressLogInterval = 60 * time.Second

// Outcome is the terminal resolution of one Watch attempt.
type Outcome string

const (
	OutcomeHealthy Outcome = "healthy"
	OutcomeSettled Outcome = "settled"
	OutcomeTimeout Outcome = "timeout"
)

// Config configures one watch run.
type Config struct {
	SettleGrace time.Duration // how long zero-Progressing-but-not-all-Healthy must hold before "settled"
	Timeout     time.Duration // overall deadline for this attempt
}

// Result is the outcome of one Watch call.
type Result struct {
	Apps    map[string]model.DeployApp
	Outcome Outcome
}

// Watcher drives one Deploy Watcher attempt against a DeployControllerClient.
type Watcher struct {
	client clients.DeployControllerClient
	log    logr.Logger
	cfg    Config

	breaker *gobreaker.CircuitBreaker
}

// New constructs a Watcher. Zero-value Config fields fall back to sane
// defaults (30s settle grace, 15m timeout, matching spec.md §4.4.4's
// per-attempt budget).
func New(client clients.DeployControllerClient, log logr.Logger, cfg Config) *Watcher {
	if cfg.SettleGrace <= 0 {
		cfg.SettleGrace = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &Watcher{
		client: client,
		log:    log,
		cfg:    cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "deploy_controller_stream",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Watch streams health for services, masking each report through
// model.EffectiveHealth against expectedTags, and resolves once every
// service is effective-Healthy, the settle condition holds, or the overall
// timeout elapses. onUpdate, if non-nil, is invoked with the current
// snapshot on every processed event and every checkpoint tick.
func (w *Watcher) Watch(ctx context.Context, services []string, expectedTags map[string]string, onUpdate func(Result)) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	var mu sync.Mutex
	apps := make(map[string]model.DeployApp, len(services))
	for _, svc := range services {
		apps[svc] = model.DeployApp{Service: svc, Health: model.HealthUnknown}
	}

	events := make(chan clients.DeployEvent, 256)
	go w.streamSupervisor(ctx, services, events)

	var settledSince time.Time
	lastProgressLog := time.Now()

	evaluate := func() (Result, bool) {
		mu.Lock()
		snapshot := make(map[string]model.DeployApp, len(apps))
		allHealthy := true
		zeroProgressing := true
		anyNonHealthy := false
		for svc, app := range apps {
			snapshot[svc] = app
			if app.Health != model.HealthHealthy {
				allHealthy = false
				anyNonHealthy = true
			}
			if app.Health == model.HealthProgressing {
				zeroProgressing = false
			}
		}
		mu.Unlock()

		if allHealthy {
			return Result{Apps: snapshot, Outcome: OutcomeHealthy}, true
		}
		if zeroProgressing && anyNonHealthy {
			if settledSince.IsZero() {
				settledSince = time.Now()
			} else if time.Since(settledSince) >= w.cfg.SettleGrace {
				return Result{Apps: snapshot, Outcome: OutcomeSettled}, true
			}
		} else {
			settledSince = time.Time{}
		}
		return Result{Apps: snapshot}, false
	}

	apply := func(ev clients.DeployEvent) {
		mu.Lock()
		defer mu.Unlock()
		app, ok := apps[ev.Service]
		if !ok {
			return
		}
		expected, hasExpected := expectedTags[ev.Service]
		app.Health = model.EffectiveHealth(model.HealthStatus(ev.Health), ev.CurrentTag, expected, hasExpected)
		app.CurrentTag = ev.CurrentTag
		apps[ev.Service] = app
	}

	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			snapshot := make(map[string]model.DeployApp, len(apps))
			for svc, app := range apps {
				snapshot[svc] = app
			}
			mu.Unlock()
			return Result{Apps: snapshot, Outcome: OutcomeTimeout}, nil

		case ev, ok := <-events:
			if !ok {
				continue // supervisor gave up reconnecting; rely on timeout
			}
			apply(ev)
			if res, done := evaluate(); done {
				if onUpdate != nil {
					onUpdate(res)
				}
				return res, nil
			} else if onUpdate != nil {
				onUpdate(res)
			}

		case now := <-ticker.C:
			if res, done := evaluate(); done {
				if onUpdate != nil {
					onUpdate(res)
				}
				return res, nil
			} else if onUpdate != nil {
				onUpdate(res)
			}
			if now.Sub(lastProgressLog) >= ProgressLogInterval {
				lastProgressLog = now
				w.log.Info("deploy watch still in progress", "elapsed", now)
			}
		}
	}
}

// streamSupervisor runs client.WatchHealth, forwarding every event onto
// out, and reconnects on an unexpected stream end unless the circuit
// breaker has tripped on consecutive reconnect failures.
func (w *Watcher) streamSupervisor(ctx context.Context, services []string, out chan<- clients.DeployEvent) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.client.WatchHealth(ctx, services, func(ev clients.DeployEvent) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
		if ctx.Err() != nil {
			return
		}
		_, berr := w.breaker.Execute(func() (any, error) {
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("deploy controller stream ended")
		})
		if berr != nil && w.breaker.State() == gobreaker.StateOpen {
			w.log.Info("deploy controller stream circuit open, giving up reconnect attempts")
			return
		}
	}
}
