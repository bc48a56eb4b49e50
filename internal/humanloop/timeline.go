package humanloop

import (
	"time"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

// DeployTimelineCap bounds the in-memory timeline to the most recent
// entries, mirroring model.LogRingCap's drop-oldest behavior for the
// Deploy-step's own narrower event stream.
const DeployTimelineCap = 200

// RecordTimelineEvent appends a degradation/rollback timeline entry to run,
// dropping the oldest entry once DeployTimelineCap is exceeded.
func RecordTimelineEvent(run *model.Run, degradedAt time.Time, event, detail string) {
	now := time.Now()
	entry := model.DeployTimelineEntry{
		TS:     now.Format(time.RFC3339),
		Epoch:  float64(now.UnixNano()) / 1e9,
		Event:  event,
		Detail: detail,
	}
	if !degradedAt.IsZero() {
		entry.ElapsedSinceDegra = now.Sub(degradedAt).Seconds()
	}
	// timeline is reused as a generic append-only log via Run.Logs elsewhere;
	// here we keep a dedicated slice on the run's diagnostics payload so the
	// Deploy step can render a focused "what happened, and when" view.
	run.DeployTimeline = append(run.DeployTimeline, entry)
	if len(run.DeployTimeline) > DeployTimelineCap {
		run.DeployTimeline = run.DeployTimeline[len(run.DeployTimeline)-DeployTimelineCap:]
	}
}

// ComputePropagationStats measures, for each selected service, the whole
// seconds from startedAt to that service's first Healthy time in healthyAt.
// A service with no entry in healthyAt gets -1 (never reached Healthy this
// run).
func ComputePropagationStats(run *model.Run, startedAt time.Time, healthyAt map[string]time.Time) []model.PropagationStat {
	stats := make([]model.PropagationStat, 0, len(run.SelectedServices))
	for _, svc := range run.SelectedServices {
		stat := model.PropagationStat{Service: svc, PushToHealthySec: -1}
		if t, ok := healthyAt[svc]; ok && !t.IsZero() && !startedAt.IsZero() {
			stat.PushToHealthySec = int64(t.Sub(startedAt).Seconds())
		}
		stats = append(stats, stat)
	}
	return stats
}

// ComputeMTTR returns the mean time-to-recovery across degradedAt/recoveredAt
// pairs, in seconds. Pairs where recovery never happened are excluded.
func ComputeMTTR(incidents []Incident) float64 {
	if len(incidents) == 0 {
		return 0
	}
	var total float64
	var n int
	for _, inc := range incidents {
		if inc.RecoveredAt.IsZero() || inc.DegradedAt.IsZero() {
			continue
		}
		total += inc.RecoveredAt.Sub(inc.DegradedAt).Seconds()
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Incident is one degraded-to-recovered window for MTTR computation.
type Incident struct {
	Service     string
	DegradedAt  time.Time
	RecoveredAt time.Time
}
