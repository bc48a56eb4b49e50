package model

import "fmt"

// RunStatus is the coarse lifecycle state of a whole run.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunFailed      RunStatus = "failed"
	RunDegraded    RunStatus = "degraded"
	RunInterrupted RunStatus = "interrupted"
)

// ParseRunStatus validates a string against the fixed RunStatus alphabet.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunPending, RunRunning, RunSuccess, RunFailed, RunDegraded, RunInterrupted:
		return RunStatus(s), nil
	default:
		return "", fmt.Errorf("invalid run status %q", s)
	}
}

// ProposedAction is one CEN-PE-proposed remediation, auto-executed or pending approval.
type ProposedAction struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Target     string `json:"target"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
	State      string `json:"state"` // proposed | executed | failed | skipped
	Result     string `json:"result,omitempty"`
}

// JenkinsJobSnapshot tracks a triggered QA job's live stage progress.
type JenkinsJobSnapshot struct {
	Name       string       `json:"name"`
	URL        string       `json:"url"`
	Status     string       `json:"status"` // success|failed|aborted|unstable|timeout|running
	Stages     []BuildStage `json:"stages"`
	FailedStep string       `json:"failed_step,omitempty"`
}

// PropagationStat is one service's end-to-end rollout latency measurement.
type PropagationStat struct {
	Service          string `json:"service"`
	PushToHealthySec int64  `json:"push_to_healthy_secs"` // -1 if never reached Healthy
}

// DeployTimelineEntry is one entry in the Deploy-step rollback/degradation timeline.
type DeployTimelineEntry struct {
	TS                string  `json:"ts"`
	Epoch             float64 `json:"epoch"`
	ElapsedSinceDegra float64 `json:"elapsed_since_degraded"`
	Event             string  `json:"event"`
	Detail            string  `json:"detail"`
}

// Run is a single execution attempt of the five-step pipeline.
type Run struct {
	Num    int       `json:"num"`
	ID     string    `json:"id"` // "r{n}"
	Status RunStatus `json:"status"`

	StartedAt string `json:"started_at"` // HH:MM:SS
	Duration  string `json:"duration"`   // formatted, e.g. "4m12s"
	User      string `json:"user"`
	Country   string `json:"country"`

	Steps map[StepID]StepStatus `json:"steps"`

	MergeStatuses  []MergeResult  `json:"merge_statuses"`
	BuildStatuses  []BuildResult  `json:"build_statuses"`
	GitOpsStatuses []GitOpsResult `json:"gitops_statuses"`

	HealthMap    map[string]HealthStatus `json:"health_map"`
	DeployApps   []DeployApp             `json:"deploy_apps"`
	ExpectedTags map[string]string       `json:"expected_tags"`

	JenkinsJobs []JenkinsJobSnapshot `json:"jenkins_jobs"`

	Logs []LogEntry `json:"logs"`

	Diagnostics      string                `json:"diagnostics"`
	ProposedActions  []ProposedAction      `json:"proposed_actions"`
	PropagationStats []PropagationStat     `json:"propagation_stats"`
	DeployTimeline   []DeployTimelineEntry `json:"deploy_timeline"`
	MTTRSeconds      float64               `json:"mttr_seconds"`

	SelectedServices []string          `json:"selected_services"`
	ActuallyMerged   []string          `json:"actually_merged"`
	SHAs             map[string]string `json:"shas"`
	PushedAt         map[string]string `json:"pushed_at,omitempty"` // svc -> RFC3339, set by the GitOps step

	CorrelationID string `json:"correlation_id"`

	Paused     bool   `json:"paused"`
	PauseError string `json:"pause_error,omitempty"`
	AbortedBy  string `json:"aborted_by,omitempty"`
}

// NewRun constructs a fresh, all-pending run for the given number/id/user.
func NewRun(num int, id, user, country string, selected []string) *Run {
	steps := make(map[StepID]StepStatus, len(StepIDs))
	for _, s := range StepIDs {
		steps[s] = StepPending
	}
	return &Run{
		Num:              num,
		ID:               id,
		Status:           RunPending,
		User:             user,
		Country:          country,
		Steps:            steps,
		HealthMap:        map[string]HealthStatus{},
		ExpectedTags:     map[string]string{},
		SelectedServices: append([]string{}, selected...),
		SHAs:             map[string]string{},
		PushedAt:         map[string]string{},
	}
}

// RunSummary is the compact shape shown in the runs list. Summary builds one
// on demand; no list of past runs or their summaries is kept in memory.
type RunSummary struct {
	ID       string                `json:"id"`
	Num      int                   `json:"n"`
	Status   RunStatus             `json:"st"`
	Duration string                `json:"dur"`
	Started  string                `json:"t"`
	Steps    map[StepID]StepStatus `json:"steps"`
}

// Summary returns the compact, UI-facing subset of r.
func (r *Run) Summary() RunSummary {
	steps := make(map[StepID]StepStatus, len(r.Steps))
	for k, v := range r.Steps {
		steps[k] = v
	}
	return RunSummary{
		ID:       r.ID,
		Num:      r.Num,
		Status:   r.Status,
		Duration: r.Duration,
		Started:  r.StartedAt,
		Steps:    steps,
	}
}
