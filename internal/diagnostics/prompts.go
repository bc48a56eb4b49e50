package diagnostics

// diagnosisSystemPrompt instructs the model to act as the on-call SRE
// triaging a stalled or degraded pipeline run, given its log tail and
// current step/health snapshot.
const diagnosisSystemPrompt = `You are an experienced SRE diagnosing a stuck or degraded CI/CD pipeline run.
You will be given the run's current step, per-service health, and a tail of recent log lines.
Respond with a concise root-cause diagnosis (3-6 sentences) a human operator can act on immediately.
Do not propose remediation actions here; that is a separate step.`

// actionSystemPrompt instructs the model to propose remediation actions as
// a strict JSON array, one object per proposal, capped at 5 entries.
const actionSystemPrompt = `You are proposing remediation actions for a degraded CI/CD pipeline run.
Given the diagnosis text, respond with a JSON array of at most 5 objects, each with exactly these fields:
  "action": one of "hard_sync", "restart_pods", "retry_merge", "retry_build", "rollback_image", "clear_cache"
  "target": the service or component the action applies to
  "confidence": an integer 0-100
  "reason": a one-sentence justification
Respond with ONLY the JSON array, no surrounding text.`

// AllowedActions is the fixed set of remediation actions the model may
// propose; any other value is rejected when parsing the response.
var AllowedActions = map[string]bool{
	"hard_sync":      true,
	"restart_pods":   true,
	"retry_merge":    true,
	"retry_build":    true,
	"rollback_image": true,
	"clear_cache":    true,
}

// AutoExecuteActions is the subset of AllowedActions safe to run without a
// human approving them first, when AutoExecuteConfidence is met.
var AutoExecuteActions = map[string]bool{
	"hard_sync":      true,
	"retry_merge":    true,
	"retry_build":    true,
	"clear_cache":    true,
	"rollback_image": true,
}
