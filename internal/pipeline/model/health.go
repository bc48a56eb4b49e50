package model

import "fmt"

// HealthStatus is the controller-reported (or overridden) health of a
// deployed service, as observed by the Deploy Watcher.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "Healthy"
	HealthProgressing HealthStatus = "Progressing"
	HealthDegraded    HealthStatus = "Degraded"
	HealthMissing     HealthStatus = "Missing"
	HealthUnknown     HealthStatus = "Unknown"
	HealthSuspended   HealthStatus = "Suspended"
)

// ParseHealthStatus validates a string against the fixed health alphabet.
func ParseHealthStatus(s string) (HealthStatus, error) {
	switch HealthStatus(s) {
	case HealthHealthy, HealthProgressing, HealthDegraded, HealthMissing, HealthUnknown, HealthSuspended:
		return HealthStatus(s), nil
	default:
		return "", fmt.Errorf("invalid health status %q", s)
	}
}

// EffectiveHealth masks the controller-reported health to Progressing when an
// expected tag is set, a current tag has been reported, and the two differ.
// A stable prior deployment can otherwise read Healthy while the rollout it
// triggered hasn't actually picked up the new tag yet.
func EffectiveHealth(reported HealthStatus, currentTag, expectedTag string, hasExpected bool) HealthStatus {
	if hasExpected && currentTag != "" && currentTag != expectedTag {
		return HealthProgressing
	}
	return reported
}

// DeployApp is a point-in-time snapshot of one service's deployment state,
// as reported by the deployment controller's event stream.
type DeployApp struct {
	Service    string       `json:"service"`
	Health     HealthStatus `json:"health"`
	CurrentTag string       `json:"current_tag"`
}
