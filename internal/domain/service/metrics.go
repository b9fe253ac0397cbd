package service

import "time"

// AuthMetrics records authentication and session outcomes.
type AuthMetrics interface {
	RecordAuthentication(provider string, outcome string)
	RecordRefresh(outcome string)
	RecordReuseDetected()
	RecordSessionsRevoked(reason string, count int64)
	RecordKeyFetch(provider string, duration time.Duration, err error)
}

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
