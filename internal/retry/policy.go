// Package retry classifies worker error types and computes backoff delays.
// Classification is a fixed policy: an error type the tables do not name is
// NOT recoverable. Unknown failures must fail loudly rather than burn
// retries on something a rerun cannot fix.
package retry

import (
	"math"
	"time"
)

// recoverable lists error types where a retry has a real chance of
// succeeding: transient infrastructure and flakes.
var recoverable = map[string]bool{
	"network_error":        true,
	"rate_limit":           true,
	"test_flake":           true,
	"dependency_timeout":   true,
	"resource_unavailable": true,
}

// nonRecoverable lists error types where retrying burns work: the input or
// the code is wrong and a human or the orchestrator must intervene.
var nonRecoverable = map[string]bool{
	"test_failure":          true,
	"build_failure":         true,
	"merge_conflict":        true,
	"invalid_manifest":      true,
	"authentication_failed": true,
	"validation_error":      true,
	"missing_dependency":    true,
}

// IsRecoverable reports whether a retry should be scheduled for the given
// error type. Unknown types are not recoverable.
func IsRecoverable(errorType string) bool {
	return recoverable[errorType]
}

// IsKnown reports whether the error type appears in either table.
// Used only for logging; classification itself never branches on it.
func IsKnown(errorType string) bool {
	return recoverable[errorType] || nonRecoverable[errorType]
}

// Policy computes the exponential backoff schedule for recoverable errors.
// The schedule is tunable through configuration; the classification above
// is not.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxRetries int
}

// DefaultPolicy returns the standard schedule: 30s, 60s, then give up.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  30 * time.Second,
		Multiplier: 2,
		MaxRetries: 2,
	}
}

// Delay returns the backoff before the given retry attempt (1-based):
//
//	delay(attempt) = BaseDelay × Multiplier^(attempt−1)
//
// for 1 ≤ attempt ≤ MaxRetries. Outside that range the answer is 0,
// meaning no retry is scheduled.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || attempt > p.MaxRetries {
		return 0
	}
	factor := math.Pow(p.Multiplier, float64(attempt-1))
	return time.Duration(float64(p.BaseDelay) * factor)
}

// DelaySeconds returns Delay truncated to whole seconds for wire responses.
func (p Policy) DelaySeconds(attempt int) int {
	return int(p.Delay(attempt) / time.Second)
}
