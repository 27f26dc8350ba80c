//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "time"

// CircuitState is the state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed lets calls through and counts failures.
	CircuitClosed CircuitState = "closed"
	// CircuitOpen fails calls fast until the cooldown elapses.
	CircuitOpen CircuitState = "open"
	// CircuitHalfOpen allows a single trial call.
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerState is the persisted state of one breaker key.
type BreakerState struct {
	Key           string       `json:"key"`
	State         CircuitState `json:"state"`
	FailureCount  int          `json:"failureCount"`
	OpenedAt      *time.Time   `json:"openedAt,omitempty"`
	LastFailureAt *time.Time   `json:"lastFailureAt,omitempty"`
	TrialInFlight bool         `json:"trialInFlight"`
	TrialAt       *time.Time   `json:"trialAt,omitempty"`
}

// NewBreakerState returns the initial closed state for key.
func NewBreakerState(key string) BreakerState {
	return BreakerState{Key: key, State: CircuitClosed}
}

// BreakerResetResult reports the outcome of an operator reset.
type BreakerResetResult struct {
	Key     string `json:"key"`
	WasOpen bool   `json:"wasOpen"`
}
