// Package ratelimit decides whether a request from a client may proceed. It
// implements a fixed-window counter per key: at most Limit requests are
// admitted per window, and the window restarts with the first request seen
// after it closes. Counter state lives in a storage.CounterStore.
package ratelimit

import "time"

// Reason explains how a Decision was reached.
type Reason string

const (
	ReasonAdmitted         Reason = "admitted"
	ReasonLimited          Reason = "limited"
	ReasonDisabled         Reason = "disabled"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonRetryExhausted   Reason = "retry_exhausted"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool

	// RetryAfterSeconds is how long the client must wait before its window
	// resets. Zero when Allowed.
	RetryAfterSeconds uint32

	Limit     int       // Maximum requests per window
	Remaining int       // Requests left in the current window
	ResetAt   time.Time // When the current window closes; zero when disabled

	Reason Reason
}

// Degraded reports whether the decision was made by the failure policy
// rather than from counter state.
func (d Decision) Degraded() bool {
	return d.Reason == ReasonStoreUnavailable || d.Reason == ReasonRetryExhausted
}
