package ratelimit

import (
	"math"
	"throttle/internal/models"
	"time"
)

// Evaluate applies the fixed-window rule to the stored state for one key.
// It returns the decision, the record that should be stored afterwards and
// whether that record differs from existing and must be written.
//
// A denied request leaves the record untouched, so repeated denials inside a
// window never push the count past limit. Settings must be enabled; the
// disabled case is handled before any state is read.
func Evaluate(existing *models.CounterRecord, now time.Time, s models.RateLimitSettings) (Decision, models.CounterRecord, bool) {
	nowSec := now.Unix()
	window := int64(s.WindowSeconds)

	if existing == nil || nowSec >= existing.WindowStart+window {
		next := models.CounterRecord{WindowStart: nowSec, Count: 1}
		if existing != nil {
			next.Key = existing.Key
		}
		return admitted(next, s), next, true
	}

	tentative := existing.Count + 1
	if tentative > int64(s.Limit) {
		resetAt := existing.WindowStart + window
		return Decision{
			Allowed:           false,
			RetryAfterSeconds: retryAfter(resetAt - nowSec),
			Limit:             s.Limit,
			Remaining:         0,
			ResetAt:           time.Unix(resetAt, 0).UTC(),
			Reason:            ReasonLimited,
		}, *existing, false
	}

	next := models.CounterRecord{Key: existing.Key, WindowStart: existing.WindowStart, Count: tentative}
	return admitted(next, s), next, true
}

func admitted(r models.CounterRecord, s models.RateLimitSettings) Decision {
	return Decision{
		Allowed:   true,
		Limit:     s.Limit,
		Remaining: max(s.Limit-int(r.Count), 0),
		ResetAt:   time.Unix(r.WindowEnd(s.WindowSeconds), 0).UTC(),
		Reason:    ReasonAdmitted,
	}
}

// retryAfter clamps a second count into the uint32 header range.
func retryAfter(secs int64) uint32 {
	switch {
	case secs < 0:
		return 0
	case secs > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(secs)
	}
}
