// Package models - Rate limit counter state and settings.
package models

import (
	"errors"
	"time"
)

// CounterRecord is the persisted fixed-window state for one key.
//
// Invariants:
// - At most one record exists per key
// - Count only ever grows inside a window or restarts at 1
// - WindowStart is whole seconds since the Unix epoch
type CounterRecord struct {
	Key         string `json:"key"`
	WindowStart int64  `json:"window_start"`
	Count       int64  `json:"count"`
}

// WindowStartTime returns the window start as a time.Time in UTC.
func (r CounterRecord) WindowStartTime() time.Time {
	return time.Unix(r.WindowStart, 0).UTC()
}

// WindowEnd returns the epoch second at which the window closes.
func (r CounterRecord) WindowEnd(windowSeconds int) int64 {
	return r.WindowStart + int64(windowSeconds)
}

// RateLimitSettings is the live-reloadable limiter configuration. A snapshot
// is immutable once handed out; changes replace the whole value.
type RateLimitSettings struct {
	Limit         int `yaml:"limit" json:"limit" validate:"gte=0"`
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds" validate:"gte=0"`
}

// Enabled reports whether both values are set. Zero or negative values switch
// limiting off.
func (s RateLimitSettings) Enabled() bool {
	return s.Limit > 0 && s.WindowSeconds > 0
}

// Window returns the window length as a duration.
func (s RateLimitSettings) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

func (s RateLimitSettings) Validate() error {
	if s.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if s.WindowSeconds < 0 {
		return errors.New("window seconds cannot be negative")
	}
	return nil
}
