// Package storage persists fixed-window counters. Every backend exposes the
// same atomic read-evaluate-write contract so callers never perform an
// unguarded read followed by a separate write.
package storage

import (
	"context"
	_ "embed"
	"throttle/internal/models"
	"time"
)

// schemaSQL creates the counter table for the SQL backends.
//
//go:embed schema.sql
var schemaSQL string

// ApplyFunc computes the next state of a counter from its current state.
// existing is nil when no record is stored for the key. It returns the record
// to persist and whether it must be written at all.
//
// An ApplyFunc must be pure: optimistic backends may call it more than once
// for a single Apply, and only the last call's result is persisted.
type ApplyFunc func(existing *models.CounterRecord) (next models.CounterRecord, write bool)

// CounterStore defines the persistence contract for rate limit counters.
// Implementations must be safe for concurrent use and must make Apply
// linearizable per key. Contention must stay scoped to a single key.
type CounterStore interface {
	// Apply loads the record for key, passes it to fn and persists the result
	// as one indivisible step with respect to other Apply calls on the same
	// key. window is the current window length; backends with native expiry
	// use it to drop records once they can no longer affect a decision.
	// It returns the record stored after the call (zero when none).
	Apply(ctx context.Context, key string, window time.Duration, fn ApplyFunc) (models.CounterRecord, error)

	// Get returns the stored record for key, or nil when there is none.
	Get(ctx context.Context, key string) (*models.CounterRecord, error)

	// DeleteBefore removes records whose window started before cutoff and
	// returns the number removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and other resources.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres, redis)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Connection pool tuning for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`

	// Redis connection settings
	Redis models.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`

	// MaxAttempts bounds optimistic write attempts per Apply
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Retention is the minimum lifetime of a counter for backends that
	// expire keys themselves
	Retention time.Duration `json:"retention,omitempty" yaml:"retention,omitempty"`
}

func (c Config) attempts() int {
	if c.MaxAttempts < 1 {
		return defaultMaxAttempts
	}
	return c.MaxAttempts
}
