package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"throttle/internal/models"
	"throttle/internal/storage"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// DefaultStoreTimeout bounds a single counter store call when no timeout is
// configured.
const DefaultStoreTimeout = 250 * time.Millisecond

// SettingsSource supplies the current limit and window. Snapshot is called
// once per decision, so changes apply to the next request without restart.
type SettingsSource interface {
	Snapshot() models.RateLimitSettings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings models.RateLimitSettings

func (s StaticSettings) Snapshot() models.RateLimitSettings {
	return models.RateLimitSettings(s)
}

// Engine makes admission decisions for keys against a counter store.
// It is safe for concurrent use.
type Engine struct {
	store    storage.CounterStore
	settings SettingsSource
	policy   string
	timeout  time.Duration

	decisions  metric.Int64Counter
	failureLog rate.Sometimes
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFailurePolicy selects what happens when the store fails:
// models.FailurePolicyOpen admits, models.FailurePolicyClosed denies.
func WithFailurePolicy(policy string) EngineOption {
	return func(e *Engine) {
		e.policy = policy
	}
}

// WithStoreTimeout bounds each store call. Non-positive values keep the default.
func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEngine creates an engine over store, reading settings from src.
func NewEngine(store storage.CounterStore, src SettingsSource, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:      store,
		settings:   src,
		policy:     models.FailurePolicyOpen,
		timeout:    DefaultStoreTimeout,
		failureLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.policy != models.FailurePolicyOpen && e.policy != models.FailurePolicyClosed {
		return nil, fmt.Errorf("unknown failure policy %q", e.policy)
	}

	decisions, err := otel.Meter("throttle/ratelimit").Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of admission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	e.decisions = decisions

	return e, nil
}

// Settings returns the snapshot the next decision would use.
func (e *Engine) Settings() models.RateLimitSettings {
	return e.settings.Snapshot()
}

// Admit decides whether the request identified by key, arriving at now, may
// proceed. Store failures never surface as errors; they are resolved by the
// failure policy and reported through Decision.Reason. The only error is
// ErrInvalidKey.
func (e *Engine) Admit(ctx context.Context, key string, now time.Time) (Decision, error) {
	if err := ValidateKey(key); err != nil {
		return Decision{}, err
	}

	settings := e.settings.Snapshot()
	if !settings.Enabled() {
		d := Decision{Allowed: true, Reason: ReasonDisabled}
		e.count(ctx, d)
		return d, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var decision Decision
	_, err := e.store.Apply(storeCtx, key, settings.Window(), func(existing *models.CounterRecord) (models.CounterRecord, bool) {
		d, next, write := Evaluate(existing, now, settings)
		decision = d
		return next, write
	})
	if err != nil {
		decision = e.degrade(key, now, settings, err)
	}

	e.count(ctx, decision)
	return decision, nil
}

// degrade resolves a store failure according to the failure policy.
func (e *Engine) degrade(key string, now time.Time, s models.RateLimitSettings, err error) Decision {
	d := Decision{
		Allowed: e.policy == models.FailurePolicyOpen,
		Limit:   s.Limit,
		Reason:  failureReason(err),
	}
	if !d.Allowed {
		d.RetryAfterSeconds = retryAfter(int64(s.WindowSeconds))
		d.ResetAt = now.Add(s.Window()).Truncate(time.Second).UTC()
	}

	e.failureLog.Do(func() {
		slog.Error("Counter store failed, applying failure policy",
			"key", key,
			"policy", e.policy,
			"allowed", d.Allowed,
			"reason", string(d.Reason),
			"error", err,
		)
	})
	return d
}

func (e *Engine) count(ctx context.Context, d Decision) {
	outcome := "denied"
	if d.Allowed {
		outcome = "allowed"
	}
	e.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", string(d.Reason)),
	))
}
