package observability

import (
	"context"
	"throttle/internal/models"
	"throttle/internal/storage"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "throttle/storage"

// InstrumentedStore wraps a storage.CounterStore with tracing spans, an
// operation latency histogram, an error counter and a histogram of how many
// times Apply had to evaluate its callback.
type InstrumentedStore struct {
	inner    storage.CounterStore
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	attempts metric.Int64Histogram
	reaped   metric.Int64Counter
}

var _ storage.CounterStore = (*InstrumentedStore)(nil)

// NewInstrumentedStore records telemetry for every call made on inner.
// backend labels the metrics (memory, sqlite, postgres, redis).
func NewInstrumentedStore(inner storage.CounterStore, backend string) (*InstrumentedStore, error) {
	meter := otel.Meter(instrumentationName)

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Histogram(
		"storage.apply.attempts",
		metric.WithDescription("Evaluations of the apply callback per call; values above one mean write conflicts"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10, 25, 100),
	)
	if err != nil {
		return nil, err
	}

	reaped, err := meter.Int64Counter(
		"storage.records.reaped",
		metric.WithDescription("Number of expired counter records removed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		backend:  backend,
		tracer:   otel.Tracer(instrumentationName),
		duration: duration,
		errors:   errCounter,
		attempts: attempts,
		reaped:   reaped,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
			attribute.String("storage.backend", s.backend),
		}, attrs...)...),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", s.backend),
	)

	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Apply(ctx context.Context, key string, window time.Duration, fn storage.ApplyFunc) (models.CounterRecord, error) {
	ctx, span := s.startSpan(ctx, "Apply",
		attribute.String("ratelimit.key", key),
		attribute.Int64("ratelimit.window_seconds", int64(window/time.Second)),
	)
	start := time.Now()

	var calls int64
	counted := func(existing *models.CounterRecord) (models.CounterRecord, bool) {
		calls++
		return fn(existing)
	}

	result, err := s.inner.Apply(ctx, key, window, counted)

	span.SetAttributes(
		attribute.Int64("storage.apply.attempts", calls),
		attribute.Int64("ratelimit.count", result.Count),
	)
	if calls > 0 {
		s.attempts.Record(ctx, calls, metric.WithAttributes(attribute.String("backend", s.backend)))
	}
	s.record(ctx, span, "Apply", start, err)
	return result, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (*models.CounterRecord, error) {
	ctx, span := s.startSpan(ctx, "Get", attribute.String("ratelimit.key", key))
	start := time.Now()
	result, err := s.inner.Get(ctx, key)
	s.record(ctx, span, "Get", start, err)
	return result, err
}

func (s *InstrumentedStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "DeleteBefore", attribute.Int64("storage.cutoff", cutoff.Unix()))
	start := time.Now()
	removed, err := s.inner.DeleteBefore(ctx, cutoff)
	span.SetAttributes(attribute.Int64("storage.removed", removed))
	if removed > 0 {
		s.reaped.Add(ctx, removed, metric.WithAttributes(attribute.String("backend", s.backend)))
	}
	s.record(ctx, span, "DeleteBefore", start, err)
	return removed, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
