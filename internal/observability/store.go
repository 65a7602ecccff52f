package observability

import (
	"context"
	"time"

	"limitgate/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a ratelimit.Store implementation with OpenTelemetry
// tracing and metrics instrumentation. Every counter operation gets a span, a
// latency histogram sample, and an error counter increment on failure.
//
// Store latency is the limiter's hot-path cost, so this is the first place to
// look when request latency climbs.
type InstrumentedStore struct {
	inner    ratelimit.Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a counter store wrapper that records trace
// spans, operation latency histograms, and error counters for every call.
func NewInstrumentedStore(inner ratelimit.Store) (*InstrumentedStore, error) {
	tracer := otel.Tracer("limitgate/ratelimit")
	meter := otel.Meter("limitgate/ratelimit")

	duration, err := meter.Float64Histogram(
		"ratelimit.store.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"ratelimit.store.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.store."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("store.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	ctx, span := s.startSpan(ctx, "Incr", attribute.String("store.key", key))
	start := time.Now()
	count, remaining, err := s.inner.Incr(ctx, key, ttl)
	s.record(ctx, span, "Incr", start, err)
	return count, remaining, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	ctx, span := s.startSpan(ctx, "Get", attribute.String("store.key", key))
	start := time.Now()
	count, remaining, err := s.inner.Get(ctx, key)
	s.record(ctx, span, "Get", start, err)
	return count, remaining, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Delete", attribute.String("store.key", key))
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	s.record(ctx, span, "Delete", start, err)
	return err
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
