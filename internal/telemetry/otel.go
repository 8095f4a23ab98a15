package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// slogLogger delegates to the standard structured logger. Production
	// deployments configure slog's default handler (JSON, level, etc.);
	// this type only adapts the call shape.
	slogLogger struct {
		base *slog.Logger
	}

	// otelMetrics delegates counters/timers/gauges to an OTEL meter.
	otelMetrics struct {
		meter      metric.Meter
		counters   map[string]metric.Float64Counter
		histograms map[string]metric.Float64Histogram
	}

	// otelTracer delegates span creation to an OTEL tracer.
	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewSlogLogger builds a Logger backed by log/slog.
func NewSlogLogger(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &slogLogger{base: base}
}

func (l *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	l.base.DebugContext(ctx, msg, kv...)
}

func (l *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	l.base.InfoContext(ctx, msg, kv...)
}

func (l *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	l.base.WarnContext(ctx, msg, kv...)
}

func (l *slogLogger) Error(ctx context.Context, msg string, kv ...any) {
	l.base.ErrorContext(ctx, msg, kv...)
}

// NewOtelMetrics builds a Metrics recorder using the global OTEL MeterProvider.
// Configure the provider via otel.SetMeterProvider before use.
func NewOtelMetrics(scope string) Metrics {
	return &otelMetrics{
		meter:      otel.Meter(scope),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(attrsFromTags(tags)...))
}

func (m *otelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	m.recordHistogram(name, float64(d.Milliseconds()), tags...)
}

func (m *otelMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.recordHistogram(name, value, tags...)
}

func (m *otelMetrics) recordHistogram(name string, value float64, tags ...string) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(context.Background(), value, metric.WithAttributes(attrsFromTags(tags)...))
}

// NewOtelTracer builds a Tracer using the global OTEL TracerProvider.
func NewOtelTracer(scope string) Tracer {
	return &otelTracer{tracer: otel.Tracer(scope)}
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption)     { s.span.End(opts...) }
func (s *otelSpan) SetStatus(code codes.Code, desc string) { s.span.SetStatus(code, desc) }
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// AddEvent records a named event on the span. keyvals are rendered into the
// event name for visibility; OTEL event attributes require typed values so
// free-form key/value pairs are not attached individually.
func (s *otelSpan) AddEvent(name string, kv ...any) {
	if len(kv) > 0 {
		name = fmt.Sprintf("%s %v", name, kv)
	}
	s.span.AddEvent(name)
}

func attrsFromTags(tags []string) []attribute.KeyValue {
	if len(tags)%2 != 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		out = append(out, attribute.String(tags[i], tags[i+1]))
	}
	return out
}
