package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nullstackai/conductor"

type (
	otelMetrics struct {
		meter    metric.Meter
		counters map[string]metric.Int64Counter
		hist     map[string]metric.Float64Histogram
	}

	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOtelMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider before calling this (e.g. via
// clue.ConfigureOpenTelemetry or an explicit SDK setup).
func NewOtelMetrics() Metrics {
	return &otelMetrics{
		meter:    otel.Meter(instrumentationName),
		counters: map[string]metric.Int64Counter{},
		hist:     map[string]metric.Float64Histogram{},
	}
}

// NewOtelTracer constructs a Tracer backed by the global OTEL TracerProvider.
func NewOtelTracer() Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (m *otelMetrics) IncrCounter(ctx context.Context, name string, keyvals ...any) {
	c, err := m.meter.Int64Counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(toAttrs(keyvals)...))
}

func (m *otelMetrics) RecordDuration(ctx context.Context, name string, d time.Duration, keyvals ...any) {
	h, err := m.meter.Float64Histogram(name + "_ms")
	if err != nil {
		return
	}
	h.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(toAttrs(keyvals)...))
}

func (m *otelMetrics) RecordValue(ctx context.Context, name string, value float64, keyvals ...any) {
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, value, metric.WithAttributes(toAttrs(keyvals)...))
}

func (t *otelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttr(key, value))
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.span.End() }

func toAttrs(keyvals []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == "" {
			continue
		}
		out = append(out, toAttr(key, keyvals[i+1]))
	}
	return out
}

func toAttr(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, "")
	}
}
