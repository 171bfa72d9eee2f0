// Package telemetry defines logging, metrics, and tracing interfaces used
// throughout the engine, barrier coordinator, and supervisor lifecycle
// service. Concrete implementations wrap goa.design/clue/log
// (NewClueLogger) and go.opentelemetry.io/otel (NewOtelMetrics,
// NewOtelTracer); NewNoopLogger and friends satisfy the same interfaces for
// tests.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log messages scoped to a context (which
	// typically carries run/owner/trace identity via the engine's explicit
	// run.Context, never ambient globals).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters/histograms for runtime instrumentation.
	Metrics interface {
		IncrCounter(ctx context.Context, name string, keyvals ...any)
		RecordDuration(ctx context.Context, name string, d time.Duration, keyvals ...any)
		RecordValue(ctx context.Context, name string, value float64, keyvals ...any)
	}

	// Tracer creates trace spans. The engine opens one "engine.Run" span per
	// invocation; tool dispatch and barrier completion are not traced.
	Tracer interface {
		Start(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is a single trace span.
	Span interface {
		SetAttribute(key string, value any)
		RecordError(err error)
		End()
	}
)
