// Package logger configures structured JSON logging with log/slog and
// carries per-evaluation trace IDs through context.Context.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates a JSON logger for the given service and installs it as the
// process default so package-level slog calls share the same output.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	l := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(l)
	return l
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// EvalTraceID builds the trace ID for one symbol evaluation,
// "{symbol}-{unixNano}" of the poll cycle driving it.
func EvalTraceID(symbol string, cycle time.Time) string {
	return fmt.Sprintf("%s-%d", symbol, cycle.UnixNano())
}

// Trace returns slog attributes carrying the trace ID from context.
// Usage: slog.Info("msg", logger.Trace(ctx)...)
func Trace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
