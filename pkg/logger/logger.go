// Package logger configures structured JSON logging and carries the
// per-request correlation id through context.
package logger

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

type contextKey struct{}

// Setup configures the global logger to output JSON with the service name.
func Setup(serviceName string) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if os.Getenv("LOG_LEVEL") == "DEBUG" {
		opts.Level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler).With("service", serviceName)
	slog.SetDefault(logger)
}

// WithRequestID returns a context carrying the correlation id for the
// given report request. Correlation is explicit context passing, never
// ambient mutable state.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// RequestID returns the correlation id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// WithContext returns a logger annotated with the trace id and request id
// from ctx, when present.
func WithContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		logger = logger.With("trace_id", span.SpanContext().TraceID().String())
	}
	if id := RequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	return logger
}

// Error logs an error with an "error" attribute.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	slog.Error(msg, args...)
}

// Fatal logs an error and exits.
func Fatal(msg string, err error, args ...any) {
	Error(msg, err, args...)
	os.Exit(1)
}
