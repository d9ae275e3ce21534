package logger

import (
	"context"
	"os"

	"go.uber.org/zap"

	"taskloop/pkg/trace"
)

// NewLogger builds the production zap logger. When SERVICE_NAME is set every
// entry carries a "service" field, which keeps aggregated logs from the four
// services distinguishable.
func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	if svc := os.Getenv("SERVICE_NAME"); svc != "" {
		l = l.With(zap.String("service", svc))
	}
	return l
}

// WithTrace attaches the trace_id from the context, if any.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
