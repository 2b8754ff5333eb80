// Package observability carries the logging, tracing, and metrics surface
// shared by every other package.
package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/LeonAdeoye/query-service/internal/config"
)

type ctxKey struct{}

var traceIDKey ctxKey

// NewLogger builds the process logger from config: JSON or text handler at
// the configured level, with service and profile attached to every record.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey).(string)
	return traceID
}
