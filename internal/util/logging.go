package util

import (
	"context"
	"log/slog"
	"os"
)

// InitLogger configures the global slog logger with JSON output and level.
// Accepts levels: debug, info, warn, error. Defaults to info on unknown input.
func InitLogger(level, component string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel,
	})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	slog.SetDefault(logger)
	return logger
}

// Reporter funnels read-path errors that are swallowed at component
// boundaries, so the UI layer sees a stalled list instead of a thrown
// error while operators still get a trace.
type Reporter interface {
	Report(ctx context.Context, err error)
}

type slogReporter struct {
	logger *slog.Logger
}

// NewSlogReporter returns a Reporter that logs at error level.
func NewSlogReporter(logger *slog.Logger) Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogReporter{logger: logger}
}

func (r *slogReporter) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	r.logger.ErrorContext(ctx, "background operation failed", "err", err)
}
