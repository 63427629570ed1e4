package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// Init builds the process logger for one binary and makes it the slog
// default. Development gets the text handler; every other environment
// gets JSON on stdout.
func Init(service, level, appEnv string) *slog.Logger {
	return New(os.Stdout, service, level, appEnv == "development")
}

func New(w io.Writer, service, level string, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if text {
		h = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(h).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Integrity records a store invariant violation. The caller has already
// rolled back; the process keeps serving.
func Integrity(ctx context.Context, op string, err error) {
	FromContext(ctx).Error("integrity violation", "operation", op, "error", err, "fatal", true)
}

// ParseLevel maps LOG_LEVEL values onto slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
