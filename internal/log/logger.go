// Package log provides structured logging with request IDs carried in
// context.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/followcat/HermesIndex/internal/config"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// RequestIDKey carries the per-request identifier.
const RequestIDKey ContextKey = "request_id"

// Logger wraps slog.Logger with context-aware convenience methods.
type Logger struct {
	handler slog.Handler
	logger  *slog.Logger
}

// NewLogger creates a Logger from the log configuration, writing to
// stdout.
func NewLogger(cfg config.LogConfig) *Logger {
	return NewLoggerWithWriter(os.Stdout, cfg.Format, cfg.Level)
}

// NewLoggerWithWriter creates a Logger that writes to the given writer.
func NewLoggerWithWriter(w io.Writer, format config.LogFormat, level string) *Logger {
	lvl := parseLevel(level)
	var handler slog.Handler
	switch format {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		handler = newTerminalHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return &Logger{handler: handler, logger: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler returns the underlying slog.Handler.
func (l *Logger) Handler() slog.Handler { return l.handler }

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.logger }

// With returns a new Logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{handler: l.handler, logger: l.logger.With(args...)}
}

// WithContext returns a logger annotated with the context's request id.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := RequestID(ctx); id != "" {
		return l.With("request_id", id)
	}
	return l
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// DebugContext logs at debug level with context attributes.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).logger.Debug(msg, args...)
}

// InfoContext logs at info level with context attributes.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).logger.Info(msg, args...)
}

// WarnContext logs at warn level with context attributes.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).logger.Warn(msg, args...)
}

// ErrorContext logs at error level with context attributes.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).logger.Error(msg, args...)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// SetDefault installs the logger as the global slog default.
func (l *Logger) SetDefault() { slog.SetDefault(l.logger) }

var defaultLogger = NewLoggerWithWriter(os.Stdout, config.LogFormatPretty, "INFO")

// Default returns the package-level default logger.
func Default() *Logger { return defaultLogger }

// Configure builds a logger from configuration and installs it as the
// default.
func Configure(cfg config.LogConfig) *Logger {
	l := NewLogger(cfg)
	defaultLogger = l
	l.SetDefault()
	return l
}
