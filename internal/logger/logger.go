package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// New creates a console logger on stderr so command output on stdout stays clean.
func New() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// NewWithWriter creates a JSON logger writing to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// ForFormat returns a JSON logger on stderr for "json" and the console
// logger otherwise.
func ForFormat(format string) zerolog.Logger {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return NewWithWriter(os.Stderr)
	}
	return New()
}

// WithLevel returns logger filtered at the named level ("debug", "warn", ...).
// Unknown names keep the logger at info.
func WithLevel(logger zerolog.Logger, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}

// FromContextOr returns the logger carried by ctx, or fallback when there is none.
func FromContextOr(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return fallback
}

// WithFields adds structured fields to a logger
func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}

// WithSession tags every entry with the owner of the active session.
func WithSession(logger zerolog.Logger, sess domain.Session) zerolog.Logger {
	return logger.With().Str("owner_id", sess.ID).Logger()
}
