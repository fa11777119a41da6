// Package logging provides a tiny abstraction over structured loggers so
// downstream code depends on a minimal interface (Logger) while users plug
// any implementation. Adapters for log/slog and rs/zerolog are included; the
// NoOpLogger keeps logging an opt-in concern.
package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Logger defines the minimal structured logging interface consumed across
// intentmesh. Args are alternating key/value pairs, slog style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TraceLogger is optionally implemented by loggers that can bind a trace id
// to every subsequent entry.
type TraceLogger interface {
	Logger
	WithTrace(traceID string) Logger
}

// WithTrace binds a trace id when the logger supports it and returns the
// logger unchanged otherwise.
func WithTrace(logger Logger, traceID string) Logger {
	if t, ok := logger.(TraceLogger); ok {
		return t.WithTrace(traceID)
	}
	return logger
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// ZerologAdapter wraps a zerolog.Logger to implement the Logger interface.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger from a zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// WithTrace returns a derived adapter stamping every entry with the trace id.
func (z *ZerologAdapter) WithTrace(traceID string) Logger {
	return &ZerologAdapter{logger: z.logger.With().Str("trace_id", traceID).Logger()}
}

func (z *ZerologAdapter) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	if len(args)%2 != 0 {
		ev = ev.Interface("arg", args[len(args)-1])
	}
	ev.Msg(msg)
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) { z.emit(z.logger.Debug(), msg, args) }

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) { z.emit(z.logger.Info(), msg, args) }

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) { z.emit(z.logger.Warn(), msg, args) }

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { z.emit(z.logger.Error(), msg, args) }
