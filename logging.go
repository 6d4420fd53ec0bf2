// logging.go: Pluggable logging system for the microkernel
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"context"
	"log/slog"
	"sync"
)

// loggerContextKey is a custom type for context keys to avoid collisions
type loggerContextKey string

const (
	// Context keys for logger storage
	loggerKey loggerContextKey = "logger"
)

// Logger defines the pluggable logging interface for the microkernel.
//
// The interface lets users integrate any logging framework (slog, zap,
// logrus, custom loggers) without the kernel taking a hard dependency on
// one. The kernel, the event bus, and every capability API log exclusively
// through this interface.
//
// Design principles:
//   - Zero dependencies: interface has no external logging dependencies
//   - Contextual logging: With() method for adding persistent context
//   - Level-based: standard log levels (Debug, Info, Warn, Error)
//   - Structured args: key-value pairs for structured logging
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: used directly
//   - *slog.Logger: wrapped with SlogAdapter
//   - nil: returns NoOpLogger for silent operation
//   - Unsupported types: panic with descriptive message
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case *slog.Logger:
		return NewSlogAdapter(l)
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger interface, *slog.Logger, or nil")
	}
}

// SlogAdapter adapts a *slog.Logger to the kernel Logger interface.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps a standard library structured logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Debug implements Logger interface
func (s *SlogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }

// Info implements Logger interface
func (s *SlogAdapter) Info(msg string, args ...any) { s.logger.Info(msg, args...) }

// Warn implements Logger interface
func (s *SlogAdapter) Warn(msg string, args ...any) { s.logger.Warn(msg, args...) }

// Error implements Logger interface
func (s *SlogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

// With implements Logger interface
func (s *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: s.logger.With(args...)}
}

// NoOpLogger provides a silent logger implementation for testing and minimal setups.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n // Return same instance since it's stateless
}

// TestLogger for testing - captures log messages
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message for testing.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

func (t *TestLogger) capture(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   level,
		Message: msg,
		Args:    args,
	})
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.capture("DEBUG", msg, args) }

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.capture("INFO", msg, args) }

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.capture("WARN", msg, args) }

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.capture("ERROR", msg, args) }

// With implements Logger interface. The derived logger writes into this
// logger's capture buffer with the given context prepended to each record's
// arguments, so HasMessage on the root sees everything.
func (t *TestLogger) With(args ...any) Logger {
	return &testLoggerContext{parent: t, context: args}
}

// testLoggerContext is a With-derived view over a TestLogger.
type testLoggerContext struct {
	parent  *TestLogger
	context []any
}

func (c *testLoggerContext) merged(args []any) []any {
	out := make([]any, 0, len(c.context)+len(args))
	out = append(out, c.context...)
	return append(out, args...)
}

func (c *testLoggerContext) Debug(msg string, args ...any) {
	c.parent.capture("DEBUG", msg, c.merged(args))
}

func (c *testLoggerContext) Info(msg string, args ...any) {
	c.parent.capture("INFO", msg, c.merged(args))
}

func (c *testLoggerContext) Warn(msg string, args ...any) {
	c.parent.capture("WARN", msg, c.merged(args))
}

func (c *testLoggerContext) Error(msg string, args ...any) {
	c.parent.capture("ERROR", msg, c.merged(args))
}

func (c *testLoggerContext) With(args ...any) Logger {
	return &testLoggerContext{parent: c.parent, context: c.merged(args)}
}

// HasMessage checks if the logger captured a message with the given level and text.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// DefaultLogger creates a reasonable default logger for the library.
//
// Returns NoOpLogger; embedding applications should provide their own
// Logger implementation.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// LoggerFromContext extracts a logger from context if available.
//
// Falls back to DefaultLogger if no logger is found in the context.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}

	return DefaultLogger()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
