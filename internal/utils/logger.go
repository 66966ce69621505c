package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Error   LogLevel = 40
	Warning LogLevel = 30
	Info    LogLevel = 20
	Debug   LogLevel = 10
)

var defaultLevel atomic.Int64

func init() {
	defaultLevel.Store(int64(Info))
}

// ParseLogLevel maps debug, info, warn and error to a LogLevel. Unknown names map to Info.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	default:
		return Info
	}
}

// SetDefaultLogLevel sets the level used by loggers created without an explicit one.
func SetDefaultLogLevel(level LogLevel) {
	defaultLevel.Store(int64(level))
}

// Logger provides structured logging with a component prefix
type Logger struct {
	prefix string
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	lvl := LogLevel(defaultLevel.Load())
	if len(logLevel) > 0 {
		lvl = logLevel[0]
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(toSlogLevel(lvl))

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	return &Logger{
		prefix: prefix,
		level:  levelVar,
		logger: slog.New(handler).With("component", prefix),
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.level.Set(toSlogLevel(logLevel))
}

// Enabled reports whether messages at the given level are emitted.
func (l *Logger) Enabled(logLevel LogLevel) bool {
	return toSlogLevel(logLevel) >= l.level.Level()
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

// With returns a logger that adds keyvals to every message.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{
		prefix: l.prefix,
		level:  l.level,
		logger: l.logger.With(keyvals...),
	}
}

func toSlogLevel(level LogLevel) slog.Level {
	switch {
	case level >= Error:
		return slog.LevelError
	case level >= Warning:
		return slog.LevelWarn
	case level >= Info:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
