package contentcache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogConfig holds configuration for the cache logger.
type LogConfig struct {
	// Level sets the minimum log level.
	Level LogLevel
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
	// AddSource includes file and line number in records.
	AddSource bool
	// Output receives log records. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultLogConfig returns a text logger at info level writing to stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: LogLevelInfo}
}

// Logger provides structured logging for cache operations.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a slog-backed logger from config.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{logger: slog.New(handler)}
}

// NewLoggerFrom wraps an existing slog logger.
func NewLoggerFrom(l *slog.Logger) *Logger {
	if l == nil {
		return NewNopLogger()
	}
	return &Logger{logger: l}
}

// NewNopLogger creates a logger that discards all records.
func NewNopLogger() *Logger {
	return &Logger{logger: slog.New(slog.DiscardHandler)}
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

// With returns a logger with additional context fields
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger with the logical key and its storage key.
func (l *Logger) WithKey(key, storageKey string) *Logger {
	return l.With("key", key, "storage_key", storageKey)
}

// Operation names a cache operation in log records.
type Operation string

const (
	OpPut          Operation = "put"
	OpGet          Operation = "get"
	OpRemove       Operation = "remove"
	OpGetOrFetch   Operation = "get_or_fetch"
	OpEvict        Operation = "evict"
	OpClearExpired Operation = "clear_expired"
	OpClear        Operation = "clear"
	OpCleanupTemp  Operation = "cleanup_temp"
	OpLoadIndex    Operation = "load_index"
	OpClose        Operation = "close"
)

func (l *Logger) cacheHit(ctx context.Context, size int64) {
	l.Debug(ctx, "cache hit", "size", size, "result", "hit")
}

func (l *Logger) cacheMiss(ctx context.Context, reason string) {
	l.Debug(ctx, "cache miss", "reason", reason, "result", "miss")
}

func (l *Logger) eviction(ctx context.Context, key string, size int64, reason string) {
	l.Info(ctx, "cache entry evicted", "key", key, "size", size, "reason", reason)
}

func (l *Logger) cleanup(ctx context.Context, op Operation, removed int, freed int64, took time.Duration) {
	l.Info(ctx, "cache cleanup completed",
		"operation", string(op),
		"entries_removed", removed,
		"bytes_freed", freed,
		"duration_ms", took.Milliseconds())
}

// ParseLogLevel parses a string log level into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, errors.Newf(errors.CodeInvalidConfig, "invalid log level: %s", level)
	}
}
