// Package logging provides structured logging for the weightsync module
// using Go's log/slog package.
package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	syncerrors "github.com/carnedata/weightsync/errors"
)

// Logger wraps slog.Logger with convenience methods for sync logging.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level       string `json:"level"`       // debug, info, warn, error
	Format      string `json:"format"`      // text, json
	AddSource   bool   `json:"add_source"`  // whether to add source code information
	Environment string `json:"environment"` // development, production, test
}

// DefaultConfig is used when no configuration is provided.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   true,
	Environment: "development",
}

var defaultLogger *Logger

// ErrorValuer provides structured logging for the module's *errors.Error.
type ErrorValuer struct {
	*syncerrors.Error
}

func (e ErrorValuer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("operation", string(e.Op)),
		slog.String("component", string(e.Component)),
		slog.String("kind", string(e.Kind)),
		slog.Bool("retryable", e.Retryable),
		slog.String("error", e.Err.Error()),
	)
}

// NewLogger creates a new logger with the provided configuration.
func NewLogger(config Config) *Logger {
	var level slog.Level
	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "text" || config.Environment == EnvDevelopment {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Init initializes the global logger with the provided configuration.
func Init(config Config) {
	defaultLogger = NewLogger(config)
	slog.SetDefault(defaultLogger.Logger)
}

// Default returns the default logger instance.
func Default() *Logger {
	if defaultLogger == nil {
		Init(DefaultConfig)
	}
	return defaultLogger
}

// WithOperation creates a child logger with operation context.
func (l *Logger) WithOperation(op syncerrors.Op) *Logger {
	return &Logger{Logger: l.With(slog.String("operation", string(op)))}
}

// WithComponent creates a child logger with component context.
func (l *Logger) WithComponent(component syncerrors.Component) *Logger {
	return &Logger{Logger: l.With(slog.String("component", string(component)))}
}

// LogError logs an error with caller information and structured attributes.
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	allAttrs := make([]any, 0, len(attrs)+2)

	if syncErr, ok := err.(*syncerrors.Error); ok {
		allAttrs = append(allAttrs, slog.Any("sync_error", ErrorValuer{Error: syncErr}))
	} else {
		allAttrs = append(allAttrs, slog.String("error", err.Error()))
	}

	if pc, file, line, ok := runtime.Caller(1); ok {
		fn := runtime.FuncForPC(pc)
		allAttrs = append(allAttrs,
			slog.Group("caller",
				slog.String("file", file),
				slog.Int("line", line),
				slog.String("function", fn.Name()),
			),
		)
	}

	for _, attr := range attrs {
		allAttrs = append(allAttrs, attr)
	}

	l.ErrorContext(ctx, msg, allAttrs...)
}

// LogOperation logs the start and end of an operation with duration tracking.
func (l *Logger) LogOperation(ctx context.Context, op syncerrors.Op, component syncerrors.Component, fn func() error) error {
	start := time.Now()
	opLogger := l.WithOperation(op).WithComponent(component)

	opLogger.DebugContext(ctx, "operation started")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.LogError(ctx, err, "operation failed",
			slog.Duration("duration", duration),
		)
		return err
	}

	opLogger.InfoContext(ctx, "operation completed",
		slog.Duration("duration", duration),
	)

	return nil
}

// WithComponent returns a child of the default logger with component context.
func WithComponent(component syncerrors.Component) *Logger {
	return Default().WithComponent(component)
}

// WithOperation returns a child of the default logger with operation context.
func WithOperation(op syncerrors.Op) *Logger {
	return Default().WithOperation(op)
}

// LogError logs an error through the default logger.
func LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	Default().LogError(ctx, err, msg, attrs...)
}
