// Package logger provides structured logging with context propagation for the ETL pipeline.
// It builds log/slog handlers from configuration (JSON, text or a colored console format),
// optionally rotating file output, and copies run-scoped values stored in the context onto
// every record.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/galafis/financial-data-etl/internal/config"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// RunIDKey is the context key for the pipeline run id
	RunIDKey ContextKey = "run_id"
	// StageKey is the context key for the pipeline stage
	StageKey ContextKey = "stage"
	// SourceKey is the context key for the source descriptor
	SourceKey ContextKey = "source"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
)

// contextKeys lists the keys copied from the context onto every record, in output order.
var contextKeys = []ContextKey{RunIDKey, StageKey, SourceKey, OperationKey}

// LoggerManager manages structured logging for the application
type LoggerManager struct {
	baseLogger     *slog.Logger
	config         config.LoggingConfig
	writer         io.WriteCloser
	mu             sync.Mutex
	componentCache map[string]*slog.Logger
}

// ComponentLogger represents a logger for a specific component
type ComponentLogger struct {
	*slog.Logger
	component string
}

// Option configures a LoggerManager
type Option func(*managerOptions)

type managerOptions struct {
	writer io.Writer
}

// WithWriter sends log output to w instead of the configured output.
func WithWriter(w io.Writer) Option {
	return func(o *managerOptions) {
		o.writer = w
	}
}

// NewLoggerManager creates a new logger manager with the specified configuration
func NewLoggerManager(cfg config.LoggingConfig, opts ...Option) (*LoggerManager, error) {
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}

	var writer io.WriteCloser
	if o.writer != nil {
		writer = nopWriteCloser{o.writer}
	} else {
		w, err := createWriter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create log writer: %w", err)
		}
		writer = w
	}

	handler := NewContextHandler(newHandler(cfg, writer))

	baseAttrs := make([]slog.Attr, 0, len(cfg.ContextFields))
	for key, value := range cfg.ContextFields {
		baseAttrs = append(baseAttrs, slog.String(key, value))
	}
	if len(baseAttrs) > 0 {
		handler = handler.WithAttrs(baseAttrs)
	}

	return &LoggerManager{
		baseLogger:     slog.New(handler),
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}, nil
}

func newHandler(cfg config.LoggingConfig, w io.Writer) slog.Handler {
	level := ParseLevel(cfg.Level)

	if cfg.Format == "console" {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			TimeFormat: time.DateTime,
			NoColor:    cfg.NoColor,
		})
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}
	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stdout":
		return nopWriteCloser{os.Stdout}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		// stdout carries the quality report, so logs default to stderr.
		return nopWriteCloser{os.Stderr}, nil
	}
}

// nopWriteCloser wraps an io.Writer to provide a Close method
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ParseLevel converts string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetLogger returns the base logger instance
func (lm *LoggerManager) GetLogger() *slog.Logger {
	return lm.baseLogger
}

// GetComponentLogger returns a logger for the specified component
func (lm *LoggerManager) GetComponentLogger(component string) *ComponentLogger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	cached, ok := lm.componentCache[component]
	if !ok {
		cached = lm.baseLogger.With(slog.String("component", component))
		lm.componentCache[component] = cached
	}
	return &ComponentLogger{Logger: cached, component: component}
}

// Component returns the component name
func (cl *ComponentLogger) Component() string {
	return cl.component
}

// Close closes the logger and any associated resources
func (lm *LoggerManager) Close() error {
	if lm.writer != nil {
		return lm.writer.Close()
	}
	return nil
}

// ContextHandler copies run-scoped context values onto each record before
// delegating to the wrapped handler.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps h. Wrapping a ContextHandler again returns it unchanged.
func NewContextHandler(h slog.Handler) slog.Handler {
	if ch, ok := h.(ContextHandler); ok {
		return ch
	}
	return ContextHandler{Handler: h}
}

// Handle implements slog.Handler
func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, key := range contextKeys {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				r.AddAttrs(slog.String(string(key), v))
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler
func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRunID adds a run id to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithStage adds a pipeline stage to the context
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

// WithSource adds a source description to the context
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// GetRunID extracts the run id from context
func GetRunID(ctx context.Context) string {
	runID, _ := ctx.Value(RunIDKey).(string)
	return runID
}

// TimedOperationWithContext runs fn with operation stored in the context and logs its
// outcome and duration. The operation name reaches the record through the context.
func TimedOperationWithContext(ctx context.Context, logger *slog.Logger, operation string, fn func(context.Context) error) error {
	ctx = WithOperation(ctx, operation)
	logger = slog.New(NewContextHandler(logger.Handler()))

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		LogError(ctx, logger, err, "operation failed", slog.Duration("duration", duration))
		return err
	}

	logger.DebugContext(ctx, "operation completed", slog.Duration("duration", duration))
	return nil
}

// LogError logs an error with structured context
func LogError(ctx context.Context, logger *slog.Logger, err error, msg string, attrs ...any) {
	logger.ErrorContext(ctx, msg, append([]any{slog.Any("error", err)}, attrs...)...)
}
