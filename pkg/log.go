package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Streaming engine component identifiers.
const (
	ComponentStream Component = "stream"
	ComponentWorker Component = "worker"
	ComponentSync   Component = "sync"
	ComponentHAL    Component = "hal"
	ComponentDevice Component = "device"
	ComponentCLI    Component = "cli"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// DefaultLogger is the default logger used by the streaming engine.
	DefaultLogger *slog.Logger

	// logLevel controls the minimum log level.
	logLevel = new(slog.LevelVar)

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum log level for all engine logging.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to use the specified format.
// The logger writes to os.Stderr and uses the current log level.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	opts := &slog.HandlerOptions{Level: logLevel}
	switch format {
	case LogFormatJSON:
		DefaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	default:
		DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger
}

// logAt emits one record tagged with component. Arguments are only
// assembled when the level is enabled, so data path call sites stay cheap
// at the default level.
func logAt(level slog.Level, component Component, attrs []any, msg string, args []any) {
	l := logger()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	all := make([]any, 0, 2+len(attrs)+len(args))
	all = append(all, "component", string(component))
	all = append(all, attrs...)
	all = append(all, args...)
	l.Log(ctx, level, msg, all...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, nil, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, nil, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, nil, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, nil, msg, args)
}

// Logger logs for one component with a fixed set of attributes, typically
// the session id of a sync stream. Records go to the current default logger,
// so SetLogger and SetLogFormat apply to existing Loggers. The zero value
// has no component; see [Logger.Valid].
type Logger struct {
	component Component
	attrs     []any
}

// NewComponentLogger returns a Logger for component that adds args to every
// record.
func NewComponentLogger(component Component, args ...any) Logger {
	return Logger{component: component, attrs: append([]any(nil), args...)}
}

// Valid reports whether l was created with a component.
func (l Logger) Valid() bool {
	return l.component != ""
}

// Component returns the component of l.
func (l Logger) Component() Component {
	return l.component
}

// For returns a Logger for component carrying the attributes of l. A sync
// stream hands For(ComponentWorker) to its worker so that every layer logs
// the same session id.
func (l Logger) For(component Component) Logger {
	return Logger{component: component, attrs: l.attrs}
}

// With returns a Logger that also adds args to every record.
func (l Logger) With(args ...any) Logger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)
	return Logger{component: l.component, attrs: attrs}
}

// Debug logs at debug level.
func (l Logger) Debug(msg string, args ...any) {
	logAt(slog.LevelDebug, l.component, l.attrs, msg, args)
}

// Info logs at info level.
func (l Logger) Info(msg string, args ...any) {
	logAt(slog.LevelInfo, l.component, l.attrs, msg, args)
}

// Warn logs at warn level.
func (l Logger) Warn(msg string, args ...any) {
	logAt(slog.LevelWarn, l.component, l.attrs, msg, args)
}

// Error logs at error level.
func (l Logger) Error(msg string, args ...any) {
	logAt(slog.LevelError, l.component, l.attrs, msg, args)
}
