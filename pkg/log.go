package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Component identifies a subsystem for log filtering.
type Component string

// Gadget stack components.
const (
	ComponentDevice    Component = "device"
	ComponentComposite Component = "composite"
	ComponentStack     Component = "stack"
	ComponentFunction  Component = "function"
	ComponentEndpoint  Component = "endpoint"
	ComponentHAL       Component = "hal"
	ComponentConfig    Component = "config"
)

// LogFormat selects the handler of the default logger.
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

func (f LogFormat) String() string {
	if f == LogFormatJSON {
		return "json"
	}
	return "text"
}

// ParseLogFormat accepts "text" or "json".
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	}
	return LogFormatText, fmt.Errorf("log format %q: %w", s, ErrInvalidParameter)
}

// ParseLogLevel accepts the slog level names (debug, info, warn, error) in
// any case, with optional offsets such as "debug-2".
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelWarn, fmt.Errorf("log level %q: %w", s, ErrInvalidParameter)
	}
	return level, nil
}

// The level is shared by the default handlers; replacing the logger keeps
// the configured level.
var (
	logLevel      = new(slog.LevelVar)
	defaultLogger atomic.Pointer[slog.Logger]
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger.Store(NewLogger(os.Stderr, nil))
}

// Logger returns the logger every Log* function writes to.
func Logger() *slog.Logger { return defaultLogger.Load() }

// SetLogger replaces the default logger.
func SetLogger(logger *slog.Logger) { defaultLogger.Store(logger) }

// SetLogLevel sets the minimum level of the default handlers.
func SetLogLevel(level slog.Level) { logLevel.Set(level) }

// GetLogLevel returns the minimum level of the default handlers.
func GetLogLevel() slog.Level { return logLevel.Level() }

// SetLogFormat replaces the default logger with a stderr logger of format.
func SetLogFormat(format LogFormat) {
	if format == LogFormatJSON {
		SetLogger(NewJSONLogger(os.Stderr, nil))
		return
	}
	SetLogger(NewLogger(os.Stderr, nil))
}

// NewLogger returns a text logger on w. Nil opts use the shared level.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, withLevel(opts)))
}

// NewJSONLogger returns a JSON logger on w. Nil opts use the shared level.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, withLevel(opts)))
}

func withLevel(opts *slog.HandlerOptions) *slog.HandlerOptions {
	if opts == nil {
		return &slog.HandlerOptions{Level: logLevel}
	}
	return opts
}

func logAt(level slog.Level, component Component, msg string, args []any) {
	l := Logger()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs at debug level with a component attribute.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs at info level with a component attribute.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs at warn level with a component attribute.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs at error level with a component attribute.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
