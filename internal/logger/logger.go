package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with backtest scopes
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      slog.Level
	Format     string // "json" or "text"
	AddSource  bool
	OutputPath string    // empty means Output, or stdout
	Output     io.Writer // used when OutputPath is empty
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Format: "json",
	}
}

// ParseLevel maps debug, info, warn and error to slog levels
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New creates a structured logger. An OutputPath that cannot be opened
// falls back to Output.
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = os.Stdout
	if config.Output != nil {
		output = config.Output
	}
	if config.OutputPath != "" {
		if file, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			output = file
		}
	}

	opts := &slog.HandlerOptions{Level: config.Level, AddSource: config.AddSource}
	var handler slog.Handler = slog.NewJSONHandler(output, opts)
	if config.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops every record
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l *Logger) with(key string, value any) *Logger {
	return &Logger{Logger: l.Logger.With(key, value)}
}

// WithField returns a logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return l.with(key, value)
}

// WithError returns a logger with an error field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// Component returns a logger for a subsystem
func (l *Logger) Component(name string) *Logger { return l.with("component", name) }

// Run returns a logger scoped to a backtest run
func (l *Logger) Run(runID string) *Logger { return l.with("run_id", runID) }

// Strategy returns a logger scoped to a strategy
func (l *Logger) Strategy(id string) *Logger { return l.with("strategy_id", id) }

// Symbol returns a logger scoped to an instrument
func (l *Logger) Symbol(symbol string) *Logger { return l.with("symbol", symbol) }

// Trade logs a closed trade at debug level
func (l *Logger) Trade(fields map[string]any) {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.Logger.Debug("trade", args...)
}

var defaultLogger = New(DefaultConfig())

// SetDefault replaces the logger behind Component and Error
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Component returns a component logger from the default logger
func Component(name string) *Logger {
	return defaultLogger.Component(name)
}

// Error logs on the default logger
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}
