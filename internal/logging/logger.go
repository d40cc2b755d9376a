package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is a slog.Logger whose level can change at runtime. Loggers
// derived with With or WithComponent share the level of their parent.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config selects the output format and threshold.
type Config struct {
	Level      Level
	Output     io.Writer // defaults to stderr
	JSON       bool
	AddSource  bool // JSON only
	TimeFormat string
}

func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr, TimeFormat: time.RFC3339}
}

// New builds a logger. Every record it emits also lands in RecentLogs.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Level)

	var h slog.Handler
	if cfg.JSON {
		h = &recordingHandler{next: slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource})}
	} else {
		h = NewConsoleHandler(out, level, cfg.TimeFormat)
	}
	return &Logger{Logger: slog.New(h), level: level}
}

func (l *Logger) derive(s *slog.Logger) *Logger {
	return &Logger{Logger: s, level: l.level}
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return l.derive(l.Logger.With(args...))
}

// WithComponent tags records with a component, shown as the source in
// console output and `warden logs`.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.Logger.With("component", name))
}

func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

func (l *Logger) GetLevel() Level { return l.level.Level() }

// ParseLevel accepts debug, info, warn (or warning) and error. The empty
// string is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var defaultLogger atomic.Pointer[Logger]

// Default returns the process logger, creating a stderr logger on first use.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	defaultLogger.CompareAndSwap(nil, New(DefaultConfig()))
	return defaultLogger.Load()
}

func SetDefault(l *Logger) { defaultLogger.Store(l) }

// OrDefault returns l, or Default() when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return Default()
	}
	return l
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
