package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProcessName is printed before the PID on every console line.
var ProcessName = "warden"

// ConsoleHandler writes one syslog-style line per record:
//
//	2030-06-15T12:00:00Z warden[1234]: [info] rules: rule added family=ipv4
//
// and copies the record into RecentLogs.
type ConsoleHandler struct {
	out        io.Writer
	mu         *sync.Mutex
	level      slog.Leveler
	timeFormat string
	bound      []slog.Attr
}

func NewConsoleHandler(out io.Writer, level slog.Leveler, timeFormat string) *ConsoleHandler {
	if level == nil {
		level = LevelInfo
	}
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return &ConsoleHandler{out: out, mu: new(sync.Mutex), level: level, timeFormat: timeFormat}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	component, attrs := splitAttrs(h.bound, r)

	var sb strings.Builder
	sb.WriteString(t.Format(h.timeFormat))
	sb.WriteString(" " + ProcessName + "[" + strconv.Itoa(os.Getpid()) + "]: ")
	sb.WriteString("[" + levelName(r.Level) + "] ")
	if component != "" {
		sb.WriteString(component + ": ")
	}
	sb.WriteString(r.Message)
	for _, a := range attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		if v := a.Value.String(); strings.ContainsAny(v, " \t\n\"") {
			sb.WriteString(strconv.Quote(v))
		} else {
			sb.WriteString(v)
		}
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	_, err := io.WriteString(h.out, sb.String())
	h.mu.Unlock()

	recentLogs.Add(newEntry(t, r, component, attrs))
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = append(slices.Clip(h.bound), attrs...)
	return &next
}

// WithGroup is a no-op; warden does not log grouped attributes.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}
