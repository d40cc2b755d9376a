package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is one log record kept in memory for `warden logs`.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Source    string            `json:"source"` // component, or "system"
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Recent is a fixed-size ring holding the newest entries.
type Recent struct {
	mu    sync.Mutex
	ring  []Entry
	next  int
	count int
}

const recentCapacity = 2000

var recentLogs = NewRecent(recentCapacity)

// RecentLogs returns the ring every logger created by New writes to.
func RecentLogs() *Recent {
	return recentLogs
}

func NewRecent(capacity int) *Recent {
	if capacity < 1 {
		capacity = 1
	}
	return &Recent{ring: make([]Entry, capacity)}
}

func (r *Recent) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
}

// Tail returns up to n of the newest entries accepted by keep, oldest
// first. n <= 0 means no limit; a nil keep accepts everything.
func (r *Recent) Tail(n int, keep func(Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Entry{}
	size := len(r.ring)
	for i := 1; i <= r.count; i++ {
		e := r.ring[(r.next-i+size)%size]
		if keep != nil && !keep(e) {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) == n {
			break
		}
	}
	slices.Reverse(out)
	return out
}

func (r *Recent) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset drops every entry.
func (r *Recent) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next, r.count = 0, 0
}

// levelName is the lower-case level used in console output and entries.
func levelName(l slog.Level) string {
	switch {
	case l < LevelInfo:
		return "debug"
	case l < LevelWarn:
		return "info"
	case l < LevelError:
		return "warn"
	}
	return "error"
}

// splitAttrs pulls the component out of the bound and record attributes.
// The record's own component wins over a bound one.
func splitAttrs(bound []slog.Attr, r slog.Record) (component string, attrs []slog.Attr) {
	take := func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToLower(a.Value.String())
		} else {
			attrs = append(attrs, a)
		}
		return true
	}
	for _, a := range bound {
		take(a)
	}
	r.Attrs(take)
	return component, attrs
}

func newEntry(t time.Time, r slog.Record, component string, attrs []slog.Attr) Entry {
	e := Entry{
		Timestamp: t,
		Level:     levelName(r.Level),
		Source:    component,
		Message:   r.Message,
	}
	if e.Source == "" {
		e.Source = "system"
	}
	if len(attrs) > 0 {
		e.Extra = make(map[string]string, len(attrs))
		for _, a := range attrs {
			e.Extra[a.Key] = a.Value.String()
		}
	}
	return e
}

// recordingHandler feeds RecentLogs and then defers to next. The console
// handler records on its own; this wraps the JSON handler.
type recordingHandler struct {
	next  slog.Handler
	bound []slog.Attr
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	component, attrs := splitAttrs(h.bound, r)
	recentLogs.Add(newEntry(r.Time, r, component, attrs))
	return h.next.Handle(ctx, r)
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{next: h.next.WithAttrs(attrs), bound: append(slices.Clip(h.bound), attrs...)}
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return &recordingHandler{next: h.next.WithGroup(name), bound: h.bound}
}
