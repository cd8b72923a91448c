package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultLogCapacity is how many entries a LogBuffer keeps.
const DefaultLogCapacity = 500

// LogEntry is one captured log record.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// LogBuffer keeps the most recent log entries for the dashboard.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	max     int
	subs    []func(LogEntry)
}

// NewLogBuffer creates a buffer holding up to capacity entries.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{entries: make([]LogEntry, 0, capacity), max: capacity}
}

// Add appends e, evicting the oldest entry when full.
func (b *LogBuffer) Add(e LogEntry) {
	b.mu.Lock()
	if len(b.entries) == b.max {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.max-1]
	}
	b.entries = append(b.entries, e)
	subs := b.subs
	b.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]LogEntry(nil), b.entries...)
}

// Subscribe registers fn to be called for every new entry.
func (b *LogBuffer) Subscribe(fn func(LogEntry)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Handler returns a slog.Handler that records entries at or above level in
// b and passes every record on to next.
func (b *LogBuffer) Handler(next slog.Handler, level slog.Leveler) slog.Handler {
	return &captureHandler{next: next, buf: b, level: level}
}

type captureHandler struct {
	next  slog.Handler
	buf   *LogBuffer
	level slog.Leveler
	attrs []slog.Attr
	group string
}

func (h *captureHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() || h.next.Enabled(ctx, l)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		e := LogEntry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
		if n := len(h.attrs) + r.NumAttrs(); n > 0 {
			e.Attrs = make(map[string]any, n)
			for _, a := range h.attrs {
				e.Attrs[a.Key] = attrValue(a.Value)
			}
			r.Attrs(func(a slog.Attr) bool {
				e.Attrs[h.key(a.Key)] = attrValue(a.Value)
				return true
			})
		}
		h.buf.Add(e)
	}

	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *captureHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value.Resolve()})
	}
	return &c
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.group = h.key(name)
	return &c
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch x := v.Any().(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}
