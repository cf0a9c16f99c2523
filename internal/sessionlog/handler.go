// Package sessionlog keeps recent warnings of the running relay so they can
// be reported over the status request without scraping log files.
package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	// Group is the dot-separated slog group the record was logged under.
	Group string
	// Attrs holds the record attributes rendered as key=value pairs.
	Attrs string
}

// String renders the entry on one line.
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(e.Level.String())
	b.WriteByte(' ')
	if e.Group != "" {
		b.WriteString(e.Group)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Attrs != "" {
		b.WriteByte(' ')
		b.WriteString(e.Attrs)
	}
	return b.String()
}

// Sink receives captured entries. It must not log through the same handler.
type Sink func(Entry)

// TeeHandler wraps a base [slog.Handler] and copies records at or above
// minLevel to a Sink. All records are forwarded to the base handler regardless
// of level; only the sink is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	sink     Sink
	minLevel slog.Leveler
	group    string
	attrs    []slog.Attr
}

// NewTeeHandler creates a TeeHandler. A nil sink is allowed; the handler then
// only delegates to base.
func NewTeeHandler(base slog.Handler, minLevel slog.Leveler, sink Sink) *TeeHandler {
	if minLevel == nil {
		minLevel = slog.LevelWarn
	}
	return &TeeHandler{
		base:     base,
		sink:     sink,
		minLevel: minLevel,
	}
}

// Enabled reports whether either the base handler or the sink wants level.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.sink != nil && level >= h.minLevel.Level() {
		return true
	}
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler when it is enabled for the
// level, then hands a copy to the sink.
//
// NOTE: The sink runs even if the base handler failed; the base error is
// returned so slog reports it on stderr.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	var err error
	if h.base.Enabled(ctx, record.Level) {
		err = h.base.Handle(ctx, record)
	}

	if h.sink != nil && record.Level >= h.minLevel.Level() {
		entry := Entry{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Group:   h.group,
			Attrs:   renderAttrs(h.attrs, record),
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Written to stderr, not slog: logging here would recurse.
					fmt.Fprintf(os.Stderr, "[session-log] sink panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.sink(entry)
		}()
	}
	return err
}

// WithAttrs returns a handler whose base has attrs applied. The attrs are
// also kept for rendering captured entries.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TeeHandler{
		base:     h.base.WithAttrs(attrs),
		sink:     h.sink,
		minLevel: h.minLevel,
		group:    h.group,
		attrs:    merged,
	}
}

// WithGroup returns a handler whose base is wrapped in the group. The group
// name is appended to the accumulated group string.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &TeeHandler{
		base:     h.base.WithGroup(name),
		sink:     h.sink,
		minLevel: h.minLevel,
		group:    newGroup,
		attrs:    h.attrs,
	}
}

func renderAttrs(preset []slog.Attr, record slog.Record) string {
	if len(preset) == 0 && record.NumAttrs() == 0 {
		return ""
	}
	parts := make([]string, 0, len(preset)+record.NumAttrs())
	for _, a := range preset {
		parts = append(parts, a.String())
	}
	record.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.String())
		return true
	})
	return strings.Join(parts, " ")
}
