// Package slogutil provides the slog handler and helpers used across precursor.
package slogutil

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// timeLayout keeps milliseconds so scoring latency is visible in logs.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Handler formats records as:
// TIMESTAMP [level] Message | key=value key="quoted value"
//
// Attributes added with WithAttrs are rendered once and reused.
type Handler struct {
	w      io.Writer
	level  slog.Leveler
	prefix string // group path, e.g. "cluster."
	pre    []byte // rendered WithAttrs attributes
	mu     *sync.Mutex
}

// NewHandler creates a handler writing to w. A nil opts logs at info.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) *Handler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle writes one line per record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	if !r.Time.IsZero() {
		buf = r.Time.UTC().AppendFormat(buf, timeLayout)
		buf = append(buf, ' ')
	}
	buf = append(buf, '[')
	buf = append(buf, levelString(r.Level)...)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	attrs := h.pre
	if r.NumAttrs() > 0 {
		attrs = append([]byte(nil), h.pre...)
		r.Attrs(func(a slog.Attr) bool {
			attrs = appendAttr(attrs, h.prefix, a)
			return true
		})
	}
	if len(attrs) > 0 {
		buf = append(buf, " |"...)
		buf = append(buf, attrs...)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

// WithAttrs returns a handler that renders attrs on every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.pre = append([]byte(nil), h.pre...)
	for _, a := range attrs {
		h2.pre = appendAttr(h2.pre, h.prefix, a)
	}
	return &h2
}

// WithGroup returns a handler that prefixes later keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// appendAttr renders " key=value", flattening groups into dotted keys.
func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, prefix, ga)
		}
		return buf
	}
	if a.Key == "" {
		return buf
	}
	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendString(buf, v.String())
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', 6, 64)
	case slog.KindTime:
		return v.Time().UTC().AppendFormat(buf, time.RFC3339)
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return appendString(buf, err.Error())
		}
		return appendString(buf, v.String())
	default:
		return append(buf, v.String()...)
	}
}

// appendString quotes values that would otherwise break key=value parsing.
func appendString(buf []byte, s string) []byte {
	if s == "" {
		return append(buf, `""`...)
	}
	if strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuote(r rune) bool {
	return unicode.IsSpace(r) || r == '=' || r == '"' || !unicode.IsPrint(r)
}

// levelString returns a lowercase string for the log level.
func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}
