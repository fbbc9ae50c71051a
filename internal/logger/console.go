package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ANSI sequences used by the console handler.
const (
	ansiReset   = "\033[0m"
	ansiBold    = "\033[1m"
	ansiDim     = "\033[2m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
)

// consoleHandler renders records for a terminal:
//
//	12:04:05 INF mux ▸ chapter list written count=4
//
// A phase attribute - whether bound with WithPhase or passed per record -
// is printed between the level and the message instead of in the attribute
// list. Group names fold into dotted keys.
type consoleHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler

	phase  string      // lifted from a bound Phase attribute
	attrs  []slog.Attr // pre-bound attributes, keys already qualified
	prefix string      // dotted group prefix for subsequent keys
}

func newConsoleHandler(w io.Writer, level slog.Leveler) *consoleHandler {
	return &consoleHandler{w: w, mu: &sync.Mutex{}, level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.level != nil {
		minLevel = h.level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes the log record.
func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(ansiDim)
	b.WriteString(r.Time.Format("15:04:05"))
	b.WriteString(ansiReset)
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))

	phase := h.phase
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == PhaseKey && phase == "" && h.prefix == "" {
			phase = a.Value.String()
			return true
		}
		attrs = append(attrs, h.qualify(a))
		return true
	})

	if phase != "" {
		b.WriteByte(' ')
		b.WriteString(ansiCyan)
		b.WriteString(phase)
		b.WriteString(ansiReset)
		b.WriteString(" ▸")
	}

	b.WriteByte(' ')
	b.WriteString(ansiBold)
	b.WriteString(r.Message)
	b.WriteString(ansiReset)

	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(ansiDim)
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(ansiReset)
		b.WriteString(renderValue(a.Value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs returns a handler with the attributes pre-bound. A Phase
// attribute bound outside any group becomes the handler's stage tag.
func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if a.Key == PhaseKey && h.prefix == "" {
			next.phase = a.Value.String()
			continue
		}
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return &next
}

// WithGroup returns a handler that prefixes subsequent keys with the group.
func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.prefix == "" {
		next.prefix = name
	} else {
		next.prefix = h.prefix + "." + name
	}
	return &next
}

func (h *consoleHandler) qualify(a slog.Attr) slog.Attr {
	if h.prefix != "" {
		a.Key = h.prefix + "." + a.Key
	}
	return a
}

// levelTag colors the three-letter level marker.
func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed + "ERR" + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + "WRN" + ansiReset
	case level >= slog.LevelInfo:
		return ansiGreen + "INF" + ansiReset
	default:
		return ansiMagenta + "DBG" + ansiReset
	}
}

// renderValue keeps terminal output scannable: strings with spaces are
// quoted, durations are trimmed to milliseconds (per-sample timings sit far
// below human resolution), groups fold into bracketed pairs, and the scalar
// kinds print the way slog would.
func renderValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().Truncate(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindBool, slog.KindInt64, slog.KindUint64, slog.KindFloat64:
		return v.String()
	case slog.KindGroup:
		group := v.Group()
		parts := make([]string, 0, len(group))
		for _, a := range group {
			parts = append(parts, a.Key+"="+renderValue(a.Value))
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(v.Any())
	}
}
