package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// terminalHandler formats log records as terminal output:
//
//	15:04:05.000 INF sync cycle finished source=bitmagnet_torrents rows=128
//
// ANSI colouring is applied only when the writer is an interactive
// terminal; pipes, files and test buffers get plain text.
type terminalHandler struct {
	writer io.Writer
	level  slog.Leveler
	color  bool
	attrs  []slog.Attr
	groups []string
	mu     *sync.Mutex
}

func newTerminalHandler(w io.Writer, opts *slog.HandlerOptions) *terminalHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &terminalHandler{writer: w, level: level, color: colorEnabled(w), mu: &sync.Mutex{}}
}

// colorEnabled honours NO_COLOR and TERM=dumb before checking whether
// the writer is a tty.
func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// paint wraps s in the given ANSI code when colouring is on.
func (h *terminalHandler) paint(code, s string) string {
	if !h.color {
		return s
	}
	return code + s + ansiReset
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.Grow(256)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(h.paint(ansiDim, ts.Format("15:04:05.000")))
	buf.WriteByte(' ')

	color, label := levelStyle(r.Level)
	buf.WriteString(h.paint(color, label))
	buf.WriteByte(' ')
	buf.WriteString(h.paint(ansiBold, r.Message))

	for _, a := range h.attrs {
		h.writeAttr(&buf, a, h.groups)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&buf, a, h.groups)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	merged = append(merged, attrs...)
	return &terminalHandler{writer: h.writer, level: h.level, color: h.color, attrs: merged, groups: h.groups, mu: h.mu}
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string{}, h.groups...), name)
	return &terminalHandler{writer: h.writer, level: h.level, color: h.color, attrs: h.attrs, groups: groups, mu: h.mu}
}

func levelStyle(level slog.Level) (color, label string) {
	switch {
	case level < slog.LevelInfo:
		return ansiCyan, "DBG"
	case level < slog.LevelWarn:
		return ansiGreen, "INF"
	case level < slog.LevelError:
		return ansiYellow, "WRN"
	default:
		return ansiRed, "ERR"
	}
}

func (h *terminalHandler) writeAttr(buf *bytes.Buffer, a slog.Attr, groups []string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		prefix := groups
		if a.Key != "" {
			prefix = append(append([]string{}, groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(buf, ga, prefix)
		}
		return
	}

	var key strings.Builder
	for _, g := range groups {
		key.WriteString(g)
		key.WriteByte('.')
	}
	key.WriteString(a.Key)
	key.WriteByte('=')

	buf.WriteByte(' ')
	buf.WriteString(h.paint(ansiDim, key.String()))
	buf.WriteString(quoteValue(a.Value))
}

func quoteValue(v slog.Value) string {
	s := v.String()
	if v.Kind() == slog.KindString && strings.ContainsAny(s, " \t\n\"\\") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
