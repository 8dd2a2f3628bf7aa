// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package color wraps slog.TextHandler output in ANSI colors chosen by record level.
package color

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	ansiReset = "\x1b[0m"

	fgRed    = "\x1b[31m"
	fgYellow = "\x1b[33m"
	fgGreen  = "\x1b[32m"
	fgCyan   = "\x1b[36m"

	fgBrightRed    = "\x1b[91m"
	fgBrightYellow = "\x1b[93m"
	fgBrightGreen  = "\x1b[92m"
	fgBrightCyan   = "\x1b[96m"
)

// ThemeColorMap returns the level colors for "dark" or "light" (default) terminals.
func ThemeColorMap(theme string) map[slog.Level]string {
	if strings.EqualFold(strings.TrimSpace(theme), "dark") {
		return map[slog.Level]string{
			slog.LevelDebug: fgBrightCyan,
			slog.LevelInfo:  fgBrightGreen,
			slog.LevelWarn:  fgBrightYellow,
			slog.LevelError: fgBrightRed,
		}
	}

	return map[slog.Level]string{
		slog.LevelDebug: fgCyan,
		slog.LevelInfo:  fgGreen,
		slog.LevelWarn:  fgYellow,
		slog.LevelError: fgRed,
	}
}

// LineWrapper renders records with slog.TextHandler and colors each whole line.
type LineWrapper struct {
	mu     *sync.Mutex
	out    io.Writer
	opts   *slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	colors map[slog.Level]string
}

// NewLineWrapper creates a LineWrapper. A nil colors map selects the light theme.
func NewLineWrapper(out io.Writer, opts *slog.HandlerOptions, colors map[slog.Level]string) *LineWrapper {
	if colors == nil {
		colors = ThemeColorMap("")
	}

	return &LineWrapper{mu: &sync.Mutex{}, out: out, opts: opts, colors: colors}
}

func (h *LineWrapper) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.opts == nil || h.opts.Level == nil {
		return lvl >= slog.LevelInfo
	}

	return lvl >= h.opts.Level.Level()
}

func (h *LineWrapper) Handle(ctx context.Context, r slog.Record) error {
	var buf bytes.Buffer

	var inner slog.Handler = slog.NewTextHandler(&buf, h.opts)

	for _, g := range h.groups {
		inner = inner.WithGroup(g)
	}

	if len(h.attrs) > 0 {
		inner = inner.WithAttrs(h.attrs)
	}

	if err := inner.Handle(ctx, r); err != nil {
		return err
	}

	line := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	var out bytes.Buffer

	out.Grow(len(line) + 16)
	out.WriteString(h.pickColor(r.Level))
	out.Write(line)
	out.WriteString(ansiReset)
	out.WriteByte('\n')

	// One write per record keeps lines of concurrent workers intact.
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.out.Write(out.Bytes())

	return err
}

func (h *LineWrapper) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	if len(attrs) > 0 {
		cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	}

	return &cp
}

func (h *LineWrapper) WithGroup(name string) slog.Handler {
	cp := *h
	cp.groups = append(append([]string(nil), h.groups...), name)

	return &cp
}

func (h *LineWrapper) pickColor(lvl slog.Level) string {
	if c, ok := h.colors[lvl]; ok {
		return c
	}

	switch {
	case lvl >= slog.LevelError:
		return fgRed
	case lvl >= slog.LevelWarn:
		return fgYellow
	case lvl <= slog.LevelDebug:
		return fgCyan
	default:
		return fgGreen
	}
}

var _ slog.Handler = (*LineWrapper)(nil)
