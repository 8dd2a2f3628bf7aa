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

package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log/color"
	"github.com/mattn/go-isatty"
)

var (
	mu sync.Mutex

	// Logger is used for all messages that are printed to stdout
	Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
)

// SetupLogging initializes the global "Logger" object.
func SetupLogging(configLogLevel int, formatJSON bool, useColor bool, instance string) *slog.Logger {
	mu.Lock()

	defer mu.Unlock()

	Logger = NewLogger(os.Stdout, configLogLevel, formatJSON, useColor && IsTerminal(os.Stdout), instance)

	return Logger
}

// NewLogger builds a logger writing to out without touching the global one.
func NewLogger(out io.Writer, configLogLevel int, formatJSON bool, useColor bool, instance string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: toSlogLevel(configLogLevel)}

	var handler slog.Handler

	switch {
	case formatJSON:
		handler = slog.NewJSONHandler(out, opts)
	case useColor:
		handler = color.NewLineWrapper(out, opts, color.ThemeColorMap("dark"))
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	if configLogLevel == definitions.LogLevelNone {
		handler = discardHandler{}
	}

	logger := slog.New(handler)
	if instance != "" {
		logger = logger.With(definitions.LogKeyInstance, instance)
	}

	return logger
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func toSlogLevel(configLogLevel int) slog.Level {
	switch configLogLevel {
	case definitions.LogLevelError:
		return slog.LevelError
	case definitions.LogLevelWarn:
		return slog.LevelWarn
	case definitions.LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type discardHandler struct{}

func (discardHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (discardHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (d discardHandler) WithAttrs(_ []slog.Attr) slog.Handler        { return d }
func (d discardHandler) WithGroup(_ string) slog.Handler             { return d }
