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

// Package level offers the key/value logging style used throughout the harness,
// level.Info(logger).Log("msg", "worker done", "worker", 7), on top of log/slog.
//
// Keys must be strings; a "msg" key with a string value becomes the record message.
// A trailing key without a value is dropped.
package level

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/croessner/ratebench/server/definitions"
)

// Logger is the minimal key/value logging interface.
type Logger interface {
	Log(keyvals ...any) error
}

type slogLevelLogger struct {
	l   *slog.Logger
	lvl slog.Level
	ctx context.Context
}

// WithContext returns an info level Logger that hands ctx to the slog handler.
func WithContext(ctx context.Context, l *slog.Logger) Logger {
	return &slogLevelLogger{l: l, lvl: slog.LevelInfo, ctx: ctx}
}

func Debug(l *slog.Logger) Logger {
	return &slogLevelLogger{l: l, lvl: slog.LevelDebug}
}

func Info(l *slog.Logger) Logger {
	return &slogLevelLogger{l: l, lvl: slog.LevelInfo}
}

func Warn(l *slog.Logger) Logger {
	return &slogLevelLogger{l: l, lvl: slog.LevelWarn}
}

func Error(l *slog.Logger) Logger {
	return &slogLevelLogger{l: l, lvl: slog.LevelError}
}

// Log implements Logger.
func (s *slogLevelLogger) Log(keyvals ...any) error {
	if s.l == nil {
		return nil
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if !s.l.Enabled(ctx, s.lvl) {
		return nil
	}

	var msg string

	attrs := make([]slog.Attr, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}

		v := keyvals[i+1]

		if k == definitions.LogKeyMsg {
			if vs, ok := v.(string); ok {
				msg = vs

				continue
			}
		}

		if isTypedNil(v) {
			attrs = append(attrs, slog.String(k, "<nil>"))

			continue
		}

		switch vv := v.(type) {
		case string:
			attrs = append(attrs, slog.String(k, vv))
		case error:
			attrs = append(attrs, slog.String(k, vv.Error()))
		default:
			attrs = append(attrs, slog.Any(k, vv))
		}
	}

	if msg == "" {
		msg = s.lvl.String()
	}

	s.l.LogAttrs(ctx, s.lvl, msg, attrs...)

	return nil
}

// isTypedNil reports whether v is nil or a typed nil such as (*T)(nil).
func isTypedNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
