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

package level

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	Ctx     context.Context
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

type memHandler struct {
	mu      sync.Mutex
	level   slog.Leveler
	records []rec
}

func newMemHandler(min slog.Leveler) *memHandler {
	return &memHandler{level: min}
}

func (h *memHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level.Level()
}

func (h *memHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := make(map[string]string, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()

		return true
	})

	h.records = append(h.records, rec{Ctx: ctx, Level: r.Level, Message: r.Message, Attrs: attrs})

	return nil
}

func (h *memHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *memHandler) WithGroup(_ string) slog.Handler      { return h }

func TestInfoLogWithMessage(t *testing.T) {
	h := newMemHandler(slog.LevelInfo)

	require.NoError(t, Info(slog.New(h)).Log("msg", "worker done", "worker", 7, "outcome", "success"))
	require.Len(t, h.records, 1)

	r := h.records[0]

	assert.Equal(t, slog.LevelInfo, r.Level)
	assert.Equal(t, "worker done", r.Message)
	assert.Equal(t, map[string]string{"worker": "7", "outcome": "success"}, r.Attrs)
}

func TestFilteredLevelIsDropped(t *testing.T) {
	h := newMemHandler(slog.LevelWarn)

	_ = Debug(slog.New(h)).Log("msg", "noise")
	_ = Info(slog.New(h)).Log("msg", "noise")

	assert.Empty(t, h.records)
}

func TestMissingMessageUsesLevelName(t *testing.T) {
	h := newMemHandler(slog.LevelDebug)

	_ = Warn(slog.New(h)).Log("k", "v")

	require.Len(t, h.records, 1)
	assert.Equal(t, slog.LevelWarn.String(), h.records[0].Message)
}

func TestOddAndNonStringKeysAreSkipped(t *testing.T) {
	h := newMemHandler(slog.LevelDebug)

	_ = Debug(slog.New(h)).Log("msg", "m", "ok", 1, 123, "x", "trailing")

	require.Len(t, h.records, 1)
	assert.Equal(t, map[string]string{"ok": "1"}, h.records[0].Attrs)
}

func TestErrorsAndTypedNils(t *testing.T) {
	h := newMemHandler(slog.LevelDebug)

	var nilMap map[string]int

	_ = Error(slog.New(h)).Log("error", errors.New("boom"), "m", nilMap)

	require.Len(t, h.records, 1)
	assert.Equal(t, "boom", h.records[0].Attrs["error"])
	assert.Equal(t, "<nil>", h.records[0].Attrs["m"])
}

func TestWithContextPropagatesToHandler(t *testing.T) {
	type ctxKey struct{}

	h := newMemHandler(slog.LevelDebug)
	ctx := context.WithValue(context.Background(), ctxKey{}, "val")

	_ = WithContext(ctx, slog.New(h)).Log("k", "v")

	require.Len(t, h.records, 1)
	assert.Equal(t, "val", h.records[0].Ctx.Value(ctxKey{}))
}

func TestNilLogger(t *testing.T) {
	assert.NoError(t, Info(nil).Log("msg", "ignored"))
}
