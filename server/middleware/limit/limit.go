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

package limit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log/level"
	"github.com/croessner/ratebench/server/model"
	"github.com/croessner/ratebench/server/stats"

	"github.com/gin-gonic/gin"
)

// StatusClientClosedRequest is logged for requests the client gave up on.
const StatusClientClosedRequest = 499

// LimitCounter tracks the current number of requests in flight and rejects new ones above a maximum.
type LimitCounter struct {
	// MaxConnections defines the maximum number of concurrent requests allowed. Zero disables the cap.
	MaxConnections int32

	// CurrentConnections tracks the current number of requests in flight.
	CurrentConnections atomic.Int32

	metrics *stats.Metrics
}

// NewLimitCounter creates a new LimitCounter. metrics may be nil.
func NewLimitCounter(maxConnections int32, metrics *stats.Metrics) *LimitCounter {
	return &LimitCounter{
		MaxConnections: maxConnections,
		metrics:        metrics,
	}
}

// Middleware limits the number of concurrent requests handled by the server based on MaxConnections.
func (lc *LimitCounter) Middleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx *gin.Context) {
		if ctx.FullPath() == "/ping" || ctx.FullPath() == "/metrics" {
			ctx.Next()

			return
		}

		current := lc.CurrentConnections.Add(1)

		defer func() {
			current := lc.CurrentConnections.Add(-1)
			if lc.metrics != nil {
				lc.metrics.CurrentRequests.Set(float64(current))
			}
		}()

		if lc.metrics != nil {
			lc.metrics.CurrentRequests.Set(float64(current))
		}

		if lc.MaxConnections > 0 && current > lc.MaxConnections {
			if lc.metrics != nil {
				lc.metrics.RateLimitedTotal.WithLabelValues("concurrency").Inc()
			}

			ctx.Header(definitions.HeaderRetryAfter, "1")
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, model.NewErrorResponse(
				http.StatusTooManyRequests,
				"Too many concurrent requests",
				model.CodeRateLimitExceeded,
			))

			return
		}

		start := time.Now()

		ctx.Next()

		if errors.Is(ctx.Request.Context().Err(), context.Canceled) {
			level.Warn(logger).Log(
				definitions.LogKeyRequestID, ctx.GetString(definitions.CtxRequestIDKey),
				definitions.LogKeyMsg, "Client closed request",
				definitions.LogKeyUriPath, ctx.FullPath(),
				definitions.LogKeyHTTPStatus, StatusClientClosedRequest,
			)

			return
		}

		if duration := time.Since(start); duration > 1500*time.Millisecond {
			level.Warn(logger).Log(
				definitions.LogKeyRequestID, ctx.GetString(definitions.CtxRequestIDKey),
				definitions.LogKeyMsg, "Long-running request detected",
				definitions.LogKeyUriPath, ctx.FullPath(),
				definitions.LogKeyLatency, duration,
			)
		}
	}
}
