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
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/model"
	"github.com/croessner/ratebench/server/stats"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// TokenRateLimiter gives every bearer token its own token bucket. Buckets of tokens that
// stay idle longer than the TTL are dropped, so a returning token starts with a full bucket.
type TokenRateLimiter struct {
	buckets *cache.Cache
	mu      sync.Mutex
	r       rate.Limit
	b       int
	metrics *stats.Metrics
	now     func() time.Time
}

// NewTokenRateLimiter creates a new TokenRateLimiter.
// r: Number of tokens per second.
// b: Maximum burst size.
// metrics may be nil.
func NewTokenRateLimiter(r rate.Limit, b int, ttl time.Duration, metrics *stats.Metrics) *TokenRateLimiter {
	return &TokenRateLimiter{
		buckets: cache.New(ttl, 2*ttl),
		r:       r,
		b:       b,
		metrics: metrics,
		now:     time.Now,
	}
}

// Rate is a helper to convert float64 to rate.Limit.
func Rate(r float64) rate.Limit {
	return rate.Limit(r)
}

// GetLimiter returns the bucket of key, creating it on first use. Every call pushes the
// expiry of the bucket forward.
func (t *TokenRateLimiter) GetLimiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	var limiter *rate.Limiter

	if v, found := t.buckets.Get(key); found {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(t.r, t.b)
	}

	t.buckets.SetDefault(key, limiter)

	if t.metrics != nil {
		t.metrics.ActiveLimiters.Set(float64(t.buckets.ItemCount()))
	}

	return limiter
}

// Admit takes one token from the bucket of key. When the bucket is empty it returns false
// and the whole seconds until a token becomes available, which is never less than one.
func (t *TokenRateLimiter) Admit(key string) (bool, int) {
	limiter := t.GetLimiter(key)
	now := t.now()

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 1
	}

	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}

	// The caller is turned away, so the token must go back into the bucket.
	reservation.CancelAt(now)

	return false, max(int(math.Ceil(delay.Seconds())), 1)
}

// Middleware returns a gin middleware that rate limits by the bearer token set by the auth
// middleware, falling back to the client IP.
func (t *TokenRateLimiter) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.FullPath() == "/ping" || ctx.FullPath() == "/metrics" {
			ctx.Next()

			return
		}

		key := ctx.GetString(definitions.CtxTokenKey)
		if key == "" {
			key = ctx.ClientIP()
		}

		ok, retryAfter := t.Admit(key)
		if !ok {
			if t.metrics != nil {
				t.metrics.RateLimitedTotal.WithLabelValues("token").Inc()
			}

			ctx.Header(definitions.HeaderRetryAfter, strconv.Itoa(retryAfter))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, model.NewErrorResponse(
				http.StatusTooManyRequests,
				"You have exceeded the rate limit",
				model.CodeRateLimitExceeded,
			))

			return
		}

		ctx.Next()
	}
}
