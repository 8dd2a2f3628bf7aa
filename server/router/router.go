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

package router

import (
	"log/slog"

	"github.com/croessner/ratebench/server/config"
	v1 "github.com/croessner/ratebench/server/handler/api/v1"
	"github.com/croessner/ratebench/server/middleware/auth"
	"github.com/croessner/ratebench/server/middleware/limit"
	"github.com/croessner/ratebench/server/middleware/logging"
	mdmet "github.com/croessner/ratebench/server/middleware/metrics"
	"github.com/croessner/ratebench/server/stats"

	"github.com/gin-gonic/gin"
)

// Router is a small builder around gin.Engine to assemble middlewares and routes.
type Router struct {
	Engine  *gin.Engine
	Cfg     *config.Mock
	Logger  *slog.Logger
	Metrics *stats.Metrics
}

// NewRouter creates a new Router builder with a fresh gin.Engine.
func NewRouter(cfg *config.Mock, logger *slog.Logger, metrics *stats.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{Engine: gin.New(), Cfg: cfg, Logger: logger, Metrics: metrics}
}

// WithRecovery adds gin.Recovery middleware to recover from panics.
func (r *Router) WithRecovery() *Router {
	r.Engine.Use(gin.Recovery())

	return r
}

// WithLogging installs the request logger.
func (r *Router) WithLogging() *Router {
	r.Engine.Use(logging.LoggerMiddleware(r.Logger))

	return r
}

// WithMetricsMiddleware enables Prometheus request metrics middleware.
func (r *Router) WithMetricsMiddleware() *Router {
	r.Engine.Use(mdmet.PrometheusMiddleware(r.Metrics))

	return r
}

// WithConcurrencyLimit caps the requests in flight.
func (r *Router) WithConcurrencyLimit() *Router {
	r.Engine.Use(limit.NewLimitCounter(int32(r.Cfg.MaxConcurrent), r.Metrics).Middleware(r.Logger))

	return r
}

// WithBearerAuth rejects requests without an accepted bearer token.
func (r *Router) WithBearerAuth() *Router {
	r.Engine.Use(auth.BearerAuthMiddleware(r.Cfg.TokenAllowed))

	return r
}

// WithRateLimit gives every bearer token its own token bucket. It must follow WithBearerAuth.
func (r *Router) WithRateLimit() *Router {
	limiter := limit.NewTokenRateLimiter(limit.Rate(r.Cfg.RPS), r.Cfg.Burst, r.Cfg.LimiterTTL, r.Metrics)

	r.Engine.Use(limiter.Middleware())

	return r
}

// WithHealth registers the health endpoint.
func (r *Router) WithHealth() *Router {
	r.Engine.GET("/ping", HealthCheck(r.Logger))

	return r
}

// WithMetricsRoute registers GET /metrics.
func (r *Router) WithMetricsRoute() *Router {
	r.Engine.GET("/metrics", gin.WrapH(r.Metrics.Handler()))

	return r
}

// WithProcess registers the processing endpoint.
func (r *Router) WithProcess() *Router {
	v1.NewProcessAPI(r.Cfg, r.Logger).Register(r.Engine)

	return r
}

// Build returns the underlying gin.Engine.
func (r *Router) Build() *gin.Engine {
	return r.Engine
}

// NewMockRouter assembles the complete mock processing API.
func NewMockRouter(cfg *config.Mock, logger *slog.Logger, metrics *stats.Metrics) *gin.Engine {
	return NewRouter(cfg, logger, metrics).
		WithRecovery().
		WithLogging().
		WithMetricsMiddleware().
		WithConcurrencyLimit().
		WithBearerAuth().
		WithRateLimit().
		WithHealth().
		WithMetricsRoute().
		WithProcess().
		Build()
}
