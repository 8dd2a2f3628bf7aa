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

package metrics

import (
	"strconv"

	"github.com/croessner/ratebench/server/stats"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMiddleware is a Gin middleware that counts requests by route and status and times them by route.
// Unmatched routes are recorded under "unknown" to keep the label set bounded.
func PrometheusMiddleware(m *stats.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		path := ctx.FullPath()
		if path == "" {
			path = "unknown"
		}

		timer := prometheus.NewTimer(m.HttpResponseTimeSeconds.WithLabelValues(path))

		ctx.Next()

		timer.ObserveDuration()
		m.HttpRequestsTotal.WithLabelValues(path, strconv.Itoa(ctx.Writer.Status())).Inc()
	}
}
