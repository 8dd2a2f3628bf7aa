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

// Package stats holds the Prometheus collectors of the mock processing API.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors of one mock API instance on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// HttpRequestsTotal counts answered requests by route and status code.
	HttpRequestsTotal *prometheus.CounterVec

	// HttpResponseTimeSeconds observes the duration of requests by route.
	HttpResponseTimeSeconds *prometheus.HistogramVec

	// RateLimitedTotal counts 429 answers by scope ("token" or "concurrency").
	RateLimitedTotal *prometheus.CounterVec

	// CurrentRequests is the number of requests in flight.
	CurrentRequests prometheus.Gauge

	// ActiveLimiters is the number of bearer tokens with a live token bucket.
	ActiveLimiters prometheus.Gauge
}

// NewMetrics creates the collectors together with the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HttpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Number of HTTP requests.",
		}, []string{"path", "status"}),
		HttpResponseTimeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_response_time_seconds",
			Help: "Duration of HTTP requests.",
		}, []string{"path"}),
		RateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Number of requests answered with 429.",
		}, []string{"scope"}),
		CurrentRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "current_requests",
			Help: "Number of requests in flight.",
		}),
		ActiveLimiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_limiters",
			Help: "Number of bearer tokens with a token bucket.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
