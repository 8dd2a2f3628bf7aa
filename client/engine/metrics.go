package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one harness run. They live on their own
// registry so tests and parallel runs never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	// AttemptsTotal counts HTTP attempts by status code ("error" for transport failures).
	AttemptsTotal *prometheus.CounterVec

	// OutcomesTotal counts registry entries by outcome tag.
	OutcomesTotal *prometheus.CounterVec

	AttemptDuration prometheus.Histogram
	RetryAfter      prometheus.Histogram
	ActiveWorkers   prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratebench_attempts_total",
			Help: "Number of HTTP attempts by response status.",
		}, []string{"status"}),
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratebench_outcomes_total",
			Help: "Number of registry entries by outcome.",
		}, []string{"outcome"}),
		AttemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratebench_attempt_duration_seconds",
			Help:    "Duration of HTTP attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		RetryAfter: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratebench_retry_after_seconds",
			Help:    "Delays requested by the server with retry-after.",
			Buckets: []float64{0, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ratebench_active_workers",
			Help: "Workers that have not reached a terminal outcome yet.",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt records one attempt.
func (m *Metrics) ObserveAttempt(res AttemptResult) {
	if m == nil {
		return
	}

	status := "error"
	if res.Err == nil {
		status = strconv.Itoa(res.StatusCode)
	}

	m.AttemptsTotal.WithLabelValues(status).Inc()
	m.AttemptDuration.Observe(res.Latency.Seconds())

	if res.RateLimited() && res.RetryAfterErr == nil {
		m.RetryAfter.Observe(res.RetryAfter.Seconds())
	}
}

// ObserveOutcome records one registry entry.
func (m *Metrics) ObserveOutcome(outcome Outcome) {
	if m == nil {
		return
	}

	m.OutcomesTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.ActiveWorkers.Inc()
	}
}

func (m *Metrics) WorkerDone() {
	if m != nil {
		m.ActiveWorkers.Dec()
	}
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve runs a /metrics endpoint on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	level.Info(logger).Log(definitions.LogKeyMsg, "Serving metrics", definitions.LogKeyAddress, ln.Addr().String())

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err = srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
