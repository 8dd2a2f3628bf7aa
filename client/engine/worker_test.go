package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/croessner/ratebench/server/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRequester answers attempt n (0-based) with script(n).
type scriptedRequester struct {
	mu     sync.Mutex
	calls  int
	script func(n int) AttemptResult
}

func (s *scriptedRequester) Do(_ context.Context) AttemptResult {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()

	return s.script(n)
}

func (s *scriptedRequester) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func sequence(results ...AttemptResult) func(n int) AttemptResult {
	return func(n int) AttemptResult {
		if n >= len(results) {
			return results[len(results)-1]
		}

		return results[n]
	}
}

func status(code int) AttemptResult {
	return AttemptResult{StatusCode: code}
}

func throttled(after time.Duration) AttemptResult {
	return AttemptResult{StatusCode: http.StatusTooManyRequests, RetryAfter: after}
}

// sleepRecorder replaces real sleeping in tests.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()

	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.delays...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Token = "test-token"
	cfg.Workers = 4

	return cfg
}

func newTestWorker(cfg *Config, id int, req Requester, sleep SleepFunc) (*Worker, *MemoryRegistry) {
	registry := NewMemoryRegistry()

	return &Worker{
		ID:        id,
		config:    cfg,
		client:    req,
		registry:  registry,
		collector: NewDefaultStatsCollector(),
		sleep:     sleep,
		logger:    discardLogger(),
	}, registry
}

func snapshotOf(t *testing.T, r OutcomeRegistry) Snapshot {
	t.Helper()

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	return snap
}

func TestWorkerSuccessFirstAttempt(t *testing.T) {
	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(status(http.StatusOK))}
	w, registry := newTestWorker(testConfig(), 7, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, req.Calls())
	assert.Empty(t, sleeper.Delays())

	snap := snapshotOf(t, registry)
	assert.Equal(t, []int{7}, snap.Success)
	assert.Empty(t, snap.RateLimited)
	assert.Empty(t, snap.OtherError)
	assert.Empty(t, snap.RetriesExhausted)
}

func TestWorkerRateLimitedForever(t *testing.T) {
	cfg := testConfig()
	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(throttled(3 * time.Second))}
	w, registry := newTestWorker(cfg, 2, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeRetriesExhausted, res.Outcome)

	snap := snapshotOf(t, registry)

	// The response that trips the ceiling is not tallied as a hit.
	assert.Len(t, snap.RateLimited, cfg.MaxRetries+1)
	assert.Equal(t, []int{2}, snap.RetriesExhausted)
	assert.Empty(t, snap.Success)
	assert.Equal(t, cfg.MaxRetries+2, req.Calls())
	assert.Len(t, sleeper.Delays(), cfg.MaxRetries+1)
	assert.Equal(t, time.Duration(cfg.MaxRetries+1)*3*time.Second, res.RetryWait)
}

func TestWorkerCeilingIsConfigurable(t *testing.T) {
	for _, ceiling := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("ceiling=%d", ceiling), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRetries = ceiling

			sleeper := &sleepRecorder{}
			req := &scriptedRequester{script: sequence(throttled(time.Second))}
			w, registry := newTestWorker(cfg, 0, req, sleeper.Sleep)

			w.Run(context.Background())

			snap := snapshotOf(t, registry)
			assert.Len(t, snap.RateLimited, ceiling+1)
			assert.Len(t, snap.RetriesExhausted, 1)
		})
	}
}

func TestWorkerOtherErrorsThenSuccess(t *testing.T) {
	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(
		status(http.StatusInternalServerError),
		status(http.StatusInternalServerError),
		status(http.StatusOK),
	)}
	w, registry := newTestWorker(testConfig(), 5, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.OtherErrors)
	assert.Empty(t, sleeper.Delays())

	snap := snapshotOf(t, registry)
	assert.Equal(t, []int{5, 5}, snap.OtherError)
	assert.Equal(t, []int{5}, snap.Success)
	assert.Empty(t, snap.RateLimited)
}

func TestWorkerHonorsRetryAfterExactly(t *testing.T) {
	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(throttled(7*time.Second), status(http.StatusOK))}
	w, registry := newTestWorker(testConfig(), 1, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.Delays())
	assert.Equal(t, []int{1}, snapshotOf(t, registry).RateLimited)
}

func TestWorkerMalformedRetryAfterUsesDefault(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultRetryAfter = 4 * time.Second

	broken := AttemptResult{StatusCode: http.StatusTooManyRequests, RetryAfterErr: errors.ErrInvalidRetryAfter}

	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(broken, status(http.StatusOK))}
	w, registry := newTestWorker(cfg, 3, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []time.Duration{4 * time.Second}, sleeper.Delays())
	assert.Equal(t, []int{3}, snapshotOf(t, registry).RateLimited)
}

func TestWorkerTransportErrorIsRetried(t *testing.T) {
	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(
		AttemptResult{Err: errors.ErrTransport.WithDetail("connection refused")},
		status(http.StatusOK),
	)}
	w, registry := newTestWorker(testConfig(), 9, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)

	snap := snapshotOf(t, registry)
	assert.Equal(t, []int{9}, snap.OtherError)
	assert.Equal(t, []int{9}, snap.Success)
}

func TestWorkerErrorBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.ErrorBackoff = 2 * time.Second

	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(status(http.StatusBadGateway), status(http.StatusOK))}
	w, _ := newTestWorker(cfg, 0, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.Delays())
}

func TestWorkerRetryWaitBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetryWait = 5 * time.Second

	sleeper := &sleepRecorder{}
	req := &scriptedRequester{script: sequence(throttled(3 * time.Second))}
	w, registry := newTestWorker(cfg, 4, req, sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeRetriesExhausted, res.Outcome)
	assert.Contains(t, res.Reason, errors.ErrRetryBudget.Error())
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeper.Delays())

	snap := snapshotOf(t, registry)
	assert.Len(t, snap.RateLimited, 2)
	assert.Equal(t, []int{4}, snap.RetriesExhausted)
}

func TestWorkerTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerTimeout = 50 * time.Millisecond

	req := &scriptedRequester{script: sequence(throttled(time.Minute))}
	w, registry := newTestWorker(cfg, 6, req, sleepContext)

	start := time.Now()
	res := w.Run(context.Background())

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, OutcomeRetriesExhausted, res.Outcome)
	assert.Equal(t, context.DeadlineExceeded.Error(), res.Reason)
	assert.Equal(t, []int{6}, snapshotOf(t, registry).RetriesExhausted)
}

func TestWorkerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := &scriptedRequester{script: sequence(status(http.StatusServiceUnavailable))}
	w, registry := newTestWorker(testConfig(), 8, req, sleepContext)

	res := w.Run(ctx)

	assert.Equal(t, OutcomeRetriesExhausted, res.Outcome)

	snap := snapshotOf(t, registry)
	assert.Equal(t, []int{8}, snap.RetriesExhausted)
	assert.Empty(t, snap.Success)
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	req := &scriptedRequester{script: func(int) AttemptResult { panic("boom") }}
	w, registry := newTestWorker(testConfig(), 11, req, (&sleepRecorder{}).Sleep)

	var res WorkerResult

	assert.NotPanics(t, func() { res = w.Run(context.Background()) })
	assert.Equal(t, OutcomeRetriesExhausted, res.Outcome)
	assert.Contains(t, res.Reason, "boom")

	snap := snapshotOf(t, registry)
	assert.Equal(t, []int{11}, snap.RetriesExhausted)
	assert.Empty(t, snap.Success)
}

type failingRegistry struct {
	*MemoryRegistry
}

func (f failingRegistry) Append(context.Context, Outcome, int) error {
	return fmt.Errorf("registry down")
}

func TestWorkerSurvivesRegistryErrors(t *testing.T) {
	req := &scriptedRequester{script: sequence(status(http.StatusInternalServerError), status(http.StatusOK))}
	w, _ := newTestWorker(testConfig(), 0, req, (&sleepRecorder{}).Sleep)
	w.registry = failingRegistry{NewMemoryRegistry()}

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
}

func TestWorkerFeedsStats(t *testing.T) {
	req := &scriptedRequester{script: sequence(
		AttemptResult{StatusCode: http.StatusTooManyRequests, RetryAfter: time.Second, Latency: 20 * time.Millisecond},
		AttemptResult{StatusCode: http.StatusOK, Latency: 40 * time.Millisecond, BodySize: 512},
	)}
	w, _ := newTestWorker(testConfig(), 0, req, (&sleepRecorder{}).Sleep)

	w.Run(context.Background())

	stats := w.collector.Snapshot()
	assert.Equal(t, int64(2), stats.Attempts)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(1), stats.RateLimited)
	assert.Equal(t, int64(512), stats.BytesReceived)
	assert.Equal(t, time.Second, stats.RetryWait)
}
