package engine

import (
	"sync/atomic"
	"time"
)

// Stats is a read-only snapshot of attempt level counters and latency percentiles.
type Stats struct {
	Attempts      int64 `json:"attempts"`
	Succeeded     int64 `json:"succeeded"`
	RateLimited   int64 `json:"rate_limited"`
	OtherStatus   int64 `json:"other_status"`
	TransportErrs int64 `json:"transport_errors"`

	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`

	Elapsed       time.Duration `json:"elapsed"`
	RetryWait     time.Duration `json:"retry_wait"`
	BytesReceived int64         `json:"bytes_received"`
	StatusCounts  map[int]int64 `json:"status_counts"`
}

// StatsCollector handles atomic updates to counters and latency tracking.
type StatsCollector interface {
	AddAttempt(res AttemptResult)
	AddRetryWait(d time.Duration)
	Snapshot() Stats
	Reset()
	Buckets() []atomic.Int64
	Overflow() int64
}
