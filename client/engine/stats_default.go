package engine

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"
)

// maxLatencyMs is the last millisecond bucket; slower attempts land in the overflow counter.
const maxLatencyMs = 300000

const maxStatusCode = 600

type DefaultStatsCollector struct {
	attempts      atomic.Int64
	succeeded     atomic.Int64
	rateLimited   atomic.Int64
	otherStatus   atomic.Int64
	transportErrs atomic.Int64
	retryWaitNs   atomic.Int64
	bytesRecv     atomic.Int64
	latBuckets    [maxLatencyMs + 1]atomic.Int64
	latOverflow   atomic.Int64
	startNs       atomic.Int64
	minLat        atomic.Int64 // in nanoseconds
	maxLat        atomic.Int64 // in nanoseconds
	statusCounts  [maxStatusCode]atomic.Int64
}

func NewDefaultStatsCollector() *DefaultStatsCollector {
	s := &DefaultStatsCollector{}
	s.Reset()

	return s
}

// NewStatsCollector provides a StatsCollector implementation.
func NewStatsCollector() StatsCollector {
	return NewDefaultStatsCollector()
}

func (s *DefaultStatsCollector) AddAttempt(res AttemptResult) {
	s.attempts.Add(1)

	switch {
	case res.Err != nil:
		s.transportErrs.Add(1)
	case res.StatusCode == http.StatusOK:
		s.succeeded.Add(1)
	case res.StatusCode == http.StatusTooManyRequests:
		s.rateLimited.Add(1)
	default:
		s.otherStatus.Add(1)
	}

	if res.StatusCode > 0 && res.StatusCode < maxStatusCode {
		s.statusCounts[res.StatusCode].Add(1)
	}

	s.bytesRecv.Add(res.BodySize)

	latNs := res.Latency.Nanoseconds()
	for {
		cur := s.minLat.Load()
		if latNs >= cur || s.minLat.CompareAndSwap(cur, latNs) {
			break
		}
	}

	for {
		cur := s.maxLat.Load()
		if latNs <= cur || s.maxLat.CompareAndSwap(cur, latNs) {
			break
		}
	}

	ms := max(res.Latency.Milliseconds(), 0)
	if ms > maxLatencyMs {
		s.latOverflow.Add(1)
	} else {
		s.latBuckets[ms].Add(1)
	}
}

func (s *DefaultStatsCollector) AddRetryWait(d time.Duration) {
	s.retryWaitNs.Add(int64(d))
}

func (s *DefaultStatsCollector) Snapshot() Stats {
	stats := Stats{
		Attempts:      s.attempts.Load(),
		Succeeded:     s.succeeded.Load(),
		RateLimited:   s.rateLimited.Load(),
		OtherStatus:   s.otherStatus.Load(),
		TransportErrs: s.transportErrs.Load(),
		RetryWait:     time.Duration(s.retryWaitNs.Load()),
		BytesReceived: s.bytesRecv.Load(),
		Elapsed:       time.Since(time.Unix(0, s.startNs.Load())),
		StatusCounts:  make(map[int]int64),
	}

	for i := range maxStatusCode {
		if v := s.statusCounts[i].Load(); v > 0 {
			stats.StatusCounts[i] = v
		}
	}

	stats.Min = time.Duration(s.minLat.Load())
	if stats.Min == math.MaxInt64 {
		stats.Min = 0
	}

	stats.Max = time.Duration(s.maxLat.Load())

	stats.P50, stats.P90, stats.P95, stats.P99, stats.Avg = s.computePercentiles()

	return stats
}

func (s *DefaultStatsCollector) Buckets() []atomic.Int64 {
	return s.latBuckets[:]
}

func (s *DefaultStatsCollector) Overflow() int64 {
	return s.latOverflow.Load()
}

func (s *DefaultStatsCollector) computePercentiles() (p50, p90, p95, p99, avg time.Duration) {
	var totalMs, count int64

	// Copy first so all percentiles see the same counts.
	buckets := make([]int64, maxLatencyMs+1)
	for i := range buckets {
		v := s.latBuckets[i].Load()
		buckets[i] = v
		count += v
		totalMs += v * int64(i)
	}

	overflow := s.latOverflow.Load()
	count += overflow
	totalMs += overflow * (maxLatencyMs + 1)

	if count == 0 {
		return 0, 0, 0, 0, 0
	}

	avg = time.Duration(totalMs/count) * time.Millisecond

	percentile := func(p float64) time.Duration {
		target := int64(math.Ceil(float64(count) * p))

		var current int64

		for i, v := range buckets {
			current += v
			if current >= target {
				return time.Duration(i) * time.Millisecond
			}
		}

		return time.Duration(maxLatencyMs) * time.Millisecond
	}

	return percentile(0.50), percentile(0.90), percentile(0.95), percentile(0.99), avg
}

func (s *DefaultStatsCollector) Reset() {
	s.attempts.Store(0)
	s.succeeded.Store(0)
	s.rateLimited.Store(0)
	s.otherStatus.Store(0)
	s.transportErrs.Store(0)
	s.retryWaitNs.Store(0)
	s.bytesRecv.Store(0)

	for i := range s.latBuckets {
		s.latBuckets[i].Store(0)
	}

	for i := range s.statusCounts {
		s.statusCounts[i].Store(0)
	}

	s.latOverflow.Store(0)
	s.minLat.Store(math.MaxInt64)
	s.maxLat.Store(0)
	s.startNs.Store(time.Now().UnixNano())
}

var _ StatsCollector = (*DefaultStatsCollector)(nil)
