package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/errors"
	"github.com/croessner/ratebench/server/log/level"
)

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WorkerResult summarizes one worker. Outcome is always terminal.
type WorkerResult struct {
	Worker      int           `json:"worker"`
	Outcome     Outcome       `json:"outcome"`
	Attempts    int           `json:"attempts"`
	RateLimited int           `json:"rate_limited"`
	OtherErrors int           `json:"other_errors"`
	RetryWait   time.Duration `json:"retry_wait"`
	Elapsed     time.Duration `json:"elapsed"`
	Reason      string        `json:"reason,omitempty"`
}

// Worker runs the retry protocol for one identity. A Worker is used once.
type Worker struct {
	ID int

	config    *Config
	client    Requester
	registry  OutcomeRegistry
	collector StatsCollector
	metrics   *Metrics
	pacer     *Pacer
	sleep     SleepFunc
	logger    *slog.Logger
}

// Run issues attempts until one succeeds or the retry budget is gone. It never panics and
// never returns an error; everything ends up in the registry and the result.
func (w *Worker) Run(ctx context.Context) (res WorkerResult) {
	res.Worker = w.ID
	start := time.Now()

	w.metrics.WorkerStarted()

	defer func() {
		if r := recover(); r != nil {
			err := errors.ErrWorkerPanic.WithWorker(w.ID).WithDetail(fmt.Sprint(r))

			level.Error(w.logger).Log(
				definitions.LogKeyMsg, "Worker panicked",
				definitions.LogKeyError, err,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)

			// A panic after the terminal record must not produce a second one.
			if !res.Outcome.Terminal() {
				res.Outcome = OutcomeRetriesExhausted
				res.Reason = fmt.Sprintf("%s: %v", err.Error(), r)
				w.record(ctx, OutcomeRetriesExhausted)
			}
		}

		res.Elapsed = time.Since(start)

		w.metrics.WorkerDone()

		level.Info(w.logger).Log(
			definitions.LogKeyMsg, definitions.Separator,
			definitions.LogKeyOutcome, res.Outcome,
			definitions.LogKeyAttempt, res.Attempts,
			definitions.LogKeyElapsed, res.Elapsed,
		)
	}()

	if w.config.WorkerTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, w.config.WorkerTimeout)
		defer cancel()
	}

	level.Info(w.logger).Log(definitions.LogKeyMsg, fmt.Sprintf("Worker %d received a job.", w.ID))

	retries := 0

	r, err := w.attempt(ctx, &res)
	if err != nil {
		return w.finish(ctx, res, OutcomeRetriesExhausted, err.Error())
	}

	for !r.OK() {
		if retries > w.config.MaxRetries {
			level.Warn(w.logger).Log(definitions.LogKeyMsg, "Out of retries!", definitions.LogKeyRetries, retries)

			return w.finish(ctx, res, OutcomeRetriesExhausted, "retry ceiling reached")
		}

		if err := ctx.Err(); err != nil {
			return w.finish(ctx, res, OutcomeRetriesExhausted, err.Error())
		}

		if r.RateLimited() {
			res.RateLimited++
			w.record(ctx, OutcomeRateLimited)

			delay := r.RetryAfter

			if r.RetryAfterErr != nil {
				delay = w.config.DefaultRetryAfter

				level.Warn(w.logger).Log(
					definitions.LogKeyMsg, "Unusable retry-after header, using default delay",
					definitions.LogKeyError, r.RetryAfterErr,
					definitions.LogKeyRetryAfter, delay,
				)
			}

			level.Debug(w.logger).Log(definitions.LogKeyMsg, "Rate limited", definitions.LogKeyHeaders, fmt.Sprint(r.Header))

			if w.config.MaxRetryWait > 0 && res.RetryWait+delay > w.config.MaxRetryWait {
				reason := fmt.Errorf("%w: waited %s, next delay %s", errors.ErrRetryBudget, res.RetryWait, delay)

				return w.finish(ctx, res, OutcomeRetriesExhausted, reason.Error())
			}

			level.Info(w.logger).Log(
				definitions.LogKeyMsg, fmt.Sprintf("Worker %d retrying again after %s. N retries: %d", w.ID, delay, retries+1),
				definitions.LogKeyRetryAfter, delay,
			)

			if err := w.sleep(ctx, delay); err != nil {
				return w.finish(ctx, res, OutcomeRetriesExhausted, err.Error())
			}

			res.RetryWait += delay
			w.collector.AddRetryWait(delay)
		} else {
			res.OtherErrors++
			w.record(ctx, OutcomeOtherError)

			if w.config.ErrorBackoff > 0 {
				if err := w.sleep(ctx, w.config.ErrorBackoff); err != nil {
					return w.finish(ctx, res, OutcomeRetriesExhausted, err.Error())
				}
			}
		}

		if r, err = w.attempt(ctx, &res); err != nil {
			return w.finish(ctx, res, OutcomeRetriesExhausted, err.Error())
		}

		retries++
	}

	return w.finish(ctx, res, OutcomeSuccess, "")
}

// attempt waits for the pacer, performs one request and logs its status. An error means
// the pacer gave up before the deadline and no request was sent.
func (w *Worker) attempt(ctx context.Context, res *WorkerResult) (AttemptResult, error) {
	if err := w.pacer.Wait(ctx); err != nil {
		level.Debug(w.logger).Log(definitions.LogKeyMsg, "Pacer wait aborted", definitions.LogKeyError, err)

		return AttemptResult{}, err
	}

	res.Attempts++

	r := w.client.Do(ctx)

	w.collector.AddAttempt(r)
	w.metrics.ObserveAttempt(r)

	keyvals := []any{
		definitions.LogKeyAttempt, res.Attempts,
		definitions.LogKeyHTTPStatus, r.StatusCode,
		definitions.LogKeyLatency, r.Latency,
		definitions.LogKeyRequestID, r.RequestID,
	}

	switch {
	case r.Err != nil:
		level.Warn(w.logger).Log(append(keyvals, definitions.LogKeyMsg, "Attempt failed", definitions.LogKeyError, r.Err)...)
	case r.OK() || r.RateLimited():
		level.Info(w.logger).Log(append(keyvals, definitions.LogKeyMsg, "Attempt finished")...)
	default:
		level.Warn(w.logger).Log(append(keyvals, definitions.LogKeyMsg, "Attempt returned an error status", definitions.LogKeyBody, string(r.Body))...)
	}

	return r, nil
}

func (w *Worker) finish(ctx context.Context, res WorkerResult, outcome Outcome, reason string) WorkerResult {
	res.Outcome = outcome
	res.Reason = reason

	w.record(ctx, outcome)

	return res
}

// record appends to the registry. The registry must see terminal entries even when the
// worker's own context has expired.
func (w *Worker) record(ctx context.Context, outcome Outcome) {
	w.metrics.ObserveOutcome(outcome)

	if err := w.registry.Append(context.WithoutCancel(ctx), outcome, w.ID); err != nil {
		level.Error(w.logger).Log(
			definitions.LogKeyMsg, "Cannot record outcome",
			definitions.LogKeyOutcome, outcome,
			definitions.LogKeyError, err,
		)
	}
}
