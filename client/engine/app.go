package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log/level"
	"github.com/segmentio/ksuid"
)

// RunID names one harness run. Registry keys and the JSON report carry it.
type RunID string

// NewRunID returns the configured run id or a fresh ksuid.
func NewRunID(cfg *Config) RunID {
	if cfg.RunID != "" {
		return RunID(cfg.RunID)
	}

	return RunID(ksuid.New().String())
}

func (r RunID) String() string {
	return string(r)
}

// App fans out the configured number of workers and collects their outcomes.
type App struct {
	Config    *Config
	Logger    *slog.Logger
	Registry  OutcomeRegistry
	Collector StatsCollector
	Metrics   *Metrics
	Client    Requester
	Pacer     *Pacer
	RunID     RunID

	sleep    SleepFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  bool
	stopOnce sync.Once
	results  []WorkerResult
}

func NewApp(
	cfg *Config,
	logger *slog.Logger,
	registry OutcomeRegistry,
	collector StatsCollector,
	metrics *Metrics,
	client Requester,
	pacer *Pacer,
	runID RunID,
) *App {
	return &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  registry,
		Collector: collector,
		Metrics:   metrics,
		Client:    client,
		Pacer:     pacer,
		RunID:     runID,
		sleep:     sleepContext,
	}
}

// SetSleep replaces the function workers use to honor delays.
func (a *App) SetSleep(fn SleepFunc) {
	a.sleep = fn
}

// Stop cancels a running Run. Workers that are still busy end as retries_exhausted.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		cancel := a.cancel
		a.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	})
}

// NewWorker prepares worker id with the app's collaborators.
func (a *App) NewWorker(id int) *Worker {
	return &Worker{
		ID:        id,
		config:    a.Config,
		client:    a.Client,
		registry:  a.Registry,
		collector: a.Collector,
		metrics:   a.Metrics,
		pacer:     a.Pacer,
		sleep:     a.sleep,
		logger:    a.Logger.With(definitions.LogKeyRunID, a.RunID.String(), definitions.LogKeyWorker, id),
	}
}

// Run starts workers [0, Workers) at once, waits for all of them and returns the summary.
// The only errors are registry read failures after the join.
func (a *App) Run(ctx context.Context) (*Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancel = cancel

	if a.stopped {
		cancel()
	}

	a.mu.Unlock()

	n := a.Config.Workers
	a.results = make([]WorkerResult, n)

	if a.Config.Metrics.Listen != "" && a.Metrics != nil {
		go func() {
			if err := a.Metrics.Serve(ctx, a.Config.Metrics.Listen, a.Logger); err != nil {
				level.Error(a.Logger).Log(definitions.LogKeyMsg, "Metrics endpoint failed", definitions.LogKeyError, err)
			}
		}()
	}

	level.Info(a.Logger).Log(
		definitions.LogKeyMsg, "Starting workers",
		definitions.LogKeyRunID, a.RunID,
		definitions.LogKeyEndpoint, a.Config.Endpoint,
		"workers", n,
		"max_retries", a.Config.MaxRetries,
		"rps", a.Pacer.RPS(),
	)

	started := time.Now()

	for id := range n {
		worker := a.NewWorker(id)

		a.wg.Add(1)

		go func() {
			defer a.wg.Done()

			// Each goroutine owns its slot, no lock needed.
			a.results[id] = worker.Run(ctx)
		}()
	}

	a.wg.Wait()

	elapsed := time.Since(started)

	// The registry must be read even after Stop cancelled ctx.
	snap, err := a.Registry.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("read outcome registry: %w", err)
	}

	summary := &Summary{
		RunID:    a.RunID,
		Workers:  n,
		Started:  started,
		Elapsed:  elapsed,
		Outcomes: snap,
		Results:  a.results,
		Stats:    a.Collector.Snapshot(),
	}

	summary.Histogram = func(w io.Writer, width int, p palette) {
		WriteLatencyHistogram(w, summary.Stats, a.Collector.Buckets(), width, p)
	}

	level.Info(a.Logger).Log(
		definitions.LogKeyMsg, "All workers finished",
		definitions.LogKeyRunID, a.RunID,
		definitions.LogKeyElapsed, elapsed,
		"succeeded", len(snap.Success),
		"exhausted", len(snap.RetriesExhausted),
	)

	return summary, nil
}
