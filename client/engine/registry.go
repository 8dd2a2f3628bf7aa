package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/errors"
)

// Outcome tags a registry entry.
type Outcome string

const (
	OutcomeSuccess          Outcome = definitions.OutcomeSuccess
	OutcomeRateLimited      Outcome = definitions.OutcomeRateLimited
	OutcomeRetriesExhausted Outcome = definitions.OutcomeRetriesExhausted
	OutcomeOtherError       Outcome = definitions.OutcomeOtherError
)

// Outcomes lists all tags in report order.
var Outcomes = []Outcome{OutcomeRateLimited, OutcomeRetriesExhausted, OutcomeOtherError, OutcomeSuccess}

// ParseOutcome converts a tag name into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !slices.Contains(Outcomes, o) {
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownOutcome, s)
	}

	return o, nil
}

// Terminal reports whether the outcome ends a worker.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeRetriesExhausted
}

func (o Outcome) String() string {
	return string(o)
}

// OutcomeRegistry collects worker indices per outcome. Append is safe for concurrent use;
// List and Snapshot are meant for after all workers joined.
type OutcomeRegistry interface {
	Append(ctx context.Context, outcome Outcome, worker int) error
	List(ctx context.Context, outcome Outcome) ([]int, error)
	Snapshot(ctx context.Context) (Snapshot, error)
	Close() error
}

// Snapshot is a copy of all four collections, each in append order.
type Snapshot struct {
	RateLimited      []int `json:"rate_limited"`
	RetriesExhausted []int `json:"retries_exhausted"`
	OtherError       []int `json:"other_error"`
	Success          []int `json:"success"`
}

// Get returns the collection for outcome.
func (s Snapshot) Get(outcome Outcome) []int {
	switch outcome {
	case OutcomeRateLimited:
		return s.RateLimited
	case OutcomeRetriesExhausted:
		return s.RetriesExhausted
	case OutcomeOtherError:
		return s.OtherError
	case OutcomeSuccess:
		return s.Success
	default:
		return nil
	}
}

func (s *Snapshot) set(outcome Outcome, workers []int) {
	switch outcome {
	case OutcomeRateLimited:
		s.RateLimited = workers
	case OutcomeRetriesExhausted:
		s.RetriesExhausted = workers
	case OutcomeOtherError:
		s.OtherError = workers
	case OutcomeSuccess:
		s.Success = workers
	}
}

// TerminalWorkers returns the sorted union of success and retries_exhausted.
func (s Snapshot) TerminalWorkers() []int {
	all := make([]int, 0, len(s.Success)+len(s.RetriesExhausted))
	all = append(all, s.Success...)
	all = append(all, s.RetriesExhausted...)

	slices.Sort(all)

	return all
}

func snapshotFrom(ctx context.Context, r OutcomeRegistry) (Snapshot, error) {
	var snap Snapshot

	for _, outcome := range Outcomes {
		workers, err := r.List(ctx, outcome)
		if err != nil {
			return Snapshot{}, err
		}

		snap.set(outcome, workers)
	}

	return snap, nil
}

// NewRegistryFromConfig builds the configured backend.
func NewRegistryFromConfig(cfg *Config, runID RunID) (OutcomeRegistry, error) {
	switch cfg.Registry.Backend {
	case "memory", "":
		return NewMemoryRegistry(), nil
	case "redis":
		return NewRedisRegistryFromConfig(cfg.Registry, string(runID)), nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownBackend, cfg.Registry.Backend)
	}
}

// MemoryRegistry keeps the collections in process memory.
type MemoryRegistry struct {
	mu    sync.Mutex
	lists map[Outcome][]int
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{lists: make(map[Outcome][]int, len(Outcomes))}
}

func (m *MemoryRegistry) Append(_ context.Context, outcome Outcome, worker int) error {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return err
	}

	m.mu.Lock()
	m.lists[outcome] = append(m.lists[outcome], worker)
	m.mu.Unlock()

	return nil
}

func (m *MemoryRegistry) List(_ context.Context, outcome Outcome) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.lists[outcome]), nil
}

func (m *MemoryRegistry) Snapshot(ctx context.Context) (Snapshot, error) {
	return snapshotFrom(ctx, m)
}

func (m *MemoryRegistry) Close() error {
	return nil
}

var _ OutcomeRegistry = (*MemoryRegistry)(nil)
