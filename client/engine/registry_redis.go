package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores each collection as a Redis list, so harness processes on several
// hosts can feed one registry when they share a run id.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	runID  string
	ttl    time.Duration
}

// NewRedisRegistry wraps an existing client. ttl <= 0 keeps the lists forever.
func NewRedisRegistry(client redis.UniversalClient, prefix string, runID string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix, runID: runID, ttl: ttl}
}

func NewRedisRegistryFromConfig(cfg RegistryConfig, runID string) *RedisRegistry {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddress},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return NewRedisRegistry(client, cfg.RedisPrefix, runID, cfg.RedisTTL)
}

// Key returns the list key of outcome.
func (r *RedisRegistry) Key(outcome Outcome) string {
	return r.prefix + r.runID + ":" + string(outcome)
}

func (r *RedisRegistry) Append(ctx context.Context, outcome Outcome, worker int) error {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return err
	}

	key := r.Key(outcome)

	// EXPIRE rides along with every push, so a TTL lost once is set again.
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, worker)

		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", outcome, err)
	}

	return nil
}

func (r *RedisRegistry) List(ctx context.Context, outcome Outcome) ([]int, error) {
	values, err := r.client.LRange(ctx, r.Key(outcome), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", outcome, err)
	}

	workers := make([]int, 0, len(values))

	for _, v := range values {
		worker, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("list %s: bad entry %q: %w", outcome, v, err)
		}

		workers = append(workers, worker)
	}

	return workers, nil
}

func (r *RedisRegistry) Snapshot(ctx context.Context) (Snapshot, error) {
	return snapshotFrom(ctx, r)
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

var _ OutcomeRegistry = (*RedisRegistry)(nil)
