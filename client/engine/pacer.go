package engine

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer caps the request rate shared by all workers. A nil *Pacer never blocks.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a new Pacer.
func NewPacer(rps float64, burst int) *Pacer {
	if rps <= 0 {
		rps = 1
	}

	if burst < 1 {
		burst = 1
	}

	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// NewPacerFromConfig returns nil when no rate limit is configured.
func NewPacerFromConfig(cfg *Config) *Pacer {
	if cfg.RPS <= 0 {
		return nil
	}

	return NewPacer(cfg.RPS, cfg.EffectiveBurst())
}

// Wait blocks until the next attempt may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}

	return p.limiter.Wait(ctx)
}

// RPS returns the configured rate, 0 when unpaced.
func (p *Pacer) RPS() float64 {
	if p == nil {
		return 0
	}

	return float64(p.limiter.Limit())
}
