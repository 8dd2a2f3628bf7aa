package engine

import (
	"context"
	"log/slog"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log/level"
	"go.uber.org/fx"
)

// Module provides the fx module for the client engine. It expects *Config and *slog.Logger
// to be supplied by the caller.
var Module = fx.Module("engine",
	fx.Provide(
		NewRunID,
		NewTokenSourceFromConfig,
		NewPayloadBuilder,
		fx.Annotate(NewProcessClient, fx.As(new(Requester))),
		NewPacerFromConfig,
		NewRegistry,
		NewMetrics,
		NewStatsCollector,
		NewApp,
	),
)

// NewRegistry provides the configured OutcomeRegistry and closes it when fx stops.
func NewRegistry(lc fx.Lifecycle, cfg *Config, runID RunID, logger *slog.Logger) (OutcomeRegistry, error) {
	registry, err := NewRegistryFromConfig(cfg, runID)
	if err != nil {
		return nil, err
	}

	level.Debug(logger).Log(
		definitions.LogKeyMsg, "Outcome registry ready",
		definitions.LogKeyBackend, cfg.Registry.Backend,
		definitions.LogKeyRunID, runID,
	)

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return registry.Close()
		},
	})

	return registry, nil
}
