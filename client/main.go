package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/croessner/ratebench/client/engine"
	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log"
	"github.com/croessner/ratebench/server/log/level"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func main() {
	fs := pflag.NewFlagSet("ratebench", pflag.ExitOnError)

	engine.SetupFlags(fs, engine.DefaultConfig())

	_ = fs.Parse(os.Args[1:])

	cfg, err := engine.LoadConfig(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logLevel, err := cfg.LogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := log.SetupLogging(logLevel, cfg.Log.JSON, engine.UseColor(cfg.Report.Color, os.Stdout), "")

	if cfg.ErrorBackoff == 0 {
		level.Warn(logger).Log(
			definitions.LogKeyMsg, "Non-429 errors are retried immediately; set --error-backoff to space them out",
		)
	}

	fx.New(
		fx.Supply(cfg),
		fx.Provide(func() *slog.Logger { return logger }),
		fx.WithLogger(func() fxevent.Logger {
			if cfg.Debug {
				return &fxevent.ConsoleLogger{W: os.Stderr}
			}

			return fxevent.NopLogger
		}),
		engine.Module,
		fx.Invoke(runApp),
	).Run()
}

// runApp starts the run when fx starts and shuts fx down once every worker finished. An
// interrupt stops fx first, which cancels the run; the partial summary is still printed.
func runApp(lifecycle fx.Lifecycle, app *engine.App, shutdown fx.Shutdowner) {
	done := make(chan struct{})

	var (
		summary *engine.Summary
		runErr  error
	)

	lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)

				summary, runErr = app.Run(context.Background())

				_ = shutdown.Shutdown()
			}()

			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			app.Stop()

			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}

			if runErr != nil {
				level.Error(app.Logger).Log(definitions.LogKeyMsg, "Run failed", definitions.LogKeyError, runErr)

				return runErr
			}

			report(app, summary)

			return nil
		},
	})
}

func report(app *engine.App, summary *engine.Summary) {
	engine.PrintSummary(os.Stdout, summary, engine.UseColor(app.Config.Report.Color, os.Stdout))

	if path := app.Config.Report.JSON; path != "" {
		if err := engine.WriteJSONReport(path, summary); err != nil {
			level.Error(app.Logger).Log(definitions.LogKeyMsg, "Cannot write JSON report", definitions.LogKeyError, err)

			return
		}

		level.Info(app.Logger).Log(definitions.LogKeyMsg, "JSON report written", "path", path)
	}
}
