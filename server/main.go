// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/croessner/ratebench/server/config"
	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log"
	"github.com/croessner/ratebench/server/log/level"
	"github.com/croessner/ratebench/server/router"
	"github.com/croessner/ratebench/server/stats"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	fs := pflag.NewFlagSet("ratebench-mock", pflag.ExitOnError)
	showVersion := fs.Bool("version", false, "Print version and exit")

	config.SetupMockFlags(fs, config.DefaultMock())

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println("ratebench-mock", version, buildTime)

		return
	}

	cfg, err := config.LoadMock(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := log.SetupLogging(cfg.LogLevel.Level(), cfg.LogJSON, true, "mock")

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		level.Error(logger).Log(definitions.LogKeyMsg, "Unable to listen", definitions.LogKeyAddress, cfg.Address, definitions.LogKeyError, err)
		os.Exit(1)
	}

	if err = serve(ctx, ln, cfg, logger); err != nil {
		level.Error(logger).Log(definitions.LogKeyMsg, "Server stopped with error", definitions.LogKeyError, err)
		os.Exit(1)
	}
}

// serve answers requests on ln until ctx is done, then drains in-flight requests for at most
// cfg.ShutdownWait.
func serve(ctx context.Context, ln net.Listener, cfg *config.Mock, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           router.NewMockRouter(cfg, logger, stats.NewMetrics()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		level.Info(logger).Log(
			definitions.LogKeyMsg, "Mock processing API listening",
			definitions.LogKeyAddress, ln.Addr().String(),
			definitions.LogKeyEndpoint, cfg.Path,
			"rps", cfg.RPS,
			"burst", cfg.Burst,
		)

		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownWait)
		defer cancel()

		level.Info(logger).Log(definitions.LogKeyMsg, "Shutting down")

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
