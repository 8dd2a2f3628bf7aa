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

// Package v1 serves the mock processing endpoint.
package v1

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/croessner/ratebench/server/config"
	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log/level"
	"github.com/croessner/ratebench/server/model"

	"github.com/gin-gonic/gin"
)

// tiffMagic is the little-endian TIFF header every synthetic image starts with.
var tiffMagic = []byte{'I', 'I', 42, 0}

// ProcessAPI answers processing requests that made it past auth and rate limiting.
type ProcessAPI struct {
	cfg    *config.Mock
	logger *slog.Logger

	// failDraw returns a number in [0,1) compared against cfg.ErrorRate.
	failDraw func() float64
}

// NewProcessAPI creates a new ProcessAPI.
func NewProcessAPI(cfg *config.Mock, logger *slog.Logger) *ProcessAPI {
	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessAPI{
		cfg:      cfg,
		logger:   logger,
		failDraw: rand.Float64,
	}
}

// Register adds the processing route to the router.
func (a *ProcessAPI) Register(router gin.IRouter) {
	router.POST(a.cfg.Path, a.Process)
}

// Process validates the request, waits the configured latency and answers with a synthetic image
// or, for a share of requests, with 500.
func (a *ProcessAPI) Process(ctx *gin.Context) {
	var req model.ProcessRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		level.Debug(a.logger).Log(
			definitions.LogKeyRequestID, ctx.GetString(definitions.CtxRequestIDKey),
			definitions.LogKeyMsg, "Invalid processing request",
			definitions.LogKeyError, err,
		)

		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			err.Error(),
			model.CodeBadRequest,
		))

		return
	}

	if a.cfg.Latency > 0 {
		timer := time.NewTimer(a.cfg.Latency)

		select {
		case <-ctx.Request.Context().Done():
			timer.Stop()
			ctx.Abort()

			return
		case <-timer.C:
		}
	}

	if a.cfg.ErrorRate > 0 && a.failDraw() < a.cfg.ErrorRate {
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"Injected failure",
			model.CodeInternal,
		))

		return
	}

	ctx.Data(http.StatusOK, definitions.MIMEImageTIFF, SyntheticImage(req.Output.Width, req.Output.Height))
}

// SyntheticImage returns width*height/1024 bytes, at least the TIFF header and at most
// definitions.MaxMockBody. The content only depends on the size.
func SyntheticImage(width, height int) []byte {
	size := min(max(width*height/1024, len(tiffMagic)), definitions.MaxMockBody)
	body := make([]byte, size)

	copy(body, tiffMagic)

	for i := len(tiffMagic); i < size; i++ {
		body[i] = byte(i)
	}

	return body
}
