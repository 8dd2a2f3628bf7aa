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

package logging

import (
	"log/slog"
	"strings"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/log/level"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
)

// LoggerMiddleware assigns a request ID to each request, echoes it in the X-Request-ID
// header and logs one line per request once it is answered.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx *gin.Context) {
		var logWrapper func(logger *slog.Logger) level.Logger

		requestID := ksuid.New().String()
		start := time.Now()

		ctx.Set(definitions.CtxRequestIDKey, requestID)
		ctx.Set(definitions.CtxStartKey, start)
		ctx.Header(definitions.HeaderRequestID, requestID)

		ctx.Next()

		err := ctx.Errors.Last()
		status := ctx.Writer.Status()

		switch {
		case err != nil || status >= 500:
			logWrapper = level.Error
		case ctx.FullPath() == "/ping" || ctx.FullPath() == "/metrics":
			logWrapper = level.Debug
		default:
			logWrapper = level.Info
		}

		logWrapper(logger).Log(
			definitions.LogKeyRequestID, requestID,
			definitions.LogKeyClientIP, ctx.ClientIP(),
			definitions.LogKeyMethod, ctx.Request.Method,
			definitions.LogKeyHTTPStatus, status,
			definitions.LogKeyLatency, time.Since(start),
			definitions.LogKeyUserAgent, func() string {
				if ctx.Request.UserAgent() != "" {
					return ctx.Request.UserAgent()
				}

				return definitions.NotAvailable
			}(),
			definitions.LogKeyUriPath, ctx.Request.URL.Path,
			definitions.LogKeyAuthMethod, authMethod(ctx.GetHeader(definitions.HeaderAuthorization)),
			definitions.LogKeyMsg, func() string {
				if err != nil {
					return err.Error()
				}

				return "HTTP request"
			}(),
		)
	}
}

func authMethod(header string) string {
	switch {
	case header == "":
		return "none"
	case strings.HasPrefix(header, "Basic "):
		return "basic"
	case strings.HasPrefix(strings.ToLower(header), "bearer "):
		return "bearer"
	default:
		return "other"
	}
}
