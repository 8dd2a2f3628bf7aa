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

package auth

import (
	"net/http"
	"strings"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/model"

	"github.com/gin-gonic/gin"
)

// BearerToken extracts the token of an "Authorization: Bearer" header. The scheme is matched
// case-insensitively.
func BearerToken(header string) (string, bool) {
	if len(header) < len(definitions.BearerPrefix) || !strings.EqualFold(header[:len(definitions.BearerPrefix)], definitions.BearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(definitions.BearerPrefix):])

	return token, token != ""
}

// BearerAuthMiddleware rejects requests without an accepted bearer token with 401. On success
// the token is stored under definitions.CtxTokenKey for the rate limiter.
func BearerAuthMiddleware(allowed func(token string) bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.FullPath() == "/ping" || ctx.FullPath() == "/metrics" {
			ctx.Next()

			return
		}

		token, ok := BearerToken(ctx.GetHeader(definitions.HeaderAuthorization))
		if !ok || !allowed(token) {
			ctx.Header("WWW-Authenticate", `Bearer realm="restricted"`)
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, model.NewErrorResponse(
				http.StatusUnauthorized,
				"Missing or invalid bearer token",
				model.CodeUnauthorized,
			))

			return
		}

		ctx.Set(definitions.CtxTokenKey, token)

		ctx.Next()
	}
}
