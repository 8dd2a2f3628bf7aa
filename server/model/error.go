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

package model

import (
	"net/http"
)

// Error codes of the processing API.
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeUnauthorized      = "COMMON_UNAUTHORIZED"
	CodeBadRequest        = "COMMON_BAD_PAYLOAD"
	CodeInternal          = "COMMON_EXCEPTION"
)

// ErrorResponse is the JSON body of every non-200 answer of the processing API.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Status  int    `json:"status"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewErrorResponse fills the reason from the status code.
func NewErrorResponse(status int, message string, code string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Status:  status,
			Reason:  http.StatusText(status),
			Message: message,
			Code:    code,
		},
	}
}
