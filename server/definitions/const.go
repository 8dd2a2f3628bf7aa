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

package definitions

// Logging strings.
const (
	LogKeyMsg        = "msg"
	LogKeyError      = "error"
	LogKeyInstance   = "instance"
	LogKeyRunID      = "run_id"
	LogKeyWorker     = "worker"
	LogKeyAttempt    = "attempt"
	LogKeyRetries    = "retries"
	LogKeyHTTPStatus = "http_status"
	LogKeyLatency    = "latency"
	LogKeyRetryAfter = "retry_after"
	LogKeyRequestID  = "request_id"
	LogKeyOutcome    = "outcome"
	LogKeyEndpoint   = "endpoint"
	LogKeyBody       = "body"
	LogKeyHeaders    = "headers"
	LogKeyClientIP   = "client_ip"
	LogKeyAddress    = "address"
	LogKeyBackend    = "backend"
	LogKeyElapsed    = "elapsed"
	LogKeyMethod     = "method"
	LogKeyUriPath    = "uri_path"
	LogKeyUserAgent  = "user_agent"
	LogKeyAuthMethod = "auth_method"
)

// Gin context keys of the mock API.
const (
	CtxRequestIDKey = "request_id"
	CtxTokenKey     = "bearer_token"
	CtxStartKey     = "request_start"
)

const (
	// LogLevelNone is the iota constant representing no logs
	LogLevelNone = iota

	// LogLevelError is the iota constant for error logs
	LogLevelError

	// LogLevelWarn is the iota constant for warning logs
	LogLevelWarn

	// LogLevelInfo is the iota constant for info logs
	LogLevelInfo

	// LogLevelDebug is the iota constant for debug logs
	LogLevelDebug
)

// Outcome tags. They double as Redis key suffixes and metric label values.
const (
	OutcomeSuccess          = "success"
	OutcomeRateLimited      = "rate_limited"
	OutcomeRetriesExhausted = "retries_exhausted"
	OutcomeOtherError       = "other_error"
)

// HTTP header names used by the harness and the mock API.
const (
	HeaderRetryAfter    = "Retry-After"
	HeaderRequestID     = "X-Request-ID"
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"

	MIMEApplicationJSON = "application/json"
	MIMEImageTIFF       = "image/tiff"

	BearerPrefix = "Bearer "
)

// Defaults.
const (
	DefaultEndpoint = "https://services-uswest2.sentinel-hub.com/api/v1/process"

	DefaultWorkers    = 100
	DefaultMaxRetries = 5

	DefaultMockAddress = "127.0.0.1:9180"
	DefaultMockPath    = "/api/v1/process"
	DefaultMockRPS     = 5
	DefaultMockBurst   = 10

	// MaxMockBody caps the synthetic image the mock API answers with.
	MaxMockBody = 8 << 20

	EnvPrefixClient = "ratebench"
	EnvPrefixMock   = "ratebench_mock"

	RedisKeyPrefix = "ratebench:"

	Separator = "=================================================="

	NotAvailable = "N/A"
)
