package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/errors"
	"github.com/segmentio/ksuid"
)

// maxDiagnosticBody bounds how much of a non-200 body is kept for logging.
const maxDiagnosticBody = 4096

// Requester performs one attempt against the processing API.
type Requester interface {
	Do(ctx context.Context) AttemptResult
}

// AttemptResult describes a single HTTP attempt. Err is set for transport level failures,
// in which case StatusCode is 0.
type AttemptResult struct {
	StatusCode int
	RetryAfter time.Duration
	// RetryAfterErr is set when a 429 carried no usable retry-after header.
	RetryAfterErr error
	Latency       time.Duration
	BodySize      int64
	Body          []byte
	Header        http.Header
	RequestID     string
	Err           error
}

// OK reports whether the attempt ended the retry loop successfully.
func (r AttemptResult) OK() bool {
	return r.Err == nil && r.StatusCode == http.StatusOK
}

// RateLimited reports whether the server throttled the attempt.
func (r AttemptResult) RateLimited() bool {
	return r.Err == nil && r.StatusCode == http.StatusTooManyRequests
}

type ProcessClient struct {
	config     *Config
	httpClient *http.Client
	tokens     TokenSource
	payload    *PayloadBuilder
}

func NewProcessClient(cfg *Config, tokens TokenSource, payload *PayloadBuilder) *ProcessClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Workers

	return &ProcessClient{
		config:  cfg,
		tokens:  tokens,
		payload: payload,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Do builds a fresh payload, POSTs it and classifies the response.
func (c *ProcessClient) Do(ctx context.Context) (res AttemptResult) {
	res.RequestID = ksuid.New().String()

	body, err := c.payload.Body()
	if err != nil {
		res.Err = errors.ErrRequestBuild.WithDetail(err.Error())

		return res
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		res.Err = errors.ErrRequestBuild.WithDetail(err.Error())

		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		res.Err = errors.ErrRequestBuild.WithDetail(err.Error())

		return res
	}

	req.Header.Set(definitions.HeaderContentType, definitions.MIMEApplicationJSON)
	req.Header.Set(definitions.HeaderAuthorization, definitions.BearerPrefix+token)
	req.Header.Set(definitions.HeaderRequestID, res.RequestID)

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		res.Latency = time.Since(start)
		res.Err = errors.ErrTransport.WithDetail(err.Error())

		return res
	}

	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Header = resp.Header

	if resp.StatusCode == http.StatusOK {
		res.BodySize, err = io.Copy(io.Discard, resp.Body)
	} else {
		res.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
		res.BodySize = int64(len(res.Body))
	}

	res.Latency = time.Since(start)

	// A 200 whose image never fully arrived is not a success.
	if err != nil {
		res.Err = errors.ErrTransport.WithDetail(fmt.Sprintf("read body: %v", err))

		return res
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		res.RetryAfter, res.RetryAfterErr = ParseRetryAfter(resp.Header.Get(definitions.HeaderRetryAfter), time.Now())
	}

	return res
}

// ParseRetryAfter reads a retry-after value. Integer seconds are the normal form; an HTTP
// date is accepted as well and measured from now.
func ParseRetryAfter(value string, now time.Time) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("%w: missing", errors.ErrInvalidRetryAfter)
	}

	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%w: negative value %q", errors.ErrInvalidRetryAfter, value)
		}

		if secs > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("%w: value %q out of range", errors.ErrInvalidRetryAfter, value)
		}

		return time.Duration(secs) * time.Second, nil
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errors.ErrInvalidRetryAfter, value)
	}

	return max(when.Sub(now), 0), nil
}
