package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/errors"
	"github.com/croessner/ratebench/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *ProcessClient {
	t.Helper()

	cfg := testConfig()
	cfg.Endpoint = url

	tokens, err := NewStaticToken("secret")
	require.NoError(t, err)

	payload, err := NewPayloadBuilder(cfg)
	require.NoError(t, err)

	return NewProcessClient(cfg, tokens, payload)
}

func TestProcessClientSendsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get(definitions.HeaderAuthorization))
		assert.Equal(t, definitions.MIMEApplicationJSON, r.Header.Get(definitions.HeaderContentType))
		assert.NotEmpty(t, r.Header.Get(definitions.HeaderRequestID))

		var body model.ProcessRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "LETML2", body.Input.Data[0].Type)
		assert.Equal(t, 2500, body.Output.Width)

		w.Header().Set(definitions.HeaderContentType, definitions.MIMEImageTIFF)
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).Do(context.Background())

	assert.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.Equal(t, int64(2048), res.BodySize)
	assert.Nil(t, res.Body)
	assert.Positive(t, res.Latency)
}

func TestProcessClientRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(definitions.HeaderRetryAfter, "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).Do(context.Background())

	assert.True(t, res.RateLimited())
	assert.False(t, res.OK())
	assert.NoError(t, res.RetryAfterErr)
	assert.Equal(t, 12*time.Second, res.RetryAfter)
}

func TestProcessClientRateLimitedWithoutHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).Do(context.Background())

	assert.True(t, res.RateLimited())
	assert.ErrorIs(t, res.RetryAfterErr, errors.ErrInvalidRetryAfter)
}

func TestProcessClientKeepsErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"status":400,"reason":"Bad Request"}}`+strings.Repeat(" ", 2*maxDiagnosticBody))
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).Do(context.Background())

	assert.NoError(t, res.Err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Len(t, res.Body, maxDiagnosticBody)
	assert.True(t, strings.HasPrefix(string(res.Body), `{"error"`))
}

func TestProcessClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	res := newTestClient(t, url).Do(context.Background())

	assert.ErrorIs(t, res.Err, errors.ErrTransport)
	assert.Zero(t, res.StatusCode)
	assert.False(t, res.OK())
	assert.False(t, res.RateLimited())
}

type brokenTokens struct{}

func (brokenTokens) Token(context.Context) (string, error) {
	return "", errors.ErrEmptyToken
}

func TestProcessClientTokenError(t *testing.T) {
	cfg := testConfig()

	payload, err := NewPayloadBuilder(cfg)
	require.NoError(t, err)

	res := NewProcessClient(cfg, brokenTokens{}, payload).Do(context.Background())

	assert.ErrorIs(t, res.Err, errors.ErrRequestBuild)
	assert.Contains(t, res.Err.(*errors.DetailedError).GetDetails(), errors.ErrEmptyToken.Error())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		value   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", value: "30", want: 30 * time.Second},
		{name: "zero", value: "0", want: 0},
		{name: "spaces", value: " 5 ", want: 5 * time.Second},
		{name: "http date", value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{name: "date in the past", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "empty", value: "", wantErr: true},
		{name: "negative", value: "-3", wantErr: true},
		{name: "garbage", value: "soon", wantErr: true},
		{name: "fraction", value: "1.5", wantErr: true},
		{name: "largest", value: "9223372036", want: 9223372036 * time.Second},
		{name: "overflow", value: "9223372037", wantErr: true},
		{name: "beyond int64", value: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetryAfter(tt.value, now)

			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidRetryAfter)

				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWorkerOutOfRangeRetryAfterUsesDefault(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set(definitions.HeaderRetryAfter, "9223372037")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		_, _ = w.Write([]byte("II*\x00"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetryWait = time.Minute

	sleeper := &sleepRecorder{}
	w, registry := newTestWorker(cfg, 2, newTestClient(t, server.URL), sleeper.Sleep)

	res := w.Run(context.Background())

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []time.Duration{cfg.DefaultRetryAfter}, sleeper.Delays())
	assert.Equal(t, cfg.DefaultRetryAfter, res.RetryWait)

	snap := snapshotOf(t, registry)
	assert.Equal(t, []int{2}, snap.RateLimited)
	assert.Equal(t, []int{2}, snap.Success)
}
