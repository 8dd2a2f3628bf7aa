package v1

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/croessner/ratebench/server/config"
	"github.com/croessner/ratebench/server/definitions"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBody = `{
  "input": {
    "bounds": {"properties": {"crs": "http://www.opengis.net/def/crs/EPSG/0/3857"}, "bbox": [1, 2, 3, 4]},
    "data": [{"dataFilter": {"timeRange": {"from": "2022-03-01T00:00:00Z", "to": "2022-03-31T00:00:00Z"}, "maxCloudCoverage": 100}, "type": "landsat-ot-l2"}]
  },
  "output": {"width": 2500, "height": 2500, "responses": [{"identifier": "default", "format": {"type": "image/tiff"}}]},
  "evalscript": "//VERSION=3"
}`

func setupRouter(cfg *config.Mock) (*gin.Engine, *ProcessAPI) {
	gin.SetMode(gin.TestMode)

	api := NewProcessAPI(cfg, nil)
	r := gin.New()
	api.Register(r)

	return r, api
}

func post(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, definitions.DefaultMockPath, bytes.NewBufferString(body))
	req.Header.Set(definitions.HeaderContentType, definitions.MIMEApplicationJSON)

	r.ServeHTTP(w, req)

	return w
}

func TestProcessSuccess(t *testing.T) {
	r, _ := setupRouter(config.DefaultMock())

	w := post(r, validBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, definitions.MIMEImageTIFF, w.Header().Get(definitions.HeaderContentType))
	assert.Equal(t, 2500*2500/1024, w.Body.Len())
	assert.Equal(t, []byte{'I', 'I', 42, 0}, w.Body.Bytes()[:4])
}

func TestProcessBadRequest(t *testing.T) {
	r, _ := setupRouter(config.DefaultMock())

	for _, body := range []string{
		`not json`,
		`{}`,
		`{"input": {"bounds": {"properties": {"crs": "x"}}, "data": []}, "output": {"width": 1, "height": 1, "responses": [{"identifier": "d", "format": {"type": "t"}}]}, "evalscript": "x"}`,
	} {
		w := post(r, body)

		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), `"code":"COMMON_BAD_PAYLOAD"`, body)
	}
}

func TestProcessInjectedFailure(t *testing.T) {
	cfg := config.DefaultMock()
	cfg.ErrorRate = 0.5

	r, api := setupRouter(cfg)

	api.failDraw = func() float64 { return 0.2 }
	assert.Equal(t, http.StatusInternalServerError, post(r, validBody).Code)

	api.failDraw = func() float64 { return 0.7 }
	assert.Equal(t, http.StatusOK, post(r, validBody).Code)
}

func TestProcessLatency(t *testing.T) {
	cfg := config.DefaultMock()
	cfg.Latency = 30 * time.Millisecond

	r, _ := setupRouter(cfg)

	start := time.Now()
	w := post(r, validBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestProcessLatencyCanceled(t *testing.T) {
	cfg := config.DefaultMock()
	cfg.Latency = time.Hour

	r, _ := setupRouter(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, definitions.DefaultMockPath, bytes.NewBufferString(validBody))
	req.Header.Set(definitions.HeaderContentType, definitions.MIMEApplicationJSON)

	r.ServeHTTP(w, req)

	assert.Zero(t, w.Body.Len())
}

func TestSyntheticImage(t *testing.T) {
	assert.Len(t, SyntheticImage(1, 1), 4)
	assert.Len(t, SyntheticImage(2048, 1024), 2048)
	assert.Len(t, SyntheticImage(1<<20, 1<<20), definitions.MaxMockBody)
	assert.Equal(t, SyntheticImage(512, 512), SyntheticImage(512, 512))
}
