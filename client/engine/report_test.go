package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSummary() *Summary {
	return &Summary{
		RunID:   "run",
		Workers: 3,
		Elapsed: 1500 * time.Millisecond,
		Outcomes: Snapshot{
			RateLimited:      []int{2, 0, 2},
			RetriesExhausted: []int{2},
			OtherError:       []int{},
			Success:          []int{1, 0},
		},
		Stats: Stats{
			Attempts:     6,
			Succeeded:    2,
			RateLimited:  3,
			OtherStatus:  1,
			StatusCounts: map[int]int64{500: 1, 200: 2, 429: 3},
		},
	}
}

func TestPrintSummaryPlain(t *testing.T) {
	var buf bytes.Buffer

	PrintSummary(&buf, testSummary(), false)

	out := buf.String()
	lines := strings.Split(out, "\n")

	assert.Equal(t, "Rate limited (3): [2, 0, 2]", lines[0])
	assert.Equal(t, "Retries exhausted (1): [2]", lines[1])
	assert.Equal(t, "Other errors (0): []", lines[2])
	assert.Equal(t, "Successes (2): [1, 0]", lines[3])
	assert.Contains(t, out, "attempts=6 succeeded=2 rate_limited=3 other_status=1 transport_errors=0")
	assert.Less(t, strings.Index(out, "  200: 2"), strings.Index(out, "  429: 3"))
	assert.Less(t, strings.Index(out, "  429: 3"), strings.Index(out, "  500: 1"))
	assert.True(t, strings.HasSuffix(out, "--- 1.500 seconds ---\n"))
	assert.NotContains(t, out, "\x1b[")
}

func TestPrintSummaryColor(t *testing.T) {
	var buf bytes.Buffer

	PrintSummary(&buf, testSummary(), true)

	assert.Contains(t, buf.String(), "\x1b[32mSuccesses (2):\x1b[0m")
	assert.Contains(t, buf.String(), "\x1b[31mRetries exhausted (1):\x1b[0m")
}

func TestPrintSummaryNoAttempts(t *testing.T) {
	var buf bytes.Buffer

	s := testSummary()
	s.Stats = Stats{}

	PrintSummary(&buf, s, false)

	assert.NotContains(t, buf.String(), "latency")
	assert.Contains(t, buf.String(), "--- 1.500 seconds ---")
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	require.NoError(t, WriteJSONReport(path, testSummary()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "run", doc["run_id"])
	assert.Equal(t, 3.0, doc["workers"])

	outcomes := doc["outcomes"].(map[string]any)
	assert.Equal(t, []any{2.0, 0.0, 2.0}, outcomes["rate_limited"])
	assert.Equal(t, []any{1.0, 0.0}, outcomes["success"])

	stats := doc["stats"].(map[string]any)
	assert.Equal(t, 3.0, stats["status_counts"].(map[string]any)["429"])
}

func TestWriteJSONReportBadPath(t *testing.T) {
	err := WriteJSONReport(filepath.Join(t.TempDir(), "missing", "report.json"), testSummary())

	assert.Error(t, err)
}

func TestWriteLatencyHistogram(t *testing.T) {
	t.Setenv("NO_UNICODE", "1")

	buckets := make([]atomic.Int64, 200)
	buckets[10].Store(5)
	buckets[20].Store(10)
	buckets[150].Store(1)

	var buf bytes.Buffer

	WriteLatencyHistogram(&buf, Stats{P50: 20 * time.Millisecond, P90: 20 * time.Millisecond, P99: 150 * time.Millisecond}, buckets, 80, newPalette(false))

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.True(t, strings.HasPrefix(lines[0], "Latency histogram  10ms .. 150ms"))
	assert.Len(t, lines, 1+8+1+1)
	assert.Contains(t, lines[1], "#")
	assert.Contains(t, lines[len(lines)-1], "p99")
}

func TestWriteLatencyHistogramEmpty(t *testing.T) {
	var buf bytes.Buffer

	WriteLatencyHistogram(&buf, Stats{}, make([]atomic.Int64, 10), 80, newPalette(false))

	assert.Equal(t, "[hist] no data\n", buf.String())
}

func TestHumanFormats(t *testing.T) {
	assert.Equal(t, "999ms", humanMs(999))
	assert.Equal(t, "1.50s", humanMs(1500))
	assert.Equal(t, "12", humanCount(12))
	assert.Equal(t, "1.5K", humanCount(1500))
	assert.Equal(t, "2.0M", humanCount(2000000))
	assert.Equal(t, "512B", humanBytes(512))
	assert.Equal(t, "1.5KiB", humanBytes(1536))
	assert.Equal(t, "2.0MiB", humanBytes(2*1024*1024))
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer

	assert.True(t, UseColor("always", &buf))
	assert.False(t, UseColor("never", &buf))
	assert.False(t, UseColor("auto", &buf))
	assert.False(t, IsTTY(&buf))
}

func TestCellHelpers(t *testing.T) {
	assert.Equal(t, 4, displayWidth("日本"))
	assert.Equal(t, "ab  ", padToCellsRight("ab", 4))
	assert.Equal(t, 3, displayWidth(truncateToCells("abcdef", 3)))
}
