package engine

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"
)

// Summary is everything a finished run reports.
type Summary struct {
	RunID    RunID          `json:"run_id"`
	Workers  int            `json:"workers"`
	Started  time.Time      `json:"started"`
	Elapsed  time.Duration  `json:"elapsed"`
	Outcomes Snapshot       `json:"outcomes"`
	Results  []WorkerResult `json:"results"`
	Stats    Stats          `json:"stats"`

	// Histogram is not part of the JSON report.
	Histogram func(w io.Writer, width int, p palette) `json:"-"`
}

// outcomeLabels are the headings of the four collections.
var outcomeLabels = map[Outcome]string{
	OutcomeRateLimited:      "Rate limited",
	OutcomeRetriesExhausted: "Retries exhausted",
	OutcomeOtherError:       "Other errors",
	OutcomeSuccess:          "Successes",
}

// PrintSummary writes the four outcome lists in append order followed by the attempt
// statistics and the elapsed time.
func PrintSummary(w io.Writer, s *Summary, color bool) {
	p := newPalette(color)

	for _, outcome := range Outcomes {
		workers := s.Outcomes.Get(outcome)
		label := fmt.Sprintf("%s (%d):", outcomeLabels[outcome], len(workers))

		fmt.Fprintln(w, p.outcomeStyle(outcome).S(label), formatWorkers(workers))
	}

	fmt.Fprintln(w)

	st := s.Stats

	fmt.Fprintf(w, "attempts=%d succeeded=%d rate_limited=%d other_status=%d transport_errors=%d\n",
		st.Attempts, st.Succeeded, st.RateLimited, st.OtherStatus, st.TransportErrs)

	if st.Attempts > 0 {
		fmt.Fprintf(w, "latency avg=%s min=%s max=%s p50=%s p90=%s p99=%s\n",
			st.Avg, st.Min, st.Max, st.P50, st.P90, st.P99)
		fmt.Fprintf(w, "received=%s retry_wait=%s\n", humanBytes(st.BytesReceived), st.RetryWait)
		fmt.Fprintln(w, "http_status_counts:")

		codes := make([]int, 0, len(st.StatusCounts))
		for code := range st.StatusCounts {
			codes = append(codes, code)
		}

		slices.Sort(codes)

		for _, code := range codes {
			fmt.Fprintf(w, "  %d: %d\n", code, st.StatusCounts[code])
		}

		if s.Histogram != nil && IsTTY(w) {
			fmt.Fprintln(w)
			s.Histogram(w, TermWidth(), p)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, p.bold.S(fmt.Sprintf("--- %s seconds ---", formatSeconds(s.Elapsed))))
}

// formatWorkers renders a collection like "[3, 7, 7, 12]".
func formatWorkers(workers []int) string {
	parts := make([]string, len(workers))
	for i, worker := range workers {
		parts[i] = fmt.Sprint(worker)
	}

	return "[" + strings.Join(parts, ", ") + "]"
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// WriteJSONReport stores s as indented JSON at path.
func WriteJSONReport(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err = os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report %q: %w", path, err)
	}

	return nil
}
