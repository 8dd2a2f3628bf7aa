package engine

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"golang.org/x/sys/unix"
)

// IsTTY reports whether w is a terminal. Anything that is not an *os.File is not.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// UseColor resolves the auto|always|never setting for w. NO_COLOR wins over auto.
func UseColor(mode string, w io.Writer) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	default:
		return os.Getenv("NO_COLOR") == "" && IsTTY(w)
	}
}

// TermWidth returns the column count of stdout, 80 when unknown.
func TermWidth() int {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws == nil || ws.Col == 0 {
		return 80
	}

	return int(ws.Col)
}

func displayWidth(s string) int { return runewidth.StringWidth(s) }

func truncateToCells(s string, max int) string { return runewidth.Truncate(s, max, "…") }

func padToCellsRight(s string, w int) string { return runewidth.FillRight(s, w) }

type colorStyle struct {
	open    string
	enabled bool
}

func (cs colorStyle) S(s string) string {
	if !cs.enabled {
		return s
	}

	return cs.open + s + "\x1b[0m"
}

// palette groups the styles of one report. Keeping it per report lets tests render plain
// text without touching global state.
type palette struct {
	bold, faint              colorStyle
	red, green, yellow, cyan colorStyle
	blue, magenta            colorStyle
}

func newPalette(enabled bool) palette {
	style := func(open string) colorStyle {
		return colorStyle{open: open, enabled: enabled}
	}

	return palette{
		bold:    style("\x1b[1m"),
		faint:   style("\x1b[2m"),
		red:     style("\x1b[31m"),
		green:   style("\x1b[32m"),
		yellow:  style("\x1b[33m"),
		blue:    style("\x1b[34m"),
		magenta: style("\x1b[35m"),
		cyan:    style("\x1b[36m"),
	}
}

// outcomeStyle picks the color of an outcome heading.
func (p palette) outcomeStyle(o Outcome) colorStyle {
	switch o {
	case OutcomeSuccess:
		return p.green
	case OutcomeRateLimited:
		return p.yellow
	case OutcomeRetriesExhausted:
		return p.red
	default:
		return p.magenta
	}
}

func humanMs(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

func humanCount(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}

	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func humanBytes(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func SupportsUnicode() bool {
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}

	for _, env := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if strings.Contains(strings.ToUpper(os.Getenv(env)), "UTF-8") {
			return true
		}
	}

	return false
}

func findNonZeroRange(buckets []atomic.Int64) (int, int, bool) {
	start, end := -1, -1

	for i := range buckets {
		if buckets[i].Load() > 0 {
			if start == -1 {
				start = i
			}

			end = i
		}
	}

	if start == -1 {
		return 0, 0, false
	}

	return start, end, true
}

// binCounts folds the millisecond buckets [start, end] into cols columns of span ms each.
func binCounts(buckets []atomic.Int64, start, end, span, cols int) ([]int64, int64) {
	counts := make([]int64, cols)

	var peak int64

	for i := range cols {
		var sum int64

		for j := range span {
			ms := start + i*span + j
			if ms <= end && ms < len(buckets) {
				sum += buckets[ms].Load()
			}
		}

		counts[i] = sum
		peak = max(peak, sum)
	}

	return counts, peak
}

// WriteLatencyHistogram draws the attempt latency distribution as a bar chart of the given
// width with p50/p90/p99 markers underneath.
func WriteLatencyHistogram(w io.Writer, stats Stats, buckets []atomic.Int64, width int, p palette) {
	const height = 8

	first, last, ok := findNonZeroRange(buckets)
	if !ok {
		fmt.Fprintln(w, "[hist] no data")

		return
	}

	span := last - first + 1
	labelWidth := 6
	usable := max(width-labelWidth-2, 20)

	if span < usable {
		usable = span
	}

	binSpan := (span + usable - 1) / usable
	cols := (span + binSpan - 1) / binSpan
	counts, peak := binCounts(buckets, first, last, binSpan, cols)

	fillChar, axis, corner := "#", "|", "+"
	if SupportsUnicode() {
		fillChar, axis, corner = "█", "│", "└"
	}

	fmt.Fprintf(w, "Latency histogram  %s .. %s  bin=%s\n", humanMs(first), humanMs(last), humanMs(binSpan))

	for row := height; row >= 1; row-- {
		thr := int64(math.Round(float64(peak) * float64(row) / float64(height)))

		var sb strings.Builder

		for _, c := range counts {
			if int(math.Round(float64(c)/float64(peak)*height)) >= row {
				sb.WriteString(fillChar)
			} else {
				sb.WriteByte(' ')
			}
		}

		fmt.Fprintf(w, "%*s %s%s\n", labelWidth, humanCount(thr), p.blue.S(axis), p.cyan.S(sb.String()))
	}

	fmt.Fprintf(w, "%*s %s%s\n", labelWidth, "", p.blue.S(corner), p.blue.S(strings.Repeat("-", cols)))

	markers := []rune(strings.Repeat(" ", cols+3))

	place := func(ms int, text string) {
		pos := min(max((ms-first)/binSpan, 0), cols-1)

		for i, r := range text {
			if pos+i < len(markers) {
				markers[pos+i] = r
			}
		}
	}

	place(int(stats.P50.Milliseconds()), "p50")
	place(int(stats.P90.Milliseconds()), "p90")
	place(int(stats.P99.Milliseconds()), "p99")

	fmt.Fprintf(w, "%*s  %s\n", labelWidth, "", p.faint.S(strings.TrimRight(string(markers), " ")))
}
