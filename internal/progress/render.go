package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// barWidth is the character width of the progress bar itself.
const barWidth = 40

// Percent renders a whole-number percentage, floored and clamped to 99 while
// the entry is unfinished so 100% only ever appears on completion. Unknown
// lengths render as 0.
func Percent(position, length int64, finished bool) int {
	if finished {
		return 100
	}

	if length <= 0 {
		return 0
	}

	percent := int(position * 100 / length)

	if percent > 99 {
		percent = 99
	}
	if percent < 0 {
		percent = 0
	}

	return percent
}

// Bar renders a fixed-width ASCII bar. The bar never fills completely until
// finished.
func Bar(position, length int64, finished bool) string {
	filled := 0

	if length > 0 {
		filled = int(int64(barWidth) * position / length)
	}

	if filled > barWidth {
		filled = barWidth
	}
	if filled == barWidth && !finished {
		filled = barWidth - 1
	}

	inProgress := 0
	if filled < barWidth {
		inProgress = 1
	}

	todo := barWidth - filled - inProgress

	return strings.Repeat("#", filled) + strings.Repeat(">", inProgress) + strings.Repeat("-", todo)
}

type row struct {
	name      string
	position  int64
	length    int64
	finished  bool
	abandoned bool
	speed     float64
	started   time.Time
}

// renderer writes the multi-row live display. On a terminal it rewrites rows
// in place with ANSI escapes; otherwise it emits a plain summary line at a
// slow cadence.
type renderer struct {
	mu         sync.Mutex
	w          io.Writer
	isTerminal bool
	lastRows   int
	lastPlain  time.Time
	closed     bool
}

func newRenderer(w io.Writer) *renderer {
	isTerminal := false
	if f, ok := w.(*os.File); ok {
		isTerminal = term.IsTerminal(int(f.Fd()))
	}

	return &renderer{w: w, isTerminal: isTerminal}
}

func (rd *renderer) render(rows []row, totals Totals, started time.Time) {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if rd.closed || len(rows) == 0 {
		return
	}

	if !rd.isTerminal {
		// Plain output: one aggregate line every two seconds.
		if time.Since(rd.lastPlain) < 2*time.Second {
			return
		}
		rd.lastPlain = time.Now()

		fmt.Fprintf(rd.w, "Total %d/%d: %s", totals.Finished, totals.Count, humanize.IBytes(uint64(totals.Position)))
		if totals.KnownLength > 0 {
			fmt.Fprintf(rd.w, "/%s", humanize.IBytes(uint64(totals.KnownLength)))
		}
		fmt.Fprintln(rd.w)

		return
	}

	var b strings.Builder

	if rd.lastRows > 0 {
		fmt.Fprintf(&b, "\x1b[%dA", rd.lastRows)
	}

	for _, r := range rows {
		b.WriteString("\x1b[2K")
		b.WriteString(formatRow(r.name, r.position, r.length, r.finished, r.abandoned, r.speed, r.started))
		b.WriteByte('\n')
	}

	total := row{
		name:     fmt.Sprintf("Total %d/%d", totals.Finished, totals.Count),
		position: totals.Position,
		length:   totals.KnownLength,
		finished: totals.Finished == totals.Count,
		started:  started,
	}
	if total.length == 0 {
		total.length = UnknownLength
	}

	b.WriteString("\x1b[2K")
	b.WriteString(formatRow(total.name, total.position, total.length, total.finished, false, aggregateSpeed(rows), total.started))
	b.WriteByte('\n')

	rd.lastRows = len(rows) + 1

	fmt.Fprint(rd.w, b.String())
}

func aggregateSpeed(rows []row) float64 {
	var sum float64
	for _, r := range rows {
		if !r.finished && !r.abandoned {
			sum += r.speed
		}
	}

	return sum
}

// formatRow renders one display line:
// [elapsed] name speed pos/len [bar] eta pct%
func formatRow(name string, position, length int64, finished, abandoned bool, speed float64, started time.Time) string {
	elapsed := time.Since(started).Truncate(time.Second)

	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %-30.30s %12s %10s", formatElapsed(elapsed), name, formatSpeed(speed), humanize.IBytes(uint64(position)))

	if length >= 0 {
		fmt.Fprintf(&b, "/%-10s", humanize.IBytes(uint64(length)))
		fmt.Fprintf(&b, " [%s]", Bar(position, length, finished))

		if eta := formatETA(position, length, speed, finished); eta != "" {
			fmt.Fprintf(&b, " %s", eta)
		}

		fmt.Fprintf(&b, " %3d%%", Percent(position, length, finished))
	}

	if abandoned {
		b.WriteString(" (failed)")
	}

	return b.String()
}

func formatElapsed(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatSpeed(speed float64) string {
	if speed <= 0 {
		return "-"
	}

	return humanize.IBytes(uint64(speed)) + "/s"
}

func formatETA(position, length int64, speed float64, finished bool) string {
	if finished || speed <= 0 || length <= position {
		return ""
	}

	eta := time.Duration(float64(length-position)/speed) * time.Second

	return fmt.Sprintf("(%s)", eta.Truncate(time.Second))
}

// close stops further rendering, leaving the last frame on screen.
func (rd *renderer) close() {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	rd.closed = true
}
