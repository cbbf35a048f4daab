package transport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/term"
)

// Download phases reported through ProgressEvent.
const (
	PhaseDownloading = "downloading"
	PhaseVerifying   = "verifying"
	PhaseComplete    = "complete"
)

// ProgressFunc receives download progress.
type ProgressFunc func(event ProgressEvent)

// ProgressEvent describes the state of a download attempt.
type ProgressEvent struct {
	Phase      string  `json:"phase"`
	Attempt    int     `json:"attempt"`
	Percent    float64 `json:"percent"` // 0-100, -1 when the size is unknown
	BytesDone  int64   `json:"bytesDone"`
	BytesTotal int64   `json:"bytesTotal"`
	Speed      float64 `json:"speed"` // bytes per second
}

// progressTracker throttles events to 5% steps.
type progressTracker struct {
	fn      ProgressFunc
	attempt int
	total   int64
	done    int64
	last    int
	started time.Time
}

func newProgressTracker(fn ProgressFunc, attempt int, total int64) *progressTracker {
	return &progressTracker{fn: fn, attempt: attempt, total: total, last: -1, started: time.Now()}
}

func (p *progressTracker) add(n int) {
	p.done += int64(n)
	if p.fn == nil || p.total <= 0 {
		return
	}
	pct := int(p.done * 100 / p.total)
	if pct > 0 && pct != p.last && pct%5 == 0 {
		p.last = pct
		p.emit(PhaseDownloading)
	}
}

func (p *progressTracker) emit(phase string) {
	if p.fn == nil {
		return
	}
	ev := ProgressEvent{
		Phase:      phase,
		Attempt:    p.attempt,
		Percent:    -1,
		BytesDone:  p.done,
		BytesTotal: p.total,
	}
	if p.total > 0 {
		ev.Percent = float64(p.done) * 100 / float64(p.total)
	}
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		ev.Speed = float64(p.done) / elapsed
	}
	p.fn(ev)
}

// Printer renders progress events as a bar. On a terminal the bar is
// redrawn in place; otherwise only quarter steps and completion are printed.
type Printer struct {
	w           io.Writer
	interactive bool
	width       int
	lastQuarter int
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w, width: 30, lastQuarter: -1}
	if f, ok := w.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) {
		p.interactive = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols < 70 {
			p.width = max(cols-40, 10)
		}
	}
	return p
}

// Handle is a ProgressFunc.
func (p *Printer) Handle(ev ProgressEvent) {
	switch ev.Phase {
	case PhaseComplete:
		if p.interactive {
			fmt.Fprint(p.w, "\r\033[K")
		}
		fmt.Fprintf(p.w, "Download complete (%s)\n", FormatBytes(ev.BytesDone))
		p.lastQuarter = -1
	case PhaseVerifying:
		if p.interactive {
			fmt.Fprintf(p.w, "\r\033[KVerifying checksum...")
		}
	default:
		line := p.render(ev)
		if p.interactive {
			fmt.Fprintf(p.w, "\r%s", line)
			return
		}
		if q := int(ev.Percent) / 25; q != p.lastQuarter {
			p.lastQuarter = q
			fmt.Fprintln(p.w, line)
		}
	}
}

func (p *Printer) render(ev ProgressEvent) string {
	filled := 0
	if ev.Percent > 0 {
		filled = int(ev.Percent / 100 * float64(p.width))
	}
	filled = min(filled, p.width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)
	return fmt.Sprintf("Downloading [%s] %5.1f%% %s/%s %s/s",
		bar, ev.Percent, FormatBytes(ev.BytesDone), FormatBytes(ev.BytesTotal), FormatBytes(int64(ev.Speed)))
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
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
