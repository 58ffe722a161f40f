package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Progress reports bytes moving through a reader on a single
// terminal line. A total of zero or less renders a plain byte count.
type Progress struct {
	w       io.Writer
	label   string
	total   int64
	noColor bool
	every   time.Duration

	mu      sync.Mutex
	done    int64
	last    time.Time
	written bool
}

// NewProgress creates a progress line for label
func NewProgress(w io.Writer, label string, total int64, noColor bool) *Progress {
	return &Progress{w: w, label: label, total: total, noColor: noColor, every: 100 * time.Millisecond}
}

// Reader wraps r so every read advances the progress line
func (p *Progress) Reader(r io.Reader) io.Reader {
	return &progressReader{r: r, p: p}
}

// Done prints the final state and ends the line
func (p *Progress) Done(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.written {
		fmt.Fprint(p.w, "\r\033[K")
	}
	green := color.New(color.FgGreen, color.Bold)
	if p.noColor {
		green.DisableColor()
	}
	green.Fprintf(p.w, "✓ %s (%s)\n", message, FormatBytes(p.done))
}

func (p *Progress) add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += int64(n)
	now := time.Now()
	if now.Sub(p.last) < p.every && p.done != p.total {
		return
	}
	p.last = now
	p.written = true

	cyan := color.New(color.FgCyan)
	if p.noColor {
		cyan.DisableColor()
	}
	if p.total > 0 {
		cyan.Fprintf(p.w, "\r%s %s / %s (%d%%)", p.label, FormatBytes(p.done), FormatBytes(p.total), p.done*100/p.total)
	} else {
		cyan.Fprintf(p.w, "\r%s %s", p.label, FormatBytes(p.done))
	}
}

type progressReader struct {
	r io.Reader
	p *Progress
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.p.add(n)
	}
	return n, err
}

// FormatBytes renders n with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
