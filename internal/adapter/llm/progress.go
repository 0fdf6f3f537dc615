package llm

import (
	"bytes"
	"strings"

	"github.com/cwygoda/skim/internal/config"
	"github.com/cwygoda/skim/internal/domain"
)

// reporter forwards percentages to a ProgressFunc, never going backwards.
type reporter struct {
	fn      domain.ProgressFunc
	last    int
	started bool
}

func newReporter(fn domain.ProgressFunc) *reporter {
	if fn == nil {
		fn = func(int) {}
	}
	return &reporter{fn: fn}
}

func (r *reporter) report(percent int) {
	percent = min(max(percent, 0), 100)
	if r.started && percent <= r.last {
		return
	}
	r.started = true
	r.last = percent
	r.fn(percent)
}

// finish reports 100 unless it was already reported.
func (r *reporter) finish() {
	r.report(100)
}

const (
	maxDiagnosticLine = 64 * 1024
	diagnosticTail    = 20
)

// diagnostics is an io.Writer for the engine's stderr. It splits the stream
// into lines, keeps the last few for error messages and matches progress markers.
type diagnostics struct {
	markers []config.ProgressMarker
	report  func(int)
	onLine  func(string)
	buf     []byte
	tail    []string
}

func (d *diagnostics) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		d.line(string(bytes.TrimRight(d.buf[:i], "\r")))
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) > maxDiagnosticLine {
		d.flush()
	}
	return len(p), nil
}

func (d *diagnostics) flush() {
	if len(d.buf) > 0 {
		d.line(string(d.buf))
		d.buf = d.buf[:0]
	}
}

func (d *diagnostics) line(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	d.tail = append(d.tail, s)
	if len(d.tail) > diagnosticTail {
		d.tail = d.tail[1:]
	}
	if d.onLine != nil {
		d.onLine(s)
	}
	if p, ok := matchMarker(d.markers, s); ok && d.report != nil {
		d.report(p)
	}
}

func (d *diagnostics) Tail() string {
	return strings.Join(d.tail, "\n")
}

// matchMarker returns the highest percent among markers contained in line.
func matchMarker(markers []config.ProgressMarker, line string) (int, bool) {
	best, found := 0, false
	for _, m := range markers {
		if m.Match != "" && strings.Contains(line, m.Match) && (!found || m.Percent > best) {
			best, found = m.Percent, true
		}
	}
	return best, found
}
