package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// Progress is a Sink that prints one line per merged segment.
type Progress struct {
	mu  sync.Mutex
	out io.Writer
}

// NewProgress writes progress lines to out.
func NewProgress(out io.Writer) *Progress {
	return &Progress{out: out}
}

// Render implements segment.Sink.
func (p *Progress) Render(n segment.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n.State.Phase == segment.PhaseAborted {
		color.New(color.FgRed).Fprintf(p.out, "aborted after segment %d/%d: %v\n", n.Segment+1, n.Segments, n.Err)

		return
	}

	fmt.Fprintf(p.out, "segment %d/%d merged, %s hits\n", n.Segment+1, n.Segments, humanize.Comma(n.Hits))
}

// Tee fans one notification out to several sinks in order.
type Tee []segment.Sink

// Render implements segment.Sink.
func (t Tee) Render(n segment.Notification) {
	for _, s := range t {
		s.Render(n)
	}
}
