// Package render turns coordinator notifications into charts and tables.
package render

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// Format is an output format.
type Format string

// Output formats.
const (
	FormatHTML  Format = "html"
	FormatTable Format = "table"
)

// ErrInvalidFormat is returned for unknown output formats.
var ErrInvalidFormat = errors.New("invalid render format")

// ParseFormat converts a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatHTML, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

// Options controls presentation.
type Options struct {
	Title      string
	Theme      string
	Stack      bool
	Percentage bool

	// AutoInterval marks the interval label as automatically chosen.
	AutoInterval bool

	// Location is used for axis labels. Nil means UTC.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}

	return time.UTC
}

// Column is one series laid out against a Frame's times.
type Column struct {
	Label  string
	Color  string
	Values []float64
	Hits   int64
	Err    error
}

// Frame is a notification flattened to rows of bucket times.
type Frame struct {
	Times   []int64
	Columns []Column
}

// NewFrame lays every series against one time axis. Aligned series already
// share their timestamps and are used as they are; otherwise the axis is the
// union of their times and buckets a series does not carry read as zero. With
// percentage set, each bucket is rescaled so the columns sum to 100.
func NewFrame(n segment.Notification, percentage bool) Frame {
	times, aligned := sharedTimes(n.Series)
	if !aligned {
		times = unionTimes(n.Series)
	}

	index := make(map[int64]int, len(times))
	if !aligned {
		for i, t := range times {
			index[t] = i
		}
	}

	f := Frame{Times: times, Columns: make([]Column, len(n.Series))}

	for i, s := range n.Series {
		col := Column{
			Label:  s.Label,
			Color:  s.Color,
			Values: make([]float64, len(times)),
			Hits:   s.Hits,
			Err:    s.Err,
		}

		for j, p := range s.Points {
			if aligned {
				col.Values[j] = p.Value
			} else {
				col.Values[index[p.Time]] = p.Value
			}
		}

		f.Columns[i] = col
	}

	if percentage {
		f.toPercent()
	}

	return f
}

// sharedTimes returns the common time axis when every series carries the same
// timestamps in the same order.
func sharedTimes(series []segment.SeriesResult) ([]int64, bool) {
	if len(series) == 0 {
		return nil, true
	}

	first := series[0].Points

	for _, s := range series[1:] {
		if len(s.Points) != len(first) {
			return nil, false
		}

		for j, p := range s.Points {
			if p.Time != first[j].Time {
				return nil, false
			}
		}
	}

	times := make([]int64, len(first))
	for j, p := range first {
		times[j] = p.Time
	}

	return times, true
}

func unionTimes(series []segment.SeriesResult) []int64 {
	var times []int64

	for _, s := range series {
		for _, p := range s.Points {
			times = append(times, p.Time)
		}
	}

	slices.Sort(times)

	return slices.Compact(times)
}

func (f *Frame) toPercent() {
	for row := range f.Times {
		var total float64
		for _, col := range f.Columns {
			total += col.Values[row]
		}

		for _, col := range f.Columns {
			if total == 0 {
				col.Values[row] = 0

				continue
			}

			col.Values[row] = col.Values[row] / total * 100
		}
	}
}

// Labels formats the frame times with the interval's axis layout.
func (f Frame) Labels(n segment.Notification, loc *time.Location) []string {
	layout := n.Interval.LabelLayout()

	labels := make([]string, len(f.Times))
	for i, t := range f.Times {
		labels[i] = time.UnixMilli(t).In(loc).Format(layout)
	}

	return labels
}

// Latest is a Sink that keeps the newest notification. Notifications from an
// older generation than the one already held are ignored.
type Latest struct {
	mu  sync.RWMutex
	n   segment.Notification
	has bool
}

// Render implements segment.Sink.
func (l *Latest) Render(n segment.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.has && n.Generation < l.n.Generation {
		return
	}

	l.n, l.has = n, true
}

// Snapshot returns the held notification, if any.
func (l *Latest) Snapshot() (segment.Notification, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.n, l.has
}
