package segment

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/histogram/pkg/interval"
)

// DefaultMaxSegments bounds how many segments one plan may produce.
const DefaultMaxSegments = 1000

// Span is the width of time one segment covers.
type Span string

// Segment spans.
const (
	SpanNone  Span = "none"
	SpanHour  Span = "hour"
	SpanDay   Span = "day"
	SpanWeek  Span = "week"
	SpanMonth Span = "month"
	SpanYear  Span = "year"
)

// Planner errors.
var (
	ErrInvalidSpan     = errors.New("invalid segment span")
	ErrInvalidPattern  = errors.New("invalid segment pattern")
	ErrNoRange         = errors.New("dated segment pattern requires a time range")
	ErrTooManySegments = errors.New("too many segments")
)

// ParseSpan parses a span name. The empty string means SpanNone.
func ParseSpan(s string) (Span, error) {
	switch sp := Span(strings.ToLower(strings.TrimSpace(s))); sp {
	case "":
		return SpanNone, nil
	case SpanNone, SpanHour, SpanDay, SpanWeek, SpanMonth, SpanYear:
		return sp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSpan, s)
	}
}

// Bounds is one planned segment: its name and the [From, To) milliseconds it covers.
type Bounds struct {
	Name string
	From int64
	To   int64
}

// Planner derives segment names from a dated pattern.
//
// Pattern text inside square brackets is literal; everything else is a Go
// time layout. "[logstash-]2006.01.02" with SpanDay yields names like
// "logstash-2026.10.18".
type Planner struct {
	Pattern     string
	Span        Span
	Location    *time.Location
	MaxSegments int
}

type patternPart struct {
	text    string
	literal bool
}

// Plan lists the segments intersecting rng, newest first.
// With SpanNone the pattern's literal text is the one segment and rng may be nil.
func (p *Planner) Plan(rng *interval.TimeRange) ([]Bounds, error) {
	parts, err := parsePattern(p.Pattern)
	if err != nil {
		return nil, err
	}

	if p.Span == "" || p.Span == SpanNone {
		var name strings.Builder
		for _, part := range parts {
			name.WriteString(part.text)
		}

		b := Bounds{Name: name.String()}
		if rng != nil {
			b.From, b.To = rng.From.UnixMilli(), rng.To.UnixMilli()
		}

		return []Bounds{b}, nil
	}

	if rng == nil {
		return nil, ErrNoRange
	}

	limit := p.MaxSegments
	if limit <= 0 {
		limit = DefaultMaxSegments
	}

	loc := p.location()
	end := rng.To.In(loc)

	var out []Bounds

	for start := p.truncate(rng.From.In(loc)); !start.After(end); {
		next, err := p.advance(start)
		if err != nil {
			return nil, err
		}

		if len(out) == limit {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManySegments, limit)
		}

		out = append(out, Bounds{
			Name: formatName(parts, start),
			From: start.UnixMilli(),
			To:   next.UnixMilli(),
		})

		start = next
	}

	slices.Reverse(out)

	return out, nil
}

// Names returns just the segment names of Plan.
func (p *Planner) Names(rng *interval.TimeRange) ([]string, error) {
	bounds, err := p.Plan(rng)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(bounds))
	for i, b := range bounds {
		names[i] = b.Name
	}

	return names, nil
}

func (p *Planner) location() *time.Location {
	if p.Location != nil {
		return p.Location
	}

	return time.UTC
}

func (p *Planner) truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()

	switch p.Span {
	case SpanHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case SpanWeek:
		// ISO weeks start on Monday.
		offset := (int(t.Weekday()) + 6) % 7

		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case SpanMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case SpanYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

func (p *Planner) advance(t time.Time) (time.Time, error) {
	switch p.Span {
	case SpanHour:
		return t.Add(time.Hour), nil
	case SpanDay:
		return t.AddDate(0, 0, 1), nil
	case SpanWeek:
		return t.AddDate(0, 0, 7), nil
	case SpanMonth:
		return t.AddDate(0, 1, 0), nil
	case SpanYear:
		return t.AddDate(1, 0, 0), nil
	default:
		return t, fmt.Errorf("%w: %q", ErrInvalidSpan, p.Span)
	}
}

func parsePattern(pattern string) ([]patternPart, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}

	var parts []patternPart

	rest := pattern
	for rest != "" {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			parts = append(parts, patternPart{text: rest})

			break
		}

		if open > 0 {
			parts = append(parts, patternPart{text: rest[:open]})
		}

		closing := strings.IndexByte(rest[open:], ']')
		if closing < 0 {
			return nil, fmt.Errorf("%w: unclosed '[' in %q", ErrInvalidPattern, pattern)
		}

		parts = append(parts, patternPart{text: rest[open+1 : open+closing], literal: true})
		rest = rest[open+closing+1:]
	}

	return parts, nil
}

func formatName(parts []patternPart, t time.Time) string {
	var b strings.Builder

	for _, part := range parts {
		if part.literal {
			b.WriteString(part.text)
		} else {
			b.WriteString(t.Format(part.text))
		}
	}

	return b.String()
}
