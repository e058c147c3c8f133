package interval

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how Resolve chooses a width.
type Mode int

// Resolution modes.
const (
	ModeAuto Mode = iota
	ModeFixed
)

// ErrInvalidResolution is returned when auto mode is asked for fewer than one point.
var ErrInvalidResolution = errors.New("resolution must be at least 1")

// ErrInvalidMode is returned when parsing an unknown mode string.
var ErrInvalidMode = errors.New("invalid interval mode")

// Default is used when auto mode has no usable time range.
var Default = Interval{Text: "10m", Millis: 10 * Minute}

// ladder lists the widths auto mode may pick, ascending.
var ladder = []int64{
	Second,
	5 * Second,
	10 * Second,
	30 * Second,
	Minute,
	5 * Minute,
	10 * Minute,
	30 * Minute,
	Hour,
	3 * Hour,
	12 * Hour,
	Day,
	Week,
	Month,
	Year,
}

// ParseMode converts "auto" or "fixed" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto":
		return ModeAuto, nil
	case "fixed":
		return ModeFixed, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeFixed {
		return "fixed"
	}

	return "auto"
}

// TimeRange is a closed span of time. From must not be after To.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// NewTimeRange orders from and to so the invariant From <= To holds.
func NewTimeRange(from, to time.Time) TimeRange {
	if to.Before(from) {
		from, to = to, from
	}

	return TimeRange{From: from, To: to}
}

// Width returns the range span in milliseconds.
func (r TimeRange) Width() int64 {
	return r.To.Sub(r.From).Milliseconds()
}

// Degenerate reports whether the range spans no time.
func (r TimeRange) Degenerate() bool {
	return !r.From.Before(r.To)
}

// Contains reports whether ts (epoch milliseconds) lies inside the range.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.From.UnixMilli() && ts <= r.To.UnixMilli()
}

// Resolve picks the bucket width for a range.
//
// In fixed mode the declared text is parsed. In auto mode the range is split
// into resolution points and the raw width is snapped up to the ladder. A nil or
// degenerate range resolves to Default.
func Resolve(rng *TimeRange, mode Mode, resolution int, fixed string) (Interval, error) {
	if mode == ModeFixed {
		return Parse(fixed)
	}

	if resolution < 1 {
		return Interval{}, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}

	if rng == nil || rng.Degenerate() {
		return Default, nil
	}

	return FromMillis(snap(ceilDiv(rng.Width(), int64(resolution))))
}

// snap returns the smallest ladder width >= raw. Beyond the ladder it counts whole years.
func snap(raw int64) int64 {
	for _, w := range ladder {
		if w >= raw {
			return w
		}
	}

	return ceilDiv(raw, Year) * Year
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 {
		q++
	}

	return q
}

// Zoom scales r about its centre by factor. A factor of 0.5 halves the span.
// When r ends before now, the zoomed range is shifted so it does not reach past now.
func Zoom(r TimeRange, factor float64, now time.Time) TimeRange {
	span := float64(r.To.Sub(r.From))
	centre := r.To.Add(-time.Duration(span / 2))
	half := time.Duration(span * factor / 2)

	from := centre.Add(-half)
	to := centre.Add(half)

	if to.After(now) && r.To.Before(now) {
		offset := to.Sub(now)
		from = from.Add(-offset)
		to = now
	}

	return NewTimeRange(from, to)
}
