// Package interval resolves histogram bucket widths.
//
// Widths are fixed millisecond counts. Calendar units are approximated the way
// dashboard date math does it: a month is 30 days and a year is 365 days, so
// every bucket boundary is an exact multiple of the width from the Unix epoch.
package interval

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit widths in milliseconds.
const (
	Millisecond int64 = 1
	Second            = 1000 * Millisecond
	Minute            = 60 * Second
	Hour              = 60 * Minute
	Day               = 24 * Hour
	Week              = 7 * Day
	Month             = 30 * Day
	Year              = 365 * Day
)

// ErrInvalidInterval is returned when an interval string cannot be parsed or is not positive.
var ErrInvalidInterval = errors.New("invalid interval")

type unit struct {
	suffix string
	millis int64
}

// units is ordered from widest to narrowest; Format picks the first exact divisor.
var units = []unit{
	{"y", Year},
	{"M", Month},
	{"w", Week},
	{"d", Day},
	{"h", Hour},
	{"m", Minute},
	{"s", Second},
	{"ms", Millisecond},
}

// Interval is a bucket width in canonical unit-suffixed form.
type Interval struct {
	Text   string
	Millis int64
}

// FromMillis builds an Interval from a positive millisecond count.
func FromMillis(ms int64) (Interval, error) {
	if ms <= 0 {
		return Interval{}, fmt.Errorf("%w: %dms", ErrInvalidInterval, ms)
	}

	return Interval{Text: Format(ms), Millis: ms}, nil
}

// Parse converts strings such as "5m", "1d" or "250ms" into an Interval.
// The returned Text is canonical, so Parse("60s").Text is "1m".
func Parse(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Interval{}, fmt.Errorf("%w: empty", ErrInvalidInterval)
	}

	split := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if split <= 0 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}

	count, err := strconv.ParseInt(s[:split], 10, 64)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %q: %w", ErrInvalidInterval, s, err)
	}

	suffix := s[split:]

	for _, u := range units {
		if u.suffix != suffix {
			continue
		}

		if count <= 0 {
			return Interval{}, fmt.Errorf("%w: %q is not positive", ErrInvalidInterval, s)
		}

		if count > math.MaxInt64/u.millis {
			return Interval{}, fmt.Errorf("%w: %q overflows", ErrInvalidInterval, s)
		}

		return FromMillis(count * u.millis)
	}

	return Interval{}, fmt.Errorf("%w: unknown unit in %q", ErrInvalidInterval, s)
}

// MustParse is Parse for package-level constants. It panics on error.
func MustParse(s string) Interval {
	iv, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return iv
}

// Format renders ms using the widest unit that divides it exactly.
func Format(ms int64) string {
	for _, u := range units {
		if ms%u.millis == 0 {
			return strconv.FormatInt(ms/u.millis, 10) + u.suffix
		}
	}

	return strconv.FormatInt(ms, 10) + "ms"
}

// String implements fmt.Stringer.
func (iv Interval) String() string {
	return iv.Text
}

// Floor returns the start of the bucket that owns ts (epoch milliseconds).
// Negative timestamps round toward negative infinity.
func (iv Interval) Floor(ts int64) int64 {
	q := ts / iv.Millis
	if ts%iv.Millis != 0 && ts < 0 {
		q--
	}

	return q * iv.Millis
}

// Label formats the interval for display, marking automatically chosen widths.
func (iv Interval) Label(auto bool) string {
	if auto {
		return iv.Text + " (auto)"
	}

	return iv.Text
}

// LabelLayout returns a time layout suitable for axis labels at this width.
func (iv Interval) LabelLayout() string {
	switch {
	case iv.Millis >= Month:
		return "01/06"
	case iv.Millis >= Day:
		return "01/02/06"
	case iv.Millis >= Minute:
		return "15:04 01/02"
	default:
		return "15:04:05"
	}
}
