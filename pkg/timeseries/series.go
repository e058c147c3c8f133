// Package timeseries accumulates values into fixed-width time buckets.
//
// A Series owns an ordered mapping from bucket start (epoch milliseconds) to
// value. Count series add into a bucket; value series keep the last sample
// written to it. Output is produced as (timestamp, value) pairs, either for the
// buckets the series itself holds or for an externally supplied time axis.
package timeseries

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/query"
)

// FillValue is written into buckets a series has no data for.
const FillValue = 0

// MaxBuckets bounds how many buckets a filled series may span.
const MaxBuckets = 1_000_000

// ErrIncompleteSample is returned when a values-mode series receives no amount.
var ErrIncompleteSample = errors.New("sample has no value")

// ErrInvalidFill is returned when parsing an unknown fill style.
var ErrInvalidFill = errors.New("invalid fill style")

// ErrTooManyBuckets is returned when a value would stretch the filled span past MaxBuckets.
var ErrTooManyBuckets = errors.New("too many buckets")

// Fill declares which empty buckets are synthesized on output.
type Fill string

// Fill styles.
const (
	// FillMinimal zero-fills gaps between the first and last populated bucket.
	FillMinimal Fill = "minimal"
	// FillNone emits populated buckets only.
	FillNone Fill = "none"
	// FillAll zero-fills every bucket in the configured range.
	FillAll Fill = "all"
)

// ParseFill converts a configuration string into a Fill.
func ParseFill(s string) (Fill, error) {
	switch Fill(s) {
	case FillMinimal, FillNone, FillAll:
		return Fill(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFill, s)
	}
}

// Pair is one plotted point.
type Pair struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Options configures a Series.
type Options struct {
	Interval interval.Interval
	Range    *interval.TimeRange
	Fill     Fill
	Mode     query.Mode
}

// Series is a zero-filled time series for one query.
// It is not safe for concurrent mutation.
type Series struct {
	opts   Options
	values map[int64]float64
	times  []int64 // Sorted bucket keys; nil when stale.
	first  int64
	last   int64
	hits   int64
}

// New creates an empty Series. An empty Fill defaults to FillMinimal and an
// empty Mode to query.ModeCount.
func New(opts Options) *Series {
	if opts.Fill == "" {
		opts.Fill = FillMinimal
	}

	if opts.Mode == "" {
		opts.Mode = query.ModeCount
	}

	return &Series{
		opts:   opts,
		values: make(map[int64]float64),
	}
}

// Interval returns the bucket width.
func (s *Series) Interval() interval.Interval {
	return s.opts.Interval
}

// Mode returns the aggregation mode.
func (s *Series) Mode() query.Mode {
	return s.opts.Mode
}

// Len returns the number of populated buckets.
func (s *Series) Len() int {
	return len(s.values)
}

// Hits returns the running hit counter.
func (s *Series) Hits() int64 {
	return s.hits
}

// AddHits increments the hit counter.
func (s *Series) AddHits(n int64) {
	s.hits += n
}

// Reset drops all buckets and hits.
func (s *Series) Reset() {
	clear(s.values)
	s.times = nil
	s.first, s.last = 0, 0
	s.hits = 0
}

// AddValue merges amount into the bucket owning ts.
// Count series sum amounts; value series overwrite the bucket with the latest amount.
// A nil amount counts as zero for count series and is an error for value series.
// Unless the fill style is FillNone, a bucket that would widen the filled span
// past MaxBuckets is rejected with ErrTooManyBuckets and the series is unchanged.
func (s *Series) AddValue(ts int64, amount *float64) error {
	if amount == nil && s.opts.Mode == query.ModeValues {
		return fmt.Errorf("%w: at %d", ErrIncompleteSample, ts)
	}

	var v float64
	if amount != nil {
		v = *amount
	}

	bucket := s.opts.Interval.Floor(ts)

	prev, seen := s.values[bucket]
	if !seen {
		err := s.widen(bucket)
		if err != nil {
			return err
		}

		s.times = nil
	}

	if s.opts.Mode == query.ModeValues {
		s.values[bucket] = v
	} else {
		s.values[bucket] = prev + v
	}

	return nil
}

// widen extends the populated bounds to bucket, refusing spans over MaxBuckets.
func (s *Series) widen(bucket int64) error {
	if len(s.values) == 0 {
		s.first, s.last = bucket, bucket

		return nil
	}

	first, last := min(s.first, bucket), max(s.last, bucket)

	if s.opts.Fill != FillNone && !s.fits(first, last) {
		return fmt.Errorf("%w: bucket %d is too far from [%d, %d]", ErrTooManyBuckets, bucket, s.first, s.last)
	}

	s.first, s.last = first, last

	return nil
}

// fits reports whether [first, last] holds at most MaxBuckets buckets.
// The subtraction is done in uint64 so extreme keys cannot overflow.
func (s *Series) fits(first, last int64) bool {
	return uint64(last-first)/uint64(s.opts.Interval.Millis) < MaxBuckets
}

// Value returns the accumulated value of the bucket owning ts.
func (s *Series) Value(ts int64) (float64, bool) {
	v, ok := s.values[s.opts.Interval.Floor(ts)]

	return v, ok
}

// OrderedTimes returns the populated bucket keys in ascending order.
// The returned slice is a copy.
func (s *Series) OrderedTimes() []int64 {
	return slices.Clone(s.sortedTimes())
}

func (s *Series) sortedTimes() []int64 {
	if s.times == nil {
		s.times = make([]int64, 0, len(s.values))

		for ts := range s.values {
			s.times = append(s.times, ts)
		}

		slices.Sort(s.times)
	}

	return s.times
}

// FlotPairs returns the series as plot points.
//
// With no required times the populated buckets are returned in ascending order,
// plus whatever empty buckets the fill style synthesizes. With required times
// exactly one pair is returned per entry, in the given order, carrying the
// series value where the bucket exists and FillValue otherwise.
func (s *Series) FlotPairs(required []int64) []Pair {
	if len(required) > 0 {
		pairs := make([]Pair, len(required))

		for i, ts := range required {
			pairs[i] = Pair{Time: ts, Value: s.valueAt(ts)}
		}

		return pairs
	}

	times := s.sortedTimes()

	switch s.opts.Fill {
	case FillNone:
		return s.pairsFor(times)
	case FillAll:
		if s.opts.Range != nil && !s.opts.Range.Degenerate() {
			first := s.opts.Interval.Floor(s.opts.Range.From.UnixMilli())
			last := s.opts.Interval.Floor(s.opts.Range.To.UnixMilli())

			if len(times) > 0 {
				first = min(first, times[0])
				last = max(last, times[len(times)-1])
			}

			if s.fits(first, last) {
				return s.pairsFor(s.span(first, last))
			}

			return s.pairsFor(times)
		}

		fallthrough
	default:
		if len(times) == 0 {
			return []Pair{}
		}

		return s.pairsFor(s.span(times[0], times[len(times)-1]))
	}
}

// span lists every bucket key from first to last inclusive.
func (s *Series) span(first, last int64) []int64 {
	step := s.opts.Interval.Millis
	keys := make([]int64, 0, (last-first)/step+1)

	for ts := first; ts <= last; ts += step {
		keys = append(keys, ts)
	}

	return keys
}

func (s *Series) pairsFor(times []int64) []Pair {
	pairs := make([]Pair, len(times))

	for i, ts := range times {
		pairs[i] = Pair{Time: ts, Value: s.valueAt(ts)}
	}

	return pairs
}

func (s *Series) valueAt(ts int64) float64 {
	if v, ok := s.values[ts]; ok {
		return v
	}

	return FillValue
}
