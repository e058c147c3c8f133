// Package align puts several bucketed series on one shared time axis so they
// can be stacked index for index.
package align

import (
	"slices"

	"github.com/Sumatoshi-tech/histogram/pkg/timeseries"
)

// Input is one series to align, keyed by its query id.
type Input struct {
	ID     string
	Series *timeseries.Series
}

// Align returns one aligned point sequence per input.
//
// A single series is returned as its own FlotPairs. With more than one, every
// series is projected onto the sorted union of all populated bucket times, so
// all outputs have equal length and identical timestamps.
func Align(inputs []Input) map[string][]timeseries.Pair {
	out := make(map[string][]timeseries.Pair, len(inputs))

	if len(inputs) == 1 {
		out[inputs[0].ID] = inputs[0].Series.FlotPairs(nil)

		return out
	}

	union := UnionTimes(inputs)

	for _, in := range inputs {
		if len(union) == 0 {
			out[in.ID] = []timeseries.Pair{}

			continue
		}

		out[in.ID] = in.Series.FlotPairs(union)
	}

	return out
}

// UnionTimes merges the ordered times of every input into one sorted, deduplicated axis.
func UnionTimes(inputs []Input) []int64 {
	size := 0
	for _, in := range inputs {
		size += in.Series.Len()
	}

	union := make([]int64, 0, size)
	for _, in := range inputs {
		union = append(union, in.Series.OrderedTimes()...)
	}

	slices.Sort(union)

	return slices.Compact(union)
}
