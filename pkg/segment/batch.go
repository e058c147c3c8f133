package segment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/query"
)

// Record errors.
var (
	// ErrMalformedRecord marks a record whose timestamp or value cannot be used.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrSampleTruncated marks a values-mode query whose sample hit the source row cap.
	ErrSampleTruncated = errors.New("sample truncated at max rows")
)

// Record is one raw entry for a query.
//
// Time is an RFC 3339 timestamp or a decimal epoch-millisecond count. Value is
// the bucket count in count mode and the sampled field in values mode; it is
// nil when the source found no value.
type Record struct {
	Time  string
	Value *float64
}

// Batch is the complete result of one segment fetch, keyed by query id.
// Records for a query keep the order the source produced them in.
// Truncated names the queries whose sample was cut short by the source.
type Batch struct {
	Records   map[string][]Record
	Truncated map[string]bool
}

// FetchRequest is what a Source is asked for.
type FetchRequest struct {
	Generation Generation
	Segment    int
	Segments   int
	Range      *interval.TimeRange
	Interval   interval.Interval
	Queries    []query.Descriptor
}

// Source returns the raw batch for one segment.
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) (Batch, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req FetchRequest) (Batch, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, req FetchRequest) (Batch, error) {
	return f(ctx, req)
}

// Result is a completed fetch delivered back to the coordinator.
type Result struct {
	Generation Generation
	Segment    int
	Batch      Batch
	Err        error
}

// ParseTime converts a record timestamp into epoch milliseconds.
func ParseTime(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty timestamp", ErrMalformedRecord)
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q", ErrMalformedRecord, raw)
	}

	return ts.UnixMilli(), nil
}
