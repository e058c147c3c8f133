package segment_test

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/query"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
	"github.com/Sumatoshi-tech/histogram/pkg/timeseries"
)

const minute = int64(60_000)

func f(v float64) *float64 { return &v }

// manualDispatch queues fetches so a test decides when each one completes.
type manualDispatch struct {
	mu      sync.Mutex
	pending []func()
}

func (d *manualDispatch) dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, fn)
}

func (d *manualDispatch) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.pending)
}

func (d *manualDispatch) runNext(t *testing.T) {
	t.Helper()

	d.mu.Lock()
	require.NotEmpty(t, d.pending, "no fetch pending")

	fn := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()

	fn()
}

func (d *manualDispatch) drain(t *testing.T) {
	t.Helper()

	for d.len() > 0 {
		d.runNext(t)
	}
}

type recordingSink struct {
	mu    sync.Mutex
	notes []segment.Notification
}

func (s *recordingSink) Render(n segment.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes = append(s.notes, n)
}

func (s *recordingSink) all() []segment.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]segment.Notification(nil), s.notes...)
}

func (s *recordingSink) last(t *testing.T) segment.Notification {
	t.Helper()

	notes := s.all()
	require.NotEmpty(t, notes)

	return notes[len(notes)-1]
}

// segmentSource serves a fixed batch per segment index.
func segmentSource(batches map[int]segment.Batch, errs map[int]error) segment.SourceFunc {
	return func(_ context.Context, req segment.FetchRequest) (segment.Batch, error) {
		if err := errs[req.Segment]; err != nil {
			return segment.Batch{}, err
		}

		return batches[req.Segment], nil
	}
}

func countQuery(id string) query.Descriptor {
	return query.Descriptor{ID: id, Mode: query.ModeCount}
}

func valuesQuery(id string) query.Descriptor {
	return query.Descriptor{ID: id, Mode: query.ModeValues, ValueField: "latency"}
}

func newRequest(segments int, queries ...query.Descriptor) segment.Request {
	return segment.Request{
		Interval: interval.MustParse("1m"),
		Fill:     timeseries.FillMinimal,
		Queries:  queries,
		Segments: segments,
	}
}

func newCoordinator(src segment.Source) (*segment.Coordinator, *manualDispatch, *recordingSink) {
	d := &manualDispatch{}
	sink := &recordingSink{}

	c := segment.New(segment.Config{Source: src, Sink: sink, Dispatch: d.dispatch})

	return c, d, sink
}

func pointValues(points []timeseries.Pair) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}

	return out
}

func TestCoordinator_IdleBeforeStart(t *testing.T) {
	t.Parallel()

	c, _, _ := newCoordinator(segmentSource(nil, nil))

	assert.Equal(t, segment.State{Phase: segment.PhaseIdle}, c.State())
	assert.Equal(t, segment.Generation(0), c.Generation())
	assert.Equal(t, segment.PhaseIdle, c.Snapshot().State.Phase)

	_, err := c.Wait(context.Background())
	require.ErrorIs(t, err, segment.ErrNoSession)
}

func TestCoordinator_MergesSegmentsInOrder(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"a": {{Time: "0", Value: f(5)}, {Time: "120000", Value: f(3)}},
		}},
		1: {Records: map[string][]segment.Record{
			"a": {{Time: "60000", Value: f(1)}, {Time: "1970-01-01T00:00:10Z", Value: f(2)}},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	gen, err := c.Start(context.Background(), newRequest(2, countQuery("a")))
	require.NoError(t, err)
	assert.Equal(t, segment.Generation(1), gen)
	assert.Equal(t, "FetchingSegment(0)", c.State().String())

	d.runNext(t)

	notes := sink.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "Merging(0)", notes[0].State.String())
	assert.Equal(t, []float64{5, 0, 3}, pointValues(notes[0].Series[0].Points))
	assert.Equal(t, int64(8), notes[0].Hits)
	assert.Equal(t, "FetchingSegment(1)", c.State().String())
	assert.Equal(t, 1, d.len(), "segment 1 is issued after segment 0 merges")

	d.runNext(t)

	final := sink.last(t)
	assert.Equal(t, segment.PhaseDone, final.State.Phase)
	assert.Equal(t, []float64{7, 1, 3}, pointValues(final.Series[0].Points))
	assert.Equal(t, []int64{0, minute, 2 * minute}, []int64{
		final.Series[0].Points[0].Time, final.Series[0].Points[1].Time, final.Series[0].Points[2].Time,
	})
	assert.Equal(t, int64(11), final.Hits)
	assert.Equal(t, int64(11), final.Series[0].Hits)
	assert.Equal(t, 0, d.len())

	n, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, final.Hits, n.Hits)
	assert.Equal(t, final.SessionID, n.SessionID)
}

func TestCoordinator_StaleGenerationDropped(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	src := segment.SourceFunc(func(_ context.Context, req segment.FetchRequest) (segment.Batch, error) {
		calls.Add(1)

		value := 100.0
		if req.Generation == 2 {
			value = 1
		}

		return segment.Batch{Records: map[string][]segment.Record{
			"a": {{Time: "0", Value: f(value)}},
		}}, nil
	})

	c, d, sink := newCoordinator(src)
	ctx := context.Background()

	gen1, err := c.Start(ctx, newRequest(3, countQuery("a")))
	require.NoError(t, err)

	gen2, err := c.Start(ctx, newRequest(1, countQuery("a")))
	require.NoError(t, err)
	assert.Greater(t, gen2, gen1)

	// Generation 1's fetch resolves after generation 2 started.
	d.runNext(t)
	assert.Empty(t, sink.all())
	assert.Equal(t, 1, d.len(), "the stale completion must not issue segment 1")

	d.runNext(t)

	notes := sink.all()
	require.Len(t, notes, 1)
	assert.Equal(t, gen2, notes[0].Generation)
	assert.Equal(t, []float64{1}, pointValues(notes[0].Series[0].Points))
	assert.Equal(t, int32(2), calls.Load())

	assert.False(t, c.Complete(ctx, segment.Result{Generation: gen1, Segment: 1}))
	assert.Equal(t, segment.PhaseDone, c.State().Phase)
}

func TestCoordinator_UnexpectedSegmentIgnored(t *testing.T) {
	t.Parallel()

	c, d, sink := newCoordinator(segmentSource(nil, nil))
	ctx := context.Background()

	gen, err := c.Start(ctx, newRequest(3, countQuery("a")))
	require.NoError(t, err)

	assert.False(t, c.Complete(ctx, segment.Result{Generation: gen, Segment: 2}))
	assert.Equal(t, "FetchingSegment(0)", c.State().String())
	assert.Empty(t, sink.all())
	assert.Equal(t, 1, d.len())
}

func TestCoordinator_UnknownQueryIdsIgnored(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"a":     {{Time: "0", Value: f(2)}},
			"extra": {{Time: "0", Value: f(50)}},
		}},
		1: {Records: map[string][]segment.Record{
			"a": {{Time: "60000", Value: f(1)}},
		}},
	}, nil)

	sink := &recordingSink{}
	c := segment.New(segment.Config{Source: src, Sink: sink})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Start(ctx, newRequest(2, countQuery("a")))
	require.NoError(t, err)

	n, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, segment.PhaseDone, n.State.Phase)
	assert.Equal(t, int64(3), n.Hits)
	require.Len(t, n.Series, 1)
	assert.Equal(t, []float64{2, 1}, pointValues(n.Series[0].Points))
	assert.Len(t, sink.all(), 2)
}

func TestCoordinator_FarTimestampCountedMalformed(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"a": {
				{Time: "0", Value: f(1)},
				{Time: "-4000000000000000000", Value: f(1)},
				{Time: "60000", Value: f(2)},
			},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	_, err := c.Start(context.Background(), newRequest(1, countQuery("a")))
	require.NoError(t, err)

	require.NotPanics(t, func() { d.drain(t) })

	final := sink.last(t)
	assert.Equal(t, segment.PhaseDone, final.State.Phase)
	assert.Equal(t, int64(1), final.Malformed)
	assert.Equal(t, int64(3), final.Hits)
	assert.Equal(t, []float64{1, 2}, pointValues(final.Series[0].Points))
}

func TestCoordinator_RecordsOutsideRangeCountedMalformed(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"a": {
				// The first bucket starts before the range and is kept.
				{Time: "60000", Value: f(1)},
				{Time: "120000", Value: f(2)},
				{Time: "0", Value: f(7)},
				{Time: "600000", Value: f(9)},
			},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	req := newRequest(1, countQuery("a"))
	rng := interval.NewTimeRange(time.UnixMilli(90_000), time.UnixMilli(150_000))
	req.Range = &rng

	_, err := c.Start(context.Background(), req)
	require.NoError(t, err)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, int64(2), final.Malformed)
	assert.Equal(t, int64(3), final.Hits)
	assert.Equal(t, []float64{1, 2}, pointValues(final.Series[0].Points))
}

func TestCoordinator_CountValuesMustBeWholeNumbers(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"a": {
				{Time: "0", Value: f(2)},
				{Time: "0", Value: f(1.5)},
				{Time: "0", Value: f(math.NaN())},
				{Time: "0", Value: f(math.Inf(1))},
				{Time: "0", Value: f(-1)},
			},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	_, err := c.Start(context.Background(), newRequest(1, countQuery("a")))
	require.NoError(t, err)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, int64(4), final.Malformed)
	assert.Equal(t, int64(2), final.Hits)
	assert.Equal(t, []float64{2}, pointValues(final.Series[0].Points))
}

func TestCoordinator_TruncatedSampleStopsThatQuery(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {
			Records: map[string][]segment.Record{
				"v": {{Time: "0", Value: f(10)}, {Time: "60000", Value: f(20)}},
				"c": {{Time: "0", Value: f(1)}},
			},
			Truncated: map[string]bool{"v": true},
		},
		1: {Records: map[string][]segment.Record{
			"v": {{Time: "120000", Value: f(30)}},
			"c": {{Time: "120000", Value: f(3)}},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	_, err := c.Start(context.Background(), newRequest(2, valuesQuery("v"), countQuery("c")))
	require.NoError(t, err)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, segment.PhaseDone, final.State.Phase)
	require.NoError(t, final.Err)

	v, cs := final.Series[0], final.Series[1]
	require.ErrorIs(t, v.Err, segment.ErrSampleTruncated)
	require.NoError(t, cs.Err)
	assert.Equal(t, []float64{10, 20, 0}, pointValues(v.Points))
	assert.Equal(t, []float64{1, 0, 3}, pointValues(cs.Points))
	assert.Equal(t, int64(2), v.Hits)
}

func TestCoordinator_LateStaleResultLeavesMergedSeries(t *testing.T) {
	t.Parallel()

	src := segment.SourceFunc(func(_ context.Context, req segment.FetchRequest) (segment.Batch, error) {
		value := 100.0
		if req.Generation == 2 {
			value = float64(req.Segment + 1)
		}

		return segment.Batch{Records: map[string][]segment.Record{
			"a": {{Time: strconv.Itoa(req.Segment * 60_000), Value: f(value)}},
		}}, nil
	})

	c, d, sink := newCoordinator(src)
	ctx := context.Background()

	gen1, err := c.Start(ctx, newRequest(3, countQuery("a")))
	require.NoError(t, err)

	// Hold generation 1's fetch while generation 2 merges its first segment.
	d.mu.Lock()
	held := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()

	_, err = c.Start(ctx, newRequest(2, countQuery("a")))
	require.NoError(t, err)

	d.runNext(t)

	before := c.Snapshot()
	require.Len(t, before.Series, 1)
	assert.Equal(t, []float64{1}, pointValues(before.Series[0].Points))
	assert.Equal(t, "FetchingSegment(1)", c.State().String())

	held()

	assert.False(t, c.Complete(ctx, segment.Result{
		Generation: gen1,
		Segment:    0,
		Batch: segment.Batch{Records: map[string][]segment.Record{
			"a": {{Time: "0", Value: f(500)}},
		}},
	}))

	after := c.Snapshot()
	assert.Equal(t, pointValues(before.Series[0].Points), pointValues(after.Series[0].Points))
	assert.Equal(t, before.Hits, after.Hits)
	assert.Equal(t, "FetchingSegment(1)", c.State().String())
	assert.Len(t, sink.all(), 1)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, segment.PhaseDone, final.State.Phase)
	assert.Equal(t, []float64{1, 2}, pointValues(final.Series[0].Points))
	assert.Equal(t, int64(3), final.Hits)
}

func TestCoordinator_TransportErrorAbortsKeepingPartialData(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("connection reset")
	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{"a": {{Time: "0", Value: f(4)}}}},
	}, map[int]error{1: errBoom})

	c, d, sink := newCoordinator(src)

	_, err := c.Start(context.Background(), newRequest(3, countQuery("a")))
	require.NoError(t, err)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, "Aborted", final.State.String())
	assert.Equal(t, 1, final.Segment)
	require.ErrorIs(t, final.Err, errBoom)
	assert.Equal(t, []float64{4}, pointValues(final.Series[0].Points))
	assert.Len(t, sink.all(), 2)

	_, err = c.Wait(context.Background())
	require.ErrorIs(t, err, errBoom)
}

func TestCoordinator_MalformedRecordsSkipped(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"a": {
				{Time: "0", Value: f(2)},
				{Time: "yesterday", Value: f(9)},
				{Time: "60000", Value: nil},
				{Time: "", Value: f(1)},
				{Time: "60000", Value: f(3)},
			},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	_, err := c.Start(context.Background(), newRequest(1, countQuery("a")))
	require.NoError(t, err)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, segment.PhaseDone, final.State.Phase)
	assert.Equal(t, int64(3), final.Malformed)
	assert.Equal(t, int64(5), final.Hits)
	assert.Equal(t, []float64{2, 3}, pointValues(final.Series[0].Points))
}

func TestCoordinator_ValidationBeforeFetch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	src := segment.SourceFunc(func(context.Context, segment.FetchRequest) (segment.Batch, error) {
		calls.Add(1)

		return segment.Batch{}, nil
	})

	c, d, sink := newCoordinator(src)
	ctx := context.Background()

	tests := []struct {
		name string
		req  segment.Request
		want error
	}{
		{"missing_value_field", newRequest(1, query.Descriptor{ID: "v", Mode: query.ModeValues}), query.ErrMissingFieldConfiguration},
		{"no_queries", newRequest(1), query.ErrNoQueries},
		{"duplicate_ids", newRequest(1, countQuery("a"), countQuery("a")), query.ErrDuplicateID},
		{"no_segments", newRequest(0, countQuery("a")), segment.ErrNoSegments},
		{"zero_interval", segment.Request{Queries: []query.Descriptor{countQuery("a")}, Segments: 1}, interval.ErrInvalidInterval},
	}

	for _, tt := range tests {
		_, err := c.Start(ctx, tt.req)
		require.ErrorIs(t, err, tt.want, tt.name)
	}

	assert.Equal(t, segment.Generation(0), c.Generation())
	assert.Equal(t, segment.PhaseIdle, c.State().Phase)
	assert.Equal(t, 0, d.len())
	assert.Empty(t, sink.all())
	assert.Equal(t, int32(0), calls.Load())
}

func TestCoordinator_IncompleteSampleAbortsOnlyThatQuery(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"v": {{Time: "0", Value: f(10)}, {Time: "60000", Value: nil}, {Time: "120000", Value: f(30)}},
			"c": {{Time: "0", Value: f(1)}, {Time: "120000", Value: f(2)}},
		}},
		1: {Records: map[string][]segment.Record{
			"v": {{Time: "180000", Value: f(40)}},
			"c": {{Time: "180000", Value: f(4)}},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	_, err := c.Start(context.Background(), newRequest(2, valuesQuery("v"), countQuery("c")))
	require.NoError(t, err)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, segment.PhaseDone, final.State.Phase)
	require.NoError(t, final.Err)
	require.Len(t, final.Series, 2)

	v, cs := final.Series[0], final.Series[1]
	require.ErrorIs(t, v.Err, timeseries.ErrIncompleteSample)
	require.NoError(t, cs.Err)

	// The values query keeps what it merged before the failure and nothing after.
	assert.Equal(t, []float64{10, 0, 0}, pointValues(v.Points))
	assert.Equal(t, []float64{1, 2, 4}, pointValues(cs.Points))
	assert.Equal(t, int64(1), v.Hits)
	assert.Len(t, v.Points, len(cs.Points))
}

func TestCoordinator_ValuesModeHitsPerRecord(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{
			"v": {{Time: "1000", Value: f(7)}, {Time: "2000", Value: f(9)}, {Time: "61000", Value: f(2)}},
		}},
	}, nil)

	c, d, sink := newCoordinator(src)

	_, err := c.Start(context.Background(), newRequest(1, valuesQuery("v")))
	require.NoError(t, err)

	d.drain(t)

	final := sink.last(t)
	assert.Equal(t, int64(3), final.Hits)
	assert.Equal(t, []float64{9, 2}, pointValues(final.Series[0].Points))
}

func TestCoordinator_NewSessionResetsSeries(t *testing.T) {
	t.Parallel()

	src := segmentSource(map[int]segment.Batch{
		0: {Records: map[string][]segment.Record{"a": {{Time: "0", Value: f(5)}}}},
	}, nil)

	c, d, sink := newCoordinator(src)
	ctx := context.Background()

	_, err := c.Start(ctx, newRequest(1, countQuery("a")))
	require.NoError(t, err)
	d.drain(t)

	_, err = c.Start(ctx, newRequest(1, countQuery("a")))
	require.NoError(t, err)
	d.drain(t)

	notes := sink.all()
	require.Len(t, notes, 2)
	assert.NotEqual(t, notes[0].SessionID, notes[1].SessionID)
	assert.Equal(t, []float64{5}, pointValues(notes[1].Series[0].Points))
	assert.Equal(t, int64(5), notes[1].Hits)
}

func TestCoordinator_GoroutineDispatch(t *testing.T) {
	t.Parallel()

	src := segment.SourceFunc(func(_ context.Context, req segment.FetchRequest) (segment.Batch, error) {
		return segment.Batch{Records: map[string][]segment.Record{
			"a": {{Time: "0", Value: f(float64(req.Segment + 1))}},
		}}, nil
	})

	sink := &recordingSink{}
	c := segment.New(segment.Config{Source: src, Sink: sink})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Start(ctx, newRequest(4, countQuery("a")))
	require.NoError(t, err)

	n, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, segment.PhaseDone, n.State.Phase)
	assert.Equal(t, int64(10), n.Hits)
	assert.Len(t, sink.all(), 4)

	for i, note := range sink.all() {
		assert.Equal(t, i, note.Segment)
	}
}

func TestCoordinator_WaitSuperseded(t *testing.T) {
	t.Parallel()

	c, _, _ := newCoordinator(segmentSource(nil, nil))
	ctx := context.Background()

	_, err := c.Start(ctx, newRequest(2, countQuery("a")))
	require.NoError(t, err)

	waitErr := make(chan error, 1)

	go func() {
		_, werr := c.Wait(ctx)
		waitErr <- werr
	}()

	// Let the waiter pick up the first session, though either order is valid.
	time.Sleep(10 * time.Millisecond)

	_, err = c.Start(ctx, newRequest(2, countQuery("a")))
	require.NoError(t, err)

	select {
	case werr := <-waitErr:
		if werr != nil {
			require.ErrorIs(t, werr, segment.ErrSuperseded)
		}
	case <-time.After(200 * time.Millisecond):
		// The waiter attached to the second session, which never completes here.
	}
}
