package segment

import (
	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/histogram/pkg/align"
	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/query"
	"github.com/Sumatoshi-tech/histogram/pkg/timeseries"
)

// SeriesResult is one aligned series in a notification.
type SeriesResult struct {
	ID     string
	Label  string
	Color  string
	Points []timeseries.Pair
	Hits   int64

	// Err is set when aggregation for this query stopped early in the session.
	Err error
}

// Notification is sent to the Sink after every merged segment and when a session aborts.
type Notification struct {
	SessionID  uuid.UUID
	Generation Generation
	State      State
	Segment    int
	Segments   int
	Interval   interval.Interval
	Series     []SeriesResult
	Hits       int64
	Malformed  int64
	Err        error
}

// Sink receives render-ready data.
type Sink interface {
	Render(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(n Notification)

// Render implements Sink.
func (f SinkFunc) Render(n Notification) { f(n) }

type seriesState struct {
	query  query.Descriptor
	series *timeseries.Series
	err    error
}

// session holds everything one fetch session accumulates. Only the coordinator
// touches it, and only while holding its lock.
type session struct {
	id         uuid.UUID
	generation Generation
	req        Request
	state      State
	series     []*seriesState
	hits       int64
	malformed  int64
	err        error
	last       Notification
	done       chan struct{}
}

func newSession(gen Generation, req Request) *session {
	return &session{
		id:         uuid.New(),
		generation: gen,
		req:        req,
		state:      fetching(0),
		done:       make(chan struct{}),
	}
}

// resetSeries creates fresh series for every query.
func (s *session) resetSeries() {
	s.series = make([]*seriesState, len(s.req.Queries))
	s.hits = 0

	for i, q := range s.req.Queries {
		s.series[i] = &seriesState{
			query: q,
			series: timeseries.New(timeseries.Options{
				Interval: s.req.Interval,
				Range:    s.req.Range,
				Fill:     s.req.Fill,
				Mode:     q.Mode,
			}),
		}
	}
}

// inRange reports whether ts falls in the session range, widened down to the
// start of the first bucket. A session without a range accepts any time.
func (s *session) inRange(ts int64) bool {
	rng := s.req.Range
	if rng == nil {
		return true
	}

	return ts >= s.req.Interval.Floor(rng.From.UnixMilli()) && ts <= rng.To.UnixMilli()
}

func (s *session) finish(st State) {
	s.state = st

	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *session) notification() Notification {
	n := Notification{
		SessionID:  s.id,
		Generation: s.generation,
		State:      s.state,
		Segment:    s.state.Segment,
		Segments:   s.req.Segments,
		Interval:   s.req.Interval,
		Hits:       s.hits,
		Malformed:  s.malformed,
		Err:        s.err,
	}

	if len(s.series) == 0 {
		return n
	}

	inputs := make([]align.Input, len(s.series))
	for i, st := range s.series {
		inputs[i] = align.Input{ID: st.query.ID, Series: st.series}
	}

	aligned := align.Align(inputs)

	n.Series = make([]SeriesResult, len(s.series))
	for i, st := range s.series {
		n.Series[i] = SeriesResult{
			ID:     st.query.ID,
			Label:  st.query.Label(),
			Color:  st.query.Color,
			Points: aligned[st.query.ID],
			Hits:   st.series.Hits(),
			Err:    st.err,
		}
	}

	return n
}
