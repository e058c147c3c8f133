// Package segment drives a histogram fetch session across data segments.
//
// A session fetches segment 0, merges it, notifies the sink, and only then asks
// for segment 1, and so on until the last segment or the first transport
// error. Starting a new session mints a new Generation; completions from any
// older generation are dropped without touching state.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/observability"
	"github.com/Sumatoshi-tech/histogram/pkg/query"
	"github.com/Sumatoshi-tech/histogram/pkg/timeseries"
)

const tracerName = "histogram/segment"

// Sentinel errors.
var (
	// ErrNoSegments is returned when a session is started with fewer than one segment.
	ErrNoSegments = errors.New("at least one segment is required")
	// ErrSuperseded is returned by Wait when a newer session replaced the awaited one.
	ErrSuperseded = errors.New("session superseded")
	// ErrNoSession is returned by Wait before any session has started.
	ErrNoSession = errors.New("no session started")
)

// Request describes one aggregation session.
type Request struct {
	Range    *interval.TimeRange
	Interval interval.Interval
	Fill     timeseries.Fill
	Queries  []query.Descriptor
	Segments int
}

// Validate reports configuration errors that must stop a session before any fetch.
func (r Request) Validate() error {
	err := query.ValidateAll(r.Queries)
	if err != nil {
		return err
	}

	if r.Interval.Millis <= 0 {
		return fmt.Errorf("%w: %q", interval.ErrInvalidInterval, r.Interval.Text)
	}

	if r.Segments < 1 {
		return fmt.Errorf("%w: %d", ErrNoSegments, r.Segments)
	}

	return nil
}

// Config holds the coordinator's collaborators.
type Config struct {
	Source Source
	Sink   Sink

	// Logger is the structured logger. When nil, a discard logger is used.
	Logger *slog.Logger

	// Metrics records fetch metrics. Nil-safe.
	Metrics *observability.FetchMetrics

	// Dispatch runs a fetch. When nil, each fetch runs in its own goroutine.
	Dispatch func(fn func())
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Coordinator runs fetch sessions one segment at a time.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	mu          sync.Mutex
	generation  Generation
	current     *session
	lastQueries []query.Descriptor
}

// New creates a Coordinator in the Idle state.
func New(cfg Config) *Coordinator {
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(fn func()) { go fn() }
	}

	if cfg.Sink == nil {
		cfg.Sink = SinkFunc(func(Notification) {})
	}

	return &Coordinator{
		cfg:    cfg,
		logger: cfg.logger(),
		tracer: otel.Tracer(tracerName),
	}
}

// Generation returns the generation of the most recent session.
func (c *Coordinator) Generation() Generation {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generation
}

// State returns the state of the most recent session, or Idle.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return State{Phase: PhaseIdle}
	}

	return c.current.state
}

// Snapshot returns the notification data for the current session as it stands now.
func (c *Coordinator) Snapshot() Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Notification{State: State{Phase: PhaseIdle}}
	}

	return c.current.notification()
}

// Start begins a new session and issues the fetch for segment 0.
//
// Configuration errors are returned before anything changes. Otherwise the
// previous session, if any, is superseded and its outstanding fetches will be
// ignored when they complete.
func (c *Coordinator) Start(ctx context.Context, req Request) (Generation, error) {
	err := req.Validate()
	if err != nil {
		return 0, err
	}

	if req.Fill == "" {
		req.Fill = timeseries.FillMinimal
	}

	c.mu.Lock()

	c.generation++
	gen := c.generation

	if prev := c.current; prev != nil && !prev.state.Terminal() {
		prev.err = ErrSuperseded
		prev.finish(State{Phase: PhaseAborted, Segment: prev.state.Segment})
	}

	if c.lastQueries != nil && !query.SameSet(c.lastQueries, req.Queries) {
		c.logger.DebugContext(ctx, "segment: query set changed", "generation", gen)
	}

	c.lastQueries = req.Queries
	sess := newSession(gen, req)
	c.current = sess

	c.mu.Unlock()

	ctx = observability.WithSession(ctx, sess.id.String(), uint64(gen))

	c.logger.InfoContext(ctx, "segment: session started",
		"segments", req.Segments, "interval", req.Interval.Text, "queries", len(req.Queries))

	c.issue(ctx, sess, 0)

	return gen, nil
}

// Complete applies a finished fetch. It returns false when the result was
// ignored because it belongs to a superseded session or to a segment the
// session is not waiting for.
func (c *Coordinator) Complete(ctx context.Context, res Result) bool {
	c.mu.Lock()

	sess := c.current
	if sess == nil || res.Generation != sess.generation {
		c.mu.Unlock()
		c.cfg.Metrics.RecordStale(ctx)
		c.logger.DebugContext(ctx, "segment: dropped stale result",
			"generation", res.Generation, "segment", res.Segment)

		return false
	}

	if sess.state != fetching(res.Segment) {
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "segment: unexpected result",
			"session", sess.id, "state", sess.state.String(), "segment", res.Segment)

		return false
	}

	if res.Err != nil {
		sess.err = res.Err
		sess.finish(State{Phase: PhaseAborted, Segment: res.Segment})
		n := sess.notification()
		sess.last = n
		c.mu.Unlock()

		c.cfg.Metrics.RecordSession(ctx, observability.OutcomeAborted)
		c.logger.WarnContext(ctx, "segment: session aborted",
			"session", sess.id, "segment", res.Segment, "error", res.Err)
		c.cfg.Sink.Render(n)

		return true
	}

	if unknown := c.unknownQueries(sess, res.Batch); len(unknown) > 0 {
		c.logger.DebugContext(ctx, "segment: ignored records for other queries",
			"session", sess.id, "segment", res.Segment, "ids", unknown)
	}

	sess.state = merging(res.Segment)
	malformed := c.merge(ctx, sess, res)

	last := res.Segment >= sess.req.Segments-1
	if last {
		sess.finish(State{Phase: PhaseDone, Segment: res.Segment})
	}

	n := sess.notification()
	sess.last = n

	if !last {
		sess.state = fetching(res.Segment + 1)
	}

	c.mu.Unlock()

	c.cfg.Metrics.RecordMalformed(ctx, malformed)
	c.logger.DebugContext(ctx, "segment: merged",
		"session", sess.id, "segment", res.Segment, "hits", n.Hits, "malformed", malformed)

	c.cfg.Sink.Render(n)

	if last {
		c.cfg.Metrics.RecordSession(ctx, observability.OutcomeDone)
		c.logger.InfoContext(ctx, "segment: session done",
			"session", sess.id, "hits", n.Hits, "malformed", n.Malformed)

		return true
	}

	c.issue(ctx, sess, res.Segment+1)

	return true
}

// Wait blocks until the current session reaches a terminal state and returns
// its last notification. The error is the session's error, if any.
func (c *Coordinator) Wait(ctx context.Context) (Notification, error) {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()

	if sess == nil {
		return Notification{}, ErrNoSession
	}

	select {
	case <-sess.done:
	case <-ctx.Done():
		return Notification{}, fmt.Errorf("wait for session: %w", ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return sess.last, sess.err
}

func (c *Coordinator) unknownQueries(sess *session, batch Batch) []string {
	var unknown []string

	for id := range batch.Records {
		found := false

		for _, q := range sess.req.Queries {
			if q.ID == id {
				found = true

				break
			}
		}

		if !found {
			unknown = append(unknown, id)
		}
	}

	return unknown
}

// merge folds one batch into the session. Series are rebuilt at segment 0.
// It returns the number of malformed records skipped.
func (c *Coordinator) merge(ctx context.Context, sess *session, res Result) int64 {
	if res.Segment == 0 || sess.series == nil {
		sess.resetSeries()
	}

	var malformed int64

	for _, st := range sess.series {
		if st.err != nil {
			continue
		}

		for _, rec := range res.Batch.Records[st.query.ID] {
			ts, err := ParseTime(rec.Time)
			if err != nil || !sess.inRange(ts) {
				malformed++

				continue
			}

			hits := int64(1)

			if st.query.Mode == query.ModeCount {
				n, ok := bucketCount(rec.Value)
				if !ok {
					malformed++

					continue
				}

				hits = n
			}

			err = st.series.AddValue(ts, rec.Value)
			if errors.Is(err, timeseries.ErrTooManyBuckets) {
				malformed++

				continue
			}

			if err != nil {
				st.err = err
				c.logger.WarnContext(ctx, "segment: query aborted",
					"session", sess.id, "query", st.query.ID, "error", err)

				break
			}

			st.series.AddHits(hits)
			sess.hits += hits
		}

		if st.err == nil && res.Batch.Truncated[st.query.ID] {
			st.err = fmt.Errorf("%w: query %s, segment %d", ErrSampleTruncated, st.query.ID, res.Segment)
			c.logger.WarnContext(ctx, "segment: query aborted",
				"session", sess.id, "query", st.query.ID, "error", st.err)
		}
	}

	sess.malformed += malformed

	return malformed
}

// bucketCount reads a count-mode record value. Only finite non-negative whole
// numbers are counts.
func bucketCount(v *float64) (int64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 || *v != math.Trunc(*v) || *v >= 1<<62 {
		return 0, false
	}

	return int64(*v), true
}

// issue dispatches the fetch for segment n of sess, unless sess was superseded.
func (c *Coordinator) issue(ctx context.Context, sess *session, n int) {
	c.mu.Lock()
	stale := c.current != sess
	c.mu.Unlock()

	if stale {
		return
	}

	req := FetchRequest{
		Generation: sess.generation,
		Segment:    n,
		Segments:   sess.req.Segments,
		Range:      sess.req.Range,
		Interval:   sess.req.Interval,
		Queries:    sess.req.Queries,
	}

	c.cfg.Dispatch(func() {
		res := c.fetch(ctx, sess, req)
		c.Complete(ctx, res)
	})
}

func (c *Coordinator) fetch(ctx context.Context, sess *session, req FetchRequest) Result {
	ctx, span := c.tracer.Start(ctx, "histogram.segment.fetch",
		trace.WithAttributes(
			attribute.String("session.id", sess.id.String()),
			attribute.Int64("session.generation", int64(req.Generation)),
			attribute.Int("segment.index", req.Segment),
			attribute.Int("segment.count", req.Segments),
		))
	defer span.End()

	start := time.Now()
	batch, err := c.cfg.Source.Fetch(ctx, req)

	c.cfg.Metrics.RecordFetch(ctx, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return Result{
		Generation: req.Generation,
		Segment:    req.Segment,
		Batch:      batch,
		Err:        err,
	}
}
