package commands

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/histogram/internal/config"
	"github.com/Sumatoshi-tech/histogram/internal/source"
	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/observability"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// errSessionReplaced is returned for fetches whose session was already replaced.
// The coordinator drops such results as stale before looking at the error.
var errSessionReplaced = errors.New("session replaced")

// sessionSources routes each fetch to the source planned for its generation.
type sessionSources struct {
	mu   sync.Mutex
	gen  segment.Generation
	view segment.Source
}

func (s *sessionSources) bind(gen segment.Generation, src segment.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen, s.view = gen, src
}

// Fetch implements segment.Source.
func (s *sessionSources) Fetch(ctx context.Context, req segment.FetchRequest) (segment.Batch, error) {
	s.mu.Lock()
	view, gen := s.view, s.gen
	s.mu.Unlock()

	if view == nil || req.Generation != gen {
		return segment.Batch{}, errSessionReplaced
	}

	return view.Fetch(ctx, req)
}

// runner plans and starts sessions. start must not be called concurrently:
// it predicts the next generation number before the coordinator assigns it.
type runner struct {
	cfg    *config.Config
	store  *source.Store
	coord  *segment.Coordinator
	views  *sessionSources
	now    func() time.Time
	zoom   float64
	logger *slog.Logger
}

func newRunner(
	cfg *config.Config,
	store *source.Store,
	sink segment.Sink,
	logger *slog.Logger,
	metrics *observability.FetchMetrics,
) *runner {
	views := &sessionSources{}

	return &runner{
		cfg:   cfg,
		store: store,
		coord: segment.New(segment.Config{
			Source:  views,
			Sink:    sink,
			Logger:  logger,
			Metrics: metrics,
		}),
		views:  views,
		now:    time.Now,
		logger: logger,
	}
}

// plan is one session's resolved range, bucket width and segment list.
type plan struct {
	rng      *interval.TimeRange
	interval interval.Interval
	bounds   []segment.Bounds
}

// newPlan resolves the configured range at now, optionally zoomed.
func newPlan(cfg *config.Config, now time.Time, zoom float64) (plan, error) {
	rng, err := cfg.TimeRange(now)
	if err != nil {
		return plan{}, err
	}

	if zoom > 0 {
		zoomed := interval.Zoom(*rng, zoom, now)
		rng = &zoomed
	}

	iv, err := cfg.ResolveInterval(rng)
	if err != nil {
		return plan{}, err
	}

	planner, err := cfg.Planner()
	if err != nil {
		return plan{}, err
	}

	bounds, err := planner.Plan(rng)
	if err != nil {
		return plan{}, err
	}

	return plan{rng: rng, interval: iv, bounds: bounds}, nil
}

// start plans the segments for the configured range and starts a session.
func (r *runner) start(ctx context.Context) (segment.Generation, error) {
	p, err := newPlan(r.cfg, r.now(), r.zoom)
	if err != nil {
		return 0, err
	}

	queries, err := r.cfg.Descriptors()
	if err != nil {
		return 0, err
	}

	fill, err := r.cfg.Fill()
	if err != nil {
		return 0, err
	}

	r.views.bind(r.coord.Generation()+1, r.store.Session(p.bounds))

	return r.coord.Start(ctx, segment.Request{
		Range:    p.rng,
		Interval: p.interval,
		Fill:     fill,
		Queries:  queries,
		Segments: len(p.bounds),
	})
}

// once runs a single session to completion.
func (r *runner) once(ctx context.Context) (segment.Notification, error) {
	_, err := r.start(ctx)
	if err != nil {
		return segment.Notification{}, err
	}

	return r.coord.Wait(ctx)
}
