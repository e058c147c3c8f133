package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFetchesTotal     = "histogram.segment.fetches.total"
	metricFetchDuration    = "histogram.segment.fetch.duration.seconds"
	metricFetchErrorsTotal = "histogram.segment.fetch.errors.total"
	metricStaleTotal       = "histogram.segment.stale.total"
	metricMalformedTotal   = "histogram.records.malformed.total"
	metricSessionsTotal    = "histogram.sessions.total"

	attrStatus  = "status"
	attrOutcome = "outcome"

	statusOK    = "ok"
	statusError = "error"
)

// Outcome is how a fetch session ended.
type Outcome string

// Session outcomes.
const (
	OutcomeDone    Outcome = "done"
	OutcomeAborted Outcome = "aborted"
)

// durationBucketBoundaries covers 1ms to 120s, from local segment files to slow remote stores.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// FetchMetrics holds the OTel instruments for segment fetch sessions.
// All methods are safe to call on a nil receiver.
type FetchMetrics struct {
	fetchesTotal  metric.Int64Counter
	fetchDuration metric.Float64Histogram
	fetchErrors   metric.Int64Counter
	staleTotal    metric.Int64Counter
	malformed     metric.Int64Counter
	sessions      metric.Int64Counter
}

// NewFetchMetrics creates fetch metric instruments from the given meter.
func NewFetchMetrics(mt metric.Meter) (*FetchMetrics, error) {
	fetches, err := mt.Int64Counter(metricFetchesTotal,
		metric.WithDescription("Total segment fetches completed"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFetchesTotal, err)
	}

	duration, err := mt.Float64Histogram(metricFetchDuration,
		metric.WithDescription("Segment fetch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFetchDuration, err)
	}

	fetchErrors, err := mt.Int64Counter(metricFetchErrorsTotal,
		metric.WithDescription("Total segment fetches that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFetchErrorsTotal, err)
	}

	stale, err := mt.Int64Counter(metricStaleTotal,
		metric.WithDescription("Segment results dropped because their session was superseded"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStaleTotal, err)
	}

	malformed, err := mt.Int64Counter(metricMalformedTotal,
		metric.WithDescription("Raw records skipped because they could not be parsed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMalformedTotal, err)
	}

	sessions, err := mt.Int64Counter(metricSessionsTotal,
		metric.WithDescription("Fetch sessions that reached a terminal state"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSessionsTotal, err)
	}

	return &FetchMetrics{
		fetchesTotal:  fetches,
		fetchDuration: duration,
		fetchErrors:   fetchErrors,
		staleTotal:    stale,
		malformed:     malformed,
		sessions:      sessions,
	}, nil
}

// RecordFetch records one completed segment fetch.
func (fm *FetchMetrics) RecordFetch(ctx context.Context, duration time.Duration, err error) {
	if fm == nil {
		return
	}

	status := statusOK
	if err != nil {
		status = statusError
	}

	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	fm.fetchesTotal.Add(ctx, 1, attrs)
	fm.fetchDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		fm.fetchErrors.Add(ctx, 1)
	}
}

// RecordStale counts one dropped result.
func (fm *FetchMetrics) RecordStale(ctx context.Context) {
	if fm == nil {
		return
	}

	fm.staleTotal.Add(ctx, 1)
}

// RecordMalformed counts skipped records. Zero is ignored.
func (fm *FetchMetrics) RecordMalformed(ctx context.Context, n int64) {
	if fm == nil || n <= 0 {
		return
	}

	fm.malformed.Add(ctx, n)
}

// RecordSession counts a session reaching a terminal state.
func (fm *FetchMetrics) RecordSession(ctx context.Context, outcome Outcome) {
	if fm == nil {
		return
	}

	fm.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, string(outcome))))
}
