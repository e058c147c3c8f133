package source_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histogram/internal/source"
	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/query"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// base is 2026-10-18T00:00:00Z in epoch milliseconds.
const base = int64(1_792_281_600_000)

func request(n int, queries ...query.Descriptor) segment.FetchRequest {
	return segment.FetchRequest{
		Generation: 1,
		Segment:    n,
		Segments:   2,
		Interval:   interval.MustParse("1m"),
		Queries:    queries,
	}
}

func values(recs []segment.Record) map[string]float64 {
	out := make(map[string]float64, len(recs))

	for _, r := range recs {
		if r.Value != nil {
			out[r.Time] = *r.Value
		}
	}

	return out
}

func ms(offset time.Duration) string {
	return time.UnixMilli(base + offset.Milliseconds()).UTC().Format(time.RFC3339Nano)
}

func TestParseBackend(t *testing.T) {
	t.Parallel()

	b, err := source.ParseBackend(" SQLite ")
	require.NoError(t, err)
	assert.Equal(t, source.BackendSQLite, b)

	b, err = source.ParseBackend("dir")
	require.NoError(t, err)
	assert.Equal(t, source.BackendDir, b)

	_, err = source.ParseBackend("elasticsearch")
	require.ErrorIs(t, err, source.ErrInvalidBackend)
}

func TestOpen_Dir(t *testing.T) {
	t.Parallel()

	src, err := source.Open(context.Background(), source.BackendDir, t.TempDir(), source.Options{Segments: []string{"a"}})
	require.NoError(t, err)

	batch, err := src.Fetch(context.Background(), request(0, query.Descriptor{ID: "q", Mode: query.ModeCount}))
	require.NoError(t, err)
	assert.Empty(t, batch.Records["q"])
	require.NoError(t, src.Close())

	_, err = source.Open(context.Background(), source.Backend("nope"), "", source.Options{})
	require.ErrorIs(t, err, source.ErrInvalidBackend)
}
