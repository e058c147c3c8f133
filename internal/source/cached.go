package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/histogram/internal/cache"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// Cached keeps fetched batches of closed segments between sessions.
//
// Segment 0 is the newest and may still be written to, so it always goes to
// the inner source. Other segments are cached under their name, interval and
// query set. The time range joins the key only when it cuts through the
// segment; a segment wholly inside the range reads the same either way.
type Cached struct {
	inner  Source
	bounds []segment.Bounds
	lru    *cache.LRU[segment.Batch]
}

// NewCached wraps inner. bounds must list the same segments, in the same
// order, as inner serves. maxRecords bounds the cache by total record count.
func NewCached(inner Source, bounds []segment.Bounds, maxRecords int64) *Cached {
	return &Cached{
		inner:  inner,
		bounds: bounds,
		lru:    cache.NewLRU[segment.Batch](maxRecords),
	}
}

// Fetch serves req from the cache when possible.
func (c *Cached) Fetch(ctx context.Context, req segment.FetchRequest) (segment.Batch, error) {
	if req.Segment == 0 || req.Segment >= len(c.bounds) {
		return c.inner.Fetch(ctx, req)
	}

	key := c.key(req)

	if batch, ok := c.lru.Get(key); ok {
		return batch, nil
	}

	batch, err := c.inner.Fetch(ctx, req)
	if err != nil {
		return batch, err
	}

	var size int64
	for _, recs := range batch.Records {
		size += int64(len(recs))
	}

	c.lru.Put(key, batch, size)

	return batch, nil
}

// Stats reports cache counters.
func (c *Cached) Stats() cache.Stats {
	return c.lru.Stats()
}

// Close closes the inner source.
func (c *Cached) Close() error {
	return c.inner.Close()
}

func (c *Cached) key(req segment.FetchRequest) string {
	b := c.bounds[req.Segment]

	var sb strings.Builder

	fmt.Fprintf(&sb, "%s|%d", b.Name, req.Interval.Millis)

	if req.Range != nil && (req.Range.From.UnixMilli() > b.From || req.Range.To.UnixMilli() < b.To-1) {
		fmt.Fprintf(&sb, "|%d-%d", req.Range.From.UnixMilli(), req.Range.To.UnixMilli())
	}

	for _, q := range req.Queries {
		fmt.Fprintf(&sb, "|%s:%s:%s:%s", q.ID, q.Mode, timeField(q.TimeField), q.ValueField)

		for _, field := range sortedKeys(q.Match) {
			fmt.Fprintf(&sb, ":%s=%s", field, q.Match[field])
		}
	}

	return sb.String()
}
