package source

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/histogram/pkg/interval"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// lookup resolves a field by exact key first, then as a dotted path into nested objects.
func lookup(doc map[string]any, field string) (any, bool) {
	if v, ok := doc[field]; ok {
		return v, true
	}

	cur := doc

	parts := strings.Split(field, ".")
	for i, part := range parts {
		v, ok := cur[part]
		if !ok {
			return nil, false
		}

		if i == len(parts)-1 {
			return v, true
		}

		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}

		cur = next
	}

	return nil, false
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) *float64 {
	var (
		f   float64
		err error
	)

	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case int64:
		f = float64(t)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}

	if err != nil {
		return nil
	}

	return &f
}

// matches reports whether every match field equals its expected text.
func matches(doc map[string]any, match map[string]string) bool {
	for field, want := range match {
		v, ok := lookup(doc, field)
		if !ok || text(v) != want {
			return false
		}
	}

	return true
}

// countBuckets tallies records per interval bucket for count-mode queries.
type countBuckets struct {
	iv        interval.Interval
	counts    map[int64]float64
	malformed []segment.Record
}

func newCountBuckets(iv interval.Interval) *countBuckets {
	return &countBuckets{iv: iv, counts: make(map[int64]float64)}
}

func (b *countBuckets) add(ts int64) {
	b.counts[b.iv.Floor(ts)]++
}

// reject keeps an unparseable timestamp so the coordinator can count it.
func (b *countBuckets) reject(raw string) {
	one := 1.0
	b.malformed = append(b.malformed, segment.Record{Time: raw, Value: &one})
}

// records returns one record per bucket in ascending time, then the rejects.
func (b *countBuckets) records() []segment.Record {
	keys := slices.Sorted(maps.Keys(b.counts))
	out := make([]segment.Record, 0, len(keys)+len(b.malformed))

	for _, k := range keys {
		v := b.counts[k]
		out = append(out, segment.Record{Time: formatMillis(k), Value: &v})
	}

	return append(out, b.malformed...)
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
