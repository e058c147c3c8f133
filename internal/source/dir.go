package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/histogram/pkg/query"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// Segment file extensions, in lookup order.
const (
	ExtLZ4   = ".jsonl.lz4"
	ExtJSONL = ".jsonl"
)

const (
	maxLineBytes    = 4 << 20
	ctxCheckEvery   = 1024
	scanBufferBytes = 64 << 10
)

// Dir serves segments stored as JSON-lines files under one directory.
// A segment named "logs-2026.10.18" is read from logs-2026.10.18.jsonl.lz4,
// logs-2026.10.18.jsonl or a file of exactly that name, whichever exists first.
// A missing file is an empty segment.
type Dir struct {
	root string
	opts Options
}

// NewDir creates a dir backend rooted at root.
func NewDir(root string, opts Options) *Dir {
	return &Dir{root: root, opts: opts}
}

// Close implements io.Closer. Files are opened per fetch.
func (d *Dir) Close() error { return nil }

// Fetch reads one segment file and groups its records by query.
func (d *Dir) Fetch(ctx context.Context, req segment.FetchRequest) (segment.Batch, error) {
	name, err := d.opts.segmentName(req.Segment)
	if err != nil {
		return segment.Batch{}, err
	}

	logger := d.opts.logger()

	path, ok := d.locate(name)
	if !ok {
		logger.DebugContext(ctx, "source: segment file missing", "segment", name)

		return segment.Batch{Records: map[string][]segment.Record{}}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return segment.Batch{}, fmt.Errorf("open segment %s: %w", name, err)
	}
	defer file.Close()

	var r io.Reader = file
	if filepath.Ext(path) == filepath.Ext(ExtLZ4) {
		r = lz4.NewReader(file)
	}

	agg := newAggregator(req, d.opts.maxRows())

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufferBytes), maxLineBytes)

	var lines, skipped int

	for scanner.Scan() {
		lines++

		if lines%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return segment.Batch{}, fmt.Errorf("read segment %s: %w", name, err)
			}
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		doc, err := decodeLine(line)
		if err != nil {
			skipped++

			continue
		}

		agg.add(doc)
	}

	if err := scanner.Err(); err != nil {
		return segment.Batch{}, fmt.Errorf("read segment %s: %w", name, err)
	}

	logger.DebugContext(ctx, "source: segment read",
		"segment", name, "lines", lines, "undecodable", skipped, "truncated", len(agg.truncated))

	return agg.batch(), nil
}

func (d *Dir) locate(name string) (string, bool) {
	for _, candidate := range []string{name + ExtLZ4, name + ExtJSONL, name} {
		path := filepath.Join(d.root, candidate)

		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, true
		}

		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return path, true
		}
	}

	return "", false
}

func decodeLine(line []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var doc map[string]any

	err := dec.Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	return doc, nil
}

// aggregator folds decoded documents into per-query records.
type aggregator struct {
	req       segment.FetchRequest
	maxRows   int
	counts    map[string]*countBuckets
	samples   map[string][]segment.Record
	truncated map[string]bool
}

func newAggregator(req segment.FetchRequest, maxRows int) *aggregator {
	a := &aggregator{
		req:       req,
		maxRows:   maxRows,
		counts:    make(map[string]*countBuckets),
		samples:   make(map[string][]segment.Record),
		truncated: make(map[string]bool),
	}

	for _, q := range req.Queries {
		if q.Mode == query.ModeCount {
			a.counts[q.ID] = newCountBuckets(req.Interval)
		}
	}

	return a
}

func (a *aggregator) add(doc map[string]any) {
	for _, q := range a.req.Queries {
		if !matches(doc, q.Match) {
			continue
		}

		rawTime, _ := lookup(doc, timeField(q.TimeField))
		ts := text(rawTime)

		parsed, err := segment.ParseTime(ts)
		if err == nil && a.req.Range != nil && !a.req.Range.Contains(parsed) {
			continue
		}

		if q.Mode == query.ModeCount {
			if err != nil {
				a.counts[q.ID].reject(ts)
			} else {
				a.counts[q.ID].add(parsed)
			}

			continue
		}

		if len(a.samples[q.ID]) >= a.maxRows {
			a.truncated[q.ID] = true

			continue
		}

		rawValue, _ := lookup(doc, q.ValueField)
		a.samples[q.ID] = append(a.samples[q.ID], segment.Record{Time: ts, Value: number(rawValue)})
	}
}

func (a *aggregator) batch() segment.Batch {
	records := make(map[string][]segment.Record, len(a.req.Queries))

	for id, b := range a.counts {
		records[id] = b.records()
	}

	for id, s := range a.samples {
		records[id] = s
	}

	batch := segment.Batch{Records: records}
	if len(a.truncated) > 0 {
		batch.Truncated = a.truncated
	}

	return batch
}
