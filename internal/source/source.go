// Package source serves raw segment batches from local storage.
//
// Two backends exist. The dir backend reads one JSON-lines file per segment,
// optionally LZ4-compressed. The sqlite backend reads one table per segment.
// Both bucket count-mode queries themselves and return raw samples for
// values-mode queries, capped at MaxRows per query and segment.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// DefaultMaxRows caps raw samples returned per query and segment in values mode.
const DefaultMaxRows = 100_000

// DefaultTimeField is the record field holding the event time when a query names none.
const DefaultTimeField = "@timestamp"

// Backend names a storage backend.
type Backend string

// Backends.
const (
	BackendDir    Backend = "dir"
	BackendSQLite Backend = "sqlite"
)

// Sentinel errors.
var (
	ErrInvalidBackend = errors.New("invalid source backend")
	ErrUnknownSegment = errors.New("segment index out of range")
)

// ParseBackend parses a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendDir, BackendSQLite:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBackend, s)
	}
}

// Options configures either backend.
type Options struct {
	// Segments lists segment names, newest first, as planned by segment.Planner.
	Segments []string

	// MaxRows caps values-mode samples. Non-positive means DefaultMaxRows.
	MaxRows int

	// Logger is the structured logger. When nil, a discard logger is used.
	Logger *slog.Logger
}

func (o Options) maxRows() int {
	if o.MaxRows > 0 {
		return o.MaxRows
	}

	return DefaultMaxRows
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (o Options) segmentName(n int) (string, error) {
	if n < 0 || n >= len(o.Segments) {
		return "", fmt.Errorf("%w: %d of %d", ErrUnknownSegment, n, len(o.Segments))
	}

	return o.Segments[n], nil
}

// Source is a segment.Source that holds resources until closed.
type Source interface {
	segment.Source
	io.Closer
}

// Open builds the backend named b rooted at path.
func Open(ctx context.Context, b Backend, path string, opts Options) (Source, error) {
	switch b {
	case BackendDir:
		return NewDir(path, opts), nil
	case BackendSQLite:
		return OpenSQLite(ctx, path, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, b)
	}
}

func timeField(name string) string {
	if name == "" {
		return DefaultTimeField
	}

	return name
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
