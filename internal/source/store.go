package source

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/histogram/internal/cache"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

// Store hands out one Source per session over a single backend.
//
// Sessions plan their own segment list, so each gets a fresh view, but all
// views share the backend handle and the cache of closed segments.
type Store struct {
	backend Backend
	path    string
	opts    Options
	sqlite  *SQLite
	lru     *cache.LRU[segment.Batch]
}

// OpenStore opens the backend b at path. cacheRecords bounds the shared
// cache by record count; non-positive uses the cache default.
func OpenStore(ctx context.Context, b Backend, path string, opts Options, cacheRecords int64) (*Store, error) {
	s := &Store{
		backend: b,
		path:    path,
		opts:    opts,
		lru:     cache.NewLRU[segment.Batch](cacheRecords),
	}

	switch b {
	case BackendDir:
	case BackendSQLite:
		db, err := OpenSQLite(ctx, path, opts)
		if err != nil {
			return nil, err
		}

		s.sqlite = db
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, b)
	}

	return s, nil
}

// Session returns a Source serving the planned segments, newest first.
func (s *Store) Session(bounds []segment.Bounds) Source {
	opts := s.opts
	opts.Segments = make([]string, len(bounds))

	for i, b := range bounds {
		opts.Segments[i] = b.Name
	}

	var inner Source
	if s.sqlite != nil {
		inner = NewSQLite(s.sqlite.db, opts)
	} else {
		inner = NewDir(s.path, opts)
	}

	return &Cached{inner: inner, bounds: bounds, lru: s.lru}
}

// Stats reports the shared cache counters.
func (s *Store) Stats() cache.Stats {
	return s.lru.Stats()
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.sqlite != nil {
		return s.sqlite.Close()
	}

	return nil
}
