package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/Sumatoshi-tech/histogram/pkg/query"
	"github.com/Sumatoshi-tech/histogram/pkg/segment"
)

const sqliteDriver = "sqlite"

// SQLite serves segments stored as tables of one SQLite database. The time
// column holds epoch milliseconds. Count-mode queries are bucketed in SQL.
// A missing table is an empty segment.
type SQLite struct {
	db   *sql.DB
	opts Options
	own  bool
}

// OpenSQLite opens the database at path read-only.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLite, error) {
	db, err := sql.Open(sqliteDriver, "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := NewSQLite(db, opts)
	s.own = true

	return s, nil
}

// NewSQLite wraps an open database. Close leaves db open.
func NewSQLite(db *sql.DB, opts Options) *SQLite {
	return &SQLite{db: db, opts: opts}
}

// Close closes the database if OpenSQLite opened it.
func (s *SQLite) Close() error {
	if !s.own {
		return nil
	}

	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// Fetch queries one segment table for every query of req.
func (s *SQLite) Fetch(ctx context.Context, req segment.FetchRequest) (segment.Batch, error) {
	table, err := s.opts.segmentName(req.Segment)
	if err != nil {
		return segment.Batch{}, err
	}

	kind, err := s.tableKind(ctx, table)
	if err != nil {
		return segment.Batch{}, err
	}

	batch := segment.Batch{Records: make(map[string][]segment.Record, len(req.Queries))}

	if kind == "" {
		s.opts.logger().DebugContext(ctx, "source: segment table missing", "segment", table)

		return batch, nil
	}

	for _, q := range req.Queries {
		var (
			recs      []segment.Record
			truncated bool
		)

		if q.Mode == query.ModeCount {
			recs, err = s.counts(ctx, table, req, q)
		} else {
			recs, truncated, err = s.samples(ctx, table, kind == "table", req, q)
		}

		if err != nil {
			return segment.Batch{}, fmt.Errorf("segment %s query %s: %w", table, q.ID, err)
		}

		batch.Records[q.ID] = recs

		if truncated {
			if batch.Truncated == nil {
				batch.Truncated = make(map[string]bool)
			}

			batch.Truncated[q.ID] = true
		}
	}

	return batch, nil
}

// tableKind returns "table" or "view" for an existing segment, or "" when it is missing.
func (s *SQLite) tableKind(ctx context.Context, table string) (string, error) {
	var kind string

	err := s.db.QueryRowContext(ctx,
		`SELECT type FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`, table).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("look up table %s: %w", table, err)
	}

	return kind, nil
}

// where builds the shared filter clause over the time column and match fields.
func where(req segment.FetchRequest, q query.Descriptor) (string, []any) {
	ts := quoteIdent(timeField(q.TimeField))

	clauses := []string{ts + " IS NOT NULL"}

	var args []any

	if req.Range != nil {
		clauses = append(clauses, ts+" BETWEEN ? AND ?")
		args = append(args, req.Range.From.UnixMilli(), req.Range.To.UnixMilli())
	}

	for _, field := range sortedKeys(q.Match) {
		clauses = append(clauses, quoteIdent(field)+" = ?")
		args = append(args, q.Match[field])
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLite) counts(ctx context.Context, table string, req segment.FetchRequest, q query.Descriptor) ([]segment.Record, error) {
	ts := quoteIdent(timeField(q.TimeField))
	cond, args := where(req, q)
	width := req.Interval.Millis

	// Floors toward negative infinity; SQLite's % truncates toward zero.
	stmt := fmt.Sprintf(`SELECT %[1]s - ((%[1]s %% ?) + ?) %% ? AS bucket, COUNT(*) FROM %[2]s%[3]s GROUP BY bucket ORDER BY bucket`,
		"CAST("+ts+" AS INTEGER)", quoteIdent(table), cond)

	rows, err := s.db.QueryContext(ctx, stmt, append([]any{width, width, width}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	defer rows.Close()

	var out []segment.Record

	for rows.Next() {
		var (
			bucket int64
			count  float64
		)

		err = rows.Scan(&bucket, &count)
		if err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}

		out = append(out, segment.Record{Time: formatMillis(bucket), Value: &count})
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	return out, nil
}

// samples returns up to maxRows raw values in time order. Rows of a table that
// share a timestamp keep insertion order. It reports whether rows were left out.
func (s *SQLite) samples(
	ctx context.Context, table string, hasRowID bool, req segment.FetchRequest, q query.Descriptor,
) ([]segment.Record, bool, error) {
	ts := quoteIdent(timeField(q.TimeField))
	cond, args := where(req, q)

	order := "1"
	if hasRowID {
		order = "1, rowid"
	}

	stmt := fmt.Sprintf(`SELECT CAST(%s AS INTEGER), %s FROM %s%s ORDER BY %s LIMIT ?`,
		ts, quoteIdent(q.ValueField), quoteIdent(table), cond, order)

	limit := s.opts.maxRows()

	rows, err := s.db.QueryContext(ctx, stmt, append(args, limit+1)...)
	if err != nil {
		return nil, false, fmt.Errorf("sample: %w", err)
	}
	defer rows.Close()

	var out []segment.Record

	for rows.Next() {
		var (
			at    int64
			value sql.NullFloat64
		)

		err = rows.Scan(&at, &value)
		if err != nil {
			return nil, false, fmt.Errorf("scan sample: %w", err)
		}

		rec := segment.Record{Time: formatMillis(at)}
		if value.Valid {
			v := value.Float64
			rec.Value = &v
		}

		out = append(out, rec)
	}

	err = rows.Err()
	if err != nil {
		return nil, false, fmt.Errorf("sample rows: %w", err)
	}

	if len(out) > limit {
		return out[:limit], true, nil
	}

	return out, false, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
