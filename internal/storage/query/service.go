// Package query exposes SQL over the archived record trail.
//
// DuckDB reads the archive's Parquet files directly, so queries never
// touch the live sector files or contend with producers; the archive is
// the only surface the analytics path sees.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/telemstore/internal/errors"
	"github.com/xtxerr/telemstore/internal/logging"
	"github.com/xtxerr/telemstore/internal/storage/types"
)

var log = logging.Component("query")

// Options configures the query service.
type Options struct {
	// MemoryLimit is passed to DuckDB (e.g. "512MB"). Empty uses the
	// DuckDB default.
	MemoryLimit string

	// Timeout bounds each query. Zero means no bound.
	Timeout time.Duration

	// MaxRows caps result size.
	MaxRows int
}

// Stats holds query counters.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Service runs SQL over the archive directory.
type Service struct {
	mu sync.RWMutex

	dir  string
	opts Options
	db   *sql.DB

	stats Stats
}

// Row is one archived record returned by a query.
type Row struct {
	Source     string
	SensorID   uint32
	RecordID   uint32
	Kind       string
	Value      uint32
	Timestamp  uint64
	ArchivedMs int64
}

// SensorQuery selects archived records for one sensor stream.
type SensorQuery struct {
	Source   types.SourceType
	SensorID uint32
	FromID   uint32 // inclusive; 0 means from the start
	ToID     uint32 // exclusive; 0 means unbounded
	Limit    int
}

// RangeQuery selects archived records across sensors by archive time.
type RangeQuery struct {
	Source types.SourceType
	Start  time.Time
	End    time.Time
	Limit  int
}

// New opens an in-memory DuckDB instance over the archive directory.
func New(dir string, opts Options) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrDiskIOFailed, "open duckdb")
	}

	if opts.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", opts.MemoryLimit)); err != nil {
			db.Close()
			return nil, errors.Wrap(errors.ErrInvalidConfig, "set duckdb memory limit")
		}
	}

	return &Service{dir: dir, opts: opts, db: db}, nil
}

// Close releases the DuckDB instance.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Service) pattern() string {
	return filepath.Join(s.dir, "*.parquet")
}

func (s *Service) limitFor(requested int) int {
	limit := requested
	if limit <= 0 || (s.opts.MaxRows > 0 && limit > s.opts.MaxRows) {
		limit = s.opts.MaxRows
	}
	if limit <= 0 {
		limit = 1 << 20
	}
	return limit
}

func (s *Service) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// QuerySensor returns one sensor's archived records ordered by record
// id.
func (s *Service) QuerySensor(ctx context.Context, q SensorQuery) ([]Row, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	toID := int64(q.ToID)
	if q.ToID == 0 {
		toID = 1 << 33
	}

	query := `
		SELECT source, sensor_id, record_id, kind, value, timestamp, archived_ms
		FROM read_parquet($1)
		WHERE source = $2
		  AND sensor_id = $3
		  AND record_id >= $4
		  AND record_id < $5
		ORDER BY record_id
		LIMIT $6
	`
	rows, err := s.db.QueryContext(ctx, query,
		s.pattern(),
		q.Source.String(),
		int64(q.SensorID),
		int64(q.FromID),
		toID,
		s.limitFor(q.Limit),
	)
	if err != nil {
		// An empty archive has no files for the glob to match.
		return nil, nil
	}
	defer rows.Close()

	return s.scan(rows)
}

// QueryRange returns records archived within [Start, End) for one
// source, ordered by archive time then record id.
func (s *Service) QueryRange(ctx context.Context, q RangeQuery) ([]Row, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := `
		SELECT source, sensor_id, record_id, kind, value, timestamp, archived_ms
		FROM read_parquet($1)
		WHERE source = $2
		  AND archived_ms >= $3
		  AND archived_ms < $4
		ORDER BY archived_ms, sensor_id, record_id
		LIMIT $5
	`
	rows, err := s.db.QueryContext(ctx, query,
		s.pattern(),
		q.Source.String(),
		q.Start.UnixMilli(),
		q.End.UnixMilli(),
		s.limitFor(q.Limit),
	)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	return s.scan(rows)
}

// ValueSummary is a SQL-side aggregate over one sensor's archived
// values.
type ValueSummary struct {
	Count int64
	Min   float64
	Max   float64
	Avg   float64
}

// SummarizeSensor aggregates a sensor's archived values in DuckDB.
func (s *Service) SummarizeSensor(ctx context.Context, source types.SourceType, sensorID uint32) (ValueSummary, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := `
		SELECT count(*), coalesce(min(value), 0), coalesce(max(value), 0), coalesce(avg(value), 0)
		FROM read_parquet($1)
		WHERE source = $2 AND sensor_id = $3
	`
	var out ValueSummary
	err := s.db.QueryRowContext(ctx, query,
		s.pattern(), source.String(), int64(sensorID),
	).Scan(&out.Count, &out.Min, &out.Max, &out.Avg)
	if err != nil {
		return ValueSummary{}, nil
	}

	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.mu.Unlock()
	return out, nil
}

func (s *Service) scan(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var (
			r                  Row
			sensorID, recordID int64
			value, timestamp   int64
		)
		if err := rows.Scan(&r.Source, &sensorID, &recordID, &r.Kind, &value, &timestamp, &r.ArchivedMs); err != nil {
			s.mu.Lock()
			s.stats.Errors++
			s.mu.Unlock()
			return nil, errors.Wrap(errors.ErrCorruptionDetected, "scan archive row")
		}
		r.SensorID = uint32(sensorID)
		r.RecordID = uint32(recordID)
		r.Value = uint32(value)
		r.Timestamp = uint64(timestamp)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		return nil, errors.Wrap(errors.ErrDiskIOFailed, "iterate archive rows")
	}

	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(out))
	s.mu.Unlock()

	log.Debug("archive query", "rows", len(out))
	return out, nil
}

// Stats returns the query counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
