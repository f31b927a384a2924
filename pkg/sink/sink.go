// Package sink writes flattened Langfuse rows into warehouse tables with
// insert-or-update semantics on the Id column.
package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/langfuse-etl/pkg/records"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver for local runs
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DefaultChunkSize is the number of rows per INSERT statement.
const DefaultChunkSize = 500

var rowsUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "langfuse_rows_upserted_total",
	Help: "Total rows written to the warehouse by table",
}, []string{"table"})

// Sink upserts rows into one database.
type Sink struct {
	db        *sqlx.DB
	driver    string
	chunkSize int
	logger    zerolog.Logger
}

// Open connects to the warehouse.
func Open(driver, dsn string) (*Sink, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s warehouse: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection keeps ":memory:" databases shared across statements.
		db.SetMaxOpenConns(1)
	}
	return New(db), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Sink {
	return &Sink{
		db:        db,
		driver:    db.DriverName(),
		chunkSize: DefaultChunkSize,
		logger:    log.With().Str("component", "warehouse-sink").Logger(),
	}
}

// DB returns the underlying connection.
func (s *Sink) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

// EnsureTable creates the table if it does not exist. An existing table is
// left untouched.
func (s *Sink) EnsureTable(ctx context.Context, schema string, table records.Table) error {
	cols := make([]string, len(table.Fields))
	for i, f := range table.Fields {
		col := quoteIdent(f.Column) + " " + s.columnType(f.Kind)
		if f.Column == records.KeyColumn {
			col += " PRIMARY KEY"
		}
		cols[i] = col
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.qualify(schema, table.Name), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	return nil
}

// Upsert writes rows into table, inserting new ids and updating existing ones.
// Rows sharing an id are collapsed, the last one winning. All chunks are
// written in one transaction. It returns the number of distinct rows written;
// no rows is a no-op.
func (s *Sink) Upsert(ctx context.Context, schema string, table records.Table, rows []records.Row) (int, error) {
	if len(rows) == 0 {
		s.logger.Info().Str("table", table.Name).Msg("No rows to write")
		return 0, nil
	}

	keyIdx := table.KeyIndex()
	if keyIdx < 0 {
		return 0, fmt.Errorf("table %s has no %s column", table.Name, records.KeyColumn)
	}

	start := time.Now()
	unique, err := dedupe(rows, keyIdx, len(table.Fields))
	if err != nil {
		return 0, fmt.Errorf("table %s: %w", table.Name, err)
	}

	if err := s.EnsureTable(ctx, schema, table); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for offset := 0; offset < len(unique); offset += s.chunkSize {
		end := offset + s.chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		query, args := s.upsertStatement(schema, table, unique[offset:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			s.logger.Error().
				Err(err).
				Str("table", table.Name).
				Int("offset", offset).
				Bool("throttled", IsThrottlingError(err)).
				Msg("Upsert chunk failed")
			return 0, fmt.Errorf("upsert %s rows %d-%d: %w", table.Name, offset, end-1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", table.Name, err)
	}

	rowsUpsertedTotal.WithLabelValues(table.Name).Add(float64(len(unique)))
	s.logger.Info().
		Str("table", table.Name).
		Int("rows", len(unique)).
		Int("duplicates", len(rows)-len(unique)).
		Dur("duration", time.Since(start)).
		Msg("Rows upserted")

	return len(unique), nil
}

// CountRows returns the number of rows in table.
func (s *Sink) CountRows(ctx context.Context, schema, table string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+s.qualify(schema, table)); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *Sink) upsertStatement(schema string, table records.Table, rows []records.Row) (string, []any) {
	cols := table.Columns()
	quoted := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		if c != records.KeyColumn {
			updates = append(updates, quoted[i]+" = EXCLUDED."+quoted[i])
		}
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	values := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		values[i] = placeholder
		args = append(args, row...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) ",
		s.qualify(schema, table.Name), strings.Join(quoted, ", "), strings.Join(values, ", "), quoteIdent(records.KeyColumn))
	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET " + strings.Join(updates, ", "))
	}

	return s.db.Rebind(b.String()), args
}

func (s *Sink) qualify(schema, table string) string {
	if schema == "" || s.driver == DriverSQLite {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func (s *Sink) columnType(kind records.Kind) string {
	if s.driver == DriverSQLite {
		switch kind {
		case records.KindNumber:
			return "REAL"
		case records.KindBool:
			return "BOOLEAN"
		case records.KindTimestamp:
			return "TIMESTAMP"
		default:
			return "TEXT"
		}
	}
	switch kind {
	case records.KindNumber:
		return "DOUBLE PRECISION"
	case records.KindBool:
		return "BOOLEAN"
	case records.KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// dedupe keeps the last row per key, in order of first appearance.
func dedupe(rows []records.Row, keyIdx, width int) ([]records.Row, error) {
	index := make(map[any]int, len(rows))
	out := make([]records.Row, 0, len(rows))
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), width)
		}
		key := row[keyIdx]
		if key == nil {
			return nil, fmt.Errorf("row %d has no %s", i, records.KeyColumn)
		}
		if pos, ok := index[key]; ok {
			out[pos] = row
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out, nil
}

// quoteIdent quotes an identifier so mixed-case names survive.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
