// Package sqlstore persists dataset frames as relational tables. Each
// Replace swaps a table's full contents inside one transaction, so readers
// see either the previous rows or the new rows.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/logging"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a relational database holding materialized tables.
type Store struct {
	db      *sql.DB
	cfg     Config
	dialect Dialect
}

// Open connects to the configured database. SQLite connections get WAL mode
// and the configured pragmas.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BatchRows == 0 {
		cfg.BatchRows = DefaultBatchRows
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	d, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// Pragmas are per connection; one connection keeps them applied.
		db.SetMaxOpenConns(1)
		pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA temp_store=MEMORY"}
		if cfg.Synchronous != "" {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA synchronous=%s", cfg.Synchronous))
		}
		if cfg.MmapSize > 0 {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size=%d", cfg.MmapSize))
		}
		if cfg.CacheSizeKB > 0 {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheSizeKB))
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("execute pragma %q: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}

	log := logging.WithPhase(logging.PhaseMaterialize)
	log.Info().
		Str("driver", cfg.Driver).
		Str("synchronous", cfg.Synchronous).
		Msg("opened relational store")

	return &Store{db: db, cfg: cfg, dialect: d}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Replace makes frame the full contents of the table described by spec.
// Schema, rows and indexes are written in one transaction; on any error the
// transaction is rolled back and the previous table is left as it was.
func (s *Store) Replace(ctx context.Context, spec TableSpec, frame *dataset.Frame) error {
	log := logctx.FromContext(logctx.WithTable(ctx, spec.Name))
	start := time.Now()

	cols, err := InferSchema(frame, s.dialect, spec)
	if err != nil {
		return err
	}
	insertCols := insertColumns(cols, frame)
	if len(spec.Declared) > 0 {
		for _, name := range frame.Names() {
			if !containsColumn(cols, name) {
				log.Warn().Str("column", name).Msg("column not in declared schema, skipped")
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	table := s.dialect.Quote(spec.Name)
	if len(spec.Declared) > 0 {
		if _, err := tx.ExecContext(ctx, createTableSQL(s.dialect, spec, cols, true)); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear table %s: %w", spec.Name, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop table %s: %w", spec.Name, err)
		}
		if _, err := tx.ExecContext(ctx, createTableSQL(s.dialect, spec, cols, false)); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
	}

	if err := s.insertRows(ctx, tx, spec, insertCols, frame); err != nil {
		return err
	}

	for _, idx := range spec.Indexes {
		if _, err := tx.ExecContext(ctx, createIndexSQL(s.dialect, spec, idx)); err != nil {
			return fmt.Errorf("create index %s: %w", spec.IndexName(idx), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit table %s: %w", spec.Name, err)
	}
	committed = true

	log.Debug().
		Int("rows", frame.Len()).
		Int("columns", len(insertCols)).
		Int("indexes", len(spec.Indexes)).
		Dur("elapsed", time.Since(start)).
		Msg("table replaced")
	return nil
}

// insertColumns returns the table columns that receive frame values.
func insertColumns(cols []ColumnDef, frame *dataset.Frame) []ColumnDef {
	out := make([]ColumnDef, 0, len(cols))
	for _, c := range cols {
		if frame.Has(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

func containsColumn(cols []ColumnDef, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// insertRows writes frame in multi-row INSERT batches.
func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, spec TableSpec, cols []ColumnDef, frame *dataset.Frame) error {
	n := frame.Len()
	if n == 0 || len(cols) == 0 {
		return nil
	}

	batch := min(s.cfg.BatchRows, s.dialect.maxParams/len(cols))
	batch = max(batch, 1)

	names := make([]string, len(cols))
	sources := make([]*dataset.Column, len(cols))
	for i, c := range cols {
		names[i] = s.dialect.Quote(c.Name)
		sources[i], _ = frame.Column(c.Name)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", s.dialect.Quote(spec.Name), strings.Join(names, ", "))

	var stmt *sql.Stmt
	defer func() {
		if stmt != nil {
			stmt.Close()
		}
	}()
	args := make([]any, 0, batch*len(cols))

	for lo := 0; lo < n; lo += batch {
		hi := min(lo+batch, n)
		args = args[:0]
		for i := lo; i < hi; i++ {
			for j, src := range sources {
				v, err := sqlValue(src.Value(i), cols[j].Kind)
				if err != nil {
					return fmt.Errorf("row %d column %q: %w", i, cols[j].Name, err)
				}
				args = append(args, v)
			}
		}

		if hi-lo == batch {
			if stmt == nil {
				var err error
				stmt, err = tx.PrepareContext(ctx, prefix+s.dialect.placeholders(batch, len(cols)))
				if err != nil {
					return fmt.Errorf("prepare insert into %s: %w", spec.Name, err)
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert batch at %d into %s: %w", lo, spec.Name, err)
			}
			continue
		}

		q := prefix + s.dialect.placeholders(hi-lo, len(cols))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert batch at %d into %s: %w", lo, spec.Name, err)
		}
	}
	return nil
}

// sqlValue converts a dataset value to a database/sql argument.
func sqlValue(v any, kind dataset.Kind) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Duration:
		if kind == dataset.KindTime {
			t := time.Time{}.Add(x)
			return t.Format("15:04:05.999999"), nil
		}
		return x.String(), nil
	case []any, map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("encode %s value: %w", kind, err)
		}
		return string(b), nil
	case json.Number:
		return x.String(), nil
	case bool, int64, float64, string, []byte, time.Time:
		return x, nil
	case int:
		return int64(x), nil
	}
	return fmt.Sprint(v), nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.Quote(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Query runs a read query against the store.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// Indexes returns the index names defined on table (SQLite only).
func (s *Store) Indexes(ctx context.Context, table string) ([]string, error) {
	if s.dialect.Name != DriverSQLite {
		return nil, fmt.Errorf("list indexes: unsupported for %s", s.dialect.Name)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name", table)
	if err != nil {
		return nil, fmt.Errorf("list indexes of %s: %w", table, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan index name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
