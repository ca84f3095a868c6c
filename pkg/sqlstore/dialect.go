package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
)

// SchemaError reports a column whose kind has no column type in the dialect.
type SchemaError struct {
	Table  string
	Column string
	Kind   dataset.Kind
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %s column %q: no column type for kind %s", e.Table, e.Column, e.Kind)
}

// Dialect renders column types, placeholders and identifiers for one SQL
// engine.
type Dialect struct {
	Name      string
	types     map[dataset.Kind]string
	surrogate string
	numbered  bool
	maxParams int
}

// SQLite is the dialect of mattn/go-sqlite3.
var SQLite = Dialect{
	Name: DriverSQLite,
	types: map[dataset.Kind]string{
		dataset.KindNull:     "TEXT",
		dataset.KindBool:     "INTEGER",
		dataset.KindInt:      "INTEGER",
		dataset.KindFloat:    "REAL",
		dataset.KindDecimal:  "NUMERIC",
		dataset.KindString:   "TEXT",
		dataset.KindDate:     "DATE",
		dataset.KindDatetime: "DATETIME",
		dataset.KindTime:     "TIME",
		dataset.KindDuration: "TEXT",
		dataset.KindBinary:   "BLOB",
		dataset.KindList:     "TEXT",
		dataset.KindStruct:   "JSON",
		dataset.KindUnknown:  "TEXT",
	},
	surrogate: "INTEGER PRIMARY KEY",
	maxParams: 32766,
}

// Postgres is the dialect of lib/pq.
var Postgres = Dialect{
	Name: DriverPostgres,
	types: map[dataset.Kind]string{
		dataset.KindNull:     "TEXT",
		dataset.KindBool:     "BOOLEAN",
		dataset.KindInt:      "BIGINT",
		dataset.KindFloat:    "DOUBLE PRECISION",
		dataset.KindDecimal:  "NUMERIC",
		dataset.KindString:   "TEXT",
		dataset.KindDate:     "DATE",
		dataset.KindDatetime: "TIMESTAMP",
		dataset.KindTime:     "TIME",
		dataset.KindDuration: "TEXT",
		dataset.KindBinary:   "BYTEA",
		dataset.KindList:     "TEXT",
		dataset.KindStruct:   "JSONB",
		dataset.KindUnknown:  "TEXT",
	},
	surrogate: "BIGSERIAL PRIMARY KEY",
	numbered:  true,
	maxParams: 65535,
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite:
		return SQLite, nil
	case DriverPostgres:
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unknown driver %q", driver)
}

// ColumnType returns the column type for kind.
func (d Dialect) ColumnType(kind dataset.Kind) (string, bool) {
	t, ok := d.types[kind]
	return t, ok
}

// Quote quotes an identifier.
func (d Dialect) Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholders renders rows of n placeholders each, numbered from 1 when
// the dialect requires it.
func (d Dialect) placeholders(rows, n int) string {
	var b strings.Builder
	arg := 1
	for r := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range n {
			if c > 0 {
				b.WriteString(", ")
			}
			if d.numbered {
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(arg))
				arg++
			} else {
				b.WriteByte('?')
			}
		}
		b.WriteByte(')')
	}
	return b.String()
}
