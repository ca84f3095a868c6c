package sqlstore

import (
	"fmt"
	"strings"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
)

// SurrogateKey is the column added when a table has no primary key.
const SurrogateKey = "id"

// ColumnDef is one column of a table.
type ColumnDef struct {
	Name string
	Kind dataset.Kind
	// Type overrides the dialect type for Kind.
	Type string
	// NotNull adds a NOT NULL constraint.
	NotNull bool
	// Surrogate makes the column an auto-assigned integer primary key.
	Surrogate bool
}

// Index is a secondary index. An empty Name is derived from the table and
// columns.
type Index struct {
	Name    string
	Columns []string
}

// TableSpec describes a materialized table. With Declared set the table keeps
// its schema across rebuilds and only its rows are replaced; otherwise the
// schema is inferred from the frame and the table is recreated.
type TableSpec struct {
	Name       string
	PrimaryKey string
	Indexes    []Index
	Declared   []ColumnDef
}

// IndexName returns the name of idx on the spec's table.
func (s TableSpec) IndexName(idx Index) string {
	if idx.Name != "" {
		return idx.Name
	}
	return "idx_" + s.Name + "_" + strings.Join(idx.Columns, "_")
}

// InferSchema returns the columns of the table that will hold frame. Declared
// columns win over inferred kinds. Without a primary key a surrogate id column
// is added unless the frame already has one.
func InferSchema(frame *dataset.Frame, d Dialect, spec TableSpec) ([]ColumnDef, error) {
	var cols []ColumnDef
	if len(spec.Declared) > 0 {
		cols = append(cols, spec.Declared...)
	} else {
		if spec.PrimaryKey == "" && !frame.Has(SurrogateKey) {
			cols = append(cols, ColumnDef{Name: SurrogateKey, Kind: dataset.KindInt, Surrogate: true})
		}
		for _, c := range frame.Columns() {
			cols = append(cols, ColumnDef{Name: c.Name(), Kind: c.Kind()})
		}
	}

	for i, c := range cols {
		if c.Surrogate {
			cols[i].Type = d.surrogate
			continue
		}
		if c.Type != "" {
			continue
		}
		t, ok := d.ColumnType(c.Kind)
		if !ok {
			return nil, &SchemaError{Table: spec.Name, Column: c.Name, Kind: c.Kind}
		}
		cols[i].Type = t
	}
	return cols, nil
}

func createTableSQL(d Dialect, spec TableSpec, cols []ColumnDef, ifNotExists bool) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		def := d.Quote(c.Name) + " " + c.Type
		if c.NotNull {
			def += " NOT NULL"
		}
		if spec.PrimaryKey != "" && c.Name == spec.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs[i] = def
	}
	clause := ""
	if ifNotExists {
		clause = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (\n\t%s\n)", clause, d.Quote(spec.Name), strings.Join(defs, ",\n\t"))
}

func createIndexSQL(d Dialect, spec TableSpec, idx Index) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.Quote(c)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.Quote(spec.IndexName(idx)), d.Quote(spec.Name), strings.Join(cols, ", "))
}
