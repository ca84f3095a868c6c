package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnNotFound indicates a reference to a missing column.
	ErrColumnNotFound = errors.New("column not found")
	// ErrDuplicateColumn indicates two columns with one name.
	ErrDuplicateColumn = errors.New("duplicate column")
	// ErrLengthMismatch indicates columns of different lengths.
	ErrLengthMismatch = errors.New("column length mismatch")
)

// Column is a named, typed vector of values. Columns are immutable once
// placed in a Frame.
type Column struct {
	name   string
	kind   Kind
	values []any
}

// NewColumn returns a column over values. The slice is owned by the column
// afterwards.
func NewColumn(name string, kind Kind, values []any) *Column {
	return &Column{name: name, kind: kind, values: values}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the column kind.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int { return len(c.values) }

// Value returns the i-th value.
func (c *Column) Value(i int) any { return c.values[i] }

// Values returns a copy of the values.
func (c *Column) Values() []any {
	return append([]any(nil), c.values...)
}

// NullCount returns the number of nil values.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.values {
		if v == nil {
			n++
		}
	}
	return n
}

func (c *Column) renamed(name string) *Column {
	return &Column{name: name, kind: c.kind, values: c.values}
}

// Row is one row keyed by column name.
type Row map[string]any

// Frame is an immutable table.
type Frame struct {
	cols   []*Column
	byName map[string]int
	n      int
}

// New builds a Frame from columns of equal length with distinct names.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{cols: cols, byName: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := f.byName[c.name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.name)
		}
		if i == 0 {
			f.n = c.Len()
		} else if c.Len() != f.n {
			return nil, fmt.Errorf("%w: %q has %d values, want %d", ErrLengthMismatch, c.name, c.Len(), f.n)
		}
		f.byName[c.name] = i
	}
	return f, nil
}

// Empty returns a frame with no columns and no rows.
func Empty() *Frame {
	return &Frame{byName: map[string]int{}}
}

func mustNew(cols ...*Column) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.n }

// Width returns the number of columns.
func (f *Frame) Width() int { return len(f.cols) }

// Names returns column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.name
	}
	return names
}

// Columns returns the columns in order.
func (f *Frame) Columns() []*Column {
	return append([]*Column(nil), f.cols...)
}

// Column returns the named column.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.byName[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Has reports whether the frame has the named column.
func (f *Frame) Has(name string) bool {
	_, ok := f.byName[name]
	return ok
}

func (f *Frame) column(name string) (*Column, error) {
	c, ok := f.Column(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return c, nil
}

// Value returns the value at row i of the named column, or nil when the
// column does not exist.
func (f *Frame) Value(i int, name string) any {
	c, ok := f.Column(name)
	if !ok {
		return nil
	}
	return c.values[i]
}

// Row returns row i.
func (f *Frame) Row(i int) Row {
	r := make(Row, len(f.cols))
	for _, c := range f.cols {
		r[c.name] = c.values[i]
	}
	return r
}

// Rows returns every row.
func (f *Frame) Rows() []Row {
	out := make([]Row, f.n)
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// Records returns every row as a plain map, the shape the fetcher decodes.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.n)
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

// Take returns the rows at the given indices, in that order.
func (f *Frame) Take(indices []int) *Frame {
	cols := make([]*Column, len(f.cols))
	for j, c := range f.cols {
		vals := make([]any, len(indices))
		for k, i := range indices {
			vals[k] = c.values[i]
		}
		cols[j] = NewColumn(c.name, c.kind, vals)
	}
	out := mustNew(cols...)
	out.n = len(indices)
	return out
}

// Slice returns rows [lo, hi).
func (f *Frame) Slice(lo, hi int) *Frame {
	lo = max(0, min(lo, f.n))
	hi = max(lo, min(hi, f.n))
	idx := make([]int, hi-lo)
	for i := range idx {
		idx[i] = lo + i
	}
	return f.Take(idx)
}
