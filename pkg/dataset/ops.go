package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

func sortStrings(s []string) { slices.Sort(s) }

// Select returns the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		c, err := f.column(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.n = f.n
	return out, nil
}

// Drop returns the frame without the named columns. Names that do not
// exist are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	cols := make([]*Column, 0, len(f.cols))
	for _, c := range f.cols {
		if !drop[c.name] {
			cols = append(cols, c)
		}
	}
	out := mustNew(cols...)
	out.n = f.n
	return out
}

// Rename renames columns per mapping. Names absent from the frame are
// ignored.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		if to, ok := mapping[c.name]; ok {
			cols[i] = c.renamed(to)
		} else {
			cols[i] = c
		}
	}
	out, err := New(cols...)
	if err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}
	out.n = f.n
	return out, nil
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(i int) bool) *Frame {
	idx := make([]int, 0, f.n)
	for i := range f.n {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// WithColumn adds c, replacing any column of the same name in place.
func (f *Frame) WithColumn(c *Column) (*Frame, error) {
	if len(f.cols) > 0 && c.Len() != f.n {
		return nil, fmt.Errorf("%w: %q has %d values, want %d", ErrLengthMismatch, c.name, c.Len(), f.n)
	}
	cols := append([]*Column(nil), f.cols...)
	if i, ok := f.byName[c.name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	out := mustNew(cols...)
	out.n = c.Len()
	return out, nil
}

// Derive adds or replaces the named column with fn evaluated on every row.
func (f *Frame) Derive(name string, kind Kind, fn func(i int) any) (*Frame, error) {
	vals := make([]any, f.n)
	for i := range vals {
		vals[i] = fn(i)
	}
	return f.WithColumn(NewColumn(name, kind, vals))
}

// SortKey is one sort column.
type SortKey struct {
	Name string
	Desc bool
}

// Asc sorts name ascending.
func Asc(name string) SortKey { return SortKey{Name: name} }

// Desc sorts name descending.
func Desc(name string) SortKey { return SortKey{Name: name, Desc: true} }

// SortBy sorts rows stably by keys. Nulls sort first in either direction.
func (f *Frame) SortBy(keys ...SortKey) (*Frame, error) {
	cols := make([]*Column, len(keys))
	for i, k := range keys {
		c, err := f.column(k.Name)
		if err != nil {
			return nil, fmt.Errorf("sort: %w", err)
		}
		cols[i] = c
	}

	idx := make([]int, f.n)
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		for k, c := range cols {
			va, vb := c.values[a], c.values[b]
			switch {
			case va == nil && vb == nil:
				continue
			case va == nil:
				return -1
			case vb == nil:
				return 1
			}
			r := Compare(va, vb)
			if keys[k].Desc {
				r = -r
			}
			if r != 0 {
				return r
			}
		}
		return 0
	})
	return f.Take(idx), nil
}

// Cast converts the named column to kind. Values that cannot be converted
// fail the cast.
func (f *Frame) Cast(name string, kind Kind) (*Frame, error) {
	c, err := f.column(name)
	if err != nil {
		return nil, fmt.Errorf("cast: %w", err)
	}
	if c.kind == kind {
		return f, nil
	}
	vals := make([]any, len(c.values))
	for i, v := range c.values {
		cv, err := castValue(v, kind)
		if err != nil {
			return nil, fmt.Errorf("cast %q row %d to %s: %w", name, i, kind, err)
		}
		vals[i] = cv
	}
	return f.WithColumn(NewColumn(name, kind, vals))
}

// FillNull replaces nil values of the named column with v, converted to the
// column's kind. A column of KindNull takes v's kind.
func (f *Frame) FillNull(name string, v any) (*Frame, error) {
	c, err := f.column(name)
	if err != nil {
		return nil, fmt.Errorf("fill null: %w", err)
	}
	kind := c.kind
	if kind == KindNull {
		kind = kindOf(v)
	}
	fill, err := castValue(v, kind)
	if err != nil {
		return nil, fmt.Errorf("fill null %q: %w", name, err)
	}
	vals := make([]any, len(c.values))
	for i, x := range c.values {
		if x == nil {
			vals[i] = fill
		} else {
			vals[i] = x
		}
	}
	return f.WithColumn(NewColumn(name, kind, vals))
}

// ParseTime parses a String column with layout into a Datetime column (or a
// Date column when kind is KindDate). Empty strings become null.
func (f *Frame) ParseTime(name, layout string, kind Kind) (*Frame, error) {
	c, err := f.column(name)
	if err != nil {
		return nil, fmt.Errorf("parse time: %w", err)
	}
	vals := make([]any, len(c.values))
	for i, v := range c.values {
		var s string
		switch x := v.(type) {
		case nil:
			continue
		case string:
			s = strings.TrimSpace(x)
		case json.Number:
			s = x.String()
		case int64:
			s = strconv.FormatInt(x, 10)
		case time.Time:
			vals[i] = x
			continue
		default:
			return nil, fmt.Errorf("parse time %q row %d: unexpected %T", name, i, v)
		}
		if s == "" {
			continue
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil, fmt.Errorf("parse time %q row %d: %w", name, i, err)
		}
		if kind == KindDate {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		vals[i] = t
	}
	if kind != KindDate {
		kind = KindDatetime
	}
	return f.WithColumn(NewColumn(name, kind, vals))
}

// CastYesFlags converts every String column whose only non-null value is
// "Y" into a Bool column: "Y" becomes true and null becomes false.
func (f *Frame) CastYesFlags() *Frame {
	cols := append([]*Column(nil), f.cols...)
	for j, c := range cols {
		if c.kind != KindString || !onlyYes(c.values) {
			continue
		}
		vals := make([]any, len(c.values))
		for i, v := range c.values {
			vals[i] = v == "Y"
		}
		cols[j] = NewColumn(c.name, KindBool, vals)
	}
	out := mustNew(cols...)
	out.n = f.n
	return out
}

func onlyYes(values []any) bool {
	found := false
	for _, v := range values {
		if v == nil {
			continue
		}
		if v != "Y" {
			return false
		}
		found = true
	}
	return found
}

func castValue(v any, kind Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindNull:
		return nil, nil
	case KindInt:
		switch x := v.(type) {
		case string:
			return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("non-finite %v", x)
			}
			return int64(x), nil
		}
		if i, ok := asInt(v); ok {
			return i, nil
		}
		if fl, ok := asFloat(v); ok {
			return int64(fl), nil
		}
	case KindFloat:
		if s, ok := v.(string); ok {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		}
		if fl, ok := asFloat(v); ok {
			return fl, nil
		}
	case KindDecimal:
		switch x := v.(type) {
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
				return nil, err
			}
			return strings.TrimSpace(x), nil
		case json.Number:
			return x.String(), nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		}
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprint(x), nil
		}
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.TrimSpace(x) {
			case "Y", "y":
				return true, nil
			case "N", "n":
				return false, nil
			}
			return strconv.ParseBool(strings.TrimSpace(x))
		}
		if i, ok := asInt(v); ok {
			return i != 0, nil
		}
	case KindDate, KindDatetime:
		if t, ok := v.(time.Time); ok {
			if kind == KindDate {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
			return t, nil
		}
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339, strings.TrimSpace(s))
		}
	case KindDuration, KindTime:
		if d, ok := v.(time.Duration); ok {
			return d, nil
		}
	default:
		if c, ok := convert(v, kind); ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, kind)
}
