package dataset

import (
	"fmt"
	"slices"
	"strings"
)

type aggOp uint8

const (
	aggSum aggOp = iota
	aggCount
)

// Aggregation is one output column of a grouped aggregation.
type Aggregation struct {
	op     aggOp
	source string
	alias  string
}

// Sum totals col per group, named col. Nulls are skipped; a group with only
// nulls sums to zero.
func Sum(col string) Aggregation { return Aggregation{op: aggSum, source: col, alias: col} }

// SumAs totals col per group under alias.
func SumAs(col, alias string) Aggregation { return Aggregation{op: aggSum, source: col, alias: alias} }

// Count counts rows per group under alias.
func Count(alias string) Aggregation { return Aggregation{op: aggCount, alias: alias} }

// Grouping is a frame partitioned by key columns.
type Grouping struct {
	f    *Frame
	keys []string
}

// GroupBy partitions rows by the key columns.
func (f *Frame) GroupBy(keys ...string) *Grouping {
	return &Grouping{f: f, keys: keys}
}

type group struct {
	key  []any
	rows []int
}

func (g *Grouping) groups() []*group {
	byKey := make(map[string]*group)
	var order []*group
	for i := range g.f.n {
		key := make([]any, len(g.keys))
		var b strings.Builder
		for k, name := range g.keys {
			key[k] = g.f.Value(i, name)
			b.WriteString(EncodeValue(key[k]))
			b.WriteByte(0)
		}
		s := b.String()
		grp, ok := byKey[s]
		if !ok {
			grp = &group{key: key}
			byKey[s] = grp
			order = append(order, grp)
		}
		grp.rows = append(grp.rows, i)
	}
	slices.SortStableFunc(order, func(a, b *group) int { return CompareTuples(a.key, b.key) })
	return order
}

// Agg computes aggs per group. The result has the key columns followed by
// one column per aggregation, one row per group, sorted by key tuple.
func (g *Grouping) Agg(aggs ...Aggregation) (*Frame, error) {
	keyCols := make([]*Column, len(g.keys))
	for k, name := range g.keys {
		c, err := g.f.column(name)
		if err != nil {
			return nil, fmt.Errorf("group by: %w", err)
		}
		keyCols[k] = c
	}
	srcCols := make([]*Column, len(aggs))
	for a, agg := range aggs {
		if agg.op != aggSum {
			continue
		}
		c, err := g.f.column(agg.source)
		if err != nil {
			return nil, fmt.Errorf("sum: %w", err)
		}
		if !c.kind.Numeric() && c.kind != KindNull {
			return nil, fmt.Errorf("sum %q: column is %s", agg.source, c.kind)
		}
		srcCols[a] = c
	}

	groups := g.groups()
	cols := make([]*Column, 0, len(g.keys)+len(aggs))
	for k, c := range keyCols {
		vals := make([]any, len(groups))
		for i, grp := range groups {
			vals[i] = grp.key[k]
		}
		cols = append(cols, NewColumn(c.name, c.kind, vals))
	}

	for a, agg := range aggs {
		vals := make([]any, len(groups))
		kind := KindInt
		for i, grp := range groups {
			switch agg.op {
			case aggCount:
				vals[i] = int64(len(grp.rows))
			case aggSum:
				src := srcCols[a]
				if src.kind == KindFloat {
					kind = KindFloat
					var sum float64
					for _, r := range grp.rows {
						if v, ok := src.values[r].(float64); ok {
							sum += v
						}
					}
					vals[i] = sum
				} else {
					var sum int64
					for _, r := range grp.rows {
						if v, ok := src.values[r].(int64); ok {
							sum += v
						}
					}
					vals[i] = sum
				}
			}
		}
		cols = append(cols, NewColumn(agg.alias, kind, vals))
	}

	out, err := New(cols...)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	out.n = len(groups)
	return out, nil
}

// PctChange adds alias holding each row's change over the previous row of
// the same partition, (cur - prev) / prev, in frame order. The first row of
// a partition, rows where either value is null, and rows after a zero are
// null. An empty over treats the whole frame as one partition.
func (f *Frame) PctChange(col string, over []string, alias string) (*Frame, error) {
	c, err := f.column(col)
	if err != nil {
		return nil, fmt.Errorf("pct change: %w", err)
	}
	if !c.kind.Numeric() && c.kind != KindNull {
		return nil, fmt.Errorf("pct change %q: column is %s", col, c.kind)
	}
	for _, name := range over {
		if !f.Has(name) {
			return nil, fmt.Errorf("pct change over: %w: %q", ErrColumnNotFound, name)
		}
	}

	last := make(map[string]int)
	vals := make([]any, f.n)
	for i := range f.n {
		var b strings.Builder
		for _, name := range over {
			b.WriteString(EncodeValue(f.Value(i, name)))
			b.WriteByte(0)
		}
		key := b.String()
		prevRow, seen := last[key]
		last[key] = i
		if !seen {
			continue
		}
		cur, ok1 := asFloat(c.values[i])
		prev, ok2 := asFloat(c.values[prevRow])
		if !ok1 || !ok2 || prev == 0 || c.values[i] == nil || c.values[prevRow] == nil {
			continue
		}
		vals[i] = (cur - prev) / prev
	}
	return f.WithColumn(NewColumn(alias, KindFloat, vals))
}

// Unique returns the distinct non-null values of the named column, sorted.
func (f *Frame) Unique(name string) ([]any, error) {
	c, err := f.column(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []any
	for _, v := range c.values {
		if v == nil {
			continue
		}
		k := EncodeValue(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	slices.SortFunc(out, Compare)
	return out, nil
}
