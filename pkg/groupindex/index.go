// Package groupindex buckets the rows of an aggregated frame by a composite
// key and answers prefix-filtered, paginated reads by direct key lookup.
//
// A Table is built once from an immutable frame and never modified; rebuild
// it when the frame changes. Tables are safe for concurrent reads.
package groupindex

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
)

// Table is a grouped index over one frame.
type Table struct {
	frame *dataset.Frame
	dims  []string
	kinds []dataset.Kind
	// buckets are sorted by key tuple; each holds row positions in frame
	// order.
	buckets []bucket
	// levels[l] maps encoded key prefixes of length l+1 to the contiguous
	// bucket span that shares the prefix. The last level is the full key.
	levels []*keyTable
	rows   int
}

type bucket struct {
	key  []any
	rows []int
}

// Page is one page of a grouped-index query.
type Page struct {
	Items []dataset.Row `json:"items"`
	// Total counts matching rows; KeyTotal counts matching buckets.
	Total    int  `json:"total"`
	KeyTotal int  `json:"keyTotal"`
	Page     int  `json:"page"`
	Size     int  `json:"pageSize"`
	HasPrev  bool `json:"hasPrev"`
	HasNext  bool `json:"hasNext"`
	// NextPage is 0 when there is no next page.
	NextPage int `json:"nextPage,omitempty"`
}

// Build groups the rows of frame by the named columns.
func Build(frame *dataset.Frame, keys ...string) (*Table, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	t := &Table{frame: frame, dims: keys, kinds: make([]dataset.Kind, len(keys)), rows: frame.Len()}
	cols := make([]*dataset.Column, len(keys))
	for i, k := range keys {
		c, ok := frame.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, k)
		}
		cols[i] = c
		t.kinds[i] = c.Kind()
	}

	byKey := make(map[string]int)
	for r := range frame.Len() {
		tuple := make([]any, len(cols))
		for i, c := range cols {
			tuple[i] = c.Value(r)
		}
		enc := encodeTuple(tuple)
		if b, ok := byKey[enc]; ok {
			t.buckets[b].rows = append(t.buckets[b].rows, r)
			continue
		}
		byKey[enc] = len(t.buckets)
		t.buckets = append(t.buckets, bucket{key: tuple, rows: []int{r}})
	}
	slices.SortStableFunc(t.buckets, func(a, b bucket) int {
		return dataset.CompareTuples(a.key, b.key)
	})

	t.levels = make([]*keyTable, len(keys))
	for l := range keys {
		var encs []string
		var spans []span
		for i, b := range t.buckets {
			enc := encodeTuple(b.key[:l+1])
			if n := len(encs); n > 0 && encs[n-1] == enc {
				spans[n-1].hi = i + 1
				continue
			}
			encs = append(encs, enc)
			spans = append(spans, span{lo: i, hi: i + 1})
		}
		kt, err := buildKeyTable(encs, spans)
		if err != nil {
			return nil, fmt.Errorf("index level %d: %w", l+1, err)
		}
		t.levels[l] = kt
	}
	return t, nil
}

// Keys returns the grouping columns.
func (t *Table) Keys() []string { return slices.Clone(t.dims) }

// Len returns the number of buckets.
func (t *Table) Len() int { return len(t.buckets) }

// Rows returns the number of indexed rows.
func (t *Table) Rows() int { return t.rows }

// Lookup returns the rows of the bucket with exactly this key.
func (t *Table) Lookup(key ...any) ([]dataset.Row, bool) {
	if len(key) != len(t.dims) {
		return nil, false
	}
	s, ok := t.levels[len(key)-1].lookup(t.encodeQuery(key))
	if !ok {
		return nil, false
	}
	return t.collect(s.lo, s.hi), true
}

// Index returns the rows whose key starts with some combination from the
// Cartesian product of prefixSets. prefixSets[i] lists the allowed values for
// key column i; later columns are unconstrained. With page and size both
// positive, matching buckets are sliced into pages of size buckets;
// otherwise every match is returned as page 1.
func (t *Table) Index(prefixSets [][]any, page, size int) (Page, error) {
	if len(prefixSets) == 0 {
		return Page{}, &IndexError{Reason: "at least one prefix set is required"}
	}
	if len(prefixSets) > len(t.dims) {
		return Page{}, &IndexError{Reason: fmt.Sprintf("%d prefix sets for %d key columns", len(prefixSets), len(t.dims))}
	}

	level := t.levels[len(prefixSets)-1]
	seen := make(map[int]bool)
	var spans []span
	product(prefixSets, func(combo []any) {
		s, ok := level.lookup(t.encodeQuery(combo))
		if !ok || seen[s.lo] {
			return
		}
		seen[s.lo] = true
		spans = append(spans, s)
	})
	slices.SortFunc(spans, func(a, b span) int { return a.lo - b.lo })

	var eligible []int
	total := 0
	for _, s := range spans {
		for b := s.lo; b < s.hi; b++ {
			eligible = append(eligible, b)
			total += len(t.buckets[b].rows)
		}
	}

	out := Page{Total: total, KeyTotal: len(eligible), Page: 1, Size: len(eligible)}
	lo, hi := 0, len(eligible)
	if page > 0 && size > 0 {
		lo = min((page-1)*size, len(eligible))
		hi = min(lo+size, len(eligible))
		out.Page, out.Size = page, size
		out.HasPrev = page > 1
		out.HasNext = hi < len(eligible)
		if out.HasNext {
			out.NextPage = page + 1
		}
	}

	out.Items = make([]dataset.Row, 0)
	for _, b := range eligible[lo:hi] {
		for _, r := range t.buckets[b].rows {
			out.Items = append(out.Items, t.frame.Row(r))
		}
	}
	return out, nil
}

func (t *Table) collect(lo, hi int) []dataset.Row {
	var out []dataset.Row
	for b := lo; b < hi; b++ {
		for _, r := range t.buckets[b].rows {
			out = append(out, t.frame.Row(r))
		}
	}
	return out
}

// encodeQuery normalizes query values to the kinds of the key columns and
// encodes them.
func (t *Table) encodeQuery(values []any) string {
	norm := make([]any, len(values))
	for i, v := range values {
		norm[i] = normalize(v, t.kinds[i])
	}
	return encodeTuple(norm)
}

// normalize converts numeric strings for numeric columns and numbers for
// text columns, so "2020" finds the integer key 2020.
func normalize(v any, kind dataset.Kind) any {
	switch x := v.(type) {
	case string:
		if !kind.Numeric() {
			return x
		}
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case int:
		if kind == dataset.KindString {
			return strconv.Itoa(x)
		}
		return int64(x)
	case int64:
		if kind == dataset.KindString {
			return strconv.FormatInt(x, 10)
		}
	}
	return v
}

func encodeTuple(values []any) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(dataset.EncodeValue(v))
		b.WriteByte(0)
	}
	return b.String()
}

// product calls fn for every combination of one value per set, in set order.
func product(sets [][]any, fn func([]any)) {
	combo := make([]any, len(sets))
	var walk func(i int)
	walk = func(i int) {
		if i == len(sets) {
			fn(combo)
			return
		}
		for _, v := range sets[i] {
			combo[i] = v
			walk(i + 1)
		}
	}
	walk(0)
}
