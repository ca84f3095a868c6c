package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Join left-joins frames in order on the by columns. Each right frame
// contributes only the columns the accumulated table does not have yet, in
// lexical order. Null keys never match.
func Join(frames []*Frame, by ...string) (*Frame, error) {
	if len(frames) == 0 {
		return Empty(), nil
	}
	out := frames[0]
	for i, right := range frames[1:] {
		joined, err := leftJoin(out, right, by)
		if err != nil {
			return nil, fmt.Errorf("join frame %d: %w", i+1, err)
		}
		out = joined
	}
	return out, nil
}

func leftJoin(left, right *Frame, by []string) (*Frame, error) {
	for _, k := range by {
		if !left.Has(k) {
			return nil, fmt.Errorf("left %w: %q", ErrColumnNotFound, k)
		}
		if !right.Has(k) {
			return nil, fmt.Errorf("right %w: %q", ErrColumnNotFound, k)
		}
	}

	isKey := make(map[string]bool, len(by))
	for _, k := range by {
		isKey[k] = true
	}
	var extra []string
	for _, name := range right.Names() {
		if !isKey[name] && !left.Has(name) {
			extra = append(extra, name)
		}
	}
	sortStrings(extra)

	index := make(map[string][]int)
	for i := range right.n {
		if key, ok := rowKey(right, i, by); ok {
			index[key] = append(index[key], i)
		}
	}

	var leftIdx, rightIdx []int
	for i := range left.n {
		matches := []int(nil)
		if key, ok := rowKey(left, i, by); ok {
			matches = index[key]
		}
		if len(matches) == 0 {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, -1)
			continue
		}
		for _, j := range matches {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, j)
		}
	}

	out := left.Take(leftIdx)
	for _, name := range extra {
		src, _ := right.Column(name)
		vals := make([]any, len(rightIdx))
		for k, j := range rightIdx {
			if j >= 0 {
				vals[k] = src.values[j]
			}
		}
		var err error
		out, err = out.WithColumn(NewColumn(name, src.kind, vals))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// rowKey encodes the values of cols at row i. It reports false when any
// value is null.
func rowKey(f *Frame, i int, cols []string) (string, bool) {
	var b strings.Builder
	for _, name := range cols {
		v := f.Value(i, name)
		if v == nil {
			return "", false
		}
		b.WriteString(EncodeValue(v))
		b.WriteByte(0)
	}
	return b.String(), true
}

// EncodeValue returns a string form of v such that values comparing equal
// under Compare share one encoding. Integral numbers encode identically
// whatever their Go type.
func EncodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "z"
	case bool:
		return "b" + strconv.FormatBool(x)
	case string:
		return "s" + x
	}
	if i, ok := asInt(v); ok && rank(v) == 2 {
		return "i" + strconv.FormatInt(i, 10)
	}
	if f, ok := asFloat(v); ok && rank(v) == 2 {
		return "f" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("%T:%v", v, v)
}
