package dataset

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultInferLength is the number of non-null values sampled per column
// when inferring kinds.
const DefaultInferLength = 100000

// FromRecords builds a Frame from decoded JSON records. Column order follows
// first appearance. Each column's kind is inferred from its first
// inferLength non-null values (all values when inferLength <= 0); a later
// value that does not fit widens the column.
func FromRecords(records []map[string]any, inferLength int) *Frame {
	var names []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, name := range sortedKeys(rec) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	cols := make([]*Column, len(names))
	for j, name := range names {
		raw := make([]any, len(records))
		for i, rec := range records {
			raw[i] = rec[name]
		}
		cols[j] = columnFromValues(name, raw, inferLength)
	}
	f := mustNew(cols...)
	f.n = len(records)
	return f
}

// sortedKeys returns the map's keys in a stable order. JSON objects decoded
// into maps lose their key order, so lexical order stands in for it.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func columnFromValues(name string, raw []any, inferLength int) *Column {
	sample := raw
	if inferLength > 0 {
		sample = firstNonNull(raw, inferLength)
	}
	kind := InferKind(sample)
	if vals, ok := convertAll(raw, kind); ok {
		return NewColumn(name, kind, vals)
	}
	kind = InferKind(raw)
	if vals, ok := convertAll(raw, kind); ok {
		return NewColumn(name, kind, vals)
	}
	vals := make([]any, len(raw))
	for i, v := range raw {
		if v != nil {
			vals[i] = fmt.Sprint(v)
		}
	}
	return NewColumn(name, KindString, vals)
}

func firstNonNull(raw []any, n int) []any {
	out := make([]any, 0, min(n, len(raw)))
	for _, v := range raw {
		if v == nil {
			continue
		}
		out = append(out, v)
		if len(out) == n {
			break
		}
	}
	return out
}

// InferKind returns the narrowest kind holding every non-null value.
// Integers widen to floats; any other mix of scalar kinds is String.
func InferKind(values []any) Kind {
	kind := KindNull
	for _, v := range values {
		k := kindOf(v)
		if k == KindNull {
			continue
		}
		kind = unify(kind, k)
	}
	return kind
}

func kindOf(v any) Kind {
	switch x := v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return KindInt
		}
		return KindFloat
	case int, int32, int64:
		return KindInt
	case float32, float64:
		return KindFloat
	case string:
		return KindString
	case time.Time:
		return KindDatetime
	case time.Duration:
		return KindDuration
	case []byte:
		return KindBinary
	case []any:
		return KindList
	case map[string]any:
		return KindStruct
	default:
		return KindUnknown
	}
}

func unify(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindNull:
		return b
	case b == KindNull:
		return a
	case a.Numeric() && b.Numeric():
		return KindFloat
	case a == KindUnknown || b == KindUnknown:
		return KindUnknown
	default:
		return KindString
	}
}

func convertAll(raw []any, kind Kind) ([]any, bool) {
	out := make([]any, len(raw))
	for i, v := range raw {
		c, ok := convert(v, kind)
		if !ok {
			return nil, false
		}
		out[i] = c
	}
	return out, true
}

// convert coerces a decoded value to kind's representation.
func convert(v any, kind Kind) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch kind {
	case KindNull:
		return nil, false
	case KindBool:
		b, ok := v.(bool)
		return b, ok
	case KindInt:
		if _, isStr := v.(string); isStr {
			return nil, false
		}
		return asInt(v)
	case KindFloat:
		if _, isStr := v.(string); isStr {
			return nil, false
		}
		return asFloat(v)
	case KindString:
		switch x := v.(type) {
		case string:
			return x, true
		case json.Number:
			return x.String(), true
		case bool, int, int32, int64, float64:
			return fmt.Sprint(x), true
		}
		return nil, false
	case KindDatetime:
		t, ok := v.(time.Time)
		return t, ok
	case KindDuration:
		d, ok := v.(time.Duration)
		return d, ok
	case KindBinary:
		b, ok := v.([]byte)
		return b, ok
	case KindList:
		l, ok := v.([]any)
		return l, ok
	case KindStruct:
		m, ok := v.(map[string]any)
		return m, ok
	case KindUnknown:
		return v, true
	}
	return nil, false
}
