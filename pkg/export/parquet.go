// Package export writes materialized frames to columnar files.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/parquet-go/parquet-go"
)

// RowGroupSize is the number of rows buffered per WriteRows call.
const RowGroupSize = 1024

// Schema returns the Parquet schema for frame. Every column is optional.
func Schema(name string, frame *dataset.Frame) *parquet.Schema {
	group := make(parquet.Group, frame.Width())
	for _, c := range frame.Columns() {
		group[c.Name()] = parquet.Optional(leafFor(c.Kind()))
	}
	return parquet.NewSchema(name, group)
}

func leafFor(kind dataset.Kind) parquet.Node {
	switch kind {
	case dataset.KindInt:
		return parquet.Int(64)
	case dataset.KindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case dataset.KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case dataset.KindDate:
		return parquet.Date()
	case dataset.KindDatetime:
		return parquet.Timestamp(parquet.Millisecond)
	case dataset.KindList, dataset.KindStruct:
		return parquet.JSON()
	case dataset.KindBinary:
		return parquet.Leaf(parquet.ByteArrayType)
	default:
		return parquet.String()
	}
}

// WriteParquet writes frame to w as a zstd-compressed Parquet file.
func WriteParquet(w io.Writer, name string, frame *dataset.Frame) error {
	schema := Schema(name, frame)
	pw := parquet.NewWriter(w, schema, parquet.Compression(&parquet.Zstd))

	// Group fields are ordered by name; column i of a row is fields[i].
	fields := schema.Fields()
	cols := make([]*dataset.Column, len(fields))
	for i, f := range fields {
		cols[i], _ = frame.Column(f.Name())
	}

	buf := make([]parquet.Row, 0, RowGroupSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(buf); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		buf = buf[:0]
		return nil
	}

	for r := range frame.Len() {
		row := make(parquet.Row, len(cols))
		for i, c := range cols {
			v, err := parquetValue(c.Value(r), c.Kind())
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", r, c.Name(), err)
			}
			if v.IsNull() {
				row[i] = v.Level(0, 0, i)
			} else {
				row[i] = v.Level(0, 1, i)
			}
		}
		buf = append(buf, row)
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func parquetValue(v any, kind dataset.Kind) (parquet.Value, error) {
	if v == nil {
		return parquet.NullValue(), nil
	}
	switch kind {
	case dataset.KindInt:
		if x, ok := v.(int64); ok {
			return parquet.Int64Value(x), nil
		}
	case dataset.KindFloat:
		if x, ok := v.(float64); ok {
			return parquet.DoubleValue(x), nil
		}
	case dataset.KindBool:
		if x, ok := v.(bool); ok {
			return parquet.BooleanValue(x), nil
		}
	case dataset.KindDate:
		if x, ok := v.(time.Time); ok {
			days := math.Floor(float64(x.Unix()) / 86400)
			return parquet.Int32Value(int32(days)), nil
		}
	case dataset.KindDatetime:
		if x, ok := v.(time.Time); ok {
			return parquet.Int64Value(x.UnixMilli()), nil
		}
	case dataset.KindList, dataset.KindStruct:
		b, err := json.Marshal(v)
		if err != nil {
			return parquet.Value{}, fmt.Errorf("encode %s value: %w", kind, err)
		}
		return parquet.ByteArrayValue(b), nil
	case dataset.KindBinary:
		if x, ok := v.([]byte); ok {
			return parquet.ByteArrayValue(x), nil
		}
	default:
		if x, ok := v.(string); ok {
			return parquet.ByteArrayValue([]byte(x)), nil
		}
		return parquet.ByteArrayValue([]byte(fmt.Sprint(v))), nil
	}
	return parquet.Value{}, fmt.Errorf("unexpected %T for kind %s", v, kind)
}

// ReadParquet reads a flat Parquet file into records keyed by column name.
// Integers decode as int64, floating values as float64 and byte arrays as
// strings.
func ReadParquet(r io.ReaderAt, size int64) ([]map[string]any, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	fields := file.Schema().Fields()

	var out []map[string]any
	buf := make([]parquet.Row, RowGroupSize)
	for _, rg := range file.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec := make(map[string]any, len(fields))
				for _, v := range row {
					rec[fields[v.Column()].Name()] = goValue(v)
				}
				out = append(out, rec)
			}
			if err != nil {
				rows.Close()
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			if n == 0 {
				rows.Close()
				break
			}
		}
	}
	return out, nil
}

func goValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	default:
		return v.String()
	}
}
