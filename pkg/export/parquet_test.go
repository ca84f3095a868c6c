package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/google/go-cmp/cmp"
)

func TestWriteParquet_RoundTrip(t *testing.T) {
	f, err := dataset.New(
		dataset.NewColumn("FSCL_YY", dataset.KindInt, []any{int64(2020), int64(2021), int64(2022)}),
		dataset.NewColumn("OFFC_NM", dataset.KindString, []any{"국방부", nil, "교육부"}),
		dataset.NewColumn("PCT", dataset.KindFloat, []any{nil, 0.5, -0.2}),
		dataset.NewColumn("JA0101", dataset.KindBool, []any{true, false, false}),
		dataset.NewColumn("updated_at", dataset.KindDatetime, []any{
			time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), nil, nil,
		}),
	)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteParquet(&buf, "open_fiscal", f); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}

	got, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if len(got) != f.Len() {
		t.Fatalf("rows = %d, want %d", len(got), f.Len())
	}

	want := []map[string]any{
		{"FSCL_YY": int64(2020), "OFFC_NM": "국방부", "PCT": nil, "JA0101": true, "updated_at": int64(1704164645000)},
		{"FSCL_YY": int64(2021), "OFFC_NM": nil, "PCT": 0.5, "JA0101": false, "updated_at": nil},
		{"FSCL_YY": int64(2022), "OFFC_NM": "교육부", "PCT": -0.2, "JA0101": false, "updated_at": nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteParquet_ManyRows(t *testing.T) {
	n := RowGroupSize*2 + 7
	vals := make([]any, n)
	for i := range vals {
		vals[i] = int64(i)
	}
	f, err := dataset.New(dataset.NewColumn("n", dataset.KindInt, vals))
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteParquet(&buf, "t", f); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	got, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if len(got) != n {
		t.Fatalf("rows = %d, want %d", len(got), n)
	}
	if got[n-1]["n"] != int64(n-1) {
		t.Errorf("last row = %v, want %d", got[n-1]["n"], n-1)
	}
}

func TestWriteParquet_EmptyFrame(t *testing.T) {
	f, err := dataset.New(dataset.NewColumn("n", dataset.KindInt, nil))
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteParquet(&buf, "t", f); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	got, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("rows = %d, want 0", len(got))
	}
}
