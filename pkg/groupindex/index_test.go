package groupindex

import (
	"errors"
	"testing"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/google/go-cmp/cmp"
)

// fiscalFrame has years 2019..2022 and departments 0..2, with two rows for
// (2020, 1) and no row for (2022, 2).
func fiscalFrame(t *testing.T) *dataset.Frame {
	t.Helper()
	var years, depts, amts []any
	id := int64(0)
	for _, y := range []int64{2022, 2019, 2021, 2020} {
		for _, d := range []int64{2, 0, 1} {
			if y == 2022 && d == 2 {
				continue
			}
			n := 1
			if y == 2020 && d == 1 {
				n = 2
			}
			for range n {
				years = append(years, y)
				depts = append(depts, d)
				amts = append(amts, id)
				id++
			}
		}
	}
	f, err := dataset.New(
		dataset.NewColumn("FSCL_YY", dataset.KindInt, years),
		dataset.NewColumn("DEPT", dataset.KindInt, depts),
		dataset.NewColumn("AMT", dataset.KindInt, amts),
	)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return f
}

func mustBuild(t *testing.T, f *dataset.Frame, keys ...string) *Table {
	t.Helper()
	tbl, err := Build(f, keys...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tbl
}

func keysOf(rows []dataset.Row, cols ...string) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		for _, c := range cols {
			out[i] = append(out[i], r[c])
		}
	}
	return out
}

func TestBuild_EveryRowInOneBucket(t *testing.T) {
	f := fiscalFrame(t)
	tbl := mustBuild(t, f, "FSCL_YY", "DEPT")
	if tbl.Len() != 11 {
		t.Errorf("buckets = %d, want 11", tbl.Len())
	}

	seen := make(map[any]int)
	for _, b := range tbl.buckets {
		for _, r := range b.rows {
			seen[f.Value(r, "AMT")]++
		}
	}
	if len(seen) != f.Len() {
		t.Fatalf("rows in buckets = %d, want %d", len(seen), f.Len())
	}
	for amt, n := range seen {
		if n != 1 {
			t.Errorf("row AMT=%v in %d buckets", amt, n)
		}
	}
}

func TestIndex_PrefixUnsorted(t *testing.T) {
	tbl := mustBuild(t, fiscalFrame(t), "FSCL_YY", "DEPT")

	p, err := tbl.Index([][]any{{"2021", "2019"}}, 0, 0)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	want := [][]any{
		{int64(2019), int64(0)}, {int64(2019), int64(1)}, {int64(2019), int64(2)},
		{int64(2021), int64(0)}, {int64(2021), int64(1)}, {int64(2021), int64(2)},
	}
	if diff := cmp.Diff(want, keysOf(p.Items, "FSCL_YY", "DEPT")); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if p.Total != 6 || p.KeyTotal != 6 || p.HasNext || p.HasPrev {
		t.Errorf("page = %+v", p)
	}
}

func TestIndex_TwoDimensions(t *testing.T) {
	tbl := mustBuild(t, fiscalFrame(t), "FSCL_YY", "DEPT")

	p, err := tbl.Index([][]any{{2020, 2022}, {int64(1), int64(2)}}, 0, 0)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	want := [][]any{
		{int64(2020), int64(1)}, {int64(2020), int64(1)},
		{int64(2020), int64(2)},
		{int64(2022), int64(1)},
	}
	if diff := cmp.Diff(want, keysOf(p.Items, "FSCL_YY", "DEPT")); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if p.Total != 4 || p.KeyTotal != 3 {
		t.Errorf("Total=%d KeyTotal=%d, want 4 and 3", p.Total, p.KeyTotal)
	}
}

func TestIndex_PaginationIsPartition(t *testing.T) {
	tbl := mustBuild(t, fiscalFrame(t), "FSCL_YY", "DEPT")
	sets := [][]any{{2019, 2020, 2021, 2022, 1999}}

	all, err := tbl.Index(sets, 0, 0)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	for _, size := range []int{1, 2, 3, 4, 5, 11, 50} {
		var got []dataset.Row
		for page := 1; ; page++ {
			p, err := tbl.Index(sets, page, size)
			if err != nil {
				t.Fatalf("Index(page=%d, size=%d): %v", page, size, err)
			}
			if p.HasPrev != (page > 1) {
				t.Errorf("size=%d page=%d HasPrev=%v", size, page, p.HasPrev)
			}
			got = append(got, p.Items...)
			if !p.HasNext {
				if p.NextPage != 0 {
					t.Errorf("NextPage = %d on last page", p.NextPage)
				}
				break
			}
			if p.NextPage != page+1 {
				t.Errorf("NextPage = %d, want %d", p.NextPage, page+1)
			}
		}
		if diff := cmp.Diff(all.Items, got); diff != "" {
			t.Errorf("size=%d: pages differ from unpaginated result (-want +got):\n%s", size, diff)
		}
	}
}

func TestIndex_StableAcrossCalls(t *testing.T) {
	tbl := mustBuild(t, fiscalFrame(t), "FSCL_YY", "DEPT")
	first, err := tbl.Index([][]any{{2022, 2019}}, 2, 2)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	for range 5 {
		again, err := tbl.Index([][]any{{2019, 2022}}, 2, 2)
		if err != nil {
			t.Fatalf("Index: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("page changed between calls (-first +again):\n%s", diff)
		}
	}
}

func TestIndex_AbsentValueContributesNothing(t *testing.T) {
	tbl := mustBuild(t, fiscalFrame(t), "FSCL_YY", "DEPT")
	p, err := tbl.Index([][]any{{1990, "abc"}}, 1, 10)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if p.Total != 0 || len(p.Items) != 0 || p.HasNext {
		t.Errorf("page = %+v, want empty", p)
	}
}

func TestIndex_Errors(t *testing.T) {
	tbl := mustBuild(t, fiscalFrame(t), "FSCL_YY", "DEPT")
	for _, sets := range [][][]any{nil, {}, {{2020}, {1}, {0}}} {
		_, err := tbl.Index(sets, 1, 10)
		var ie *IndexError
		if !errors.As(err, &ie) {
			t.Errorf("Index(%v) error = %v, want IndexError", sets, err)
		}
	}
}

func TestBuild_Errors(t *testing.T) {
	f := fiscalFrame(t)
	if _, err := Build(f); !errors.Is(err, ErrNoKeys) {
		t.Errorf("Build() error = %v, want ErrNoKeys", err)
	}
	if _, err := Build(f, "missing"); !errors.Is(err, dataset.ErrColumnNotFound) {
		t.Errorf("Build(missing) error = %v, want ErrColumnNotFound", err)
	}
}

func TestBuild_EmptyFrame(t *testing.T) {
	f, err := dataset.New(dataset.NewColumn("FSCL_YY", dataset.KindInt, nil))
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	tbl := mustBuild(t, f, "FSCL_YY")
	p, err := tbl.Index([][]any{{2020}}, 1, 10)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if p.Total != 0 {
		t.Errorf("Total = %d, want 0", p.Total)
	}
}

func TestLookup(t *testing.T) {
	tbl := mustBuild(t, fiscalFrame(t), "FSCL_YY", "DEPT")
	rows, ok := tbl.Lookup("2020", "1")
	if !ok || len(rows) != 2 {
		t.Fatalf("Lookup(2020, 1) = %d rows, %v; want 2, true", len(rows), ok)
	}
	if _, ok := tbl.Lookup(2022, 2); ok {
		t.Error("Lookup found absent key (2022, 2)")
	}
	if _, ok := tbl.Lookup(2022); ok {
		t.Error("Lookup accepted a partial key")
	}
}

func TestKeyTable_RejectsUnknownKeys(t *testing.T) {
	keys := []string{"a", "b", "c", "d"}
	spans := []span{{0, 1}, {1, 2}, {2, 3}, {3, 4}}
	kt, err := buildKeyTable(keys, spans)
	if err != nil {
		t.Fatalf("buildKeyTable: %v", err)
	}
	for i, k := range keys {
		s, ok := kt.lookup(k)
		if !ok || s != spans[i] {
			t.Errorf("lookup(%q) = %v, %v; want %v", k, s, ok, spans[i])
		}
	}
	for _, k := range []string{"", "e", "aa"} {
		if _, ok := kt.lookup(k); ok {
			t.Errorf("lookup(%q) found a key that was never added", k)
		}
	}
}
