package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
	"github.com/eunmann/opendata-ingest/pkg/source"
	"github.com/eunmann/opendata-ingest/pkg/sqlstore"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticLoader struct {
	records []fetch.Record
}

func (l *staticLoader) Fetch(context.Context, string, map[string]string) ([]fetch.Record, error) {
	return l.records, nil
}

func records(key string, vals ...int) []fetch.Record {
	out := make([]fetch.Record, len(vals))
	for i, v := range vals {
		out[i] = fetch.Record{"id": json.Number(strconv.Itoa(i)), key: json.Number(strconv.Itoa(v))}
	}
	return out
}

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.DefaultConfig(filepath.Join(t.TempDir(), "m.db")))
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func joinByID(_ context.Context, frames []*dataset.Frame) (*dataset.Frame, error) {
	return dataset.Join(frames, "id")
}

func tableRows(t *testing.T, s *sqlstore.Store, table string) [][2]int64 {
	t.Helper()
	rows, err := s.Query(context.Background(), `SELECT "a", "b" FROM "`+table+`" ORDER BY "id"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()
	var out [][2]int64
	for rows.Next() {
		var r [2]int64
		if err := rows.Scan(&r[0], &r[1]); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func TestRebuild_WaitsForAllSources(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	a := source.New(source.Config{Path: "/a"}, &staticLoader{records("a", 10, 20)}, nil)
	b := source.New(source.Config{Path: "/b"}, &staticLoader{records("b", 1, 2)}, nil)

	m, err := New(Config{Spec: sqlstore.TableSpec{Name: "ab"}, Transform: joinByID}, store, a, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Init(ctx, false); err != nil {
		t.Fatalf("Init a: %v", err)
	}
	if m.Builds() != 0 {
		t.Fatalf("rebuilt with only one source ready")
	}
	if _, err := store.Count(ctx, "ab"); err == nil {
		t.Fatal("table exists before all sources were ready")
	}

	if err := b.Init(ctx, false); err != nil {
		t.Fatalf("Init b: %v", err)
	}
	if m.Builds() != 1 {
		t.Fatalf("Builds = %d, want 1", m.Builds())
	}
	want := [][2]int64{{10, 1}, {20, 2}}
	if diff := cmp.Diff(want, tableRows(t, store, "ab")); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
	if m.Frame().Len() != 2 {
		t.Errorf("Frame len = %d, want 2", m.Frame().Len())
	}
}

func TestRebuild_FailureLeavesTableUnchanged(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	a := source.New(source.Config{Path: "/a"}, &staticLoader{records("a", 10, 20, 30)}, nil)
	b := source.New(source.Config{Path: "/b"}, &staticLoader{records("b", 1, 2, 3)}, nil)

	fail := false
	transform := func(ctx context.Context, frames []*dataset.Frame) (*dataset.Frame, error) {
		if fail {
			return nil, errors.New("forced")
		}
		return joinByID(ctx, frames)
	}
	m, err := New(Config{Spec: sqlstore.TableSpec{Name: "ab"}, Transform: transform}, store, a, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, s := range []*source.Manager{a, b} {
		if err := s.Init(ctx, false); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}
	before := tableRows(t, store, "ab")
	builtFrame := m.Frame()
	sourceFrame := a.Frame()

	fail = true
	err = a.Init(ctx, true)
	var re *RebuildError
	if !errors.As(err, &re) || re.Stage != StageTransform {
		t.Fatalf("Init error = %v, want transform RebuildError", err)
	}

	if diff := cmp.Diff(before, tableRows(t, store, "ab")); diff != "" {
		t.Errorf("table changed after failed rebuild (-before +after):\n%s", diff)
	}
	if m.Frame() != builtFrame {
		t.Error("published frame replaced by failed rebuild")
	}
	if !a.Initialized() || a.Frame().Len() != sourceFrame.Len() {
		t.Error("failed rebuild disturbed the source dataset")
	}
}

func TestRebuild_SchemaFailure(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	a := source.New(source.Config{Path: "/a"}, &staticLoader{records("a", 1)}, nil)
	weird := func(context.Context, []*dataset.Frame) (*dataset.Frame, error) {
		return dataset.New(dataset.NewColumn("x", dataset.Kind(200), []any{nil}))
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	if _, err := New(Config{Spec: sqlstore.TableSpec{Name: "w"}, Transform: weird, Metrics: met}, store, a); err != nil {
		t.Fatalf("New: %v", err)
	}

	err := a.Init(ctx, false)
	var re *RebuildError
	if !errors.As(err, &re) || re.Stage != StageSchema {
		t.Fatalf("Init error = %v, want schema RebuildError", err)
	}
	var se *sqlstore.SchemaError
	if !errors.As(err, &se) {
		t.Errorf("error %v does not wrap SchemaError", err)
	}
	if got := testutil.ToFloat64(met.Rebuilds.WithLabelValues("w", metrics.RebuildFailed)); got != 1 {
		t.Errorf("failed rebuilds = %v, want 1", got)
	}
}

func TestOnBuilt(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	a := source.New(source.Config{Path: "/a"}, &staticLoader{records("a", 1, 2, 3)}, nil)
	m, err := New(Config{Spec: sqlstore.TableSpec{Name: "a"}, Transform: joinByID}, store, a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got int
	m.OnBuilt(func(_ context.Context, f *dataset.Frame) error {
		got = f.Len()
		return nil
	})
	if err := a.Init(ctx, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got != 3 {
		t.Errorf("hook saw %d rows, want 3", got)
	}

	m.OnBuilt(func(context.Context, *dataset.Frame) error { return errors.New("index failed") })
	err = m.Sync(ctx)
	var re *RebuildError
	if !errors.As(err, &re) || re.Stage != StagePublish {
		t.Fatalf("Sync error = %v, want publish RebuildError", err)
	}
	if m.Builds() != 2 {
		t.Errorf("Builds = %d, want 2", m.Builds())
	}
}

func TestSync_NotReadyIsNoop(t *testing.T) {
	store := openStore(t)
	a := source.New(source.Config{Path: "/a"}, &staticLoader{}, nil)
	m, err := New(Config{Spec: sqlstore.TableSpec{Name: "a"}, Transform: joinByID}, store, a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if m.Builds() != 0 || m.Frame().Len() != 0 {
		t.Error("Sync rebuilt before the source was ready")
	}
}

func TestNew_Validation(t *testing.T) {
	store := openStore(t)
	a := source.New(source.Config{Path: "/a"}, &staticLoader{}, nil)
	if _, err := New(Config{Transform: joinByID}, store, a); err == nil {
		t.Error("New accepted an empty table name")
	}
	if _, err := New(Config{Spec: sqlstore.TableSpec{Name: "a"}}, store, a); err == nil {
		t.Error("New accepted a nil transform")
	}
	if _, err := New(Config{Spec: sqlstore.TableSpec{Name: "a"}, Transform: joinByID}, store); err == nil {
		t.Error("New accepted no sources")
	}
}
