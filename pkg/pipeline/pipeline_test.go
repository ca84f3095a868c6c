package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eunmann/opendata-ingest/internal/config"
	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/eunmann/opendata-ingest/pkg/fiscal"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
	"github.com/eunmann/opendata-ingest/pkg/welfare"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// upstream serves the fiscal and welfare endpoints.
type upstream struct {
	requests atomic.Int64
	failPath string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.requests.Add(1)
	if r.URL.Path == u.failPath {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	switch r.URL.Path {
	case "/" + fiscal.Path:
		year := q.Get("FSCL_YY")
		page, _ := strconv.Atoi(q.Get("pIndex"))
		size, _ := strconv.Atoi(q.Get("pSize"))
		all := []map[string]any{
			{"FSCL_YY": year, "OFFC_NM": "A", "Y_YY_MEDI_KCUR_AMT": 10, "Y_YY_DFN_MEDI_KCUR_AMT": 12},
			{"FSCL_YY": year, "OFFC_NM": "B", "Y_YY_MEDI_KCUR_AMT": 20, "Y_YY_DFN_MEDI_KCUR_AMT": 22},
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			fiscal.Path: []any{
				map[string]any{"head": []any{map[string]any{"list_total_count": len(all)}}},
				map[string]any{"row": window(all, page, size)},
			},
		})
	case welfare.PathList, welfare.PathDetail, welfare.PathConditions:
		all := welfareRows[r.URL.Path]
		page, _ := strconv.Atoi(q.Get("page"))
		size, _ := strconv.Atoi(q.Get("perPage"))
		_ = json.NewEncoder(w).Encode(map[string]any{"totalCount": len(all), "data": window(all, page, size)})
	default:
		http.NotFound(w, r)
	}
}

func window(all []map[string]any, page, size int) []map[string]any {
	lo := min((page-1)*size, len(all))
	hi := min(page*size, len(all))
	return all[lo:hi]
}

var welfareRows = map[string][]map[string]any{
	welfare.PathList: {
		{"서비스ID": "S1", "서비스명": "A", "사용자구분": "개인", "수정일시": "20240102030405", "등록일시": "20230101000000", "조회수": "5"},
		{"서비스ID": "S2", "서비스명": "B", "사용자구분": "법인", "수정일시": "20240102030405", "등록일시": "20230101000000", "조회수": "7"},
	},
	welfare.PathDetail: {
		{"서비스ID": "S1", "지원내용": "cash"},
	},
	welfare.PathConditions: {
		{"서비스ID": "S1", "JA0101": "Y", "JA0110": "19"},
		{"서비스ID": "S2", "JA0101": nil, "JA0110": "20"},
	},
}

func testConfig(t *testing.T, url string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	cfg.Fetch.BatchSize = 1
	cfg.Fetch.Concurrency = 4
	cfg.Fiscal.BaseURL = url
	cfg.Fiscal.StartYear = 2023
	cfg.Fiscal.EndYear = 2024
	cfg.Welfare.BaseURL = url
	cfg.Welfare.SwaggerURL = ""
	cfg.Cache.Backend = config.BackendMemory
	cfg.Store.DSN = filepath.Join(t.TempDir(), "opendata.db")
	return cfg
}

func build(t *testing.T, u *upstream, m *metrics.Metrics) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(u)
	t.Cleanup(srv.Close)
	p, err := Build(context.Background(), testConfig(t, srv.URL), Deps{Metrics: m})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestInit_MaterializesEveryTable(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p := build(t, &upstream{}, m)
	ctx := context.Background()

	if err := p.Init(ctx, false); err != nil {
		t.Fatalf("Init: %v", err)
	}

	want := map[string]int64{
		fiscal.TableDetail:       4,
		fiscal.TableByYear:       2,
		fiscal.TableByYearOffice: 4,
		welfare.TableName:        1,
	}
	for table, n := range want {
		got, err := p.Store().Count(ctx, table)
		if err != nil {
			t.Fatalf("Count(%s): %v", table, err)
		}
		if got != n {
			t.Errorf("Count(%s) = %d, want %d", table, got, n)
		}
		if v := testutil.ToFloat64(m.Rebuilds.WithLabelValues(table, metrics.RebuildOK)); v < 1 {
			t.Errorf("%s ok rebuilds = %v, want at least 1", table, v)
		}
	}

	page, err := p.Fiscal().ByYear(nil, nil, 1, 10)
	if err != nil {
		t.Fatalf("ByYear: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("ByYear total = %d, want 2", page.Total)
	}
	if _, ok := p.Table(welfare.TableName); !ok {
		t.Errorf("Table(%s) not found", welfare.TableName)
	}
}

func TestInit_CacheThenForce(t *testing.T) {
	u := &upstream{}
	p := build(t, u, nil)
	ctx := context.Background()

	if err := p.Init(ctx, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	first := u.requests.Load()
	if first == 0 {
		t.Fatal("expected upstream requests on first init")
	}

	if err := p.Init(ctx, false); err != nil {
		t.Fatalf("Init cached: %v", err)
	}
	if got := u.requests.Load(); got != first {
		t.Errorf("cached init made %d requests", got-first)
	}

	if err := p.Init(ctx, true); err != nil {
		t.Fatalf("Init force: %v", err)
	}
	if got := u.requests.Load(); got <= first {
		t.Error("forced init made no requests")
	}
	for _, tbl := range p.Tables() {
		if tbl.Builds() < 2 {
			t.Errorf("%s builds = %d, want at least 2", tbl.Name(), tbl.Builds())
		}
	}
}

func TestInit_FailedSourceLeavesOthers(t *testing.T) {
	p := build(t, &upstream{failPath: welfare.PathDetail}, nil)
	ctx := context.Background()

	err := p.Init(ctx, false)
	var te *fetch.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Init error = %v, want TransportError", err)
	}

	if n, err := p.Store().Count(ctx, fiscal.TableDetail); err != nil || n != 4 {
		t.Errorf("Count(%s) = %d, %v; want 4", fiscal.TableDetail, n, err)
	}
	w, _ := p.Table(welfare.TableName)
	if w.Ready() || w.Builds() != 0 {
		t.Errorf("welfare table ready=%v builds=%d, want not built", w.Ready(), w.Builds())
	}
}

func TestWatch(t *testing.T) {
	u := &upstream{}
	p := build(t, u, nil)

	if err := p.Watch(context.Background(), 0); err == nil {
		t.Error("expected error for zero interval")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Watch(ctx, 50*time.Millisecond); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if u.requests.Load() == 0 {
		t.Error("watch made no requests")
	}
	for _, m := range p.Managers() {
		if m.Version() == 0 {
			t.Errorf("%s never loaded", m.Path())
		}
	}
}

func TestOpenCache_Bolt(t *testing.T) {
	cfg := config.DefaultConfig(time.Now())
	cfg.Cache.Path = filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	c, err := OpenCache(ctx, cfg, Deps{})
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer c.Close()

	recs := []fetch.Record{{"a": "1"}}
	if err := c.Set(ctx, "/p", recs, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, "/p")
	if !ok || len(got) != 1 {
		t.Errorf("Get = %v, %v; want one record", got, ok)
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig(time.Now())
	cfg.Cache.Backend = "nope"
	if _, err := Build(context.Background(), cfg, Deps{}); err == nil {
		t.Error("expected error for invalid config")
	}
}
