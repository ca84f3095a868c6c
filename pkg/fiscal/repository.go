package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/groupindex"
)

// DefaultStartYear is the first year of an open-ended range.
const DefaultStartYear = 2000

// ErrNotIndexed is returned before the aggregate tables were first built.
var ErrNotIndexed = errors.New("fiscal aggregates not indexed yet")

// Repository answers year-range queries over the per-year aggregates from
// in-memory grouped indexes. The indexes are replaced whenever the
// aggregates are rebuilt.
type Repository struct {
	byYear       atomic.Pointer[groupindex.Table]
	byYearOffice atomic.Pointer[groupindex.Table]
	now          func() time.Time
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{now: time.Now}
}

// IndexByYear rebuilds the per-year index from the open_fiscal_by_year frame.
func (r *Repository) IndexByYear(ctx context.Context, frame *dataset.Frame) error {
	return r.index(ctx, &r.byYear, frame, TableByYear, ColYear)
}

// IndexByYearOffice rebuilds the per-year-and-department index from the
// open_fiscal_by_year_offc frame.
func (r *Repository) IndexByYearOffice(ctx context.Context, frame *dataset.Frame) error {
	return r.index(ctx, &r.byYearOffice, frame, TableByYearOffice, ColYear, ColDeptNo)
}

func (r *Repository) index(ctx context.Context, dst *atomic.Pointer[groupindex.Table], frame *dataset.Frame, table string, keys ...string) error {
	start := time.Now()
	t, err := groupindex.Build(frame, keys...)
	if err != nil {
		return fmt.Errorf("index %s: %w", table, err)
	}
	dst.Store(t)
	log := logctx.FromContext(ctx)
	log.Debug().
		Str("table", table).
		Int("buckets", t.Len()).
		Int("rows", t.Rows()).
		Dur("elapsed", time.Since(start)).
		Msg("grouped index rebuilt")
	return nil
}

// ByYear returns the per-year totals for years in [start, end).
func (r *Repository) ByYear(start, end *int, page, size int) (groupindex.Page, error) {
	return r.query(r.byYear.Load(), start, end, page, size)
}

// ByYearOffice returns the per-department totals for years in [start, end).
func (r *Repository) ByYearOffice(start, end *int, page, size int) (groupindex.Page, error) {
	return r.query(r.byYearOffice.Load(), start, end, page, size)
}

func (r *Repository) query(t *groupindex.Table, start, end *int, page, size int) (groupindex.Page, error) {
	if t == nil {
		return groupindex.Page{}, ErrNotIndexed
	}
	years := YearRange(start, end, r.now())
	return t.Index([][]any{years}, page, size)
}

// YearRange lists the years in [start, end) as strings. A nil start means
// 2000; a nil end means the year after now.
func YearRange(start, end *int, now time.Time) []any {
	lo, hi := DefaultStartYear, now.Year()+1
	if start != nil {
		lo = *start
	}
	if end != nil {
		hi = *end
	}
	var out []any
	for y := lo; y < hi; y++ {
		out = append(out, strconv.Itoa(y))
	}
	return out
}
