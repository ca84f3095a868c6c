package fiscal

import (
	"fmt"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
)

// prepare drops the inquiry code, types the year and measures, and adds
// normalized department numbers.
func prepare(frame *dataset.Frame, aliases [][]string) (*dataset.Frame, error) {
	for _, name := range []string{ColYear, ColOffice} {
		if !frame.Has(name) {
			return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, name)
		}
	}
	f := frame.Drop(ColInquiryCode)

	f, err := f.Cast(ColYear, dataset.KindInt)
	if err != nil {
		return nil, fmt.Errorf("year to int: %w", err)
	}
	for _, name := range []string{ColBudget, ColFinal} {
		if f, err = numeric(f, name); err != nil {
			return nil, err
		}
	}
	return NormalizeDepartments(f, aliases)
}

// numeric makes the named measure an Int column unless it is already
// numeric. A missing measure becomes an all-null Int column.
func numeric(f *dataset.Frame, name string) (*dataset.Frame, error) {
	c, ok := f.Column(name)
	if !ok {
		return f.WithColumn(dataset.NewColumn(name, dataset.KindInt, make([]any, f.Len())))
	}
	if c.Kind().Numeric() {
		return f, nil
	}
	if out, err := f.Cast(name, dataset.KindInt); err == nil {
		return out, nil
	}
	out, err := f.Cast(name, dataset.KindFloat)
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", name, err)
	}
	return out, nil
}

// Detail returns every expenditure row with department numbers, sorted by
// year, department and budget.
func Detail(frame *dataset.Frame) (*dataset.Frame, error) {
	f, err := prepare(frame, DefaultAliases)
	if err != nil {
		return nil, fmt.Errorf("fiscal detail: %w", err)
	}
	return f.SortBy(dataset.Asc(ColYear), dataset.Asc(ColDeptNo), dataset.Asc(ColBudget))
}

// ByYear sums both measures per year and adds their change over the previous
// year.
func ByYear(frame *dataset.Frame) (*dataset.Frame, error) {
	f, err := prepare(frame, DefaultAliases)
	if err != nil {
		return nil, fmt.Errorf("fiscal by year: %w", err)
	}
	f, err = f.GroupBy(ColYear).Agg(dataset.Sum(ColBudget), dataset.Sum(ColFinal))
	if err != nil {
		return nil, fmt.Errorf("fiscal by year: %w", err)
	}
	if f, err = f.PctChange(ColBudget, nil, ColBudgetPct); err != nil {
		return nil, err
	}
	if f, err = f.PctChange(ColFinal, nil, ColFinalPct); err != nil {
		return nil, err
	}
	return f.SortBy(dataset.Asc(ColYear), dataset.Asc(ColBudget))
}

// ByYearOffice sums both measures per year, department and office name,
// counts rows, and adds the change over the department's previous year.
func ByYearOffice(frame *dataset.Frame) (*dataset.Frame, error) {
	f, err := prepare(frame, DefaultAliases)
	if err != nil {
		return nil, fmt.Errorf("fiscal by year and office: %w", err)
	}
	f, err = f.GroupBy(ColYear, ColDeptNo, ColOffice).
		Agg(dataset.Sum(ColBudget), dataset.Sum(ColFinal), dataset.Count(ColCount))
	if err != nil {
		return nil, fmt.Errorf("fiscal by year and office: %w", err)
	}
	if f, err = f.SortBy(dataset.Asc(ColDeptNo), dataset.Asc(ColYear)); err != nil {
		return nil, err
	}
	over := []string{ColDeptNo}
	if f, err = f.PctChange(ColBudget, over, ColBudgetPct); err != nil {
		return nil, err
	}
	if f, err = f.PctChange(ColFinal, over, ColFinalPct); err != nil {
		return nil, err
	}
	return f.SortBy(dataset.Asc(ColYear), dataset.Asc(ColDeptNo), dataset.Asc(ColBudget))
}
