package fiscal

import (
	"fmt"
	"slices"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
)

// DefaultAliases groups office names that denote one organization across
// reorganizations.
var DefaultAliases = [][]string{
	{"문화재청", "국가유산청"},
	{"안전행정부", "행정자치부", "행정안전부"},
	{"미래창조과학부", "과학기술정보통신부"},
	{"국가보훈처", "국가보훈부"},
}

// DepartmentNumbers assigns each office name its position among the sorted
// distinct names, then gives every member of an alias group the smallest
// number among the members present. Groups with no member present are
// ignored.
func DepartmentNumbers(names []string, aliases [][]string) map[string]int64 {
	distinct := slices.Clone(names)
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)

	no := make(map[string]int64, len(distinct))
	for i, name := range distinct {
		no[name] = int64(i)
	}
	for _, group := range aliases {
		lowest := int64(-1)
		for _, name := range group {
			if n, ok := no[name]; ok && (lowest < 0 || n < lowest) {
				lowest = n
			}
		}
		if lowest < 0 {
			continue
		}
		for _, name := range group {
			if _, ok := no[name]; ok {
				no[name] = lowest
			}
		}
	}
	return no
}

// NormalizeDepartments fills missing office names and adds the
// NORMALIZED_DEPT_NO column. Running it on its own output yields the same
// numbers.
func NormalizeDepartments(frame *dataset.Frame, aliases [][]string) (*dataset.Frame, error) {
	f, err := frame.FillNull(ColOffice, UnknownOffice)
	if err != nil {
		return nil, fmt.Errorf("normalize departments: %w", err)
	}
	f, err = f.Cast(ColOffice, dataset.KindString)
	if err != nil {
		return nil, fmt.Errorf("normalize departments: %w", err)
	}

	names := make([]string, f.Len())
	for i := range names {
		names[i] = f.Value(i, ColOffice).(string)
	}
	no := DepartmentNumbers(names, aliases)

	return f.Derive(ColDeptNo, dataset.KindInt, func(i int) any {
		return no[names[i]]
	})
}
