// Package welfare builds the government welfare service catalog from the
// gov24 service list, detail and support-condition endpoints.
package welfare

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/eunmann/opendata-ingest/pkg/dataset"
)

// Endpoint paths, in join order.
const (
	PathList       = "/gov24/v3/serviceList"
	PathDetail     = "/gov24/v3/serviceDetail"
	PathConditions = "/gov24/v3/supportConditions"
)

// Paths lists the endpoints in join order.
var Paths = []string{PathList, PathDetail, PathConditions}

// ServiceIDSource is the upstream join key.
const ServiceIDSource = "서비스ID"

// TimeLayout is the upstream timestamp format.
const TimeLayout = "20060102150405"

// Output columns.
const (
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColUserType  = "user_type"
	ColServiceID = "service_id"
	ColViews     = "views"
	ColDeptType  = "dept_type"
	ColMinAge    = "JA0110"
	ColMaxAge    = "JA0111"
)

// ColumnsMapping renames upstream columns.
var ColumnsMapping = map[string]string{
	"등록일시":        ColCreatedAt,
	"수정일시":        ColUpdatedAt,
	"사용자구분":       ColUserType,
	"서비스ID":       ColServiceID,
	"서비스명":        "service_name",
	"서비스목적요약":     "service_summary",
	"서비스분야":       "service_category",
	"선정기준":        "service_conditions",
	"서비스목적":       "service_description",
	"부서명":         "offc_name",
	"소관기관명":       "dept_name",
	"소관기관유형":      ColDeptType,
	"소관기관코드":      "dept_code",
	"조회수":         ColViews,
	"신청기한":        "apply_period",
	"신청방법":        "apply_method",
	"온라인신청사이트URL": "apply_url",
	"접수기관":        "receiving_agency",
	"지원내용":        "support_details",
	"지원대상":        "support_targets",
	"지원유형":        "support_type",
	"구비서류":        "document",
	"상세조회URL":     "detail_url",
	"전화문의":        "contact",
	"법령":          "law",
}

// DroppedColumns are upstream columns the catalog does not keep.
var DroppedColumns = []string{"자치법규", "행정규칙", "문의처", "접수기관명"}

// IndividualUserTypes selects services offered to individuals or households.
var IndividualUserTypes = []string{"개인", "가구"}

// Order sorts sources into join order. Unknown paths go last.
func Order[S interface{ Path() string }](sources []S) []S {
	rank := func(path string) int {
		if i := slices.Index(Paths, path); i >= 0 {
			return i
		}
		return len(Paths)
	}
	out := slices.Clone(sources)
	slices.SortStableFunc(out, func(a, b S) int { return cmp.Compare(rank(a.Path()), rank(b.Path())) })
	return out
}

// Build joins the list, detail and condition frames on the service id and
// shapes the result into the gov_welfare table.
func Build(frames ...*dataset.Frame) (*dataset.Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("welfare: no source frames")
	}
	f, err := dataset.Join(frames, ServiceIDSource)
	if err != nil {
		return nil, fmt.Errorf("welfare join: %w", err)
	}
	if f, err = f.SortBy(dataset.Asc(ServiceIDSource)); err != nil {
		return nil, err
	}
	if f, err = f.Rename(ColumnsMapping); err != nil {
		return nil, err
	}
	f = f.Drop(DroppedColumns...)

	users, ok := f.Column(ColUserType)
	if !ok {
		return nil, fmt.Errorf("welfare: %w: %q", dataset.ErrColumnNotFound, ColUserType)
	}
	f = f.Filter(func(i int) bool {
		s, _ := users.Value(i).(string)
		for _, t := range IndividualUserTypes {
			if strings.Contains(s, t) {
				return true
			}
		}
		return false
	})

	f = f.CastYesFlags()

	if f.Has(ColViews) {
		if f, err = f.FillNull(ColViews, "0"); err != nil {
			return nil, err
		}
		if f, err = f.Cast(ColViews, dataset.KindInt); err != nil {
			return nil, err
		}
	}
	for _, name := range []string{ColMinAge, ColMaxAge} {
		if f, err = lenientInt(f, name); err != nil {
			return nil, err
		}
	}
	for _, name := range []string{ColCreatedAt, ColUpdatedAt} {
		if !f.Has(name) {
			continue
		}
		if f, err = f.ParseTime(name, TimeLayout, dataset.KindDatetime); err != nil {
			return nil, err
		}
	}

	return f.SortBy(dataset.Desc(ColUpdatedAt), dataset.Asc(ColServiceID))
}

// lenientInt converts an optional column to Int; unparsable values become
// null.
func lenientInt(f *dataset.Frame, name string) (*dataset.Frame, error) {
	c, ok := f.Column(name)
	if !ok || c.Kind() == dataset.KindInt {
		return f, nil
	}
	return f.Derive(name, dataset.KindInt, func(i int) any {
		switch x := c.Value(i).(type) {
		case int64:
			return x
		case float64:
			return int64(x)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n
			}
		}
		return nil
	})
}
