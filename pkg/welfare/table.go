package welfare

import (
	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/sqlstore"
)

// TableName is the catalog table.
const TableName = "gov_welfare"

var textColumns = []string{
	ColUserType,
	ColServiceID, "service_name", "service_summary", "service_category", "service_conditions", "service_description",
	"offc_name", "dept_name", ColDeptType, "dept_code",
	"apply_period", "apply_method", "apply_url", "document", "receiving_agency", "contact",
	"support_details", "support_targets", "support_type",
	"detail_url", "law",
}

// FlagColumns are the eligibility flags, stored as booleans.
var FlagColumns = []string{
	"JA0101", "JA0102",
	"JA0201", "JA0202", "JA0203", "JA0204", "JA0205",
	"JA0301", "JA0302", "JA0303",
	"JA0313", "JA0314", "JA0315", "JA0316",
	"JA0317", "JA0318", "JA0319", "JA0320", "JA0322",
	"JA0326", "JA0327", "JA0328", "JA0329", "JA0330",
	"JA0401", "JA0402", "JA0403", "JA0404", "JA0410", "JA0411", "JA0412", "JA0413", "JA0414",
	"JA1101", "JA1102", "JA1103", "JA1201", "JA1202", "JA1299",
	"JA2101", "JA2102", "JA2103", "JA2201", "JA2202", "JA2203", "JA2299",
}

func declared() []sqlstore.ColumnDef {
	cols := []sqlstore.ColumnDef{
		{Name: sqlstore.SurrogateKey, Kind: dataset.KindInt, Surrogate: true},
		{Name: ColCreatedAt, Kind: dataset.KindDatetime},
		{Name: ColUpdatedAt, Kind: dataset.KindDatetime},
		{Name: ColViews, Kind: dataset.KindInt},
	}
	for _, name := range textColumns {
		cols = append(cols, sqlstore.ColumnDef{Name: name, Kind: dataset.KindString})
	}
	cols = append(cols,
		sqlstore.ColumnDef{Name: ColMinAge, Kind: dataset.KindInt},
		sqlstore.ColumnDef{Name: ColMaxAge, Kind: dataset.KindInt},
	)
	for _, name := range FlagColumns {
		cols = append(cols, sqlstore.ColumnDef{Name: name, Kind: dataset.KindBool})
	}
	return cols
}

// Table is the gov_welfare table.
var Table = sqlstore.TableSpec{
	Name:     TableName,
	Declared: declared(),
	Indexes: []sqlstore.Index{
		{Name: "ix_gov_welfare_views", Columns: []string{ColViews}},
		{Name: "ix_gov_welfare_dept_type", Columns: []string{ColDeptType}},
		{Name: "ix_gov_welfare_JA0110", Columns: []string{ColMinAge}},
		{Name: "ix_gov_welfare_JA0111", Columns: []string{ColMaxAge}},
		{Name: "ix_for_overcome", Columns: []string{"JA0201", "JA0202", "JA0203", "JA0204", "JA0205"}},
		{Name: "ix_for_life", Columns: []string{"JA0301", "JA0302", "JA0303"}},
		{Name: "ix_for_primary_industry", Columns: []string{"JA0313", "JA0314", "JA0315", "JA0316"}},
		{Name: "ix_for_education", Columns: []string{"JA0317", "JA0318", "JA0319", "JA0320", "JA0322"}},
		{Name: "ix_for_family", Columns: []string{"JA0401", "JA0402", "JA0403", "JA0404", "JA0410", "JA0411", "JA0412", "JA0413", "JA0414"}},
		{Name: "ix_for_business", Columns: []string{"JA1101", "JA1102", "JA1103", "JA1201", "JA1202", "JA1299"}},
		{Name: "ix_for_organization", Columns: []string{"JA2101", "JA2102", "JA2103", "JA2201", "JA2202", "JA2203", "JA2299"}},
	},
}
