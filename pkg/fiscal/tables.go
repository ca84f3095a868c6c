package fiscal

import (
	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/sqlstore"
)

// Table names.
const (
	TableDetail       = "open_fiscal"
	TableByYear       = "open_fiscal_by_year"
	TableByYearOffice = "open_fiscal_by_year_offc"
)

func intCol(name string) sqlstore.ColumnDef {
	return sqlstore.ColumnDef{Name: name, Kind: dataset.KindInt}
}

func textCol(name string) sqlstore.ColumnDef {
	return sqlstore.ColumnDef{Name: name, Kind: dataset.KindString}
}

func floatCol(name string) sqlstore.ColumnDef {
	return sqlstore.ColumnDef{Name: name, Kind: dataset.KindFloat}
}

var idCol = sqlstore.ColumnDef{Name: sqlstore.SurrogateKey, Kind: dataset.KindInt, Surrogate: true}

// DetailTable is the open_fiscal table.
var DetailTable = sqlstore.TableSpec{
	Name: TableDetail,
	Declared: []sqlstore.ColumnDef{
		idCol,
		intCol(ColYear),
		textCol(ColOffice),
		intCol(ColDeptNo),
		textCol(ColFiscalName),
		textCol(ColAccount),
		textCol(ColField),
		textCol(ColSection),
		textCol(ColProgram),
		textCol(ColActivity),
		textCol(ColSubActivity),
		textCol(ColBizClass),
		textCol(ColFinance),
		intCol(ColPrevFirst),
		intCol(ColPrevFinal),
		intCol(ColBudget),
		intCol(ColFinal),
	},
	Indexes: []sqlstore.Index{
		{Name: "ix_for_open_fiscal_FSCL_YY", Columns: []string{ColYear}},
		{Name: "ix_for_open_fiscal_NORMALIZED_DEPT_NO", Columns: []string{ColOffice}},
		{Name: "ix_for_open_fiscal_Y_YY_MEDI_KCUR_AMT", Columns: []string{ColBudget}},
		{Name: "ix_for_open_fiscal_Y_YY_DFN_MEDI_KCUR_AMT", Columns: []string{ColFinal}},
		{Name: "ix_for_open_fiscal_Fiscal_MEDI", Columns: []string{ColYear, ColDeptNo, ColBudget}},
		{Name: "ix_for_open_fiscal_Fiscal_DFN", Columns: []string{ColYear, ColDeptNo, ColFinal}},
	},
}

// ByYearTable is the open_fiscal_by_year table.
var ByYearTable = sqlstore.TableSpec{
	Name: TableByYear,
	Declared: []sqlstore.ColumnDef{
		idCol,
		intCol(ColYear),
		intCol(ColBudget),
		intCol(ColFinal),
		floatCol(ColBudgetPct),
		floatCol(ColFinalPct),
	},
	Indexes: []sqlstore.Index{
		{Name: "ix_for_open_fiscal_by_year_FSCL_YY", Columns: []string{ColYear}},
	},
}

// ByYearOfficeTable is the open_fiscal_by_year_offc table.
var ByYearOfficeTable = sqlstore.TableSpec{
	Name: TableByYearOffice,
	Declared: []sqlstore.ColumnDef{
		idCol,
		intCol(ColYear),
		textCol(ColOffice),
		intCol(ColDeptNo),
		intCol(ColBudget),
		intCol(ColFinal),
		floatCol(ColBudgetPct),
		floatCol(ColFinalPct),
		intCol(ColCount),
	},
	Indexes: []sqlstore.Index{
		{Name: "ix_for_open_fiscal_by_year_offc_FSCL_YY", Columns: []string{ColYear}},
		{Name: "ix_for_open_fiscal_by_year_offc_OFFC_NM", Columns: []string{ColOffice}},
		{Name: "ix_for_open_fiscal_by_year_offc_Fiscal_MEDI", Columns: []string{ColYear, ColDeptNo, ColBudget}},
		{Name: "ix_for_open_fiscal_by_year_offc_Fiscal_DFN", Columns: []string{ColYear, ColDeptNo, ColFinal}},
		{Name: "ix_for_open_fiscal_by_year_offc_Fiscal_MEDI_PCT", Columns: []string{ColYear, ColDeptNo, ColBudgetPct}},
		{Name: "ix_for_open_fiscal_by_year_offc_Fiscal_DFN_PCT", Columns: []string{ColYear, ColDeptNo, ColFinalPct}},
	},
}
