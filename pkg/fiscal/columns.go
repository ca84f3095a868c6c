// Package fiscal normalizes and aggregates the national budget expenditure
// dataset (TotalExpenditure5) into detail and per-year tables.
package fiscal

// Path is the expenditure endpoint.
const Path = "TotalExpenditure5"

// Source columns.
const (
	ColYear        = "FSCL_YY"
	ColOffice      = "OFFC_NM"
	ColFiscalName  = "FSCL_NM"
	ColAccount     = "ACCT_NM"
	ColField       = "FLD_NM"
	ColSection     = "SECT_NM"
	ColProgram     = "PGM_NM"
	ColActivity    = "ACTV_NM"
	ColSubActivity = "SACTV_NM"
	ColBizClass    = "BZ_CLS_NM"
	ColFinance     = "FIN_DE_EP_NM"
	ColPrevFirst   = "Y_PREY_FIRST_KCUR_AMT"
	ColPrevFinal   = "Y_PREY_FNL_FRC_AMT"
	ColBudget      = "Y_YY_MEDI_KCUR_AMT"
	ColFinal       = "Y_YY_DFN_MEDI_KCUR_AMT"
	ColInquiryCode = "ANEXP_INQ_STND_CD"
)

// Derived columns.
const (
	ColDeptNo    = "NORMALIZED_DEPT_NO"
	ColBudgetPct = "Y_YY_MEDI_KCUR_AMT_PCT"
	ColFinalPct  = "Y_YY_DFN_MEDI_KCUR_AMT_PCT"
	ColCount     = "COUNT"
)

// UnknownOffice replaces a missing office name.
const UnknownOffice = "미정"

// DefaultParams are the query parameters of the expenditure endpoint.
func DefaultParams() map[string]string {
	return map[string]string{
		"Type":           "json",
		"BDG_FND_DIV_CD": "0",
		ColInquiryCode:   "1",
	}
}
