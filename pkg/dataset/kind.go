// Package dataset implements an immutable, column-oriented table built from
// decoded JSON records. Every operation returns a new Frame; columns that an
// operation does not touch are shared between the input and the output.
package dataset

import "fmt"

// Kind is the closed set of column value kinds.
//
// Value representation per kind:
//
//	Null      nil only
//	Bool      bool
//	Int       int64
//	Float     float64
//	Decimal   string holding a decimal literal
//	String    string
//	Date      time.Time at midnight UTC
//	Datetime  time.Time
//	Time      time.Duration since midnight
//	Duration  time.Duration
//	Binary    []byte
//	List      []any
//	Struct    map[string]any
//	Unknown   any other Go value
//
// Any value may be nil.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindDate
	KindDatetime
	KindTime
	KindDuration
	KindBinary
	KindList
	KindStruct
	KindUnknown
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindDecimal:  "decimal",
	KindString:   "string",
	KindDate:     "date",
	KindDatetime: "datetime",
	KindTime:     "time",
	KindDuration: "duration",
	KindBinary:   "binary",
	KindList:     "list",
	KindStruct:   "struct",
	KindUnknown:  "unknown",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Numeric reports whether k holds int64 or float64 values.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}
