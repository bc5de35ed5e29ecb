package models

import (
	"fmt"
	"regexp"
)

// CanonicalType is a member of the closed type vocabulary accepted by the
// target transformation engine in cast operations. Any other token inside
// a cast is a validation defect.
type CanonicalType string

const (
	TypeString    CanonicalType = "string"
	TypeInteger   CanonicalType = "integer"
	TypeLong      CanonicalType = "long"
	TypeDouble    CanonicalType = "double"
	TypeBoolean   CanonicalType = "boolean"
	TypeTimestamp CanonicalType = "timestamp"
	TypeDate      CanonicalType = "date"
	TypeByte      CanonicalType = "byte"
	TypeBinary    CanonicalType = "binary"
)

// DefaultDecimalPrecision and DefaultDecimalScale apply when a decimal
// type arrives without explicit precision/scale.
const (
	DefaultDecimalPrecision = 18
	DefaultDecimalScale     = 2
)

var decimalTypePattern = regexp.MustCompile(`^decimal\((\d+),(\d+)\)$`)

// DecimalType builds a decimal CanonicalType with the given precision
// and scale.
func DecimalType(precision, scale int) CanonicalType {
	return CanonicalType(fmt.Sprintf("decimal(%d,%d)", precision, scale))
}

// IsCanonicalType reports whether token is a member of the closed
// vocabulary, including parameterized decimal forms.
func IsCanonicalType(token string) bool {
	switch CanonicalType(token) {
	case TypeString, TypeInteger, TypeLong, TypeDouble, TypeBoolean,
		TypeTimestamp, TypeDate, TypeByte, TypeBinary:
		return true
	}
	return decimalTypePattern.MatchString(token)
}

// IsDecimal reports whether c is a parameterized decimal type.
func (c CanonicalType) IsDecimal() bool {
	return decimalTypePattern.MatchString(string(c))
}

// RequiresCast reports whether a column of this type needs a real type
// conversion from text. Plain string columns never do.
func (c CanonicalType) RequiresCast() bool {
	return c != TypeString && c != ""
}

// TypeDecision records the inferred canonical type for one column.
// One decision per column per run, keyed by ColumnName.
type TypeDecision struct {
	ColumnName    string        `json:"column_name"`
	SourceType    string        `json:"source_type"`
	CanonicalType CanonicalType `json:"canonical_type"`
	Nullable      bool          `json:"nullable"`
	Rationale     string        `json:"rationale"`
}
