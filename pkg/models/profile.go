package models

// PrimitiveType is the coarse value type detected by sampling a column.
type PrimitiveType string

const (
	PrimitiveInteger  PrimitiveType = "integer"
	PrimitiveFloat    PrimitiveType = "float"
	PrimitiveString   PrimitiveType = "string"
	PrimitiveBoolean  PrimitiveType = "boolean"
	PrimitiveDatetime PrimitiveType = "datetime"
)

// ColumnProfile holds per-column statistics from one sampling pass.
// Profiles are immutable once produced; downstream engines only read them.
type ColumnProfile struct {
	Name            string        `json:"name"`
	DetectedType    PrimitiveType `json:"detected_type"`
	NativeType      string        `json:"native_type"` // origin column type label, e.g. "text" for CSV
	NullCount       int           `json:"null_count"`
	DistinctCount   int           `json:"distinct_count"`
	SampleValues    []string      `json:"sample_values"`
	MaxStringLength int           `json:"max_string_length"`

	// NumericMin/NumericMax are populated only for integer and float
	// columns; both are zero when no numeric value was observed.
	NumericMin float64 `json:"numeric_min,omitempty"`
	NumericMax float64 `json:"numeric_max,omitempty"`
}
