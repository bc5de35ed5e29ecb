package models

import (
	"sort"
	"strings"
)

// DimensionPrefix is the mandatory name prefix for dimension tables.
const DimensionPrefix = "Dim"

// DimensionSpec describes one dimension table of a star schema.
// PrimaryKey is always a member of Columns.
type DimensionSpec struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	PrimaryKey string   `json:"primary_key"`
}

// FactSpec describes the fact table of a star schema.
type FactSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// SchemaSplit is a fact/dimension decomposition of one source table.
// ForeignKeys maps a fact column to the dimension it references; every
// value is a key of Dimensions.
type SchemaSplit struct {
	Dimensions  map[string]DimensionSpec `json:"dimensions"`
	Fact        FactSpec                 `json:"fact"`
	ForeignKeys map[string]string        `json:"foreign_keys"`
}

// DimensionNames returns dimension names in deterministic sorted order.
// All iteration over Dimensions goes through this to keep downstream
// output byte-stable.
func (s *SchemaSplit) DimensionNames() []string {
	names := make([]string, 0, len(s.Dimensions))
	for name := range s.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TableNames returns all table names (dimensions sorted, then fact).
func (s *SchemaSplit) TableNames() []string {
	names := s.DimensionNames()
	if s.Fact.Name != "" {
		names = append(names, s.Fact.Name)
	}
	return names
}

// TableColumns returns the defined column list for a table in the split,
// or false when the table is unknown.
func (s *SchemaSplit) TableColumns(table string) ([]string, bool) {
	if dim, ok := s.Dimensions[table]; ok {
		return dim.Columns, true
	}
	if table == s.Fact.Name {
		return s.Fact.Columns, true
	}
	return nil, false
}

// HasUnknownSentinel reports whether a table name carries a placeholder
// token. Ghost dimensions are dropped during normalization rather than
// kept, so no normalized split ever contains one. The bare "unk" token
// covers abbreviated placeholders emitted by some models.
func HasUnknownSentinel(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "unknown") || strings.Contains(lower, "unk")
}

// NormalizeDimensionName coerces a dimension name to carry the canonical
// prefix.
func NormalizeDimensionName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return trimmed
	}
	if strings.HasPrefix(trimmed, DimensionPrefix) {
		return trimmed
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "dim_") {
		trimmed = trimmed[4:]
	} else if strings.HasPrefix(strings.ToLower(trimmed), "dim") {
		trimmed = trimmed[3:]
	}
	return DimensionPrefix + TitleCase(trimmed)
}

// TitleCase capitalizes each underscore- or space-separated word and
// joins the result without separators.
func TitleCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	})
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]))
		if len(part) > 1 {
			b.WriteString(part[1:])
		}
	}
	return b.String()
}

// Normalize enforces the structural rules both inference paths must
// satisfy before a split is used downstream:
//   - every dimension name carries the canonical prefix
//   - dimensions with sentinel names or no columns are dropped
//   - PrimaryKey defaults to the first column when missing or foreign
//   - foreign keys referencing a dropped dimension are removed
func (s *SchemaSplit) Normalize() {
	normalized := make(map[string]DimensionSpec, len(s.Dimensions))
	renames := make(map[string]string, len(s.Dimensions))

	for name, dim := range s.Dimensions {
		if HasUnknownSentinel(name) || len(dim.Columns) == 0 {
			continue
		}
		newName := NormalizeDimensionName(name)
		if _, exists := normalized[newName]; exists {
			continue
		}
		dim.Name = newName
		if !containsString(dim.Columns, dim.PrimaryKey) {
			dim.PrimaryKey = dim.Columns[0]
		}
		normalized[newName] = dim
		renames[name] = newName
	}
	s.Dimensions = normalized

	if s.ForeignKeys != nil {
		kept := make(map[string]string, len(s.ForeignKeys))
		for col, dimName := range s.ForeignKeys {
			target := dimName
			if renamed, ok := renames[dimName]; ok {
				target = renamed
			} else {
				target = NormalizeDimensionName(dimName)
			}
			if _, ok := s.Dimensions[target]; ok {
				kept[col] = target
			}
		}
		s.ForeignKeys = kept
	}
}

// Validate returns structural defects in the split. An empty result
// means the split satisfies its invariants.
func (s *SchemaSplit) Validate() []string {
	var issues []string
	for _, name := range s.DimensionNames() {
		dim := s.Dimensions[name]
		if HasUnknownSentinel(name) {
			issues = append(issues, "dimension "+name+" carries a placeholder name")
		}
		if len(dim.Columns) == 0 {
			issues = append(issues, "dimension "+name+" has no columns")
		} else if !containsString(dim.Columns, dim.PrimaryKey) {
			issues = append(issues, "dimension "+name+" primary key "+dim.PrimaryKey+" is not one of its columns")
		}
	}
	for col, dimName := range s.ForeignKeys {
		if _, ok := s.Dimensions[dimName]; !ok {
			issues = append(issues, "foreign key "+col+" references unknown dimension "+dimName)
		}
	}
	return issues
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
