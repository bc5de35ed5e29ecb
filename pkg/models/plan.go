package models

import (
	"fmt"
	"sort"
)

// StepKind identifies one transformation step in a table's chain.
type StepKind string

const (
	StepSelect    StepKind = "select"
	StepAggregate StepKind = "aggregate"
	StepDerive    StepKind = "derive"
	StepCast      StepKind = "cast"
	StepSink      StepKind = "sink"
)

// StepOrder is the fixed ordering contract for a table's chain:
// select, then aggregate, then derive, then cast, terminated by a sink.
var StepOrder = []StepKind{StepSelect, StepAggregate, StepDerive, StepCast, StepSink}

func stepRank(k StepKind) int {
	for i, s := range StepOrder {
		if s == k {
			return i
		}
	}
	return len(StepOrder)
}

// TableActivityPlan is the decided transformation plan for one table.
type TableActivityPlan struct {
	TableName string     `json:"table_name"`
	Steps     []StepKind `json:"steps"`

	// AggregateKey is the groupBy column; required iff aggregate is
	// among Steps.
	AggregateKey string `json:"aggregate_key,omitempty"`

	// ColumnMapping covers exactly the table's defined column set.
	ColumnMapping map[string]string `json:"column_mappings"`

	// CastColumns maps a column to its canonical target type; subset of
	// ColumnMapping's targets.
	CastColumns map[string]CanonicalType `json:"cast_columns,omitempty"`

	// DeriveColumns maps a column to a computed expression; non-empty
	// iff derive is among Steps.
	DeriveColumns map[string]string `json:"derive_columns,omitempty"`
}

// HasStep reports whether kind is part of the plan.
func (p *TableActivityPlan) HasStep(kind StepKind) bool {
	for _, s := range p.Steps {
		if s == kind {
			return true
		}
	}
	return false
}

// AggregateColumns returns the columns reduced with a first-value
// reducer, in deterministic order. The groupBy key is never among them.
func (p *TableActivityPlan) AggregateColumns() []string {
	if !p.HasStep(StepAggregate) {
		return nil
	}
	var cols []string
	for src := range p.ColumnMapping {
		if src != p.AggregateKey {
			cols = append(cols, src)
		}
	}
	sort.Strings(cols)
	return cols
}

// Target returns the output name src carries after the select step.
// Unmapped columns keep their own name.
func (p *TableActivityPlan) Target(src string) string {
	if dst, ok := p.ColumnMapping[src]; ok && dst != "" {
		return dst
	}
	return src
}

// MappedColumns returns the mapping's source columns in deterministic
// order.
func (p *TableActivityPlan) MappedColumns() []string {
	cols := make([]string, 0, len(p.ColumnMapping))
	for src := range p.ColumnMapping {
		cols = append(cols, src)
	}
	sort.Strings(cols)
	return cols
}

// Validate returns structural defects against the table's defined
// column list. An empty result means the plan honors its invariants.
func (p *TableActivityPlan) Validate(definedColumns []string) []string {
	var issues []string

	if !p.HasStep(StepSelect) {
		issues = append(issues, fmt.Sprintf("plan for %s is missing the select step", p.TableName))
	}

	lastRank := -1
	for _, s := range p.Steps {
		r := stepRank(s)
		if r <= lastRank {
			issues = append(issues, fmt.Sprintf("plan for %s violates step ordering at %s", p.TableName, s))
			break
		}
		lastRank = r
	}

	if p.HasStep(StepAggregate) {
		if p.AggregateKey == "" {
			issues = append(issues, fmt.Sprintf("plan for %s aggregates without a groupBy key", p.TableName))
		} else if _, ok := p.ColumnMapping[p.AggregateKey]; !ok {
			issues = append(issues, fmt.Sprintf("plan for %s groupBy key %s is not a mapped column", p.TableName, p.AggregateKey))
		}
	}

	// Empty-derive invariant is bidirectional.
	if p.HasStep(StepDerive) && len(p.DeriveColumns) == 0 {
		issues = append(issues, fmt.Sprintf("plan for %s declares an empty derive step", p.TableName))
	}
	if !p.HasStep(StepDerive) && len(p.DeriveColumns) > 0 {
		issues = append(issues, fmt.Sprintf("plan for %s carries derive expressions without a derive step", p.TableName))
	}

	for src := range p.ColumnMapping {
		if !containsString(definedColumns, src) {
			issues = append(issues, fmt.Sprintf("plan for %s maps undefined column %s", p.TableName, src))
		}
	}
	for _, col := range definedColumns {
		if _, ok := p.ColumnMapping[col]; !ok {
			issues = append(issues, fmt.Sprintf("missing column %s in %s", col, p.TableName))
		}
	}

	for col, ct := range p.CastColumns {
		if !IsCanonicalType(string(ct)) {
			issues = append(issues, fmt.Sprintf("plan for %s casts %s to non-canonical type %q", p.TableName, col, ct))
		}
	}

	return issues
}
