// Package prompts builds the text-generation prompts for the three
// inference stages. Every prompt demands a JSON-only response; callers
// still tolerate surrounding prose via balanced-block extraction.
package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// SystemMessage is shared by all three stages.
const SystemMessage = "You are a data engineering assistant that designs star schemas " +
	"and ETL transformation plans. Respond with a single JSON object and no other text."

func writeProfiles(b *strings.Builder, profiles []models.ColumnProfile) {
	b.WriteString("## Columns\n\n")
	for _, p := range profiles {
		fmt.Fprintf(b, "### %s\n", p.Name)
		fmt.Fprintf(b, "- detected type: %s\n", p.DetectedType)
		fmt.Fprintf(b, "- nulls: %d, distinct: %d, max length: %d\n",
			p.NullCount, p.DistinctCount, p.MaxStringLength)
		if len(p.SampleValues) > 0 {
			fmt.Fprintf(b, "- samples: %s\n", strings.Join(p.SampleValues, ", "))
		}
		b.WriteString("\n")
	}
}

// BuildSchemaSplitPrompt creates the prompt for the fact/dimension
// decomposition stage. When tableHint is non-empty the response must
// reproduce exactly that table set; otherwise at least three dimensions
// are demanded.
func BuildSchemaSplitPrompt(profiles []models.ColumnProfile, tableHint map[string][]string) string {
	var b strings.Builder

	b.WriteString("# Star Schema Design\n\n")
	b.WriteString("Split the following source columns into dimension tables and one fact table.\n\n")
	writeProfiles(&b, profiles)

	if len(tableHint) > 0 {
		b.WriteString("## Destination tables (authoritative)\n\n")
		b.WriteString("The warehouse already defines these tables. Your dimensions and fact table must use exactly these names and columns:\n\n")
		names := make([]string, 0, len(tableHint))
		for name := range tableHint {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(tableHint[name], ", "))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Propose at least 3 dimensions. ")
	}

	b.WriteString("Rules:\n")
	b.WriteString("- Dimension names start with \"Dim\".\n")
	b.WriteString("- Every dimension declares a primary_key that is one of its columns.\n")
	b.WriteString("- Numeric measures belong to the fact table.\n")
	b.WriteString("- foreign_keys maps a fact column to the dimension it references.\n\n")

	b.WriteString("Respond with JSON:\n")
	b.WriteString(`{"dimensions": {"DimName": {"columns": ["..."], "primary_key": "..."}}, `)
	b.WriteString(`"fact": {"name": "...", "columns": ["..."]}, "foreign_keys": {"column": "DimName"}}`)
	b.WriteString("\n")

	return b.String()
}

// BuildTypeInferencePrompt creates the prompt for the type inference
// stage. destinationTypes, when present, carry declared warehouse types
// that take precedence over inference.
func BuildTypeInferencePrompt(profiles []models.ColumnProfile, destinationTypes map[string]string) string {
	var b strings.Builder

	b.WriteString("# Column Type Inference\n\n")
	b.WriteString("Decide a canonical type for every column below.\n\n")
	writeProfiles(&b, profiles)

	if len(destinationTypes) > 0 {
		b.WriteString("## Declared destination types (take precedence)\n\n")
		cols := make([]string, 0, len(destinationTypes))
		for col := range destinationTypes {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			fmt.Fprintf(&b, "- %s: %s\n", col, destinationTypes[col])
		}
		b.WriteString("\n")
	}

	b.WriteString("Allowed canonical types: string, integer, long, double, decimal(p,s), boolean, timestamp, date, byte, binary.\n\n")
	b.WriteString("Respond with JSON:\n")
	b.WriteString(`{"columns": {"ColumnName": {"source_type": "...", "canonical_type": "...", "nullable": true, "rationale": "..."}}}`)
	b.WriteString("\n")

	return b.String()
}

// BuildActivityPlanPrompt creates the prompt for the per-table activity
// planning stage. priorFeedback, when non-empty, lists defects from the
// previous validation pass that this plan must fix.
func BuildActivityPlanPrompt(split *models.SchemaSplit, decisions map[string]models.TypeDecision, priorFeedback string) string {
	var b strings.Builder

	b.WriteString("# Transformation Activity Planning\n\n")
	b.WriteString("Decide the transformation steps for every table of this star schema.\n\n")

	b.WriteString("## Tables\n\n")
	for _, name := range split.DimensionNames() {
		dim := split.Dimensions[name]
		fmt.Fprintf(&b, "- %s (dimension, primary key %s): %s\n",
			name, dim.PrimaryKey, strings.Join(dim.Columns, ", "))
	}
	fmt.Fprintf(&b, "- %s (fact): %s\n\n", split.Fact.Name, strings.Join(split.Fact.Columns, ", "))

	b.WriteString("## Column types\n\n")
	cols := make([]string, 0, len(decisions))
	for col := range decisions {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		d := decisions[col]
		fmt.Fprintf(&b, "- %s: %s\n", col, d.CanonicalType)
	}
	b.WriteString("\n")

	if priorFeedback != "" {
		b.WriteString("## Validation feedback (hard constraints)\n\n")
		b.WriteString("The previous plan failed validation. Every issue below MUST be fixed in this plan:\n\n")
		b.WriteString(priorFeedback)
		b.WriteString("\n\n")
	}

	b.WriteString("Rules:\n")
	b.WriteString("- activities is an ordered subset of [select, aggregate, derive, cast]; select is always first.\n")
	b.WriteString("- Dimensions with a primary key aggregate on it; the fact table never aggregates.\n")
	b.WriteString("- cast only for columns whose canonical type is not string, using canonical type tokens.\n")
	b.WriteString("- derive only with at least one column: expression pair, e.g. \"toDate(OrderDate, 'M/d/yyyy')\".\n")
	b.WriteString("- column_mappings must cover exactly the table's columns.\n\n")

	b.WriteString("Respond with JSON:\n")
	b.WriteString(`{"tables": {"TableName": {"activities": ["select", "aggregate"], "aggregate_key": "...", `)
	b.WriteString(`"column_mappings": {"src": "dst"}, "cast_columns": {"col": "type"}, "derive_columns": {"col": "expr"}}}}`)
	b.WriteString("\n")

	return b.String()
}
