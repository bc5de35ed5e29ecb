package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/jsonutil"
	"github.com/dataloom-ai/dataloom-engine/pkg/llm"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
	"github.com/dataloom-ai/dataloom-engine/pkg/prompts"
)

// SchemaSplitEngine proposes a fact/dimension decomposition of the
// profiled columns. Total: for any non-empty profile sequence a
// structurally valid split with at least one dimension comes back.
type SchemaSplitEngine interface {
	// Split returns a normalized SchemaSplit. The second result reports
	// whether the deterministic fallback produced the outcome.
	Split(ctx context.Context, profiles []models.ColumnProfile, tableHint map[string][]string) (*models.SchemaSplit, bool)
}

type schemaSplitEngine struct {
	client      llm.LLMClient
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewSchemaSplitEngine creates the engine. client may be nil; every
// split then takes the fallback path.
func NewSchemaSplitEngine(client llm.LLMClient, temperature float64, maxTokens int, logger *zap.Logger) SchemaSplitEngine {
	return &schemaSplitEngine{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.Named("schema-split"),
	}
}

// minDimensionsWithoutHint is the minimum dimension count demanded from
// the model when no destination hint constrains the table set.
const minDimensionsWithoutHint = 3

// dimensionKeywordOrder fixes iteration order over the keyword table so
// fallback output is deterministic.
var dimensionKeywordOrder = []string{
	"DimPatient", "DimDoctor", "DimHospital", "DimDate",
	"DimMedication", "DimLocation", "DimDepartment",
}

// dimensionKeywords maps a dimension name to the column-name keywords
// that pull columns into it, matched case-insensitively.
var dimensionKeywords = map[string][]string{
	"DimPatient":    {"patient"},
	"DimDoctor":     {"doctor", "physician"},
	"DimHospital":   {"hospital", "clinic", "facility"},
	"DimDate":       {"date", "time"},
	"DimMedication": {"medication", "drug", "medicine"},
	"DimLocation":   {"location", "address", "city", "state", "zip"},
	"DimDepartment": {"department", "division"},
}

// schemaSplitResponse is the expected model output shape.
type schemaSplitResponse struct {
	Dimensions map[string]struct {
		Columns    json.RawMessage `json:"columns"`
		PrimaryKey json.RawMessage `json:"primary_key"`
	} `json:"dimensions"`
	Fact struct {
		Name    json.RawMessage `json:"name"`
		Columns json.RawMessage `json:"columns"`
	} `json:"fact"`
	ForeignKeys map[string]json.RawMessage `json:"foreign_keys"`
}

func (e *schemaSplitEngine) Split(ctx context.Context, profiles []models.ColumnProfile, tableHint map[string][]string) (*models.SchemaSplit, bool) {
	if e.client == nil {
		return e.fallback(profiles), true
	}

	prompt := prompts.BuildSchemaSplitPrompt(profiles, tableHint)
	response, err := e.client.GenerateResponse(ctx, prompt, prompts.SystemMessage, e.temperature, e.maxTokens)
	if err != nil {
		e.logger.Warn("schema split degraded to fallback", zap.Error(degradation(err)))
		return e.fallback(profiles), true
	}

	split, ok := e.parseResponse(response, profiles)
	if !ok {
		return e.fallback(profiles), true
	}

	// Cross-check the response against the destination hint; asking in
	// the prompt is not enforcement.
	if len(tableHint) > 0 && !matchesHint(split, tableHint) {
		e.logger.Warn("schema split response does not match destination hint, using fallback",
			zap.Error(degradation(nil)))
		return e.fallback(profiles), true
	}
	if len(tableHint) == 0 && len(split.Dimensions) < minDimensionsWithoutHint {
		e.logger.Warn("schema split response has too few dimensions, using fallback",
			zap.Error(degradation(nil)),
			zap.Int("dimensions", len(split.Dimensions)))
		return e.fallback(profiles), true
	}

	return split, false
}

func (e *schemaSplitEngine) parseResponse(response string, profiles []models.ColumnProfile) (*models.SchemaSplit, bool) {
	parsed, err := llm.ParseJSONResponse[schemaSplitResponse](response)
	if err != nil || len(parsed.Dimensions) == 0 {
		e.logger.Warn("schema split response unparseable, using fallback",
			zap.Error(degradation(err)),
			zap.Int("response_len", len(response)))
		return nil, false
	}

	known := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		known[p.Name] = true
	}

	split := &models.SchemaSplit{
		Dimensions:  make(map[string]models.DimensionSpec),
		ForeignKeys: make(map[string]string),
	}
	for name, dim := range parsed.Dimensions {
		columns := jsonutil.FlexibleStringSlice(dim.Columns)
		// Hallucinated columns are dropped rather than carried forward.
		columns = intersect(columns, known)
		if len(columns) == 0 {
			continue
		}
		split.Dimensions[name] = models.DimensionSpec{
			Name:       name,
			Columns:    columns,
			PrimaryKey: jsonutil.FlexibleStringValue(dim.PrimaryKey),
		}
	}
	if len(split.Dimensions) == 0 {
		return nil, false
	}

	factName := jsonutil.FlexibleStringValue(parsed.Fact.Name)
	if factName == "" {
		factName = "FactData"
	}
	split.Fact = models.FactSpec{
		Name:    factName,
		Columns: intersect(jsonutil.FlexibleStringSlice(parsed.Fact.Columns), known),
	}

	for col, raw := range parsed.ForeignKeys {
		if dimName := jsonutil.FlexibleStringValue(raw); dimName != "" {
			split.ForeignKeys[col] = dimName
		}
	}

	split.Normalize()
	if len(split.Dimensions) == 0 {
		return nil, false
	}
	return split, true
}

// fallback classifies columns with the static keyword table and the
// identifier-suffix heuristic. Produces at least one dimension for any
// non-empty profile sequence.
func (e *schemaSplitEngine) fallback(profiles []models.ColumnProfile) *models.SchemaSplit {
	var columns, idColumns, numericColumns, textColumns []string
	for _, p := range profiles {
		columns = append(columns, p.Name)
		lower := strings.ToLower(p.Name)
		switch {
		case strings.Contains(lower, "id") && strings.HasSuffix(lower, "_id"):
			idColumns = append(idColumns, p.Name)
		case p.DetectedType == models.PrimitiveInteger || p.DetectedType == models.PrimitiveFloat:
			numericColumns = append(numericColumns, p.Name)
		case p.DetectedType == models.PrimitiveString:
			// Datetime and boolean columns are neither measures nor
			// dimension candidates; they land in the fact table with
			// the other unabsorbed columns.
			textColumns = append(textColumns, p.Name)
		}
	}

	split := &models.SchemaSplit{
		Dimensions:  make(map[string]models.DimensionSpec),
		ForeignKeys: make(map[string]string),
	}

	for _, dimName := range dimensionKeywordOrder {
		keywords := dimensionKeywords[dimName]
		var matched []string
		for _, col := range textColumns {
			if containsAny(strings.ToLower(col), keywords) {
				matched = append(matched, col)
			}
		}
		if len(matched) == 0 {
			continue
		}
		primaryKey := matched[0]
		for _, id := range idColumns {
			if containsAny(strings.ToLower(id), keywords) {
				primaryKey = id
				matched = append([]string{id}, matched...)
				break
			}
		}
		split.Dimensions[dimName] = models.DimensionSpec{
			Name:       dimName,
			Columns:    matched,
			PrimaryKey: primaryKey,
		}
	}

	// No keyword matched anything: synthesize a dimension per leading
	// identifier column from the columns sharing its name stem.
	if len(split.Dimensions) == 0 {
		for i, idCol := range idColumns {
			if i >= 5 {
				break
			}
			stem := strings.ToLower(idStem(idCol))
			var related []string
			for _, col := range textColumns {
				if strings.Contains(strings.ToLower(col), stem) && len(related) < 10 {
					related = append(related, col)
				}
			}
			if len(related) == 0 {
				continue
			}
			name := models.DimensionPrefix + models.TitleCase(inflection.Singular(idStem(idCol)))
			split.Dimensions[name] = models.DimensionSpec{
				Name:       name,
				Columns:    append([]string{idCol}, related...),
				PrimaryKey: idCol,
			}
		}
	}

	// Last resort: one dimension around the first identifier-like
	// column (or the first column outright) plus leading descriptive
	// columns. A split without dimensions is trivial and never returned.
	if len(split.Dimensions) == 0 && len(columns) > 0 {
		key := columns[0]
		if len(idColumns) > 0 {
			key = idColumns[0]
		}
		dimCols := []string{key}
		for _, col := range textColumns {
			if col != key && len(dimCols) < 11 {
				dimCols = append(dimCols, col)
			}
		}
		name := models.DimensionPrefix + models.TitleCase(inflection.Singular(idStem(key)))
		split.Dimensions[name] = models.DimensionSpec{
			Name:       name,
			Columns:    dimCols,
			PrimaryKey: key,
		}
	}

	// Fact table: measures plus whatever no dimension absorbed.
	absorbed := make(map[string]bool)
	for _, dim := range split.Dimensions {
		for _, col := range dim.Columns {
			absorbed[col] = true
		}
	}
	factColumns := append([]string{}, numericColumns...)
	for _, col := range columns {
		if !absorbed[col] && !containsColumn(factColumns, col) {
			factColumns = append(factColumns, col)
		}
	}
	// The fact table references each dimension by its key; the overlap
	// of foreign-key columns between fact and dimensions is intended.
	for _, dimName := range sortedKeys(split.Dimensions) {
		if pk := split.Dimensions[dimName].PrimaryKey; !containsColumn(factColumns, pk) {
			factColumns = append(factColumns, pk)
		}
	}
	split.Fact = models.FactSpec{
		Name:    "Fact" + models.TitleCase(DeriveContextKeyword(columns)),
		Columns: factColumns,
	}

	// A foreign key exists only when the fact table actually references
	// the dimension's key.
	for _, dimName := range sortedKeys(split.Dimensions) {
		pk := split.Dimensions[dimName].PrimaryKey
		if containsColumn(split.Fact.Columns, pk) {
			split.ForeignKeys[pk] = dimName
		}
	}

	split.Normalize()
	return split
}

// matchesHint checks that the split's table set exactly matches the
// destination hint's table set.
func matchesHint(split *models.SchemaSplit, hint map[string][]string) bool {
	hintTables := make([]string, 0, len(hint))
	for name := range hint {
		hintTables = append(hintTables, name)
	}
	sort.Strings(hintTables)

	splitTables := split.TableNames()
	sort.Strings(splitTables)

	if len(hintTables) != len(splitTables) {
		return false
	}
	for i := range hintTables {
		if hintTables[i] != splitTables[i] {
			return false
		}
	}
	return true
}

func idStem(col string) string {
	stem := col
	for _, suffix := range []string{"_ID", "_Id", "_id"} {
		stem = strings.TrimSuffix(stem, suffix)
	}
	if stem == "" {
		stem = col
	}
	return stem
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func containsColumn(list []string, col string) bool {
	for _, item := range list {
		if item == col {
			return true
		}
	}
	return false
}

func intersect(list []string, known map[string]bool) []string {
	var kept []string
	for _, item := range list {
		if known[item] {
			kept = append(kept, item)
		}
	}
	return kept
}
