package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/apperrors"
	"github.com/dataloom-ai/dataloom-engine/pkg/jsonutil"
	"github.com/dataloom-ai/dataloom-engine/pkg/llm"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
	"github.com/dataloom-ai/dataloom-engine/pkg/prompts"
)

// TypeInferenceEngine maps column profiles to the canonical type
// vocabulary. The text-generation path and the deterministic fallback
// both produce a decision for every profiled column; the engine never
// fails.
type TypeInferenceEngine interface {
	// Infer returns one TypeDecision per column, keyed by column name.
	// The second result reports whether the deterministic fallback
	// produced any part of the outcome.
	Infer(ctx context.Context, profiles []models.ColumnProfile, destinationTypes map[string]map[string]string) (map[string]models.TypeDecision, bool)
}

type typeInferenceEngine struct {
	client      llm.LLMClient
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewTypeInferenceEngine creates the engine. client may be nil; every
// inference then takes the fallback path.
func NewTypeInferenceEngine(client llm.LLMClient, temperature float64, maxTokens int, logger *zap.Logger) TypeInferenceEngine {
	return &typeInferenceEngine{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.Named("type-inference"),
	}
}

// sqlTypePattern splits a declared SQL type into base name and optional
// arguments, e.g. "decimal(10,4)" or "nvarchar(MAX)".
var sqlTypePattern = regexp.MustCompile(`^([a-zA-Z0-9_ ]+?)\s*(?:\((\s*[^)]*\s*)\))?$`)

// dateSlashPattern recognizes slash-formatted textual dates like
// 3/14/2024. Columns made entirely of these carry no time component
// and need an explicit format when converted downstream.
var dateSlashPattern = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$`)

// sqlToCanonical is the static mapping from declared destination SQL
// types to the canonical vocabulary. Parameterized decimals are handled
// separately so precision and scale survive.
var sqlToCanonical = map[string]models.CanonicalType{
	"varchar":       models.TypeString,
	"nvarchar":      models.TypeString,
	"char":          models.TypeString,
	"nchar":         models.TypeString,
	"text":          models.TypeString,
	"ntext":         models.TypeString,
	"int":           models.TypeInteger,
	"integer":       models.TypeInteger,
	"smallint":      models.TypeInteger,
	"tinyint":       models.TypeInteger,
	"bigint":        models.TypeLong,
	"float":         models.TypeDouble,
	"real":          models.TypeDouble,
	"double":        models.TypeDouble,
	"bit":           models.TypeBoolean,
	"boolean":       models.TypeBoolean,
	"datetime":      models.TypeTimestamp,
	"datetime2":     models.TypeTimestamp,
	"smalldatetime": models.TypeTimestamp,
	"timestamp":     models.TypeTimestamp,
	"date":          models.TypeDate,
	"binary":        models.TypeByte,
	"varbinary":     models.TypeByte,
	"image":         models.TypeBinary,
}

// MapSQLType converts a declared SQL type string to the canonical
// vocabulary. Returns false for unrecognized types.
func MapSQLType(sqlType string) (models.CanonicalType, bool) {
	m := sqlTypePattern.FindStringSubmatch(strings.TrimSpace(sqlType))
	if m == nil {
		return "", false
	}
	base := strings.ToLower(strings.TrimSpace(m[1]))
	args := strings.TrimSpace(m[2])

	switch base {
	case "decimal", "numeric", "money":
		precision, scale := models.DefaultDecimalPrecision, models.DefaultDecimalScale
		if args != "" {
			parts := strings.Split(args, ",")
			if p, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
				precision = p
			}
			if len(parts) > 1 {
				if s, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					scale = s
				}
			}
		}
		return models.DecimalType(precision, scale), true
	case "varbinary":
		if strings.EqualFold(args, "max") {
			return models.TypeBinary, true
		}
	}

	ct, ok := sqlToCanonical[base]
	return ct, ok
}

// typeInferenceResponse is the expected model output shape. Fields are
// raw so sloppy scalar types can be tolerated.
type typeInferenceResponse struct {
	Columns map[string]struct {
		SourceType    json.RawMessage `json:"source_type"`
		CanonicalType json.RawMessage `json:"canonical_type"`
		Nullable      json.RawMessage `json:"nullable"`
		Rationale     json.RawMessage `json:"rationale"`
	} `json:"columns"`
}

func (e *typeInferenceEngine) Infer(ctx context.Context, profiles []models.ColumnProfile, destinationTypes map[string]map[string]string) (map[string]models.TypeDecision, bool) {
	decisions, degraded := e.primaryInfer(ctx, profiles, destinationTypes)

	// Destination-type override: a declared warehouse type always wins,
	// on both paths.
	flat := flattenDestinationTypes(destinationTypes)
	for col, sqlType := range flat {
		d, ok := decisions[col]
		if !ok {
			continue
		}
		if canonical, mapped := MapSQLType(sqlType); mapped {
			d.SourceType = sqlType
			d.CanonicalType = canonical
			d.Rationale = "declared destination type"
			decisions[col] = d
		}
	}

	return decisions, degraded
}

func (e *typeInferenceEngine) primaryInfer(ctx context.Context, profiles []models.ColumnProfile, destinationTypes map[string]map[string]string) (map[string]models.TypeDecision, bool) {
	if e.client == nil {
		return e.fallback(profiles), true
	}

	prompt := prompts.BuildTypeInferencePrompt(profiles, flattenDestinationTypes(destinationTypes))
	response, err := e.client.GenerateResponse(ctx, prompt, prompts.SystemMessage, e.temperature, e.maxTokens)
	if err != nil {
		e.logger.Warn("type inference degraded to fallback", zap.Error(degradation(err)))
		return e.fallback(profiles), true
	}

	parsed, err := llm.ParseJSONResponse[typeInferenceResponse](response)
	if err != nil || len(parsed.Columns) == 0 {
		e.logger.Warn("type inference response unparseable, using fallback",
			zap.Error(degradation(err)),
			zap.Int("response_len", len(response)))
		return e.fallback(profiles), true
	}

	// Per-column repair: columns the model skipped or mistyped fall
	// back individually so good decisions survive.
	decisions := make(map[string]models.TypeDecision, len(profiles))
	degraded := false
	for _, p := range profiles {
		entry, ok := parsed.Columns[p.Name]
		if !ok {
			decisions[p.Name] = fallbackDecision(p)
			degraded = true
			continue
		}
		canonical := jsonutil.FlexibleStringValue(entry.CanonicalType)
		if !models.IsCanonicalType(canonical) {
			if mapped, ok := MapSQLType(canonical); ok {
				canonical = string(mapped)
			} else {
				decisions[p.Name] = fallbackDecision(p)
				degraded = true
				continue
			}
		}
		decisions[p.Name] = models.TypeDecision{
			ColumnName:    p.Name,
			SourceType:    jsonutil.FlexibleStringValue(entry.SourceType),
			CanonicalType: models.CanonicalType(canonical),
			Nullable:      jsonutil.FlexibleBoolValue(entry.Nullable),
			Rationale:     jsonutil.FlexibleStringValue(entry.Rationale),
		}
	}
	return decisions, degraded
}

// fallback derives every decision purely from detected primitive types
// and string-length heuristics. Total: one decision per profile, always.
func (e *typeInferenceEngine) fallback(profiles []models.ColumnProfile) map[string]models.TypeDecision {
	decisions := make(map[string]models.TypeDecision, len(profiles))
	for _, p := range profiles {
		decisions[p.Name] = fallbackDecision(p)
	}
	return decisions
}

func fallbackDecision(p models.ColumnProfile) models.TypeDecision {
	d := models.TypeDecision{
		ColumnName: p.Name,
		Nullable:   p.NullCount > 0,
		Rationale:  "heuristic inference from sampled values",
	}

	switch p.DetectedType {
	case models.PrimitiveInteger:
		if math.Abs(p.NumericMax) > math.MaxInt32 || math.Abs(p.NumericMin) > math.MaxInt32 {
			d.SourceType = "BIGINT"
			d.CanonicalType = models.TypeLong
		} else {
			d.SourceType = "INT"
			d.CanonicalType = models.TypeInteger
		}
	case models.PrimitiveFloat:
		d.SourceType = "DECIMAL(18,2)"
		d.CanonicalType = models.DecimalType(models.DefaultDecimalPrecision, models.DefaultDecimalScale)
	case models.PrimitiveDatetime:
		if allSlashDates(p.SampleValues) {
			d.SourceType = "DATE"
			d.CanonicalType = models.TypeDate
		} else {
			d.SourceType = "DATETIME"
			d.CanonicalType = models.TypeTimestamp
		}
	case models.PrimitiveBoolean:
		d.SourceType = "BIT"
		d.CanonicalType = models.TypeBoolean
	default:
		d.SourceType = nvarcharFor(p.MaxStringLength)
		d.CanonicalType = models.TypeString
	}
	return d
}

// allSlashDates reports whether every sampled non-null value is a bare
// slash-formatted date. Empty samples never qualify.
func allSlashDates(samples []string) bool {
	seen := 0
	for _, v := range samples {
		trimmed := strings.TrimSpace(v)
		if nullTokens[trimmed] {
			continue
		}
		if !dateSlashPattern.MatchString(trimmed) {
			return false
		}
		seen++
	}
	return seen > 0
}

// nvarcharFor buckets text columns by observed length: very long text
// gets MAX, anything else doubles the observed maximum with a floor of
// 50 and a cap of 4000.
func nvarcharFor(maxLen int) string {
	switch {
	case maxLen > 4000:
		return "NVARCHAR(MAX)"
	case maxLen > 255:
		size := maxLen * 2
		if size > 4000 {
			size = 4000
		}
		return fmt.Sprintf("NVARCHAR(%d)", size)
	default:
		size := maxLen * 2
		if size < 50 {
			size = 50
		}
		return fmt.Sprintf("NVARCHAR(%d)", size)
	}
}

// flattenDestinationTypes merges per-table destination column types into
// one column→type mapping. Later tables never override earlier entries
// for the same column name.
func flattenDestinationTypes(destinationTypes map[string]map[string]string) map[string]string {
	if len(destinationTypes) == 0 {
		return nil
	}
	flat := make(map[string]string)
	for _, table := range sortedKeys(destinationTypes) {
		for _, col := range sortedKeys(destinationTypes[table]) {
			if _, exists := flat[col]; !exists {
				flat[col] = destinationTypes[table][col]
			}
		}
	}
	return flat
}

// degradation tags a fallback-triggering cause with the shared
// inference-degradation sentinel so log consumers can match on it.
func degradation(cause error) error {
	if cause == nil {
		return apperrors.ErrInferenceDegraded
	}
	return fmt.Errorf("%w: %w", apperrors.ErrInferenceDegraded, cause)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
