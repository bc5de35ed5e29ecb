package services

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// TabularSampler extracts per-column statistics from an in-memory table.
type TabularSampler interface {
	// Profile returns one ColumnProfile per column in source order.
	// Profiling one bad column never aborts the pass; that column gets
	// a zeroed profile instead.
	Profile(table *models.Table) []models.ColumnProfile
}

type tabularSampler struct {
	sampleValues int
	logger       *zap.Logger
}

// NewTabularSampler creates a sampler keeping up to sampleValues
// representative values per column.
func NewTabularSampler(sampleValues int, logger *zap.Logger) TabularSampler {
	if sampleValues <= 0 {
		sampleValues = 10
	}
	return &tabularSampler{
		sampleValues: sampleValues,
		logger:       logger.Named("tabular-sampler"),
	}
}

// nullTokens are cell values treated as missing.
var nullTokens = map[string]bool{
	"":     true,
	"null": true,
	"NULL": true,
	"None": true,
	"nan":  true,
	"NaN":  true,
	"N/A":  true,
}

// datetimeLayouts are tried in order when detecting datetime columns.
var datetimeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"02-Jan-2006",
}

func (s *tabularSampler) Profile(table *models.Table) []models.ColumnProfile {
	profiles := make([]models.ColumnProfile, 0, len(table.Columns))
	for _, name := range table.Columns {
		values, ok := table.Column(name)
		if !ok {
			s.logger.Warn("column missing from table, using zeroed profile",
				zap.String("table", table.Name),
				zap.String("column", name))
			profiles = append(profiles, models.ColumnProfile{
				Name:         name,
				DetectedType: models.PrimitiveString,
				NativeType:   "text",
				SampleValues: []string{},
			})
			continue
		}
		profiles = append(profiles, s.profileColumn(name, values))
	}

	s.logger.Debug("profiled table",
		zap.String("table", table.Name),
		zap.Int("columns", len(profiles)),
		zap.Int("rows", len(table.Rows)))
	return profiles
}

func (s *tabularSampler) profileColumn(name string, values []string) models.ColumnProfile {
	profile := models.ColumnProfile{
		Name:         name,
		NativeType:   "text",
		SampleValues: []string{},
	}

	distinct := make(map[string]struct{})
	var nonNull []string

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if nullTokens[trimmed] {
			profile.NullCount++
			continue
		}
		nonNull = append(nonNull, trimmed)
		distinct[trimmed] = struct{}{}
		if len(trimmed) > profile.MaxStringLength {
			profile.MaxStringLength = len(trimmed)
		}
	}
	profile.DistinctCount = len(distinct)

	// First rows, not a random sample: reproducibility over
	// representativeness.
	for i := 0; i < len(values) && len(profile.SampleValues) < s.sampleValues; i++ {
		profile.SampleValues = append(profile.SampleValues, values[i])
	}

	profile.DetectedType = detectPrimitiveType(nonNull)
	if profile.DetectedType == models.PrimitiveInteger || profile.DetectedType == models.PrimitiveFloat {
		profile.NumericMin, profile.NumericMax = numericRange(nonNull)
	}

	return profile
}

// detectPrimitiveType classifies the non-null values of one column.
// A column is typed only when every value fits the candidate type.
func detectPrimitiveType(values []string) models.PrimitiveType {
	if len(values) == 0 {
		return models.PrimitiveString
	}

	allBool, allInt, allFloat := true, true, true
	for _, v := range values {
		lower := strings.ToLower(v)
		if lower != "true" && lower != "false" {
			allBool = false
		}
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allFloat = false
		}
		if !allBool && !allInt && !allFloat {
			break
		}
	}
	if allBool {
		return models.PrimitiveBoolean
	}
	if allInt {
		return models.PrimitiveInteger
	}
	if allFloat {
		return models.PrimitiveFloat
	}

	if allDatetime(values) {
		return models.PrimitiveDatetime
	}
	return models.PrimitiveString
}

func allDatetime(values []string) bool {
	for _, v := range values {
		if !parsesAsDatetime(v) {
			return false
		}
	}
	return true
}

func parsesAsDatetime(v string) bool {
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func numericRange(values []string) (min, max float64) {
	first := true
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if first {
			min, max = f, f
			first = false
			continue
		}
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	return min, max
}
