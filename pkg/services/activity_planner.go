package services

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/jsonutil"
	"github.com/dataloom-ai/dataloom-engine/pkg/llm"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
	"github.com/dataloom-ai/dataloom-engine/pkg/prompts"
)

// ActivityPlanner decides per-table transformation steps. The
// text-generation path and the deterministic fallback apply the same
// decision rules; a parse failure never reaches the caller.
type ActivityPlanner interface {
	// Plan returns one TableActivityPlan per table of the split. The
	// second result reports whether the deterministic fallback produced
	// any part of the outcome. priorFeedback lists defects from a
	// failed validation pass; each enumerated issue is a hard
	// constraint on this pass.
	Plan(ctx context.Context, split *models.SchemaSplit, decisions map[string]models.TypeDecision, priorFeedback string) (map[string]models.TableActivityPlan, bool)
}

type activityPlanner struct {
	client      llm.LLMClient
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewActivityPlanner creates the planner. client may be nil; every plan
// then takes the fallback path.
func NewActivityPlanner(client llm.LLMClient, temperature float64, maxTokens int, logger *zap.Logger) ActivityPlanner {
	return &activityPlanner{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.Named("activity-planner"),
	}
}

// missingColumnPattern recognizes validator feedback of the form
// "missing column X in Y" so the next plan can be forced to include X.
var missingColumnPattern = regexp.MustCompile(`missing column (\S+) in (\S+)`)

// activityPlanResponse is the expected model output shape.
type activityPlanResponse struct {
	Tables map[string]struct {
		Activities    json.RawMessage            `json:"activities"`
		AggregateKey  json.RawMessage            `json:"aggregate_key"`
		ColumnMapping map[string]json.RawMessage `json:"column_mappings"`
		CastColumns   map[string]json.RawMessage `json:"cast_columns"`
		DeriveColumns map[string]json.RawMessage `json:"derive_columns"`
	} `json:"tables"`
}

func (p *activityPlanner) Plan(ctx context.Context, split *models.SchemaSplit, decisions map[string]models.TypeDecision, priorFeedback string) (map[string]models.TableActivityPlan, bool) {
	if p.client == nil {
		return p.fallback(split, decisions, priorFeedback), true
	}

	prompt := prompts.BuildActivityPlanPrompt(split, decisions, priorFeedback)
	response, err := p.client.GenerateResponse(ctx, prompt, prompts.SystemMessage, p.temperature, p.maxTokens)
	if err != nil {
		p.logger.Warn("activity planning degraded to fallback", zap.Error(degradation(err)))
		return p.fallback(split, decisions, priorFeedback), true
	}

	parsed, err := llm.ParseJSONResponse[activityPlanResponse](response)
	if err != nil || len(parsed.Tables) == 0 {
		p.logger.Warn("activity plan response unparseable, using fallback",
			zap.Error(degradation(err)),
			zap.Int("response_len", len(response)))
		return p.fallback(split, decisions, priorFeedback), true
	}

	// Per-table repair: tables the model skipped or mangled fall back
	// individually; parsed tables are normalized against the shared
	// decision rules before use.
	plans := make(map[string]models.TableActivityPlan, len(parsed.Tables))
	degraded := false
	for _, table := range split.TableNames() {
		entry, ok := parsed.Tables[table]
		if !ok {
			plans[table] = p.planTable(split, table, decisions)
			degraded = true
			continue
		}

		plan := models.TableActivityPlan{
			TableName:     table,
			AggregateKey:  jsonutil.FlexibleStringValue(entry.AggregateKey),
			ColumnMapping: make(map[string]string),
			CastColumns:   make(map[string]models.CanonicalType),
			DeriveColumns: make(map[string]string),
		}
		for col, raw := range entry.ColumnMapping {
			plan.ColumnMapping[col] = jsonutil.FlexibleStringValue(raw)
		}
		for col, raw := range entry.CastColumns {
			token := jsonutil.FlexibleStringValue(raw)
			if models.IsCanonicalType(token) {
				plan.CastColumns[col] = models.CanonicalType(token)
			} else if mapped, ok := MapSQLType(token); ok {
				plan.CastColumns[col] = mapped
			}
		}
		for col, raw := range entry.DeriveColumns {
			if expr := jsonutil.FlexibleStringValue(raw); expr != "" {
				plan.DeriveColumns[col] = expr
			}
		}
		for _, step := range jsonutil.FlexibleStringSlice(entry.Activities) {
			plan.Steps = append(plan.Steps, models.StepKind(step))
		}

		p.normalize(&plan, split, table, decisions)
		plans[table] = plan
	}

	applyFeedbackConstraints(plans, priorFeedback)
	return plans, degraded
}

// fallback plans every table with the shared decision rules.
func (p *activityPlanner) fallback(split *models.SchemaSplit, decisions map[string]models.TypeDecision, priorFeedback string) map[string]models.TableActivityPlan {
	plans := make(map[string]models.TableActivityPlan)
	for _, table := range split.TableNames() {
		plans[table] = p.planTable(split, table, decisions)
	}
	applyFeedbackConstraints(plans, priorFeedback)
	return plans
}

// planTable applies the decision rules directly:
//   - select always
//   - aggregate for a dimension with a primary key, grouped on it
//   - derive for textual dates that need an explicit format, before cast
//   - cast whenever any column's canonical type leaves plain string
//   - identity column mapping covering exactly the defined columns
func (p *activityPlanner) planTable(split *models.SchemaSplit, table string, decisions map[string]models.TypeDecision) models.TableActivityPlan {
	columns, _ := split.TableColumns(table)
	dim, isDimension := split.Dimensions[table]

	plan := models.TableActivityPlan{
		TableName:     table,
		Steps:         []models.StepKind{models.StepSelect},
		ColumnMapping: make(map[string]string, len(columns)),
		CastColumns:   make(map[string]models.CanonicalType),
		DeriveColumns: make(map[string]string),
	}

	for _, col := range columns {
		plan.ColumnMapping[col] = col
	}

	// Source rows may repeat a dimension's key; de-duplication is
	// always planned when a key exists.
	if isDimension && dim.PrimaryKey != "" {
		plan.Steps = append(plan.Steps, models.StepAggregate)
		plan.AggregateKey = dim.PrimaryKey
	}

	for _, col := range columns {
		d, ok := decisions[col]
		if !ok || !d.CanonicalType.RequiresCast() {
			continue
		}
		if expr, needsDerive := deriveExpressionFor(col, d); needsDerive {
			plan.DeriveColumns[col] = expr
			continue
		}
		plan.CastColumns[col] = d.CanonicalType
	}

	if len(plan.DeriveColumns) > 0 {
		plan.Steps = append(plan.Steps, models.StepDerive)
	}
	if len(plan.CastColumns) > 0 {
		plan.Steps = append(plan.Steps, models.StepCast)
	}

	return plan
}

// deriveExpressionFor decides whether a column needs a computed value
// instead of a plain cast. The motivating case is a textual date whose
// format the engine must name explicitly.
func deriveExpressionFor(col string, d models.TypeDecision) (string, bool) {
	if d.CanonicalType != models.TypeDate {
		return "", false
	}
	clean := CleanColumnName(col)
	return "toDate(" + clean + ", 'M/d/yyyy')", true
}

// normalize clamps a parsed plan onto the shared decision rules so the
// two paths cannot diverge: step order is fixed, select is mandatory,
// the mapping is made exhaustive and exact, aggregate applies only to
// keyed dimensions, and empty derive steps are removed.
func (p *activityPlanner) normalize(plan *models.TableActivityPlan, split *models.SchemaSplit, table string, decisions map[string]models.TypeDecision) {
	columns, _ := split.TableColumns(table)
	dim, isDimension := split.Dimensions[table]

	// Exhaustive and exact mapping: every defined column exactly once.
	mapping := make(map[string]string, len(columns))
	for _, col := range columns {
		if target, ok := plan.ColumnMapping[col]; ok && target != "" {
			mapping[col] = target
		} else {
			mapping[col] = col
		}
	}
	plan.ColumnMapping = mapping

	hasStep := make(map[models.StepKind]bool)
	for _, s := range plan.Steps {
		hasStep[s] = true
	}
	hasStep[models.StepSelect] = true

	if isDimension && dim.PrimaryKey != "" {
		hasStep[models.StepAggregate] = true
		plan.AggregateKey = dim.PrimaryKey
	} else {
		hasStep[models.StepAggregate] = false
		plan.AggregateKey = ""
	}

	for col := range plan.CastColumns {
		if _, defined := plan.ColumnMapping[col]; !defined {
			delete(plan.CastColumns, col)
		}
	}
	for col := range plan.DeriveColumns {
		if _, defined := plan.ColumnMapping[col]; !defined {
			delete(plan.DeriveColumns, col)
		}
	}
	// A derived column is not also cast; the derivation already
	// produces the structured value.
	for col := range plan.DeriveColumns {
		delete(plan.CastColumns, col)
	}

	hasStep[models.StepDerive] = len(plan.DeriveColumns) > 0
	hasStep[models.StepCast] = len(plan.CastColumns) > 0

	plan.Steps = plan.Steps[:0]
	for _, kind := range []models.StepKind{models.StepSelect, models.StepAggregate, models.StepDerive, models.StepCast} {
		if hasStep[kind] {
			plan.Steps = append(plan.Steps, kind)
		}
	}
}

// applyFeedbackConstraints folds validator issues into the plans as
// hard constraints. Recognized shapes are applied mechanically; the
// remaining text already reached the model inside the prompt.
func applyFeedbackConstraints(plans map[string]models.TableActivityPlan, priorFeedback string) {
	if priorFeedback == "" {
		return
	}
	for _, m := range missingColumnPattern.FindAllStringSubmatch(priorFeedback, -1) {
		col, table := m[1], strings.TrimRight(m[2], ".,;")
		plan, ok := plans[table]
		if !ok {
			continue
		}
		if _, mapped := plan.ColumnMapping[col]; !mapped {
			plan.ColumnMapping[col] = col
			plans[table] = plan
		}
	}
}
