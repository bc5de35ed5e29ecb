package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/llm"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

func customerSplit() *models.SchemaSplit {
	return &models.SchemaSplit{
		Dimensions: map[string]models.DimensionSpec{
			"DimCustomer": {
				Name:       "DimCustomer",
				Columns:    []string{"CustomerID", "Name", "Phone"},
				PrimaryKey: "CustomerID",
			},
		},
		Fact: models.FactSpec{Name: "FactOrders", Columns: []string{"CustomerID", "Amount"}},
		ForeignKeys: map[string]string{
			"CustomerID": "DimCustomer",
		},
	}
}

func stringDecisions(cols ...string) map[string]models.TypeDecision {
	decisions := make(map[string]models.TypeDecision, len(cols))
	for _, c := range cols {
		decisions[c] = models.TypeDecision{ColumnName: c, CanonicalType: models.TypeString}
	}
	return decisions
}

func TestPlanKeyedDimensionAggregates(t *testing.T) {
	planner := NewActivityPlanner(nil, 0.1, 1024, zap.NewNop())
	decisions := stringDecisions("CustomerID", "Name", "Phone", "Amount")

	plans, degraded := planner.Plan(context.Background(), customerSplit(), decisions, "")

	assert.True(t, degraded, "absent client must report fallback use")

	plan := plans["DimCustomer"]
	assert.Equal(t, []models.StepKind{models.StepSelect, models.StepAggregate}, plan.Steps)
	assert.Equal(t, "CustomerID", plan.AggregateKey)
	assert.Equal(t, []string{"Name", "Phone"}, plan.AggregateColumns())
}

func TestPlanFactNeverAggregates(t *testing.T) {
	planner := NewActivityPlanner(nil, 0.1, 1024, zap.NewNop())
	decisions := stringDecisions("CustomerID", "Name", "Phone", "Amount")

	plans, _ := planner.Plan(context.Background(), customerSplit(), decisions, "")

	plan := plans["FactOrders"]
	assert.False(t, plan.HasStep(models.StepAggregate), "fact table must not aggregate")
	assert.True(t, plan.HasStep(models.StepSelect), "select is mandatory for every table")
}

func TestPlanCastAndDeriveSteps(t *testing.T) {
	split := customerSplit()
	decisions := stringDecisions("Name", "Phone")
	decisions["CustomerID"] = models.TypeDecision{ColumnName: "CustomerID", CanonicalType: models.TypeInteger}
	decisions["Amount"] = models.TypeDecision{ColumnName: "Amount", CanonicalType: models.DecimalType(18, 2)}

	planner := NewActivityPlanner(nil, 0.1, 1024, zap.NewNop())
	plans, _ := planner.Plan(context.Background(), split, decisions, "")

	fact := plans["FactOrders"]
	require.True(t, fact.HasStep(models.StepCast), "fact plan should cast its typed columns")
	assert.Equal(t, models.DecimalType(18, 2), fact.CastColumns["Amount"])
	assert.False(t, fact.HasStep(models.StepDerive), "no textual dates, no derive step")
}

func TestPlanDeriveForTextualDates(t *testing.T) {
	split := &models.SchemaSplit{
		Dimensions: map[string]models.DimensionSpec{
			"DimPatient": {Name: "DimPatient", Columns: []string{"Patient_ID"}, PrimaryKey: "Patient_ID"},
		},
		Fact: models.FactSpec{Name: "FactVisits", Columns: []string{"Patient_ID", "Visit_Date"}},
	}
	decisions := map[string]models.TypeDecision{
		"Patient_ID": {ColumnName: "Patient_ID", CanonicalType: models.TypeString},
		"Visit_Date": {ColumnName: "Visit_Date", CanonicalType: models.TypeDate},
	}

	planner := NewActivityPlanner(nil, 0.1, 1024, zap.NewNop())
	plans, _ := planner.Plan(context.Background(), split, decisions, "")

	fact := plans["FactVisits"]
	require.True(t, fact.HasStep(models.StepDerive), "date-typed columns need a derive step")
	assert.Equal(t, "toDate(Visit_Date, 'M/d/yyyy')", fact.DeriveColumns["Visit_Date"])
	assert.NotContains(t, fact.CastColumns, "Visit_Date", "a derived column must not also be cast")
	// Empty-derive invariant holds both ways.
	assert.Equal(t, fact.HasStep(models.StepDerive), len(fact.DeriveColumns) > 0)
}

func TestPlanNormalizesModelResponse(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
		// Wrong aggregate key, missing mapping entries, a derive step
		// with no expressions, and a ghost cast column.
		return `{"tables": {
			"DimCustomer": {
				"activities": ["select", "derive", "aggregate"],
				"aggregate_key": "Name",
				"column_mappings": {"CustomerID": "CustomerID"},
				"cast_columns": {"Ghost": "integer"},
				"derive_columns": {}
			},
			"FactOrders": {
				"activities": ["select"],
				"column_mappings": {"CustomerID": "CustomerID", "Amount": "Amount"},
				"cast_columns": {"Amount": "DECIMAL(18,2)"},
				"derive_columns": {}
			}
		}}`, nil
	}

	planner := NewActivityPlanner(mock, 0.1, 1024, zap.NewNop())
	decisions := stringDecisions("CustomerID", "Name", "Phone", "Amount")
	plans, degraded := planner.Plan(context.Background(), customerSplit(), decisions, "")

	assert.False(t, degraded, "a parseable response covering every table must not flag fallback use")

	dim := plans["DimCustomer"]
	assert.Equal(t, "CustomerID", dim.AggregateKey, "aggregate key must be clamped to the dimension key")
	for _, col := range []string{"CustomerID", "Name", "Phone"} {
		assert.Contains(t, dim.ColumnMapping, col, "mapping must be exhaustive")
	}
	assert.False(t, dim.HasStep(models.StepDerive), "an empty derive step must be removed")
	assert.NotContains(t, dim.CastColumns, "Ghost", "cast columns outside the mapping must be dropped")

	fact := plans["FactOrders"]
	assert.Equal(t, models.DecimalType(18, 2), fact.CastColumns["Amount"], "raw SQL cast token should be coerced")
	assert.True(t, fact.HasStep(models.StepCast), "cast step should follow from surviving cast columns")
}

func TestApplyFeedbackConstraints(t *testing.T) {
	plans := map[string]models.TableActivityPlan{
		"DimCustomer": {
			TableName:     "DimCustomer",
			Steps:         []models.StepKind{models.StepSelect},
			ColumnMapping: map[string]string{"CustomerID": "CustomerID"},
		},
	}

	applyFeedbackConstraints(plans, "missing column Email in DimCustomer")

	assert.Equal(t, "Email", plans["DimCustomer"].ColumnMapping["Email"],
		"feedback-named columns must be forced into the mapping")
}

func TestPlanFeedbackReachesPrompt(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
		return "", nil
	}

	planner := NewActivityPlanner(mock, 0.1, 1024, zap.NewNop())
	decisions := stringDecisions("CustomerID", "Name", "Phone", "Amount")
	feedback := "missing column Phone in DimCustomer"

	plans, degraded := planner.Plan(context.Background(), customerSplit(), decisions, feedback)

	assert.True(t, degraded, "an empty response must flag fallback use")
	assert.Contains(t, plans["DimCustomer"].ColumnMapping, "Phone", "fallback plans must still honor the feedback")
	require.Len(t, mock.Prompts, 1)
	assert.True(t, strings.Contains(mock.Prompts[0], feedback), "prior feedback must reach the prompt")
}

func TestPlanStepOrderIsFixed(t *testing.T) {
	split := customerSplit()
	decisions := stringDecisions("Name", "Phone")
	decisions["CustomerID"] = models.TypeDecision{ColumnName: "CustomerID", CanonicalType: models.TypeInteger}
	decisions["Amount"] = models.TypeDecision{ColumnName: "Amount", CanonicalType: models.TypeDouble}

	planner := NewActivityPlanner(nil, 0.1, 1024, zap.NewNop())
	plans, _ := planner.Plan(context.Background(), split, decisions, "")

	for table, plan := range plans {
		assert.Empty(t, plan.Validate(mustColumns(t, split, table)), "plan for %s must validate clean", table)
	}
}

func mustColumns(t *testing.T, split *models.SchemaSplit, table string) []string {
	t.Helper()
	cols, ok := split.TableColumns(table)
	require.True(t, ok, "unknown table %s", table)
	return cols
}
