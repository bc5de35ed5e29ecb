package services

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

func TestValidateAcceptsRenderedProgram(t *testing.T) {
	code, split, plans := renderCustomer(t)

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(code, plans, split)

	if !verdict.Passed {
		t.Fatalf("rendered program should pass, issues: %v", verdict.Issues)
	}
	if len(verdict.Issues) != 0 {
		t.Errorf("unexpected issues: %v", verdict.Issues)
	}
}

func TestValidateShortCircuitsOnMalformedProgram(t *testing.T) {
	code, split, plans := renderCustomer(t)
	broken := strings.Replace(code, "transformations = [", "transformations = [[", 1)

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(broken, plans, split)

	if verdict.Passed {
		t.Fatal("unbalanced program must fail")
	}
	if len(verdict.Issues) != 1 || !strings.Contains(verdict.Issues[0], "not well-formed") {
		t.Errorf("malformed programs short-circuit with one issue, got %v", verdict.Issues)
	}
}

func TestValidateFlagsEmptyDerive(t *testing.T) {
	code, split, plans := renderCustomer(t)
	// Splice an empty derive into the fact chain.
	mutated := strings.Replace(code,
		"StagingSource select(mapColumn(",
		"StagingSource derive() ~> DeriveFactOrders\nStagingSource select(mapColumn(",
		1)

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(mutated, plans, split)

	if verdict.Passed {
		t.Fatal("empty derive must fail validation")
	}
	deriveIssues := 0
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "derive") {
			deriveIssues++
		}
	}
	if deriveIssues != 1 {
		t.Errorf("expected exactly one empty-derive issue, got %v", verdict.Issues)
	}
}

func TestValidateFlagsMissingNode(t *testing.T) {
	code, split, plans := renderCustomer(t)
	mutated := strings.ReplaceAll(code, "~> AggregateDimCustomer", "~> GroupDimCustomer")

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(mutated, plans, split)

	if verdict.Passed {
		t.Fatal("renamed node must fail validation")
	}
	found := false
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "AggregateDimCustomer") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing-node issue for AggregateDimCustomer, got %v", verdict.Issues)
	}
}

func TestValidateNodeCountParity(t *testing.T) {
	code, split, plans := renderCustomer(t)
	// One aggregate per keyed dimension; a stray extra node breaks parity.
	mutated := code + "\nStagingSource aggregate(groupBy(CustomerID)) ~> AggregateDimGhost\n"

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(mutated, plans, split)

	if verdict.Passed {
		t.Fatal("an extra aggregate node must fail validation")
	}
	found := false
	for _, issue := range verdict.Issues {
		if issue == "expected 1 aggregate nodes, found 2" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an aggregate parity issue, got %v", verdict.Issues)
	}
}

func TestValidateFlagsRawSQLCast(t *testing.T) {
	split := &models.SchemaSplit{
		Dimensions: map[string]models.DimensionSpec{
			"DimCustomer": {Name: "DimCustomer", Columns: []string{"CustomerID"}, PrimaryKey: "CustomerID"},
		},
		Fact: models.FactSpec{Name: "FactOrders", Columns: []string{"CustomerID", "Amount"}},
	}
	plans := map[string]models.TableActivityPlan{
		"DimCustomer": {
			TableName:     "DimCustomer",
			Steps:         []models.StepKind{models.StepSelect, models.StepAggregate},
			AggregateKey:  "CustomerID",
			ColumnMapping: map[string]string{"CustomerID": "CustomerID"},
		},
		"FactOrders": {
			TableName:     "FactOrders",
			Steps:         []models.StepKind{models.StepSelect, models.StepCast},
			ColumnMapping: map[string]string{"CustomerID": "CustomerID", "Amount": "Amount"},
			CastColumns:   map[string]models.CanonicalType{"Amount": models.DecimalType(18, 2)},
		},
	}

	builder := NewTransformGraphBuilder(zap.NewNop())
	graph, err := builder.Build(split, plans)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	names := NewResourceNameAllocator(zap.NewNop()).Allocate(split)
	code := NewCodeSynthesizer(zap.NewNop()).Render(graph, plans, names)

	mutated := strings.Replace(code, "Amount as decimal(18,2)", "Amount as NVARCHAR", 1)

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(mutated, plans, split)

	if verdict.Passed {
		t.Fatal("raw SQL cast token must fail validation")
	}
	found := false
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "non-canonical type") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a non-canonical cast issue, got %v", verdict.Issues)
	}
}

func TestValidateFlagsSinkListedAsTransformation(t *testing.T) {
	code, split, plans := renderCustomer(t)
	mutated := strings.Replace(code,
		"Transformation(name='SelectDimCustomer'),",
		"Transformation(name='SelectDimCustomer'),\n        Transformation(name='LoadDimCustomer'),",
		1)

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(mutated, plans, split)

	if verdict.Passed {
		t.Fatal("a sink in the transformation listing must fail validation")
	}
	found := false
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "LoadDimCustomer") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a disjointness issue for LoadDimCustomer, got %v", verdict.Issues)
	}
}

func TestValidateFlagsMissingEntrypoint(t *testing.T) {
	code, split, plans := renderCustomer(t)
	mutated := strings.Replace(code,
		"def deploy_complete_solution(sql_config, blob_config):",
		"def deploy(sql_config):", 1)

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(mutated, plans, split)

	if verdict.Passed {
		t.Fatal("missing entry point must fail validation")
	}
	if entry, ok := verdict.Details["entrypoint"].(bool); !ok || entry {
		t.Errorf("entrypoint detail = %v, want false", verdict.Details["entrypoint"])
	}
}

func TestValidateReportsPlanColumnGaps(t *testing.T) {
	split, plans := plannedCustomer(t)
	plan := plans["DimCustomer"]
	delete(plan.ColumnMapping, "Phone")
	plans["DimCustomer"] = plan

	builder := NewTransformGraphBuilder(zap.NewNop())
	graph, err := builder.Build(split, plans)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	names := NewResourceNameAllocator(zap.NewNop()).Allocate(split)
	code := NewCodeSynthesizer(zap.NewNop()).Render(graph, plans, names)

	validator := NewStaticValidator(zap.NewNop())
	verdict := validator.Validate(code, plans, split)

	if verdict.Passed {
		t.Fatal("a plan missing a defined column must fail validation")
	}
	found := false
	for _, issue := range verdict.Issues {
		if issue == "missing column Phone in DimCustomer" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the missing-column issue, got %v", verdict.Issues)
	}
}
