package services

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/llm"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

func hospitalProfiles() []models.ColumnProfile {
	return []models.ColumnProfile{
		{Name: "Patient_ID", DetectedType: models.PrimitiveInteger},
		{Name: "Patient_Name", DetectedType: models.PrimitiveString},
		{Name: "Doctor_ID", DetectedType: models.PrimitiveInteger},
		{Name: "Doctor_Name", DetectedType: models.PrimitiveString},
		{Name: "Visit_Date", DetectedType: models.PrimitiveDatetime},
		{Name: "Amount", DetectedType: models.PrimitiveFloat},
	}
}

func TestSplitFallbackKeywordDimensions(t *testing.T) {
	engine := NewSchemaSplitEngine(nil, 0.1, 1024, zap.NewNop())
	split, degraded := engine.Split(context.Background(), hospitalProfiles(), nil)

	if !degraded {
		t.Error("absent client must report fallback use")
	}

	patient, ok := split.Dimensions["DimPatient"]
	if !ok {
		t.Fatalf("DimPatient missing, got %v", split.DimensionNames())
	}
	if patient.PrimaryKey != "Patient_ID" {
		t.Errorf("DimPatient key = %s, want Patient_ID", patient.PrimaryKey)
	}
	doctor, ok := split.Dimensions["DimDoctor"]
	if !ok {
		t.Fatalf("DimDoctor missing, got %v", split.DimensionNames())
	}
	if doctor.PrimaryKey != "Doctor_ID" {
		t.Errorf("DimDoctor key = %s, want Doctor_ID", doctor.PrimaryKey)
	}

	// Measures and datetime columns belong to the fact table.
	for _, col := range []string{"Amount", "Visit_Date"} {
		found := false
		for _, c := range split.Fact.Columns {
			if c == col {
				found = true
			}
		}
		if !found {
			t.Errorf("fact table missing %s: %v", col, split.Fact.Columns)
		}
	}

	// The fact table references each dimension through its key.
	if split.ForeignKeys["Patient_ID"] != "DimPatient" {
		t.Errorf("Patient_ID foreign key = %s, want DimPatient", split.ForeignKeys["Patient_ID"])
	}
	if split.ForeignKeys["Doctor_ID"] != "DimDoctor" {
		t.Errorf("Doctor_ID foreign key = %s, want DimDoctor", split.ForeignKeys["Doctor_ID"])
	}
}

func TestSplitStructuralInvariants(t *testing.T) {
	engine := NewSchemaSplitEngine(nil, 0.1, 1024, zap.NewNop())
	split, _ := engine.Split(context.Background(), hospitalProfiles(), nil)

	if issues := split.Validate(); len(issues) != 0 {
		t.Fatalf("fallback split violates invariants: %v", issues)
	}
	for _, name := range split.DimensionNames() {
		if models.HasUnknownSentinel(name) {
			t.Errorf("dimension %s carries a placeholder name", name)
		}
	}
}

func TestSplitFallbackSynthesizedDimensions(t *testing.T) {
	// No keyword matches; dimensions come from identifier stems.
	profiles := []models.ColumnProfile{
		{Name: "Product_ID", DetectedType: models.PrimitiveInteger},
		{Name: "Product_Title", DetectedType: models.PrimitiveString},
		{Name: "Quantity", DetectedType: models.PrimitiveInteger},
	}

	engine := NewSchemaSplitEngine(nil, 0.1, 1024, zap.NewNop())
	split, _ := engine.Split(context.Background(), profiles, nil)

	dim, ok := split.Dimensions["DimProduct"]
	if !ok {
		t.Fatalf("DimProduct missing, got %v", split.DimensionNames())
	}
	if dim.PrimaryKey != "Product_ID" {
		t.Errorf("key = %s, want Product_ID", dim.PrimaryKey)
	}
	found := false
	for _, c := range dim.Columns {
		if c == "Product_Title" {
			found = true
		}
	}
	if !found {
		t.Errorf("DimProduct should absorb Product_Title: %v", dim.Columns)
	}
}

func TestSplitFallbackLastResortDimension(t *testing.T) {
	profiles := []models.ColumnProfile{
		{Name: "Code", DetectedType: models.PrimitiveString},
		{Name: "Value", DetectedType: models.PrimitiveFloat},
	}

	engine := NewSchemaSplitEngine(nil, 0.1, 1024, zap.NewNop())
	split, _ := engine.Split(context.Background(), profiles, nil)

	if len(split.Dimensions) == 0 {
		t.Fatal("a non-empty profile sequence must yield at least one dimension")
	}
}

func TestSplitParsesModelResponse(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
		return `Here is the decomposition:
{"dimensions": {
	"DimPatient": {"columns": ["Patient_ID", "Patient_Name"], "primary_key": "Patient_ID"},
	"DimDoctor": {"columns": ["Doctor_ID", "Doctor_Name", "Ghost_Column"], "primary_key": "Doctor_ID"},
	"DimVisit": {"columns": ["Visit_Date"], "primary_key": "Visit_Date"}
},
"fact": {"name": "FactVisits", "columns": ["Amount", "Patient_ID", "Doctor_ID"]},
"foreign_keys": {"Patient_ID": "DimPatient", "Doctor_ID": "DimDoctor"}}`, nil
	}

	engine := NewSchemaSplitEngine(mock, 0.1, 1024, zap.NewNop())
	split, degraded := engine.Split(context.Background(), hospitalProfiles(), nil)

	if degraded {
		t.Error("a valid response must not flag fallback use")
	}
	if split.Fact.Name != "FactVisits" {
		t.Errorf("fact name = %s, want FactVisits", split.Fact.Name)
	}
	doctor := split.Dimensions["DimDoctor"]
	for _, c := range doctor.Columns {
		if c == "Ghost_Column" {
			t.Error("hallucinated columns must be dropped")
		}
	}
}

func TestSplitRejectsTooFewDimensions(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
		return `{"dimensions": {"DimPatient": {"columns": ["Patient_ID"], "primary_key": "Patient_ID"}},
"fact": {"name": "FactVisits", "columns": ["Amount"]}, "foreign_keys": {}}`, nil
	}

	engine := NewSchemaSplitEngine(mock, 0.1, 1024, zap.NewNop())
	split, degraded := engine.Split(context.Background(), hospitalProfiles(), nil)

	// One dimension without a destination hint falls below the floor.
	if !degraded {
		t.Error("an under-split response must fall back")
	}
	if len(split.Dimensions) < 2 {
		t.Errorf("fallback should rebuild the keyword dimensions, got %v", split.DimensionNames())
	}
}

func TestSplitHintConstrainsPrompt(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
		return `{"dimensions": {
	"DimPatient": {"columns": ["Patient_ID", "Patient_Name"], "primary_key": "Patient_ID"}
},
"fact": {"name": "FactVisits", "columns": ["Amount", "Patient_ID"]},
"foreign_keys": {"Patient_ID": "DimPatient"}}`, nil
	}

	hint := map[string][]string{
		"DimPatient": {"Patient_ID", "Patient_Name"},
		"FactVisits": {"Amount", "Patient_ID"},
	}

	engine := NewSchemaSplitEngine(mock, 0.1, 1024, zap.NewNop())
	split, degraded := engine.Split(context.Background(), hospitalProfiles(), hint)

	if degraded {
		t.Error("a response matching the hint must not fall back")
	}
	if _, ok := split.Dimensions["DimPatient"]; !ok {
		t.Fatalf("DimPatient missing, got %v", split.DimensionNames())
	}
	if len(mock.Prompts) != 1 || !strings.Contains(mock.Prompts[0], "DimPatient") {
		t.Error("the destination hint must reach the prompt")
	}
}
