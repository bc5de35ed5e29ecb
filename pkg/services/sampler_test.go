package services

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

func testTable(t *testing.T, csv string) *models.Table {
	t.Helper()
	table, err := models.ReadCSVTable(strings.NewReader(csv), "test")
	if err != nil {
		t.Fatalf("ReadCSVTable failed: %v", err)
	}
	return table
}

func TestProfileDetectsPrimitiveTypes(t *testing.T) {
	table := testTable(t, `ID,Score,Active,Visit,Name
1,9.5,true,2024-01-02,Alice
2,8.25,false,2024-02-03,Bob
3,7.0,true,2024-03-04,Carol
`)

	sampler := NewTabularSampler(10, zap.NewNop())
	profiles := sampler.Profile(table)

	if len(profiles) != 5 {
		t.Fatalf("expected 5 profiles, got %d", len(profiles))
	}

	want := map[string]models.PrimitiveType{
		"ID":     models.PrimitiveInteger,
		"Score":  models.PrimitiveFloat,
		"Active": models.PrimitiveBoolean,
		"Visit":  models.PrimitiveDatetime,
		"Name":   models.PrimitiveString,
	}
	for _, p := range profiles {
		if p.DetectedType != want[p.Name] {
			t.Errorf("column %s: detected %s, want %s", p.Name, p.DetectedType, want[p.Name])
		}
	}
}

func TestProfileCountsNullsAndDistinct(t *testing.T) {
	table := testTable(t, `City
Austin

NULL
Austin
Dallas
`)

	sampler := NewTabularSampler(10, zap.NewNop())
	profiles := sampler.Profile(table)

	p := profiles[0]
	if p.NullCount != 2 {
		t.Errorf("NullCount = %d, want 2", p.NullCount)
	}
	if p.DistinctCount != 2 {
		t.Errorf("DistinctCount = %d, want 2", p.DistinctCount)
	}
	if p.MaxStringLength != len("Austin") {
		t.Errorf("MaxStringLength = %d, want %d", p.MaxStringLength, len("Austin"))
	}
}

func TestProfileNumericRange(t *testing.T) {
	table := testTable(t, `Amount
-12
3000000000
7
`)

	sampler := NewTabularSampler(10, zap.NewNop())
	p := sampler.Profile(table)[0]

	if p.DetectedType != models.PrimitiveInteger {
		t.Fatalf("detected %s, want integer", p.DetectedType)
	}
	if p.NumericMin != -12 || p.NumericMax != 3000000000 {
		t.Errorf("range [%v, %v], want [-12, 3000000000]", p.NumericMin, p.NumericMax)
	}
}

func TestProfileSampleValuesCapped(t *testing.T) {
	table := testTable(t, `N
1
2
3
4
5
`)

	sampler := NewTabularSampler(3, zap.NewNop())
	p := sampler.Profile(table)[0]

	if len(p.SampleValues) != 3 {
		t.Fatalf("sample size = %d, want 3", len(p.SampleValues))
	}
	if p.SampleValues[0] != "1" || p.SampleValues[2] != "3" {
		t.Errorf("samples should come from the first rows, got %v", p.SampleValues)
	}
}

func TestProfileNeverAborts(t *testing.T) {
	// A header-only table still yields one profile per column.
	table := testTable(t, "A,B\n")

	sampler := NewTabularSampler(10, zap.NewNop())
	profiles := sampler.Profile(table)

	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	for _, p := range profiles {
		if p.DetectedType != models.PrimitiveString {
			t.Errorf("column %s: empty column should default to string, got %s", p.Name, p.DetectedType)
		}
	}
}
