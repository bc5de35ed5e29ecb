package services

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// droppingPlanner removes one column from one table's mapping until
// feedback names it, modelling a model that forgets a column once.
type droppingPlanner struct {
	inner     ActivityPlanner
	table     string
	column    string
	feedbacks []string
}

func (d *droppingPlanner) Plan(ctx context.Context, split *models.SchemaSplit, decisions map[string]models.TypeDecision, priorFeedback string) (map[string]models.TableActivityPlan, bool) {
	d.feedbacks = append(d.feedbacks, priorFeedback)
	plans, degraded := d.inner.Plan(ctx, split, decisions, priorFeedback)
	if priorFeedback == "" {
		plan := plans[d.table]
		delete(plan.ColumnMapping, d.column)
		plans[d.table] = plan
	}
	return plans, degraded
}

func newTestLoop(planner ActivityPlanner, maxAttempts int) RegenerationLoop {
	logger := zap.NewNop()
	return NewRegenerationLoop(
		planner,
		NewTransformGraphBuilder(logger),
		NewCodeSynthesizer(logger),
		NewStaticValidator(logger),
		maxAttempts,
		logger,
	)
}

func TestLoopAcceptsFirstAttempt(t *testing.T) {
	split := customerSplit()
	decisions := stringDecisions("CustomerID", "Name", "Phone", "Amount")
	names := NewResourceNameAllocator(zap.NewNop()).Allocate(split)

	loop := newTestLoop(NewActivityPlanner(nil, 0.1, 1024, zap.NewNop()), 2)
	result := loop.Run(context.Background(), split, decisions, names)

	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
	if !result.Verdict.Passed {
		t.Fatalf("verdict failed: %v", result.Verdict.Issues)
	}
	if result.Code == "" {
		t.Error("accepted run must carry the program")
	}
}

func TestLoopFeedbackRepairsMissingColumn(t *testing.T) {
	split := &models.SchemaSplit{
		Dimensions: map[string]models.DimensionSpec{
			"DimCustomer": {
				Name:       "DimCustomer",
				Columns:    []string{"CustomerID", "Name", "Email"},
				PrimaryKey: "CustomerID",
			},
		},
		Fact: models.FactSpec{Name: "FactOrders", Columns: []string{"CustomerID", "Amount"}},
	}
	decisions := stringDecisions("CustomerID", "Name", "Email", "Amount")
	names := NewResourceNameAllocator(zap.NewNop()).Allocate(split)

	planner := &droppingPlanner{
		inner:  NewActivityPlanner(nil, 0.1, 1024, zap.NewNop()),
		table:  "DimCustomer",
		column: "Email",
	}
	loop := newTestLoop(planner, 2)
	result := loop.Run(context.Background(), split, decisions, names)

	if result.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", result.Attempts)
	}
	if len(planner.feedbacks) != 2 || !strings.Contains(planner.feedbacks[1], "missing column Email in DimCustomer") {
		t.Errorf("second attempt must receive the itemized defect, got %q", planner.feedbacks)
	}
	if !result.Verdict.Passed {
		t.Fatalf("second attempt should pass, issues: %v", result.Verdict.Issues)
	}
	if result.Plans["DimCustomer"].ColumnMapping["Email"] != "Email" {
		t.Error("repaired plan must map Email")
	}
}

// stuckPlanner always omits the column, exhausting the budget.
type stuckPlanner struct {
	inner  ActivityPlanner
	table  string
	column string
	calls  int
}

func (s *stuckPlanner) Plan(ctx context.Context, split *models.SchemaSplit, decisions map[string]models.TypeDecision, priorFeedback string) (map[string]models.TableActivityPlan, bool) {
	s.calls++
	plans, degraded := s.inner.Plan(ctx, split, decisions, priorFeedback)
	plan := plans[s.table]
	delete(plan.ColumnMapping, s.column)
	plans[s.table] = plan
	return plans, degraded
}

func TestLoopExhaustionReturnsLastVerdict(t *testing.T) {
	split := customerSplit()
	decisions := stringDecisions("CustomerID", "Name", "Phone", "Amount")
	names := NewResourceNameAllocator(zap.NewNop()).Allocate(split)

	planner := &stuckPlanner{
		inner:  NewActivityPlanner(nil, 0.1, 1024, zap.NewNop()),
		table:  "DimCustomer",
		column: "Phone",
	}
	loop := newTestLoop(planner, 2)
	result := loop.Run(context.Background(), split, decisions, names)

	if planner.calls != 2 {
		t.Errorf("planner called %d times, want 2", planner.calls)
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}
	if result.Verdict.Passed {
		t.Fatal("exhausted loop must surface the failing verdict")
	}
	if result.Code == "" {
		t.Error("exhausted loop must still return the best-effort program")
	}
	found := false
	for _, issue := range result.Verdict.Issues {
		if issue == "missing column Phone in DimCustomer" {
			found = true
		}
	}
	if !found {
		t.Errorf("itemized defects must reach the caller, got %v", result.Verdict.Issues)
	}
}

func TestLoopClampsAttemptBudget(t *testing.T) {
	split := customerSplit()
	decisions := stringDecisions("CustomerID", "Name", "Phone", "Amount")
	names := NewResourceNameAllocator(zap.NewNop()).Allocate(split)

	loop := newTestLoop(NewActivityPlanner(nil, 0.1, 1024, zap.NewNop()), 0)
	result := loop.Run(context.Background(), split, decisions, names)

	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}
