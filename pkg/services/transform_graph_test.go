package services

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/apperrors"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

func plannedCustomer(t *testing.T) (*models.SchemaSplit, map[string]models.TableActivityPlan) {
	t.Helper()
	split := customerSplit()
	planner := NewActivityPlanner(nil, 0.1, 1024, zap.NewNop())
	plans, _ := planner.Plan(context.Background(), split, stringDecisions("CustomerID", "Name", "Phone", "Amount"), "")
	return split, plans
}

func TestBuildGraphNodeCounts(t *testing.T) {
	split, plans := plannedCustomer(t)

	builder := NewTransformGraphBuilder(zap.NewNop())
	graph, err := builder.Build(split, plans)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// N dimensions: N+1 selects, N aggregates, N+1 sinks, exactly.
	n := len(split.Dimensions)
	if got := graph.CountKind(models.StepSelect); got != n+1 {
		t.Errorf("select nodes = %d, want %d", got, n+1)
	}
	if got := graph.CountKind(models.StepAggregate); got != n {
		t.Errorf("aggregate nodes = %d, want %d", got, n)
	}
	if got := graph.CountKind(models.StepSink); got != n+1 {
		t.Errorf("sink nodes = %d, want %d", got, n+1)
	}
}

func TestBuildGraphThreadsUpstream(t *testing.T) {
	split, plans := plannedCustomer(t)

	builder := NewTransformGraphBuilder(zap.NewNop())
	graph, err := builder.Build(split, plans)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	byName := make(map[models.NodeName]models.TransformNode)
	for _, node := range graph.Nodes {
		byName[node.Name] = node
	}

	sel := byName["SelectDimCustomer"]
	if sel.Upstream != models.SourceNodeName {
		t.Errorf("select upstream = %s, want %s", sel.Upstream, models.SourceNodeName)
	}
	agg := byName["AggregateDimCustomer"]
	if agg.Upstream != "SelectDimCustomer" {
		t.Errorf("aggregate upstream = %s, want SelectDimCustomer", agg.Upstream)
	}
	sink := byName["LoadDimCustomer"]
	if sink.Upstream != "AggregateDimCustomer" {
		t.Errorf("sink upstream = %s, want AggregateDimCustomer", sink.Upstream)
	}
}

func TestBuildGraphRejectsWrongAggregateKey(t *testing.T) {
	split, plans := plannedCustomer(t)
	plan := plans["DimCustomer"]
	plan.AggregateKey = "Name"
	plans["DimCustomer"] = plan

	builder := NewTransformGraphBuilder(zap.NewNop())
	_, err := builder.Build(split, plans)
	if !errors.Is(err, apperrors.ErrPlanInconsistency) {
		t.Fatalf("expected ErrPlanInconsistency, got %v", err)
	}
}

func TestBuildGraphRejectsMissingPlan(t *testing.T) {
	split, plans := plannedCustomer(t)
	delete(plans, "FactOrders")

	builder := NewTransformGraphBuilder(zap.NewNop())
	_, err := builder.Build(split, plans)
	if !errors.Is(err, apperrors.ErrPlanInconsistency) {
		t.Fatalf("expected ErrPlanInconsistency, got %v", err)
	}
}

func TestNodeNameRoundTrip(t *testing.T) {
	name := models.NewNodeName(models.StepAggregate, "DimCustomer")
	if name != "AggregateDimCustomer" {
		t.Fatalf("name = %s", name)
	}
	kind, table, ok := name.Parse()
	if !ok || kind != models.StepAggregate || table != "DimCustomer" {
		t.Errorf("Parse = (%s, %s, %v)", kind, table, ok)
	}
	if !models.NewNodeName(models.StepSink, "FactOrders").IsSink() {
		t.Error("Load-prefixed names must parse as sinks")
	}
}
