package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/apperrors"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// TransformGraphBuilder assembles decided activities into a DAG of
// named transform nodes: one linear chain per table, all rooted at a
// shared source node.
type TransformGraphBuilder interface {
	// Build fails fast on aggregate invariant violations instead of
	// deferring them to validation.
	Build(split *models.SchemaSplit, plans map[string]models.TableActivityPlan) (*models.TransformGraph, error)
}

type transformGraphBuilder struct {
	logger *zap.Logger
}

// NewTransformGraphBuilder creates the builder.
func NewTransformGraphBuilder(logger *zap.Logger) TransformGraphBuilder {
	return &transformGraphBuilder{logger: logger.Named("transform-graph")}
}

func (b *transformGraphBuilder) Build(split *models.SchemaSplit, plans map[string]models.TableActivityPlan) (*models.TransformGraph, error) {
	graph := &models.TransformGraph{Source: models.SourceNodeName}

	for _, table := range split.TableNames() {
		plan, ok := plans[table]
		if !ok {
			return nil, fmt.Errorf("%w: no plan for table %s", apperrors.ErrPlanInconsistency, table)
		}
		if err := b.checkAggregateInvariant(split, &plan); err != nil {
			return nil, err
		}
		b.appendChain(graph, &plan)
	}

	b.logger.Debug("built transform graph",
		zap.Int("nodes", len(graph.Nodes)),
		zap.Int("sinks", graph.CountKind(models.StepSink)))
	return graph, nil
}

// checkAggregateInvariant enforces, at build time, that a keyed
// dimension's aggregate reduces every other column exactly once and
// never the groupBy key itself.
func (b *transformGraphBuilder) checkAggregateInvariant(split *models.SchemaSplit, plan *models.TableActivityPlan) error {
	if !plan.HasStep(models.StepAggregate) {
		return nil
	}
	dim, isDimension := split.Dimensions[plan.TableName]
	if !isDimension {
		return nil
	}
	if plan.AggregateKey != dim.PrimaryKey {
		return fmt.Errorf("%w: %s aggregates on %q, dimension key is %q",
			apperrors.ErrPlanInconsistency, plan.TableName, plan.AggregateKey, dim.PrimaryKey)
	}

	reduced := plan.AggregateColumns()
	for _, col := range reduced {
		if col == plan.AggregateKey {
			return fmt.Errorf("%w: %s re-aggregates its groupBy key %s",
				apperrors.ErrPlanInconsistency, plan.TableName, col)
		}
	}

	seen := make(map[string]bool, len(reduced))
	for _, col := range reduced {
		if seen[col] {
			return fmt.Errorf("%w: %s reduces column %s more than once",
				apperrors.ErrPlanInconsistency, plan.TableName, col)
		}
		seen[col] = true
	}
	for _, col := range dim.Columns {
		if col == dim.PrimaryKey {
			continue
		}
		if _, mapped := plan.ColumnMapping[col]; mapped && !seen[col] {
			return fmt.Errorf("%w: %s aggregate misses column %s",
				apperrors.ErrPlanInconsistency, plan.TableName, col)
		}
	}
	return nil
}

// appendChain emits the table's nodes in the fixed step order, each
// node fed by the previous one and the first fed by the shared source.
func (b *transformGraphBuilder) appendChain(graph *models.TransformGraph, plan *models.TableActivityPlan) {
	upstream := graph.Source
	for _, kind := range plan.Steps {
		name := models.NewNodeName(kind, plan.TableName)
		graph.Nodes = append(graph.Nodes, models.TransformNode{
			Name:        name,
			Kind:        kind,
			OwningTable: plan.TableName,
			Upstream:    upstream,
		})
		upstream = name
	}

	// Exactly one sink terminates every chain.
	sink := models.NewNodeName(models.StepSink, plan.TableName)
	graph.Nodes = append(graph.Nodes, models.TransformNode{
		Name:        sink,
		Kind:        models.StepSink,
		OwningTable: plan.TableName,
		Upstream:    upstream,
	})
}
