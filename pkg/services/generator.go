package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/adapters/catalog"
	"github.com/dataloom-ai/dataloom-engine/pkg/logging"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// Generator runs one full generation pass over a source table: profile,
// split, type, plan, synthesize, validate.
type Generator interface {
	Generate(ctx context.Context, table *models.Table) (*GenerationOutcome, error)
}

// GenerationOutcome bundles everything one run produced.
type GenerationOutcome struct {
	Code     string
	Manifest *models.GenerationManifest
	Split    *models.SchemaSplit
	Names    *models.ResourceNames
	Verdict  *models.ValidationVerdict
}

type generator struct {
	sampler   TabularSampler
	splitter  SchemaSplitEngine
	inference TypeInferenceEngine
	allocator ResourceNameAllocator
	loop      RegenerationLoop
	catalog   catalog.Catalog
	logger    *zap.Logger
}

// NewGenerator creates the orchestrator. cat may be nil; the split then
// runs without a destination hint and inference without declared types.
func NewGenerator(sampler TabularSampler, splitter SchemaSplitEngine, inference TypeInferenceEngine, allocator ResourceNameAllocator, loop RegenerationLoop, cat catalog.Catalog, logger *zap.Logger) Generator {
	return &generator{
		sampler:   sampler,
		splitter:  splitter,
		inference: inference,
		allocator: allocator,
		loop:      loop,
		catalog:   cat,
		logger:    logger.Named("generator"),
	}
}

func (g *generator) Generate(ctx context.Context, table *models.Table) (*GenerationOutcome, error) {
	profiles := g.sampler.Profile(table)

	tableHint, destinationTypes := g.destinationSchema(ctx)

	split, splitFallback := g.splitter.Split(ctx, profiles, tableHint)
	decisions, typeFallback := g.inference.Infer(ctx, profiles, destinationTypes)

	names := g.allocator.Allocate(split)
	result := g.loop.Run(ctx, split, decisions, names)

	var allColumns []string
	for _, p := range profiles {
		allColumns = append(allColumns, p.Name)
	}

	manifest := &models.GenerationManifest{
		RunID:        uuid.NewString(),
		SourceFile:   table.Name,
		Context:      DeriveContextKeyword(allColumns),
		Dimensions:   split.DimensionNames(),
		FactTable:    split.Fact.Name,
		Attempts:     result.Attempts,
		Passed:       result.Verdict != nil && result.Verdict.Passed,
		UsedFallback: splitFallback || typeFallback || result.UsedFallback,
		Resources:    names,
	}
	if result.Verdict != nil {
		manifest.Issues = result.Verdict.Issues
	}

	g.logger.Info("generation run finished",
		zap.String("run_id", manifest.RunID),
		zap.String("source", table.Name),
		zap.Int("attempts", manifest.Attempts),
		zap.Bool("passed", manifest.Passed),
		zap.Bool("used_fallback", manifest.UsedFallback))

	return &GenerationOutcome{
		Code:     result.Code,
		Manifest: manifest,
		Split:    split,
		Names:    names,
		Verdict:  result.Verdict,
	}, nil
}

// destinationSchema reads the warehouse catalog when one is wired.
// Catalog trouble degrades to an unguided run instead of failing it.
func (g *generator) destinationSchema(ctx context.Context) (map[string][]string, map[string]map[string]string) {
	if g.catalog == nil {
		return nil, nil
	}

	schemas, err := g.catalog.ListSchemas(ctx)
	if err != nil {
		// Driver errors can echo the DSN, password included.
		g.logger.Warn("catalog unavailable, proceeding without destination hint",
			zap.String("error", logging.SanitizeError(err)))
		return nil, nil
	}

	tableHint := make(map[string][]string)
	destinationTypes := make(map[string]map[string]string)
	for _, schema := range schemas {
		tables, err := g.catalog.ListTables(ctx, schema)
		if err != nil {
			g.logger.Warn("listing tables failed",
				zap.String("schema", schema),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		for _, table := range tables {
			described, err := g.catalog.DescribeTable(ctx, schema, table)
			if err != nil {
				g.logger.Warn("describing table failed",
					zap.String("schema", schema),
					zap.String("table", table),
					zap.String("error", logging.SanitizeError(err)))
				continue
			}
			types := make(map[string]string, len(described))
			for col, desc := range described {
				types[col] = desc.Type
			}
			tableHint[table] = sortedKeys(types)
			destinationTypes[table] = types
		}
	}

	if len(tableHint) == 0 {
		return nil, nil
	}
	g.logger.Debug("destination schema loaded",
		zap.Int("tables", len(tableHint)))
	return tableHint, destinationTypes
}
