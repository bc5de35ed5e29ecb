package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// RegenerationLoop drives plan, synthesize, validate rounds until the
// program passes or the attempt budget runs out. An exhausted budget is
// an outcome, not an error: the last program and its verdict are always
// returned so the caller can decide what to do with a flawed artifact.
type RegenerationLoop interface {
	Run(ctx context.Context, split *models.SchemaSplit, decisions map[string]models.TypeDecision, names *models.ResourceNames) *RegenerationResult
}

// RegenerationResult carries the final program of a run together with
// its verdict and bookkeeping.
type RegenerationResult struct {
	Code         string
	Verdict      *models.ValidationVerdict
	Plans        map[string]models.TableActivityPlan
	Attempts     int
	UsedFallback bool
}

type regenerationLoop struct {
	planner     ActivityPlanner
	builder     TransformGraphBuilder
	synthesizer CodeSynthesizer
	validator   StaticValidator
	maxAttempts int
	logger      *zap.Logger
}

// NewRegenerationLoop creates the loop. maxAttempts below one is
// clamped to one.
func NewRegenerationLoop(planner ActivityPlanner, builder TransformGraphBuilder, synthesizer CodeSynthesizer, validator StaticValidator, maxAttempts int, logger *zap.Logger) RegenerationLoop {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &regenerationLoop{
		planner:     planner,
		builder:     builder,
		synthesizer: synthesizer,
		validator:   validator,
		maxAttempts: maxAttempts,
		logger:      logger.Named("regeneration"),
	}
}

func (l *regenerationLoop) Run(ctx context.Context, split *models.SchemaSplit, decisions map[string]models.TypeDecision, names *models.ResourceNames) *RegenerationResult {
	result := &RegenerationResult{}
	feedback := ""

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		result.Attempts = attempt

		plans, degraded := l.planner.Plan(ctx, split, decisions, feedback)
		result.UsedFallback = result.UsedFallback || degraded
		result.Plans = plans

		graph, err := l.builder.Build(split, plans)
		if err != nil {
			// An inconsistent plan is treated like a failed verdict so
			// the next attempt sees it as a hard constraint.
			verdict := models.PassedVerdict()
			verdict.Passed = false
			verdict.Issues = []string{err.Error()}
			result.Verdict = verdict
			feedback = err.Error()
			l.logger.Warn("plan rejected before synthesis",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		result.Code = l.synthesizer.Render(graph, plans, names)
		result.Verdict = l.validator.Validate(result.Code, plans, split)

		if result.Verdict.Passed {
			l.logger.Info("program accepted",
				zap.Int("attempt", attempt))
			return result
		}

		feedback = strings.Join(result.Verdict.Issues, "\n")
		l.logger.Warn("program rejected",
			zap.Int("attempt", attempt),
			zap.Int("issues", len(result.Verdict.Issues)))
	}

	l.logger.Warn("attempt budget exhausted",
		zap.Int("attempts", result.Attempts))
	return result
}
