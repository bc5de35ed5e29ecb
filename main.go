package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dataloom-ai/dataloom-engine/pkg/adapters/blobstore"
	"github.com/dataloom-ai/dataloom-engine/pkg/adapters/catalog"
	mssqlcatalog "github.com/dataloom-ai/dataloom-engine/pkg/adapters/catalog/mssql"
	pgcatalog "github.com/dataloom-ai/dataloom-engine/pkg/adapters/catalog/postgres"
	"github.com/dataloom-ai/dataloom-engine/pkg/config"
	"github.com/dataloom-ai/dataloom-engine/pkg/llm"
	"github.com/dataloom-ai/dataloom-engine/pkg/logging"
	"github.com/dataloom-ai/dataloom-engine/pkg/models"
	"github.com/dataloom-ai/dataloom-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	input := flag.String("input", "", "source CSV: a local path, or an object key when a blob store is configured")
	flag.Parse()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logConfig := zap.NewDevelopmentConfig()
	if cfg.Env != "local" {
		logConfig = zap.NewProductionConfig()
	}
	logger, err := logConfig.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting dataloom-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Bool("llm_available", cfg.LLM.IsAvailable()),
		zap.Bool("catalog_configured", cfg.Catalog.IsConfigured()),
		zap.Bool("blob_configured", cfg.Blob.IsConfigured()))

	if *input == "" {
		logger.Fatal("no input given, pass -input")
	}

	ctx := context.Background()

	table, err := loadTable(ctx, cfg, *input, logger)
	if err != nil {
		logger.Fatal("failed to load source table", zap.Error(err))
	}

	client := buildLLMClient(cfg, logger)
	cat := buildCatalog(ctx, cfg, logger)
	if cat != nil {
		defer cat.Close()
	}

	sampler := services.NewTabularSampler(cfg.Generation.SampleValues, logger)
	splitter := services.NewSchemaSplitEngine(client, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logger)
	inference := services.NewTypeInferenceEngine(client, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logger)
	planner := services.NewActivityPlanner(client, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logger)
	builder := services.NewTransformGraphBuilder(logger)
	synthesizer := services.NewCodeSynthesizer(logger)
	validator := services.NewStaticValidator(logger)
	allocator := services.NewResourceNameAllocator(logger)
	loop := services.NewRegenerationLoop(planner, builder, synthesizer, validator, cfg.Generation.MaxAttempts, logger)
	generator := services.NewGenerator(sampler, splitter, inference, allocator, loop, cat, logger)

	outcome, err := generator.Generate(ctx, table)
	if err != nil {
		logger.Fatal("generation failed", zap.Error(err))
	}

	if err := writeOutputs(cfg.Generation.OutputDir, outcome); err != nil {
		logger.Fatal("failed to write outputs", zap.Error(err))
	}
	logger.Info("outputs written",
		zap.String("dir", cfg.Generation.OutputDir),
		zap.Bool("passed", outcome.Manifest.Passed))

	if cfg.Deployment.AutoDeploy && outcome.Manifest.Passed {
		deploy(ctx, cfg, outcome.Code, logger)
	}
}

func loadTable(ctx context.Context, cfg *config.Config, input string, logger *zap.Logger) (*models.Table, error) {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	if cfg.Blob.IsConfigured() {
		store, err := blobstore.NewS3Store(blobstore.S3Config{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect blob store: %w", err)
		}
		data, err := store.Get(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("read object %s: %w", input, err)
		}
		return models.ReadCSVTable(bytes.NewReader(data), name)
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", input, err)
	}
	defer f.Close()
	return models.ReadCSVTable(f, name)
}

func buildLLMClient(cfg *config.Config, logger *zap.Logger) llm.LLMClient {
	if !cfg.LLM.IsAvailable() {
		logger.Warn("no text-generation client configured, every stage will use its fallback")
		return nil
	}
	if cfg.LLM.Provider == "anthropic" {
		client, err := llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, logger)
		if err != nil {
			logger.Warn("text-generation client rejected configuration, using fallbacks", zap.Error(err))
			return nil
		}
		return client
	}
	client, err := llm.NewClient(&llm.Config{
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		logger.Warn("text-generation client rejected configuration, using fallbacks", zap.Error(err))
		return nil
	}
	return client
}

func buildCatalog(ctx context.Context, cfg *config.Config, logger *zap.Logger) catalog.Catalog {
	if !cfg.Catalog.IsConfigured() {
		return nil
	}
	var (
		cat catalog.Catalog
		err error
	)
	if cfg.Catalog.Driver == "postgres" {
		cat, err = pgcatalog.New(ctx, cfg.Catalog.ConnectionString(), logger)
	} else {
		cat, err = mssqlcatalog.New(ctx, cfg.Catalog.ConnectionString(), logger)
	}
	if err != nil {
		// Driver errors can echo the DSN, password included.
		logger.Warn("catalog connection failed, proceeding without destination hint",
			zap.String("error", logging.SanitizeError(err)))
		return nil
	}
	return cat
}

func writeOutputs(dir string, outcome *services.GenerationOutcome) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	scriptPath := filepath.Join(dir, "deploy_pipeline.py")
	if err := os.WriteFile(scriptPath, []byte(outcome.Code), 0o644); err != nil {
		return fmt.Errorf("write program: %w", err)
	}

	manifest, err := yaml.Marshal(outcome.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func deploy(ctx context.Context, cfg *config.Config, code string, logger *zap.Logger) {
	if cfg.Deployment.Endpoint == "" {
		logger.Warn("auto deploy requested but no endpoint configured")
		return
	}
	deployer := services.NewHTTPDeployer(cfg.Deployment.Endpoint, cfg.Deployment.FactoryToken, logger)
	runID, err := deployer.Submit(ctx, code)
	if err != nil {
		logger.Error("deployment submission failed", zap.Error(err))
		return
	}
	status, err := services.WaitForRun(ctx, deployer, runID,
		time.Duration(cfg.Deployment.PollSeconds)*time.Second,
		time.Duration(cfg.Deployment.TimeoutMins)*time.Minute,
		logger)
	if err != nil {
		logger.Error("deployment did not succeed",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}
	logger.Info("deployment finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)))
}
