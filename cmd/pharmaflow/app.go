package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/manthysbr/pharmaflow/internal/adapters/llm"
	"github.com/manthysbr/pharmaflow/internal/adapters/memory"
	"github.com/manthysbr/pharmaflow/internal/adapters/providers"
	"github.com/manthysbr/pharmaflow/internal/adapters/s3"
	"github.com/manthysbr/pharmaflow/internal/adapters/sqlstore"
	"github.com/manthysbr/pharmaflow/internal/config"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
	"github.com/manthysbr/pharmaflow/internal/workers"
	"github.com/manthysbr/pharmaflow/internal/workers/clinical"
	"github.com/manthysbr/pharmaflow/internal/workers/market"
	"github.com/manthysbr/pharmaflow/internal/workers/patent"
	"github.com/manthysbr/pharmaflow/internal/workers/report"
)

func openStore(ctx context.Context, logger *slog.Logger, cfg config.StoreConfig) (ports.Store, error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory store, jobs are lost on restart")
		return memory.NewStore(), nil
	}
	store, err := sqlstore.Open(ctx, logger, sqlstore.Config{Driver: cfg.Driver, Path: cfg.Path})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

// openObjects returns the artifact store and, when auditing is on, the
// envelope archive. Without S3 both live in memory.
func openObjects(ctx context.Context, logger *slog.Logger, cfg config.S3Config) (ports.ObjectStore, ports.AuditSink, error) {
	if !cfg.Enabled {
		objects := memory.NewObjects()
		return objects, nil, nil
	}
	store, err := s3.New(ctx, logger, s3.Config{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		ForcePathStyle:  cfg.ForcePathStyle,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureBuckets(ctx, s3.BucketArtifacts, s3.BucketAudit); err != nil {
		return nil, nil, err
	}
	if !cfg.Audit {
		return store, nil, nil
	}
	return store, store, nil
}

// buildGenerator returns nil when llm.mode is off; workers and synthesis
// then produce their deterministic fallbacks.
func buildGenerator(logger *slog.Logger, cfg config.Config, validator *schema.Validator, calls ports.LLMCallLog) (ports.StructuredGenerator, error) {
	provider, err := providers.BuildLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		logger.Info("llm disabled, using heuristic narratives")
		return nil, nil
	}
	return llm.NewStructuredGenerator(logger, provider, validator, calls, llm.GeneratorConfig{
		MaxRetries:        cfg.LLM.MaxRetries,
		RequestsPerSecond: cfg.LLM.RatePerSec,
		Burst:             cfg.LLM.Burst,
	}), nil
}

func buildRegistry(logger *slog.Logger, cfg config.Config, generator ports.StructuredGenerator, objects ports.ObjectStore) (*workers.Registry, error) {
	var source clinical.Source
	if path := cfg.Workers.Clinical.FixturePath; path != "" {
		fixture, err := clinical.LoadFixture(path)
		if err != nil {
			return nil, err
		}
		logger.Info("clinical worker uses fixture dataset", "path", path)
		source = fixture
	} else {
		source = clinical.NewAPIClient(cfg.Workers.Clinical.BaseURL, cfg.Workers.Clinical.RatePerSec)
	}

	var searcher market.Searcher
	switch cfg.Workers.Market.SearchProvider {
	case "brave":
		searcher = market.NewBrave(cfg.Workers.Market.BraveAPIKey)
	default:
		searcher = market.NewDuckDuckGo()
	}

	return workers.NewRegistry(logger,
		clinical.New(logger, source, generator, cfg.Workers.Clinical.PageSize),
		patent.New(generator),
		market.New(logger, searcher, generator, cfg.Workers.Market.MaxResults),
		report.New(objects),
	), nil
}
