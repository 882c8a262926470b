package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/pharmaflow/internal/adapters/docker"
	"github.com/manthysbr/pharmaflow/internal/adapters/queue"
	"github.com/manthysbr/pharmaflow/internal/auth"
	"github.com/manthysbr/pharmaflow/internal/config"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/core/services"
	"github.com/manthysbr/pharmaflow/internal/schema"
	"github.com/manthysbr/pharmaflow/pkg/kernel"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the job pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	logger, cfg := c.logger, *c.cfg
	logger.Info("starting pharmaflow", "version", version, "config", c.cfg)

	store, err := openStore(ctx, logger, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	objects, audit, err := openObjects(ctx, logger, cfg.S3)
	if err != nil {
		return err
	}

	validator, err := schema.New()
	if err != nil {
		return err
	}
	generator, err := buildGenerator(logger, cfg, validator, store)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(logger, cfg, generator, objects)
	if err != nil {
		return err
	}

	events := services.NewEventBus(logger)
	ingestion := services.NewIngestion(logger, store, store, validator, audit, events)
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
		QueueSize:         cfg.Pipeline.QueueSize,
	})

	var (
		issuer   ports.TokenIssuer
		verifier kernel.TokenVerifier
	)
	if cfg.Broker.WorkerSecret != "" {
		tokens := auth.NewTaskTokens(cfg.Broker.WorkerSecret, cfg.Broker.TokenTTL)
		issuer, verifier = tokens, tokens
	}

	g, gctx := errgroup.WithContext(ctx)

	var (
		broker      ports.Broker
		callbackURL string
	)
	switch cfg.Broker.Kind {
	case "docker":
		containers, err := docker.NewBroker(logger, docker.Config{
			Image:       cfg.Broker.Docker.Image,
			Network:     cfg.Broker.Docker.Network,
			Env:         workerEnv(cfg),
			MemoryBytes: cfg.Broker.Docker.MemoryBytes,
			NanoCPUs:    cfg.Broker.Docker.NanoCPUs,
		})
		if err != nil {
			return err
		}
		broker, callbackURL = containers, cfg.Broker.CallbackBaseURL
		g.Go(func() error {
			reapLoop(gctx, logger, containers, cfg.Broker.Docker.ReapInterval)
			return nil
		})
	default:
		qb := queue.New(logger, registry, ingestion, queue.Config{
			QueueSize:   cfg.Broker.QueueSize,
			Concurrency: cfg.Broker.Concurrency,
		})
		qb.Declare(registry.Names()...)
		qb.Start(gctx)
		defer qb.Close()
		broker = qb
	}

	dispatcher := services.NewDispatcher(logger, broker, store, issuer, events, services.DispatcherConfig{
		SubmitTimeout:   cfg.Broker.SubmitTimeout,
		CallbackBaseURL: callbackURL,
	})

	var completion ports.Completion
	if cfg.Pipeline.Completion == "async" {
		completion = services.NewAsyncCompletion(logger, dispatcher, services.NewResponseWaiter(logger, store), store, services.AsyncCompletionConfig{
			PollInterval: cfg.Pipeline.PollInterval,
			Timeout:      cfg.Pipeline.ResponseTimeout,
		})
	} else {
		completion = services.NewSyncCompletion(logger, registry, ingestion, store, events)
	}

	conductor := services.NewConductor(logger, store, store, store, completion,
		services.NewSynthesis(logger, generator), validator, events)
	research := services.NewResearchService(logger, store, scheduler, dispatcher, events)

	scheduler.Start(gctx, func(ctx context.Context, id domain.JobID) {
		if err := conductor.Run(ctx, id); err != nil {
			logger.Warn("research job failed", "job_id", id, "error", err)
		}
	})

	server := kernel.NewServer(logger, research, ingestion, verifier, objects, kernel.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKeys:     cfg.Server.APIKeys,
		Version:     version,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	scheduler.Wait()
	logger.Info("pharmaflow stopped")
	return err
}

func reapLoop(ctx context.Context, logger *slog.Logger, b *docker.Broker, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := b.Reap(ctx); err != nil {
				logger.Warn("failed to reap worker containers", "error", err)
			} else if n > 0 {
				logger.Info("reaped worker containers", "count", n)
			}
		}
	}
}

// workerEnv hands the worker container the settings its workers need. The
// container loads them through the same PHARMAFLOW_* environment binding.
func workerEnv(cfg config.Config) map[string]string {
	env := map[string]string{
		"PHARMAFLOW_LOG_LEVEL":                      cfg.Log.Level,
		"PHARMAFLOW_LLM_MODE":                       cfg.LLM.Mode,
		"PHARMAFLOW_LLM_LOCAL_URL":                  cfg.LLM.LocalURL,
		"PHARMAFLOW_LLM_REMOTE_URL":                 cfg.LLM.RemoteURL,
		"PHARMAFLOW_LLM_API_KEY":                    cfg.LLM.APIKey,
		"PHARMAFLOW_LLM_DEFAULT_MODEL":              cfg.LLM.DefaultModel,
		"PHARMAFLOW_S3_ENABLED":                     strconv.FormatBool(cfg.S3.Enabled),
		"PHARMAFLOW_S3_ENDPOINT":                    cfg.S3.Endpoint,
		"PHARMAFLOW_S3_REGION":                      cfg.S3.Region,
		"PHARMAFLOW_S3_ACCESS_KEY_ID":               cfg.S3.AccessKeyID,
		"PHARMAFLOW_S3_SECRET_ACCESS_KEY":           cfg.S3.SecretAccessKey,
		"PHARMAFLOW_S3_FORCE_PATH_STYLE":            strconv.FormatBool(cfg.S3.ForcePathStyle),
		"PHARMAFLOW_WORKERS_CLINICAL_BASE_URL":      cfg.Workers.Clinical.BaseURL,
		"PHARMAFLOW_WORKERS_MARKET_SEARCH_PROVIDER": cfg.Workers.Market.SearchProvider,
		"PHARMAFLOW_WORKERS_MARKET_BRAVE_API_KEY":   cfg.Workers.Market.BraveAPIKey,
		"PHARMAFLOW_STORE_DRIVER":                   "memory",
	}
	for k, v := range env {
		if v == "" {
			delete(env, k)
		}
	}
	return env
}
