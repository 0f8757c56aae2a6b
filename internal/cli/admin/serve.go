package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/deskmate-ai/deskmate/internal/api/handlers"
	"github.com/deskmate-ai/deskmate/internal/config"
	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/jobs"
	"github.com/deskmate-ai/deskmate/internal/openai"
	"github.com/deskmate-ai/deskmate/internal/repository"
	"github.com/deskmate-ai/deskmate/internal/server"
	"github.com/deskmate-ai/deskmate/internal/service"
	"github.com/deskmate-ai/deskmate/internal/storage"
	"github.com/deskmate-ai/deskmate/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the deskmate API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required: embeddings and completions have no offline fallback")
	}

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.ProviderTimeout,
		Retries:        cfg.ProviderRetries,
	})

	var (
		store        corpus.Store
		sink         jobs.StateSink
		loadCache    func(context.Context) ([]*domain.CacheEntry, error)
		loadFeedback func(context.Context) ([]*domain.FeedbackRecord, error)
		feedbackRepo *repository.FeedbackRepository
	)
	switch {
	case cfg.HasDatabase():
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		log.Println("connected to database")

		// Run migrations unless --no-migrate flag is set
		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			if err := runMigrations(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		cacheRepo := repository.NewCacheRepository(pool)
		feedbackRepo = repository.NewFeedbackRepository(pool)
		store = repository.NewKnowledgeRepository(pool)
		sink = &postgresStateSink{cache: cacheRepo, feedback: feedbackRepo}
		loadCache = cacheRepo.LoadAll
		loadFeedback = feedbackRepo.LoadAll
	case cfg.HasS3():
		s3Store, err := storage.NewS3Store(ctx, storage.S3StoreConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 store: %w", err)
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		store = s3Store
		sink = s3Store
		loadCache = s3Store.LoadCacheEntries
		loadFeedback = s3Store.LoadFeedback
	default:
		return fmt.Errorf("no knowledge store configured: set DATABASE_URL or the S3_* variables")
	}

	knowledge := corpus.New(store)
	knowledge.LoadAsync(ctx)

	cache := service.NewSemanticCacheWithConfig(service.CacheConfig{
		Capacity:            cfg.CacheCapacity,
		MaxAge:              cfg.CacheMaxAge,
		SimilarityThreshold: cfg.CacheSimilarity,
	})
	engine := service.NewRetrievalEngineWithPolicies(knowledge, aiClient, service.DefaultSourcePolicies(), cfg.BoostFactor)
	assembler := service.NewContextAssemblerWithConfig(service.AssemblerConfig{BudgetChars: cfg.ContextBudgetChars})
	queryRouter := service.NewRouter(cfg.TicketProjectPrefixes)

	learner := service.NewAutoLearnerWithConfig(knowledge, cache, aiClient, uuid.NewString, service.LearnerConfig{
		KeywordApplyThreshold: cfg.KeywordApplyThreshold,
		FailureAlertThreshold: cfg.FailureAlertThreshold,
		HighConfidenceScore:   cfg.HighConfidenceScore,
	})
	learner.SetAlertFunc(func(pattern *service.FailurePattern) {
		msg := fmt.Sprintf("recurring unresolved queries (%d occurrences): %s",
			pattern.Count, strings.Join(pattern.Tokens, " "))
		log.Printf("alert: %s", msg)
		telemetry.CaptureMessage(msg)
	})

	assistant := service.NewAssistant(queryRouter, cache, engine, assembler, service.NewCompletionClient(aiClient), knowledge)

	if entries, err := loadCache(ctx); err != nil {
		log.Printf("cache restore failed (starting cold): %v", err)
	} else if len(entries) > 0 {
		cache.Restore(entries)
		log.Printf("restored %d cached responses", len(entries))
	}
	if records, err := loadFeedback(ctx); err != nil {
		log.Printf("feedback restore failed (starting empty): %v", err)
	} else if len(records) > 0 {
		learner.RestoreRecords(records)
		log.Printf("restored %d feedback records", len(records))
	}

	backfillWorker := jobs.NewWorker("embedding backfill", jobs.NewBackfillWorker(knowledge, aiClient), cfg.BackfillInterval)
	go backfillWorker.Start(ctx)
	log.Println("embedding backfill worker started")

	flushProcessor := jobs.NewFlushWorker(knowledge, cache, learner, sink)
	flushWorker := jobs.NewWorker("state flush", flushProcessor, cfg.FlushInterval)
	go flushWorker.Start(ctx)
	log.Println("state flush worker started")

	retentionWorker := jobs.NewWorker("feedback retention", &retentionProcessor{
		learner:   learner,
		repo:      feedbackRepo,
		retainFor: cfg.FeedbackRetention,
	}, 24*time.Hour)
	go retentionWorker.Start(ctx)

	routerCfg := server.RouterConfig{
		ChatHandler:     handlers.NewChatHandler(assistant),
		FeedbackHandler: handlers.NewFeedbackHandler(learner),
		StatsHandler:    handlers.NewStatsHandler(learner, cache, knowledge),
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewRouter(routerCfg),
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	backfillWorker.Stop()
	flushWorker.Stop()
	retentionWorker.Stop()

	// Final flush so learned keywords and cached responses survive restarts.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	if err := flushProcessor.ProcessJobs(flushCtx); err != nil {
		log.Printf("final flush failed: %v", err)
	}
	cancelFlush()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

type postgresStateSink struct {
	cache    *repository.CacheRepository
	feedback *repository.FeedbackRepository
}

func (s *postgresStateSink) SaveCacheEntries(ctx context.Context, entries []*domain.CacheEntry) error {
	return s.cache.ReplaceAll(ctx, entries)
}

func (s *postgresStateSink) SaveFeedback(ctx context.Context, records []*domain.FeedbackRecord) error {
	return s.feedback.UpsertAll(ctx, records)
}

// retentionProcessor ages out feedback records beyond the retention window,
// both in memory and, when a database backs the learner, on disk.
type retentionProcessor struct {
	learner   *service.AutoLearner
	repo      *repository.FeedbackRepository
	retainFor time.Duration
}

func (p *retentionProcessor) ProcessJobs(ctx context.Context) error {
	removed := p.learner.Sweep(p.retainFor)
	if removed > 0 {
		log.Printf("retention: removed %d expired feedback records", removed)
	}
	if p.repo != nil {
		cutoff := time.Now().UTC().Add(-p.retainFor)
		if _, err := p.repo.DeleteOlderThan(ctx, cutoff); err != nil {
			return fmt.Errorf("feedback retention: %w", err)
		}
	}
	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
