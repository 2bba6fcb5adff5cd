package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/cache"
	"github.com/wut-feedback/feedback-engine/pkg/config"
	"github.com/wut-feedback/feedback-engine/pkg/database"
	"github.com/wut-feedback/feedback-engine/pkg/handlers"
	"github.com/wut-feedback/feedback-engine/pkg/llm"
	"github.com/wut-feedback/feedback-engine/pkg/logging"
	"github.com/wut-feedback/feedback-engine/pkg/middleware"
	"github.com/wut-feedback/feedback-engine/pkg/repositories"
	"github.com/wut-feedback/feedback-engine/pkg/services"
	"github.com/wut-feedback/feedback-engine/pkg/telegram"
	"github.com/wut-feedback/feedback-engine/pkg/vectorindex"
)

// Version is set at build time via ldflags
var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: feedback-engine [mode]

modes:
  bulk         import chat history once and exit
  monitor      follow new messages until interrupted
  hybrid       bulk import, then monitor (default from config)
  serve        expose the retrieval API over HTTP
  rebuild      recompute aggregates and the vector index, then exit
  init-config  write a commented config.yaml and exit
`)
}

func main() {
	mode := ""
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	if mode == "init-config" {
		if err := initConfig(); err != nil {
			log.Fatalf("init-config failed: %v", err)
		}
		return
	}

	switch mode {
	case "", "bulk", "monitor", "hybrid", "serve", "rebuild":
	default:
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if mode != "" && mode != "serve" && mode != "rebuild" {
		cfg.Ingest.Mode = mode
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mode, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("feedback-engine failed", zap.Error(err))
	}
}

func initConfig() error {
	if _, err := os.Stat("config.yaml"); err == nil {
		return fmt.Errorf("config.yaml already exists")
	}
	example, err := config.Example()
	if err != nil {
		return err
	}
	if err := os.WriteFile("config.yaml", example, 0o644); err != nil {
		return err
	}
	fmt.Println("wrote config.yaml")
	return nil
}

func run(ctx context.Context, mode string, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting feedback-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("mode", modeLabel(mode, cfg)),
		zap.String("vector_index", cfg.VectorIndex.Backend),
	)

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := migrate(cfg, logger); err != nil {
		return err
	}

	eng, err := buildEngine(ctx, db, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	switch mode {
	case "serve":
		return serveHTTP(ctx, cfg, eng, logger)
	case "rebuild":
		return rebuild(ctx, eng, logger)
	default:
		return eng.ingest.Run(ctx)
	}
}

func modeLabel(mode string, cfg *config.Config) string {
	if mode == "" {
		return cfg.Ingest.Mode
	}
	return mode
}

// migrate runs schema migrations over a throwaway database/sql handle;
// golang-migrate cannot drive the pgx pool directly.
func migrate(cfg *config.Config, logger *zap.Logger) error {
	resolved := cfg.Database
	resolved.Host = config.ResolveHostForDocker(cfg.Database.Host)

	sqlDB, err := sql.Open("pgx", resolved.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, database.DefaultMigrationsPath, logger)
}

// engine bundles the wired services so each mode can pick what it needs.
type engine struct {
	ingest      services.IngestService
	retrieval   services.RetrievalService
	analytics   services.AnalyticsService
	aggregation services.AggregationService
	embedding   services.EmbeddingService
	close       func()
}

func buildEngine(ctx context.Context, db *database.DB, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	snapshots := cache.NewNoopSnapshotCache()
	if redisClient != nil {
		ttl := time.Duration(cfg.Redis.SnapshotTTLSeconds) * time.Second
		snapshots = cache.NewRedisSnapshotCache(redisClient, ttl, logger)
	}

	index, err := buildIndex(ctx, &cfg.VectorIndex)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(&llm.Config{
		Endpoint:       cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		APIKey:         cfg.AI.APIKey,
		MaxTokens:      cfg.AI.MaxOutputTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	breaker := llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Ingest.Workers}, logger)

	professors := repositories.NewProfessorRepository(db)
	courses := repositories.NewCourseRepository(db)
	feedbacks := repositories.NewFeedbackRepository(db)
	markers := repositories.NewProcessedMessageRepository(db)
	bulkRuns := repositories.NewBulkImportRepository(db)
	userQueries := repositories.NewUserQueryRepository(db)

	extraction := services.NewExtractionService(client, breaker, services.ExtractionConfig{
		Temperature:   float64(cfg.AI.Temperature),
		MinConfidence: cfg.AI.MinConfidence,
		Timeout:       time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
	}, logger)
	resolver := services.NewResolverService(professors, courses, services.ResolverConfig{
		MatchThreshold: cfg.Retrieval.ResolveThreshold,
	}, logger)
	aggregation := services.NewAggregationService(professors, feedbacks, snapshots, logger)
	embedding := services.NewEmbeddingService(client, index, pool, professors, feedbacks,
		services.EmbeddingConfig{Timeout: time.Duration(cfg.AI.TimeoutSeconds) * time.Second}, logger)

	source := telegram.NewSource(telegram.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
	}, logger)

	ingest := services.NewIngestService(source, db, extraction, resolver, aggregation,
		embedding, professors, courses, feedbacks, markers, bulkRuns, pool, cfg.Ingest, logger)
	retrieval := services.NewRetrievalService(resolver, embedding, index, client,
		professors, courses, feedbacks, userQueries, snapshots, services.RetrievalConfig{
			ResolveThreshold: cfg.Retrieval.ResolveThreshold,
			SearchThreshold:  cfg.Retrieval.SearchThreshold,
			MinFeedbacks:     int64(cfg.Retrieval.MinFeedbacks),
			MaxResults:       cfg.Retrieval.MaxResults,
		}, logger)
	analytics := services.NewAnalyticsService(professors, feedbacks, userQueries, logger)

	closeAll := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
	return &engine{
		ingest:      ingest,
		retrieval:   retrieval,
		analytics:   analytics,
		aggregation: aggregation,
		embedding:   embedding,
		close:       closeAll,
	}, nil
}

func buildIndex(ctx context.Context, cfg *config.VectorIndexConfig) (vectorindex.Index, error) {
	var index vectorindex.Index
	switch cfg.Backend {
	case "qdrant":
		index = vectorindex.NewQdrant(vectorindex.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantKey,
			Collection: cfg.Collection,
		})
	default:
		index = vectorindex.NewMemory()
	}
	if err := index.Init(ctx, cfg.Dimension); err != nil {
		return nil, fmt.Errorf("failed to init vector index: %w", err)
	}
	return index, nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, eng *engine, logger *zap.Logger) error {
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(eng.retrieval, logger).RegisterRoutes(mux)
	handlers.NewAnalyticsHandler(eng.analytics, int64(cfg.Retrieval.MinFeedbacks), logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving retrieval API", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func rebuild(ctx context.Context, eng *engine, logger *zap.Logger) error {
	logger.Info("rebuilding professor aggregates")
	if err := eng.aggregation.RebuildAll(ctx); err != nil {
		return fmt.Errorf("aggregate rebuild failed: %w", err)
	}
	logger.Info("rebuilding vector index")
	if err := eng.embedding.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("index rebuild failed: %w", err)
	}
	logger.Info("rebuild complete")
	return nil
}
