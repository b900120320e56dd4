package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/searchhub/searchhub/internal/config"
	"github.com/searchhub/searchhub/internal/index"
	"github.com/searchhub/searchhub/internal/queue"
	"github.com/searchhub/searchhub/internal/reminder"
	"github.com/searchhub/searchhub/internal/service/embedding"
	"github.com/searchhub/searchhub/internal/storage"
	"github.com/searchhub/searchhub/internal/telemetry"
	"github.com/searchhub/searchhub/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SEARCHHUB_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("searchhub starting", "version", version, "queue_backend", cfg.QueueBackend)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and run migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Queue backends. Redis in production; memory keeps single-process
	// deployments and local development free of external dependencies.
	var indexQueue, reminderQueue queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: parse URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping: %w", err)
		}
		indexQueue = queue.NewRedisQueue(client, cfg.IndexQueueName, logger)
		reminderQueue = queue.NewRedisQueue(client, cfg.ReminderQueueName, logger)
		logger.Info("queue: redis", "index_queue", cfg.IndexQueueName, "reminder_queue", cfg.ReminderQueueName)
	case "memory":
		indexQueue = queue.NewMemoryQueue(cfg.IndexQueueName)
		reminderQueue = queue.NewMemoryQueue(cfg.ReminderQueueName)
		logger.Info("queue: memory (in-process, single node only)")
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
	defer func() { _ = indexQueue.Close() }()
	defer func() { _ = reminderQueue.Close() }()

	// Embedding provider.
	embedder := newEmbeddingProvider(cfg, logger)

	// Indexing pipeline.
	dispatcher := index.NewDispatcher(indexQueue, db, logger)
	detector := index.NewDetector(db, cfg.StalenessTolerance, logger)
	indexer := index.NewIndexer(db, embedder, logger, cfg.ChunkSize, cfg.ChunkOverlap)
	sweeper := index.NewSweeper(detector, dispatcher, logger, cfg.SweepInterval, cfg.SweepBatchSize)

	// Reminder pipeline.
	deliverer := reminder.NewDeliverer(db, reminder.LogNotifier{Logger: logger}, logger)

	indexWorker := queue.NewWorker(indexQueue, logger, cfg.WorkerPollInterval, cfg.WorkerConcurrency, cfg.JobLease)
	indexWorker.Handle(index.JobTypeIndexDocument, indexer.HandleIndexJob)

	reminderWorker := queue.NewWorker(reminderQueue, logger, cfg.WorkerPollInterval, cfg.WorkerConcurrency, cfg.JobLease)
	reminderWorker.Handle(reminder.JobTypeDeliverReminder, deliverer.HandleDeliverJob)

	indexWorker.Start(ctx)
	reminderWorker.Start(ctx)
	sweeper.Start(ctx)

	logger.Info("searchhub ready",
		"sweep_interval", cfg.SweepInterval,
		"worker_concurrency", cfg.WorkerConcurrency,
		"embedding_dimensions", embedder.Dimensions())

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweeper.Stop(shutdownCtx)
	indexWorker.Drain(shutdownCtx)
	reminderWorker.Drain(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

// newEmbeddingProvider selects the embedding backend from config. "auto"
// uses OpenAI when an API key is present and falls back to noop otherwise.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	switch cfg.EmbeddingProvider {
	case "openai":
		logger.Info("embedding: openai", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "noop":
		logger.Info("embedding: noop (zero vectors)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	default:
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding: openai (auto)", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		}
		logger.Warn("embedding: noop (no OPENAI_API_KEY set)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
}
