// Package cli implements the vektord commands.
package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vektor-ai/vektor/internal/api/handlers"
	"github.com/vektor-ai/vektor/internal/config"
	"github.com/vektor-ai/vektor/internal/database"
	"github.com/vektor-ai/vektor/internal/extract"
	"github.com/vektor-ai/vektor/internal/index"
	"github.com/vektor-ai/vektor/internal/jobs"
	"github.com/vektor-ai/vektor/internal/openai"
	"github.com/vektor-ai/vektor/internal/progress"
	"github.com/vektor-ai/vektor/internal/server"
	"github.com/vektor-ai/vektor/internal/service"
	"github.com/vektor-ai/vektor/internal/storage"
	"github.com/vektor-ai/vektor/internal/telemetry"
)

// retentionSweepInterval is how often terminal upload jobs are checked for purge.
const retentionSweepInterval = 15 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the vektor ingestion and retrieval API server on the specified port",
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
	if cfg.SentryDSN != "" {
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
			DSN:              cfg.SentryDSN,
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

	var idx index.VectorIndex
	if cfg.HasDatabase() {
		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			if err := index.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		log.Println("connected to database")

		idx = index.NewPostgres(pool, cfg.EmbeddingDimensions)
	} else {
		log.Println("no database configured, using in-memory index")
		idx = index.NewMemory(cfg.EmbeddingDimensions)
	}

	var archive *storage.Archive
	if cfg.HasS3() {
		archive, err = storage.NewArchive(ctx, storage.ArchiveConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
	}

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})

	broker := progress.NewBrokerWithConfig(progress.Config{GracePeriod: cfg.UploadRetention})
	registry := extract.NewRegistry()

	ingestCfg := service.DefaultIngestConfig()
	ingestCfg.Chunking = service.ChunkConfig{MaxChars: cfg.ChunkMaxChars, Overlap: cfg.ChunkOverlap}
	ingestCfg.EmbedConcurrency = cfg.EmbedConcurrency
	ingestCfg.ContinueOnExtractError = cfg.ContinueOnExtractError
	ingestCfg.Retention = cfg.UploadRetention

	var rawStore service.RawFileStore
	if archive != nil {
		rawStore = archive
	}

	coordinator := service.NewIngestionCoordinatorWithConfig(idx, aiClient, registry, broker, rawStore, ingestCfg)

	var generator service.GenerationClient
	if cfg.GenerationEnabled {
		generator = aiClient
	}
	retrieval := service.NewRetrievalEngine(idx, aiClient, generator)

	sweeper := jobs.NewRetentionSweeper(coordinator, coordinator.Retention())
	retentionWorker := jobs.NewWorker(sweeper, retentionSweepInterval)
	go retentionWorker.Start(ctx)
	log.Println("retention worker started")

	var fileArchive handlers.FileArchive
	if archive != nil {
		fileArchive = archive
	}

	routerCfg := server.RouterConfig{
		IngestHandler: handlers.NewIngestHandler(coordinator, broker),
		FilesHandler:  handlers.NewFilesHandler(idx, fileArchive),
		QueryHandler:  handlers.NewQueryHandler(retrieval),
		MaxBodyBytes:  cfg.MaxUploadBytes,
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
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

	retentionWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}
