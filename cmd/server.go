package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/damdoh/services/traceability/api"
	"example.com/damdoh/services/traceability/cache"
	"example.com/damdoh/services/traceability/config"
	"example.com/damdoh/services/traceability/handlers"
	"example.com/damdoh/services/traceability/ledger"
	"example.com/damdoh/services/traceability/messaging"
	"example.com/damdoh/services/traceability/metrics"
	"example.com/damdoh/services/traceability/models"
	"example.com/damdoh/services/traceability/search"
	"example.com/damdoh/services/traceability/tracing"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Run:   runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) {
	log.Info().Msg("Starting server")

	// Connect to database
	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Initialize ledger store
	store := ledger.NewGormStore(db)

	// Initialize metrics
	collector := metrics.NewMetrics()
	collector.SetHealthCheck("database", true)

	// Initialize read cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = cache.Disabled()
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer, _ = tracing.NewTracer(config.TracingConfig{})
	}

	// Initialize Elasticsearch client; the search endpoint degrades when absent
	searchClient, err := search.NewClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search")
		searchClient = nil
		collector.SetHealthCheck("elasticsearch", false)
	} else {
		collector.SetHealthCheck("elasticsearch", true)
	}

	// Initialize command handlers
	batchHandler := handlers.NewBatchHandler(store, redisCache, collector)

	// Set up signal-aware context for the queue consumers
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start queue ingestion when configured
	if cfg.AzureIngestEnabled && cfg.AzureQueueConnStr != "" {
		azureClient, err := messaging.NewAzureClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Azure Service Bus")
		}

		msgProcessor := messaging.NewProcessor(batchHandler)

		go func() {
			if err := azureClient.StartConsumers(ctx, cfg.AzureTraceQueueName, msgProcessor); err != nil && ctx.Err() == nil {
				log.Fatal().Err(err).Msg("Trace events queue consumer failed")
			}
		}()
	}

	// Initialize server
	server := api.NewServer(cfg, batchHandler, searchClient, collector, tracer)

	// Start HTTP server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if cfg.EnableMigrations {
		if err := models.SetupModels(db); err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	return db, nil
}
