package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/damdoh/services/traceability/ledger"
	"example.com/damdoh/services/traceability/projections"
	"example.com/damdoh/services/traceability/search"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the projection worker",
	Long:  `Start the background worker that projects ledger events into the search indices and reconciles batch snapshots against the ledger`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

	// Connect to database
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	// Initialize ledger store
	store := ledger.NewGormStore(db)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Initialize Elasticsearch; the projection loop requires it, the
	// reconciliation sweep does not
	searchClient, err := search.NewClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, projections disabled")
	} else {
		if err := searchClient.EnsureIndices(); err != nil {
			return err
		}

		processor := projections.NewEventProcessor(store, searchClient, cfg)
		g.Go(func() error {
			log.Info().Msg("Starting projection processor")
			processor.Start()
			<-ctx.Done()
			processor.Stop()
			return nil
		})
	}

	// Start the snapshot reconciliation job as a fallback mechanism
	g.Go(func() error {
		log.Info().Msg("Starting snapshot reconciliation job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		reconciler := projections.NewReconciler(store, cfg.ReconcileLookbackLimit)

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.ReconcileInterval),
			gocron.NewTask(func() {
				if err := reconciler.Run(ctx); err != nil {
					log.Error().Err(err).Msg("Snapshot reconciliation failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
