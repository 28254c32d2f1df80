package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/logistics/services/fulfillment/config"
	"example.com/logistics/services/fulfillment/internal/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that watches the staging area and refreshes material shortage reports`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	// Staging monitor: scan staged orders on a fixed interval and act on
	// any dwell-time alerts.
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.Staging.PollInterval).
			Msg("Starting staging monitor")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Staging.PollInterval),
			gocron.NewTask(func() {
				results, err := a.staging.ProcessAllAlerts(ctx, time.Now().UTC())
				if err != nil {
					log.Error().Err(err).Msg("Staging scan failed")
					return
				}
				for _, result := range results {
					if result.Error != "" {
						log.Error().
							Str("order_id", result.OrderID.String()).
							Str("error", result.Error).
							Msg("Staging alert processing failed")
					}
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

	// Planning refresh: recompute and publish shortage reports for every
	// organization so dashboards read a warm cache.
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.Planning.RefreshInterval).
			Msg("Starting planning refresh job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Planning.RefreshInterval),
			gocron.NewTask(func() {
				if err := refreshShortageReports(ctx, a); err != nil {
					log.Error().Err(err).Msg("Failed to refresh shortage reports")
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

func refreshShortageReports(ctx context.Context, a *app) error {
	gormDB, err := a.db.ReadOnlyDB()
	if err != nil {
		return err
	}

	var organizations []models.Organization
	if err := gormDB.WithContext(ctx).Find(&organizations).Error; err != nil {
		return err
	}

	for _, org := range organizations {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := a.planning.ComputeShortages(ctx, org.ID, nil); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			log.Error().Err(err).
				Str("organization_id", org.ID.String()).
				Msg("Shortage computation failed")
		}
	}

	return nil
}
