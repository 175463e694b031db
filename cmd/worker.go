package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/product-juke/Kalla-Transporter-sub000/config"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/database"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/messaging"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/metrics"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/worker"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that drains dispatch notifications, consumes trip events and reminds stale reviewers`,
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

	if cfg.Azure.QueueConnStr == "" {
		return errors.New("the worker requires a service bus connection string")
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close(db)

	store := repositories.NewStore(db)
	collector := metrics.NewMetrics()

	dispatchBus, err := messaging.NewServiceBusClient(cfg.Azure, cfg.Azure.DispatchQueue)
	if err != nil {
		return err
	}
	defer dispatchBus.Close()

	tripBus, err := messaging.NewServiceBusClient(cfg.Azure, cfg.Azure.TripEventQueue)
	if err != nil {
		return err
	}
	defer tripBus.Close()

	taskBus, err := messaging.NewServiceBusClient(cfg.Azure, cfg.Azure.TaskQueue)
	if err != nil {
		return err
	}
	defer taskBus.Close()

	directory, err := integrations.NewConfigDirectory(cfg.Reviewers)
	if err != nil {
		return err
	}
	notifier := integrations.NewServiceBusNotifier(taskBus)
	costCenters := integrations.NewCostCenterResolver(store.AnalyticAccounts())

	bopWorkflow := workflow.NewBOPWorkflow(store, directory, notifier)
	doWorkflow := workflow.NewDOWorkflow(
		store, bopWorkflow, directory, notifier,
		costCenters, integrations.NewServiceBusPurchasing(dispatchBus), nil, nil,
	)

	flusher := worker.NewOutboxFlusher(
		store.Outbox(),
		integrations.NewServiceBusDispatch(dispatchBus),
		collector,
	)
	reminder := worker.NewReviewReminder(store, notifier, 24*time.Hour)
	tripEvents := worker.NewTripEventProcessor(store, doWorkflow)

	// Trip events close delivered orders.
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.TripEventQueue).Msg("Starting trip event processor")
		return tripBus.ProcessMessages(ctx, tripEvents.Handle)
	})

	// Cron side: outbox drain and reviewer reminders.
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(func() {
				if err := flusher.Flush(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to flush dispatch outbox")
				}
			}),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(func() {
				if err := reminder.Run(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to send review reminders")
				}
			}),
		)
		if err != nil {
			return err
		}

		log.Info().Msg("Starting outbox and reminder scheduler")
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
