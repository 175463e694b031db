package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/product-juke/Kalla-Transporter-sub000/config"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/api"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/cache"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/database"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/messaging"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/metrics"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/search"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/tracing"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/workflow"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for delivery order and trip-cost budget approvals`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close(db)

	var orderCache workflow.OrderCache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	} else {
		orderCache = redisCache
		defer redisCache.Close()
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NewDisabledTracer()
	}
	defer tracer.Close()

	var indexer workflow.OrderIndexer
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search")
	} else {
		indexer = elasticClient
	}

	notifier := integrations.NewLogNotifier()
	var purchasing integrations.PurchaseOrderGenerator
	if cfg.Azure.QueueConnStr != "" {
		taskBus, err := messaging.NewServiceBusClient(cfg.Azure, cfg.Azure.TaskQueue)
		if err != nil {
			return err
		}
		defer taskBus.Close()
		notifier = integrations.NewServiceBusNotifier(taskBus)

		dispatchBus, err := messaging.NewServiceBusClient(cfg.Azure, cfg.Azure.DispatchQueue)
		if err != nil {
			return err
		}
		defer dispatchBus.Close()
		purchasing = integrations.NewServiceBusPurchasing(dispatchBus)
	} else {
		log.Warn().Msg("Service bus not configured, task and purchasing integrations are disabled")
	}

	directory, err := integrations.NewConfigDirectory(cfg.Reviewers)
	if err != nil {
		return err
	}

	store := repositories.NewStore(db)
	costCenters := integrations.NewCostCenterResolver(store.AnalyticAccounts())
	collector := metrics.NewMetrics()

	bopWorkflow := workflow.NewBOPWorkflow(store, directory, notifier)
	doWorkflow := workflow.NewDOWorkflow(
		store, bopWorkflow, directory, notifier,
		costCenters, purchasing, orderCache, indexer,
	)

	server := api.NewServer(cfg, doWorkflow, bopWorkflow, collector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
