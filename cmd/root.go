package cmd

import (
	"example.com/logistics/services/fulfillment/config"
	"example.com/logistics/services/fulfillment/internal/cache"
	"example.com/logistics/services/fulfillment/internal/database"
	"example.com/logistics/services/fulfillment/internal/messaging"
	"example.com/logistics/services/fulfillment/internal/metrics"
	"example.com/logistics/services/fulfillment/internal/models"
	"example.com/logistics/services/fulfillment/internal/search"
	"example.com/logistics/services/fulfillment/internal/services"
	"example.com/logistics/services/fulfillment/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:   "fulfillment",
	Short: "Fulfillment service",
	Long:  `Multi-warehouse order fulfillment: inventory ledger, allocation, material planning, shipments and staging`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// app holds the wired-up service graph shared by the api and worker commands
type app struct {
	cfg       config.Config
	db        database.DB
	cache     *cache.RedisCache
	publisher messaging.Publisher
	elastic   *search.ElasticClient
	tracer    tracing.Tracer
	collector *metrics.Metrics

	ledger    *services.LedgerService
	orders    *services.OrderService
	allocator *services.AllocationService
	planning  *services.PlanningService
	shipments *services.ShipmentService
	staging   *services.StagingService
}

func buildApp(cfg config.Config) (*app, error) {
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}

	gormDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if err := models.SetupModels(gormDB); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	readOnlyDB, err := db.ReadOnlyDB()
	if err != nil {
		return nil, err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache, _ = cache.NewRedisCache(config.RedisConfig{Enabled: false})
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer, _ = tracing.NewTracer(config.TracingConfig{})
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		elasticClient = nil
	}

	publisher, err := messaging.NewPublisher(cfg.Azure)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewMetrics()

	a := &app{
		cfg:       cfg,
		db:        db,
		cache:     redisCache,
		publisher: publisher,
		elastic:   elasticClient,
		tracer:    tracer,
		collector: collector,
	}
	a.buildServices(gormDB, readOnlyDB)

	return a, nil
}

func (a *app) buildServices(db, readOnlyDB *gorm.DB) {
	a.ledger = services.NewLedgerService(db)
	bom := services.NewBOMService(db, a.cfg.BOM.MaxDepth)
	a.orders = services.NewOrderService(db, a.ledger, a.collector, a.publisher, a.cache)
	a.allocator = services.NewAllocationService(db, a.ledger, a.collector, a.publisher)
	a.planning = services.NewPlanningService(readOnlyDB, bom, a.cache, a.elastic)
	a.shipments = services.NewShipmentService(db, a.ledger, a.collector, a.publisher, a.elastic)
	a.staging = services.NewStagingService(db, a.shipments, a.publisher,
		a.cfg.Staging.WarningThreshold, a.cfg.Staging.CriticalThreshold)
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close event publisher")
	}
	if err := a.cache.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Redis connection")
	}
	if a.tracer != nil {
		a.tracer.Close()
	}
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database connections")
	}
}
