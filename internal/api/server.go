package api

import (
	"context"
	"net/http"
	"time"

	"example.com/logistics/services/fulfillment/config"
	"example.com/logistics/services/fulfillment/internal/api/handlers"
	"example.com/logistics/services/fulfillment/internal/api/middleware"
	"example.com/logistics/services/fulfillment/internal/metrics"
	"example.com/logistics/services/fulfillment/internal/services"
	"example.com/logistics/services/fulfillment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Services bundles the domain services the API exposes
type Services struct {
	Ledger    *services.LedgerService
	Orders    *services.OrderService
	Allocator *services.AllocationService
	Planning  *services.PlanningService
	Shipments *services.ShipmentService
	Staging   *services.StagingService
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	services   Services
	collector  *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, svcs Services, collector *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:    cfg,
		services:  svcs,
		collector: collector,
		tracer:    tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	handlers.NewOrderHandler(s.services.Orders, s.services.Allocator, s.tracer).RegisterRoutes(router)
	handlers.NewInventoryHandler(s.services.Ledger, s.tracer).RegisterRoutes(router)
	handlers.NewPlanningHandler(s.services.Planning, s.tracer).RegisterRoutes(router)
	handlers.NewShipmentHandler(s.services.Shipments, s.tracer).RegisterRoutes(router)
	handlers.NewStagingHandler(s.services.Staging, s.tracer).RegisterRoutes(router)
	handlers.NewMetricsHandler(s.collector, s.tracer).RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
