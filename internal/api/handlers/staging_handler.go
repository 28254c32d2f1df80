package handlers

import (
	"net/http"
	"time"

	"example.com/logistics/services/fulfillment/internal/services"
	"example.com/logistics/services/fulfillment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// StagingHandler handles staging monitor HTTP requests
type StagingHandler struct {
	staging *services.StagingService
	tracer  tracing.Tracer
}

// NewStagingHandler creates a new staging handler
func NewStagingHandler(staging *services.StagingService, tracer tracing.Tracer) *StagingHandler {
	return &StagingHandler{
		staging: staging,
		tracer:  tracer,
	}
}

// HandleGetAlerts returns current staging dwell alerts
func (h *StagingHandler) HandleGetAlerts(c *gin.Context) {
	alerts, err := h.staging.Scan(c, time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// HandleGetStagingMetrics returns staging area occupancy and dwell stats
func (h *StagingHandler) HandleGetStagingMetrics(c *gin.Context) {
	stagingMetrics, err := h.staging.Metrics(c, time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stagingMetrics)
}

// HandleProcessAlerts scans staged orders and acts on every alert
func (h *StagingHandler) HandleProcessAlerts(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-process-staging-alerts")
	defer h.tracer.EndTransaction(txn)

	results, err := h.staging.ProcessAllAlerts(c, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to process staging alerts")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// RegisterRoutes registers the handler's routes
func (h *StagingHandler) RegisterRoutes(router *gin.Engine) {
	staging := router.Group("/api/v1/staging")
	{
		staging.GET("/alerts", h.HandleGetAlerts)
		staging.GET("/metrics", h.HandleGetStagingMetrics)
		staging.POST("/process", h.HandleProcessAlerts)
	}
}
