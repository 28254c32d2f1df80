package handlers

import (
	"net/http"
	"strconv"

	"example.com/logistics/services/fulfillment/internal/services"
	"example.com/logistics/services/fulfillment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PlanningHandler handles material planning HTTP requests
type PlanningHandler struct {
	planning *services.PlanningService
	tracer   tracing.Tracer
}

// NewPlanningHandler creates a new planning handler
func NewPlanningHandler(planning *services.PlanningService, tracer tracing.Tracer) *PlanningHandler {
	return &PlanningHandler{
		planning: planning,
		tracer:   tracer,
	}
}

// HandleGetShortages computes the material shortage report for an organization.
// Pass cached=true to accept the last published report when one exists.
func (h *PlanningHandler) HandleGetShortages(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-shortages")
	defer h.tracer.EndTransaction(txn)

	organizationID, err := uuid.Parse(c.Query("organization_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id"})
		return
	}

	var warehouseID *uuid.UUID
	if raw := c.Query("warehouse_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid warehouse_id"})
			return
		}
		warehouseID = &id
	}

	if cached, _ := strconv.ParseBool(c.Query("cached")); cached {
		if requirements, ok := h.planning.CachedShortages(c, organizationID); ok {
			c.JSON(http.StatusOK, gin.H{"cached": true, "requirements": requirements})
			return
		}
	}

	requirements, err := h.planning.ComputeShortages(c, organizationID, warehouseID)
	if err != nil {
		log.Error().Err(err).Str("organization_id", organizationID.String()).Msg("Failed to compute shortages")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cached": false, "requirements": requirements})
}

// RegisterRoutes registers the handler's routes
func (h *PlanningHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/v1/planning/shortages", h.HandleGetShortages)
}
