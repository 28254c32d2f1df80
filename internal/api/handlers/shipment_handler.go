package handlers

import (
	"net/http"

	"example.com/logistics/services/fulfillment/internal/services"
	"example.com/logistics/services/fulfillment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ShipmentHandler handles shipment-related HTTP requests
type ShipmentHandler struct {
	shipments *services.ShipmentService
	tracer    tracing.Tracer
}

// NewShipmentHandler creates a new shipment handler
func NewShipmentHandler(shipments *services.ShipmentService, tracer tracing.Tracer) *ShipmentHandler {
	return &ShipmentHandler{
		shipments: shipments,
		tracer:    tracer,
	}
}

// CreateShipmentRequest represents an incoming shipment creation request
type CreateShipmentRequest struct {
	OrderIDs            []uuid.UUID `json:"order_ids" binding:"required,min=1"`
	OriginLocation      string      `json:"origin_location" binding:"required"`
	DestinationLocation string      `json:"destination_location" binding:"required"`
	CarrierRef          string      `json:"carrier_ref"`
}

// HandleCreateShipment builds a shipment from allocated orders
func (h *ShipmentHandler) HandleCreateShipment(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-shipment")
	defer h.tracer.EndTransaction(txn)

	var req CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	shipment, err := h.shipments.CreateFromAllocatedOrders(c, services.CreateShipmentInput{
		OrderIDs:            req.OrderIDs,
		OriginLocation:      req.OriginLocation,
		DestinationLocation: req.DestinationLocation,
		CarrierRef:          req.CarrierRef,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create shipment")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusCreated, shipment)
}

// HandleGetShipment returns a shipment with its lines
func (h *ShipmentHandler) HandleGetShipment(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipment id"})
		return
	}

	shipment, err := h.shipments.GetShipment(c, shipmentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, shipment)
}

// HandleSearchShipments queries the dispatched-shipment index
func (h *ShipmentHandler) HandleSearchShipments(c *gin.Context) {
	organizationID, err := uuid.Parse(c.Query("organization_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id"})
		return
	}

	docs, err := h.shipments.SearchDispatched(c, organizationID, c.Query("status"), c.Query("carrier_ref"))
	if err != nil {
		log.Error().Err(err).Msg("Shipment search failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipments": docs, "count": len(docs)})
}

// HandleDispatchShipment dispatches a shipment and consumes its reservations
func (h *ShipmentHandler) HandleDispatchShipment(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-dispatch-shipment")
	defer h.tracer.EndTransaction(txn)

	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipment id"})
		return
	}

	h.tracer.AddAttribute(txn, "shipment_id", shipmentID.String())

	if err := h.shipments.Dispatch(c, shipmentID); err != nil {
		log.Error().Err(err).Str("shipment_id", shipmentID.String()).Msg("Failed to dispatch shipment")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipment_id": shipmentID, "status": "IN_TRANSIT"})
}

// HandleDeliverShipment records delivery of a shipment
func (h *ShipmentHandler) HandleDeliverShipment(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipment id"})
		return
	}

	if err := h.shipments.Deliver(c, shipmentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipment_id": shipmentID, "status": "DELIVERED"})
}

// HandleStartPicking moves a shipment into picking
func (h *ShipmentHandler) HandleStartPicking(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipment id"})
		return
	}

	if err := h.shipments.StartPicking(c, shipmentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipment_id": shipmentID, "status": "PICKING"})
}

// HandleMarkPacked marks a shipment as packed
func (h *ShipmentHandler) HandleMarkPacked(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipment id"})
		return
	}

	if err := h.shipments.MarkPacked(c, shipmentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipment_id": shipmentID, "status": "PACKED"})
}

// HandleCancelShipment cancels a shipment before dispatch
func (h *ShipmentHandler) HandleCancelShipment(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipment id"})
		return
	}

	if err := h.shipments.Cancel(c, shipmentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipment_id": shipmentID, "status": "CANCELLED"})
}

// RegisterRoutes registers the handler's routes
func (h *ShipmentHandler) RegisterRoutes(router *gin.Engine) {
	shipments := router.Group("/api/v1/shipments")
	{
		shipments.POST("", h.HandleCreateShipment)
		shipments.GET("/search", h.HandleSearchShipments)
		shipments.GET("/:id", h.HandleGetShipment)
		shipments.POST("/:id/pick", h.HandleStartPicking)
		shipments.POST("/:id/pack", h.HandleMarkPacked)
		shipments.POST("/:id/dispatch", h.HandleDispatchShipment)
		shipments.POST("/:id/deliver", h.HandleDeliverShipment)
		shipments.POST("/:id/cancel", h.HandleCancelShipment)
	}
}
