package handlers

import (
	"net/http"
	"time"

	"example.com/logistics/services/fulfillment/internal/services"
	"example.com/logistics/services/fulfillment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InventoryHandler handles inventory-related HTTP requests
type InventoryHandler struct {
	ledger *services.LedgerService
	tracer tracing.Tracer
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(ledger *services.LedgerService, tracer tracing.Tracer) *InventoryHandler {
	return &InventoryHandler{
		ledger: ledger,
		tracer: tracer,
	}
}

// ReceiveStockRequest represents an incoming stock receipt
type ReceiveStockRequest struct {
	OrganizationID uuid.UUID  `json:"organization_id" binding:"required"`
	ItemID         uuid.UUID  `json:"item_id" binding:"required"`
	WarehouseID    uuid.UUID  `json:"warehouse_id" binding:"required"`
	LocationID     uuid.UUID  `json:"location_id" binding:"required"`
	LotNumber      string     `json:"lot_number"`
	Quantity       int64      `json:"quantity" binding:"required"`
	ReceivedAt     *time.Time `json:"received_at"`
}

// ReceivePOLineRequest represents a receipt against a purchase order line
type ReceivePOLineRequest struct {
	WarehouseID uuid.UUID  `json:"warehouse_id" binding:"required"`
	LocationID  uuid.UUID  `json:"location_id" binding:"required"`
	Quantity    int64      `json:"quantity" binding:"required"`
	ReceivedAt  *time.Time `json:"received_at"`
}

// HandleGetAvailability returns unreserved stock for an item at a warehouse
func (h *InventoryHandler) HandleGetAvailability(c *gin.Context) {
	itemID, err := uuid.Parse(c.Query("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item_id"})
		return
	}

	warehouseID, err := uuid.Parse(c.Query("warehouse_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid warehouse_id"})
		return
	}

	available, err := h.ledger.GetAvailable(c, itemID, warehouseID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item_id":      itemID,
		"warehouse_id": warehouseID,
		"available":    available,
	})
}

// HandleReceiveStock books new stock into a location
func (h *InventoryHandler) HandleReceiveStock(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-receive-stock")
	defer h.tracer.EndTransaction(txn)

	var req ReceiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}

	record, err := h.ledger.Receive(c, nil, services.ReceiveInput{
		OrganizationID: req.OrganizationID,
		ItemID:         req.ItemID,
		WarehouseID:    req.WarehouseID,
		LocationID:     req.LocationID,
		LotNumber:      req.LotNumber,
		Quantity:       req.Quantity,
		ReceivedAt:     receivedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to receive stock")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// HandleReceivePOLine books stock against an open purchase order line
func (h *InventoryHandler) HandleReceivePOLine(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-receive-po-line")
	defer h.tracer.EndTransaction(txn)

	poLineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase order line id"})
		return
	}

	var req ReceivePOLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}

	record, err := h.ledger.ReceivePurchaseOrderLine(c, poLineID, req.WarehouseID, req.LocationID, req.Quantity, receivedAt)
	if err != nil {
		log.Error().Err(err).Str("po_line_id", poLineID.String()).Msg("Failed to receive against purchase order line")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// RegisterRoutes registers the handler's routes
func (h *InventoryHandler) RegisterRoutes(router *gin.Engine) {
	inventory := router.Group("/api/v1/inventory")
	{
		inventory.GET("/availability", h.HandleGetAvailability)
		inventory.POST("/receipts", h.HandleReceiveStock)
	}

	router.POST("/api/v1/purchase-order-lines/:id/receive", h.HandleReceivePOLine)
}
