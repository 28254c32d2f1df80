package handlers

import (
	"net/http"

	"example.com/logistics/services/fulfillment/internal/services"
	"example.com/logistics/services/fulfillment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OrderHandler handles order-related HTTP requests
type OrderHandler struct {
	orders    *services.OrderService
	allocator *services.AllocationService
	tracer    tracing.Tracer
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *services.OrderService, allocator *services.AllocationService, tracer tracing.Tracer) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		allocator: allocator,
		tracer:    tracer,
	}
}

// CreateOrderRequest represents an incoming order creation request
type CreateOrderRequest struct {
	OrganizationID uuid.UUID                `json:"organization_id" binding:"required"`
	OrderNumber    string                   `json:"order_number" binding:"required"`
	CustomerID     uuid.UUID                `json:"customer_id" binding:"required"`
	Lines          []CreateOrderLineRequest `json:"lines" binding:"required,min=1"`
}

// CreateOrderLineRequest is one demand line on an order creation request
type CreateOrderLineRequest struct {
	ItemID   uuid.UUID `json:"item_id" binding:"required"`
	Quantity int64     `json:"quantity" binding:"required"`
}

// HandleCreateOrder books a new order
func (h *OrderHandler) HandleCreateOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-order")
	defer h.tracer.EndTransaction(txn)

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "order_number", req.OrderNumber)

	input := services.CreateOrderInput{
		OrganizationID: req.OrganizationID,
		OrderNumber:    req.OrderNumber,
		CustomerID:     req.CustomerID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, services.CreateOrderLineInput{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(c, input)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create order")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// HandleGetOrder returns an order with its lines
func (h *OrderHandler) HandleGetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetOrder(c, orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HandleAllocateOrder runs stock allocation for an order
func (h *OrderHandler) HandleAllocateOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-allocate-order")
	defer h.tracer.EndTransaction(txn)

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	h.tracer.AddAttribute(txn, "order_id", orderID.String())

	result, err := h.allocator.Allocate(c, orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Allocation failed")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleReleaseOrder releases an allocated order to the warehouse floor
func (h *OrderHandler) HandleReleaseOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	taskCount, err := h.orders.ReleaseToWarehouse(c, orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "pick_tasks": taskCount})
}

// HandleStageOrder moves a packed order into the staging area
func (h *OrderHandler) HandleStageOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := h.orders.StageOrder(c, orderID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": "STAGED"})
}

// HandleCancelOrder cancels an order and releases its reservations
func (h *OrderHandler) HandleCancelOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-cancel-order")
	defer h.tracer.EndTransaction(txn)

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := h.orders.CancelOrder(c, orderID); err != nil {
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to cancel order")
		respondError(c, err)
		h.tracer.RecordError(txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": "CANCELLED"})
}

// HandleCompletePickTask marks a pick task as done
func (h *OrderHandler) HandleCompletePickTask(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pick task id"})
		return
	}

	if err := h.orders.CompletePickTask(c, taskID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pick_task_id": taskID, "status": "DONE"})
}

// RegisterRoutes registers the handler's routes
func (h *OrderHandler) RegisterRoutes(router *gin.Engine) {
	orders := router.Group("/api/v1/orders")
	{
		orders.POST("", h.HandleCreateOrder)
		orders.GET("/:id", h.HandleGetOrder)
		orders.POST("/:id/allocate", h.HandleAllocateOrder)
		orders.POST("/:id/release", h.HandleReleaseOrder)
		orders.POST("/:id/stage", h.HandleStageOrder)
		orders.POST("/:id/cancel", h.HandleCancelOrder)
	}

	router.POST("/api/v1/pick-tasks/:id/complete", h.HandleCompletePickTask)
}
