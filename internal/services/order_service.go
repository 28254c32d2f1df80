package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/logistics/services/fulfillment/internal/cache"
	"example.com/logistics/services/fulfillment/internal/messaging"
	"example.com/logistics/services/fulfillment/internal/metrics"
	"example.com/logistics/services/fulfillment/internal/models"
)

// orderCacheTTL bounds staleness for order reads served from redis. Shipment
// dispatch and delivery update orders without going through this service, so
// the TTL is the ceiling on how long those transitions stay invisible.
const orderCacheTTL = time.Minute

// orderTransitions is the only legal set of order status changes. SHIPPED is
// reachable from any post-allocation state because shipment dispatch is the
// authoritative shipping event even when an order skips explicit warehouse
// stages.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusReceived:  {models.OrderStatusAllocated, models.OrderStatusBackorder, models.OrderStatusCancelled},
	models.OrderStatusAllocated: {models.OrderStatusPicking, models.OrderStatusBackorder, models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusBackorder: {models.OrderStatusAllocated, models.OrderStatusCancelled},
	models.OrderStatusPicking:   {models.OrderStatusPacked, models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusPacked:    {models.OrderStatusStaged, models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusStaged:    {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:   {models.OrderStatusDelivered},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

// transitionOrder applies one status change after checking it against the
// transition table. Rejected transitions leave the row untouched.
func transitionOrder(ctx context.Context, tx *gorm.DB, order *models.Order, to models.OrderStatus) error {
	allowed := false
	for _, next := range orderTransitions[order.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(ErrIllegalTransition, "order %s: %s -> %s", order.ID, order.Status, to)
	}

	updates := map[string]interface{}{"status": to}
	if to == models.OrderStatusStaged {
		now := time.Now().UTC()
		order.StagedAt = &now
		updates["staged_at"] = order.StagedAt
	}

	err := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(updates).Error
	if err != nil {
		return errors.Wrap(err, "failed to update order status")
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("from", string(order.Status)).
		Str("to", string(to)).
		Msg("Order status changed")

	order.Status = to
	return nil
}

// publishOrderStatusChanged emits the status-change event once the owning
// transaction has committed.
func publishOrderStatusChanged(ctx context.Context, publisher messaging.Publisher, order *models.Order, from models.OrderStatus) {
	if publisher == nil {
		return
	}
	event := messaging.Event{
		Type:           messaging.EventOrderStatusChanged,
		OrganizationID: order.OrganizationID,
		Payload: map[string]interface{}{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
			"from":         string(from),
			"to":           string(order.Status),
		},
	}
	if err := publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to publish order event")
	}
}

// OrderService owns the order lifecycle: intake, release to the warehouse,
// pick completion, staging, and cancellation.
type OrderService struct {
	db        *gorm.DB
	ledger    *LedgerService
	metrics   *metrics.Metrics
	publisher messaging.Publisher
	cache     *cache.RedisCache
}

// NewOrderService creates a new order lifecycle service
func NewOrderService(db *gorm.DB, ledger *LedgerService, collector *metrics.Metrics, publisher messaging.Publisher, redisCache *cache.RedisCache) *OrderService {
	return &OrderService{
		db:        db,
		ledger:    ledger,
		metrics:   collector,
		publisher: publisher,
		cache:     redisCache,
	}
}

// CreateOrderInput describes a new sales order
type CreateOrderInput struct {
	OrganizationID uuid.UUID
	OrderNumber    string
	CustomerID     uuid.UUID
	Lines          []CreateOrderLineInput
}

// CreateOrderLineInput is one demand line on a new order
type CreateOrderLineInput struct {
	ItemID   uuid.UUID
	Quantity int64
}

// CreateOrder books a new order in RECEIVED
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if len(input.Lines) == 0 {
		return nil, errors.Wrap(ErrInvalidQuantity, "order must have at least one line")
	}

	order := &models.Order{
		ID:             uuid.New(),
		OrganizationID: input.OrganizationID,
		OrderNumber:    input.OrderNumber,
		CustomerID:     input.CustomerID,
		Status:         models.OrderStatusReceived,
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, errors.Wrapf(ErrInvalidQuantity, "line quantity %d for item %s", line.Quantity, line.ItemID)
		}
		order.Lines = append(order.Lines, models.OrderLine{
			ID:              uuid.New(),
			OrderID:         order.ID,
			ItemID:          line.ItemID,
			QuantityOrdered: line.Quantity,
		})
	}

	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, errors.Wrap(err, "failed to create order")
	}

	s.metrics.IncrementCounter("orders_created")
	log.Info().
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Int("lines", len(order.Lines)).
		Msg("Order received")

	return order, nil
}

// GetOrder loads an order with its lines, served from cache when possible
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if s.cache != nil {
		var cached models.Order
		if err := s.cache.Get(ctx, cache.OrderCacheKey(orderID), &cached); err == nil {
			return &cached, nil
		}
	}

	var order models.Order
	err := s.db.WithContext(ctx).Preload("Lines").First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load order %s", orderID)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.OrderCacheKey(orderID), &order, orderCacheTTL); err != nil {
			log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to cache order")
		}
	}
	return &order, nil
}

// invalidateOrder drops the cached copy after a mutation
func (s *OrderService) invalidateOrder(ctx context.Context, orderID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.OrderCacheKey(orderID)); err != nil {
		log.Warn().Err(err).Str("order_id", orderID.String()).Msg("Failed to invalidate cached order")
	}
}

// ReleaseToWarehouse moves an allocated order into PICKING and generates one
// pick task per reserved allocation, each directed at its own lot's storage
// location. A line allocated across lots yields one task per lot so no task
// asks a picker for more than the bin holds.
func (s *OrderService) ReleaseToWarehouse(ctx context.Context, orderID uuid.UUID) (int, error) {
	var (
		order     models.Order
		taskCount int
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx.WithContext(ctx)).
			Preload("Lines").
			First(&order, "id = ?", orderID).Error; err != nil {
			return errors.Wrapf(err, "failed to load order %s", orderID)
		}

		if err := transitionOrder(ctx, tx, &order, models.OrderStatusPicking); err != nil {
			return err
		}

		for _, line := range order.Lines {
			var allocations []models.Allocation
			err := tx.WithContext(ctx).
				Preload("InventoryRecord").
				Where("order_line_id = ? AND status = ?", line.ID, models.AllocationStatusReserved).
				Order("created_at asc").
				Find(&allocations).Error
			if err != nil {
				return errors.Wrapf(err, "failed to load allocations for order line %s", line.ID)
			}
			if len(allocations) == 0 {
				return errors.Wrapf(ErrInvalidState, "no reserved allocation for order line %s", line.ID)
			}

			for _, allocation := range allocations {
				task := models.PickTask{
					ID:          uuid.New(),
					OrderID:     order.ID,
					OrderLineID: line.ID,
					ItemID:      line.ItemID,
					LocationID:  allocation.InventoryRecord.LocationID,
					Quantity:    allocation.Quantity,
					Status:      models.PickTaskStatusPending,
				}
				if err := tx.WithContext(ctx).Create(&task).Error; err != nil {
					return errors.Wrap(err, "failed to create pick task")
				}
				taskCount++
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordError("release_to_warehouse")
		return 0, err
	}
	s.metrics.RecordSuccess("release_to_warehouse")
	s.metrics.IncrementCounterBy("pick_tasks_created", int64(taskCount))

	log.Info().
		Str("order_id", orderID.String()).
		Int("pick_tasks", taskCount).
		Msg("Order released to warehouse")

	s.invalidateOrder(ctx, orderID)
	publishOrderStatusChanged(ctx, s.publisher, &order, models.OrderStatusAllocated)
	return taskCount, nil
}

// CompletePickTask marks one pick task done; when the last open task for the
// order completes, the order advances to PACKED.
func (s *OrderService) CompletePickTask(ctx context.Context, taskID uuid.UUID) error {
	var (
		order  models.Order
		packed bool
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task models.PickTask
		if err := lockForUpdate(tx.WithContext(ctx)).First(&task, "id = ?", taskID).Error; err != nil {
			return errors.Wrapf(err, "failed to load pick task %s", taskID)
		}
		if task.Status != models.PickTaskStatusPending {
			return errors.Wrapf(ErrInvalidState, "pick task %s already %s", taskID, task.Status)
		}

		now := time.Now().UTC()
		err := tx.WithContext(ctx).
			Model(&models.PickTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       models.PickTaskStatusCompleted,
				"completed_at": &now,
			}).Error
		if err != nil {
			return errors.Wrap(err, "failed to complete pick task")
		}

		var pending int64
		err = tx.WithContext(ctx).
			Model(&models.PickTask{}).
			Where("order_id = ? AND status = ?", task.OrderID, models.PickTaskStatusPending).
			Count(&pending).Error
		if err != nil {
			return errors.Wrap(err, "failed to count pending pick tasks")
		}
		if pending > 0 {
			return nil
		}

		if err := lockForUpdate(tx.WithContext(ctx)).First(&order, "id = ?", task.OrderID).Error; err != nil {
			return errors.Wrapf(err, "failed to load order %s", task.OrderID)
		}
		if err := transitionOrder(ctx, tx, &order, models.OrderStatusPacked); err != nil {
			return err
		}
		packed = true
		return nil
	})
	if err != nil {
		return err
	}

	if packed {
		s.metrics.IncrementCounter("orders_packed")
		s.invalidateOrder(ctx, order.ID)
		publishOrderStatusChanged(ctx, s.publisher, &order, models.OrderStatusPicking)
	}
	return nil
}

// StageOrder places a packed order in the staging lane
func (s *OrderService) StageOrder(ctx context.Context, orderID uuid.UUID) error {
	var order models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx.WithContext(ctx)).First(&order, "id = ?", orderID).Error; err != nil {
			return errors.Wrapf(err, "failed to load order %s", orderID)
		}
		return transitionOrder(ctx, tx, &order, models.OrderStatusStaged)
	})
	if err != nil {
		return err
	}

	s.metrics.IncrementCounter("orders_staged")
	s.invalidateOrder(ctx, orderID)
	publishOrderStatusChanged(ctx, s.publisher, &order, models.OrderStatusPacked)
	return nil
}

// CancelOrder cancels an order from any pre-shipment state and returns every
// non-consumed reservation to the ledger.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	var (
		order     models.Order
		oldStatus models.OrderStatus
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx.WithContext(ctx)).
			Preload("Lines").
			First(&order, "id = ?", orderID).Error; err != nil {
			return errors.Wrapf(err, "failed to load order %s", orderID)
		}
		oldStatus = order.Status

		if err := transitionOrder(ctx, tx, &order, models.OrderStatusCancelled); err != nil {
			return err
		}

		var allocations []models.Allocation
		err := tx.WithContext(ctx).
			Where("order_id = ? AND status = ?", order.ID, models.AllocationStatusReserved).
			Find(&allocations).Error
		if err != nil {
			return errors.Wrap(err, "failed to load reserved allocations")
		}

		for _, allocation := range allocations {
			if err := s.ledger.Release(ctx, tx, allocation.InventoryRecordID, allocation.Quantity); err != nil {
				return err
			}
			err := tx.WithContext(ctx).
				Model(&models.Allocation{}).
				Where("id = ?", allocation.ID).
				Update("status", models.AllocationStatusReleased).Error
			if err != nil {
				return errors.Wrap(err, "failed to release allocation")
			}
		}

		err = tx.WithContext(ctx).
			Model(&models.OrderLine{}).
			Where("order_id = ?", order.ID).
			Update("quantity_allocated", 0).Error
		if err != nil {
			return errors.Wrap(err, "failed to reset line allocations")
		}

		// Open pick tasks are moot once the order is cancelled.
		err = tx.WithContext(ctx).
			Where("order_id = ? AND status = ?", order.ID, models.PickTaskStatusPending).
			Delete(&models.PickTask{}).Error
		if err != nil {
			return errors.Wrap(err, "failed to remove pending pick tasks")
		}

		return nil
	})
	if err != nil {
		s.metrics.RecordError("cancel_order")
		return err
	}
	s.metrics.RecordSuccess("cancel_order")
	s.metrics.IncrementCounter("orders_cancelled")

	log.Info().Str("order_id", orderID.String()).Msg("Order cancelled, reservations released")
	s.invalidateOrder(ctx, orderID)
	publishOrderStatusChanged(ctx, s.publisher, &order, oldStatus)
	return nil
}
