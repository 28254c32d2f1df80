package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/logistics/services/fulfillment/internal/messaging"
	"example.com/logistics/services/fulfillment/internal/metrics"
	"example.com/logistics/services/fulfillment/internal/models"
)

// AllocationResult reports one allocation run over an order
type AllocationResult struct {
	OrderID        uuid.UUID           `json:"order_id"`
	Status         models.OrderStatus  `json:"status"`
	FullyAllocated bool                `json:"fully_allocated"`
	Allocations    []models.Allocation `json:"allocations"`
}

// AllocationService reserves available inventory against order lines with
// FIFO lot discipline. Partial success is kept, not rolled back: a line that
// cannot be fully covered leaves the order in BACKORDER with its partial
// reservations intact, to be re-run as supply arrives.
type AllocationService struct {
	db        *gorm.DB
	ledger    *LedgerService
	metrics   *metrics.Metrics
	publisher messaging.Publisher
}

// NewAllocationService creates a new allocation service
func NewAllocationService(db *gorm.DB, ledger *LedgerService, collector *metrics.Metrics, publisher messaging.Publisher) *AllocationService {
	return &AllocationService{
		db:        db,
		ledger:    ledger,
		metrics:   collector,
		publisher: publisher,
	}
}

// statuses from which an allocation run may be started or re-run
var allocatableStatuses = map[models.OrderStatus]bool{
	models.OrderStatusReceived:  true,
	models.OrderStatusBackorder: true,
	models.OrderStatusAllocated: true,
}

// Allocate runs the allocation pass for one order inside a single
// transaction. Re-invocation is safe: existing non-released allocations are
// subtracted from each line's need, so a second run with no new supply
// creates nothing and leaves the status unchanged.
func (s *AllocationService) Allocate(ctx context.Context, orderID uuid.UUID) (*AllocationResult, error) {
	var (
		result    AllocationResult
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

		if !allocatableStatuses[order.Status] {
			return errors.Wrapf(ErrIllegalTransition, "order %s in status %s cannot be allocated", orderID, order.Status)
		}

		fullyAllocated := true
		for i := range order.Lines {
			line := &order.Lines[i]

			satisfied, created, err := s.allocateLine(ctx, tx, &order, line)
			if err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, created...)
			if !satisfied {
				fullyAllocated = false
			}
		}

		target := models.OrderStatusAllocated
		if !fullyAllocated {
			target = models.OrderStatusBackorder
		}
		if order.Status != target {
			if err := transitionOrder(ctx, tx, &order, target); err != nil {
				return err
			}
		}

		result.OrderID = order.ID
		result.Status = order.Status
		result.FullyAllocated = fullyAllocated
		return nil
	})
	if err != nil {
		s.metrics.RecordError("allocate")
		return nil, err
	}
	s.metrics.RecordSuccess("allocate")
	s.metrics.IncrementCounterBy("allocations_created", int64(len(result.Allocations)))
	if result.Status == models.OrderStatusBackorder {
		s.metrics.IncrementCounter("orders_backordered")
	}

	log.Info().
		Str("order_id", orderID.String()).
		Str("status", string(result.Status)).
		Int("allocations", len(result.Allocations)).
		Msg("Allocation run complete")

	if oldStatus != result.Status {
		publishOrderStatusChanged(ctx, s.publisher, &order, oldStatus)
	}

	return &result, nil
}

// allocateLine covers one line's remaining need from the oldest lots first.
// Returns whether the line ended fully satisfied and the allocations created
// this run.
func (s *AllocationService) allocateLine(ctx context.Context, tx *gorm.DB, order *models.Order, line *models.OrderLine) (bool, []models.Allocation, error) {
	var existing int64
	err := tx.WithContext(ctx).
		Model(&models.Allocation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("order_line_id = ? AND status <> ?", line.ID, models.AllocationStatusReleased).
		Scan(&existing).Error
	if err != nil {
		return false, nil, errors.Wrap(err, "failed to sum existing allocations")
	}

	remaining := line.QuantityOrdered - existing
	if remaining <= 0 {
		return true, nil, nil
	}

	// FIFO: oldest received lots first, only lots with anything available.
	var records []models.InventoryRecord
	err = lockForUpdate(tx.WithContext(ctx)).
		Where("organization_id = ? AND item_id = ? AND quantity_on_hand - quantity_reserved > 0", order.OrganizationID, line.ItemID).
		Order("received_at asc").
		Find(&records).Error
	if err != nil {
		return false, nil, errors.Wrap(err, "failed to load inventory records")
	}

	var created []models.Allocation
	allocated := existing
	for _, record := range records {
		if remaining <= 0 {
			break
		}

		take := remaining
		if available := record.QuantityAvailable(); available < take {
			take = available
		}

		allocation := models.Allocation{
			ID:                uuid.New(),
			OrganizationID:    order.OrganizationID,
			OrderID:           order.ID,
			OrderLineID:       line.ID,
			InventoryRecordID: record.ID,
			Quantity:          take,
			Status:            models.AllocationStatusReserved,
		}
		if err := tx.WithContext(ctx).Create(&allocation).Error; err != nil {
			return false, nil, errors.Wrap(err, "failed to create allocation")
		}

		if err := s.ledger.Reserve(ctx, tx, record.ID, take); err != nil {
			return false, nil, err
		}

		created = append(created, allocation)
		allocated += take
		remaining -= take
	}

	if allocated != line.QuantityAllocated {
		line.QuantityAllocated = allocated
		err = tx.WithContext(ctx).
			Model(&models.OrderLine{}).
			Where("id = ?", line.ID).
			Update("quantity_allocated", allocated).Error
		if err != nil {
			return false, nil, errors.Wrap(err, "failed to update line allocated quantity")
		}
	}

	if remaining > 0 {
		log.Warn().
			Str("order_id", order.ID.String()).
			Str("item_id", line.ItemID.String()).
			Int64("allocated", allocated).
			Int64("ordered", line.QuantityOrdered).
			Msg("Partial allocation for order line")
		return false, created, nil
	}
	return true, created, nil
}
