package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/logistics/services/fulfillment/internal/messaging"
	"example.com/logistics/services/fulfillment/internal/metrics"
	"example.com/logistics/services/fulfillment/internal/models"
	"example.com/logistics/services/fulfillment/internal/search"
)

// shipmentTransitions is the shipment sub-lifecycle. Dispatch may fire from
// any pre-transit state; DELIVERED and CANCELLED are terminal.
var shipmentTransitions = map[models.ShipmentStatus][]models.ShipmentStatus{
	models.ShipmentStatusPlanned:   {models.ShipmentStatusPicking, models.ShipmentStatusInTransit, models.ShipmentStatusCancelled},
	models.ShipmentStatusPicking:   {models.ShipmentStatusPacked, models.ShipmentStatusInTransit, models.ShipmentStatusCancelled},
	models.ShipmentStatusPacked:    {models.ShipmentStatusInTransit, models.ShipmentStatusCancelled},
	models.ShipmentStatusInTransit: {models.ShipmentStatusDelivered},
	models.ShipmentStatusDelivered: {},
	models.ShipmentStatusCancelled: {},
}

func transitionShipment(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, to models.ShipmentStatus) error {
	allowed := false
	for _, next := range shipmentTransitions[shipment.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(ErrIllegalTransition, "shipment %s: %s -> %s", shipment.ID, shipment.Status, to)
	}

	updates := map[string]interface{}{"status": to}
	switch to {
	case models.ShipmentStatusInTransit:
		now := time.Now().UTC()
		shipment.DispatchedAt = &now
		updates["dispatched_at"] = shipment.DispatchedAt
	case models.ShipmentStatusDelivered:
		now := time.Now().UTC()
		shipment.DeliveredAt = &now
		updates["delivered_at"] = shipment.DeliveredAt
	}

	err := tx.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ?", shipment.ID).
		Updates(updates).Error
	if err != nil {
		return errors.Wrap(err, "failed to update shipment status")
	}

	shipment.Status = to
	return nil
}

// ShipmentService builds shipments from allocated orders and drives them
// through planning, dispatch, and delivery. Dispatch is where reservations
// become consumption.
type ShipmentService struct {
	db        *gorm.DB
	ledger    *LedgerService
	metrics   *metrics.Metrics
	publisher messaging.Publisher
	search    *search.ElasticClient
}

// NewShipmentService creates a new shipment builder
func NewShipmentService(db *gorm.DB, ledger *LedgerService, collector *metrics.Metrics, publisher messaging.Publisher, elasticClient *search.ElasticClient) *ShipmentService {
	return &ShipmentService{
		db:        db,
		ledger:    ledger,
		metrics:   collector,
		publisher: publisher,
		search:    elasticClient,
	}
}

// CreateShipmentInput describes a shipment built from one or more orders
type CreateShipmentInput struct {
	OrderIDs            []uuid.UUID
	OriginLocation      string
	DestinationLocation string
	CarrierRef          string
}

// shipmentNumber generates a human-readable shipment reference
func shipmentNumber() string {
	return "SHP-" + strings.ToUpper(uuid.New().String()[:8])
}

// CreateFromAllocatedOrders builds a PLANNED shipment from orders that are in
// ALLOCATED or STAGED. Lines are frozen snapshots of the backing allocations:
// later order mutation cannot corrupt an in-flight shipment.
func (s *ShipmentService) CreateFromAllocatedOrders(ctx context.Context, input CreateShipmentInput) (*models.Shipment, error) {
	if len(input.OrderIDs) == 0 {
		return nil, errors.Wrap(ErrOrderNotReady, "no orders given")
	}

	var shipment *models.Shipment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var orders []models.Order
		err := lockForUpdate(tx.WithContext(ctx)).
			Preload("Lines").
			Where("id IN ?", input.OrderIDs).
			Find(&orders).Error
		if err != nil {
			return errors.Wrap(err, "failed to load orders")
		}
		if len(orders) != len(input.OrderIDs) {
			return errors.Wrapf(ErrOrderNotReady, "found %d of %d orders", len(orders), len(input.OrderIDs))
		}

		for _, order := range orders {
			if order.Status != models.OrderStatusAllocated && order.Status != models.OrderStatusStaged {
				return errors.Wrapf(ErrOrderNotReady, "order %s is %s", order.ID, order.Status)
			}
		}

		shipment = &models.Shipment{
			ID:                  uuid.New(),
			OrganizationID:      orders[0].OrganizationID,
			ShipmentNumber:      shipmentNumber(),
			Status:              models.ShipmentStatusPlanned,
			OriginLocation:      input.OriginLocation,
			DestinationLocation: input.DestinationLocation,
			CarrierRef:          input.CarrierRef,
			DeclaredValue:       decimal.Zero,
		}

		for _, order := range orders {
			for _, line := range order.Lines {
				var allocations []models.Allocation
				err := tx.WithContext(ctx).
					Where("order_line_id = ? AND status = ?", line.ID, models.AllocationStatusReserved).
					Find(&allocations).Error
				if err != nil {
					return errors.Wrap(err, "failed to load allocations")
				}

				var item models.Item
				if err := tx.WithContext(ctx).First(&item, "id = ?", line.ItemID).Error; err != nil {
					return errors.Wrapf(err, "failed to load item %s", line.ItemID)
				}

				for _, allocation := range allocations {
					shipment.Lines = append(shipment.Lines, models.ShipmentLine{
						ID:           uuid.New(),
						ShipmentID:   shipment.ID,
						OrderID:      order.ID,
						OrderLineID:  line.ID,
						AllocationID: allocation.ID,
						ItemID:       line.ItemID,
						SKU:          item.SKU,
						Quantity:     allocation.Quantity,
					})
					shipment.DeclaredValue = shipment.DeclaredValue.Add(
						item.Cost.Mul(decimal.NewFromInt(allocation.Quantity)))
					shipment.TotalWeightKg += item.WeightKg * float64(allocation.Quantity)
				}
			}
		}

		if len(shipment.Lines) == 0 {
			return errors.Wrap(ErrOrderNotReady, "orders carry no reserved allocations")
		}

		if err := tx.WithContext(ctx).Create(shipment).Error; err != nil {
			return errors.Wrap(err, "failed to create shipment")
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordError("create_shipment")
		return nil, err
	}
	s.metrics.RecordSuccess("create_shipment")
	s.metrics.IncrementCounter("shipments_created")

	log.Info().
		Str("shipment_id", shipment.ID.String()).
		Str("shipment_number", shipment.ShipmentNumber).
		Int("lines", len(shipment.Lines)).
		Msg("Shipment planned")

	return shipment, nil
}

// GetShipment loads a shipment with its lines
func (s *ShipmentService) GetShipment(ctx context.Context, shipmentID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.WithContext(ctx).Preload("Lines").First(&shipment, "id = ?", shipmentID).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load shipment %s", shipmentID)
	}
	return &shipment, nil
}

// StartPicking advances a planned shipment into its picking phase
func (s *ShipmentService) StartPicking(ctx context.Context, shipmentID uuid.UUID) error {
	return s.simpleTransition(ctx, shipmentID, models.ShipmentStatusPicking)
}

// MarkPacked records that the shipment's freight is packed
func (s *ShipmentService) MarkPacked(ctx context.Context, shipmentID uuid.UUID) error {
	return s.simpleTransition(ctx, shipmentID, models.ShipmentStatusPacked)
}

// Cancel cancels a shipment that has not left the building. Reservations
// stay with the orders; cancelling the shipment does not touch the ledger.
func (s *ShipmentService) Cancel(ctx context.Context, shipmentID uuid.UUID) error {
	return s.simpleTransition(ctx, shipmentID, models.ShipmentStatusCancelled)
}

func (s *ShipmentService) simpleTransition(ctx context.Context, shipmentID uuid.UUID, to models.ShipmentStatus) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var shipment models.Shipment
		if err := lockForUpdate(tx.WithContext(ctx)).First(&shipment, "id = ?", shipmentID).Error; err != nil {
			return errors.Wrapf(err, "failed to load shipment %s", shipmentID)
		}
		return transitionShipment(ctx, tx, &shipment, to)
	})
}

// Dispatch sends the shipment out the door: consumes every backing
// reservation from the ledger, marks the allocations CONSUMED, advances the
// linked orders to SHIPPED, and moves the shipment IN_TRANSIT — all in one
// transaction.
func (s *ShipmentService) Dispatch(ctx context.Context, shipmentID uuid.UUID) error {
	type shippedOrder struct {
		order models.Order
		from  models.OrderStatus
	}
	var (
		shipment      models.Shipment
		shippedOrders []shippedOrder
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx.WithContext(ctx)).
			Preload("Lines").
			First(&shipment, "id = ?", shipmentID).Error; err != nil {
			return errors.Wrapf(err, "failed to load shipment %s", shipmentID)
		}

		if err := transitionShipment(ctx, tx, &shipment, models.ShipmentStatusInTransit); err != nil {
			return err
		}

		orderIDs := make(map[uuid.UUID]bool)
		for _, line := range shipment.Lines {
			var allocation models.Allocation
			if err := lockForUpdate(tx.WithContext(ctx)).
				First(&allocation, "id = ?", line.AllocationID).Error; err != nil {
				return errors.Wrapf(err, "failed to load allocation %s", line.AllocationID)
			}
			if allocation.Status != models.AllocationStatusReserved {
				return errors.Wrapf(ErrInvalidState, "allocation %s is %s, not RESERVED", allocation.ID, allocation.Status)
			}

			if err := s.ledger.Consume(ctx, tx, allocation.InventoryRecordID, line.Quantity); err != nil {
				return err
			}

			err := tx.WithContext(ctx).
				Model(&models.Allocation{}).
				Where("id = ?", allocation.ID).
				Update("status", models.AllocationStatusConsumed).Error
			if err != nil {
				return errors.Wrap(err, "failed to mark allocation consumed")
			}

			err = tx.WithContext(ctx).
				Model(&models.OrderLine{}).
				Where("id = ?", line.OrderLineID).
				Update("quantity_shipped", gorm.Expr("quantity_shipped + ?", line.Quantity)).Error
			if err != nil {
				return errors.Wrap(err, "failed to update shipped quantity")
			}

			orderIDs[line.OrderID] = true
		}

		for orderID := range orderIDs {
			var order models.Order
			if err := lockForUpdate(tx.WithContext(ctx)).First(&order, "id = ?", orderID).Error; err != nil {
				return errors.Wrapf(err, "failed to load order %s", orderID)
			}
			from := order.Status
			if err := transitionOrder(ctx, tx, &order, models.OrderStatusShipped); err != nil {
				return err
			}
			shippedOrders = append(shippedOrders, shippedOrder{order: order, from: from})
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordError("dispatch")
		return err
	}
	s.metrics.RecordSuccess("dispatch")
	s.metrics.IncrementCounter("shipments_dispatched")

	log.Info().
		Str("shipment_id", shipment.ID.String()).
		Str("shipment_number", shipment.ShipmentNumber).
		Int("orders", len(shippedOrders)).
		Msg("Shipment dispatched")

	orders := make([]models.Order, 0, len(shippedOrders))
	froms := make([]models.OrderStatus, 0, len(shippedOrders))
	for _, so := range shippedOrders {
		orders = append(orders, so.order)
		froms = append(froms, so.from)
	}
	s.afterDispatch(ctx, &shipment, orders, froms)
	return nil
}

// afterDispatch publishes the dispatch event and indexes the shipment for
// the TMS dashboards. Both run after commit and are best effort.
func (s *ShipmentService) afterDispatch(ctx context.Context, shipment *models.Shipment, orders []models.Order, froms []models.OrderStatus) {
	if s.publisher != nil {
		orderIDs := make([]string, 0, len(orders))
		for _, order := range orders {
			orderIDs = append(orderIDs, order.ID.String())
		}
		event := messaging.Event{
			Type:           messaging.EventShipmentDispatched,
			OrganizationID: shipment.OrganizationID,
			Payload: map[string]interface{}{
				"shipment_id":     shipment.ID.String(),
				"shipment_number": shipment.ShipmentNumber,
				"order_ids":       orderIDs,
				"carrier_ref":     shipment.CarrierRef,
			},
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("shipment_id", shipment.ID.String()).Msg("Failed to publish dispatch event")
		}
	}

	if s.search != nil {
		if err := s.search.IndexShipment(ctx, shipment); err != nil {
			log.Warn().Err(err).Str("shipment_id", shipment.ID.String()).Msg("Failed to index shipment")
		}
	}

	for i := range orders {
		publishOrderStatusChanged(ctx, s.publisher, &orders[i], froms[i])
	}
}

// SearchDispatched queries the shipment index. Optional status and carrier
// filters narrow the result; the index only holds dispatched shipments.
func (s *ShipmentService) SearchDispatched(ctx context.Context, organizationID uuid.UUID, status, carrierRef string) ([]map[string]interface{}, error) {
	if s.search == nil {
		return nil, errors.New("shipment search is not configured")
	}

	must := []map[string]interface{}{
		{"term": map[string]interface{}{"organization_id": organizationID.String()}},
	}
	if status != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"status": status}})
	}
	if carrierRef != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"carrier_ref": carrierRef}})
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}
	return s.search.SearchShipments(ctx, query)
}

// Deliver closes the shipment and its orders
func (s *ShipmentService) Deliver(ctx context.Context, shipmentID uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var shipment models.Shipment
		if err := lockForUpdate(tx.WithContext(ctx)).
			Preload("Lines").
			First(&shipment, "id = ?", shipmentID).Error; err != nil {
			return errors.Wrapf(err, "failed to load shipment %s", shipmentID)
		}

		if err := transitionShipment(ctx, tx, &shipment, models.ShipmentStatusDelivered); err != nil {
			return err
		}

		orderIDs := make(map[uuid.UUID]bool)
		for _, line := range shipment.Lines {
			orderIDs[line.OrderID] = true
		}
		for orderID := range orderIDs {
			var order models.Order
			if err := lockForUpdate(tx.WithContext(ctx)).First(&order, "id = ?", orderID).Error; err != nil {
				return errors.Wrapf(err, "failed to load order %s", orderID)
			}
			if err := transitionOrder(ctx, tx, &order, models.OrderStatusDelivered); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.IncrementCounter("shipments_delivered")
	log.Info().Str("shipment_id", shipmentID.String()).Msg("Shipment delivered")
	return nil
}
