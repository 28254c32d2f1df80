package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/logistics/services/fulfillment/internal/models"
)

// LedgerService is the ground truth for stock. Every mutation of on-hand or
// reserved quantities goes through it, always on the transaction handle the
// caller passes in, so ledger writes commit or roll back together with the
// order and allocation writes around them.
type LedgerService struct {
	db *gorm.DB
}

// NewLedgerService creates a new inventory ledger service
func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// ReceiveInput describes a stock receipt into one location
type ReceiveInput struct {
	OrganizationID uuid.UUID
	ItemID         uuid.UUID
	WarehouseID    uuid.UUID
	LocationID     uuid.UUID
	LotNumber      string
	Quantity       int64
	ReceivedAt     time.Time
}

// lockForUpdate adds a row lock where the dialect supports one. The sqlite
// driver used in tests is single-writer, so the lock clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// GetAvailable returns the total unreserved quantity for an item at a
// warehouse. Read-only.
func (s *LedgerService) GetAvailable(ctx context.Context, itemID, warehouseID uuid.UUID) (int64, error) {
	var available int64
	err := s.db.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Select("COALESCE(SUM(quantity_on_hand - quantity_reserved), 0)").
		Where("item_id = ? AND warehouse_id = ?", itemID, warehouseID).
		Scan(&available).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum available inventory")
	}
	return available, nil
}

// Receive books a new lot into the ledger. ReceivedAt is required because it
// drives FIFO ordering at allocation time.
func (s *LedgerService) Receive(ctx context.Context, tx *gorm.DB, input ReceiveInput) (*models.InventoryRecord, error) {
	if tx == nil {
		tx = s.db
	}
	if input.Quantity <= 0 {
		return nil, errors.Wrapf(ErrInvalidQuantity, "cannot receive %d units", input.Quantity)
	}

	record := &models.InventoryRecord{
		ID:             uuid.New(),
		OrganizationID: input.OrganizationID,
		ItemID:         input.ItemID,
		WarehouseID:    input.WarehouseID,
		LocationID:     input.LocationID,
		LotNumber:      input.LotNumber,
		QuantityOnHand: input.Quantity,
		ReceivedAt:     input.ReceivedAt,
	}

	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return nil, errors.Wrap(err, "failed to create inventory record")
	}

	log.Info().
		Str("item_id", input.ItemID.String()).
		Str("warehouse_id", input.WarehouseID.String()).
		Int64("quantity", input.Quantity).
		Msg("Inventory received")

	return record, nil
}

// Reserve increments the reserved quantity on one lot. Fails with
// ErrInsufficientStock if the reservation would exceed on hand.
func (s *LedgerService) Reserve(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, quantity int64) error {
	if quantity <= 0 {
		return errors.Wrapf(ErrInvalidQuantity, "cannot reserve %d units", quantity)
	}

	var record models.InventoryRecord
	if err := lockForUpdate(tx.WithContext(ctx)).First(&record, "id = ?", recordID).Error; err != nil {
		return errors.Wrap(err, "failed to load inventory record for reserve")
	}

	if record.QuantityReserved+quantity > record.QuantityOnHand {
		return errors.Wrapf(ErrInsufficientStock,
			"reserve %d exceeds available %d on lot %s", quantity, record.QuantityAvailable(), recordID)
	}

	err := tx.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("id = ?", recordID).
		Update("quantity_reserved", gorm.Expr("quantity_reserved + ?", quantity)).Error
	if err != nil {
		return errors.Wrap(err, "failed to increment reserved quantity")
	}

	return nil
}

// Release returns previously reserved quantity to available. Fails with
// ErrInvalidState if it would drive the reserved quantity negative.
func (s *LedgerService) Release(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, quantity int64) error {
	if quantity <= 0 {
		return errors.Wrapf(ErrInvalidQuantity, "cannot release %d units", quantity)
	}

	var record models.InventoryRecord
	if err := lockForUpdate(tx.WithContext(ctx)).First(&record, "id = ?", recordID).Error; err != nil {
		return errors.Wrap(err, "failed to load inventory record for release")
	}

	if record.QuantityReserved-quantity < 0 {
		return errors.Wrapf(ErrInvalidState,
			"release %d exceeds reserved %d on lot %s", quantity, record.QuantityReserved, recordID)
	}

	err := tx.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("id = ?", recordID).
		Update("quantity_reserved", gorm.Expr("quantity_reserved - ?", quantity)).Error
	if err != nil {
		return errors.Wrap(err, "failed to decrement reserved quantity")
	}

	return nil
}

// Consume removes reserved stock from the ledger at shipment dispatch,
// decrementing on hand and reserved together. The quantity must have been
// reserved first.
func (s *LedgerService) Consume(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, quantity int64) error {
	if quantity <= 0 {
		return errors.Wrapf(ErrInvalidQuantity, "cannot consume %d units", quantity)
	}

	var record models.InventoryRecord
	if err := lockForUpdate(tx.WithContext(ctx)).First(&record, "id = ?", recordID).Error; err != nil {
		return errors.Wrap(err, "failed to load inventory record for consume")
	}

	if record.QuantityReserved < quantity {
		return errors.Wrapf(ErrInvalidState,
			"consume %d exceeds reserved %d on lot %s", quantity, record.QuantityReserved, recordID)
	}

	err := tx.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"quantity_on_hand":  gorm.Expr("quantity_on_hand - ?", quantity),
			"quantity_reserved": gorm.Expr("quantity_reserved - ?", quantity),
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to consume inventory")
	}

	return nil
}

// ReceivePurchaseOrderLine books a PO receipt: increments the line's received
// quantity, closes it when fully received, and puts the stock on hand, all in
// one transaction.
func (s *LedgerService) ReceivePurchaseOrderLine(ctx context.Context, poLineID uuid.UUID, warehouseID, locationID uuid.UUID, quantity int64, receivedAt time.Time) (*models.InventoryRecord, error) {
	if quantity <= 0 {
		return nil, errors.Wrapf(ErrInvalidQuantity, "cannot receive %d units", quantity)
	}

	var record *models.InventoryRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var line models.PurchaseOrderLine
		if err := lockForUpdate(tx.WithContext(ctx)).
			Preload("PurchaseOrder").
			First(&line, "id = ?", poLineID).Error; err != nil {
			return errors.Wrap(err, "failed to load purchase order line")
		}

		line.QuantityReceived += quantity
		if line.QuantityReceived >= line.QuantityOrdered {
			line.Status = "RECEIVED"
		}
		if err := tx.WithContext(ctx).Save(&line).Error; err != nil {
			return errors.Wrap(err, "failed to update purchase order line")
		}

		var err error
		record, err = s.Receive(ctx, tx, ReceiveInput{
			OrganizationID: line.PurchaseOrder.OrganizationID,
			ItemID:         line.ItemID,
			WarehouseID:    warehouseID,
			LocationID:     locationID,
			LotNumber:      line.PurchaseOrder.PONumber,
			Quantity:       quantity,
			ReceivedAt:     receivedAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("po_line_id", poLineID.String()).
		Int64("quantity", quantity).
		Msg("Purchase order receipt booked")

	return record, nil
}
