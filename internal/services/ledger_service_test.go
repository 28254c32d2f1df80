package services

import (
	"context"
	"testing"
	"time"

	"example.com/logistics/services/fulfillment/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestReceiveRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	_, err := f.ledger.Receive(context.Background(), nil, ReceiveInput{
		OrganizationID: f.org.ID,
		ItemID:         item.ID,
		WarehouseID:    f.warehouse.ID,
		LocationID:     f.location.ID,
		Quantity:       0,
		ReceivedAt:     time.Now().UTC(),
	})
	require.True(t, errors.Is(err, ErrInvalidQuantity))

	available, err := f.ledger.GetAvailable(context.Background(), item.ID, f.warehouse.ID)
	require.NoError(t, err)
	require.Zero(t, available)
}

func TestReserveReleaseConsumeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	record := f.receiveStock(t, item.ID, 100, time.Now().UTC())

	require.NoError(t, f.ledger.Reserve(ctx, f.db, record.ID, 60))

	got := f.inventoryRecord(t, record.ID)
	require.Equal(t, int64(100), got.QuantityOnHand)
	require.Equal(t, int64(60), got.QuantityReserved)
	require.Equal(t, int64(40), got.QuantityAvailable())

	available, err := f.ledger.GetAvailable(ctx, item.ID, f.warehouse.ID)
	require.NoError(t, err)
	require.Equal(t, int64(40), available)

	require.NoError(t, f.ledger.Release(ctx, f.db, record.ID, 20))
	require.NoError(t, f.ledger.Consume(ctx, f.db, record.ID, 40))

	got = f.inventoryRecord(t, record.ID)
	require.Equal(t, int64(60), got.QuantityOnHand)
	require.Zero(t, got.QuantityReserved)
}

func TestReserveCannotExceedOnHand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	record := f.receiveStock(t, item.ID, 10, time.Now().UTC())

	require.NoError(t, f.ledger.Reserve(ctx, f.db, record.ID, 8))

	err := f.ledger.Reserve(ctx, f.db, record.ID, 5)
	require.True(t, errors.Is(err, ErrInsufficientStock))

	// The failed reserve must not have moved anything.
	got := f.inventoryRecord(t, record.ID)
	require.Equal(t, int64(8), got.QuantityReserved)
}

func TestReleaseCannotGoNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	record := f.receiveStock(t, item.ID, 10, time.Now().UTC())

	require.NoError(t, f.ledger.Reserve(ctx, f.db, record.ID, 3))

	err := f.ledger.Release(ctx, f.db, record.ID, 5)
	require.True(t, errors.Is(err, ErrInvalidState))
}

func TestConsumeRequiresReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	record := f.receiveStock(t, item.ID, 10, time.Now().UTC())

	err := f.ledger.Consume(ctx, f.db, record.ID, 5)
	require.True(t, errors.Is(err, ErrInvalidState))

	got := f.inventoryRecord(t, record.ID)
	require.Equal(t, int64(10), got.QuantityOnHand)
}

func TestGetAvailableSumsAcrossLots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	now := time.Now().UTC()
	first := f.receiveStock(t, item.ID, 30, now.Add(-48*time.Hour))
	f.receiveStock(t, item.ID, 70, now)

	require.NoError(t, f.ledger.Reserve(ctx, f.db, first.ID, 10))

	available, err := f.ledger.GetAvailable(ctx, item.ID, f.warehouse.ID)
	require.NoError(t, err)
	require.Equal(t, int64(90), available)
}

func TestReceivePurchaseOrderLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	po := models.PurchaseOrder{
		ID:             uuid.New(),
		OrganizationID: f.org.ID,
		PONumber:       "PO-1001",
		Status:         models.PurchaseOrderStatusIssued,
		Lines: []models.PurchaseOrderLine{{
			ID:              uuid.New(),
			ItemID:          item.ID,
			QuantityOrdered: 50,
		}},
	}
	require.NoError(t, f.db.Create(&po).Error)

	record, err := f.ledger.ReceivePurchaseOrderLine(ctx, po.Lines[0].ID, f.warehouse.ID, f.location.ID, 20, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(20), record.QuantityOnHand)
	require.Equal(t, "PO-1001", record.LotNumber)

	var line models.PurchaseOrderLine
	require.NoError(t, f.db.First(&line, "id = ?", po.Lines[0].ID).Error)
	require.Equal(t, int64(20), line.QuantityReceived)
	require.Equal(t, int64(30), line.QuantityRemaining())

	// Receiving the remainder closes the line.
	_, err = f.ledger.ReceivePurchaseOrderLine(ctx, po.Lines[0].ID, f.warehouse.ID, f.location.ID, 30, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, f.db.First(&line, "id = ?", po.Lines[0].ID).Error)
	require.Equal(t, "RECEIVED", line.Status)
	require.Zero(t, line.QuantityRemaining())

	available, err := f.ledger.GetAvailable(ctx, item.ID, f.warehouse.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50), available)
}
