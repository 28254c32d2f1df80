package services

import (
	"context"
	"testing"
	"time"

	"example.com/logistics/services/fulfillment/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestComputeShortagesNetsSupply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	f.receiveStock(t, item.ID, 15, time.Now().UTC())

	f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 40})

	requirements, err := f.planning.ComputeShortages(ctx, f.org.ID, nil)
	require.NoError(t, err)
	require.Len(t, requirements, 1)

	req := requirements[0]
	require.Equal(t, item.ID, req.ItemID)
	require.Equal(t, int64(40), req.Required)
	require.Equal(t, int64(15), req.OnHand)
	require.Zero(t, req.OnOrder)
	require.Equal(t, int64(25), req.Shortage)
	require.Contains(t, req.Suggestion, "purchase order")
}

func TestComputeShortagesCountsOpenPurchaseOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	po := models.PurchaseOrder{
		ID:             uuid.New(),
		OrganizationID: f.org.ID,
		PONumber:       "PO-2001",
		Status:         models.PurchaseOrderStatusIssued,
		Lines: []models.PurchaseOrderLine{{
			ID:               uuid.New(),
			ItemID:           item.ID,
			QuantityOrdered:  30,
			QuantityReceived: 10,
		}},
	}
	require.NoError(t, f.db.Create(&po).Error)

	f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 50})

	requirements, err := f.planning.ComputeShortages(ctx, f.org.ID, nil)
	require.NoError(t, err)
	require.Len(t, requirements, 1)

	// 50 demanded, 0 on hand, 20 still inbound on the PO.
	require.Equal(t, int64(20), requirements[0].OnOrder)
	require.Equal(t, int64(30), requirements[0].Shortage)
}

func TestComputeShortagesExplodesComponents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bike := f.createItem(t, "BIKE", models.ItemTypeMake)
	wheel := f.createItem(t, "WHEEL", models.ItemTypeBuy)
	f.bomLine(t, bike, wheel, 2)

	f.createOrder(t, CreateOrderLineInput{ItemID: bike.ID, Quantity: 5})

	requirements, err := f.planning.ComputeShortages(ctx, f.org.ID, nil)
	require.NoError(t, err)
	require.Len(t, requirements, 2)

	// Sorted by SKU: BIKE before WHEEL.
	require.Equal(t, "BIKE", requirements[0].SKU)
	require.Equal(t, int64(5), requirements[0].Required)
	require.Contains(t, requirements[0].Suggestion, "production order")

	require.Equal(t, "WHEEL", requirements[1].SKU)
	require.Equal(t, int64(10), requirements[1].Required)
}

func TestComputeShortagesIgnoresAllocatedDemand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	f.allocatedOrder(t, item, 20)

	// Fully allocated lines carry no residual demand.
	requirements, err := f.planning.ComputeShortages(ctx, f.org.ID, nil)
	require.NoError(t, err)
	require.Empty(t, requirements)
}

func TestComputeShortagesSkipsObsoleteItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	require.NoError(t, f.db.Model(&models.Item{}).
		Where("id = ?", item.ID).
		Update("lifecycle_status", models.ItemStatusObsolete).Error)

	f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 10})

	requirements, err := f.planning.ComputeShortages(ctx, f.org.ID, nil)
	require.NoError(t, err)
	require.Empty(t, requirements)
}

func TestComputeShortagesHonorsMinOrderQty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	require.NoError(t, f.db.Model(&models.Item{}).
		Where("id = ?", item.ID).
		Update("min_order_qty", 100).Error)

	f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 10})

	requirements, err := f.planning.ComputeShortages(ctx, f.org.ID, nil)
	require.NoError(t, err)
	require.Len(t, requirements, 1)
	require.Contains(t, requirements[0].Suggestion, "100 units")
}

func TestComputeShortagesHoldsBackSafetyStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	require.NoError(t, f.db.Model(&models.Item{}).
		Where("id = ?", item.ID).
		Update("safety_stock", 5).Error)
	f.receiveStock(t, item.ID, 20, time.Now().UTC())

	f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 18})

	// 18 demanded against 20 on hand would cover, but 5 of those units are
	// safety stock.
	requirements, err := f.planning.ComputeShortages(ctx, f.org.ID, nil)
	require.NoError(t, err)
	require.Len(t, requirements, 1)
	require.Equal(t, int64(3), requirements[0].Shortage)
	require.Equal(t, int64(20), requirements[0].OnHand)
}

func TestComputeShortagesScopedToOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 10})

	other := models.Organization{ID: uuid.New(), Name: "Other Tenant"}
	require.NoError(t, f.db.Create(&other).Error)

	requirements, err := f.planning.ComputeShortages(ctx, other.ID, nil)
	require.NoError(t, err)
	require.Empty(t, requirements)
}
