package services

import (
	"context"
	"testing"
	"time"

	"example.com/logistics/services/fulfillment/internal/metrics"
	"example.com/logistics/services/fulfillment/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Every new connection to :memory: is a fresh empty database, so the
	// pool must stay on a single connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.SetupModels(db))

	return db
}

// fixture wires a full service graph over one in-memory database and seeds
// the tenant scaffolding every scenario needs.
type fixture struct {
	db        *gorm.DB
	ledger    *LedgerService
	bom       *BOMService
	orders    *OrderService
	allocator *AllocationService
	planning  *PlanningService
	shipments *ShipmentService

	org       models.Organization
	warehouse models.Warehouse
	location  models.StorageLocation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	collector := metrics.NewMetrics()
	ledger := NewLedgerService(db)
	bom := NewBOMService(db, DefaultBOMMaxDepth)
	shipments := NewShipmentService(db, ledger, collector, nil, nil)

	f := &fixture{
		db:        db,
		ledger:    ledger,
		bom:       bom,
		orders:    NewOrderService(db, ledger, collector, nil, nil),
		allocator: NewAllocationService(db, ledger, collector, nil),
		planning:  NewPlanningService(db, bom, nil, nil),
		shipments: shipments,
	}

	f.org = models.Organization{ID: uuid.New(), Name: "Acme Logistics"}
	require.NoError(t, db.Create(&f.org).Error)

	f.warehouse = models.Warehouse{
		ID:             uuid.New(),
		OrganizationID: f.org.ID,
		Code:           "WH1",
		Name:           "Main Warehouse",
	}
	require.NoError(t, db.Create(&f.warehouse).Error)

	f.location = models.StorageLocation{
		ID:          uuid.New(),
		WarehouseID: f.warehouse.ID,
		Code:        "A-01-01",
		Zone:        "A",
	}
	require.NoError(t, db.Create(&f.location).Error)

	return f
}

func (f *fixture) createItem(t *testing.T, sku string, itemType models.ItemType) models.Item {
	t.Helper()

	item := models.Item{
		ID:             uuid.New(),
		OrganizationID: f.org.ID,
		SKU:            sku,
		Name:           "Item " + sku,
		Type:           itemType,
		Cost:           decimal.NewFromInt(10),
		WeightKg:       2,
	}
	require.NoError(t, f.db.Create(&item).Error)
	return item
}

func (f *fixture) receiveStock(t *testing.T, itemID uuid.UUID, quantity int64, receivedAt time.Time) *models.InventoryRecord {
	t.Helper()

	record, err := f.ledger.Receive(context.Background(), nil, ReceiveInput{
		OrganizationID: f.org.ID,
		ItemID:         itemID,
		WarehouseID:    f.warehouse.ID,
		LocationID:     f.location.ID,
		Quantity:       quantity,
		ReceivedAt:     receivedAt,
	})
	require.NoError(t, err)
	return record
}

func (f *fixture) createOrder(t *testing.T, lines ...CreateOrderLineInput) *models.Order {
	t.Helper()

	order, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		OrganizationID: f.org.ID,
		OrderNumber:    "ORD-" + uuid.New().String()[:8],
		CustomerID:     uuid.New(),
		Lines:          lines,
	})
	require.NoError(t, err)
	return order
}

// allocatedOrder creates an order for the given quantity with enough stock
// behind it and runs a full allocation.
func (f *fixture) allocatedOrder(t *testing.T, item models.Item, quantity int64) *models.Order {
	t.Helper()

	f.receiveStock(t, item.ID, quantity, time.Now().UTC())
	order := f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: quantity})

	result, err := f.allocator.Allocate(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, result.FullyAllocated)

	order.Status = result.Status
	return order
}

func (f *fixture) inventoryRecord(t *testing.T, recordID uuid.UUID) models.InventoryRecord {
	t.Helper()

	var record models.InventoryRecord
	require.NoError(t, f.db.First(&record, "id = ?", recordID).Error)
	return record
}

func (f *fixture) orderStatus(t *testing.T, orderID uuid.UUID) models.OrderStatus {
	t.Helper()

	var order models.Order
	require.NoError(t, f.db.First(&order, "id = ?", orderID).Error)
	return order.Status
}
