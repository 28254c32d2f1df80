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

func TestCreateOrderRequiresLines(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		OrganizationID: f.org.ID,
		OrderNumber:    "ORD-EMPTY",
	})
	require.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestCreateOrderRejectsNonPositiveLineQuantity(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{
		OrganizationID: f.org.ID,
		OrderNumber:    "ORD-BAD",
		Lines:          []CreateOrderLineInput{{ItemID: item.ID, Quantity: -1}},
	})
	require.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestCreateOrderStartsReceived(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	order := f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 5})
	require.Equal(t, models.OrderStatusReceived, order.Status)

	loaded, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	require.Equal(t, int64(5), loaded.Lines[0].QuantityOrdered)
	require.Zero(t, loaded.Lines[0].QuantityAllocated)
}

func TestReleaseToWarehouseCreatesPickTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.allocatedOrder(t, item, 20)

	taskCount, err := f.orders.ReleaseToWarehouse(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, taskCount)
	require.Equal(t, models.OrderStatusPicking, f.orderStatus(t, order.ID))

	var task models.PickTask
	require.NoError(t, f.db.First(&task, "order_id = ?", order.ID).Error)
	require.Equal(t, models.PickTaskStatusPending, task.Status)
	require.Equal(t, f.location.ID, task.LocationID)
	require.Equal(t, int64(20), task.Quantity)
}

func TestReleaseToWarehouseSplitsTasksAcrossLots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	locationB := models.StorageLocation{
		ID:          uuid.New(),
		WarehouseID: f.warehouse.ID,
		Code:        "B-02-01",
		Zone:        "B",
	}
	require.NoError(t, f.db.Create(&locationB).Error)

	// Two lots of 5 in different bins; the order needs both.
	f.receiveStock(t, item.ID, 5, time.Now().UTC().Add(-time.Hour))
	_, err := f.ledger.Receive(ctx, nil, ReceiveInput{
		OrganizationID: f.org.ID,
		ItemID:         item.ID,
		WarehouseID:    f.warehouse.ID,
		LocationID:     locationB.ID,
		Quantity:       5,
		ReceivedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	order := f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 10})
	result, err := f.allocator.Allocate(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, result.FullyAllocated)

	taskCount, err := f.orders.ReleaseToWarehouse(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 2, taskCount)

	// Each task must send the picker to its own lot's bin for no more than
	// that lot holds.
	var tasks []models.PickTask
	require.NoError(t, f.db.Where("order_id = ?", order.ID).Find(&tasks).Error)
	require.Len(t, tasks, 2)

	quantityByLocation := make(map[uuid.UUID]int64)
	for _, task := range tasks {
		quantityByLocation[task.LocationID] += task.Quantity
	}
	require.Equal(t, int64(5), quantityByLocation[f.location.ID])
	require.Equal(t, int64(5), quantityByLocation[locationB.ID])
}

func TestReleaseToWarehouseRequiresAllocated(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 5})

	_, err := f.orders.ReleaseToWarehouse(context.Background(), order.ID)
	require.True(t, errors.Is(err, ErrIllegalTransition))
	require.Equal(t, models.OrderStatusReceived, f.orderStatus(t, order.ID))
}

func TestCompletePickTasksAdvancesToPacked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	second := f.createItem(t, "SKU-002", models.ItemTypeBuy)
	f.receiveStock(t, first.ID, 50, time.Now().UTC())
	f.receiveStock(t, second.ID, 50, time.Now().UTC())

	order := f.createOrder(t,
		CreateOrderLineInput{ItemID: first.ID, Quantity: 10},
		CreateOrderLineInput{ItemID: second.ID, Quantity: 10},
	)
	_, err := f.allocator.Allocate(ctx, order.ID)
	require.NoError(t, err)

	taskCount, err := f.orders.ReleaseToWarehouse(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 2, taskCount)

	var tasks []models.PickTask
	require.NoError(t, f.db.Find(&tasks, "order_id = ?", order.ID).Error)
	require.Len(t, tasks, 2)

	require.NoError(t, f.orders.CompletePickTask(ctx, tasks[0].ID))
	require.Equal(t, models.OrderStatusPicking, f.orderStatus(t, order.ID))

	require.NoError(t, f.orders.CompletePickTask(ctx, tasks[1].ID))
	require.Equal(t, models.OrderStatusPacked, f.orderStatus(t, order.ID))

	// Completing the same task twice is rejected.
	err = f.orders.CompletePickTask(ctx, tasks[0].ID)
	require.True(t, errors.Is(err, ErrInvalidState))
}

func TestStageOrderStampsStagedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.allocatedOrder(t, item, 10)

	_, err := f.orders.ReleaseToWarehouse(ctx, order.ID)
	require.NoError(t, err)

	var task models.PickTask
	require.NoError(t, f.db.First(&task, "order_id = ?", order.ID).Error)
	require.NoError(t, f.orders.CompletePickTask(ctx, task.ID))

	require.NoError(t, f.orders.StageOrder(ctx, order.ID))

	var staged models.Order
	require.NoError(t, f.db.First(&staged, "id = ?", order.ID).Error)
	require.Equal(t, models.OrderStatusStaged, staged.Status)
	require.NotNil(t, staged.StagedAt)
}

func TestStageOrderRequiresPacked(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 5})

	err := f.orders.StageOrder(context.Background(), order.ID)
	require.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestCancelOrderReleasesReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	record := f.receiveStock(t, item.ID, 100, time.Now().UTC())

	order := f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 40})
	_, err := f.allocator.Allocate(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(40), f.inventoryRecord(t, record.ID).QuantityReserved)

	require.NoError(t, f.orders.CancelOrder(ctx, order.ID))

	require.Equal(t, models.OrderStatusCancelled, f.orderStatus(t, order.ID))
	require.Zero(t, f.inventoryRecord(t, record.ID).QuantityReserved)

	var allocation models.Allocation
	require.NoError(t, f.db.First(&allocation, "order_id = ?", order.ID).Error)
	require.Equal(t, models.AllocationStatusReleased, allocation.Status)

	var line models.OrderLine
	require.NoError(t, f.db.First(&line, "order_id = ?", order.ID).Error)
	require.Zero(t, line.QuantityAllocated)
}

func TestCancelOrderRemovesPendingPickTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.allocatedOrder(t, item, 10)

	_, err := f.orders.ReleaseToWarehouse(ctx, order.ID)
	require.NoError(t, err)

	require.NoError(t, f.orders.CancelOrder(ctx, order.ID))

	var count int64
	require.NoError(t, f.db.Model(&models.PickTask{}).Where("order_id = ?", order.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestCancelOrderRejectedAfterShipping(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.createOrder(t, CreateOrderLineInput{ItemID: item.ID, Quantity: 5})

	require.NoError(t, f.db.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("status", models.OrderStatusShipped).Error)

	err := f.orders.CancelOrder(context.Background(), order.ID)
	require.True(t, errors.Is(err, ErrIllegalTransition))
}
