package services

import (
	"context"
	"testing"
	"time"

	"example.com/logistics/services/fulfillment/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newStagingFixture(t *testing.T) (*fixture, *StagingService) {
	t.Helper()
	f := newFixture(t)
	staging := NewStagingService(f.db, f.shipments, nil, time.Hour, 2*time.Hour)
	return f, staging
}

// stagedOrder walks a fully allocated order through the warehouse into
// STAGED and backdates its staging timestamp.
func (f *fixture) stagedOrder(t *testing.T, item models.Item, quantity int64, stagedFor time.Duration) *models.Order {
	t.Helper()
	ctx := context.Background()

	order := f.allocatedOrder(t, item, quantity)
	_, err := f.orders.ReleaseToWarehouse(ctx, order.ID)
	require.NoError(t, err)

	var tasks []models.PickTask
	require.NoError(t, f.db.Find(&tasks, "order_id = ?", order.ID).Error)
	for _, task := range tasks {
		require.NoError(t, f.orders.CompletePickTask(ctx, task.ID))
	}
	require.NoError(t, f.orders.StageOrder(ctx, order.ID))

	stagedAt := time.Now().UTC().Add(-stagedFor)
	require.NoError(t, f.db.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("staged_at", stagedAt).Error)

	return order
}

func TestScanGradesAlerts(t *testing.T) {
	f, staging := newStagingFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	fresh := f.stagedOrder(t, item, 5, 30*time.Minute)
	warning := f.stagedOrder(t, item, 5, 90*time.Minute)
	critical := f.stagedOrder(t, item, 5, 3*time.Hour)

	alerts, err := staging.Scan(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	byOrder := make(map[uuid.UUID]StagingAlert)
	for _, alert := range alerts {
		byOrder[alert.OrderID] = alert
	}
	require.NotContains(t, byOrder, fresh.ID)
	require.Equal(t, AlertLevelWarning, byOrder[warning.ID].Level)
	require.Equal(t, AlertLevelCritical, byOrder[critical.ID].Level)
}

func TestStagingMetrics(t *testing.T) {
	f, staging := newStagingFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	f.stagedOrder(t, item, 5, 30*time.Minute)
	f.stagedOrder(t, item, 5, 90*time.Minute)
	f.stagedOrder(t, item, 5, 3*time.Hour)

	stagingMetrics, err := staging.Metrics(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 3, stagingMetrics.TotalOrders)
	require.Equal(t, 1, stagingMetrics.WarningCount)
	require.Equal(t, 1, stagingMetrics.CriticalCount)
	require.Greater(t, stagingMetrics.AverageTimeInStaging, time.Hour)
}

func TestProcessAlertWarningDoesNotDispatch(t *testing.T) {
	f, staging := newStagingFixture(t)
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.stagedOrder(t, item, 5, 90*time.Minute)

	alerts, err := staging.Scan(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	result := staging.ProcessAlert(context.Background(), alerts[0])
	require.False(t, result.Dispatched)
	require.Empty(t, result.Error)

	require.Equal(t, models.OrderStatusStaged, f.orderStatus(t, order.ID))
}

func TestProcessAlertCriticalDispatches(t *testing.T) {
	f, staging := newStagingFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.stagedOrder(t, item, 5, 3*time.Hour)

	alerts, err := staging.Scan(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	result := staging.ProcessAlert(ctx, alerts[0])
	require.True(t, result.Dispatched)
	require.Empty(t, result.Error)

	require.Equal(t, models.OrderStatusShipped, f.orderStatus(t, order.ID))
}

func TestProcessAlertReusesPlannedShipment(t *testing.T) {
	f, staging := newStagingFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)
	order := f.stagedOrder(t, item, 5, 3*time.Hour)

	shipment, err := f.shipments.CreateFromAllocatedOrders(ctx, CreateShipmentInput{
		OrderIDs: []uuid.UUID{order.ID},
	})
	require.NoError(t, err)

	alerts, err := staging.Scan(ctx, time.Now().UTC())
	require.NoError(t, err)

	result := staging.ProcessAlert(ctx, alerts[0])
	require.True(t, result.Dispatched)

	loaded, err := f.shipments.GetShipment(ctx, shipment.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusInTransit, loaded.Status)

	var count int64
	require.NoError(t, f.db.Model(&models.Shipment{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestProcessAllAlertsCollectsFailures(t *testing.T) {
	f, staging := newStagingFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "SKU-001", models.ItemTypeBuy)

	healthy := f.stagedOrder(t, item, 5, 3*time.Hour)
	stuck := f.stagedOrder(t, item, 5, 3*time.Hour)

	// Consume the stuck order's reservation behind its back so its
	// dispatch cannot succeed.
	var allocation models.Allocation
	require.NoError(t, f.db.First(&allocation, "order_id = ?", stuck.ID).Error)
	require.NoError(t, f.db.Model(&models.Allocation{}).
		Where("id = ?", allocation.ID).
		Update("status", models.AllocationStatusReleased).Error)

	results, err := staging.ProcessAllAlerts(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byOrder := make(map[uuid.UUID]AlertResult)
	for _, result := range results {
		byOrder[result.OrderID] = result
	}

	require.True(t, byOrder[healthy.ID].Dispatched)
	require.Empty(t, byOrder[healthy.ID].Error)

	// The failure is reported, not swallowed, and does not stop the batch.
	require.False(t, byOrder[stuck.ID].Dispatched)
	require.NotEmpty(t, byOrder[stuck.ID].Error)
}
