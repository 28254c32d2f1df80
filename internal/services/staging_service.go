package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"example.com/logistics/services/fulfillment/internal/messaging"
	"example.com/logistics/services/fulfillment/internal/models"
)

// AlertLevel grades how long an order has been stuck in staging
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// StagingAlert is derived on every scan from order state; it is never
// persisted, so it cannot drift from the source of truth.
type StagingAlert struct {
	OrderID          uuid.UUID     `json:"order_id"`
	OrderNumber      string        `json:"order_number"`
	OrganizationID   uuid.UUID     `json:"organization_id"`
	EnteredStagingAt time.Time     `json:"entered_staging_at"`
	TimeInStaging    time.Duration `json:"time_in_staging"`
	Level            AlertLevel    `json:"level"`
}

// AlertResult reports the outcome of processing one alert
type AlertResult struct {
	OrderID    uuid.UUID `json:"order_id"`
	Dispatched bool      `json:"dispatched"`
	Error      string    `json:"error,omitempty"`
}

// StagingMetrics summarizes the staging lane for dashboards
type StagingMetrics struct {
	TotalOrders          int           `json:"total_orders"`
	AverageTimeInStaging time.Duration `json:"average_time_in_staging"`
	WarningCount         int           `json:"warning_count"`
	CriticalCount        int           `json:"critical_count"`
}

// StagingService watches orders sitting in STAGED past configured
// thresholds and force-dispatches the critically stuck ones.
type StagingService struct {
	db                *gorm.DB
	shipments         *ShipmentService
	publisher         messaging.Publisher
	warningThreshold  time.Duration
	criticalThreshold time.Duration
}

// NewStagingService creates a new staging monitor
func NewStagingService(db *gorm.DB, shipments *ShipmentService, publisher messaging.Publisher, warningThreshold, criticalThreshold time.Duration) *StagingService {
	return &StagingService{
		db:                db,
		shipments:         shipments,
		publisher:         publisher,
		warningThreshold:  warningThreshold,
		criticalThreshold: criticalThreshold,
	}
}

// Scan returns an alert for every STAGED order that has exceeded the warning
// threshold, graded critical past the second threshold. Read-only.
func (s *StagingService) Scan(ctx context.Context, now time.Time) ([]StagingAlert, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("status = ? AND staged_at IS NOT NULL", models.OrderStatusStaged).
		Order("staged_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load staged orders")
	}

	var alerts []StagingAlert
	for _, order := range orders {
		elapsed := now.Sub(*order.StagedAt)
		if elapsed < s.warningThreshold {
			continue
		}

		level := AlertLevelWarning
		if elapsed >= s.criticalThreshold {
			level = AlertLevelCritical
		}

		alerts = append(alerts, StagingAlert{
			OrderID:          order.ID,
			OrderNumber:      order.OrderNumber,
			OrganizationID:   order.OrganizationID,
			EnteredStagingAt: *order.StagedAt,
			TimeInStaging:    elapsed,
			Level:            level,
		})
	}

	log.Info().
		Int("alerts", len(alerts)).
		Msg("Staging scan complete")

	return alerts, nil
}

// Metrics aggregates the staging lane at a point in time. Read-only.
func (s *StagingService) Metrics(ctx context.Context, now time.Time) (*StagingMetrics, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("status = ? AND staged_at IS NOT NULL", models.OrderStatusStaged).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load staged orders")
	}

	result := &StagingMetrics{TotalOrders: len(orders)}
	var total time.Duration
	for _, order := range orders {
		elapsed := now.Sub(*order.StagedAt)
		total += elapsed
		switch {
		case elapsed >= s.criticalThreshold:
			result.CriticalCount++
		case elapsed >= s.warningThreshold:
			result.WarningCount++
		}
	}
	if len(orders) > 0 {
		result.AverageTimeInStaging = total / time.Duration(len(orders))
	}
	return result, nil
}

// ProcessAlert handles one alert. Warnings are surfaced only; a critical
// alert force-dispatches the stuck order via the shipment builder, reusing
// an existing planned shipment when one already covers the order.
func (s *StagingService) ProcessAlert(ctx context.Context, alert StagingAlert) AlertResult {
	s.publishAlert(ctx, alert)

	if alert.Level != AlertLevelCritical {
		return AlertResult{OrderID: alert.OrderID}
	}

	shipmentID, err := s.shipmentForOrder(ctx, alert.OrderID)
	if err != nil {
		return AlertResult{OrderID: alert.OrderID, Error: err.Error()}
	}

	if err := s.shipments.Dispatch(ctx, shipmentID); err != nil {
		log.Error().
			Err(err).
			Str("order_id", alert.OrderID.String()).
			Msg("Failed to auto-dispatch stuck order")
		return AlertResult{OrderID: alert.OrderID, Error: err.Error()}
	}

	log.Info().
		Str("order_id", alert.OrderID.String()).
		Str("shipment_id", shipmentID.String()).
		Msg("Stuck order auto-dispatched")
	return AlertResult{OrderID: alert.OrderID, Dispatched: true}
}

// ProcessAllAlerts scans and processes every alert. Dispatches run
// concurrently, one per order; a failure on one order is recorded in its
// result and never aborts the rest of the batch.
func (s *StagingService) ProcessAllAlerts(ctx context.Context, now time.Time) ([]AlertResult, error) {
	alerts, err := s.Scan(ctx, now)
	if err != nil {
		return nil, err
	}

	results := make([]AlertResult, len(alerts))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, alert := range alerts {
		i, alert := i, alert
		g.Go(func() error {
			result := s.ProcessAlert(ctx, alert)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	// Goroutines always return nil; failures live in the results.
	_ = g.Wait()

	return results, nil
}

// shipmentForOrder finds an open shipment covering the order, creating one
// when none exists.
func (s *StagingService) shipmentForOrder(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	var line models.ShipmentLine
	err := s.db.WithContext(ctx).
		Joins("JOIN shipments ON shipments.id = shipment_lines.shipment_id").
		Where("shipment_lines.order_id = ? AND shipments.status IN ?", orderID,
			[]models.ShipmentStatus{models.ShipmentStatusPlanned, models.ShipmentStatusPicking, models.ShipmentStatusPacked}).
		First(&line).Error
	if err == nil {
		return line.ShipmentID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, errors.Wrap(err, "failed to look up shipment for order")
	}

	shipment, err := s.shipments.CreateFromAllocatedOrders(ctx, CreateShipmentInput{
		OrderIDs: []uuid.UUID{orderID},
	})
	if err != nil {
		return uuid.Nil, err
	}
	return shipment.ID, nil
}

func (s *StagingService) publishAlert(ctx context.Context, alert StagingAlert) {
	if s.publisher == nil {
		return
	}
	event := messaging.Event{
		Type:           messaging.EventStagingAlertRaised,
		OrganizationID: alert.OrganizationID,
		Payload: map[string]interface{}{
			"order_id":        alert.OrderID.String(),
			"order_number":    alert.OrderNumber,
			"level":           string(alert.Level),
			"time_in_staging": alert.TimeInStaging.String(),
		},
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("order_id", alert.OrderID.String()).Msg("Failed to publish staging alert")
	}
}
