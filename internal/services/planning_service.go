package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/logistics/services/fulfillment/internal/cache"
	"example.com/logistics/services/fulfillment/internal/models"
	"example.com/logistics/services/fulfillment/internal/search"
)

// Requirement is one row of the shortage report: gross demand for an item
// netted against on-hand and on-order supply.
type Requirement struct {
	ItemID     uuid.UUID `json:"item_id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Required   int64     `json:"required"`
	OnHand     int64     `json:"on_hand"`
	OnOrder    int64     `json:"on_order"`
	Shortage   int64     `json:"shortage"`
	Suggestion string    `json:"suggestion"`
}

// PlanningService produces the MRP shortage report. It is a read-only
// planning path: it runs against the read replica, tolerates slightly stale
// snapshots, and never writes to the ledger.
type PlanningService struct {
	readOnlyDB *gorm.DB
	bom        *BOMService
	cache      *cache.RedisCache
	search     *search.ElasticClient
}

// NewPlanningService creates a new requirements netting service
func NewPlanningService(readOnlyDB *gorm.DB, bom *BOMService, redisCache *cache.RedisCache, elasticClient *search.ElasticClient) *PlanningService {
	return &PlanningService{
		readOnlyDB: readOnlyDB,
		bom:        bom,
		cache:      redisCache,
		search:     elasticClient,
	}
}

// openOrderStatuses are the order states that still represent demand
var openOrderStatuses = []models.OrderStatus{
	models.OrderStatusReceived,
	models.OrderStatusAllocated,
	models.OrderStatusBackorder,
	models.OrderStatusPicking,
	models.OrderStatusPacked,
	models.OrderStatusStaged,
}

// ComputeShortages explodes demand for every open order line, nets each
// item's total against on-hand plus on-order supply, and returns only the
// items that come up short. warehouseID narrows the on-hand side when set.
func (s *PlanningService) ComputeShortages(ctx context.Context, organizationID uuid.UUID, warehouseID *uuid.UUID) ([]Requirement, error) {
	var orders []models.Order
	err := s.readOnlyDB.WithContext(ctx).
		Preload("Lines").
		Where("organization_id = ? AND status IN ?", organizationID, openOrderStatuses).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load open orders")
	}

	// Gross demand per item: the unallocated remainder of every open line,
	// plus the exploded component demand beneath it.
	demand := make(map[uuid.UUID]int64)
	for _, order := range orders {
		for _, line := range order.Lines {
			remaining := line.QuantityOrdered - line.QuantityAllocated
			if remaining <= 0 {
				continue
			}
			demand[line.ItemID] += remaining

			components, err := s.bom.Explode(ctx, line.ItemID, remaining)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to explode demand for item %s", line.ItemID)
			}
			for childID, qty := range components {
				demand[childID] += qty
			}
		}
	}

	requirements := make([]Requirement, 0, len(demand))
	for itemID, required := range demand {
		var item models.Item
		if err := s.readOnlyDB.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
			return nil, errors.Wrapf(err, "failed to load item %s", itemID)
		}
		if item.LifecycleStatus == models.ItemStatusObsolete {
			continue
		}

		onHand, err := s.onHand(ctx, itemID, warehouseID)
		if err != nil {
			return nil, err
		}
		onOrder, err := s.onOrder(ctx, itemID)
		if err != nil {
			return nil, err
		}

		// Safety stock is held back from the supply side, so demand that
		// would dip into it still surfaces as a shortage.
		shortage := required - (onHand - item.SafetyStock) - onOrder
		if shortage <= 0 {
			continue
		}

		requirements = append(requirements, Requirement{
			ItemID:     itemID,
			SKU:        item.SKU,
			Name:       item.Name,
			Required:   required,
			OnHand:     onHand,
			OnOrder:    onOrder,
			Shortage:   shortage,
			Suggestion: suggestOrder(&item, shortage),
		})
	}

	sort.Slice(requirements, func(i, j int) bool {
		return requirements[i].SKU < requirements[j].SKU
	})

	log.Info().
		Str("organization_id", organizationID.String()).
		Int("open_orders", len(orders)).
		Int("shortages", len(requirements)).
		Msg("Shortage report computed")

	s.publishReport(ctx, organizationID, requirements)

	return requirements, nil
}

// onHand sums unreserved stock for the item; reserved stock is already
// spoken for by allocations, which the demand side excludes too.
func (s *PlanningService) onHand(ctx context.Context, itemID uuid.UUID, warehouseID *uuid.UUID) (int64, error) {
	query := s.readOnlyDB.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Select("COALESCE(SUM(quantity_on_hand - quantity_reserved), 0)").
		Where("item_id = ?", itemID)
	if warehouseID != nil {
		query = query.Where("warehouse_id = ?", *warehouseID)
	}

	var total int64
	if err := query.Scan(&total).Error; err != nil {
		return 0, errors.Wrap(err, "failed to sum on-hand inventory")
	}
	return total, nil
}

// onOrder sums the remaining quantity of open purchase order lines
func (s *PlanningService) onOrder(ctx context.Context, itemID uuid.UUID) (int64, error) {
	var total int64
	err := s.readOnlyDB.WithContext(ctx).
		Model(&models.PurchaseOrderLine{}).
		Select("COALESCE(SUM(purchase_order_lines.quantity_ordered - purchase_order_lines.quantity_received), 0)").
		Joins("JOIN purchase_orders ON purchase_orders.id = purchase_order_lines.purchase_order_id").
		Where("purchase_order_lines.item_id = ? AND purchase_orders.status IN ?",
			itemID, []string{models.PurchaseOrderStatusDraft, models.PurchaseOrderStatusIssued, models.PurchaseOrderStatusPartial}).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum on-order supply")
	}
	return total, nil
}

// suggestOrder words a planned order sized by the item's minimum order
// quantity.
func suggestOrder(item *models.Item, shortage int64) string {
	qty := shortage
	if item.MinOrderQty > qty {
		qty = item.MinOrderQty
	}
	if item.Type == models.ItemTypeMake {
		return fmt.Sprintf("Plan production order for %d units", qty)
	}
	return fmt.Sprintf("Raise purchase order for %d units (lead time %d days)", qty, item.LeadTimeDays)
}

// publishReport caches and indexes the report for the planning dashboards.
// Both are best effort; the report itself is already computed.
func (s *PlanningService) publishReport(ctx context.Context, organizationID uuid.UUID, requirements []Requirement) {
	if s.cache != nil {
		key := cache.ShortageReportKey(organizationID)
		if err := s.cache.Set(ctx, key, requirements, 5*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache shortage report")
		}
	}

	if s.search != nil {
		docs := make([]map[string]interface{}, 0, len(requirements))
		for _, req := range requirements {
			docs = append(docs, map[string]interface{}{
				"organization_id": organizationID.String(),
				"item_id":         req.ItemID.String(),
				"sku":             req.SKU,
				"required":        req.Required,
				"on_hand":         req.OnHand,
				"on_order":        req.OnOrder,
				"shortage":        req.Shortage,
				"suggestion":      req.Suggestion,
				"computed_at":     time.Now().UTC().Format(time.RFC3339),
			})
		}
		if err := s.search.IndexShortageReport(ctx, organizationID, docs); err != nil {
			log.Warn().Err(err).Msg("Failed to index shortage report")
		}
	}
}

// CachedShortages returns the last computed report for an organization, if
// the cache holds one.
func (s *PlanningService) CachedShortages(ctx context.Context, organizationID uuid.UUID) ([]Requirement, bool) {
	if s.cache == nil {
		return nil, false
	}
	var requirements []Requirement
	if err := s.cache.Get(ctx, cache.ShortageReportKey(organizationID), &requirements); err != nil {
		return nil, false
	}
	return requirements, true
}
