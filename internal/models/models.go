package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ItemType distinguishes manufactured items from purchased ones
type ItemType string

const (
	ItemTypeMake ItemType = "MAKE"
	ItemTypeBuy  ItemType = "BUY"
)

// Item lifecycle statuses
const (
	ItemStatusActive   = "ACTIVE"
	ItemStatusObsolete = "OBSOLETE"
)

// OrderStatus represents an order's position in the fulfillment lifecycle
type OrderStatus string

const (
	OrderStatusReceived  OrderStatus = "RECEIVED"
	OrderStatusAllocated OrderStatus = "ALLOCATED"
	OrderStatusBackorder OrderStatus = "BACKORDER"
	OrderStatusPicking   OrderStatus = "PICKING"
	OrderStatusPacked    OrderStatus = "PACKED"
	OrderStatusStaged    OrderStatus = "STAGED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// AllocationStatus tracks the lifecycle of a reservation
type AllocationStatus string

const (
	AllocationStatusReserved AllocationStatus = "RESERVED"
	AllocationStatusConsumed AllocationStatus = "CONSUMED"
	AllocationStatusReleased AllocationStatus = "RELEASED"
)

// ShipmentStatus represents a shipment's sub-lifecycle
type ShipmentStatus string

const (
	ShipmentStatusPlanned   ShipmentStatus = "PLANNED"
	ShipmentStatusPicking   ShipmentStatus = "PICKING"
	ShipmentStatusPacked    ShipmentStatus = "PACKED"
	ShipmentStatusInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusCancelled ShipmentStatus = "CANCELLED"
)

// PickTaskStatus for warehouse pick tasks
type PickTaskStatus string

const (
	PickTaskStatusPending   PickTaskStatus = "PENDING"
	PickTaskStatusCompleted PickTaskStatus = "COMPLETED"
)

// Purchase order statuses that count as open supply
const (
	PurchaseOrderStatusDraft   = "DRAFT"
	PurchaseOrderStatusIssued  = "ISSUED"
	PurchaseOrderStatusPartial = "PARTIAL"
	PurchaseOrderStatusClosed  = "CLOSED"
)

// Organization represents a tenant of the platform
type Organization struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
}

// Warehouse represents a fulfillment site
type Warehouse struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	Code           string         `gorm:"not null" json:"code"`
	Name           string         `gorm:"not null" json:"name"`
	Address        string         `json:"address"`
}

// StorageLocation is a bin or slot inside a warehouse
type StorageLocation struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	WarehouseID uuid.UUID      `gorm:"type:uuid;not null;index" json:"warehouse_id"`
	Code        string         `gorm:"not null" json:"code"`
	Zone        string         `json:"zone"`
	Warehouse   Warehouse      `gorm:"foreignKey:WarehouseID" json:"-"`
}

// Item is a catalog entry. SKU is the immutable business key within an
// organization.
type Item struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
	OrganizationID  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_items_org_sku" json:"organization_id"`
	SKU             string          `gorm:"not null;uniqueIndex:idx_items_org_sku" json:"sku"`
	Name            string          `json:"name"`
	Type            ItemType        `gorm:"not null;default:BUY" json:"type"`
	Cost            decimal.Decimal `gorm:"type:decimal(12,4);not null;default:0" json:"cost"`
	WeightKg        float64         `gorm:"not null;default:0" json:"weight_kg"`
	LeadTimeDays    int             `gorm:"not null;default:0" json:"lead_time_days"`
	SafetyStock     int64           `gorm:"not null;default:0" json:"safety_stock"`
	ReorderPoint    int64           `gorm:"not null;default:0" json:"reorder_point"`
	MinOrderQty     int64           `gorm:"not null;default:0" json:"min_order_qty"`
	LifecycleStatus string          `gorm:"not null;default:ACTIVE" json:"lifecycle_status"`
	ApprovalStatus  string          `gorm:"not null;default:APPROVED" json:"approval_status"`
	BOMLines        []BOMLine       `gorm:"foreignKey:ParentItemID" json:"-"`
}

// BOMLine is one parent->child edge of a bill of materials. Only MAKE items
// appear as parent; the graph must be acyclic.
type BOMLine struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	ParentItemID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"parent_item_id"`
	ChildItemID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"child_item_id"`
	QuantityPer    int64          `gorm:"not null" json:"quantity_per"`
	ParentItem     Item           `gorm:"foreignKey:ParentItemID" json:"-"`
	ChildItem      Item           `gorm:"foreignKey:ChildItemID" json:"-"`
}

// InventoryRecord is one lot of stock at a location. QuantityReserved never
// exceeds QuantityOnHand; available = on hand - reserved.
type InventoryRecord struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	OrganizationID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	ItemID           uuid.UUID      `gorm:"type:uuid;not null;index:idx_inventory_item_wh" json:"item_id"`
	WarehouseID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_inventory_item_wh" json:"warehouse_id"`
	LocationID       uuid.UUID      `gorm:"type:uuid;not null" json:"location_id"`
	LotNumber        string         `json:"lot_number"`
	QuantityOnHand   int64          `gorm:"not null;default:0" json:"quantity_on_hand"`
	QuantityReserved int64          `gorm:"not null;default:0" json:"quantity_reserved"`
	ReceivedAt       time.Time      `gorm:"not null;index" json:"received_at"`
	Item             Item           `gorm:"foreignKey:ItemID" json:"-"`
}

// QuantityAvailable is the unreserved portion of the lot.
func (r *InventoryRecord) QuantityAvailable() int64 {
	return r.QuantityOnHand - r.QuantityReserved
}

// Order is a customer sales order. Status only ever changes through the
// order service's transition table.
type Order struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	OrderNumber    string         `gorm:"not null;uniqueIndex" json:"order_number"`
	CustomerID     uuid.UUID      `gorm:"type:uuid;not null" json:"customer_id"`
	Status         OrderStatus    `gorm:"not null;default:RECEIVED;index" json:"status"`
	StagedAt       *time.Time     `json:"staged_at"`
	Lines          []OrderLine    `gorm:"foreignKey:OrderID" json:"lines"`
}

// OrderLine is demand for one item on an order
type OrderLine struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	OrderID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"order_id"`
	ItemID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"item_id"`
	QuantityOrdered   int64          `gorm:"not null" json:"quantity_ordered"`
	QuantityAllocated int64          `gorm:"not null;default:0" json:"quantity_allocated"`
	QuantityShipped   int64          `gorm:"not null;default:0" json:"quantity_shipped"`
	Item              Item           `gorm:"foreignKey:ItemID" json:"-"`
}

// Allocation reserves a quantity of one inventory lot against one order line
type Allocation struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt   `gorm:"index" json:"-"`
	OrganizationID    uuid.UUID        `gorm:"type:uuid;not null;index" json:"organization_id"`
	OrderID           uuid.UUID        `gorm:"type:uuid;not null;index" json:"order_id"`
	OrderLineID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"order_line_id"`
	InventoryRecordID uuid.UUID        `gorm:"type:uuid;not null;index" json:"inventory_record_id"`
	Quantity          int64            `gorm:"not null" json:"quantity"`
	Status            AllocationStatus `gorm:"not null;default:RESERVED;index" json:"status"`
	InventoryRecord   InventoryRecord  `gorm:"foreignKey:InventoryRecordID" json:"-"`
}

// PurchaseOrder is inbound supply from a supplier
type PurchaseOrder struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt      `gorm:"index" json:"-"`
	OrganizationID uuid.UUID           `gorm:"type:uuid;not null;index" json:"organization_id"`
	PONumber       string              `gorm:"not null;uniqueIndex" json:"po_number"`
	SupplierName   string              `json:"supplier_name"`
	Status         string              `gorm:"not null;default:ISSUED;index" json:"status"`
	Lines          []PurchaseOrderLine `gorm:"foreignKey:PurchaseOrderID" json:"lines"`
}

// PurchaseOrderLine is open supply for one item; remaining = ordered - received
type PurchaseOrderLine struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	PurchaseOrderID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"purchase_order_id"`
	ItemID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"item_id"`
	QuantityOrdered  int64          `gorm:"not null" json:"quantity_ordered"`
	QuantityReceived int64          `gorm:"not null;default:0" json:"quantity_received"`
	Status           string         `gorm:"not null;default:OPEN" json:"status"`
	PurchaseOrder    PurchaseOrder  `gorm:"foreignKey:PurchaseOrderID" json:"-"`
}

// QuantityRemaining is the still-inbound portion of the PO line.
func (l *PurchaseOrderLine) QuantityRemaining() int64 {
	remaining := l.QuantityOrdered - l.QuantityReceived
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Shipment groups allocated orders for transport
type Shipment struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt           gorm.DeletedAt  `gorm:"index" json:"-"`
	OrganizationID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"organization_id"`
	ShipmentNumber      string          `gorm:"not null;uniqueIndex" json:"shipment_number"`
	Status              ShipmentStatus  `gorm:"not null;default:PLANNED;index" json:"status"`
	OriginLocation      string          `json:"origin_location"`
	DestinationLocation string          `json:"destination_location"`
	CarrierRef          string          `json:"carrier_ref"`
	TotalWeightKg       float64         `gorm:"not null;default:0" json:"total_weight_kg"`
	DeclaredValue       decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0" json:"declared_value"`
	DispatchedAt        *time.Time      `json:"dispatched_at"`
	DeliveredAt         *time.Time      `json:"delivered_at"`
	Lines               []ShipmentLine  `gorm:"foreignKey:ShipmentID" json:"lines"`
}

// ShipmentLine is a frozen snapshot of an allocated order line. SKU and
// quantity are copied at build time so later order edits cannot reach an
// in-flight shipment; AllocationID links back for consumption at dispatch.
type ShipmentLine struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	ShipmentID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"shipment_id"`
	OrderID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"order_id"`
	OrderLineID  uuid.UUID      `gorm:"type:uuid;not null" json:"order_line_id"`
	AllocationID uuid.UUID      `gorm:"type:uuid;not null" json:"allocation_id"`
	ItemID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"item_id"`
	SKU          string         `gorm:"not null" json:"sku"`
	Quantity     int64          `gorm:"not null" json:"quantity"`
}

// PickTask directs a picker to pull allocated stock for one order line
type PickTask struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	OrderID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"order_id"`
	OrderLineID uuid.UUID      `gorm:"type:uuid;not null" json:"order_line_id"`
	ItemID      uuid.UUID      `gorm:"type:uuid;not null" json:"item_id"`
	LocationID  uuid.UUID      `gorm:"type:uuid;not null" json:"location_id"`
	Quantity    int64          `gorm:"not null" json:"quantity"`
	Status      PickTaskStatus `gorm:"not null;default:PENDING;index" json:"status"`
	CompletedAt *time.Time     `json:"completed_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Organization{},
		&Warehouse{},
		&StorageLocation{},
		&Item{},
		&BOMLine{},
		&InventoryRecord{},
		&Order{},
		&OrderLine{},
		&Allocation{},
		&PurchaseOrder{},
		&PurchaseOrderLine{},
		&Shipment{},
		&ShipmentLine{},
		&PickTask{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
