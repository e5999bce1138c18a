package domain

import "time"

// Coffee is a green coffee lot held in the shared roastery pool.
// QuantityGrams is mutated only by the inventory ledger and never goes
// negative.
type Coffee struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Origin        string `json:"origin"`
	Process       string `json:"process"`
	QuantityGrams int64  `json:"quantity_grams"`
	Active        bool   `json:"active"`
}

type CoffeeCreateRequest struct {
	Name          string `json:"name"`
	Origin        string `json:"origin"`
	Process       string `json:"process"`
	QuantityGrams int64  `json:"quantity_grams"`
}

// Shop is a retail outlet. The Min* fields are the per-package-class
// thresholds read by the alert evaluator; zero disables the class.
type Shop struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	City              string    `json:"city"`
	MinSmallEspresso  int       `json:"min_small_espresso"`
	MinSmallFilter    int       `json:"min_small_filter"`
	MinMediumEspresso int       `json:"min_medium_espresso"`
	MinMediumFilter   int       `json:"min_medium_filter"`
	MinLargeBags      int       `json:"min_large_bags"`
	CreatedAt         time.Time `json:"created_at"`
}

type ShopCreateRequest struct {
	Name              string `json:"name"`
	City              string `json:"city"`
	MinSmallEspresso  int    `json:"min_small_espresso"`
	MinSmallFilter    int    `json:"min_small_filter"`
	MinMediumEspresso int    `json:"min_medium_espresso"`
	MinMediumFilter   int    `json:"min_medium_filter"`
	MinLargeBags      int    `json:"min_large_bags"`
}

type ShopMinimumsUpdateRequest struct {
	MinSmallEspresso  *int `json:"min_small_espresso,omitempty"`
	MinSmallFilter    *int `json:"min_small_filter,omitempty"`
	MinMediumEspresso *int `json:"min_medium_espresso,omitempty"`
	MinMediumFilter   *int `json:"min_medium_filter,omitempty"`
	MinLargeBags      *int `json:"min_large_bags,omitempty"`
}

// PackageCounts is the shared count shape for order items and retail
// inventory rows: one counter per package type.
type PackageCounts struct {
	SmallEspresso  int `json:"small_espresso"`
	SmallFilter    int `json:"small_filter"`
	MediumEspresso int `json:"medium_espresso"`
	MediumFilter   int `json:"medium_filter"`
	LargeBags      int `json:"large_bags"`
}

func (c PackageCounts) IsZero() bool {
	return c.SmallEspresso == 0 && c.SmallFilter == 0 &&
		c.MediumEspresso == 0 && c.MediumFilter == 0 && c.LargeBags == 0
}

func (c PackageCounts) HasNegative() bool {
	return c.SmallEspresso < 0 || c.SmallFilter < 0 ||
		c.MediumEspresso < 0 || c.MediumFilter < 0 || c.LargeBags < 0
}

func (c PackageCounts) Add(o PackageCounts) PackageCounts {
	return PackageCounts{
		SmallEspresso:  c.SmallEspresso + o.SmallEspresso,
		SmallFilter:    c.SmallFilter + o.SmallFilter,
		MediumEspresso: c.MediumEspresso + o.MediumEspresso,
		MediumFilter:   c.MediumFilter + o.MediumFilter,
		LargeBags:      c.LargeBags + o.LargeBags,
	}
}

func (c PackageCounts) Sub(o PackageCounts) PackageCounts {
	return PackageCounts{
		SmallEspresso:  c.SmallEspresso - o.SmallEspresso,
		SmallFilter:    c.SmallFilter - o.SmallFilter,
		MediumEspresso: c.MediumEspresso - o.MediumEspresso,
		MediumFilter:   c.MediumFilter - o.MediumFilter,
		LargeBags:      c.LargeBags - o.LargeBags,
	}
}

// RetailInventory is the cumulative packaged stock of one coffee at one
// shop. TotalGrams is derived from Counts and recomputed on every change.
type RetailInventory struct {
	ShopID      string        `json:"shop_id"`
	CoffeeID    string        `json:"coffee_id"`
	Counts      PackageCounts `json:"counts"`
	TotalGrams  int64         `json:"total_grams"`
	LastOrderAt time.Time     `json:"last_order_at"`
}

type OrderItem struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"order_id"`
	CoffeeID    string        `json:"coffee_id"`
	Counts      PackageCounts `json:"counts"`
	RetailGrams int64         `json:"retail_grams"`
	GreenGrams  int64         `json:"green_grams"`
}

type Order struct {
	ID        string      `json:"id"`
	ShopID    string      `json:"shop_id"`
	Status    string      `json:"status"`
	OrderedBy string      `json:"ordered_by"`
	CreatedAt time.Time   `json:"created_at"`
	Items     []OrderItem `json:"items"`
}

const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusRoasted   = "ROASTED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

// orderTransitions is the order status state machine. DELIVERED and
// CANCELLED are terminal.
var orderTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusRoasted, OrderStatusCancelled},
	OrderStatusRoasted:   {OrderStatusDelivered},
}

func CanTransitionOrder(from string, to string) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func IsOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusRoasted,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type OrderItemRequest struct {
	CoffeeID string        `json:"coffee_id"`
	Counts   PackageCounts `json:"counts"`

	// LegacySmallBags predates the espresso/filter split. When set it is
	// folded into Counts.SmallEspresso during request normalization and
	// nowhere else.
	LegacySmallBags int `json:"small_bags,omitempty"`
}

type OrderCreateRequest struct {
	ShopID string             `json:"shop_id"`
	Items  []OrderItemRequest `json:"items"`
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
}

type OrderResponse struct {
	Order Order `json:"order"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

// HaircutSetting is the singleton process-loss percentage applied when
// retail demand is converted to green-coffee consumption.
type HaircutSetting struct {
	Percent   float64   `json:"percent"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

const DefaultHaircutPercent = 15.0

type HaircutUpdateRequest struct {
	Percent float64 `json:"percent"`
}

const (
	AlertSeverityOK       = "OK"
	AlertSeverityWarning  = "WARNING"
	AlertSeverityCritical = "CRITICAL"
)

// AlertClassState is the evaluated state of one package class at one shop.
type AlertClassState struct {
	Class    string  `json:"class"`
	Current  int     `json:"current"`
	Minimum  int     `json:"minimum"`
	Percent  float64 `json:"percent"`
	Severity string  `json:"severity"`
}

type AlertState struct {
	ShopID    string            `json:"shop_id"`
	Severity  string            `json:"severity"`
	Classes   []AlertClassState `json:"classes"`
	Logged    bool              `json:"logged"`
	CheckedAt time.Time         `json:"checked_at"`
}

// AlertLog is an append-only record of a WARNING/CRITICAL state change.
type AlertLog struct {
	ID            string            `json:"id"`
	ShopID        string            `json:"shop_id"`
	Severity      string            `json:"severity"`
	Classes       []AlertClassState `json:"classes"`
	NotifiedUsers []string          `json:"notified_users"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ReconcileCandidate is an order item joined with the owning order's
// shop, status and creation time, as consumed by the duplicate reconciler.
type ReconcileCandidate struct {
	Item           OrderItem
	ShopID         string
	OrderStatus    string
	OrderCreatedAt time.Time
}

type ReconciliationDetail struct {
	ShopID        string `json:"shop_id"`
	CoffeeID      string `json:"coffee_id"`
	ItemsDeleted  int    `json:"items_deleted"`
	RetailGrams   int64  `json:"retail_grams_corrected"`
	GreenGrams    int64  `json:"green_grams_corrected"`
	KeptOrderItem string `json:"kept_order_item"`
}

type ReconciliationReport struct {
	StatusFilter string                 `json:"status_filter"`
	GroupsFound  int                    `json:"groups_found"`
	ItemsDeleted int                    `json:"items_deleted"`
	ItemsFailed  int                    `json:"items_failed"`
	RetailGrams  int64                  `json:"retail_grams_corrected"`
	GreenGrams   int64                  `json:"green_grams_corrected"`
	Details      []ReconciliationDetail `json:"details"`
	ReconciledAt string                 `json:"reconciled_at"`
}

type InventoryListResponse struct {
	ShopID string            `json:"shop_id"`
	Rows   []RetailInventory `json:"rows"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)
