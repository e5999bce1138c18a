package store

import (
	"context"
	"errors"
	"fmt"

	"gudangkopi/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientStock = errors.New("insufficient green coffee stock")
)

// InsufficientStockError names the coffee and the shortfall that made an
// order transaction abort. errors.Is(err, ErrInsufficientStock) matches.
type InsufficientStockError struct {
	CoffeeID       string
	CoffeeName     string
	RequestedGrams int64
	AvailableGrams int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for coffee %s (%s): requested %d g, available %d g, short %d g",
		e.CoffeeID, e.CoffeeName, e.RequestedGrams, e.AvailableGrams, e.RequestedGrams-e.AvailableGrams)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the persistence contract. CreateOrder,
// TransitionOrderStatus and DeleteOrderItemReversed are the inventory
// ledger: the only operations allowed to touch Coffee.QuantityGrams or
// retail inventory rows, each inside a single atomic transaction.
type Repository interface {
	ListCoffees(ctx context.Context) ([]domain.Coffee, error)
	GetCoffeeByID(ctx context.Context, coffeeID string) (*domain.Coffee, error)
	CreateCoffee(ctx context.Context, coffee domain.Coffee) (*domain.Coffee, error)

	ListShops(ctx context.Context) ([]domain.Shop, error)
	GetShopByID(ctx context.Context, shopID string) (*domain.Shop, error)
	CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)
	UpdateShopMinimums(ctx context.Context, shop domain.Shop) (*domain.Shop, error)

	// GetHaircutSetting returns the singleton haircut percentage, creating
	// the default record on first access.
	GetHaircutSetting(ctx context.Context) (domain.HaircutSetting, error)
	UpdateHaircutSetting(ctx context.Context, setting domain.HaircutSetting) (domain.HaircutSetting, error)

	// CreateOrder applies the ledger transfer and persists the order with
	// its items in one transaction. Item RetailGrams/GreenGrams are
	// computed inside the transaction with the haircut percentage current
	// at that moment and returned on the persisted items.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByStatus(ctx context.Context, status string, limit int) ([]domain.Order, error)

	// TransitionOrderStatus re-checks the current status inside the
	// transaction. Transitioning into CANCELLED reverses the ledger using
	// the grams recorded on the items at creation time.
	TransitionOrderStatus(ctx context.Context, orderID string, newStatus string) (*domain.Order, error)

	ListShopInventory(ctx context.Context, shopID string) ([]domain.RetailInventory, error)

	// ListReconcileCandidates returns items of all orders in the given
	// status joined with order metadata.
	ListReconcileCandidates(ctx context.Context, status string) ([]domain.ReconcileCandidate, error)

	// DeleteOrderItemReversed deletes one order item and applies the exact
	// inverse of its ledger effect in the same transaction.
	DeleteOrderItemReversed(ctx context.Context, itemID string) (*domain.OrderItem, error)

	GetLastAlertLog(ctx context.Context, shopID string) (*domain.AlertLog, error)
	CreateAlertLog(ctx context.Context, entry domain.AlertLog) (*domain.AlertLog, error)
	ListAlertLogs(ctx context.Context, shopID string, limit int) ([]domain.AlertLog, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
