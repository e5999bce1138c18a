package cache

import (
	"context"
	"time"

	"gudangkopi/internal/domain"
)

// InventoryCache holds per-shop retail inventory snapshots so the alert
// evaluator and the inventory endpoint do not hit the store on every
// read. Entries are invalidated whenever the ledger mutates the shop.
type InventoryCache interface {
	Get(ctx context.Context, shopID string) ([]domain.RetailInventory, bool, error)
	Set(ctx context.Context, shopID string, rows []domain.RetailInventory, ttl time.Duration) error
	Invalidate(ctx context.Context, shopID string) error
}

type NoopInventoryCache struct{}

func (NoopInventoryCache) Get(_ context.Context, _ string) ([]domain.RetailInventory, bool, error) {
	return nil, false, nil
}

func (NoopInventoryCache) Set(_ context.Context, _ string, _ []domain.RetailInventory, _ time.Duration) error {
	return nil
}

func (NoopInventoryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
