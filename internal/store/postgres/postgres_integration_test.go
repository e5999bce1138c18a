package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gudangkopi/internal/domain"
)

func TestCancelOrderRestoresPool(t *testing.T) {
	databaseURL := os.Getenv("GUDANGKOPI_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GUDANGKOPI_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	coffeeID := fmt.Sprintf("coffee-it-%d", stamp)
	shopID := fmt.Sprintf("shop-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE coffee_id = $1`, coffeeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE shop_id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM retail_inventories WHERE shop_id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shops WHERE id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM green_coffees WHERE id = $1`, coffeeID)
	})

	if _, err := s.CreateCoffee(ctx, domain.Coffee{
		ID: coffeeID, Name: "Integration Lot", Origin: "Aceh", Process: "washed", QuantityGrams: 10_000,
	}); err != nil {
		t.Fatalf("create coffee: %v", err)
	}
	if _, err := s.CreateShop(ctx, domain.Shop{ID: shopID, Name: "Integration Shop", City: "Jakarta"}); err != nil {
		t.Fatalf("create shop: %v", err)
	}

	created, err := s.CreateOrder(ctx, domain.Order{
		ShopID:    shopID,
		OrderedBy: "it-test",
		Items:     []domain.OrderItem{{CoffeeID: coffeeID, Counts: domain.PackageCounts{SmallFilter: 2}}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if created.Items[0].GreenGrams != 460 {
		t.Fatalf("green grams = %d, want 460", created.Items[0].GreenGrams)
	}

	coffee, err := s.GetCoffeeByID(ctx, coffeeID)
	if err != nil {
		t.Fatalf("get coffee: %v", err)
	}
	if coffee.QuantityGrams != 9_540 {
		t.Fatalf("pool after order = %d, want 9540", coffee.QuantityGrams)
	}

	if _, err := s.TransitionOrderStatus(ctx, created.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	coffee, err = s.GetCoffeeByID(ctx, coffeeID)
	if err != nil {
		t.Fatalf("get coffee after cancel: %v", err)
	}
	if coffee.QuantityGrams != 10_000 {
		t.Fatalf("pool after cancel = %d, want 10000", coffee.QuantityGrams)
	}

	inv, err := s.ListShopInventory(ctx, shopID)
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(inv) != 1 || !inv[0].Counts.IsZero() || inv[0].TotalGrams != 0 {
		t.Fatalf("expected zeroed inventory row after cancel, got %+v", inv)
	}
}
