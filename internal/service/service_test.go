package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gudangkopi/internal/domain"
	"gudangkopi/internal/store"
	"gudangkopi/internal/store/memory"
)

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
}

func newService(repo store.Repository) *Service {
	return New(repo, nil, nil, 0, 0, 0)
}

func poolGrams(t *testing.T, repo store.Repository, coffeeID string) int64 {
	t.Helper()
	coffee, err := repo.GetCoffeeByID(context.Background(), coffeeID)
	if err != nil {
		t.Fatalf("GetCoffeeByID(%s): %v", coffeeID, err)
	}
	return coffee.QuantityGrams
}

func TestCreateOrderScenario(t *testing.T) {
	// Two small filter bags at the default 15% haircut: 400 g retail,
	// 460 g green debit, 10 000 g pool left at 9 540 g.
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := adminCtx()

	coffee, err := svc.CreateCoffee(ctx, domain.CoffeeCreateRequest{Name: "Test Lot", QuantityGrams: 10_000})
	if err != nil {
		t.Fatalf("CreateCoffee: %v", err)
	}

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items:  []domain.OrderItemRequest{{CoffeeID: coffee.ID, Counts: domain.PackageCounts{SmallFilter: 2}}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	order := resp.Order
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("new order status = %s, want PENDING", order.Status)
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(order.Items))
	}
	item := order.Items[0]
	if item.RetailGrams != 400 {
		t.Fatalf("retail grams = %d, want 400", item.RetailGrams)
	}
	if item.GreenGrams != 460 {
		t.Fatalf("green grams = %d, want 460", item.GreenGrams)
	}
	if got := poolGrams(t, repo, coffee.ID); got != 9_540 {
		t.Fatalf("pool after order = %d, want 9540", got)
	}

	inv, err := svc.ListShopInventory(ctx, "shop-menteng")
	if err != nil {
		t.Fatalf("ListShopInventory: %v", err)
	}
	var row *domain.RetailInventory
	for i := range inv.Rows {
		if inv.Rows[i].CoffeeID == coffee.ID {
			row = &inv.Rows[i]
		}
	}
	if row == nil {
		t.Fatal("expected inventory row for ordered coffee")
	}
	if row.Counts.SmallFilter != 2 || row.TotalGrams != 400 {
		t.Fatalf("inventory row = %+v, want 2 small filter / 400 g", row)
	}
}

func TestCreateOrderConservation(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := staffCtx()

	before := poolGrams(t, repo, "coffee-gayo")

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-dago",
		Items: []domain.OrderItemRequest{
			{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{SmallEspresso: 3, MediumFilter: 1}},
			{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{LargeBags: 2}},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	debited := int64(0)
	for _, item := range resp.Order.Items {
		debited += item.GreenGrams
	}
	after := poolGrams(t, repo, "coffee-gayo")
	if before-after != debited {
		t.Fatalf("pool delta %d does not match green debit %d", before-after, debited)
	}
}

func TestCreateOrderInsufficientStockLeavesNoTrace(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := staffCtx()

	// coffee-bajawa holds 40 000 g; 40 large bags need 46 000 g green.
	before := poolGrams(t, repo, "coffee-bajawa")
	_, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-bajawa", Counts: domain.PackageCounts{LargeBags: 40}}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected typed InsufficientStockError, got %T", err)
	}
	if stockErr.CoffeeID != "coffee-bajawa" || stockErr.RequestedGrams != 46_000 || stockErr.AvailableGrams != 40_000 {
		t.Fatalf("unexpected shortfall detail: %+v", stockErr)
	}

	if got := poolGrams(t, repo, "coffee-bajawa"); got != before {
		t.Fatalf("pool changed on rejected order: %d -> %d", before, got)
	}
	inv, err := svc.ListShopInventory(ctx, "shop-menteng")
	if err != nil {
		t.Fatalf("ListShopInventory: %v", err)
	}
	if len(inv.Rows) != 0 {
		t.Fatalf("expected no inventory rows after rejection, got %d", len(inv.Rows))
	}
	orders, err := svc.ListOrders(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders.Orders) != 0 {
		t.Fatalf("expected no persisted orders after rejection, got %d", len(orders.Orders))
	}
}

func TestCreateOrderMultiItemAggregatesShortfall(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := staffCtx()

	// Each item alone fits in coffee-bajawa's 40 000 g, together they do
	// not; the whole order must fail.
	before := poolGrams(t, repo, "coffee-bajawa")
	_, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items: []domain.OrderItemRequest{
			{CoffeeID: "coffee-bajawa", Counts: domain.PackageCounts{LargeBags: 20}},
			{CoffeeID: "coffee-bajawa", Counts: domain.PackageCounts{LargeBags: 20}},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := poolGrams(t, repo, "coffee-bajawa"); got != before {
		t.Fatalf("pool changed on rejected order: %d -> %d", before, got)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := staffCtx()

	cases := []struct {
		name string
		req  domain.OrderCreateRequest
		want error
	}{
		{"missing shop", domain.OrderCreateRequest{Items: []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{LargeBags: 1}}}}, store.ErrValidation},
		{"unknown shop", domain.OrderCreateRequest{ShopID: "shop-nowhere", Items: []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{LargeBags: 1}}}}, store.ErrNotFound},
		{"no items", domain.OrderCreateRequest{ShopID: "shop-menteng"}, store.ErrValidation},
		{"unknown coffee", domain.OrderCreateRequest{ShopID: "shop-menteng", Items: []domain.OrderItemRequest{{CoffeeID: "coffee-nope", Counts: domain.PackageCounts{LargeBags: 1}}}}, store.ErrNotFound},
		{"zero counts", domain.OrderCreateRequest{ShopID: "shop-menteng", Items: []domain.OrderItemRequest{{CoffeeID: "coffee-gayo"}}}, store.ErrValidation},
		{"negative counts", domain.OrderCreateRequest{ShopID: "shop-menteng", Items: []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{SmallFilter: -1, LargeBags: 2}}}}, store.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := svc.CreateOrder(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestCreateOrderRequiresActor(t *testing.T) {
	svc := newService(memory.NewSeeded())
	_, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{LargeBags: 1}}},
	})
	if err == nil {
		t.Fatal("expected error without authenticated actor")
	}
}

func TestLegacySmallBagsNormalization(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := staffCtx()

	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-toraja", LegacySmallBags: 2}},
	})
	if err != nil {
		t.Fatalf("CreateOrder with legacy field: %v", err)
	}
	item := resp.Order.Items[0]
	if item.Counts.SmallEspresso != 2 {
		t.Fatalf("legacy small_bags not folded into small espresso: %+v", item.Counts)
	}
	if item.RetailGrams != 400 {
		t.Fatalf("retail grams = %d, want 400", item.RetailGrams)
	}
}

func TestCancelRestoresExactly(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := adminCtx()

	before := poolGrams(t, repo, "coffee-kintamani")
	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-dago",
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-kintamani", Counts: domain.PackageCounts{SmallFilter: 3, MediumEspresso: 1}}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// A haircut change after creation must not affect the reversal; the
	// grams recorded on the items are authoritative.
	if _, err := svc.SetHaircutPercentage(ctx, 30); err != nil {
		t.Fatalf("SetHaircutPercentage: %v", err)
	}

	cancelled, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Order.Status)
	}
	if got := poolGrams(t, repo, "coffee-kintamani"); got != before {
		t.Fatalf("pool not restored exactly: %d, want %d", got, before)
	}

	inv, err := svc.ListShopInventory(ctx, "shop-dago")
	if err != nil {
		t.Fatalf("ListShopInventory: %v", err)
	}
	for _, row := range inv.Rows {
		if row.CoffeeID == "coffee-kintamani" && (!row.Counts.IsZero() || row.TotalGrams != 0) {
			t.Fatalf("inventory not reversed: %+v", row)
		}
	}
}

func TestCancelFromConfirmedReverses(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := staffCtx()

	before := poolGrams(t, repo, "coffee-gayo")
	resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{LargeBags: 1}}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, resp.Order.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel from confirmed: %v", err)
	}
	if got := poolGrams(t, repo, "coffee-gayo"); got != before {
		t.Fatalf("pool not restored after confirmed cancel: %d, want %d", got, before)
	}
}

func TestOrderStateMachine(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := staffCtx()

	newOrder := func() string {
		t.Helper()
		resp, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
			ShopID: "shop-menteng",
			Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{SmallEspresso: 1}}},
		})
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		return resp.Order.ID
	}

	// Happy path through to DELIVERED.
	id := newOrder()
	for _, status := range []string{domain.OrderStatusConfirmed, domain.OrderStatusRoasted, domain.OrderStatusDelivered} {
		if _, err := svc.TransitionOrder(ctx, id, status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	// Terminal states reject everything.
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusCancelled); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("DELIVERED->CANCELLED: got %v, want ErrInvalidTransition", err)
	}

	// Skipping a step is rejected.
	id = newOrder()
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusRoasted); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("PENDING->ROASTED: got %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusDelivered); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("PENDING->DELIVERED: got %v, want ErrInvalidTransition", err)
	}

	// ROASTED can only move forward.
	id = newOrder()
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusRoasted); err != nil {
		t.Fatalf("roast: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusCancelled); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("ROASTED->CANCELLED: got %v, want ErrInvalidTransition", err)
	}

	// Cancelled is terminal.
	id = newOrder()
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, id, domain.OrderStatusConfirmed); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("CANCELLED->CONFIRMED: got %v, want ErrInvalidTransition", err)
	}

	// Unknown target status.
	if _, err := svc.TransitionOrder(ctx, id, "SHIPPED"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("unknown status: got %v, want ErrInvalidTransition", err)
	}
}

func TestHaircutUpdate(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)

	setting, err := svc.GetHaircutPercentage(context.Background())
	if err != nil {
		t.Fatalf("GetHaircutPercentage: %v", err)
	}
	if setting.Percent != domain.DefaultHaircutPercent {
		t.Fatalf("default percent = %v, want %v", setting.Percent, domain.DefaultHaircutPercent)
	}

	if _, err := svc.SetHaircutPercentage(staffCtx(), 20); err == nil {
		t.Fatal("expected staff haircut update to be rejected")
	}
	if _, err := svc.SetHaircutPercentage(adminCtx(), 120); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("percent 120: got %v, want ErrValidation", err)
	}
	if _, err := svc.SetHaircutPercentage(adminCtx(), -1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("percent -1: got %v, want ErrValidation", err)
	}

	updated, err := svc.SetHaircutPercentage(adminCtx(), 10)
	if err != nil {
		t.Fatalf("SetHaircutPercentage: %v", err)
	}
	if updated.Percent != 10 || updated.UpdatedBy != "admin" {
		t.Fatalf("unexpected setting after update: %+v", updated)
	}

	// New percentage applies to the next order.
	resp, err := svc.CreateOrder(adminCtx(), domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{SmallFilter: 2}}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if got := resp.Order.Items[0].GreenGrams; got != 440 {
		t.Fatalf("green grams at 10%% = %d, want 440", got)
	}
}

func alertShop(t *testing.T, svc *Service) domain.Shop {
	t.Helper()
	// Only the small espresso class participates; zero minimums disable
	// the others.
	shop, err := svc.CreateShop(adminCtx(), domain.ShopCreateRequest{
		Name: "Kedai Alert", City: "Surabaya", MinSmallEspresso: 10,
	})
	if err != nil {
		t.Fatalf("CreateShop: %v", err)
	}
	return shop
}

func orderSmallEspresso(t *testing.T, svc *Service, shopID string, n int) {
	t.Helper()
	_, err := svc.CreateOrder(adminCtx(), domain.OrderCreateRequest{
		ShopID: shopID,
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{SmallEspresso: n}}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
}

func TestAlertClassification(t *testing.T) {
	svc := newService(memory.NewSeeded())
	shop := alertShop(t, svc)
	ctx := context.Background()

	// 1/10 = 10% < 15% critical threshold.
	orderSmallEspresso(t, svc, shop.ID, 1)
	state, err := svc.EvaluateInventoryAlerts(ctx, shop.ID)
	if err != nil {
		t.Fatalf("EvaluateInventoryAlerts: %v", err)
	}
	if state.Severity != domain.AlertSeverityCritical {
		t.Fatalf("severity = %s, want CRITICAL", state.Severity)
	}
	if !state.Logged {
		t.Fatal("first critical evaluation should log")
	}
	if len(state.Classes) != 1 || state.Classes[0].Class != "small_espresso" {
		t.Fatalf("unexpected classes: %+v", state.Classes)
	}

	// 4/10 = 40%: warning band.
	orderSmallEspresso(t, svc, shop.ID, 3)
	state, err = svc.EvaluateInventoryAlerts(ctx, shop.ID)
	if err != nil {
		t.Fatalf("EvaluateInventoryAlerts: %v", err)
	}
	if state.Severity != domain.AlertSeverityWarning {
		t.Fatalf("severity = %s, want WARNING", state.Severity)
	}
	if !state.Logged {
		t.Fatal("severity change should log")
	}

	// 6/10 = 60%: healthy.
	orderSmallEspresso(t, svc, shop.ID, 2)
	state, err = svc.EvaluateInventoryAlerts(ctx, shop.ID)
	if err != nil {
		t.Fatalf("EvaluateInventoryAlerts: %v", err)
	}
	if state.Severity != domain.AlertSeverityOK {
		t.Fatalf("severity = %s, want OK", state.Severity)
	}
	if state.Logged {
		t.Fatal("OK state must not log")
	}
}

func TestAlertIdempotentLogging(t *testing.T) {
	svc := newService(memory.NewSeeded())
	shop := alertShop(t, svc)
	ctx := context.Background()

	orderSmallEspresso(t, svc, shop.ID, 1)

	first, err := svc.EvaluateInventoryAlerts(ctx, shop.ID)
	if err != nil {
		t.Fatalf("EvaluateInventoryAlerts: %v", err)
	}
	if !first.Logged {
		t.Fatal("first evaluation should log")
	}
	for i := 0; i < 3; i++ {
		again, err := svc.EvaluateInventoryAlerts(ctx, shop.ID)
		if err != nil {
			t.Fatalf("EvaluateInventoryAlerts: %v", err)
		}
		if again.Logged {
			t.Fatalf("repeat evaluation %d logged despite unchanged severity", i)
		}
	}

	logs, err := svc.ListAlertLogs(ctx, shop.ID, 10)
	if err != nil {
		t.Fatalf("ListAlertLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected exactly 1 alert log, got %d", len(logs))
	}
	if logs[0].Severity != domain.AlertSeverityCritical {
		t.Fatalf("logged severity = %s, want CRITICAL", logs[0].Severity)
	}
	if len(logs[0].NotifiedUsers) == 0 {
		t.Fatal("expected admin users on the alert log")
	}
}

func TestAlertUnknownShopDegradesToOK(t *testing.T) {
	svc := newService(memory.NewSeeded())
	state, err := svc.EvaluateInventoryAlerts(context.Background(), "shop-missing")
	if err != nil {
		t.Fatalf("evaluation must not fail: %v", err)
	}
	if state.Severity != domain.AlertSeverityOK {
		t.Fatalf("severity = %s, want OK", state.Severity)
	}
}

func TestReconcileDuplicatesKeepsEarliest(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := adminCtx()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	counts := domain.PackageCounts{SmallFilter: 2, LargeBags: 1}

	// Three identical submissions minutes apart, the retry storm case.
	var itemIDs []string
	for i := 0; i < 3; i++ {
		created, err := repo.CreateOrder(ctx, domain.Order{
			ShopID:    "shop-menteng",
			OrderedBy: "staff",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Items:     []domain.OrderItem{{CoffeeID: "coffee-toraja", Counts: counts}},
		})
		if err != nil {
			t.Fatalf("CreateOrder %d: %v", i, err)
		}
		itemIDs = append(itemIDs, created.Items[0].ID)
	}

	// A differently shaped item in the same window must survive untouched.
	distinct, err := repo.CreateOrder(ctx, domain.Order{
		ShopID:    "shop-menteng",
		OrderedBy: "staff",
		CreatedAt: base.Add(5 * time.Minute),
		Items:     []domain.OrderItem{{CoffeeID: "coffee-toraja", Counts: domain.PackageCounts{SmallFilter: 1}}},
	})
	if err != nil {
		t.Fatalf("CreateOrder distinct: %v", err)
	}

	poolBefore := poolGrams(t, repo, "coffee-toraja")
	duplicateGreen := int64(0)
	for _, order := range mustOrders(t, svc, domain.OrderStatusPending) {
		for _, item := range order.Items {
			if item.ID == itemIDs[1] || item.ID == itemIDs[2] {
				duplicateGreen += item.GreenGrams
			}
		}
	}

	report, err := svc.ReconcileDuplicates(ctx, "")
	if err != nil {
		t.Fatalf("ReconcileDuplicates: %v", err)
	}
	if report.GroupsFound != 1 {
		t.Fatalf("groups found = %d, want 1", report.GroupsFound)
	}
	if report.ItemsDeleted != 2 || report.ItemsFailed != 0 {
		t.Fatalf("deleted=%d failed=%d, want 2/0", report.ItemsDeleted, report.ItemsFailed)
	}
	if len(report.Details) != 1 || report.Details[0].KeptOrderItem != itemIDs[0] {
		t.Fatalf("expected earliest item %s kept, details: %+v", itemIDs[0], report.Details)
	}

	if got := poolGrams(t, repo, "coffee-toraja"); got != poolBefore+duplicateGreen {
		t.Fatalf("pool after reconcile = %d, want %d", got, poolBefore+duplicateGreen)
	}

	// Earliest duplicate and the distinct item still exist, the rest are gone.
	remaining := map[string]bool{}
	for _, order := range mustOrders(t, svc, domain.OrderStatusPending) {
		for _, item := range order.Items {
			remaining[item.ID] = true
		}
	}
	if !remaining[itemIDs[0]] || !remaining[distinct.Items[0].ID] {
		t.Fatal("kept items missing after reconcile")
	}
	if remaining[itemIDs[1]] || remaining[itemIDs[2]] {
		t.Fatal("duplicate items still present after reconcile")
	}

	// Inventory reflects exactly one surviving duplicate plus the distinct
	// item.
	inv, err := svc.ListShopInventory(ctx, "shop-menteng")
	if err != nil {
		t.Fatalf("ListShopInventory: %v", err)
	}
	for _, row := range inv.Rows {
		if row.CoffeeID == "coffee-toraja" {
			want := counts.Add(domain.PackageCounts{SmallFilter: 1})
			if row.Counts != want {
				t.Fatalf("inventory counts = %+v, want %+v", row.Counts, want)
			}
		}
	}

	// A second pass finds nothing.
	report, err = svc.ReconcileDuplicates(ctx, "")
	if err != nil {
		t.Fatalf("second ReconcileDuplicates: %v", err)
	}
	if report.GroupsFound != 0 || report.ItemsDeleted != 0 {
		t.Fatalf("second pass should be a no-op, got %+v", report)
	}
}

func mustOrders(t *testing.T, svc *Service, status string) []domain.Order {
	t.Helper()
	resp, err := svc.ListOrders(adminCtx(), status, 100)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	return resp.Orders
}

func TestReconcileRequiresAdmin(t *testing.T) {
	svc := newService(memory.NewSeeded())
	if _, err := svc.ReconcileDuplicates(staffCtx(), ""); err == nil {
		t.Fatal("expected staff reconcile to be rejected")
	}
}

func TestReconcileIgnoresOtherStatuses(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newService(repo)
	ctx := adminCtx()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	counts := domain.PackageCounts{MediumEspresso: 2}
	var ids []string
	for i := 0; i < 2; i++ {
		created, err := repo.CreateOrder(ctx, domain.Order{
			ShopID:    "shop-dago",
			OrderedBy: "staff",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Items:     []domain.OrderItem{{CoffeeID: "coffee-gayo", Counts: counts}},
		})
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		ids = append(ids, created.ID)
	}

	// Confirmed orders are outside a PENDING-scoped pass.
	if _, err := repo.TransitionOrderStatus(ctx, ids[1], domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	report, err := svc.ReconcileDuplicates(ctx, domain.OrderStatusPending)
	if err != nil {
		t.Fatalf("ReconcileDuplicates: %v", err)
	}
	if report.ItemsDeleted != 0 {
		t.Fatalf("expected no deletions across statuses, got %d", report.ItemsDeleted)
	}
}

func TestAdminOnlyOperations(t *testing.T) {
	svc := newService(memory.NewSeeded())

	if _, err := svc.CreateCoffee(staffCtx(), domain.CoffeeCreateRequest{Name: "X", QuantityGrams: 1}); err == nil {
		t.Fatal("staff coffee create should fail")
	}
	if _, err := svc.CreateShop(staffCtx(), domain.ShopCreateRequest{Name: "X"}); err == nil {
		t.Fatal("staff shop create should fail")
	}
	if _, err := svc.ListAuditLogs(staffCtx(), 10); err == nil {
		t.Fatal("staff audit log read should fail")
	}

	if _, err := svc.ListAuditLogs(adminCtx(), 10); err != nil {
		t.Fatalf("admin audit log read: %v", err)
	}
}

func TestUpdateShopMinimums(t *testing.T) {
	svc := newService(memory.NewSeeded())
	ctx := adminCtx()

	two := 2
	updated, err := svc.UpdateShopMinimums(ctx, "shop-dago", domain.ShopMinimumsUpdateRequest{MinLargeBags: &two})
	if err != nil {
		t.Fatalf("UpdateShopMinimums: %v", err)
	}
	if updated.MinLargeBags != 2 {
		t.Fatalf("MinLargeBags = %d, want 2", updated.MinLargeBags)
	}
	// Untouched fields keep their seeded values.
	if updated.MinSmallEspresso != 8 {
		t.Fatalf("MinSmallEspresso = %d, want 8", updated.MinSmallEspresso)
	}

	neg := -1
	if _, err := svc.UpdateShopMinimums(ctx, "shop-dago", domain.ShopMinimumsUpdateRequest{MinSmallFilter: &neg}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("negative minimum: got %v, want ErrValidation", err)
	}
}

func TestAuditTrailWritten(t *testing.T) {
	svc := newService(memory.NewSeeded())
	ctx := adminCtx()

	if _, err := svc.SetHaircutPercentage(ctx, 12); err != nil {
		t.Fatalf("SetHaircutPercentage: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		ShopID: "shop-menteng",
		Items:  []domain.OrderItemRequest{{CoffeeID: "coffee-gayo", Counts: domain.PackageCounts{SmallEspresso: 1}}},
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
		if entry.ActorUsername != "admin" {
			t.Fatalf("audit actor = %s, want admin", entry.ActorUsername)
		}
	}
	if !actions["haircut_update"] || !actions["order_create"] {
		t.Fatalf("missing audit actions, got %v", actions)
	}
}
