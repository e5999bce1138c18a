package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gudangkopi/internal/domain"
	"gudangkopi/internal/haircut"
	"gudangkopi/internal/store"
	"gudangkopi/internal/unit"
	"gudangkopi/internal/xid"
)

// Store is an in-memory Repository used for dev mode and tests. All
// ledger operations run under the write lock, which gives the same
// serialization guarantee the postgres store gets from row locking.
type Store struct {
	mu        sync.RWMutex
	coffees   map[string]domain.Coffee
	shops     map[string]domain.Shop
	inventory map[string]map[string]domain.RetailInventory
	orders    map[string]*domain.Order
	itemOwner map[string]string
	haircut   *domain.HaircutSetting
	alertLogs []domain.AlertLog
	auditLogs []domain.AuditLog
	users     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		coffees:   make(map[string]domain.Coffee),
		shops:     make(map[string]domain.Shop),
		inventory: make(map[string]map[string]domain.RetailInventory),
		orders:    make(map[string]*domain.Order),
		itemOwner: make(map[string]string),
		alertLogs: make([]domain.AlertLog, 0, 32),
		auditLogs: make([]domain.AuditLog, 0, 128),
		users:     make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, dev defaults are used with a warning. Production deployments use
// PostgreSQL (DATABASE_URL set) and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	coffees := []domain.Coffee{
		{ID: "coffee-gayo", Name: "Aceh Gayo", Origin: "Aceh", Process: "wet-hulled", QuantityGrams: 120_000, Active: true},
		{ID: "coffee-toraja", Name: "Toraja Sapan", Origin: "Sulawesi", Process: "washed", QuantityGrams: 80_000, Active: true},
		{ID: "coffee-kintamani", Name: "Bali Kintamani", Origin: "Bali", Process: "natural", QuantityGrams: 60_000, Active: true},
		{ID: "coffee-bajawa", Name: "Flores Bajawa", Origin: "Flores", Process: "honey", QuantityGrams: 40_000, Active: true},
	}
	for _, c := range coffees {
		s.coffees[c.ID] = c
	}

	shops := []domain.Shop{
		{ID: "shop-menteng", Name: "Kedai Menteng", City: "Jakarta", MinSmallEspresso: 10, MinSmallFilter: 10, MinMediumEspresso: 6, MinMediumFilter: 6, MinLargeBags: 4, CreatedAt: now},
		{ID: "shop-dago", Name: "Kedai Dago", City: "Bandung", MinSmallEspresso: 8, MinSmallFilter: 8, MinMediumEspresso: 4, MinMediumFilter: 4, MinLargeBags: 2, CreatedAt: now},
	}
	for _, sh := range shops {
		s.shops[sh.ID] = sh
		s.inventory[sh.ID] = make(map[string]domain.RetailInventory)
	}

	s.users = seedUsers()
	return s
}

func (s *Store) ListCoffees(_ context.Context) ([]domain.Coffee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coffees := make([]domain.Coffee, 0, len(s.coffees))
	for _, c := range s.coffees {
		coffees = append(coffees, c)
	}
	sort.Slice(coffees, func(i, j int) bool { return coffees[i].Name < coffees[j].Name })
	return coffees, nil
}

func (s *Store) GetCoffeeByID(_ context.Context, coffeeID string) (*domain.Coffee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coffee, ok := s.coffees[coffeeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := coffee
	return &copied, nil
}

func (s *Store) CreateCoffee(_ context.Context, coffee domain.Coffee) (*domain.Coffee, error) {
	if strings.TrimSpace(coffee.Name) == "" || coffee.QuantityGrams < 0 {
		return nil, store.ErrValidation
	}
	if coffee.ID == "" {
		coffee.ID = xid.New("coffee")
	}
	coffee.Active = true

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coffees[coffee.ID]; exists {
		return nil, store.ErrValidation
	}
	s.coffees[coffee.ID] = coffee
	created := coffee
	return &created, nil
}

func (s *Store) ListShops(_ context.Context) ([]domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shops := make([]domain.Shop, 0, len(s.shops))
	for _, sh := range s.shops {
		shops = append(shops, sh)
	}
	sort.Slice(shops, func(i, j int) bool { return shops[i].Name < shops[j].Name })
	return shops, nil
}

func (s *Store) GetShopByID(_ context.Context, shopID string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, ok := s.shops[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := shop
	return &copied, nil
}

func (s *Store) CreateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	if strings.TrimSpace(shop.Name) == "" {
		return nil, store.ErrValidation
	}
	if shop.ID == "" {
		shop.ID = xid.New("shop")
	}
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shops[shop.ID]; exists {
		return nil, store.ErrValidation
	}
	s.shops[shop.ID] = shop
	s.inventory[shop.ID] = make(map[string]domain.RetailInventory)
	created := shop
	return &created, nil
}

func (s *Store) UpdateShopMinimums(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.shops[shop.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.MinSmallEspresso = shop.MinSmallEspresso
	existing.MinSmallFilter = shop.MinSmallFilter
	existing.MinMediumEspresso = shop.MinMediumEspresso
	existing.MinMediumFilter = shop.MinMediumFilter
	existing.MinLargeBags = shop.MinLargeBags
	s.shops[shop.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) GetHaircutSetting(_ context.Context) (domain.HaircutSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haircutLocked(), nil
}

// haircutLocked returns the current setting, creating the default record
// on first access. Callers must hold the write lock.
func (s *Store) haircutLocked() domain.HaircutSetting {
	if s.haircut == nil {
		s.haircut = &domain.HaircutSetting{
			Percent:   domain.DefaultHaircutPercent,
			UpdatedAt: time.Now().UTC(),
		}
	}
	return *s.haircut
}

func (s *Store) UpdateHaircutSetting(_ context.Context, setting domain.HaircutSetting) (domain.HaircutSetting, error) {
	if err := haircut.ValidatePercent(setting.Percent); err != nil {
		return domain.HaircutSetting{}, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now().UTC()
	}
	s.haircut = &setting
	return setting, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shops[order.ShopID]; !ok {
		return nil, store.ErrNotFound
	}

	pct := s.haircutLocked().Percent

	// Validate everything and compute the full debit per coffee before any
	// mutation, so a failing item leaves no partial application.
	type itemEffect struct {
		coffeeID    string
		counts      domain.PackageCounts
		retailGrams int64
		greenGrams  int64
	}
	effects := make([]itemEffect, 0, len(order.Items))
	needed := make(map[string]int64, len(order.Items))
	for _, item := range order.Items {
		if item.Counts.HasNegative() || item.Counts.IsZero() {
			return nil, store.ErrValidation
		}
		coffee, ok := s.coffees[item.CoffeeID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if !coffee.Active {
			return nil, store.ErrValidation
		}
		retailGrams := unit.TotalGrams(item.Counts)
		greenGrams := haircut.GreenGrams(retailGrams, pct)
		needed[item.CoffeeID] += greenGrams
		effects = append(effects, itemEffect{
			coffeeID:    item.CoffeeID,
			counts:      item.Counts,
			retailGrams: retailGrams,
			greenGrams:  greenGrams,
		})
	}
	for coffeeID, greenGrams := range needed {
		coffee := s.coffees[coffeeID]
		if greenGrams > coffee.QuantityGrams {
			return nil, &store.InsufficientStockError{
				CoffeeID:       coffeeID,
				CoffeeName:     coffee.Name,
				RequestedGrams: greenGrams,
				AvailableGrams: coffee.QuantityGrams,
			}
		}
	}

	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.OrderStatusPending

	now := order.CreatedAt
	items := make([]domain.OrderItem, 0, len(effects))
	for _, eff := range effects {
		coffee := s.coffees[eff.coffeeID]
		coffee.QuantityGrams -= eff.greenGrams
		s.coffees[eff.coffeeID] = coffee

		s.upsertInventoryLocked(order.ShopID, eff.coffeeID, eff.counts, now)

		item := domain.OrderItem{
			ID:          xid.New("item"),
			OrderID:     order.ID,
			CoffeeID:    eff.coffeeID,
			Counts:      eff.counts,
			RetailGrams: eff.retailGrams,
			GreenGrams:  eff.greenGrams,
		}
		items = append(items, item)
		s.itemOwner[item.ID] = order.ID
	}
	order.Items = items

	stored := order
	s.orders[order.ID] = &stored
	created := cloneOrder(stored)
	return &created, nil
}

// upsertInventoryLocked increments the counts of a shop inventory row and
// recomputes TotalGrams from the new counts. Callers hold the write lock.
func (s *Store) upsertInventoryLocked(shopID string, coffeeID string, delta domain.PackageCounts, at time.Time) {
	rows, ok := s.inventory[shopID]
	if !ok {
		rows = make(map[string]domain.RetailInventory)
		s.inventory[shopID] = rows
	}
	row, ok := rows[coffeeID]
	if !ok {
		row = domain.RetailInventory{ShopID: shopID, CoffeeID: coffeeID}
	}
	row.Counts = row.Counts.Add(delta)
	row.TotalGrams = unit.TotalGrams(row.Counts)
	row.LastOrderAt = at
	rows[coffeeID] = row
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneOrder(*order)
	return &copied, nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, limit)
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(*order))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) TransitionOrderStatus(_ context.Context, orderID string, newStatus string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.CanTransitionOrder(order.Status, newStatus) {
		return nil, store.ErrInvalidTransition
	}

	if newStatus == domain.OrderStatusCancelled {
		// Exact inverse of the creation transfer, using the grams recorded
		// on the items so a haircut change since creation cannot skew it.
		now := time.Now().UTC()
		for _, item := range order.Items {
			coffee := s.coffees[item.CoffeeID]
			coffee.QuantityGrams += item.GreenGrams
			s.coffees[item.CoffeeID] = coffee

			s.reverseInventoryLocked(order.ShopID, item.CoffeeID, item.Counts, now)
		}
	}

	order.Status = newStatus
	copied := cloneOrder(*order)
	return &copied, nil
}

func (s *Store) reverseInventoryLocked(shopID string, coffeeID string, counts domain.PackageCounts, at time.Time) {
	rows, ok := s.inventory[shopID]
	if !ok {
		return
	}
	row, ok := rows[coffeeID]
	if !ok {
		return
	}
	row.Counts = row.Counts.Sub(counts)
	row.TotalGrams = unit.TotalGrams(row.Counts)
	row.LastOrderAt = at
	rows[coffeeID] = row
}

func (s *Store) ListShopInventory(_ context.Context, shopID string) ([]domain.RetailInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.shops[shopID]; !ok {
		return nil, store.ErrNotFound
	}

	rows := make([]domain.RetailInventory, 0, len(s.inventory[shopID]))
	for _, row := range s.inventory[shopID] {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CoffeeID < rows[j].CoffeeID })
	return rows, nil
}

func (s *Store) ListReconcileCandidates(_ context.Context, status string) ([]domain.ReconcileCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]domain.ReconcileCandidate, 0, 32)
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		for _, item := range order.Items {
			candidates = append(candidates, domain.ReconcileCandidate{
				Item:           item,
				ShopID:         order.ShopID,
				OrderStatus:    order.Status,
				OrderCreatedAt: order.CreatedAt,
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].OrderCreatedAt.Equal(candidates[j].OrderCreatedAt) {
			return candidates[i].OrderCreatedAt.Before(candidates[j].OrderCreatedAt)
		}
		return candidates[i].Item.ID < candidates[j].Item.ID
	})
	return candidates, nil
}

func (s *Store) DeleteOrderItemReversed(_ context.Context, itemID string) (*domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderID, ok := s.itemOwner[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	order := s.orders[orderID]

	idx := -1
	for i, item := range order.Items {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	removed := order.Items[idx]

	coffee := s.coffees[removed.CoffeeID]
	coffee.QuantityGrams += removed.GreenGrams
	s.coffees[removed.CoffeeID] = coffee
	s.reverseInventoryLocked(order.ShopID, removed.CoffeeID, removed.Counts, time.Now().UTC())

	order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
	delete(s.itemOwner, itemID)

	copied := removed
	return &copied, nil
}

func (s *Store) GetLastAlertLog(_ context.Context, shopID string) (*domain.AlertLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.alertLogs) - 1; i >= 0; i-- {
		if s.alertLogs[i].ShopID == shopID {
			copied := s.alertLogs[i]
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateAlertLog(_ context.Context, entry domain.AlertLog) (*domain.AlertLog, error) {
	if entry.ID == "" {
		entry.ID = xid.New("alert")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.alertLogs = append(s.alertLogs, entry)
	created := entry
	return &created, nil
}

func (s *Store) ListAlertLogs(_ context.Context, shopID string, limit int) ([]domain.AlertLog, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AlertLog, 0, limit)
	for i := len(s.alertLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		if shopID == "" || s.alertLogs[i].ShopID == shopID {
			logs = append(logs, s.alertLogs[i])
		}
	}
	return logs, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		logs = append(logs, s.auditLogs[i])
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrValidation
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	copied := order
	copied.Items = make([]domain.OrderItem, len(order.Items))
	copy(copied.Items, order.Items)
	return copied
}
