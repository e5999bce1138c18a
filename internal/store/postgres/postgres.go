package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gudangkopi/internal/domain"
	"gudangkopi/internal/haircut"
	"gudangkopi/internal/store"
	"gudangkopi/internal/unit"
	"gudangkopi/internal/xid"
)

// Store is the PostgreSQL-backed Repository. Ledger operations run in
// serializable transactions and lock the rows they are about to mutate,
// so concurrent orders against the same coffee serialize on the stock
// check.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListCoffees(ctx context.Context) ([]domain.Coffee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, origin, process, quantity_grams, active
		FROM green_coffees
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coffees := make([]domain.Coffee, 0, 32)
	for rows.Next() {
		var c domain.Coffee
		if err := rows.Scan(&c.ID, &c.Name, &c.Origin, &c.Process, &c.QuantityGrams, &c.Active); err != nil {
			return nil, err
		}
		coffees = append(coffees, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return coffees, nil
}

func (s *Store) GetCoffeeByID(ctx context.Context, coffeeID string) (*domain.Coffee, error) {
	var c domain.Coffee
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, origin, process, quantity_grams, active
		FROM green_coffees
		WHERE id = $1
	`, coffeeID).Scan(&c.ID, &c.Name, &c.Origin, &c.Process, &c.QuantityGrams, &c.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCoffee(ctx context.Context, coffee domain.Coffee) (*domain.Coffee, error) {
	if strings.TrimSpace(coffee.Name) == "" || coffee.QuantityGrams < 0 {
		return nil, store.ErrValidation
	}
	if coffee.ID == "" {
		coffee.ID = xid.New("coffee")
	}
	coffee.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO green_coffees (id, name, origin, process, quantity_grams, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
	`, coffee.ID, coffee.Name, coffee.Origin, coffee.Process, coffee.QuantityGrams, coffee.Active)
	if err != nil {
		return nil, err
	}

	created := coffee
	return &created, nil
}

func (s *Store) ListShops(ctx context.Context) ([]domain.Shop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, city, min_small_espresso, min_small_filter,
		       min_medium_espresso, min_medium_filter, min_large_bags, created_at
		FROM shops
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shops := make([]domain.Shop, 0, 16)
	for rows.Next() {
		var sh domain.Shop
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.City, &sh.MinSmallEspresso, &sh.MinSmallFilter,
			&sh.MinMediumEspresso, &sh.MinMediumFilter, &sh.MinLargeBags, &sh.CreatedAt); err != nil {
			return nil, err
		}
		sh.CreatedAt = sh.CreatedAt.UTC()
		shops = append(shops, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shops, nil
}

func (s *Store) GetShopByID(ctx context.Context, shopID string) (*domain.Shop, error) {
	var sh domain.Shop
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, city, min_small_espresso, min_small_filter,
		       min_medium_espresso, min_medium_filter, min_large_bags, created_at
		FROM shops
		WHERE id = $1
	`, shopID).Scan(&sh.ID, &sh.Name, &sh.City, &sh.MinSmallEspresso, &sh.MinSmallFilter,
		&sh.MinMediumEspresso, &sh.MinMediumFilter, &sh.MinLargeBags, &sh.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sh.CreatedAt = sh.CreatedAt.UTC()
	return &sh, nil
}

func (s *Store) CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	if strings.TrimSpace(shop.Name) == "" {
		return nil, store.ErrValidation
	}
	if shop.ID == "" {
		shop.ID = xid.New("shop")
	}
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, city, min_small_espresso, min_small_filter,
		                   min_medium_espresso, min_medium_filter, min_large_bags, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shop.ID, shop.Name, shop.City, shop.MinSmallEspresso, shop.MinSmallFilter,
		shop.MinMediumEspresso, shop.MinMediumFilter, shop.MinLargeBags, shop.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := shop
	return &created, nil
}

func (s *Store) UpdateShopMinimums(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shops
		SET min_small_espresso = $2, min_small_filter = $3, min_medium_espresso = $4,
		    min_medium_filter = $5, min_large_bags = $6
		WHERE id = $1
	`, shop.ID, shop.MinSmallEspresso, shop.MinSmallFilter,
		shop.MinMediumEspresso, shop.MinMediumFilter, shop.MinLargeBags)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetShopByID(ctx, shop.ID)
}

func (s *Store) GetHaircutSetting(ctx context.Context) (domain.HaircutSetting, error) {
	setting, err := s.readHaircut(ctx, s.db)
	if err == nil {
		return setting, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.HaircutSetting{}, err
	}

	// First access creates the default record. ON CONFLICT keeps this
	// idempotent under concurrent first reads.
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO haircut_settings (id, percent, updated_by, updated_at)
		VALUES (1, $1, '', $2)
		ON CONFLICT (id) DO NOTHING
	`, domain.DefaultHaircutPercent, now)
	if err != nil {
		return domain.HaircutSetting{}, err
	}
	return s.readHaircut(ctx, s.db)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readHaircut(ctx context.Context, q rowQuerier) (domain.HaircutSetting, error) {
	var setting domain.HaircutSetting
	var updatedBy sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT percent, updated_by, updated_at
		FROM haircut_settings
		WHERE id = 1
	`).Scan(&setting.Percent, &updatedBy, &setting.UpdatedAt)
	if err != nil {
		return domain.HaircutSetting{}, err
	}
	setting.UpdatedBy = updatedBy.String
	setting.UpdatedAt = setting.UpdatedAt.UTC()
	return setting, nil
}

func (s *Store) UpdateHaircutSetting(ctx context.Context, setting domain.HaircutSetting) (domain.HaircutSetting, error) {
	if err := haircut.ValidatePercent(setting.Percent); err != nil {
		return domain.HaircutSetting{}, store.ErrValidation
	}
	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO haircut_settings (id, percent, updated_by, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id)
		DO UPDATE SET percent = EXCLUDED.percent, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	`, setting.Percent, setting.UpdatedBy, setting.UpdatedAt)
	if err != nil {
		return domain.HaircutSetting{}, err
	}
	return setting, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.ShopID) == "" || len(order.Items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var shopID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM shops WHERE id = $1`, order.ShopID).Scan(&shopID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	// The haircut percentage is read inside the transaction, never cached
	// across requests.
	setting, err := s.readHaircut(ctx, tx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			setting = domain.HaircutSetting{Percent: domain.DefaultHaircutPercent}
		} else {
			return nil, err
		}
	}

	coffeeIDs := make([]string, 0, len(order.Items))
	seen := make(map[string]struct{}, len(order.Items))
	for _, item := range order.Items {
		if item.Counts.HasNegative() || item.Counts.IsZero() {
			return nil, store.ErrValidation
		}
		if _, ok := seen[item.CoffeeID]; !ok {
			seen[item.CoffeeID] = struct{}{}
			coffeeIDs = append(coffeeIDs, item.CoffeeID)
		}
	}

	coffeeRows, err := tx.QueryContext(ctx, `
		SELECT id, name, quantity_grams, active
		FROM green_coffees
		WHERE id = ANY($1)
		FOR UPDATE
	`, coffeeIDs)
	if err != nil {
		return nil, err
	}
	type coffeeState struct {
		name   string
		grams  int64
		active bool
	}
	coffees := make(map[string]coffeeState, len(coffeeIDs))
	for coffeeRows.Next() {
		var id string
		var cs coffeeState
		if err := coffeeRows.Scan(&id, &cs.name, &cs.grams, &cs.active); err != nil {
			_ = coffeeRows.Close()
			return nil, err
		}
		coffees[id] = cs
	}
	if err := coffeeRows.Err(); err != nil {
		_ = coffeeRows.Close()
		return nil, err
	}
	_ = coffeeRows.Close()

	// Compute the full debit per coffee before mutating anything so a
	// failing item aborts with no partial application.
	needed := make(map[string]int64, len(coffeeIDs))
	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		coffee, ok := coffees[item.CoffeeID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if !coffee.active {
			return nil, store.ErrValidation
		}
		retailGrams := unit.TotalGrams(item.Counts)
		greenGrams := haircut.GreenGrams(retailGrams, setting.Percent)
		needed[item.CoffeeID] += greenGrams
		items = append(items, domain.OrderItem{
			CoffeeID:    item.CoffeeID,
			Counts:      item.Counts,
			RetailGrams: retailGrams,
			GreenGrams:  greenGrams,
		})
	}
	for coffeeID, greenGrams := range needed {
		coffee := coffees[coffeeID]
		if greenGrams > coffee.grams {
			return nil, &store.InsufficientStockError{
				CoffeeID:       coffeeID,
				CoffeeName:     coffee.name,
				RequestedGrams: greenGrams,
				AvailableGrams: coffee.grams,
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

	for coffeeID, greenGrams := range needed {
		_, err = tx.ExecContext(ctx, `
			UPDATE green_coffees
			SET quantity_grams = quantity_grams - $1, updated_at = now()
			WHERE id = $2
		`, greenGrams, coffeeID)
		if err != nil {
			return nil, err
		}
	}

	for i := range items {
		if err := applyInventoryTx(ctx, tx, order.ShopID, items[i].CoffeeID, items[i].Counts, order.CreatedAt); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, shop_id, status, ordered_by, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, order.ID, order.ShopID, order.Status, order.OrderedBy, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range items {
		items[i].ID = xid.New("item")
		items[i].OrderID = order.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, coffee_id, small_espresso, small_filter,
			                         medium_espresso, medium_filter, large_bags, retail_grams, green_grams)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, items[i].ID, order.ID, items[i].CoffeeID,
			items[i].Counts.SmallEspresso, items[i].Counts.SmallFilter,
			items[i].Counts.MediumEspresso, items[i].Counts.MediumFilter, items[i].Counts.LargeBags,
			items[i].RetailGrams, items[i].GreenGrams)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Items = items
	created := order
	return &created, nil
}

// applyInventoryTx increments a shop inventory row by delta. The row is
// locked first and total_grams is recomputed from the new counts through
// the shared conversion table, never incremented independently.
func applyInventoryTx(ctx context.Context, tx *sql.Tx, shopID string, coffeeID string, delta domain.PackageCounts, at time.Time) error {
	var counts domain.PackageCounts
	err := tx.QueryRowContext(ctx, `
		SELECT small_espresso, small_filter, medium_espresso, medium_filter, large_bags
		FROM retail_inventories
		WHERE shop_id = $1 AND coffee_id = $2
		FOR UPDATE
	`, shopID, coffeeID).Scan(&counts.SmallEspresso, &counts.SmallFilter,
		&counts.MediumEspresso, &counts.MediumFilter, &counts.LargeBags)
	if errors.Is(err, sql.ErrNoRows) {
		fresh := delta
		_, err = tx.ExecContext(ctx, `
			INSERT INTO retail_inventories (shop_id, coffee_id, small_espresso, small_filter,
			                                medium_espresso, medium_filter, large_bags, total_grams, last_order_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, shopID, coffeeID, fresh.SmallEspresso, fresh.SmallFilter, fresh.MediumEspresso,
			fresh.MediumFilter, fresh.LargeBags, unit.TotalGrams(fresh), at)
		return err
	}
	if err != nil {
		return err
	}

	updated := counts.Add(delta)
	_, err = tx.ExecContext(ctx, `
		UPDATE retail_inventories
		SET small_espresso = $3, small_filter = $4, medium_espresso = $5,
		    medium_filter = $6, large_bags = $7, total_grams = $8, last_order_at = $9
		WHERE shop_id = $1 AND coffee_id = $2
	`, shopID, coffeeID, updated.SmallEspresso, updated.SmallFilter, updated.MediumEspresso,
		updated.MediumFilter, updated.LargeBags, unit.TotalGrams(updated), at)
	return err
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, status, ordered_by, created_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.ShopID, &order.Status, &order.OrderedBy, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()

	items, err := s.orderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, coffee_id, small_espresso, small_filter,
		       medium_espresso, medium_filter, large_bags, retail_grams, green_grams
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 4)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.CoffeeID,
			&item.Counts.SmallEspresso, &item.Counts.SmallFilter,
			&item.Counts.MediumEspresso, &item.Counts.MediumFilter, &item.Counts.LargeBags,
			&item.RetailGrams, &item.GreenGrams); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, shop_id, status, ordered_by, created_at
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.ShopID, &order.Status, &order.OrderedBy, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) TransitionOrderStatus(ctx context.Context, orderID string, newStatus string) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus, shopID string
	err = tx.QueryRowContext(ctx, `
		SELECT status, shop_id
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&currentStatus, &shopID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if !domain.CanTransitionOrder(currentStatus, newStatus) {
		return nil, store.ErrInvalidTransition
	}

	if newStatus == domain.OrderStatusCancelled {
		// Reverse with the grams recorded at creation time; a haircut
		// change since then must not skew the restore.
		itemRows, err := tx.QueryContext(ctx, `
			SELECT coffee_id, small_espresso, small_filter, medium_espresso,
			       medium_filter, large_bags, green_grams
			FROM order_items
			WHERE order_id = $1
		`, orderID)
		if err != nil {
			return nil, err
		}
		type reversal struct {
			coffeeID   string
			counts     domain.PackageCounts
			greenGrams int64
		}
		reversals := make([]reversal, 0, 4)
		for itemRows.Next() {
			var r reversal
			if err := itemRows.Scan(&r.coffeeID, &r.counts.SmallEspresso, &r.counts.SmallFilter,
				&r.counts.MediumEspresso, &r.counts.MediumFilter, &r.counts.LargeBags, &r.greenGrams); err != nil {
				_ = itemRows.Close()
				return nil, err
			}
			reversals = append(reversals, r)
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		_ = itemRows.Close()

		now := time.Now().UTC()
		for _, r := range reversals {
			_, err = tx.ExecContext(ctx, `
				UPDATE green_coffees
				SET quantity_grams = quantity_grams + $1, updated_at = now()
				WHERE id = $2
			`, r.greenGrams, r.coffeeID)
			if err != nil {
				return nil, err
			}
			if err := reverseInventoryTx(ctx, tx, shopID, r.coffeeID, r.counts, now); err != nil {
				return nil, err
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2 WHERE id = $1
	`, orderID, newStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOrderByID(ctx, orderID)
}

func reverseInventoryTx(ctx context.Context, tx *sql.Tx, shopID string, coffeeID string, counts domain.PackageCounts, at time.Time) error {
	var current domain.PackageCounts
	err := tx.QueryRowContext(ctx, `
		SELECT small_espresso, small_filter, medium_espresso, medium_filter, large_bags
		FROM retail_inventories
		WHERE shop_id = $1 AND coffee_id = $2
		FOR UPDATE
	`, shopID, coffeeID).Scan(&current.SmallEspresso, &current.SmallFilter,
		&current.MediumEspresso, &current.MediumFilter, &current.LargeBags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	updated := current.Sub(counts)
	_, err = tx.ExecContext(ctx, `
		UPDATE retail_inventories
		SET small_espresso = $3, small_filter = $4, medium_espresso = $5,
		    medium_filter = $6, large_bags = $7, total_grams = $8, last_order_at = $9
		WHERE shop_id = $1 AND coffee_id = $2
	`, shopID, coffeeID, updated.SmallEspresso, updated.SmallFilter, updated.MediumEspresso,
		updated.MediumFilter, updated.LargeBags, unit.TotalGrams(updated), at)
	return err
}

func (s *Store) ListShopInventory(ctx context.Context, shopID string) ([]domain.RetailInventory, error) {
	if _, err := s.GetShopByID(ctx, shopID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT shop_id, coffee_id, small_espresso, small_filter, medium_espresso,
		       medium_filter, large_bags, total_grams, last_order_at
		FROM retail_inventories
		WHERE shop_id = $1
		ORDER BY coffee_id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inventory := make([]domain.RetailInventory, 0, 16)
	for rows.Next() {
		var row domain.RetailInventory
		if err := rows.Scan(&row.ShopID, &row.CoffeeID,
			&row.Counts.SmallEspresso, &row.Counts.SmallFilter, &row.Counts.MediumEspresso,
			&row.Counts.MediumFilter, &row.Counts.LargeBags, &row.TotalGrams, &row.LastOrderAt); err != nil {
			return nil, err
		}
		row.LastOrderAt = row.LastOrderAt.UTC()
		inventory = append(inventory, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inventory, nil
}

func (s *Store) ListReconcileCandidates(ctx context.Context, status string) ([]domain.ReconcileCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.coffee_id, oi.small_espresso, oi.small_filter,
		       oi.medium_espresso, oi.medium_filter, oi.large_bags, oi.retail_grams, oi.green_grams,
		       o.shop_id, o.status, o.created_at
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE ($1 = '' OR o.status = $1)
		ORDER BY o.created_at ASC, oi.id ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]domain.ReconcileCandidate, 0, 64)
	for rows.Next() {
		var cand domain.ReconcileCandidate
		if err := rows.Scan(&cand.Item.ID, &cand.Item.OrderID, &cand.Item.CoffeeID,
			&cand.Item.Counts.SmallEspresso, &cand.Item.Counts.SmallFilter,
			&cand.Item.Counts.MediumEspresso, &cand.Item.Counts.MediumFilter, &cand.Item.Counts.LargeBags,
			&cand.Item.RetailGrams, &cand.Item.GreenGrams,
			&cand.ShopID, &cand.OrderStatus, &cand.OrderCreatedAt); err != nil {
			return nil, err
		}
		cand.OrderCreatedAt = cand.OrderCreatedAt.UTC()
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (s *Store) DeleteOrderItemReversed(ctx context.Context, itemID string) (*domain.OrderItem, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item domain.OrderItem
	var shopID string
	err = tx.QueryRowContext(ctx, `
		SELECT oi.id, oi.order_id, oi.coffee_id, oi.small_espresso, oi.small_filter,
		       oi.medium_espresso, oi.medium_filter, oi.large_bags, oi.retail_grams, oi.green_grams,
		       o.shop_id
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.id = $1
		FOR UPDATE OF oi
	`, itemID).Scan(&item.ID, &item.OrderID, &item.CoffeeID,
		&item.Counts.SmallEspresso, &item.Counts.SmallFilter,
		&item.Counts.MediumEspresso, &item.Counts.MediumFilter, &item.Counts.LargeBags,
		&item.RetailGrams, &item.GreenGrams, &shopID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE green_coffees
		SET quantity_grams = quantity_grams + $1, updated_at = now()
		WHERE id = $2
	`, item.GreenGrams, item.CoffeeID)
	if err != nil {
		return nil, err
	}
	if err := reverseInventoryTx(ctx, tx, shopID, item.CoffeeID, item.Counts, time.Now().UTC()); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLastAlertLog(ctx context.Context, shopID string) (*domain.AlertLog, error) {
	var entry domain.AlertLog
	var classes, notified []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, severity, classes, notified_users, created_at
		FROM alert_logs
		WHERE shop_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, shopID).Scan(&entry.ID, &entry.ShopID, &entry.Severity, &classes, &notified, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(classes, &entry.Classes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(notified, &entry.NotifiedUsers); err != nil {
		return nil, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

func (s *Store) CreateAlertLog(ctx context.Context, entry domain.AlertLog) (*domain.AlertLog, error) {
	if entry.ID == "" {
		entry.ID = xid.New("alert")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	classes, err := json.Marshal(entry.Classes)
	if err != nil {
		return nil, err
	}
	notified, err := json.Marshal(entry.NotifiedUsers)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_logs (id, shop_id, severity, classes, notified_users, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.ShopID, entry.Severity, classes, notified, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) ListAlertLogs(ctx context.Context, shopID string, limit int) ([]domain.AlertLog, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, severity, classes, notified_users, created_at
		FROM alert_logs
		WHERE ($1 = '' OR shop_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AlertLog, 0, limit)
	for rows.Next() {
		var entry domain.AlertLog
		var classes, notified []byte
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.Severity, &classes, &notified, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(classes, &entry.Classes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(notified, &entry.NotifiedUsers); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
