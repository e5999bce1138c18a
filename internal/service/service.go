package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gudangkopi/internal/cache"
	"gudangkopi/internal/domain"
	"gudangkopi/internal/haircut"
	"gudangkopi/internal/metrics"
	"gudangkopi/internal/store"
	"gudangkopi/internal/unit"
	"gudangkopi/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	invCache        cache.InventoryCache
	metrics         *metrics.Metrics
	cacheTTL        time.Duration
	criticalPercent float64
	warningPercent  float64
}

func New(repo store.Repository, invCache cache.InventoryCache, m *metrics.Metrics, cacheTTL time.Duration, criticalPercent float64, warningPercent float64) *Service {
	if invCache == nil {
		invCache = cache.NoopInventoryCache{}
	}
	if m == nil {
		m = metrics.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if criticalPercent <= 0 || warningPercent <= criticalPercent {
		criticalPercent, warningPercent = 15, 50
	}

	return &Service{
		repo:            repo,
		invCache:        invCache,
		metrics:         m,
		cacheTTL:        cacheTTL,
		criticalPercent: criticalPercent,
		warningPercent:  warningPercent,
	}
}

func (s *Service) ListCoffees(ctx context.Context) ([]domain.Coffee, error) {
	return s.repo.ListCoffees(ctx)
}

func (s *Service) CreateCoffee(ctx context.Context, req domain.CoffeeCreateRequest) (domain.Coffee, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Coffee{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.QuantityGrams < 0 {
		return domain.Coffee{}, store.ErrValidation
	}

	created, err := s.repo.CreateCoffee(ctx, domain.Coffee{
		Name:          req.Name,
		Origin:        strings.TrimSpace(req.Origin),
		Process:       strings.TrimSpace(req.Process),
		QuantityGrams: req.QuantityGrams,
		Active:        true,
	})
	if err != nil {
		return domain.Coffee{}, err
	}

	s.logAudit(ctx, "coffee_create", "coffee", created.ID, fmt.Sprintf("name=%s,grams=%d", created.Name, created.QuantityGrams))
	return *created, nil
}

func (s *Service) ListShops(ctx context.Context) ([]domain.Shop, error) {
	return s.repo.ListShops(ctx)
}

func (s *Service) CreateShop(ctx context.Context, req domain.ShopCreateRequest) (domain.Shop, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Shop{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Shop{}, store.ErrValidation
	}
	if req.MinSmallEspresso < 0 || req.MinSmallFilter < 0 || req.MinMediumEspresso < 0 ||
		req.MinMediumFilter < 0 || req.MinLargeBags < 0 {
		return domain.Shop{}, store.ErrValidation
	}

	created, err := s.repo.CreateShop(ctx, domain.Shop{
		Name:              req.Name,
		City:              strings.TrimSpace(req.City),
		MinSmallEspresso:  req.MinSmallEspresso,
		MinSmallFilter:    req.MinSmallFilter,
		MinMediumEspresso: req.MinMediumEspresso,
		MinMediumFilter:   req.MinMediumFilter,
		MinLargeBags:      req.MinLargeBags,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return domain.Shop{}, err
	}

	s.logAudit(ctx, "shop_create", "shop", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateShopMinimums(ctx context.Context, shopID string, req domain.ShopMinimumsUpdateRequest) (domain.Shop, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Shop{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetShopByID(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}

	updated := *existing
	apply := func(dst *int, src *int) error {
		if src == nil {
			return nil
		}
		if *src < 0 {
			return store.ErrValidation
		}
		*dst = *src
		return nil
	}
	for _, pair := range []struct {
		dst *int
		src *int
	}{
		{&updated.MinSmallEspresso, req.MinSmallEspresso},
		{&updated.MinSmallFilter, req.MinSmallFilter},
		{&updated.MinMediumEspresso, req.MinMediumEspresso},
		{&updated.MinMediumFilter, req.MinMediumFilter},
		{&updated.MinLargeBags, req.MinLargeBags},
	} {
		if err := apply(pair.dst, pair.src); err != nil {
			return domain.Shop{}, err
		}
	}

	saved, err := s.repo.UpdateShopMinimums(ctx, updated)
	if err != nil {
		return domain.Shop{}, err
	}

	s.logAudit(ctx, "shop_minimums_update", "shop", saved.ID,
		fmt.Sprintf("se=%d,sf=%d,me=%d,mf=%d,lg=%d", saved.MinSmallEspresso, saved.MinSmallFilter,
			saved.MinMediumEspresso, saved.MinMediumFilter, saved.MinLargeBags))
	return *saved, nil
}

// normalizeItems folds the legacy small_bags field into the espresso
// counter. Backward-compatibility branching lives here only; every
// computation below this point sees the canonical five-counter shape.
func normalizeItems(items []domain.OrderItemRequest) []domain.OrderItemRequest {
	normalized := make([]domain.OrderItemRequest, 0, len(items))
	for _, item := range items {
		item.CoffeeID = strings.TrimSpace(item.CoffeeID)
		if item.LegacySmallBags > 0 {
			item.Counts.SmallEspresso += item.LegacySmallBags
			item.LegacySmallBags = 0
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.OrderResponse{}, fmt.Errorf("authenticated actor required")
	}

	req.ShopID = strings.TrimSpace(req.ShopID)
	if req.ShopID == "" || len(req.Items) == 0 {
		s.metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return domain.OrderResponse{}, store.ErrValidation
	}

	items := normalizeItems(req.Items)

	// Everything is validated before the ledger transaction starts; the
	// transaction re-checks stock under its own locks.
	if _, err := s.repo.GetShopByID(ctx, req.ShopID); err != nil {
		s.metrics.OrdersRejected.WithLabelValues("not_found").Inc()
		return domain.OrderResponse{}, err
	}
	orderItems := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if item.CoffeeID == "" || item.Counts.HasNegative() || item.Counts.IsZero() {
			s.metrics.OrdersRejected.WithLabelValues("validation").Inc()
			return domain.OrderResponse{}, store.ErrValidation
		}
		coffee, err := s.repo.GetCoffeeByID(ctx, item.CoffeeID)
		if err != nil {
			s.metrics.OrdersRejected.WithLabelValues("not_found").Inc()
			return domain.OrderResponse{}, err
		}
		if !coffee.Active {
			s.metrics.OrdersRejected.WithLabelValues("validation").Inc()
			return domain.OrderResponse{}, store.ErrValidation
		}
		orderItems = append(orderItems, domain.OrderItem{
			CoffeeID: item.CoffeeID,
			Counts:   item.Counts,
		})
	}

	created, err := s.repo.CreateOrder(ctx, domain.Order{
		ShopID:    req.ShopID,
		OrderedBy: actor.Username,
		Items:     orderItems,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.metrics.OrdersRejected.WithLabelValues("insufficient_stock").Inc()
		} else if errors.Is(err, store.ErrValidation) {
			s.metrics.OrdersRejected.WithLabelValues("validation").Inc()
		}
		return domain.OrderResponse{}, err
	}

	greenGrams := int64(0)
	for _, item := range created.Items {
		greenGrams += item.GreenGrams
	}
	s.metrics.OrdersCreated.Inc()
	s.metrics.GreenGramsDebited.Add(float64(greenGrams))
	s.invalidateInventory(ctx, created.ShopID)
	s.logAudit(ctx, "order_create", "order", created.ID,
		fmt.Sprintf("shop=%s,items=%d,green_grams=%d", created.ShopID, len(created.Items), greenGrams))

	return domain.OrderResponse{Order: *created}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderResponse, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	return domain.OrderResponse{Order: *order}, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int) (domain.OrderListResponse, error) {
	if status != "" && !domain.IsOrderStatus(status) {
		return domain.OrderListResponse{}, store.ErrValidation
	}
	orders, err := s.repo.ListOrdersByStatus(ctx, status, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{Orders: orders}, nil
}

func (s *Service) TransitionOrder(ctx context.Context, orderID string, newStatus string) (domain.OrderResponse, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.OrderResponse{}, fmt.Errorf("authenticated actor required")
	}

	newStatus = strings.ToUpper(strings.TrimSpace(newStatus))
	if !domain.IsOrderStatus(newStatus) || newStatus == domain.OrderStatusPending {
		return domain.OrderResponse{}, store.ErrInvalidTransition
	}

	updated, err := s.repo.TransitionOrderStatus(ctx, orderID, newStatus)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	if newStatus == domain.OrderStatusCancelled {
		s.metrics.OrdersCancelled.Inc()
		s.invalidateInventory(ctx, updated.ShopID)
	}
	s.logAudit(ctx, "order_transition", "order", updated.ID, fmt.Sprintf("status=%s", newStatus))

	return domain.OrderResponse{Order: *updated}, nil
}

func (s *Service) GetHaircutPercentage(ctx context.Context) (domain.HaircutSetting, error) {
	return s.repo.GetHaircutSetting(ctx)
}

func (s *Service) SetHaircutPercentage(ctx context.Context, percent float64) (domain.HaircutSetting, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.HaircutSetting{}, fmt.Errorf("admin role required")
	}
	if err := haircut.ValidatePercent(percent); err != nil {
		return domain.HaircutSetting{}, store.ErrValidation
	}

	previous, err := s.repo.GetHaircutSetting(ctx)
	if err != nil {
		return domain.HaircutSetting{}, err
	}

	saved, err := s.repo.UpdateHaircutSetting(ctx, domain.HaircutSetting{
		Percent:   percent,
		UpdatedBy: actor.Username,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.HaircutSetting{}, err
	}

	s.logAudit(ctx, "haircut_update", "haircut", "singleton",
		fmt.Sprintf("previous=%.2f,new=%.2f", previous.Percent, saved.Percent))
	return saved, nil
}

func (s *Service) ListShopInventory(ctx context.Context, shopID string) (domain.InventoryListResponse, error) {
	rows, err := s.shopInventory(ctx, shopID)
	if err != nil {
		return domain.InventoryListResponse{}, err
	}
	return domain.InventoryListResponse{ShopID: shopID, Rows: rows}, nil
}

func (s *Service) shopInventory(ctx context.Context, shopID string) ([]domain.RetailInventory, error) {
	if rows, found, err := s.invCache.Get(ctx, shopID); err == nil && found {
		return rows, nil
	} else if err != nil {
		log.Printf("[service] WARN: inventory cache read shop=%s: %v", shopID, err)
	}

	rows, err := s.repo.ListShopInventory(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if err := s.invCache.Set(ctx, shopID, rows, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: inventory cache write shop=%s: %v", shopID, err)
	}
	return rows, nil
}

func (s *Service) invalidateInventory(ctx context.Context, shopID string) {
	if err := s.invCache.Invalidate(ctx, shopID); err != nil {
		log.Printf("[service] WARN: inventory cache invalidate shop=%s: %v", shopID, err)
	}
}

// classSeverity applies the two-tier policy: below the critical threshold
// is CRITICAL, below the warning threshold is WARNING, otherwise OK.
func (s *Service) classSeverity(percent float64) string {
	switch {
	case percent < s.criticalPercent:
		return domain.AlertSeverityCritical
	case percent < s.warningPercent:
		return domain.AlertSeverityWarning
	default:
		return domain.AlertSeverityOK
	}
}

// EvaluateInventoryAlerts classifies a shop's packaged stock against its
// configured minimums. Evaluation failures degrade to OK: alerting must
// never block order flow.
func (s *Service) EvaluateInventoryAlerts(ctx context.Context, shopID string) (domain.AlertState, error) {
	state := domain.AlertState{
		ShopID:    shopID,
		Severity:  domain.AlertSeverityOK,
		CheckedAt: time.Now().UTC(),
	}

	shop, err := s.repo.GetShopByID(ctx, shopID)
	if err != nil {
		log.Printf("[service] WARN: alert evaluation shop=%s: %v", shopID, err)
		return state, nil
	}

	rows, err := s.shopInventory(ctx, shopID)
	if err != nil {
		log.Printf("[service] WARN: alert evaluation inventory shop=%s: %v", shopID, err)
		return state, nil
	}

	totals := domain.PackageCounts{}
	for _, row := range rows {
		totals = totals.Add(row.Counts)
	}

	minimums := map[unit.PackageType]int{
		unit.SmallEspresso:  shop.MinSmallEspresso,
		unit.SmallFilter:    shop.MinSmallFilter,
		unit.MediumEspresso: shop.MinMediumEspresso,
		unit.MediumFilter:   shop.MinMediumFilter,
		unit.LargeBags:      shop.MinLargeBags,
	}

	worst := domain.AlertSeverityOK
	for _, class := range unit.All() {
		minimum := minimums[class]
		if minimum <= 0 {
			continue
		}
		current := unit.Count(totals, class)
		percent := float64(current) / float64(minimum) * 100
		severity := s.classSeverity(percent)
		state.Classes = append(state.Classes, domain.AlertClassState{
			Class:    string(class),
			Current:  current,
			Minimum:  minimum,
			Percent:  percent,
			Severity: severity,
		})
		if severityRank(severity) > severityRank(worst) {
			worst = severity
		}
	}
	state.Severity = worst

	if worst == domain.AlertSeverityOK {
		return state, nil
	}

	// Idempotent under repeated evaluation: log only when the severity
	// differs from the last logged state for this shop.
	last, err := s.repo.GetLastAlertLog(ctx, shopID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[service] WARN: alert log lookup shop=%s: %v", shopID, err)
		return state, nil
	}
	if last != nil && last.Severity == worst {
		return state, nil
	}

	entry := domain.AlertLog{
		ID:            xid.New("alert"),
		ShopID:        shopID,
		Severity:      worst,
		Classes:       state.Classes,
		NotifiedUsers: s.adminUsernames(ctx),
		CreatedAt:     state.CheckedAt,
	}
	if _, err := s.repo.CreateAlertLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: alert log append shop=%s: %v", shopID, err)
		return state, nil
	}
	state.Logged = true
	s.metrics.AlertsRaised.WithLabelValues(worst).Inc()

	return state, nil
}

func severityRank(severity string) int {
	switch severity {
	case domain.AlertSeverityCritical:
		return 2
	case domain.AlertSeverityWarning:
		return 1
	}
	return 0
}

func (s *Service) adminUsernames(ctx context.Context) []string {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		log.Printf("[service] WARN: listing users for alert notification: %v", err)
		return nil
	}
	admins := make([]string, 0, len(users))
	for _, u := range users {
		if u.Role == domain.RoleAdmin && u.Active {
			admins = append(admins, u.Username)
		}
	}
	return admins
}

func (s *Service) ListAlertLogs(ctx context.Context, shopID string, limit int) ([]domain.AlertLog, error) {
	return s.repo.ListAlertLogs(ctx, shopID, limit)
}

// duplicateKey identifies an exact duplicate: same package counts and the
// same retail weight.
func duplicateKey(item domain.OrderItem) string {
	return fmt.Sprintf("%d|%d|%d|%d|%d|%d",
		item.Counts.SmallEspresso, item.Counts.SmallFilter,
		item.Counts.MediumEspresso, item.Counts.MediumFilter,
		item.Counts.LargeBags, item.RetailGrams)
}

// ReconcileDuplicates merges order items duplicated by retried
// submissions. Within each (shop, coffee) group, items whose counts and
// retail grams match exactly form a cluster; the earliest survives and
// the rest are deleted with their ledger effect reversed. A single failed
// deletion does not abort the pass.
func (s *Service) ReconcileDuplicates(ctx context.Context, statusFilter string) (domain.ReconciliationReport, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ReconciliationReport{}, fmt.Errorf("admin role required")
	}

	statusFilter = strings.ToUpper(strings.TrimSpace(statusFilter))
	if statusFilter == "" {
		statusFilter = domain.OrderStatusPending
	}
	if !domain.IsOrderStatus(statusFilter) {
		return domain.ReconciliationReport{}, store.ErrValidation
	}

	candidates, err := s.repo.ListReconcileCandidates(ctx, statusFilter)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	// Candidates arrive ordered by order creation time ascending, so the
	// first member of every cluster is the one to keep.
	type cluster struct {
		shopID   string
		coffeeID string
		items    []domain.OrderItem
	}
	clusters := make(map[string]*cluster)
	orderKeys := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		key := cand.ShopID + "|" + cand.Item.CoffeeID + "|" + duplicateKey(cand.Item)
		c, ok := clusters[key]
		if !ok {
			c = &cluster{shopID: cand.ShopID, coffeeID: cand.Item.CoffeeID}
			clusters[key] = c
			orderKeys = append(orderKeys, key)
		}
		c.items = append(c.items, cand.Item)
	}

	report := domain.ReconciliationReport{
		StatusFilter: statusFilter,
		ReconciledAt: time.Now().UTC().Format(time.RFC3339),
	}
	touchedShops := make(map[string]struct{})
	for _, key := range orderKeys {
		c := clusters[key]
		if len(c.items) < 2 {
			continue
		}
		report.GroupsFound++

		detail := domain.ReconciliationDetail{
			ShopID:        c.shopID,
			CoffeeID:      c.coffeeID,
			KeptOrderItem: c.items[0].ID,
		}
		for _, item := range c.items[1:] {
			deleted, err := s.repo.DeleteOrderItemReversed(ctx, item.ID)
			if err != nil {
				log.Printf("[service] WARN: reconcile delete item=%s shop=%s coffee=%s: %v",
					item.ID, c.shopID, c.coffeeID, err)
				report.ItemsFailed++
				continue
			}
			detail.ItemsDeleted++
			detail.RetailGrams += deleted.RetailGrams
			detail.GreenGrams += deleted.GreenGrams
			report.ItemsDeleted++
			report.RetailGrams += deleted.RetailGrams
			report.GreenGrams += deleted.GreenGrams
			touchedShops[c.shopID] = struct{}{}
			s.metrics.DuplicatesRemoved.Inc()
		}
		report.Details = append(report.Details, detail)
	}

	for shopID := range touchedShops {
		s.invalidateInventory(ctx, shopID)
	}
	s.logAudit(ctx, "reconcile_duplicates", "order_item", statusFilter,
		fmt.Sprintf("groups=%d,deleted=%d,failed=%d,green_grams=%d",
			report.GroupsFound, report.ItemsDeleted, report.ItemsFailed, report.GreenGrams))

	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
