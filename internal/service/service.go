// Package service is the order transaction engine. Every operation runs as one
// unit of work spanning orders, stock, the cash journal and table occupancy;
// notifications go out only after the unit commits.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/cashledger"
	"mesa/backend/internal/catalog"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/inventory"
	"mesa/backend/internal/pricing"
	"mesa/backend/internal/store"
	"mesa/backend/internal/tables"
	"mesa/backend/internal/xid"
)

// Notifier receives committed order changes. Implementations must not block.
type Notifier interface {
	OnOrderCreated(order domain.Order)
	OnOrderChanged(order domain.Order)
}

type noopNotifier struct{}

func (noopNotifier) OnOrderCreated(domain.Order) {}
func (noopNotifier) OnOrderChanged(domain.Order) {}

type Service struct {
	store     store.Store
	catalog   *catalog.Reader
	inventory *inventory.Ledger
	cash      *cashledger.Ledger
	tables    *tables.Registry
	notifier  Notifier
	now       func() time.Time
}

func New(s store.Store, menus *catalog.Reader, stock *inventory.Ledger, cash *cashledger.Ledger, registry *tables.Registry, notifier Notifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		store:     s,
		catalog:   menus,
		inventory: stock,
		cash:      cash,
		tables:    registry,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ResolveRestaurant(ctx context.Context, ref string) (domain.Restaurant, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Restaurant{}, domain.ErrNotFound
	}
	var restaurant domain.Restaurant
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		restaurant, err = tx.GetRestaurant(ctx, ref)
		return err
	})
	return restaurant, err
}

func (s *Service) Menu(ctx context.Context, ref string) (domain.Menu, error) {
	return s.catalog.Menu(ctx, ref)
}

type pricedLine struct {
	product domain.Product
	result  pricing.Result
	request domain.ItemRequest
}

func (s *Service) priceItems(menu *domain.Menu, items []domain.ItemRequest) ([]pricedLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrInvalidRequest)
	}
	now := s.now()
	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		product, result, err := pricing.PriceItem(menu, item, now)
		if err != nil {
			return nil, err
		}
		lines = append(lines, pricedLine{product: product, result: result, request: item})
	}
	return lines, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	menu, err := s.catalog.Menu(ctx, req.Restaurant)
	if err != nil {
		return domain.Order{}, err
	}
	if err := normalizeCreate(&req); err != nil {
		return domain.Order{}, err
	}
	lines, err := s.priceItems(&menu, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	var (
		order   domain.Order
		created bool
	)
	attempt := func() error {
		return s.store.WithinTx(ctx, func(tx store.Tx) error {
			var err error
			order, created, err = s.createOrderTx(ctx, tx, menu.Restaurant, req, lines)
			return err
		})
	}
	err = attempt()
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent request opened the table first; the retry appends to it.
		err = attempt()
	}
	if err != nil {
		return domain.Order{}, err
	}

	if created {
		s.notifier.OnOrderCreated(order)
	} else {
		s.notifier.OnOrderChanged(order)
	}
	return order, nil
}

func normalizeCreate(req *domain.CreateOrderRequest) error {
	req.OrderType = strings.ToUpper(strings.TrimSpace(req.OrderType))
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypePickup
		if req.TableNumber != nil {
			req.OrderType = domain.OrderTypeTable
		}
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	switch req.OrderType {
	case domain.OrderTypeTable:
		if req.TableNumber == nil || *req.TableNumber < 1 {
			return fmt.Errorf("%w: table orders need a table number", domain.ErrInvalidRequest)
		}
	case domain.OrderTypeDelivery:
		if req.DeliveryInfo == nil || strings.TrimSpace(req.DeliveryInfo.Phone) == "" || strings.TrimSpace(req.DeliveryInfo.Address) == "" {
			return fmt.Errorf("%w: delivery orders need a phone and an address", domain.ErrInvalidRequest)
		}
		req.TableNumber = nil
	case domain.OrderTypePickup:
		req.TableNumber = nil
	default:
		return fmt.Errorf("%w: unknown order type %q", domain.ErrInvalidRequest, req.OrderType)
	}
	return nil
}

// createOrderTx reports created=false when the table already had an open order
// and the items were appended to it instead.
func (s *Service) createOrderTx(ctx context.Context, tx store.Tx, restaurant domain.Restaurant, req domain.CreateOrderRequest, lines []pricedLine) (domain.Order, bool, error) {
	if req.OrderType == domain.OrderTypeTable {
		existing, err := tx.FindOpenOrderByTable(ctx, restaurant.ID, *req.TableNumber)
		if err == nil {
			order, err := s.appendItemsTx(ctx, tx, existing, restaurant.Settings, lines)
			return order, false, err
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, false, err
		}
	}

	now := s.now()
	businessDate := businessDay(now, restaurant.Settings.Timezone)
	seq, err := tx.NextOrderSequence(ctx, restaurant.ID, businessDate)
	if err != nil {
		return domain.Order{}, false, err
	}

	order := domain.Order{
		ID:            xid.New("ord"),
		RestaurantID:  restaurant.ID,
		Type:          req.OrderType,
		TableNumber:   req.TableNumber,
		Status:        initialStatus(restaurant.Settings),
		Sequence:      seq,
		BusinessDate:  businessDate,
		PaymentMethod: req.PaymentMethod,
		StaffID:       staffID(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.OrderType == domain.OrderTypeDelivery {
		order.DeliveryFee = restaurant.Settings.DeliveryFee
		order.DeliveryStatus = deliveryStatusFor(order.Status)
	}
	if req.DeliveryInfo != nil && req.OrderType != domain.OrderTypeTable {
		info := *req.DeliveryInfo
		order.Delivery = &info
		customerID, err := s.upsertCustomerTx(ctx, tx, restaurant.ID, info, now)
		if err != nil {
			return domain.Order{}, false, err
		}
		order.CustomerID = customerID
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return domain.Order{}, false, err
	}

	items := buildItems(order.ID, lines, now)
	if err := tx.InsertOrderItems(ctx, items); err != nil {
		return domain.Order{}, false, err
	}
	total, err := tx.AdjustOrderTotal(ctx, order.ID, sumLines(items).Add(order.DeliveryFee))
	if err != nil {
		return domain.Order{}, false, err
	}
	order.Total = total

	if order.TableNumber != nil {
		if _, err := s.tables.OccupyTx(ctx, tx, restaurant.ID, *order.TableNumber); err != nil {
			return domain.Order{}, false, err
		}
	}

	if req.PaymentMethod != "" && total.IsPositive() {
		session, err := s.cash.OpenSessionTx(ctx, tx, restaurant.ID)
		if err != nil {
			return domain.Order{}, false, err
		}
		if session != nil {
			if _, err := s.cash.JournalOrderIncomeTx(ctx, tx, order, session, total, req.PaymentMethod, restaurant.Settings); err != nil {
				return domain.Order{}, false, err
			}
			order.PaidAt = &now
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return domain.Order{}, false, err
			}
		}
	}

	if err := audit.Record(ctx, tx, restaurant.ID, "order_create", "order", order.ID,
		fmt.Sprintf("type=%s,items=%d,total=%s", order.Type, len(items), total.StringFixed(2))); err != nil {
		return domain.Order{}, false, err
	}
	saved, err := s.loadTx(ctx, tx, order.ID)
	return saved, true, err
}

func (s *Service) upsertCustomerTx(ctx context.Context, tx store.Tx, restaurantID string, info domain.DeliveryInfo, now time.Time) (string, error) {
	phone := strings.TrimSpace(info.Phone)
	if phone == "" {
		return "", nil
	}
	customer, err := tx.FindCustomerByPhone(ctx, restaurantID, phone)
	if err == nil {
		return customer.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	customer = domain.Customer{
		ID:           xid.New("cust"),
		RestaurantID: restaurantID,
		Name:         strings.TrimSpace(info.CustomerName),
		Phone:        phone,
		Address:      strings.TrimSpace(info.Address),
		Cashback:     decimal.Zero,
		CreatedAt:    now,
	}
	if err := tx.CreateCustomer(ctx, customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (s *Service) AddItems(ctx context.Context, orderID string, req domain.AddItemsRequest) (domain.Order, error) {
	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.IsTerminal() {
		return domain.Order{}, domain.ErrOrderClosed
	}
	menu, err := s.catalog.Menu(ctx, current.RestaurantID)
	if err != nil {
		return domain.Order{}, err
	}
	lines, err := s.priceItems(&menu, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order, err = s.appendItemsTx(ctx, tx, existing, menu.Restaurant.Settings, lines)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.notifier.OnOrderChanged(order)
	return order, nil
}

// appendItemsTx adds priced lines to an open order and sends it back to the
// kitchen as a freshly submitted order.
func (s *Service) appendItemsTx(ctx context.Context, tx store.Tx, order domain.Order, settings domain.RestaurantSettings, lines []pricedLine) (domain.Order, error) {
	if order.IsTerminal() {
		return domain.Order{}, domain.ErrOrderClosed
	}

	now := s.now()
	items := buildItems(order.ID, lines, now)
	if err := tx.InsertOrderItems(ctx, items); err != nil {
		return domain.Order{}, err
	}
	added := sumLines(items)
	if _, err := tx.AdjustOrderTotal(ctx, order.ID, added); err != nil {
		return domain.Order{}, err
	}

	order.Status = initialStatus(settings)
	if order.Type == domain.OrderTypeDelivery {
		order.DeliveryStatus = deliveryStatusFor(order.Status)
	}
	order.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}
	if err := audit.Record(ctx, tx, order.RestaurantID, "order_add_items", "order", order.ID,
		fmt.Sprintf("items=%d,added=%s", len(items), added.StringFixed(2))); err != nil {
		return domain.Order{}, err
	}
	return s.loadTx(ctx, tx, order.ID)
}

func buildItems(orderID string, lines []pricedLine, now time.Time) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ID:           xid.New("item"),
			OrderID:      orderID,
			ProductID:    line.product.ID,
			ProductName:  line.product.Name,
			Quantity:     line.request.Quantity,
			UnitPrice:    line.result.UnitPrice,
			Snapshot:     line.result.Snapshot,
			Observations: strings.TrimSpace(line.request.Observations),
			CreatedAt:    now,
		})
	}
	return items
}

func sumLines(items []domain.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = s.loadTx(ctx, tx, orderID)
		return err
	})
	return order, err
}

// loadTx reads the order with its items and payments and applies the tenant check.
func (s *Service) loadTx(ctx context.Context, tx store.Tx, orderID string) (domain.Order, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := audit.CheckTenant(ctx, order.RestaurantID); err != nil {
		return domain.Order{}, err
	}
	rows, err := tx.ListTransactionsByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Payments = make([]domain.FinancialTransaction, 0, len(rows))
	for _, ft := range rows {
		if ft.Direction == domain.DirectionIncome {
			order.Payments = append(order.Payments, ft)
		}
	}
	return order, nil
}

func (s *Service) ListOpenOrders(ctx context.Context, restaurantID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.ListOpenOrders(ctx, restaurantID)
		return err
	})
	return orders, err
}

func (s *Service) ListAuditLogs(ctx context.Context, restaurantID string, limit int) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		logs, err = tx.ListAuditLogs(ctx, restaurantID, limit)
		return err
	})
	return logs, err
}

func initialStatus(settings domain.RestaurantSettings) string {
	if settings.AutoAcceptOrders {
		return domain.OrderStatusPreparing
	}
	return domain.OrderStatusPending
}

// businessDay is the restaurant's local calendar day used for the daily sequence.
func businessDay(now time.Time, timezone string) string {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		} else {
			slog.Warn("unknown restaurant timezone, using UTC", slog.String("timezone", timezone))
		}
	}
	return now.In(loc).Format("2006-01-02")
}

func staffID(ctx context.Context) string {
	actor, ok := audit.ActorFromContext(ctx)
	if !ok {
		return ""
	}
	return actor.Username
}
