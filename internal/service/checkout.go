package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

// allocation is the part of one payment line applied to one due amount.
type allocation struct {
	due    int
	method string
	amount decimal.Decimal
}

func normalizePayments(payments []domain.PaymentLine) ([]domain.PaymentLine, error) {
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: at least one payment is required", domain.ErrInvalidPayment)
	}
	out := make([]domain.PaymentLine, 0, len(payments))
	for _, p := range payments {
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: payment amounts must be positive", domain.ErrInvalidPayment)
		}
		method := strings.ToLower(strings.TrimSpace(p.Method))
		if method == "" {
			method = domain.PaymentCash
		}
		out = append(out, domain.PaymentLine{Amount: p.Amount.Round(2), Method: method})
	}
	return out, nil
}

// allocate spreads the payment lines over the due amounts in order. What is
// left once everything is covered is change, and only cash can produce change.
func allocate(dues []decimal.Decimal, payments []domain.PaymentLine) ([]allocation, decimal.Decimal, error) {
	remaining := make([]decimal.Decimal, len(payments))
	paid := decimal.Zero
	for i, p := range payments {
		remaining[i] = p.Amount
		paid = paid.Add(p.Amount)
	}
	owed := decimal.Zero
	for _, due := range dues {
		owed = owed.Add(due)
	}
	if paid.LessThan(owed) {
		return nil, decimal.Zero, fmt.Errorf("%w: paid %s of %s", domain.ErrInvalidPayment, paid.StringFixed(2), owed.StringFixed(2))
	}

	allocations := make([]allocation, 0, len(dues)+len(payments))
	line := 0
	for i, due := range dues {
		left := due
		for left.IsPositive() {
			take := decimal.Min(left, remaining[line])
			if take.IsPositive() {
				allocations = append(allocations, allocation{due: i, method: payments[line].Method, amount: take})
				remaining[line] = remaining[line].Sub(take)
				left = left.Sub(take)
			}
			if !remaining[line].IsPositive() {
				line++
			}
		}
	}

	change := decimal.Zero
	for i, rest := range remaining {
		if !rest.IsPositive() {
			continue
		}
		if payments[i].Method != domain.PaymentCash {
			return nil, decimal.Zero, fmt.Errorf("%w: %s payment exceeds the amount due", domain.ErrInvalidPayment, payments[i].Method)
		}
		change = change.Add(rest)
	}
	return allocations, change, nil
}

// CheckoutTable settles the open orders of a table against the open cashier
// session, marks them paid and completes them.
func (s *Service) CheckoutTable(ctx context.Context, restaurantID string, table int, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	payments, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	var (
		resp    domain.CheckoutResponse
		settled []string
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		session, err := s.cash.OpenSessionTx(ctx, tx, restaurantID)
		if err != nil {
			return err
		}
		if session == nil {
			return domain.ErrNoOpenSession
		}
		restaurant, err := tx.GetRestaurant(ctx, restaurantID)
		if err != nil {
			return err
		}

		orders, err := s.tableOrdersTx(ctx, tx, restaurantID, table, req.OrderIDs)
		if err != nil {
			return err
		}
		dues := make([]decimal.Decimal, len(orders))
		for i, order := range orders {
			paid, err := paidIncome(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			dues[i] = decimal.Max(order.Total.Sub(paid), decimal.Zero)
		}

		allocations, change, err := allocate(dues, payments)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			order := &orders[a.due]
			if _, err := s.cash.JournalOrderIncomeTx(ctx, tx, *order, session, a.amount, a.method, restaurant.Settings); err != nil {
				return err
			}
			if order.PaymentMethod == "" {
				order.PaymentMethod = a.method
			}
		}

		total := decimal.Zero
		for i := range orders {
			order := orders[i]
			if err := tx.SetItemsPaid(ctx, unpaidIDs(order.Items)); err != nil {
				return err
			}
			if _, _, err := s.transitionTx(ctx, tx, order, domain.OrderStatusCompleted); err != nil {
				return err
			}
			total = total.Add(dues[i])
			settled = append(settled, order.ID)
		}

		if _, err := s.tables.ReconcileTx(ctx, tx, restaurantID, table); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, restaurantID, "checkout", "table", fmt.Sprintf("%d", table),
			fmt.Sprintf("orders=%d,due=%s,change=%s", len(orders), total.StringFixed(2), change.StringFixed(2))); err != nil {
			return err
		}

		resp = domain.CheckoutResponse{Success: true, Change: change, Orders: make([]domain.Order, 0, len(settled))}
		for _, id := range settled {
			order, err := s.loadTx(ctx, tx, id)
			if err != nil {
				return err
			}
			resp.Orders = append(resp.Orders, order)
		}
		return nil
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	s.publishChanged(ctx, resp.Orders...)
	return resp, nil
}

// tableOrdersTx returns the open orders on the table, restricted to ids when given.
func (s *Service) tableOrdersTx(ctx context.Context, tx store.Tx, restaurantID string, table int, ids []string) ([]domain.Order, error) {
	open, err := tx.ListOpenOrders(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	onTable := make(map[string]domain.Order)
	orders := make([]domain.Order, 0, 2)
	for _, order := range open {
		if order.OnTable(table) {
			onTable[order.ID] = order
			orders = append(orders, order)
		}
	}
	if len(ids) > 0 {
		orders = orders[:0]
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			order, ok := onTable[id]
			if !ok {
				return nil, fmt.Errorf("order %s on table %d: %w", id, table, domain.ErrNotFound)
			}
			if !seen[id] {
				seen[id] = true
				orders = append(orders, order)
			}
		}
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("open orders on table %d: %w", table, domain.ErrNotFound)
	}
	return orders, nil
}

func unpaidIDs(items []domain.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !item.Paid {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// PartialItemPayment pays for selected items of an open order. Their line
// totals are journaled into the open session and the items are flagged paid.
func (s *Service) PartialItemPayment(ctx context.Context, orderID string, req domain.PartialPaymentRequest) (domain.CheckoutResponse, error) {
	if len(req.ItemIDs) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: no items selected", domain.ErrInvalidSelection)
	}
	payments, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	var resp domain.CheckoutResponse
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		order, err := s.loadTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.IsTerminal() {
			return domain.ErrOrderClosed
		}
		session, err := s.cash.OpenSessionTx(ctx, tx, order.RestaurantID)
		if err != nil {
			return err
		}
		if session == nil {
			return domain.ErrNoOpenSession
		}
		restaurant, err := tx.GetRestaurant(ctx, order.RestaurantID)
		if err != nil {
			return err
		}

		items := selectItems(order.Items, req.ItemIDs)
		if len(items) != len(uniqueIDs(req.ItemIDs)) {
			return fmt.Errorf("%w: some items do not belong to order %s", domain.ErrInvalidSelection, orderID)
		}
		due := decimal.Zero
		ids := make([]string, 0, len(items))
		for _, item := range items {
			if item.Paid {
				return fmt.Errorf("%w: item %s is already paid", domain.ErrInvalidRequest, item.ID)
			}
			due = due.Add(item.LineTotal())
			ids = append(ids, item.ID)
		}

		allocations, change, err := allocate([]decimal.Decimal{due}, payments)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			if _, err := s.cash.JournalOrderIncomeTx(ctx, tx, order, session, a.amount, a.method, restaurant.Settings); err != nil {
				return err
			}
		}
		if err := tx.SetItemsPaid(ctx, ids); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, order.RestaurantID, "partial_payment", "order", order.ID,
			fmt.Sprintf("items=%d,amount=%s", len(ids), due.StringFixed(2))); err != nil {
			return err
		}

		saved, err := s.loadTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		resp = domain.CheckoutResponse{Success: true, Orders: []domain.Order{saved}, Change: change}
		return nil
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	s.publishChanged(ctx, resp.Orders[0])
	return resp, nil
}

func uniqueIDs(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[strings.TrimSpace(id)] = true
	}
	return set
}
