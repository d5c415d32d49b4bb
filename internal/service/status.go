package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

var statusRank = map[string]int{
	domain.OrderStatusPending:   0,
	domain.OrderStatusPreparing: 1,
	domain.OrderStatusReady:     2,
	domain.OrderStatusShipped:   3,
	domain.OrderStatusCompleted: 4,
}

// checkTransition allows forward moves (steps may be skipped) and cancellation
// of any open order. SHIPPED exists only for delivery orders.
func checkTransition(order domain.Order, next string) error {
	if order.IsTerminal() {
		return domain.ErrOrderClosed
	}
	if next == domain.OrderStatusCanceled {
		return nil
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, next)
	}
	if next == domain.OrderStatusShipped && order.Type != domain.OrderTypeDelivery {
		return fmt.Errorf("%w: only delivery orders can be shipped", domain.ErrInvalidTransition)
	}
	if nextRank < statusRank[order.Status] {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, next)
	}
	return nil
}

func deliveryStatusFor(status string) string {
	switch status {
	case domain.OrderStatusPreparing, domain.OrderStatusReady:
		return domain.DeliveryStatusConfirmed
	case domain.OrderStatusShipped:
		return domain.DeliveryStatusOutForDelivery
	case domain.OrderStatusCompleted:
		return domain.DeliveryStatusDelivered
	case domain.OrderStatusCanceled:
		return domain.DeliveryStatusCanceled
	default:
		return domain.DeliveryStatusPending
	}
}

func (s *Service) UpdateStatus(ctx context.Context, orderID string, req domain.UpdateStatusRequest) (domain.Order, error) {
	next := strings.ToUpper(strings.TrimSpace(req.Status))
	if next == "" {
		return domain.Order{}, fmt.Errorf("%w: status is required", domain.ErrInvalidRequest)
	}

	var (
		order   domain.Order
		changed bool
	)
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		current, err := s.loadTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if _, changed, err = s.transitionTx(ctx, tx, current, next); err != nil {
			return err
		}
		order, err = s.loadTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if changed {
		s.publishChanged(ctx, order)
	}
	return order, nil
}

// transitionTx moves the order to next and runs the side effects of that
// status. Moving to the current status changes nothing.
func (s *Service) transitionTx(ctx context.Context, tx store.Tx, order domain.Order, next string) (domain.Order, bool, error) {
	if order.Status == next {
		return order, false, nil
	}
	if err := checkTransition(order, next); err != nil {
		return domain.Order{}, false, err
	}
	restaurant, err := tx.GetRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return domain.Order{}, false, err
	}

	switch next {
	case domain.OrderStatusCompleted:
		if err := s.completeTx(ctx, tx, &order, restaurant.Settings); err != nil {
			return domain.Order{}, false, err
		}
	case domain.OrderStatusCanceled:
		if err := s.cancelIncomeTx(ctx, tx, order); err != nil {
			return domain.Order{}, false, err
		}
	}

	previous := order.Status
	order.Status = next
	if order.Type == domain.OrderTypeDelivery {
		order.DeliveryStatus = deliveryStatusFor(next)
	}
	order.UpdatedAt = s.now()
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, false, err
	}
	if order.TableNumber != nil && order.IsTerminal() {
		if _, err := s.tables.ReconcileTx(ctx, tx, order.RestaurantID, *order.TableNumber); err != nil {
			return domain.Order{}, false, err
		}
	}
	if err := audit.Record(ctx, tx, order.RestaurantID, "order_status", "order", order.ID, previous+"->"+next); err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

// completeTx awards loyalty, journals whatever is still unpaid into the open
// cashier session and consumes stock, in that order.
func (s *Service) completeTx(ctx context.Context, tx store.Tx, order *domain.Order, settings domain.RestaurantSettings) error {
	if settings.LoyaltyEnabled && order.CustomerID != "" {
		points := order.Total.Mul(settings.PointsPerCurrency).IntPart()
		cashback := order.Total.Mul(settings.CashbackPercentage).Div(decimal.NewFromInt(100)).Round(2)
		if points > 0 || cashback.IsPositive() {
			if err := tx.AddCustomerRewards(ctx, order.CustomerID, points, cashback); err != nil {
				return fmt.Errorf("loyalty for order %s: %w", order.ID, err)
			}
		}
	}

	paid, err := paidIncome(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	outstanding := order.Total.Sub(paid)
	settled := !outstanding.IsPositive()
	if !settled {
		session, err := s.cash.OpenSessionTx(ctx, tx, order.RestaurantID)
		if err != nil {
			return err
		}
		if session != nil {
			if _, err := s.cash.JournalOrderIncomeTx(ctx, tx, *order, session, outstanding, order.PaymentMethod, settings); err != nil {
				return err
			}
			settled = true
		}
	}
	if settled && order.PaidAt == nil {
		now := s.now()
		order.PaidAt = &now
	}

	if _, err := s.inventory.DeductForOrderTx(ctx, tx, *order); err != nil {
		return err
	}
	return nil
}

// publishChanged announces committed order changes. A completion consumes
// product stock, so the restaurant's cached menu is dropped with it.
func (s *Service) publishChanged(ctx context.Context, orders ...domain.Order) {
	refreshed := make(map[string]bool)
	for _, order := range orders {
		s.notifier.OnOrderChanged(order)
		if order.Status != domain.OrderStatusCompleted || refreshed[order.RestaurantID] {
			continue
		}
		refreshed[order.RestaurantID] = true
		restaurant, err := s.ResolveRestaurant(ctx, order.RestaurantID)
		if err == nil {
			err = s.catalog.Invalidate(ctx, restaurant)
		}
		if err != nil {
			slog.Warn("menu cache invalidation failed",
				slog.String("restaurant_id", order.RestaurantID), slog.Any("error", err))
		}
	}
}

// cancelIncomeTx reverses every income row journaled for the order.
func (s *Service) cancelIncomeTx(ctx context.Context, tx store.Tx, order domain.Order) error {
	rows, err := tx.ListTransactionsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, ft := range rows {
		if ft.Direction != domain.DirectionIncome || ft.Status == domain.TxCanceled {
			continue
		}
		if _, err := s.cash.CancelTx(ctx, tx, ft); err != nil {
			return fmt.Errorf("cancel transaction %s: %w", ft.ID, err)
		}
	}
	return nil
}

func paidIncome(ctx context.Context, tx store.Tx, orderID string) (decimal.Decimal, error) {
	rows, err := tx.ListTransactionsByOrder(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	paid := decimal.Zero
	for _, ft := range rows {
		if ft.Direction == domain.DirectionIncome && ft.Status == domain.TxPaid {
			paid = paid.Add(ft.Amount)
		}
	}
	return paid, nil
}

// FinishKitchenItem marks one item ready. The order moves to READY once every
// item is ready.
func (s *Service) FinishKitchenItem(ctx context.Context, itemID string) (domain.Order, error) {
	var (
		order   domain.Order
		changed bool
	)
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetOrderItem(ctx, itemID)
		if err != nil {
			return err
		}
		current, err := s.loadTx(ctx, tx, item.OrderID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return domain.ErrOrderClosed
		}
		if !item.Ready {
			if err := tx.SetItemReady(ctx, itemID); err != nil {
				return err
			}
			changed = true
		}

		current, err = s.loadTx(ctx, tx, item.OrderID)
		if err != nil {
			return err
		}
		if allReady(current.Items) && statusRank[current.Status] < statusRank[domain.OrderStatusReady] {
			if _, _, err := s.transitionTx(ctx, tx, current, domain.OrderStatusReady); err != nil {
				return err
			}
			changed = true
		}
		order, err = s.loadTx(ctx, tx, item.OrderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if changed {
		s.publishChanged(ctx, order)
	}
	return order, nil
}

func allReady(items []domain.OrderItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.Ready {
			return false
		}
	}
	return true
}
