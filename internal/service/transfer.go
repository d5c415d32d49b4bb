package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
	"mesa/backend/internal/xid"
)

// TransferTable moves the open order of one table to another. When the
// destination already has an open order the two tabs are merged into it and
// the source order is voided.
func (s *Service) TransferTable(ctx context.Context, restaurantID string, fromTable int, req domain.TransferTableRequest) (domain.Order, error) {
	toTable := req.ToTable
	if fromTable < 1 || toTable < 1 {
		return domain.Order{}, fmt.Errorf("%w: table numbers must be positive", domain.ErrInvalidRequest)
	}
	if fromTable == toTable {
		return domain.Order{}, fmt.Errorf("%w: source and destination table are the same", domain.ErrInvalidRequest)
	}

	var result, voided domain.Order
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		source, err := tx.FindOpenOrderByTable(ctx, restaurantID, fromTable)
		if err != nil {
			return fmt.Errorf("table %d: %w", fromTable, err)
		}

		dest, err := tx.FindOpenOrderByTable(ctx, restaurantID, toTable)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			source.TableNumber = &toTable
			source.UpdatedAt = s.now()
			if err := tx.UpdateOrder(ctx, source); err != nil {
				return err
			}
			result = source
		case err != nil:
			return err
		default:
			if err := s.mergeIntoTx(ctx, tx, source, dest); err != nil {
				return err
			}
			result = dest
			if voided, err = s.loadTx(ctx, tx, source.ID); err != nil {
				return err
			}
		}

		if _, err := s.tables.ReconcileTx(ctx, tx, restaurantID, fromTable); err != nil {
			return err
		}
		if _, err := s.tables.OccupyTx(ctx, tx, restaurantID, toTable); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, restaurantID, "table_transfer", "order", source.ID,
			fmt.Sprintf("from=%d,to=%d,into=%s", fromTable, toTable, result.ID)); err != nil {
			return err
		}
		result, err = s.loadTx(ctx, tx, result.ID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	if voided.ID != "" {
		s.notifier.OnOrderChanged(voided)
	}
	s.notifier.OnOrderChanged(result)
	return result, nil
}

// mergeIntoTx re-parents every item of source onto dest, carries the total and
// the journaled payments over, and voids the emptied source.
func (s *Service) mergeIntoTx(ctx context.Context, tx store.Tx, source domain.Order, dest domain.Order) error {
	ids := make([]string, 0, len(source.Items))
	for _, item := range source.Items {
		ids = append(ids, item.ID)
	}
	if len(ids) > 0 {
		if err := tx.MoveOrderItems(ctx, ids, dest.ID); err != nil {
			return err
		}
	}
	if _, err := tx.AdjustOrderTotal(ctx, dest.ID, source.Total); err != nil {
		return err
	}
	if err := tx.RelinkOrderTransactions(ctx, source.ID, dest.ID); err != nil {
		return err
	}
	return s.voidTx(ctx, tx, source)
}

// voidTx cancels an order whose items all moved elsewhere. Its total drops to zero.
func (s *Service) voidTx(ctx context.Context, tx store.Tx, order domain.Order) error {
	current, err := tx.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if current.Total.IsPositive() {
		if _, err := tx.AdjustOrderTotal(ctx, order.ID, current.Total.Neg()); err != nil {
			return err
		}
	}
	current.Status = domain.OrderStatusCanceled
	if current.Type == domain.OrderTypeDelivery {
		current.DeliveryStatus = domain.DeliveryStatusCanceled
	}
	current.UpdatedAt = s.now()
	return tx.UpdateOrder(ctx, current)
}

// TransferItems moves the named items of an order to the open order of
// another table, opening one when the table is free. Totals move by exactly
// the value of the moved lines.
func (s *Service) TransferItems(ctx context.Context, orderID string, req domain.TransferItemsRequest) (domain.TransferItemsResponse, error) {
	if len(req.ItemIDs) == 0 {
		return domain.TransferItemsResponse{}, fmt.Errorf("%w: no items selected", domain.ErrInvalidSelection)
	}
	if req.ToTable < 1 {
		return domain.TransferItemsResponse{}, fmt.Errorf("%w: destination table must be positive", domain.ErrInvalidRequest)
	}

	var (
		resp       domain.TransferItemsResponse
		destCreate bool
	)
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		source, err := s.loadTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if source.IsTerminal() {
			return domain.ErrOrderClosed
		}
		if source.OnTable(req.ToTable) {
			return fmt.Errorf("%w: items are already on table %d", domain.ErrInvalidRequest, req.ToTable)
		}
		// The delivery fee belongs to the delivery; it cannot follow items onto a table.
		if source.Type == domain.OrderTypeDelivery {
			return fmt.Errorf("%w: items of a delivery order cannot move to a table", domain.ErrInvalidRequest)
		}

		moved := selectItems(source.Items, req.ItemIDs)
		if len(moved) == 0 {
			return fmt.Errorf("%w: none of the items belong to order %s", domain.ErrInvalidSelection, orderID)
		}
		ids := make([]string, 0, len(moved))
		value := decimal.Zero
		for _, item := range moved {
			if item.Paid {
				return fmt.Errorf("%w: item %s is already paid", domain.ErrInvalidRequest, item.ID)
			}
			ids = append(ids, item.ID)
			value = value.Add(item.LineTotal())
		}
		wholeOrder := len(moved) == len(source.Items)
		if !wholeOrder {
			// Payments stay with the source, so they must still fit what remains there.
			paid, err := paidIncome(ctx, tx, source.ID)
			if err != nil {
				return err
			}
			if paid.GreaterThan(source.Total.Sub(value)) {
				return fmt.Errorf("%w: order %s is paid beyond the items that would remain", domain.ErrInvalidRequest, source.ID)
			}
		}

		dest, err := tx.FindOpenOrderByTable(ctx, source.RestaurantID, req.ToTable)
		if errors.Is(err, domain.ErrNotFound) {
			dest, err = s.openTableOrderTx(ctx, tx, source.RestaurantID, req.ToTable)
			destCreate = true
		}
		if err != nil {
			return err
		}

		if err := tx.MoveOrderItems(ctx, ids, dest.ID); err != nil {
			return err
		}
		if _, err := tx.AdjustOrderTotal(ctx, source.ID, value.Neg()); err != nil {
			return err
		}
		if _, err := tx.AdjustOrderTotal(ctx, dest.ID, value); err != nil {
			return err
		}
		if wholeOrder {
			if err := tx.RelinkOrderTransactions(ctx, source.ID, dest.ID); err != nil {
				return err
			}
			if err := s.voidTx(ctx, tx, source); err != nil {
				return err
			}
		}

		if source.TableNumber != nil {
			if _, err := s.tables.ReconcileTx(ctx, tx, source.RestaurantID, *source.TableNumber); err != nil {
				return err
			}
		}
		if _, err := s.tables.OccupyTx(ctx, tx, source.RestaurantID, req.ToTable); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, source.RestaurantID, "items_transfer", "order", source.ID,
			fmt.Sprintf("items=%d,value=%s,to=%s", len(ids), value.StringFixed(2), dest.ID)); err != nil {
			return err
		}

		if resp.Source, err = s.loadTx(ctx, tx, source.ID); err != nil {
			return err
		}
		resp.Destination, err = s.loadTx(ctx, tx, dest.ID)
		return err
	})
	if err != nil {
		return domain.TransferItemsResponse{}, err
	}

	s.notifier.OnOrderChanged(resp.Source)
	if destCreate {
		s.notifier.OnOrderCreated(resp.Destination)
	} else {
		s.notifier.OnOrderChanged(resp.Destination)
	}
	return resp, nil
}

func (s *Service) openTableOrderTx(ctx context.Context, tx store.Tx, restaurantID string, table int) (domain.Order, error) {
	restaurant, err := tx.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return domain.Order{}, err
	}
	now := s.now()
	businessDate := businessDay(now, restaurant.Settings.Timezone)
	seq, err := tx.NextOrderSequence(ctx, restaurantID, businessDate)
	if err != nil {
		return domain.Order{}, err
	}
	order := domain.Order{
		ID:           xid.New("ord"),
		RestaurantID: restaurantID,
		Type:         domain.OrderTypeTable,
		TableNumber:  &table,
		Status:       initialStatus(restaurant.Settings),
		Sequence:     seq,
		BusinessDate: businessDate,
		StaffID:      staffID(ctx),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// selectItems returns the items whose ids are listed, each at most once,
// in the order's own item order. Unknown ids are ignored.
func selectItems(items []domain.OrderItem, ids []string) []domain.OrderItem {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[strings.TrimSpace(id)] = true
	}
	selected := make([]domain.OrderItem, 0, len(ids))
	for _, item := range items {
		if wanted[item.ID] {
			selected = append(selected, item)
		}
	}
	return selected
}

// RemoveItem deletes one unpaid line and takes its captured value off the total.
func (s *Service) RemoveItem(ctx context.Context, orderID string, itemID string) (domain.Order, error) {
	var order domain.Order
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		current, err := s.loadTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return domain.ErrOrderClosed
		}
		item, err := tx.GetOrderItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.OrderID != current.ID {
			return fmt.Errorf("item %s on order %s: %w", itemID, orderID, domain.ErrNotFound)
		}
		if item.Paid {
			return fmt.Errorf("%w: item %s is already paid", domain.ErrInvalidRequest, itemID)
		}

		if err := tx.DeleteOrderItem(ctx, itemID); err != nil {
			return err
		}
		if _, err := tx.AdjustOrderTotal(ctx, current.ID, item.LineTotal().Neg()); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, current.RestaurantID, "item_remove", "order", current.ID,
			fmt.Sprintf("item=%s,value=%s", itemID, item.LineTotal().StringFixed(2))); err != nil {
			return err
		}
		order, err = s.loadTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.notifier.OnOrderChanged(order)
	return order, nil
}
