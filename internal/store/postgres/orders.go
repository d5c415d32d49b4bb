package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
)

func (t *pgTx) NextOrderSequence(ctx context.Context, restaurantID string, businessDate string) (int, error) {
	var next int
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO order_sequences (restaurant_id, business_date, last_value)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (restaurant_id, business_date)
		DO UPDATE SET last_value = order_sequences.last_value + 1
		RETURNING last_value
	`, restaurantID, businessDate).Scan(&next)
	return next, err
}

func (t *pgTx) CreateOrder(ctx context.Context, o domain.Order) error {
	delivery, err := deliveryJSON(o.Delivery)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, restaurant_id, type, table_number, status, delivery_status, total, delivery_fee,
			sequence, business_date, payment_method, customer_id, staff_id, delivery,
			created_at, updated_at, paid_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::date,$11,$12,$13,$14,$15,$16,$17)
	`, o.ID, o.RestaurantID, o.Type, nullTable(o.TableNumber), o.Status, o.DeliveryStatus, o.Total, o.DeliveryFee,
		o.Sequence, o.BusinessDate, o.PaymentMethod, nullIfEmpty(o.CustomerID), nullIfEmpty(o.StaffID), delivery,
		o.CreatedAt, o.UpdatedAt, nullTime(o.PaidAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: table already has an open order", domain.ErrConflict)
		}
		return err
	}
	return nil
}

const orderSelect = `
		SELECT id, restaurant_id, type, table_number, status, delivery_status, total, delivery_fee,
			sequence, to_char(business_date, 'YYYY-MM-DD'), payment_method, customer_id, staff_id, delivery,
			created_at, updated_at, paid_at, fiscal_emitted_at
		FROM orders`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var table sql.NullInt64
	var customerID, staffID sql.NullString
	var delivery []byte
	var paidAt, fiscalAt sql.NullTime
	if err := row.Scan(&o.ID, &o.RestaurantID, &o.Type, &table, &o.Status, &o.DeliveryStatus, &o.Total, &o.DeliveryFee,
		&o.Sequence, &o.BusinessDate, &o.PaymentMethod, &customerID, &staffID, &delivery,
		&o.CreatedAt, &o.UpdatedAt, &paidAt, &fiscalAt); err != nil {
		return domain.Order{}, err
	}
	if table.Valid {
		n := int(table.Int64)
		o.TableNumber = &n
	}
	o.CustomerID = customerID.String
	o.StaffID = staffID.String
	if len(delivery) > 0 && string(delivery) != "null" {
		o.Delivery = &domain.DeliveryInfo{}
		if err := fromJSON(delivery, o.Delivery); err != nil {
			return domain.Order{}, err
		}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.PaidAt = timePtr(paidAt)
	o.FiscalEmittedAt = timePtr(fiscalAt)
	return o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx, orderSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Order{}, notFound(err)
	}
	order.Items, err = t.itemsOf(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (t *pgTx) FindOpenOrderByTable(ctx context.Context, restaurantID string, tableNumber int) (domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx, orderSelect+`
		WHERE restaurant_id = $1 AND table_number = $2 AND status NOT IN ('COMPLETED', 'CANCELED')
		FOR UPDATE
	`, restaurantID, tableNumber))
	if err != nil {
		return domain.Order{}, notFound(err)
	}
	order.Items, err = t.itemsOf(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (t *pgTx) ListOpenOrders(ctx context.Context, restaurantID string) ([]domain.Order, error) {
	rows, err := t.tx.QueryContext(ctx, orderSelect+`
		WHERE restaurant_id = $1 AND status NOT IN ('COMPLETED', 'CANCELED')
		ORDER BY created_at, sequence
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	items, err := t.itemsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	byOrder := make(map[string][]domain.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, nil
}

func (t *pgTx) itemsOf(ctx context.Context, orderIDs []string) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, 16)
	if len(orderIDs) == 0 {
		return items, nil
	}
	rows, err := t.tx.QueryContext(ctx, itemSelect+` WHERE order_id = ANY($1) ORDER BY position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const itemSelect = `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, snapshot, observations, paid, ready, created_at
		FROM order_items`

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var item domain.OrderItem
	var snapshot []byte
	if err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice,
		&snapshot, &item.Observations, &item.Paid, &item.Ready, &item.CreatedAt); err != nil {
		return domain.OrderItem{}, err
	}
	if err := fromJSON(snapshot, &item.Snapshot); err != nil {
		return domain.OrderItem{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o domain.Order) error {
	delivery, err := deliveryJSON(o.Delivery)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET table_number = $2, status = $3, delivery_status = $4, payment_method = $5,
			customer_id = $6, delivery = $7, updated_at = $8, paid_at = $9
		WHERE id = $1
	`, o.ID, nullTable(o.TableNumber), o.Status, o.DeliveryStatus, o.PaymentMethod,
		nullIfEmpty(o.CustomerID), delivery, o.UpdatedAt, nullTime(o.PaidAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: table already has an open order", domain.ErrConflict)
		}
		return err
	}
	return expectRow(res)
}

func (t *pgTx) AdjustOrderTotal(ctx context.Context, orderID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE orders SET total = GREATEST(total + $2, 0) WHERE id = $1 RETURNING total
	`, orderID, delta).Scan(&total)
	if err != nil {
		return decimal.Zero, notFound(err)
	}
	return total, nil
}

func (t *pgTx) MarkFiscalEmitted(ctx context.Context, orderID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET fiscal_emitted_at = $2 WHERE id = $1`, orderID, at)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) InsertOrderItems(ctx context.Context, items []domain.OrderItem) error {
	for _, item := range items {
		snapshot, err := toJSON(item.Snapshot)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, snapshot, observations, paid, ready, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, item.ID, item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, snapshot,
			item.Observations, item.Paid, item.Ready, item.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) GetOrderItem(ctx context.Context, itemID string) (domain.OrderItem, error) {
	item, err := scanItem(t.tx.QueryRowContext(ctx, itemSelect+` WHERE id = $1 FOR UPDATE`, itemID))
	if err != nil {
		return domain.OrderItem{}, notFound(err)
	}
	return item, nil
}

func (t *pgTx) MoveOrderItems(ctx context.Context, itemIDs []string, toOrderID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE order_items SET order_id = $2 WHERE id = ANY($1)`, itemIDs, toOrderID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if int(affected) != len(itemIDs) {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteOrderItem(ctx context.Context, itemID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) SetItemsPaid(ctx context.Context, itemIDs []string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE order_items SET paid = true WHERE id = ANY($1)`, itemIDs)
	return err
}

func (t *pgTx) SetItemReady(ctx context.Context, itemID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE order_items SET ready = true WHERE id = $1`, itemID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) UpsertTable(ctx context.Context, restaurantID string, number int, status string) (domain.Table, error) {
	table := domain.Table{RestaurantID: restaurantID, Number: number}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO restaurant_tables (id, restaurant_id, number, status)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (restaurant_id, number)
		DO UPDATE SET status = EXCLUDED.status
		RETURNING id, status
	`, fmt.Sprintf("tbl-%s-%d", restaurantID, number), restaurantID, number, status).Scan(&table.ID, &table.Status)
	if err != nil {
		return domain.Table{}, err
	}
	return table, nil
}

func (t *pgTx) ListTables(ctx context.Context, restaurantID string) ([]domain.Table, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, restaurant_id, number, status
		FROM restaurant_tables
		WHERE restaurant_id = $1
		ORDER BY number
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make([]domain.Table, 0, 32)
	for rows.Next() {
		var tbl domain.Table
		if err := rows.Scan(&tbl.ID, &tbl.RestaurantID, &tbl.Number, &tbl.Status); err != nil {
			return nil, err
		}
		tables = append(tables, tbl)
	}
	return tables, rows.Err()
}

func nullTable(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func deliveryJSON(info *domain.DeliveryInfo) (any, error) {
	if info == nil {
		return nil, nil
	}
	return toJSON(info)
}
