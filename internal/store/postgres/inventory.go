package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
)

func (t *pgTx) GetIngredient(ctx context.Context, restaurantID string, id string) (domain.Ingredient, error) {
	var ing domain.Ingredient
	var recipe []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, restaurant_id, name, unit, stock, last_unit_cost, recipe
		FROM ingredients
		WHERE restaurant_id = $1 AND id = $2
		FOR UPDATE
	`, restaurantID, id).Scan(&ing.ID, &ing.RestaurantID, &ing.Name, &ing.Unit, &ing.Stock, &ing.LastUnitCost, &recipe)
	if err != nil {
		return domain.Ingredient{}, notFound(err)
	}
	if err := fromJSON(recipe, &ing.Recipe); err != nil {
		return domain.Ingredient{}, err
	}
	return ing, nil
}

func (t *pgTx) AddIngredientStock(ctx context.Context, ingredientID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE ingredients SET stock = stock + $2 WHERE id = $1 RETURNING stock
	`, ingredientID, delta).Scan(&stock)
	if err != nil {
		return decimal.Zero, notFound(err)
	}
	return stock, nil
}

func (t *pgTx) SetIngredientStock(ctx context.Context, ingredientID string, qty decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE ingredients SET stock = $2 WHERE id = $1`, ingredientID, qty)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) SetIngredientCost(ctx context.Context, ingredientID string, unitCost decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE ingredients SET last_unit_cost = $2 WHERE id = $1`, ingredientID, unitCost)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) CreateStockEntry(ctx context.Context, entry domain.StockEntry) error {
	lines, err := toJSON(entry.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO stock_entries (id, restaurant_id, supplier_id, status, total, lines, transaction_id, notes, created_at, confirmed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.RestaurantID, nullIfEmpty(entry.SupplierID), entry.Status, entry.Total, lines,
		nullIfEmpty(entry.TransactionID), entry.Notes, entry.CreatedAt, nullTime(entry.ConfirmedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (t *pgTx) GetStockEntry(ctx context.Context, restaurantID string, id string) (domain.StockEntry, error) {
	var entry domain.StockEntry
	var supplierID, transactionID sql.NullString
	var lines []byte
	var confirmedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, restaurant_id, supplier_id, status, total, lines, transaction_id, notes, created_at, confirmed_at
		FROM stock_entries
		WHERE restaurant_id = $1 AND id = $2
		FOR UPDATE
	`, restaurantID, id).Scan(&entry.ID, &entry.RestaurantID, &supplierID, &entry.Status, &entry.Total, &lines,
		&transactionID, &entry.Notes, &entry.CreatedAt, &confirmedAt)
	if err != nil {
		return domain.StockEntry{}, notFound(err)
	}
	if err := fromJSON(lines, &entry.Lines); err != nil {
		return domain.StockEntry{}, err
	}
	entry.SupplierID = supplierID.String
	entry.TransactionID = transactionID.String
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.ConfirmedAt = timePtr(confirmedAt)
	return entry, nil
}

// ConfirmStockEntry flips a PENDING entry to CONFIRMED. A second confirm
// matches no row and reports ErrAlreadyConfirmed.
func (t *pgTx) ConfirmStockEntry(ctx context.Context, id string, transactionID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE stock_entries
		SET status = 'CONFIRMED', transaction_id = $2, confirmed_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`, id, nullIfEmpty(transactionID), at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var status string
	err = t.tx.QueryRowContext(ctx, `SELECT status FROM stock_entries WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFound(err)
	}
	return domain.ErrAlreadyConfirmed
}

func (t *pgTx) InsertProductionLog(ctx context.Context, entry domain.ProductionLog) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO production_logs (id, restaurant_id, ingredient_id, quantity, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.RestaurantID, entry.IngredientID, entry.Quantity, entry.CreatedAt)
	return err
}

func (t *pgTx) InsertStockLoss(ctx context.Context, loss domain.StockLoss) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_losses (id, restaurant_id, ingredient_id, quantity, unit_cost, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, loss.ID, loss.RestaurantID, loss.IngredientID, loss.Quantity, loss.UnitCost, loss.Reason, loss.CreatedAt)
	return err
}

func (t *pgTx) InsertStockAlert(ctx context.Context, alert domain.StockAlert) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_alerts (id, restaurant_id, ingredient_id, product_id, order_id, stock, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, alert.ID, alert.RestaurantID, nullIfEmpty(alert.IngredientID), nullIfEmpty(alert.ProductID),
		nullIfEmpty(alert.OrderID), alert.Stock, alert.CreatedAt)
	return err
}

func (t *pgTx) ListStockAlerts(ctx context.Context, restaurantID string, limit int) ([]domain.StockAlert, error) {
	if limit < 1 || limit > 500 {
		limit = 500
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, restaurant_id, ingredient_id, product_id, order_id, stock, created_at
		FROM stock_alerts
		WHERE restaurant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, restaurantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]domain.StockAlert, 0, 16)
	for rows.Next() {
		var a domain.StockAlert
		var ingredientID, productID, orderID sql.NullString
		if err := rows.Scan(&a.ID, &a.RestaurantID, &ingredientID, &productID, &orderID, &a.Stock, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.IngredientID = ingredientID.String
		a.ProductID = productID.String
		a.OrderID = orderID.String
		a.CreatedAt = a.CreatedAt.UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
