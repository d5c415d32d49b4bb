// Package inventory owns ingredient and product stock: recipe deductions,
// goods receipts, production, losses and physical counts.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
	"mesa/backend/internal/xid"
)

// Journal books the expense created when a stock entry is confirmed.
type Journal interface {
	RecordTx(ctx context.Context, tx store.Tx, ft domain.FinancialTransaction) (domain.FinancialTransaction, error)
}

type Ledger struct {
	store   store.Store
	journal Journal
	now     func() time.Time
}

func New(s store.Store, journal Journal) *Ledger {
	return &Ledger{store: s, journal: journal, now: func() time.Time { return time.Now().UTC() }}
}

// DeductForOrderTx consumes stock for every item of the order. Products with a
// recipe consume their ingredients; the rest consume their own stock. Stock may
// go negative; each such result is recorded as an alert and returned.
func (l *Ledger) DeductForOrderTx(ctx context.Context, tx store.Tx, order domain.Order) ([]domain.StockAlert, error) {
	alerts := make([]domain.StockAlert, 0)
	for _, item := range order.Items {
		product, err := tx.GetProduct(ctx, order.RestaurantID, item.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("stock deduction skipped for unknown product",
				slog.String("order_id", order.ID), slog.String("product_id", item.ProductID))
			continue
		}
		if err != nil {
			return nil, err
		}

		units := decimal.NewFromInt(int64(item.Quantity))
		if len(product.Recipe) == 0 {
			stock, err := tx.AddProductStock(ctx, product.ID, units.Neg())
			if err != nil {
				return nil, fmt.Errorf("deduct product %s: %w", product.ID, err)
			}
			if product.TrackStock && stock.IsNegative() {
				alerts = append(alerts, l.alert(order, "", product.ID, stock))
			}
			continue
		}

		for _, component := range product.Recipe {
			stock, err := tx.AddIngredientStock(ctx, component.IngredientID, component.Quantity.Mul(units).Neg())
			if err != nil {
				return nil, fmt.Errorf("deduct ingredient %s: %w", component.IngredientID, err)
			}
			if stock.IsNegative() {
				alerts = append(alerts, l.alert(order, component.IngredientID, "", stock))
			}
		}
	}

	for _, alert := range alerts {
		if err := tx.InsertStockAlert(ctx, alert); err != nil {
			return nil, err
		}
		slog.Warn("stock below zero",
			slog.String("order_id", order.ID),
			slog.String("ingredient_id", alert.IngredientID),
			slog.String("product_id", alert.ProductID),
			slog.String("stock", alert.Stock.String()))
	}
	return alerts, nil
}

func (l *Ledger) alert(order domain.Order, ingredientID string, productID string, stock decimal.Decimal) domain.StockAlert {
	return domain.StockAlert{
		ID:           xid.New("alert"),
		RestaurantID: order.RestaurantID,
		IngredientID: ingredientID,
		ProductID:    productID,
		OrderID:      order.ID,
		Stock:        stock,
		CreatedAt:    l.now(),
	}
}

func (l *Ledger) ListAlerts(ctx context.Context, restaurantID string, limit int) ([]domain.StockAlert, error) {
	var alerts []domain.StockAlert
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		alerts, err = tx.ListStockAlerts(ctx, restaurantID, limit)
		return err
	})
	return alerts, err
}

func (l *Ledger) CreateStockEntry(ctx context.Context, restaurantID string, req domain.StockEntryRequest) (domain.StockEntry, error) {
	if len(req.Lines) == 0 {
		return domain.StockEntry{}, fmt.Errorf("%w: stock entry needs at least one line", domain.ErrInvalidRequest)
	}

	entry := domain.StockEntry{
		ID:           xid.New("se"),
		RestaurantID: restaurantID,
		SupplierID:   strings.TrimSpace(req.SupplierID),
		Status:       domain.StockEntryPending,
		Lines:        make([]domain.StockEntryLine, 0, len(req.Lines)),
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    l.now(),
	}
	total := decimal.Zero
	for _, line := range req.Lines {
		if !line.Quantity.IsPositive() || line.UnitCost.IsNegative() {
			return domain.StockEntry{}, fmt.Errorf("%w: line %s needs a positive quantity and a non-negative cost", domain.ErrInvalidRequest, line.IngredientID)
		}
		if line.ConversionFactor.IsZero() {
			line.ConversionFactor = decimal.NewFromInt(1)
		}
		if line.ConversionFactor.IsNegative() {
			return domain.StockEntry{}, fmt.Errorf("%w: conversion factor must be positive", domain.ErrInvalidRequest)
		}
		total = total.Add(line.Quantity.Mul(line.UnitCost))
		entry.Lines = append(entry.Lines, line)
	}
	entry.Total = total.Round(2)

	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		for _, line := range entry.Lines {
			if _, err := tx.GetIngredient(ctx, restaurantID, line.IngredientID); err != nil {
				return fmt.Errorf("ingredient %s: %w", line.IngredientID, err)
			}
		}
		if err := tx.CreateStockEntry(ctx, entry); err != nil {
			return err
		}
		return audit.Record(ctx, tx, restaurantID, "stock_entry_create", "stock_entry", entry.ID,
			fmt.Sprintf("lines=%d,total=%s", len(entry.Lines), entry.Total.StringFixed(2)))
	})
	if err != nil {
		return domain.StockEntry{}, err
	}
	return entry, nil
}

// ConfirmStockEntry receives the goods: stock grows by quantity x conversion
// factor, the unit cost becomes unitCost / factor, and one PENDING expense is
// journaled for the entry total.
func (l *Ledger) ConfirmStockEntry(ctx context.Context, restaurantID string, entryID string) (domain.StockEntry, error) {
	var confirmed domain.StockEntry
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		entry, err := tx.GetStockEntry(ctx, restaurantID, entryID)
		if err != nil {
			return err
		}
		if entry.Status == domain.StockEntryConfirmed {
			return domain.ErrAlreadyConfirmed
		}

		for _, line := range entry.Lines {
			factor := line.ConversionFactor
			if !factor.IsPositive() {
				factor = decimal.NewFromInt(1)
			}
			if _, err := tx.AddIngredientStock(ctx, line.IngredientID, line.Quantity.Mul(factor)); err != nil {
				return fmt.Errorf("ingredient %s: %w", line.IngredientID, err)
			}
			if err := tx.SetIngredientCost(ctx, line.IngredientID, line.UnitCost.DivRound(factor, 4)); err != nil {
				return err
			}
		}

		transactionID := ""
		if entry.Total.IsPositive() {
			ft, err := l.journal.RecordTx(ctx, tx, domain.FinancialTransaction{
				RestaurantID: restaurantID,
				Direction:    domain.DirectionExpense,
				Status:       domain.TxPending,
				Amount:       entry.Total,
				Description:  "stock entry " + entry.ID,
				Category:     "stock_purchase",
				SupplierID:   entry.SupplierID,
				StockEntryID: entry.ID,
			})
			if err != nil {
				return err
			}
			transactionID = ft.ID
		}

		at := l.now()
		if err := tx.ConfirmStockEntry(ctx, entry.ID, transactionID, at); err != nil {
			return err
		}
		entry.Status = domain.StockEntryConfirmed
		entry.TransactionID = transactionID
		entry.ConfirmedAt = &at
		confirmed = entry
		return audit.Record(ctx, tx, restaurantID, "stock_entry_confirm", "stock_entry", entry.ID, "total="+entry.Total.StringFixed(2))
	})
	if err != nil {
		return domain.StockEntry{}, err
	}
	return confirmed, nil
}

// Produce turns components into a semi-finished ingredient. Every component
// is checked before anything moves.
func (l *Ledger) Produce(ctx context.Context, restaurantID string, ingredientID string, quantity decimal.Decimal) (domain.Ingredient, error) {
	if !quantity.IsPositive() {
		return domain.Ingredient{}, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidRequest)
	}

	var produced domain.Ingredient
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		target, err := tx.GetIngredient(ctx, restaurantID, ingredientID)
		if err != nil {
			return err
		}
		if len(target.Recipe) == 0 {
			return domain.ErrNotProducible
		}

		for _, component := range target.Recipe {
			ing, err := tx.GetIngredient(ctx, restaurantID, component.IngredientID)
			if err != nil {
				return fmt.Errorf("component %s: %w", component.IngredientID, err)
			}
			if need := component.Quantity.Mul(quantity); ing.Stock.LessThan(need) {
				return fmt.Errorf("%w: %s has %s, needs %s", domain.ErrInsufficientStock, ing.ID, ing.Stock, need)
			}
		}
		for _, component := range target.Recipe {
			if _, err := tx.AddIngredientStock(ctx, component.IngredientID, component.Quantity.Mul(quantity).Neg()); err != nil {
				return err
			}
		}
		stock, err := tx.AddIngredientStock(ctx, target.ID, quantity)
		if err != nil {
			return err
		}
		target.Stock = stock

		if err := tx.InsertProductionLog(ctx, domain.ProductionLog{
			ID:           xid.New("plog"),
			RestaurantID: restaurantID,
			IngredientID: target.ID,
			Quantity:     quantity,
			CreatedAt:    l.now(),
		}); err != nil {
			return err
		}
		produced = target
		return audit.Record(ctx, tx, restaurantID, "ingredient_produce", "ingredient", target.ID, "qty="+quantity.String())
	})
	if err != nil {
		return domain.Ingredient{}, err
	}
	return produced, nil
}

func (l *Ledger) RecordLoss(ctx context.Context, restaurantID string, ingredientID string, quantity decimal.Decimal, reason string) (domain.StockLoss, error) {
	reason = strings.TrimSpace(reason)
	if !quantity.IsPositive() || reason == "" {
		return domain.StockLoss{}, fmt.Errorf("%w: loss needs a positive quantity and a reason", domain.ErrInvalidRequest)
	}

	var loss domain.StockLoss
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		loss, err = l.lossTx(ctx, tx, restaurantID, ingredientID, quantity, reason)
		if err != nil {
			return err
		}
		if _, err := tx.AddIngredientStock(ctx, ingredientID, quantity.Neg()); err != nil {
			return err
		}
		return audit.Record(ctx, tx, restaurantID, "stock_loss", "ingredient", ingredientID,
			fmt.Sprintf("qty=%s,reason=%s", quantity, reason))
	})
	if err != nil {
		return domain.StockLoss{}, err
	}
	return loss, nil
}

// lossTx appends a loss row priced at the ingredient's current unit cost.
func (l *Ledger) lossTx(ctx context.Context, tx store.Tx, restaurantID string, ingredientID string, quantity decimal.Decimal, reason string) (domain.StockLoss, error) {
	ing, err := tx.GetIngredient(ctx, restaurantID, ingredientID)
	if err != nil {
		return domain.StockLoss{}, err
	}
	loss := domain.StockLoss{
		ID:           xid.New("loss"),
		RestaurantID: restaurantID,
		IngredientID: ing.ID,
		Quantity:     quantity,
		UnitCost:     ing.LastUnitCost,
		Reason:       reason,
		CreatedAt:    l.now(),
	}
	if err := tx.InsertStockLoss(ctx, loss); err != nil {
		return domain.StockLoss{}, err
	}
	return loss, nil
}

// Audit applies a physical count. Shortfalls become loss rows, surpluses a
// confirmed zero-cost stock entry, and every counted ingredient ends at its count.
func (l *Ledger) Audit(ctx context.Context, restaurantID string, req domain.StockAuditRequest) (domain.StockAuditResponse, error) {
	if len(req.Items) == 0 {
		return domain.StockAuditResponse{}, fmt.Errorf("%w: audit needs at least one count", domain.ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		if item.Counted.IsNegative() || seen[item.IngredientID] {
			return domain.StockAuditResponse{}, fmt.Errorf("%w: counts must be non-negative and unique per ingredient", domain.ErrInvalidRequest)
		}
		seen[item.IngredientID] = true
	}

	var resp domain.StockAuditResponse
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		resp = domain.StockAuditResponse{Adjustments: make([]domain.StockAuditAdjustment, 0, len(req.Items))}
		surplus := make([]domain.StockEntryLine, 0)

		for _, item := range req.Items {
			ing, err := tx.GetIngredient(ctx, restaurantID, item.IngredientID)
			if err != nil {
				return fmt.Errorf("ingredient %s: %w", item.IngredientID, err)
			}
			delta := item.Counted.Sub(ing.Stock)
			resp.Adjustments = append(resp.Adjustments, domain.StockAuditAdjustment{
				IngredientID: ing.ID,
				SystemQty:    ing.Stock,
				CountedQty:   item.Counted,
				Delta:        delta,
			})

			switch {
			case delta.IsNegative():
				loss, err := l.lossTx(ctx, tx, restaurantID, ing.ID, delta.Neg(), "stock audit")
				if err != nil {
					return err
				}
				resp.Losses = append(resp.Losses, loss)
			case delta.IsPositive():
				surplus = append(surplus, domain.StockEntryLine{
					IngredientID:     ing.ID,
					Quantity:         delta,
					UnitCost:         decimal.Zero,
					ConversionFactor: decimal.NewFromInt(1),
				})
			}
			if err := tx.SetIngredientStock(ctx, ing.ID, item.Counted); err != nil {
				return err
			}
		}

		if len(surplus) > 0 {
			at := l.now()
			entry := domain.StockEntry{
				ID:           xid.New("se"),
				RestaurantID: restaurantID,
				Status:       domain.StockEntryConfirmed,
				Total:        decimal.Zero,
				Lines:        surplus,
				Notes:        "stock audit",
				CreatedAt:    at,
				ConfirmedAt:  &at,
			}
			if err := tx.CreateStockEntry(ctx, entry); err != nil {
				return err
			}
			resp.Entry = &entry
		}
		return audit.Record(ctx, tx, restaurantID, "stock_audit", "inventory", restaurantID,
			fmt.Sprintf("items=%d,losses=%d,surplus=%d", len(req.Items), len(resp.Losses), len(surplus)))
	})
	if err != nil {
		return domain.StockAuditResponse{}, err
	}
	return resp, nil
}
