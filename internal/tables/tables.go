// Package tables projects table occupancy from open orders. It never decides
// occupancy on its own; callers flip it inside the unit of work that changed
// the orders on that table.
package tables

import (
	"context"
	"errors"

	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

type Registry struct {
	store store.Store
}

func New(s store.Store) *Registry {
	return &Registry{store: s}
}

func (r *Registry) OccupyTx(ctx context.Context, tx store.Tx, restaurantID string, number int) (domain.Table, error) {
	return tx.UpsertTable(ctx, restaurantID, number, domain.TableOccupied)
}

// ReconcileTx recomputes the table from the orders currently open on it.
func (r *Registry) ReconcileTx(ctx context.Context, tx store.Tx, restaurantID string, number int) (domain.Table, error) {
	status := domain.TableOccupied
	if _, err := tx.FindOpenOrderByTable(ctx, restaurantID, number); errors.Is(err, domain.ErrNotFound) {
		status = domain.TableFree
	} else if err != nil {
		return domain.Table{}, err
	}
	return tx.UpsertTable(ctx, restaurantID, number, status)
}

func (r *Registry) List(ctx context.Context, restaurantID string) ([]domain.Table, error) {
	var tables []domain.Table
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		tables, err = tx.ListTables(ctx, restaurantID)
		return err
	})
	return tables, err
}
