package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	restaurantID := fmt.Sprintf("rest-it-%d", time.Now().UnixNano())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO restaurants (id, slug, name, settings) VALUES ($1, $1, 'Integration', '{}'::jsonb)
	`, restaurantID); err != nil {
		t.Fatalf("insert restaurant: %v", err)
	}
	t.Cleanup(func() {
		for _, table := range []string{"financial_transactions", "cashier_sessions", "ingredients", "order_sequences", "audit_logs"} {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE restaurant_id = $1`, restaurantID)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE restaurant_id = $1)`, restaurantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE restaurant_id = $1`, restaurantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM restaurants WHERE id = $1`, restaurantID)
	})
	return s, restaurantID
}

func TestOpenOrderPerTableIsUnique(t *testing.T) {
	s, restaurantID := openTestStore(t)
	ctx := context.Background()
	table := 7
	now := time.Now().UTC()

	newOrder := func(id string) domain.Order {
		return domain.Order{
			ID: id, RestaurantID: restaurantID, Type: domain.OrderTypeTable, TableNumber: &table,
			Status: domain.OrderStatusPending, Sequence: 1, BusinessDate: now.Format("2006-01-02"),
			CreatedAt: now, UpdatedAt: now,
		}
	}
	if err := s.WithinTx(ctx, func(tx store.Tx) error { return tx.CreateOrder(ctx, newOrder(restaurantID+"-o1")) }); err != nil {
		t.Fatalf("first order: %v", err)
	}
	err := s.WithinTx(ctx, func(tx store.Tx) error { return tx.CreateOrder(ctx, newOrder(restaurantID+"-o2")) })
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestOrderSequenceIncrementsPerDay(t *testing.T) {
	s, restaurantID := openTestStore(t)
	ctx := context.Background()

	var first, second, otherDay int
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		if first, err = tx.NextOrderSequence(ctx, restaurantID, "2026-03-01"); err != nil {
			return err
		}
		if second, err = tx.NextOrderSequence(ctx, restaurantID, "2026-03-01"); err != nil {
			return err
		}
		otherDay, err = tx.NextOrderSequence(ctx, restaurantID, "2026-03-02")
		return err
	})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if first != 1 || second != 2 || otherDay != 1 {
		t.Fatalf("unexpected sequence values %d %d %d", first, second, otherDay)
	}
}

func TestSecondOpenSessionRejected(t *testing.T) {
	s, restaurantID := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	open := func(id string) error {
		return s.WithinTx(ctx, func(tx store.Tx) error {
			return tx.CreateSession(ctx, domain.CashierSession{
				ID: id, RestaurantID: restaurantID, UserID: "cashier", Status: domain.SessionOpen,
				OpeningAmount: decimal.NewFromInt(100), OpenedAt: now,
			})
		})
	}
	if err := open(restaurantID + "-s1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := open(restaurantID + "-s2"); !errors.Is(err, domain.ErrSessionAlreadyOpen) {
		t.Fatalf("expected ErrSessionAlreadyOpen, got %v", err)
	}
}

func TestRollbackKeepsIngredientStock(t *testing.T) {
	s, restaurantID := openTestStore(t)
	ctx := context.Background()
	ingredientID := restaurantID + "-flour"

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (id, restaurant_id, name, unit, stock) VALUES ($1, $2, 'Flour', 'kg', 10)
	`, ingredientID, restaurantID); err != nil {
		t.Fatalf("seed ingredient: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AddIngredientStock(ctx, ingredientID, decimal.NewFromInt(-3)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var stock decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM ingredients WHERE id = $1`, ingredientID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected stock 10 after rollback, got %s", stock)
	}
}

// raceWithinTx runs fn from n goroutines at once and returns every result.
func raceWithinTx(s *Store, n int, fn func(i int, tx store.Tx) error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = s.WithinTx(context.Background(), func(tx store.Tx) error { return fn(i, tx) })
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestConcurrentOpenOrderOnTableKeepsOne(t *testing.T) {
	s, restaurantID := openTestStore(t)
	ctx := context.Background()
	table := 12
	now := time.Now().UTC()

	errs := raceWithinTx(s, 6, func(i int, tx store.Tx) error {
		if _, err := tx.FindOpenOrderByTable(ctx, restaurantID, table); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.CreateOrder(ctx, domain.Order{
			ID: fmt.Sprintf("%s-race-%d", restaurantID, i), RestaurantID: restaurantID, Type: domain.OrderTypeTable,
			TableNumber: &table, Status: domain.OrderStatusPending, Sequence: i + 1,
			BusinessDate: now.Format("2006-01-02"), CreatedAt: now, UpdatedAt: now,
		})
	})
	for _, err := range errs {
		if err != nil && !errors.Is(err, domain.ErrConflict) && !isRetryable(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var open int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE restaurant_id = $1 AND table_number = $2 AND status NOT IN ('COMPLETED', 'CANCELED')
	`, restaurantID, table).Scan(&open); err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if open != 1 {
		t.Fatalf("expected exactly one open order on table %d, got %d", table, open)
	}
}

func TestConcurrentSessionOpenKeepsOne(t *testing.T) {
	s, restaurantID := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	errs := raceWithinTx(s, 6, func(i int, tx store.Tx) error {
		if _, err := tx.GetOpenSession(ctx, restaurantID); err == nil {
			return domain.ErrSessionAlreadyOpen
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.CreateSession(ctx, domain.CashierSession{
			ID: fmt.Sprintf("%s-race-%d", restaurantID, i), RestaurantID: restaurantID, UserID: "cashier",
			Status: domain.SessionOpen, OpeningAmount: decimal.NewFromInt(100), OpenedAt: now,
		})
	})
	opened := 0
	for _, err := range errs {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, domain.ErrSessionAlreadyOpen), isRetryable(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if opened != 1 {
		t.Fatalf("expected exactly one caller to open a session, got %d", opened)
	}

	var open int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cashier_sessions WHERE restaurant_id = $1 AND status = $2
	`, restaurantID, domain.SessionOpen).Scan(&open); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if open != 1 {
		t.Fatalf("expected exactly one open session, got %d", open)
	}
}
