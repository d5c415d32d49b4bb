package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/cashledger"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
	"mesa/backend/internal/store/memory"
)

func qty(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newLedger() (*Ledger, *memory.Store) {
	s := memory.New()
	s.PutRestaurant(domain.Restaurant{ID: "r1", Slug: "r1", Name: "R1"})
	s.PutIngredient(domain.Ingredient{ID: "flour", RestaurantID: "r1", Name: "Flour", Unit: "kg", Stock: qty("5"), LastUnitCost: qty("4")})
	s.PutIngredient(domain.Ingredient{ID: "water", RestaurantID: "r1", Name: "Water", Unit: "l", Stock: qty("1")})
	s.PutIngredient(domain.Ingredient{ID: "dough", RestaurantID: "r1", Name: "Dough", Unit: "un", Recipe: []domain.RecipeComponent{
		{IngredientID: "flour", Quantity: qty("0.5")},
		{IngredientID: "water", Quantity: qty("0.25")},
	}})
	return New(s, cashledger.New(s)), s
}

func ingredient(t *testing.T, s *memory.Store, id string) domain.Ingredient {
	t.Helper()
	var ing domain.Ingredient
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		ing, err = tx.GetIngredient(context.Background(), "r1", id)
		return err
	})
	if err != nil {
		t.Fatalf("get ingredient %s: %v", id, err)
	}
	return ing
}

func TestConfirmStockEntryReceivesGoodsAndJournalsExpense(t *testing.T) {
	l, s := newLedger()
	ctx := context.Background()

	entry, err := l.CreateStockEntry(ctx, "r1", domain.StockEntryRequest{
		SupplierID: "sup-1",
		Lines:      []domain.StockEntryLine{{IngredientID: "flour", Quantity: qty("10"), UnitCost: qty("2.00"), ConversionFactor: qty("1")}},
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if entry.Status != domain.StockEntryPending || !entry.Total.Equal(qty("20")) {
		t.Fatalf("unexpected entry %+v", entry)
	}

	confirmed, err := l.ConfirmStockEntry(ctx, "r1", entry.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	flour := ingredient(t, s, "flour")
	if !flour.Stock.Equal(qty("15")) {
		t.Fatalf("expected stock 15, got %s", flour.Stock)
	}
	if !flour.LastUnitCost.Equal(qty("2")) {
		t.Fatalf("expected unit cost 2.00, got %s", flour.LastUnitCost)
	}

	var ft domain.FinancialTransaction
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		ft, err = tx.GetTransaction(ctx, "r1", confirmed.TransactionID)
		return err
	})
	if err != nil {
		t.Fatalf("get expense: %v", err)
	}
	if ft.Direction != domain.DirectionExpense || ft.Status != domain.TxPending || !ft.Amount.Equal(qty("20")) || ft.StockEntryID != entry.ID {
		t.Fatalf("unexpected expense %+v", ft)
	}

	if _, err := l.ConfirmStockEntry(ctx, "r1", entry.ID); !errors.Is(err, domain.ErrAlreadyConfirmed) {
		t.Fatalf("expected ErrAlreadyConfirmed, got %v", err)
	}
	if flour := ingredient(t, s, "flour"); !flour.Stock.Equal(qty("15")) {
		t.Fatalf("second confirm must not move stock, got %s", flour.Stock)
	}
}

func TestConfirmAppliesConversionFactor(t *testing.T) {
	l, s := newLedger()
	ctx := context.Background()

	entry, err := l.CreateStockEntry(ctx, "r1", domain.StockEntryRequest{
		Lines: []domain.StockEntryLine{{IngredientID: "water", Quantity: qty("2"), UnitCost: qty("6"), ConversionFactor: qty("12")}},
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := l.ConfirmStockEntry(ctx, "r1", entry.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	water := ingredient(t, s, "water")
	if !water.Stock.Equal(qty("25")) {
		t.Fatalf("expected 1 + 2x12 = 25, got %s", water.Stock)
	}
	if !water.LastUnitCost.Equal(qty("0.5")) {
		t.Fatalf("expected unit cost 0.5, got %s", water.LastUnitCost)
	}
}

func TestProduceIsAllOrNothing(t *testing.T) {
	l, s := newLedger()
	ctx := context.Background()

	if _, err := l.Produce(ctx, "r1", "dough", qty("8")); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if flour := ingredient(t, s, "flour"); !flour.Stock.Equal(qty("5")) {
		t.Fatalf("flour must be untouched, got %s", flour.Stock)
	}

	dough, err := l.Produce(ctx, "r1", "dough", qty("4"))
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if !dough.Stock.Equal(qty("4")) {
		t.Fatalf("expected 4 dough, got %s", dough.Stock)
	}
	if flour := ingredient(t, s, "flour"); !flour.Stock.Equal(qty("3")) {
		t.Fatalf("expected flour 3, got %s", flour.Stock)
	}
	if water := ingredient(t, s, "water"); !water.Stock.IsZero() {
		t.Fatalf("expected water 0, got %s", water.Stock)
	}
}

func TestProduceWithoutRecipe(t *testing.T) {
	l, _ := newLedger()
	if _, err := l.Produce(context.Background(), "r1", "flour", qty("1")); !errors.Is(err, domain.ErrNotProducible) {
		t.Fatalf("expected ErrNotProducible, got %v", err)
	}
}

func TestRecordLossSnapshotsCost(t *testing.T) {
	l, s := newLedger()
	loss, err := l.RecordLoss(context.Background(), "r1", "flour", qty("1.5"), "spilled")
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if !loss.UnitCost.Equal(qty("4")) {
		t.Fatalf("expected unit cost 4, got %s", loss.UnitCost)
	}
	if flour := ingredient(t, s, "flour"); !flour.Stock.Equal(qty("3.5")) {
		t.Fatalf("expected 3.5, got %s", flour.Stock)
	}
	if _, err := l.RecordLoss(context.Background(), "r1", "flour", qty("1"), " "); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without reason, got %v", err)
	}
}

func TestAuditOverwritesStock(t *testing.T) {
	l, s := newLedger()
	resp, err := l.Audit(context.Background(), "r1", domain.StockAuditRequest{Items: []domain.AuditCount{
		{IngredientID: "flour", Counted: qty("4")},
		{IngredientID: "water", Counted: qty("3")},
	}})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(resp.Losses) != 1 || !resp.Losses[0].Quantity.Equal(qty("1")) {
		t.Fatalf("expected one loss of 1, got %+v", resp.Losses)
	}
	if resp.Entry == nil || resp.Entry.Status != domain.StockEntryConfirmed || len(resp.Entry.Lines) != 1 || !resp.Entry.Lines[0].Quantity.Equal(qty("2")) {
		t.Fatalf("expected confirmed surplus entry of 2, got %+v", resp.Entry)
	}
	if flour := ingredient(t, s, "flour"); !flour.Stock.Equal(qty("4")) {
		t.Fatalf("expected flour 4, got %s", flour.Stock)
	}
	if water := ingredient(t, s, "water"); !water.Stock.Equal(qty("3")) {
		t.Fatalf("expected water 3, got %s", water.Stock)
	}
}

func TestDeductForOrderAllowsNegativeAndAlerts(t *testing.T) {
	l, s := newLedger()
	s.PutProduct(domain.Product{ID: "pizza", RestaurantID: "r1", Name: "Pizza", Price: qty("30"), Active: true,
		Recipe: []domain.RecipeComponent{{IngredientID: "flour", Quantity: qty("2")}}})
	s.PutProduct(domain.Product{ID: "soda", RestaurantID: "r1", Name: "Soda", Price: qty("5"), Active: true, TrackStock: true, Stock: qty("1")})
	ctx := context.Background()

	order := domain.Order{ID: "o1", RestaurantID: "r1", Items: []domain.OrderItem{
		{ID: "i1", ProductID: "pizza", Quantity: 3},
		{ID: "i2", ProductID: "soda", Quantity: 2},
	}}
	var alerts []domain.StockAlert
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		alerts, err = l.DeductForOrderTx(ctx, tx, order)
		return err
	})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if flour := ingredient(t, s, "flour"); !flour.Stock.Equal(qty("-1")) {
		t.Fatalf("expected flour -1, got %s", flour.Stock)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected ingredient and product alerts, got %+v", alerts)
	}

	listed, err := l.ListAlerts(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 stored alerts, got %d", len(listed))
	}
}
