package notify

import (
	"context"
	"log/slog"
	"time"

	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

// Emitter issues the fiscal document of a completed order with the tax authority.
type Emitter interface {
	Emit(ctx context.Context, order domain.Order) error
}

// LogEmitter stands in for a real fiscal integration and only logs.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, order domain.Order) error {
	slog.Info("fiscal document emitted",
		slog.String("order_id", order.ID),
		slog.String("restaurant_id", order.RestaurantID),
		slog.String("total", order.Total.StringFixed(2)))
	return nil
}

// FiscalSink emits completed orders once and stamps fiscalEmittedAt.
type FiscalSink struct {
	store   store.Store
	emitter Emitter
}

func NewFiscalSink(s store.Store, emitter Emitter) *FiscalSink {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &FiscalSink{store: s, emitter: emitter}
}

func (f *FiscalSink) Name() string {
	return "fiscal"
}

func (f *FiscalSink) Handle(ctx context.Context, event Event) error {
	if event.Type != EventOrderChanged || event.Status != domain.OrderStatusCompleted {
		return nil
	}

	var order domain.Order
	err := f.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, event.OrderID)
		return err
	})
	if err != nil {
		return err
	}
	if order.FiscalEmittedAt != nil {
		return nil
	}

	if err := f.emitter.Emit(ctx, order); err != nil {
		return err
	}
	return f.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.MarkFiscalEmitted(ctx, order.ID, time.Now().UTC())
	})
}
