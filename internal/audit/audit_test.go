package audit

import (
	"context"
	"errors"
	"testing"

	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
	"mesa/backend/internal/store/memory"
)

func TestRecordUsesSystemActorWithoutRequestActor(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	var logs []domain.AuditLog
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := Record(ctx, tx, "r1", "session_open", "cashier_session", "s1", "initial=100"); err != nil {
			return err
		}
		var err error
		logs, err = tx.ListAuditLogs(ctx, "r1", 10)
		return err
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(logs) != 1 || logs[0].ActorUsername != "system" || logs[0].Action != "session_open" {
		t.Fatalf("unexpected audit rows %+v", logs)
	}
}

func TestCheckTenant(t *testing.T) {
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana", Role: "cashier", RestaurantID: "r1"})
	if err := CheckTenant(ctx, "r1"); err != nil {
		t.Fatalf("expected own restaurant allowed, got %v", err)
	}
	if err := CheckTenant(ctx, "r2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := CheckTenant(context.Background(), "r2"); err != nil {
		t.Fatalf("expected system context allowed, got %v", err)
	}
}
