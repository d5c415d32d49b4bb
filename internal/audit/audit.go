// Package audit carries the acting staff member through a request and writes
// audit rows inside the caller's unit of work.
package audit

import (
	"context"
	"time"

	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
	"mesa/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Actor returns the request actor, or the system actor for background work.
func Actor(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

// Record appends an audit row. It fails the unit of work when the row cannot be written.
func Record(ctx context.Context, tx store.Tx, restaurantID string, action string, entityType string, entityID string, detail string) error {
	actor := Actor(ctx)
	return tx.InsertAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		RestaurantID:  restaurantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
}

// CheckTenant rejects actors bound to a different restaurant. Actors without
// a restaurant (system, platform admins) pass.
func CheckTenant(ctx context.Context, restaurantID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.RestaurantID == "" {
		return nil
	}
	if actor.RestaurantID != restaurantID {
		return domain.ErrForbidden
	}
	return nil
}
