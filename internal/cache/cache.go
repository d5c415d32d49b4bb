package cache

import (
	"context"
	"time"

	"mesa/backend/internal/domain"
)

// MenuCache keeps whole menus keyed by restaurant id. A miss is not an error.
type MenuCache interface {
	Get(ctx context.Context, restaurantID string) (*domain.Menu, bool, error)
	Set(ctx context.Context, restaurantID string, menu *domain.Menu, ttl time.Duration) error
	Delete(ctx context.Context, restaurantID string) error
}

type NoopMenuCache struct{}

func (NoopMenuCache) Get(_ context.Context, _ string) (*domain.Menu, bool, error) {
	return nil, false, nil
}

func (NoopMenuCache) Set(_ context.Context, _ string, _ *domain.Menu, _ time.Duration) error {
	return nil
}

func (NoopMenuCache) Delete(_ context.Context, _ string) error {
	return nil
}

func menuKey(restaurantID string) string {
	return "menu:" + restaurantID
}
