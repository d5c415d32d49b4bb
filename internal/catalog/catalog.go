// Package catalog serves menu snapshots to pricing, reading through the menu cache.
package catalog

import (
	"context"
	"log/slog"
	"time"

	"mesa/backend/internal/cache"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

type Reader struct {
	store store.Store
	cache cache.MenuCache
	ttl   time.Duration
}

func NewReader(s store.Store, c cache.MenuCache, ttl time.Duration) *Reader {
	if c == nil {
		c = cache.NoopMenuCache{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Reader{store: s, cache: c, ttl: ttl}
}

// Menu returns the menu of the restaurant named by id or slug. Cache errors
// degrade to a store read.
func (r *Reader) Menu(ctx context.Context, ref string) (domain.Menu, error) {
	if cached, ok, err := r.cache.Get(ctx, ref); err != nil {
		slog.Warn("menu cache get failed", slog.String("restaurant", ref), slog.Any("error", err))
	} else if ok {
		return *cached, nil
	}

	var menu domain.Menu
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		restaurant, err := tx.GetRestaurant(ctx, ref)
		if err != nil {
			return err
		}
		menu, err = tx.LoadMenu(ctx, restaurant.ID)
		return err
	})
	if err != nil {
		return domain.Menu{}, err
	}

	for _, key := range cacheKeys(ref, menu.Restaurant) {
		if err := r.cache.Set(ctx, key, &menu, r.ttl); err != nil {
			slog.Warn("menu cache set failed", slog.String("restaurant", key), slog.Any("error", err))
		}
	}
	return menu, nil
}

// Invalidate drops every cached copy of the restaurant's menu.
func (r *Reader) Invalidate(ctx context.Context, restaurant domain.Restaurant) error {
	for _, key := range cacheKeys(restaurant.ID, restaurant) {
		if err := r.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func cacheKeys(ref string, restaurant domain.Restaurant) []string {
	keys := []string{restaurant.ID}
	if restaurant.Slug != "" && restaurant.Slug != restaurant.ID {
		keys = append(keys, restaurant.Slug)
	}
	if ref != restaurant.ID && ref != restaurant.Slug {
		keys = append(keys, ref)
	}
	return keys
}
