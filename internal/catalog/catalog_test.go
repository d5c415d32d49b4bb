package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
	"mesa/backend/internal/store/memory"
)

type mapCache struct {
	menus map[string]domain.Menu
	gets  int
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.Menu, bool, error) {
	c.gets++
	menu, ok := c.menus[key]
	if !ok {
		return nil, false, nil
	}
	return &menu, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, menu *domain.Menu, _ time.Duration) error {
	c.menus[key] = *menu
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	delete(c.menus, key)
	return nil
}

func TestMenuBySlugFillsCacheUnderIDAndSlug(t *testing.T) {
	s := memory.NewSeeded()
	c := &mapCache{menus: map[string]domain.Menu{}}
	reader := NewReader(s, c, time.Minute)

	menu, err := reader.Menu(context.Background(), "demo")
	if err != nil {
		t.Fatalf("menu: %v", err)
	}
	if menu.Restaurant.ID != "rest-demo" {
		t.Fatalf("expected rest-demo, got %s", menu.Restaurant.ID)
	}
	if _, ok := c.menus["rest-demo"]; !ok {
		t.Fatalf("expected menu cached under id")
	}
	if _, ok := c.menus["demo"]; !ok {
		t.Fatalf("expected menu cached under slug")
	}
}

func TestMenuServedFromCacheUntilInvalidated(t *testing.T) {
	s := memory.NewSeeded()
	c := &mapCache{menus: map[string]domain.Menu{}}
	reader := NewReader(s, c, time.Minute)
	ctx := context.Background()

	first, err := reader.Menu(ctx, "rest-demo")
	if err != nil {
		t.Fatalf("menu: %v", err)
	}

	s.PutProduct(domain.Product{ID: "prod-water", RestaurantID: "rest-demo", Name: "Water", Price: decimal.RequireFromString("3.00"), Active: true})

	cached, err := reader.Menu(ctx, "rest-demo")
	if err != nil {
		t.Fatalf("menu: %v", err)
	}
	if len(cached.Products) != len(first.Products) {
		t.Fatalf("expected cached menu with %d products, got %d", len(first.Products), len(cached.Products))
	}

	if err := reader.Invalidate(ctx, first.Restaurant); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	fresh, err := reader.Menu(ctx, "rest-demo")
	if err != nil {
		t.Fatalf("menu: %v", err)
	}
	if _, ok := fresh.Product("prod-water"); !ok {
		t.Fatalf("expected new product after invalidation")
	}
}

func TestMenuUnknownRestaurant(t *testing.T) {
	reader := NewReader(memory.New(), nil, 0)
	if _, err := reader.Menu(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
