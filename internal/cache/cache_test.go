package cache

import (
	"context"
	"testing"
	"time"

	"mesa/backend/internal/domain"
)

func TestNoopMenuCacheAlwaysMisses(t *testing.T) {
	var c MenuCache = NoopMenuCache{}
	ctx := context.Background()

	if err := c.Set(ctx, "r1", &domain.Menu{}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	menu, ok, err := c.Get(ctx, "r1")
	if err != nil || ok || menu != nil {
		t.Fatalf("expected miss, got %v %v %v", menu, ok, err)
	}
}

func TestMenuKeyIsNamespaced(t *testing.T) {
	if got := menuKey("rest-demo"); got != "menu:rest-demo" {
		t.Fatalf("unexpected key %q", got)
	}
}
