// Package pricing turns a catalog snapshot and a requested item configuration
// into an immutable priced line. It performs no I/O.
package pricing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
)

type Request struct {
	Product     domain.Product
	Category    *domain.Category
	AddonGroups []domain.AddonGroup
	Flavors     []domain.Product
	Promotions  []domain.Promotion
	Quantity    int
	SizeID      string
	AddonIDs    []string
	Now         time.Time
}

type Result struct {
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Snapshot  domain.ItemSnapshot
}

var hundred = decimal.NewFromInt(100)

func Price(req Request) (Result, error) {
	if req.Quantity < 1 {
		return Result{}, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidRequest)
	}

	snapshot := domain.ItemSnapshot{}
	base := req.Product.Price

	var size *domain.ProductSize
	if req.SizeID != "" {
		for i := range req.Product.Sizes {
			if req.Product.Sizes[i].ID == req.SizeID {
				size = &req.Product.Sizes[i]
				break
			}
		}
		if size == nil {
			return Result{}, fmt.Errorf("%w: size %s does not belong to product %s", domain.ErrInvalidSelection, req.SizeID, req.Product.ID)
		}
		base = size.Price
		snapshot.Size = &domain.SizeSnapshot{ID: size.ID, Name: size.Name, Price: size.Price}
	}

	if len(req.Flavors) > 0 {
		rule := flavorRule(req.Category, req.Product)
		prices := make([]decimal.Decimal, 0, len(req.Flavors))
		for _, flavor := range req.Flavors {
			price := flavorPrice(flavor, size)
			prices = append(prices, price)
			snapshot.Flavors = append(snapshot.Flavors, domain.FlavorSnapshot{ProductID: flavor.ID, Name: flavor.Name, Price: price})
		}
		base = combine(prices, rule)
		snapshot.FlavorRule = rule
	}

	if promo, ok := SelectPromotion(req.Promotions, req.Product, req.Now); ok {
		discounted := applyDiscount(base, promo)
		snapshot.Promotion = &domain.PromotionSnapshot{ID: promo.ID, Name: promo.Name, Discount: base.Sub(discounted)}
		base = discounted
	}
	snapshot.BasePrice = base

	addonsTotal := decimal.Zero
	counts, order := countAddons(req.AddonIDs)
	for _, id := range order {
		addon, ok := findAddon(req.AddonGroups, id)
		if !ok {
			return Result{}, fmt.Errorf("%w: addon %s is not offered for product %s", domain.ErrInvalidSelection, id, req.Product.ID)
		}
		qty := counts[id]
		addonsTotal = addonsTotal.Add(addon.Price.Mul(decimal.NewFromInt(int64(qty))))
		snapshot.Addons = append(snapshot.Addons, domain.AddonSnapshot{ID: addon.ID, Name: addon.Name, Price: addon.Price, Quantity: qty})
	}

	unit := base.Add(addonsTotal).Round(2)
	return Result{
		UnitPrice: unit,
		LineTotal: unit.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Snapshot:  snapshot,
	}, nil
}

// PriceItem resolves an item request against a menu and prices it.
func PriceItem(menu *domain.Menu, item domain.ItemRequest, now time.Time) (domain.Product, Result, error) {
	product, ok := menu.Product(item.ProductID)
	if !ok || !product.Active {
		return domain.Product{}, Result{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, item.ProductID)
	}

	req := Request{
		Product:     product,
		AddonGroups: menu.AddonGroupsFor(product),
		Promotions:  menu.Promotions,
		Quantity:    item.Quantity,
		SizeID:      item.SizeID,
		AddonIDs:    item.AddonIDs,
		Now:         now,
	}
	if category, ok := menu.Category(product.CategoryID); ok {
		req.Category = &category
	}
	for _, flavorID := range item.FlavorIDs {
		flavor, ok := menu.Product(flavorID)
		if !ok || !flavor.Active {
			return domain.Product{}, Result{}, fmt.Errorf("%w: flavor %s", domain.ErrInvalidSelection, flavorID)
		}
		req.Flavors = append(req.Flavors, flavor)
	}

	result, err := Price(req)
	if err != nil {
		return domain.Product{}, Result{}, err
	}
	return product, result, nil
}

// SelectPromotion picks the single promotion to apply: highest priority first, ties broken by id.
func SelectPromotion(promos []domain.Promotion, product domain.Product, now time.Time) (domain.Promotion, bool) {
	candidates := make([]domain.Promotion, 0, len(promos))
	for _, promo := range promos {
		if !promo.Active || !targets(promo, product) {
			continue
		}
		if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
			continue
		}
		if promo.EndsAt != nil && !now.Before(*promo.EndsAt) {
			continue
		}
		candidates = append(candidates, promo)
	}
	if len(candidates) == 0 {
		return domain.Promotion{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

func targets(promo domain.Promotion, product domain.Product) bool {
	if promo.ProductID != "" {
		return promo.ProductID == product.ID
	}
	if promo.CategoryID != "" {
		return promo.CategoryID == product.CategoryID
	}
	return true
}

func applyDiscount(base decimal.Decimal, promo domain.Promotion) decimal.Decimal {
	var discounted decimal.Decimal
	switch promo.DiscountType {
	case domain.DiscountPercentage:
		discounted = base.Mul(hundred.Sub(promo.Value)).Div(hundred)
	case domain.DiscountFixed:
		discounted = base.Sub(promo.Value)
	default:
		return base
	}
	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted.Round(2)
}

func flavorRule(category *domain.Category, product domain.Product) string {
	if category != nil && category.FlavorPriceRule != "" {
		return category.FlavorPriceRule
	}
	if product.FlavorPriceRule != "" {
		return product.FlavorPriceRule
	}
	return domain.FlavorRuleHigher
}

// flavorPrice matches sizes by name since every flavor carries its own size ids.
func flavorPrice(flavor domain.Product, size *domain.ProductSize) decimal.Decimal {
	if size != nil {
		for _, s := range flavor.Sizes {
			if strings.EqualFold(s.Name, size.Name) {
				return s.Price
			}
		}
	}
	return flavor.Price
}

func combine(prices []decimal.Decimal, rule string) decimal.Decimal {
	if rule == domain.FlavorRuleAverage {
		return decimal.Avg(prices[0], prices[1:]...).Round(2)
	}
	return decimal.Max(prices[0], prices[1:]...)
}

func countAddons(ids []string) (map[string]int, []string) {
	counts := make(map[string]int, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	}
	return counts, order
}

func findAddon(groups []domain.AddonGroup, id string) (domain.Addon, bool) {
	for _, group := range groups {
		for _, addon := range group.Addons {
			if addon.ID == id {
				return addon, true
			}
		}
	}
	return domain.Addon{}, false
}
