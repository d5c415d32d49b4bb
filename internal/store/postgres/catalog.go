package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
)

func (t *pgTx) GetRestaurant(ctx context.Context, ref string) (domain.Restaurant, error) {
	var r domain.Restaurant
	var settings []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, slug, name, settings
		FROM restaurants
		WHERE id = $1 OR slug = $1
		ORDER BY (id = $1) DESC
		LIMIT 1
	`, ref).Scan(&r.ID, &r.Slug, &r.Name, &settings)
	if err != nil {
		return domain.Restaurant{}, notFound(err)
	}
	if err := fromJSON(settings, &r.Settings); err != nil {
		return domain.Restaurant{}, fmt.Errorf("decode restaurant settings: %w", err)
	}
	return r, nil
}

func (t *pgTx) LoadMenu(ctx context.Context, restaurantID string) (domain.Menu, error) {
	restaurant, err := t.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return domain.Menu{}, err
	}
	menu := domain.Menu{Restaurant: restaurant}

	catRows, err := t.tx.QueryContext(ctx, `
		SELECT id, restaurant_id, name, flavor_price_rule, addon_group_ids
		FROM categories
		WHERE restaurant_id = $1
		ORDER BY name
	`, restaurant.ID)
	if err != nil {
		return domain.Menu{}, err
	}
	for catRows.Next() {
		var c domain.Category
		var groups []byte
		if err := catRows.Scan(&c.ID, &c.RestaurantID, &c.Name, &c.FlavorPriceRule, &groups); err != nil {
			_ = catRows.Close()
			return domain.Menu{}, err
		}
		if err := fromJSON(groups, &c.AddonGroupIDs); err != nil {
			_ = catRows.Close()
			return domain.Menu{}, err
		}
		menu.Categories = append(menu.Categories, c)
	}
	if err := catRows.Err(); err != nil {
		_ = catRows.Close()
		return domain.Menu{}, err
	}
	_ = catRows.Close()

	productRows, err := t.tx.QueryContext(ctx, productSelect+` WHERE restaurant_id = $1 ORDER BY name`, restaurant.ID)
	if err != nil {
		return domain.Menu{}, err
	}
	for productRows.Next() {
		p, err := scanProduct(productRows)
		if err != nil {
			_ = productRows.Close()
			return domain.Menu{}, err
		}
		menu.Products = append(menu.Products, p)
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return domain.Menu{}, err
	}
	_ = productRows.Close()

	groupRows, err := t.tx.QueryContext(ctx, `
		SELECT id, restaurant_id, name, addons
		FROM addon_groups
		WHERE restaurant_id = $1
		ORDER BY id
	`, restaurant.ID)
	if err != nil {
		return domain.Menu{}, err
	}
	for groupRows.Next() {
		var g domain.AddonGroup
		var addons []byte
		if err := groupRows.Scan(&g.ID, &g.RestaurantID, &g.Name, &addons); err != nil {
			_ = groupRows.Close()
			return domain.Menu{}, err
		}
		if err := fromJSON(addons, &g.Addons); err != nil {
			_ = groupRows.Close()
			return domain.Menu{}, err
		}
		menu.AddonGroups = append(menu.AddonGroups, g)
	}
	if err := groupRows.Err(); err != nil {
		_ = groupRows.Close()
		return domain.Menu{}, err
	}
	_ = groupRows.Close()

	promoRows, err := t.tx.QueryContext(ctx, `
		SELECT id, restaurant_id, name, product_id, category_id, discount_type, value, priority, active, starts_at, ends_at
		FROM promotions
		WHERE restaurant_id = $1
		ORDER BY id
	`, restaurant.ID)
	if err != nil {
		return domain.Menu{}, err
	}
	defer promoRows.Close()
	for promoRows.Next() {
		var p domain.Promotion
		var startsAt, endsAt sql.NullTime
		if err := promoRows.Scan(&p.ID, &p.RestaurantID, &p.Name, &p.ProductID, &p.CategoryID, &p.DiscountType, &p.Value, &p.Priority, &p.Active, &startsAt, &endsAt); err != nil {
			return domain.Menu{}, err
		}
		p.StartsAt = timePtr(startsAt)
		p.EndsAt = timePtr(endsAt)
		menu.Promotions = append(menu.Promotions, p)
	}
	if err := promoRows.Err(); err != nil {
		return domain.Menu{}, err
	}

	return menu, nil
}

const productSelect = `
		SELECT id, restaurant_id, category_id, name, price, flavor_price_rule, sizes,
			addon_group_ids, recipe, track_stock, stock, active
		FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var sizes, groups, recipe []byte
	if err := row.Scan(&p.ID, &p.RestaurantID, &p.CategoryID, &p.Name, &p.Price, &p.FlavorPriceRule, &sizes,
		&groups, &recipe, &p.TrackStock, &p.Stock, &p.Active); err != nil {
		return domain.Product{}, err
	}
	if err := fromJSON(sizes, &p.Sizes); err != nil {
		return domain.Product{}, err
	}
	if err := fromJSON(groups, &p.AddonGroupIDs); err != nil {
		return domain.Product{}, err
	}
	if err := fromJSON(recipe, &p.Recipe); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (t *pgTx) GetProduct(ctx context.Context, restaurantID string, id string) (domain.Product, error) {
	row := t.tx.QueryRowContext(ctx, productSelect+` WHERE restaurant_id = $1 AND id = $2`, restaurantID, id)
	p, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, notFound(err)
	}
	return p, nil
}

func (t *pgTx) AddProductStock(ctx context.Context, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products SET stock = stock + $2 WHERE id = $1 RETURNING stock
	`, productID, delta).Scan(&stock)
	if err != nil {
		return decimal.Zero, notFound(err)
	}
	return stock, nil
}

func (t *pgTx) FindCustomerByPhone(ctx context.Context, restaurantID string, phone string) (domain.Customer, error) {
	var c domain.Customer
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, restaurant_id, name, phone, address, points, cashback, created_at
		FROM customers
		WHERE restaurant_id = $1 AND phone = $2
	`, restaurantID, phone).Scan(&c.ID, &c.RestaurantID, &c.Name, &c.Phone, &c.Address, &c.Points, &c.Cashback, &c.CreatedAt)
	if err != nil {
		return domain.Customer{}, notFound(err)
	}
	return c, nil
}

func (t *pgTx) CreateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO customers (id, restaurant_id, name, phone, address, points, cashback, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.RestaurantID, c.Name, c.Phone, c.Address, c.Points, c.Cashback, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: phone already registered", domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (t *pgTx) AddCustomerRewards(ctx context.Context, customerID string, points int64, cashback decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers SET points = points + $2, cashback = cashback + $3 WHERE id = $1
	`, customerID, points, cashback)
	if err != nil {
		return err
	}
	return expectRow(res)
}
