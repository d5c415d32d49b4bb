package memory

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
)

// Store keeps everything in process. A unit of work holds the single lock for
// its whole duration and restores the pre-unit snapshot when it fails.
type Store struct {
	mu    sync.Mutex
	state *state
	users map[string]domain.UserAccount
}

type state struct {
	restaurants  map[string]domain.Restaurant
	categories   map[string]domain.Category
	products     map[string]domain.Product
	addonGroups  map[string]domain.AddonGroup
	promotions   map[string]domain.Promotion
	customers    map[string]domain.Customer
	orders       map[string]domain.Order
	items        map[string]domain.OrderItem
	itemOrder    []string
	sequences    map[string]int
	tables       map[string]domain.Table
	ingredients  map[string]domain.Ingredient
	stockEntries map[string]domain.StockEntry
	production   []domain.ProductionLog
	losses       []domain.StockLoss
	alerts       []domain.StockAlert
	sessions     map[string]domain.CashierSession
	transactions map[string]domain.FinancialTransaction
	txOrder      []string
	bankAccounts map[string]domain.BankAccount
	recurring    map[string]domain.RecurringTemplate
	auditLogs    []domain.AuditLog
}

func newState() *state {
	return &state{
		restaurants:  make(map[string]domain.Restaurant),
		categories:   make(map[string]domain.Category),
		products:     make(map[string]domain.Product),
		addonGroups:  make(map[string]domain.AddonGroup),
		promotions:   make(map[string]domain.Promotion),
		customers:    make(map[string]domain.Customer),
		orders:       make(map[string]domain.Order),
		items:        make(map[string]domain.OrderItem),
		sequences:    make(map[string]int),
		tables:       make(map[string]domain.Table),
		ingredients:  make(map[string]domain.Ingredient),
		stockEntries: make(map[string]domain.StockEntry),
		sessions:     make(map[string]domain.CashierSession),
		transactions: make(map[string]domain.FinancialTransaction),
		bankAccounts: make(map[string]domain.BankAccount),
		recurring:    make(map[string]domain.RecurringTemplate),
	}
}

// clone copies every table. Stored values are never mutated in place, so a
// shallow copy of each map is a complete snapshot.
func (s *state) clone() *state {
	return &state{
		restaurants:  maps.Clone(s.restaurants),
		categories:   maps.Clone(s.categories),
		products:     maps.Clone(s.products),
		addonGroups:  maps.Clone(s.addonGroups),
		promotions:   maps.Clone(s.promotions),
		customers:    maps.Clone(s.customers),
		orders:       maps.Clone(s.orders),
		items:        maps.Clone(s.items),
		itemOrder:    slices.Clone(s.itemOrder),
		sequences:    maps.Clone(s.sequences),
		tables:       maps.Clone(s.tables),
		ingredients:  maps.Clone(s.ingredients),
		stockEntries: maps.Clone(s.stockEntries),
		production:   slices.Clone(s.production),
		losses:       slices.Clone(s.losses),
		alerts:       slices.Clone(s.alerts),
		sessions:     maps.Clone(s.sessions),
		transactions: maps.Clone(s.transactions),
		txOrder:      slices.Clone(s.txOrder),
		bankAccounts: maps.Clone(s.bankAccounts),
		recurring:    maps.Clone(s.recurring),
		auditLogs:    slices.Clone(s.auditLogs),
	}
}

var _ store.Tx = (*memTx)(nil)

func New() *Store {
	return &Store{state: newState(), users: make(map[string]domain.UserAccount)}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{st: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) PutRestaurant(r domain.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.restaurants[r.ID] = r
}

func (s *Store) PutCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.categories[c.ID] = c
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

func (s *Store) PutAddonGroup(g domain.AddonGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.addonGroups[g.ID] = g
}

func (s *Store) PutPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.promotions[p.ID] = p
}

func (s *Store) PutIngredient(i domain.Ingredient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ingredients[i.ID] = i
}

func (s *Store) PutBankAccount(a domain.BankAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.bankAccounts[a.ID] = a
}

func (s *Store) PutRecurring(r domain.RecurringTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.recurring[r.ID] = r
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return domain.ErrInvalidRequest
	}
	if _, exists := s.users[username]; exists {
		return domain.ErrConflict
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return domain.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

// NewSeeded returns a store with one demo restaurant and its staff for local runs.
// Staff passwords come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
func NewSeeded() *Store {
	s := New()
	money := decimal.RequireFromString

	s.PutRestaurant(domain.Restaurant{
		ID:   "rest-demo",
		Slug: "demo",
		Name: "Demo Bistro",
		Settings: domain.RestaurantSettings{
			AutoAcceptOrders:   true,
			DeliveryFee:        money("5.00"),
			LoyaltyEnabled:     true,
			PointsPerCurrency:  money("1"),
			CashbackPercentage: money("2"),
			PaymentAccountID:   "bank-demo",
		},
	})
	s.PutBankAccount(domain.BankAccount{ID: "bank-demo", RestaurantID: "rest-demo", Name: "Main account", Balance: money("0")})
	s.PutCategory(domain.Category{ID: "cat-pizza", RestaurantID: "rest-demo", Name: "Pizzas", FlavorPriceRule: domain.FlavorRuleHigher, AddonGroupIDs: []string{"grp-crust"}})
	s.PutCategory(domain.Category{ID: "cat-drinks", RestaurantID: "rest-demo", Name: "Drinks"})
	s.PutAddonGroup(domain.AddonGroup{ID: "grp-crust", RestaurantID: "rest-demo", Name: "Stuffed crust", Addons: []domain.Addon{
		{ID: "add-catupiry", Name: "Catupiry crust", Price: money("8.00")},
		{ID: "add-cheddar", Name: "Cheddar crust", Price: money("7.00")},
	}})
	s.PutIngredient(domain.Ingredient{ID: "ing-dough", RestaurantID: "rest-demo", Name: "Dough ball", Unit: "un", Stock: money("40"), Recipe: []domain.RecipeComponent{
		{IngredientID: "ing-flour", Quantity: money("0.25")},
	}})
	s.PutIngredient(domain.Ingredient{ID: "ing-flour", RestaurantID: "rest-demo", Name: "Flour", Unit: "kg", Stock: money("25"), LastUnitCost: money("4.20")})
	s.PutIngredient(domain.Ingredient{ID: "ing-mozzarella", RestaurantID: "rest-demo", Name: "Mozzarella", Unit: "kg", Stock: money("10"), LastUnitCost: money("38.00")})

	sizes := func(m, l string) []domain.ProductSize {
		return []domain.ProductSize{{ID: xsize("m"), Name: "Medium", Price: money(m)}, {ID: xsize("l"), Name: "Large", Price: money(l)}}
	}
	recipe := []domain.RecipeComponent{{IngredientID: "ing-dough", Quantity: money("1")}, {IngredientID: "ing-mozzarella", Quantity: money("0.2")}}
	for _, p := range []domain.Product{
		{ID: "prod-margherita", Name: "Margherita", Price: money("42.00"), Sizes: sizes("42.00", "55.00"), Recipe: recipe},
		{ID: "prod-pepperoni", Name: "Pepperoni", Price: money("48.00"), Sizes: sizes("48.00", "62.00"), Recipe: recipe},
		{ID: "prod-funghi", Name: "Funghi", Price: money("46.00"), Sizes: sizes("46.00", "59.00"), Recipe: recipe},
	} {
		p.RestaurantID = "rest-demo"
		p.CategoryID = "cat-pizza"
		p.Active = true
		s.PutProduct(p)
	}
	s.PutProduct(domain.Product{ID: "prod-soda", RestaurantID: "rest-demo", CategoryID: "cat-drinks", Name: "Soda can", Price: money("6.00"), TrackStock: true, Stock: money("48"), Active: true})

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override", slog.String("component", "memory-store"))
	}
	now := time.Now().UTC()
	for _, u := range []struct{ username, password, role string }{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash seed password", slog.String("username", u.username), slog.Any("error", err))
			continue
		}
		s.users[u.username] = domain.UserAccount{
			Username:     u.username,
			Password:     string(hash),
			Role:         u.role,
			RestaurantID: "rest-demo",
			Active:       true,
			CreatedAt:    now,
		}
	}
	return s
}

func xsize(code string) string {
	return "size-" + code
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
