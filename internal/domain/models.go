package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderTypeTable    = "TABLE"
	OrderTypeDelivery = "DELIVERY"
	OrderTypePickup   = "PICKUP"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCanceled  = "CANCELED"
)

const (
	DeliveryStatusPending        = "PENDING"
	DeliveryStatusConfirmed      = "CONFIRMED"
	DeliveryStatusOutForDelivery = "OUT_FOR_DELIVERY"
	DeliveryStatusDelivered      = "DELIVERED"
	DeliveryStatusCanceled       = "CANCELED"
)

const (
	FlavorRuleHigher  = "higher"
	FlavorRuleAverage = "average"
)

const (
	DiscountPercentage = "PERCENTAGE"
	DiscountFixed      = "FIXED"
)

const (
	TableFree     = "free"
	TableOccupied = "occupied"
)

const (
	SessionOpen   = "OPEN"
	SessionClosed = "CLOSED"
)

const (
	DirectionIncome  = "INCOME"
	DirectionExpense = "EXPENSE"
)

const (
	TxPending  = "PENDING"
	TxPaid     = "PAID"
	TxCanceled = "CANCELED"
)

const (
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

const (
	StockEntryPending   = "PENDING"
	StockEntryConfirmed = "CONFIRMED"
)

const PaymentCash = "cash"

// IsTerminalStatus reports whether an order in this status accepts no more changes.
func IsTerminalStatus(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCanceled
}

type Restaurant struct {
	ID       string             `json:"id"`
	Slug     string             `json:"slug"`
	Name     string             `json:"name"`
	Settings RestaurantSettings `json:"settings"`
}

type RestaurantSettings struct {
	AutoAcceptOrders   bool            `json:"auto_accept_orders"`
	DeliveryFee        decimal.Decimal `json:"delivery_fee"`
	LoyaltyEnabled     bool            `json:"loyalty_enabled"`
	PointsPerCurrency  decimal.Decimal `json:"points_per_currency"`
	CashbackPercentage decimal.Decimal `json:"cashback_percentage"`
	Timezone           string          `json:"timezone,omitempty"`
	PaymentAccountID   string          `json:"payment_account_id,omitempty"`
}

type Category struct {
	ID              string   `json:"id"`
	RestaurantID    string   `json:"restaurant_id"`
	Name            string   `json:"name"`
	FlavorPriceRule string   `json:"flavor_price_rule,omitempty"`
	AddonGroupIDs   []string `json:"addon_group_ids,omitempty"`
}

type ProductSize struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type RecipeComponent struct {
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type Product struct {
	ID              string            `json:"id"`
	RestaurantID    string            `json:"restaurant_id"`
	CategoryID      string            `json:"category_id,omitempty"`
	Name            string            `json:"name"`
	Price           decimal.Decimal   `json:"price"`
	FlavorPriceRule string            `json:"flavor_price_rule,omitempty"`
	Sizes           []ProductSize     `json:"sizes,omitempty"`
	AddonGroupIDs   []string          `json:"addon_group_ids,omitempty"`
	Recipe          []RecipeComponent `json:"recipe,omitempty"`
	TrackStock      bool              `json:"track_stock"`
	Stock           decimal.Decimal   `json:"stock"`
	Active          bool              `json:"active"`
}

type Addon struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type AddonGroup struct {
	ID           string  `json:"id"`
	RestaurantID string  `json:"restaurant_id"`
	Name         string  `json:"name"`
	Addons       []Addon `json:"addons"`
}

// Promotion targets one product, one category, or the whole menu when both are empty.
type Promotion struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	ProductID    string          `json:"product_id,omitempty"`
	CategoryID   string          `json:"category_id,omitempty"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	Priority     int             `json:"priority"`
	Active       bool            `json:"active"`
	StartsAt     *time.Time      `json:"starts_at,omitempty"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
}

// Menu is the catalog snapshot read by pricing. It is cached as a whole.
type Menu struct {
	Restaurant  Restaurant   `json:"restaurant"`
	Categories  []Category   `json:"categories"`
	Products    []Product    `json:"products"`
	AddonGroups []AddonGroup `json:"addon_groups"`
	Promotions  []Promotion  `json:"promotions"`
}

func (m *Menu) Product(id string) (Product, bool) {
	for _, p := range m.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func (m *Menu) Category(id string) (Category, bool) {
	if id == "" {
		return Category{}, false
	}
	for _, c := range m.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// AddonGroupsFor returns the groups attached to the product directly or through its category.
func (m *Menu) AddonGroupsFor(product Product) []AddonGroup {
	ids := make(map[string]bool, len(product.AddonGroupIDs))
	for _, id := range product.AddonGroupIDs {
		ids[id] = true
	}
	if category, ok := m.Category(product.CategoryID); ok {
		for _, id := range category.AddonGroupIDs {
			ids[id] = true
		}
	}

	groups := make([]AddonGroup, 0, len(ids))
	for _, group := range m.AddonGroups {
		if ids[group.ID] {
			groups = append(groups, group)
		}
	}
	return groups
}

type Customer struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address,omitempty"`
	Points       int64           `json:"points"`
	Cashback     decimal.Decimal `json:"cashback"`
	CreatedAt    time.Time       `json:"created_at"`
}

type DeliveryInfo struct {
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	Address      string `json:"address,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type Order struct {
	ID              string                 `json:"id"`
	RestaurantID    string                 `json:"restaurant_id"`
	Type            string                 `json:"type"`
	TableNumber     *int                   `json:"table_number,omitempty"`
	Status          string                 `json:"status"`
	DeliveryStatus  string                 `json:"delivery_status,omitempty"`
	Total           decimal.Decimal        `json:"total"`
	DeliveryFee     decimal.Decimal        `json:"delivery_fee"`
	Sequence        int                    `json:"sequence"`
	BusinessDate    string                 `json:"business_date"`
	PaymentMethod   string                 `json:"payment_method,omitempty"`
	CustomerID      string                 `json:"customer_id,omitempty"`
	StaffID         string                 `json:"staff_id,omitempty"`
	Delivery        *DeliveryInfo          `json:"delivery,omitempty"`
	Items           []OrderItem            `json:"items"`
	Payments        []FinancialTransaction `json:"payments,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	PaidAt          *time.Time             `json:"paid_at,omitempty"`
	FiscalEmittedAt *time.Time             `json:"fiscal_emitted_at,omitempty"`
}

func (o Order) IsTerminal() bool {
	return IsTerminalStatus(o.Status)
}

func (o Order) OnTable(number int) bool {
	return o.TableNumber != nil && *o.TableNumber == number
}

type SizeSnapshot struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type AddonSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type FlavorSnapshot struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

type PromotionSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Discount decimal.Decimal `json:"discount"`
}

// ItemSnapshot is what the customer chose and was charged for, frozen at add time.
type ItemSnapshot struct {
	BasePrice  decimal.Decimal    `json:"base_price"`
	Size       *SizeSnapshot      `json:"size,omitempty"`
	Flavors    []FlavorSnapshot   `json:"flavors,omitempty"`
	FlavorRule string             `json:"flavor_rule,omitempty"`
	Addons     []AddonSnapshot    `json:"addons,omitempty"`
	Promotion  *PromotionSnapshot `json:"promotion,omitempty"`
}

type OrderItem struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Snapshot     ItemSnapshot    `json:"snapshot"`
	Observations string          `json:"observations,omitempty"`
	Paid         bool            `json:"paid"`
	Ready        bool            `json:"ready"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Table struct {
	ID           string `json:"id"`
	RestaurantID string `json:"restaurant_id"`
	Number       int    `json:"number"`
	Status       string `json:"status"`
}

type Ingredient struct {
	ID           string            `json:"id"`
	RestaurantID string            `json:"restaurant_id"`
	Name         string            `json:"name"`
	Unit         string            `json:"unit"`
	Stock        decimal.Decimal   `json:"stock"`
	LastUnitCost decimal.Decimal   `json:"last_unit_cost"`
	Recipe       []RecipeComponent `json:"recipe,omitempty"`
}

type StockEntryLine struct {
	IngredientID     string          `json:"ingredient_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
}

type StockEntry struct {
	ID            string           `json:"id"`
	RestaurantID  string           `json:"restaurant_id"`
	SupplierID    string           `json:"supplier_id,omitempty"`
	Status        string           `json:"status"`
	Total         decimal.Decimal  `json:"total"`
	Lines         []StockEntryLine `json:"lines"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
}

type ProductionLog struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	CreatedAt    time.Time       `json:"created_at"`
}

type StockLoss struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Reason       string          `json:"reason"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StockAlert flags a deduction that pushed stock below zero. The sale still went through.
type StockAlert struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	IngredientID string          `json:"ingredient_id,omitempty"`
	ProductID    string          `json:"product_id,omitempty"`
	OrderID      string          `json:"order_id,omitempty"`
	Stock        decimal.Decimal `json:"stock"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CashierSession struct {
	ID            string           `json:"id"`
	RestaurantID  string           `json:"restaurant_id"`
	UserID        string           `json:"user_id"`
	Status        string           `json:"status"`
	OpeningAmount decimal.Decimal  `json:"opening_amount"`
	ClosingAmount *decimal.Decimal `json:"closing_amount,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

type FinancialTransaction struct {
	ID                  string          `json:"id"`
	RestaurantID        string          `json:"restaurant_id"`
	Direction           string          `json:"direction"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description,omitempty"`
	Category            string          `json:"category,omitempty"`
	PaymentMethod       string          `json:"payment_method,omitempty"`
	OrderID             string          `json:"order_id,omitempty"`
	SessionID           string          `json:"session_id,omitempty"`
	BankAccountID       string          `json:"bank_account_id,omitempty"`
	SupplierID          string          `json:"supplier_id,omitempty"`
	StockEntryID        string          `json:"stock_entry_id,omitempty"`
	LinkedTransactionID string          `json:"linked_transaction_id,omitempty"`
	RecurringID         string          `json:"recurring_id,omitempty"`
	DueDate             *time.Time      `json:"due_date,omitempty"`
	PaidAt              *time.Time      `json:"paid_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Signed returns the balance effect of the row: +amount for income, -amount for expense.
func (t FinancialTransaction) Signed() decimal.Decimal {
	if t.Direction == DirectionExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// AffectsBalance reports whether the row currently moves a bank account balance.
func (t FinancialTransaction) AffectsBalance() bool {
	return t.Status == TxPaid && t.BankAccountID != ""
}

type BankAccount struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
}

type RecurringTemplate struct {
	ID              string          `json:"id"`
	RestaurantID    string          `json:"restaurant_id"`
	Description     string          `json:"description"`
	Category        string          `json:"category,omitempty"`
	Direction       string          `json:"direction"`
	Amount          decimal.Decimal `json:"amount"`
	Frequency       string          `json:"frequency"`
	DueDate         time.Time       `json:"due_date"`
	EndDate         *time.Time      `json:"end_date,omitempty"`
	LastGeneratedAt *time.Time      `json:"last_generated_at,omitempty"`
	BankAccountID   string          `json:"bank_account_id,omitempty"`
	Active          bool            `json:"active"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	RestaurantID  string    `json:"restaurant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username     string
	Role         string
	RestaurantID string
}

type UserAccount struct {
	Username     string    `json:"username"`
	Password     string    `json:"-"`
	Role         string    `json:"role"`
	RestaurantID string    `json:"restaurant_id"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}
