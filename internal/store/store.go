package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
)

// Store runs units of work. Every call made through the Tx handed to fn
// commits together when fn returns nil, and nothing is kept when it returns an error.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	CatalogTx
	OrderTx
	InventoryTx
	CashTx

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, restaurantID string, limit int) ([]domain.AuditLog, error)
}

type CatalogTx interface {
	// GetRestaurant resolves a restaurant by id or slug.
	GetRestaurant(ctx context.Context, ref string) (domain.Restaurant, error)
	LoadMenu(ctx context.Context, restaurantID string) (domain.Menu, error)
	GetProduct(ctx context.Context, restaurantID string, id string) (domain.Product, error)
	AddProductStock(ctx context.Context, productID string, delta decimal.Decimal) (decimal.Decimal, error)
	FindCustomerByPhone(ctx context.Context, restaurantID string, phone string) (domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) error
	AddCustomerRewards(ctx context.Context, customerID string, points int64, cashback decimal.Decimal) error
}

type OrderTx interface {
	NextOrderSequence(ctx context.Context, restaurantID string, businessDate string) (int, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	// GetOrder loads the order with its items and locks it for the rest of the unit.
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	FindOpenOrderByTable(ctx context.Context, restaurantID string, tableNumber int) (domain.Order, error)
	ListOpenOrders(ctx context.Context, restaurantID string) ([]domain.Order, error)
	// UpdateOrder writes everything except the total, which only moves through AdjustOrderTotal.
	UpdateOrder(ctx context.Context, order domain.Order) error
	// AdjustOrderTotal adds delta to the stored total, flooring it at zero, and returns the new total.
	AdjustOrderTotal(ctx context.Context, orderID string, delta decimal.Decimal) (decimal.Decimal, error)
	MarkFiscalEmitted(ctx context.Context, orderID string, at time.Time) error

	InsertOrderItems(ctx context.Context, items []domain.OrderItem) error
	GetOrderItem(ctx context.Context, itemID string) (domain.OrderItem, error)
	MoveOrderItems(ctx context.Context, itemIDs []string, toOrderID string) error
	DeleteOrderItem(ctx context.Context, itemID string) error
	SetItemsPaid(ctx context.Context, itemIDs []string) error
	SetItemReady(ctx context.Context, itemID string) error

	UpsertTable(ctx context.Context, restaurantID string, number int, status string) (domain.Table, error)
	ListTables(ctx context.Context, restaurantID string) ([]domain.Table, error)
}

type InventoryTx interface {
	GetIngredient(ctx context.Context, restaurantID string, id string) (domain.Ingredient, error)
	AddIngredientStock(ctx context.Context, ingredientID string, delta decimal.Decimal) (decimal.Decimal, error)
	SetIngredientStock(ctx context.Context, ingredientID string, qty decimal.Decimal) error
	SetIngredientCost(ctx context.Context, ingredientID string, unitCost decimal.Decimal) error

	CreateStockEntry(ctx context.Context, entry domain.StockEntry) error
	GetStockEntry(ctx context.Context, restaurantID string, id string) (domain.StockEntry, error)
	ConfirmStockEntry(ctx context.Context, id string, transactionID string, at time.Time) error

	InsertProductionLog(ctx context.Context, entry domain.ProductionLog) error
	InsertStockLoss(ctx context.Context, loss domain.StockLoss) error
	InsertStockAlert(ctx context.Context, alert domain.StockAlert) error
	ListStockAlerts(ctx context.Context, restaurantID string, limit int) ([]domain.StockAlert, error)
}

type CashTx interface {
	GetOpenSession(ctx context.Context, restaurantID string) (domain.CashierSession, error)
	CreateSession(ctx context.Context, session domain.CashierSession) error
	CloseSession(ctx context.Context, id string, finalAmount decimal.Decimal, notes string, at time.Time) error

	InsertTransaction(ctx context.Context, t domain.FinancialTransaction) error
	GetTransaction(ctx context.Context, restaurantID string, id string) (domain.FinancialTransaction, error)
	UpdateTransaction(ctx context.Context, t domain.FinancialTransaction) error
	ListTransactionsBySession(ctx context.Context, sessionID string) ([]domain.FinancialTransaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID string) ([]domain.FinancialTransaction, error)
	RelinkOrderTransactions(ctx context.Context, fromOrderID string, toOrderID string) error

	GetBankAccount(ctx context.Context, restaurantID string, id string) (domain.BankAccount, error)
	AdjustBankBalance(ctx context.Context, accountID string, delta decimal.Decimal) error

	ListDueRecurring(ctx context.Context, asOf time.Time) ([]domain.RecurringTemplate, error)
	SetRecurringGenerated(ctx context.Context, id string, at time.Time) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Repository is what the server process needs from a backing store.
type Repository interface {
	Store
	UserStore
}
