package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemRequest struct {
	ProductID    string   `json:"productId"`
	Quantity     int      `json:"quantity"`
	SizeID       string   `json:"sizeId,omitempty"`
	AddonIDs     []string `json:"addonsIds,omitempty"`
	FlavorIDs    []string `json:"flavorIds,omitempty"`
	Observations string   `json:"observations,omitempty"`
}

type CreateOrderRequest struct {
	Restaurant    string        `json:"-"`
	Items         []ItemRequest `json:"items"`
	OrderType     string        `json:"orderType"`
	TableNumber   *int          `json:"tableNumber,omitempty"`
	DeliveryInfo  *DeliveryInfo `json:"deliveryInfo,omitempty"`
	PaymentMethod string        `json:"paymentMethod,omitempty"`
}

type AddItemsRequest struct {
	Items []ItemRequest `json:"items"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type TransferTableRequest struct {
	ToTable int `json:"toTable"`
}

type TransferItemsRequest struct {
	ItemIDs []string `json:"itemIds"`
	ToTable int      `json:"toTable"`
}

type TransferItemsResponse struct {
	Source      Order `json:"source"`
	Destination Order `json:"destination"`
}

type PaymentLine struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

type CheckoutRequest struct {
	Payments []PaymentLine `json:"payments"`
	OrderIDs []string      `json:"orderIds,omitempty"`
}

type CheckoutResponse struct {
	Success bool            `json:"success"`
	Orders  []Order         `json:"orders"`
	Change  decimal.Decimal `json:"change"`
}

type PartialPaymentRequest struct {
	ItemIDs  []string      `json:"itemIds"`
	Payments []PaymentLine `json:"payments"`
}

type OpenSessionRequest struct {
	InitialAmount decimal.Decimal `json:"initialAmount"`
}

type CloseSessionRequest struct {
	FinalAmount decimal.Decimal `json:"finalAmount"`
	Notes       string          `json:"notes,omitempty"`
}

type SessionSummary struct {
	Session    CashierSession  `json:"session"`
	CashOnHand decimal.Decimal `json:"cash_on_hand"`
}

type TransactionRequest struct {
	Direction     string          `json:"direction"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	BankAccountID string          `json:"bankAccountId,omitempty"`
	SupplierID    string          `json:"supplierId,omitempty"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
}

type AccountTransferRequest struct {
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

type AccountTransferResponse struct {
	Expense FinancialTransaction `json:"expense"`
	Income  FinancialTransaction `json:"income"`
}

type StockEntryRequest struct {
	SupplierID string           `json:"supplierId,omitempty"`
	Lines      []StockEntryLine `json:"lines"`
	Notes      string           `json:"notes,omitempty"`
}

type ProduceRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type LossRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

type AuditCount struct {
	IngredientID string          `json:"ingredientId"`
	Counted      decimal.Decimal `json:"counted"`
}

type StockAuditRequest struct {
	Items []AuditCount `json:"items"`
}

type StockAuditAdjustment struct {
	IngredientID string          `json:"ingredient_id"`
	SystemQty    decimal.Decimal `json:"system_qty"`
	CountedQty   decimal.Decimal `json:"counted_qty"`
	Delta        decimal.Decimal `json:"delta"`
}

type StockAuditResponse struct {
	Adjustments []StockAuditAdjustment `json:"adjustments"`
	Losses      []StockLoss            `json:"losses,omitempty"`
	Entry       *StockEntry            `json:"entry,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	Role         string `json:"role"`
	RestaurantID string `json:"restaurant_id"`
	ExpiresAt    string `json:"expires_at"`
}
