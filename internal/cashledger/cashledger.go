// Package cashledger owns cashier sessions, the financial journal and bank
// account balances. Operations ending in Tx run inside a caller-owned unit of work.
package cashledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/store"
	"mesa/backend/internal/xid"
)

const (
	recurringHorizon  = 60 * 24 * time.Hour
	maxRecurringSteps = 120
)

type Ledger struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) Open(ctx context.Context, restaurantID string, userID string, initialAmount decimal.Decimal) (domain.CashierSession, error) {
	if initialAmount.IsNegative() {
		return domain.CashierSession{}, fmt.Errorf("%w: opening amount must not be negative", domain.ErrInvalidRequest)
	}

	var session domain.CashierSession
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetOpenSession(ctx, restaurantID); err == nil {
			return domain.ErrSessionAlreadyOpen
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		session = domain.CashierSession{
			ID:            xid.New("cs"),
			RestaurantID:  restaurantID,
			UserID:        userID,
			Status:        domain.SessionOpen,
			OpeningAmount: initialAmount.Round(2),
			OpenedAt:      l.now(),
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		return audit.Record(ctx, tx, restaurantID, "session_open", "cashier_session", session.ID, "initial="+session.OpeningAmount.StringFixed(2))
	})
	if err != nil {
		return domain.CashierSession{}, err
	}
	return session, nil
}

func (l *Ledger) Close(ctx context.Context, restaurantID string, finalAmount decimal.Decimal, notes string) (domain.CashierSession, error) {
	var session domain.CashierSession
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		open, err := tx.GetOpenSession(ctx, restaurantID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoOpenSession
		}
		if err != nil {
			return err
		}

		at := l.now()
		final := finalAmount.Round(2)
		if err := tx.CloseSession(ctx, open.ID, final, strings.TrimSpace(notes), at); err != nil {
			return err
		}
		open.Status = domain.SessionClosed
		open.ClosingAmount = &final
		open.Notes = strings.TrimSpace(notes)
		open.ClosedAt = &at
		session = open
		return audit.Record(ctx, tx, restaurantID, "session_close", "cashier_session", open.ID, "final="+final.StringFixed(2))
	})
	if err != nil {
		return domain.CashierSession{}, err
	}
	return session, nil
}

// CurrentSession returns the open session with its computed cash on hand.
func (l *Ledger) CurrentSession(ctx context.Context, restaurantID string) (domain.SessionSummary, error) {
	var summary domain.SessionSummary
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.GetOpenSession(ctx, restaurantID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoOpenSession
		}
		if err != nil {
			return err
		}
		rows, err := tx.ListTransactionsBySession(ctx, session.ID)
		if err != nil {
			return err
		}
		summary = domain.SessionSummary{Session: session, CashOnHand: CashOnHand(session, rows)}
		return nil
	})
	return summary, err
}

// CashOnHand is the opening float plus paid cash income minus paid cash expense.
func CashOnHand(session domain.CashierSession, rows []domain.FinancialTransaction) decimal.Decimal {
	total := session.OpeningAmount
	for _, ft := range rows {
		if ft.Status != domain.TxPaid || !strings.EqualFold(ft.PaymentMethod, domain.PaymentCash) {
			continue
		}
		total = total.Add(ft.Signed())
	}
	return total
}

// OpenSessionTx returns the restaurant's open session, or nil when there is none.
func (l *Ledger) OpenSessionTx(ctx context.Context, tx store.Tx, restaurantID string) (*domain.CashierSession, error) {
	session, err := tx.GetOpenSession(ctx, restaurantID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (l *Ledger) RecordTransaction(ctx context.Context, restaurantID string, req domain.TransactionRequest) (domain.FinancialTransaction, error) {
	ft := domain.FinancialTransaction{
		RestaurantID:  restaurantID,
		Direction:     strings.ToUpper(strings.TrimSpace(req.Direction)),
		Status:        strings.ToUpper(strings.TrimSpace(req.Status)),
		Amount:        req.Amount,
		Description:   strings.TrimSpace(req.Description),
		Category:      strings.TrimSpace(req.Category),
		PaymentMethod: strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		BankAccountID: strings.TrimSpace(req.BankAccountID),
		SupplierID:    strings.TrimSpace(req.SupplierID),
		DueDate:       req.DueDate,
	}

	var saved domain.FinancialTransaction
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		if ft.PaymentMethod == domain.PaymentCash {
			session, err := l.OpenSessionTx(ctx, tx, restaurantID)
			if err != nil {
				return err
			}
			if session != nil {
				ft.SessionID = session.ID
			}
		}
		var err error
		saved, err = l.RecordTx(ctx, tx, ft)
		if err != nil {
			return err
		}
		return audit.Record(ctx, tx, restaurantID, "transaction_record", "financial_transaction", saved.ID,
			fmt.Sprintf("direction=%s,status=%s,amount=%s", saved.Direction, saved.Status, saved.Amount.StringFixed(2)))
	})
	if err != nil {
		return domain.FinancialTransaction{}, err
	}
	return saved, nil
}

// RecordTx inserts a journal row and applies its balance effect in the same unit.
func (l *Ledger) RecordTx(ctx context.Context, tx store.Tx, ft domain.FinancialTransaction) (domain.FinancialTransaction, error) {
	if ft.Status == "" {
		ft.Status = domain.TxPending
	}
	if err := validate(ft); err != nil {
		return domain.FinancialTransaction{}, err
	}
	if ft.BankAccountID != "" {
		if _, err := tx.GetBankAccount(ctx, ft.RestaurantID, ft.BankAccountID); err != nil {
			return domain.FinancialTransaction{}, fmt.Errorf("bank account %s: %w", ft.BankAccountID, err)
		}
	}

	now := l.now()
	if ft.ID == "" {
		ft.ID = xid.New("ftx")
	}
	ft.Amount = ft.Amount.Round(2)
	ft.CreatedAt = now
	if ft.Status == domain.TxPaid && ft.PaidAt == nil {
		ft.PaidAt = &now
	}

	if err := tx.InsertTransaction(ctx, ft); err != nil {
		return domain.FinancialTransaction{}, err
	}
	if ft.AffectsBalance() {
		if err := tx.AdjustBankBalance(ctx, ft.BankAccountID, ft.Signed()); err != nil {
			return domain.FinancialTransaction{}, err
		}
	}
	return ft, nil
}

func (l *Ledger) UpdateTransaction(ctx context.Context, restaurantID string, id string, req domain.TransactionRequest) (domain.FinancialTransaction, error) {
	var saved domain.FinancialTransaction
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		old, err := tx.GetTransaction(ctx, restaurantID, id)
		if err != nil {
			return err
		}

		next := old
		if v := strings.ToUpper(strings.TrimSpace(req.Direction)); v != "" {
			next.Direction = v
		}
		if v := strings.ToUpper(strings.TrimSpace(req.Status)); v != "" {
			next.Status = v
		}
		if !req.Amount.IsZero() {
			next.Amount = req.Amount.Round(2)
		}
		if v := strings.TrimSpace(req.Description); v != "" {
			next.Description = v
		}
		if v := strings.TrimSpace(req.Category); v != "" {
			next.Category = v
		}
		if v := strings.ToLower(strings.TrimSpace(req.PaymentMethod)); v != "" {
			next.PaymentMethod = v
		}
		if req.BankAccountID != "" {
			next.BankAccountID = strings.TrimSpace(req.BankAccountID)
		}
		if req.SupplierID != "" {
			next.SupplierID = strings.TrimSpace(req.SupplierID)
		}
		if req.DueDate != nil {
			next.DueDate = req.DueDate
		}

		saved, err = l.replaceTx(ctx, tx, old, next)
		if err != nil {
			return err
		}
		return audit.Record(ctx, tx, restaurantID, "transaction_update", "financial_transaction", id,
			fmt.Sprintf("status=%s->%s,amount=%s->%s", old.Status, saved.Status, old.Amount.StringFixed(2), saved.Amount.StringFixed(2)))
	})
	if err != nil {
		return domain.FinancialTransaction{}, err
	}
	return saved, nil
}

// replaceTx reverses the old row's balance effect before writing and applying the new one.
func (l *Ledger) replaceTx(ctx context.Context, tx store.Tx, old domain.FinancialTransaction, next domain.FinancialTransaction) (domain.FinancialTransaction, error) {
	if err := validate(next); err != nil {
		return domain.FinancialTransaction{}, err
	}
	if next.BankAccountID != "" && next.BankAccountID != old.BankAccountID {
		if _, err := tx.GetBankAccount(ctx, next.RestaurantID, next.BankAccountID); err != nil {
			return domain.FinancialTransaction{}, fmt.Errorf("bank account %s: %w", next.BankAccountID, err)
		}
	}
	if next.Status == domain.TxPaid && next.PaidAt == nil {
		now := l.now()
		next.PaidAt = &now
	}
	if next.Status != domain.TxPaid {
		next.PaidAt = nil
	}

	if old.AffectsBalance() {
		if err := tx.AdjustBankBalance(ctx, old.BankAccountID, old.Signed().Neg()); err != nil {
			return domain.FinancialTransaction{}, err
		}
	}
	if err := tx.UpdateTransaction(ctx, next); err != nil {
		return domain.FinancialTransaction{}, err
	}
	if next.AffectsBalance() {
		if err := tx.AdjustBankBalance(ctx, next.BankAccountID, next.Signed()); err != nil {
			return domain.FinancialTransaction{}, err
		}
	}
	return next, nil
}

func (l *Ledger) CancelTransaction(ctx context.Context, restaurantID string, id string) (domain.FinancialTransaction, error) {
	var saved domain.FinancialTransaction
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		ft, err := tx.GetTransaction(ctx, restaurantID, id)
		if err != nil {
			return err
		}
		saved, err = l.CancelTx(ctx, tx, ft)
		if err != nil {
			return err
		}
		return audit.Record(ctx, tx, restaurantID, "transaction_cancel", "financial_transaction", id, "amount="+ft.Amount.StringFixed(2))
	})
	if err != nil {
		return domain.FinancialTransaction{}, err
	}
	return saved, nil
}

// CancelTx marks the row CANCELED and undoes its balance effect. Canceling twice is a no-op.
func (l *Ledger) CancelTx(ctx context.Context, tx store.Tx, ft domain.FinancialTransaction) (domain.FinancialTransaction, error) {
	if ft.Status == domain.TxCanceled {
		return ft, nil
	}
	next := ft
	next.Status = domain.TxCanceled
	return l.replaceTx(ctx, tx, ft, next)
}

// Transfer moves money between two accounts as a cross-linked expense/income pair.
func (l *Ledger) Transfer(ctx context.Context, restaurantID string, req domain.AccountTransferRequest) (domain.AccountTransferResponse, error) {
	from := strings.TrimSpace(req.FromAccountID)
	to := strings.TrimSpace(req.ToAccountID)
	if from == "" || to == "" || from == to {
		return domain.AccountTransferResponse{}, fmt.Errorf("%w: transfer needs two distinct accounts", domain.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return domain.AccountTransferResponse{}, fmt.Errorf("%w: transfer amount must be positive", domain.ErrInvalidRequest)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "account transfer"
	}

	var resp domain.AccountTransferResponse
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		expenseID, incomeID := xid.New("ftx"), xid.New("ftx")
		expense, err := l.RecordTx(ctx, tx, domain.FinancialTransaction{
			ID:                  expenseID,
			RestaurantID:        restaurantID,
			Direction:           domain.DirectionExpense,
			Status:              domain.TxPaid,
			Amount:              req.Amount,
			Description:         description,
			Category:            "transfer",
			BankAccountID:       from,
			LinkedTransactionID: incomeID,
		})
		if err != nil {
			return err
		}
		income, err := l.RecordTx(ctx, tx, domain.FinancialTransaction{
			ID:                  incomeID,
			RestaurantID:        restaurantID,
			Direction:           domain.DirectionIncome,
			Status:              domain.TxPaid,
			Amount:              req.Amount,
			Description:         description,
			Category:            "transfer",
			BankAccountID:       to,
			LinkedTransactionID: expenseID,
		})
		if err != nil {
			return err
		}
		resp = domain.AccountTransferResponse{Expense: expense, Income: income}
		return audit.Record(ctx, tx, restaurantID, "account_transfer", "bank_account", from,
			fmt.Sprintf("to=%s,amount=%s", to, expense.Amount.StringFixed(2)))
	})
	if err != nil {
		return domain.AccountTransferResponse{}, err
	}
	return resp, nil
}

// JournalOrderIncomeTx books a PAID income row for an order payment. Cash goes
// to the drawer session; other methods credit the restaurant's payment account
// when it is configured.
func (l *Ledger) JournalOrderIncomeTx(ctx context.Context, tx store.Tx, order domain.Order, session *domain.CashierSession, amount decimal.Decimal, method string, settings domain.RestaurantSettings) (domain.FinancialTransaction, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = domain.PaymentCash
	}
	ft := domain.FinancialTransaction{
		RestaurantID:  order.RestaurantID,
		Direction:     domain.DirectionIncome,
		Status:        domain.TxPaid,
		Amount:        amount,
		Description:   fmt.Sprintf("order #%d", order.Sequence),
		Category:      "sales",
		PaymentMethod: method,
		OrderID:       order.ID,
	}
	if session != nil {
		ft.SessionID = session.ID
	}
	if method != domain.PaymentCash && settings.PaymentAccountID != "" {
		if _, err := tx.GetBankAccount(ctx, order.RestaurantID, settings.PaymentAccountID); err == nil {
			ft.BankAccountID = settings.PaymentAccountID
		} else if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("payment account missing, income left unlinked",
				slog.String("restaurant_id", order.RestaurantID), slog.String("account_id", settings.PaymentAccountID))
		} else {
			return domain.FinancialTransaction{}, err
		}
	}
	return l.RecordTx(ctx, tx, ft)
}

func validate(ft domain.FinancialTransaction) error {
	if ft.Direction != domain.DirectionIncome && ft.Direction != domain.DirectionExpense {
		return fmt.Errorf("%w: direction must be INCOME or EXPENSE", domain.ErrInvalidRequest)
	}
	switch ft.Status {
	case domain.TxPending, domain.TxPaid, domain.TxCanceled:
	default:
		return fmt.Errorf("%w: unknown transaction status %q", domain.ErrInvalidRequest, ft.Status)
	}
	if !ft.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRequest)
	}
	return nil
}
