package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
)

const sessionSelect = `
		SELECT id, restaurant_id, user_id, status, opening_amount, closing_amount, notes, opened_at, closed_at
		FROM cashier_sessions`

func (t *pgTx) GetOpenSession(ctx context.Context, restaurantID string) (domain.CashierSession, error) {
	var s domain.CashierSession
	var closing decimal.NullDecimal
	var closedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, sessionSelect+`
		WHERE restaurant_id = $1 AND status = 'OPEN'
		FOR UPDATE
	`, restaurantID).Scan(&s.ID, &s.RestaurantID, &s.UserID, &s.Status, &s.OpeningAmount, &closing, &s.Notes, &s.OpenedAt, &closedAt)
	if err != nil {
		return domain.CashierSession{}, notFound(err)
	}
	if closing.Valid {
		s.ClosingAmount = &closing.Decimal
	}
	s.OpenedAt = s.OpenedAt.UTC()
	s.ClosedAt = timePtr(closedAt)
	return s, nil
}

func (t *pgTx) CreateSession(ctx context.Context, s domain.CashierSession) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cashier_sessions (id, restaurant_id, user_id, status, opening_amount, closing_amount, notes, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.RestaurantID, s.UserID, s.Status, s.OpeningAmount, nullDecimal(s.ClosingAmount), s.Notes, s.OpenedAt, nullTime(s.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSessionAlreadyOpen
		}
		return err
	}
	return nil
}

func (t *pgTx) CloseSession(ctx context.Context, id string, finalAmount decimal.Decimal, notes string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cashier_sessions
		SET status = 'CLOSED', closing_amount = $2, notes = $3, closed_at = $4
		WHERE id = $1 AND status = 'OPEN'
	`, id, finalAmount, notes, at)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) InsertTransaction(ctx context.Context, ft domain.FinancialTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO financial_transactions (
			id, restaurant_id, direction, status, amount, description, category, payment_method,
			order_id, session_id, bank_account_id, supplier_id, stock_entry_id, linked_transaction_id,
			recurring_id, due_date, paid_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, ft.ID, ft.RestaurantID, ft.Direction, ft.Status, ft.Amount, ft.Description, ft.Category, ft.PaymentMethod,
		nullIfEmpty(ft.OrderID), nullIfEmpty(ft.SessionID), nullIfEmpty(ft.BankAccountID), nullIfEmpty(ft.SupplierID),
		nullIfEmpty(ft.StockEntryID), nullIfEmpty(ft.LinkedTransactionID), nullIfEmpty(ft.RecurringID),
		nullTime(ft.DueDate), nullTime(ft.PaidAt), ft.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

const transactionSelect = `
		SELECT id, restaurant_id, direction, status, amount, description, category, payment_method,
			order_id, session_id, bank_account_id, supplier_id, stock_entry_id, linked_transaction_id,
			recurring_id, due_date, paid_at, created_at
		FROM financial_transactions`

func scanTransaction(row rowScanner) (domain.FinancialTransaction, error) {
	var ft domain.FinancialTransaction
	var orderID, sessionID, accountID, supplierID, entryID, linkedID, recurringID sql.NullString
	var dueDate, paidAt sql.NullTime
	if err := row.Scan(&ft.ID, &ft.RestaurantID, &ft.Direction, &ft.Status, &ft.Amount, &ft.Description, &ft.Category, &ft.PaymentMethod,
		&orderID, &sessionID, &accountID, &supplierID, &entryID, &linkedID,
		&recurringID, &dueDate, &paidAt, &ft.CreatedAt); err != nil {
		return domain.FinancialTransaction{}, err
	}
	ft.OrderID = orderID.String
	ft.SessionID = sessionID.String
	ft.BankAccountID = accountID.String
	ft.SupplierID = supplierID.String
	ft.StockEntryID = entryID.String
	ft.LinkedTransactionID = linkedID.String
	ft.RecurringID = recurringID.String
	ft.DueDate = timePtr(dueDate)
	ft.PaidAt = timePtr(paidAt)
	ft.CreatedAt = ft.CreatedAt.UTC()
	return ft, nil
}

func (t *pgTx) GetTransaction(ctx context.Context, restaurantID string, id string) (domain.FinancialTransaction, error) {
	ft, err := scanTransaction(t.tx.QueryRowContext(ctx, transactionSelect+`
		WHERE restaurant_id = $1 AND id = $2
		FOR UPDATE
	`, restaurantID, id))
	if err != nil {
		return domain.FinancialTransaction{}, notFound(err)
	}
	return ft, nil
}

func (t *pgTx) UpdateTransaction(ctx context.Context, ft domain.FinancialTransaction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE financial_transactions
		SET direction = $2, status = $3, amount = $4, description = $5, category = $6, payment_method = $7,
			order_id = $8, session_id = $9, bank_account_id = $10, supplier_id = $11, stock_entry_id = $12,
			linked_transaction_id = $13, recurring_id = $14, due_date = $15, paid_at = $16
		WHERE id = $1
	`, ft.ID, ft.Direction, ft.Status, ft.Amount, ft.Description, ft.Category, ft.PaymentMethod,
		nullIfEmpty(ft.OrderID), nullIfEmpty(ft.SessionID), nullIfEmpty(ft.BankAccountID), nullIfEmpty(ft.SupplierID),
		nullIfEmpty(ft.StockEntryID), nullIfEmpty(ft.LinkedTransactionID), nullIfEmpty(ft.RecurringID),
		nullTime(ft.DueDate), nullTime(ft.PaidAt))
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) listTransactions(ctx context.Context, where string, arg any) ([]domain.FinancialTransaction, error) {
	rows, err := t.tx.QueryContext(ctx, transactionSelect+` WHERE `+where+` ORDER BY position`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.FinancialTransaction, 0, 8)
	for rows.Next() {
		ft, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ft)
	}
	return result, rows.Err()
}

func (t *pgTx) ListTransactionsBySession(ctx context.Context, sessionID string) ([]domain.FinancialTransaction, error) {
	return t.listTransactions(ctx, `session_id = $1`, sessionID)
}

func (t *pgTx) ListTransactionsByOrder(ctx context.Context, orderID string) ([]domain.FinancialTransaction, error) {
	return t.listTransactions(ctx, `order_id = $1`, orderID)
}

func (t *pgTx) RelinkOrderTransactions(ctx context.Context, fromOrderID string, toOrderID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE financial_transactions SET order_id = $2 WHERE order_id = $1`, fromOrderID, toOrderID)
	return err
}

func (t *pgTx) GetBankAccount(ctx context.Context, restaurantID string, id string) (domain.BankAccount, error) {
	var account domain.BankAccount
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, restaurant_id, name, balance
		FROM bank_accounts
		WHERE restaurant_id = $1 AND id = $2
	`, restaurantID, id).Scan(&account.ID, &account.RestaurantID, &account.Name, &account.Balance)
	if err != nil {
		return domain.BankAccount{}, notFound(err)
	}
	return account, nil
}

func (t *pgTx) AdjustBankBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE bank_accounts SET balance = balance + $2 WHERE id = $1`, accountID, delta)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) ListDueRecurring(ctx context.Context, asOf time.Time) ([]domain.RecurringTemplate, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, restaurant_id, description, category, direction, amount, frequency, due_date,
			end_date, last_generated_at, bank_account_id, active
		FROM recurring_templates
		WHERE active AND (end_date IS NULL OR end_date > $1)
		ORDER BY id
		FOR UPDATE
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.RecurringTemplate, 0, 8)
	for rows.Next() {
		var r domain.RecurringTemplate
		var endDate, lastGenerated sql.NullTime
		var accountID sql.NullString
		if err := rows.Scan(&r.ID, &r.RestaurantID, &r.Description, &r.Category, &r.Direction, &r.Amount, &r.Frequency, &r.DueDate,
			&endDate, &lastGenerated, &accountID, &r.Active); err != nil {
			return nil, err
		}
		r.DueDate = r.DueDate.UTC()
		r.EndDate = timePtr(endDate)
		r.LastGeneratedAt = timePtr(lastGenerated)
		r.BankAccountID = accountID.String
		result = append(result, r)
	}
	return result, rows.Err()
}

func (t *pgTx) SetRecurringGenerated(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE recurring_templates SET last_generated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, restaurant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.RestaurantID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (t *pgTx) ListAuditLogs(ctx context.Context, restaurantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, restaurant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE restaurant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, restaurantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.RestaurantID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
