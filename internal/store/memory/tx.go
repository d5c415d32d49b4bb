package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mesa/backend/internal/domain"
)

type memTx struct {
	st *state
}

func (t *memTx) GetRestaurant(_ context.Context, ref string) (domain.Restaurant, error) {
	if r, ok := t.st.restaurants[ref]; ok {
		return r, nil
	}
	for _, r := range t.st.restaurants {
		if r.Slug != "" && r.Slug == ref {
			return r, nil
		}
	}
	return domain.Restaurant{}, domain.ErrNotFound
}

func (t *memTx) LoadMenu(ctx context.Context, restaurantID string) (domain.Menu, error) {
	restaurant, err := t.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return domain.Menu{}, err
	}

	menu := domain.Menu{Restaurant: restaurant}
	for _, c := range t.st.categories {
		if c.RestaurantID == restaurant.ID {
			menu.Categories = append(menu.Categories, c)
		}
	}
	for _, p := range t.st.products {
		if p.RestaurantID == restaurant.ID {
			menu.Products = append(menu.Products, p)
		}
	}
	for _, g := range t.st.addonGroups {
		if g.RestaurantID == restaurant.ID {
			menu.AddonGroups = append(menu.AddonGroups, g)
		}
	}
	for _, p := range t.st.promotions {
		if p.RestaurantID == restaurant.ID {
			menu.Promotions = append(menu.Promotions, p)
		}
	}
	sort.Slice(menu.Categories, func(i, j int) bool { return menu.Categories[i].Name < menu.Categories[j].Name })
	sort.Slice(menu.Products, func(i, j int) bool { return menu.Products[i].Name < menu.Products[j].Name })
	sort.Slice(menu.AddonGroups, func(i, j int) bool { return menu.AddonGroups[i].ID < menu.AddonGroups[j].ID })
	sort.Slice(menu.Promotions, func(i, j int) bool { return menu.Promotions[i].ID < menu.Promotions[j].ID })
	return menu, nil
}

func (t *memTx) GetProduct(_ context.Context, restaurantID string, id string) (domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok || p.RestaurantID != restaurantID {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *memTx) AddProductStock(_ context.Context, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	p.Stock = p.Stock.Add(delta)
	t.st.products[productID] = p
	return p.Stock, nil
}

func (t *memTx) FindCustomerByPhone(_ context.Context, restaurantID string, phone string) (domain.Customer, error) {
	for _, c := range t.st.customers {
		if c.RestaurantID == restaurantID && c.Phone == phone {
			return c, nil
		}
	}
	return domain.Customer{}, domain.ErrNotFound
}

func (t *memTx) CreateCustomer(ctx context.Context, customer domain.Customer) error {
	if _, err := t.FindCustomerByPhone(ctx, customer.RestaurantID, customer.Phone); err == nil {
		return fmt.Errorf("%w: phone already registered", domain.ErrConflict)
	}
	t.st.customers[customer.ID] = customer
	return nil
}

func (t *memTx) AddCustomerRewards(_ context.Context, customerID string, points int64, cashback decimal.Decimal) error {
	c, ok := t.st.customers[customerID]
	if !ok {
		return domain.ErrNotFound
	}
	c.Points += points
	c.Cashback = c.Cashback.Add(cashback)
	t.st.customers[customerID] = c
	return nil
}

func (t *memTx) NextOrderSequence(_ context.Context, restaurantID string, businessDate string) (int, error) {
	key := restaurantID + "|" + businessDate
	t.st.sequences[key]++
	return t.st.sequences[key], nil
}

func (t *memTx) CreateOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.st.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if err := t.checkOpenTable(order); err != nil {
		return err
	}
	order.Items = nil
	order.Payments = nil
	t.st.orders[order.ID] = order
	return nil
}

// checkOpenTable mirrors the partial unique index on (restaurant, table) for open orders.
func (t *memTx) checkOpenTable(order domain.Order) error {
	if order.TableNumber == nil || order.IsTerminal() {
		return nil
	}
	for _, other := range t.st.orders {
		if other.ID == order.ID || other.RestaurantID != order.RestaurantID || other.IsTerminal() {
			continue
		}
		if other.OnTable(*order.TableNumber) {
			return fmt.Errorf("%w: table %d already has an open order", domain.ErrConflict, *order.TableNumber)
		}
	}
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (domain.Order, error) {
	order, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	order.Items = t.itemsOf(id)
	return order, nil
}

func (t *memTx) itemsOf(orderID string) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, 8)
	for _, itemID := range t.st.itemOrder {
		item, ok := t.st.items[itemID]
		if ok && item.OrderID == orderID {
			items = append(items, item)
		}
	}
	return items
}

func (t *memTx) FindOpenOrderByTable(ctx context.Context, restaurantID string, tableNumber int) (domain.Order, error) {
	for _, order := range t.st.orders {
		if order.RestaurantID == restaurantID && !order.IsTerminal() && order.OnTable(tableNumber) {
			return t.GetOrder(ctx, order.ID)
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (t *memTx) ListOpenOrders(_ context.Context, restaurantID string) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, 16)
	for _, order := range t.st.orders {
		if order.RestaurantID == restaurantID && !order.IsTerminal() {
			order.Items = t.itemsOf(order.ID)
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].Sequence < orders[j].Sequence
	})
	return orders, nil
}

func (t *memTx) UpdateOrder(_ context.Context, order domain.Order) error {
	existing, ok := t.st.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := t.checkOpenTable(order); err != nil {
		return err
	}
	order.Total = existing.Total
	order.FiscalEmittedAt = existing.FiscalEmittedAt
	order.Items = nil
	order.Payments = nil
	t.st.orders[order.ID] = order
	return nil
}

func (t *memTx) AdjustOrderTotal(_ context.Context, orderID string, delta decimal.Decimal) (decimal.Decimal, error) {
	order, ok := t.st.orders[orderID]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	order.Total = order.Total.Add(delta)
	if order.Total.IsNegative() {
		order.Total = decimal.Zero
	}
	t.st.orders[orderID] = order
	return order.Total, nil
}

func (t *memTx) MarkFiscalEmitted(_ context.Context, orderID string, at time.Time) error {
	order, ok := t.st.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	order.FiscalEmittedAt = &at
	t.st.orders[orderID] = order
	return nil
}

func (t *memTx) InsertOrderItems(_ context.Context, items []domain.OrderItem) error {
	for _, item := range items {
		if _, ok := t.st.orders[item.OrderID]; !ok {
			return domain.ErrNotFound
		}
		t.st.items[item.ID] = item
		t.st.itemOrder = append(t.st.itemOrder, item.ID)
	}
	return nil
}

func (t *memTx) GetOrderItem(_ context.Context, itemID string) (domain.OrderItem, error) {
	item, ok := t.st.items[itemID]
	if !ok {
		return domain.OrderItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (t *memTx) MoveOrderItems(_ context.Context, itemIDs []string, toOrderID string) error {
	if _, ok := t.st.orders[toOrderID]; !ok {
		return domain.ErrNotFound
	}
	for _, id := range itemIDs {
		item, ok := t.st.items[id]
		if !ok {
			return domain.ErrNotFound
		}
		item.OrderID = toOrderID
		t.st.items[id] = item
	}
	return nil
}

func (t *memTx) DeleteOrderItem(_ context.Context, itemID string) error {
	if _, ok := t.st.items[itemID]; !ok {
		return domain.ErrNotFound
	}
	delete(t.st.items, itemID)
	t.st.itemOrder = slices.DeleteFunc(t.st.itemOrder, func(id string) bool { return id == itemID })
	return nil
}

func (t *memTx) SetItemsPaid(_ context.Context, itemIDs []string) error {
	for _, id := range itemIDs {
		item, ok := t.st.items[id]
		if !ok {
			return domain.ErrNotFound
		}
		item.Paid = true
		t.st.items[id] = item
	}
	return nil
}

func (t *memTx) SetItemReady(_ context.Context, itemID string) error {
	item, ok := t.st.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	item.Ready = true
	t.st.items[itemID] = item
	return nil
}

func tableKey(restaurantID string, number int) string {
	return fmt.Sprintf("%s|%d", restaurantID, number)
}

func (t *memTx) UpsertTable(_ context.Context, restaurantID string, number int, status string) (domain.Table, error) {
	key := tableKey(restaurantID, number)
	table, ok := t.st.tables[key]
	if !ok {
		table = domain.Table{ID: fmt.Sprintf("tbl-%s-%d", restaurantID, number), RestaurantID: restaurantID, Number: number}
	}
	table.Status = status
	t.st.tables[key] = table
	return table, nil
}

func (t *memTx) ListTables(_ context.Context, restaurantID string) ([]domain.Table, error) {
	tables := make([]domain.Table, 0, len(t.st.tables))
	for _, table := range t.st.tables {
		if table.RestaurantID == restaurantID {
			tables = append(tables, table)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Number < tables[j].Number })
	return tables, nil
}

func (t *memTx) GetIngredient(_ context.Context, restaurantID string, id string) (domain.Ingredient, error) {
	ing, ok := t.st.ingredients[id]
	if !ok || ing.RestaurantID != restaurantID {
		return domain.Ingredient{}, domain.ErrNotFound
	}
	return ing, nil
}

func (t *memTx) AddIngredientStock(_ context.Context, ingredientID string, delta decimal.Decimal) (decimal.Decimal, error) {
	ing, ok := t.st.ingredients[ingredientID]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	ing.Stock = ing.Stock.Add(delta)
	t.st.ingredients[ingredientID] = ing
	return ing.Stock, nil
}

func (t *memTx) SetIngredientStock(_ context.Context, ingredientID string, qty decimal.Decimal) error {
	ing, ok := t.st.ingredients[ingredientID]
	if !ok {
		return domain.ErrNotFound
	}
	ing.Stock = qty
	t.st.ingredients[ingredientID] = ing
	return nil
}

func (t *memTx) SetIngredientCost(_ context.Context, ingredientID string, unitCost decimal.Decimal) error {
	ing, ok := t.st.ingredients[ingredientID]
	if !ok {
		return domain.ErrNotFound
	}
	ing.LastUnitCost = unitCost
	t.st.ingredients[ingredientID] = ing
	return nil
}

func (t *memTx) CreateStockEntry(_ context.Context, entry domain.StockEntry) error {
	if _, exists := t.st.stockEntries[entry.ID]; exists {
		return domain.ErrConflict
	}
	entry.Lines = slices.Clone(entry.Lines)
	t.st.stockEntries[entry.ID] = entry
	return nil
}

func (t *memTx) GetStockEntry(_ context.Context, restaurantID string, id string) (domain.StockEntry, error) {
	entry, ok := t.st.stockEntries[id]
	if !ok || entry.RestaurantID != restaurantID {
		return domain.StockEntry{}, domain.ErrNotFound
	}
	return entry, nil
}

func (t *memTx) ConfirmStockEntry(_ context.Context, id string, transactionID string, at time.Time) error {
	entry, ok := t.st.stockEntries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if entry.Status == domain.StockEntryConfirmed {
		return domain.ErrAlreadyConfirmed
	}
	entry.Status = domain.StockEntryConfirmed
	entry.TransactionID = transactionID
	entry.ConfirmedAt = &at
	t.st.stockEntries[id] = entry
	return nil
}

func (t *memTx) InsertProductionLog(_ context.Context, entry domain.ProductionLog) error {
	t.st.production = append(t.st.production, entry)
	return nil
}

func (t *memTx) InsertStockLoss(_ context.Context, loss domain.StockLoss) error {
	t.st.losses = append(t.st.losses, loss)
	return nil
}

func (t *memTx) InsertStockAlert(_ context.Context, alert domain.StockAlert) error {
	t.st.alerts = append(t.st.alerts, alert)
	return nil
}

func (t *memTx) ListStockAlerts(_ context.Context, restaurantID string, limit int) ([]domain.StockAlert, error) {
	alerts := make([]domain.StockAlert, 0, 16)
	for i := len(t.st.alerts) - 1; i >= 0 && (limit < 1 || len(alerts) < limit); i-- {
		if t.st.alerts[i].RestaurantID == restaurantID {
			alerts = append(alerts, t.st.alerts[i])
		}
	}
	return alerts, nil
}

func (t *memTx) GetOpenSession(_ context.Context, restaurantID string) (domain.CashierSession, error) {
	for _, session := range t.st.sessions {
		if session.RestaurantID == restaurantID && session.Status == domain.SessionOpen {
			return session, nil
		}
	}
	return domain.CashierSession{}, domain.ErrNotFound
}

func (t *memTx) CreateSession(ctx context.Context, session domain.CashierSession) error {
	if session.Status == domain.SessionOpen {
		if _, err := t.GetOpenSession(ctx, session.RestaurantID); err == nil {
			return domain.ErrSessionAlreadyOpen
		}
	}
	t.st.sessions[session.ID] = session
	return nil
}

func (t *memTx) CloseSession(_ context.Context, id string, finalAmount decimal.Decimal, notes string, at time.Time) error {
	session, ok := t.st.sessions[id]
	if !ok || session.Status != domain.SessionOpen {
		return domain.ErrNotFound
	}
	session.Status = domain.SessionClosed
	session.ClosingAmount = &finalAmount
	session.Notes = notes
	session.ClosedAt = &at
	t.st.sessions[id] = session
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, ft domain.FinancialTransaction) error {
	if _, exists := t.st.transactions[ft.ID]; exists {
		return domain.ErrConflict
	}
	t.st.transactions[ft.ID] = ft
	t.st.txOrder = append(t.st.txOrder, ft.ID)
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, restaurantID string, id string) (domain.FinancialTransaction, error) {
	ft, ok := t.st.transactions[id]
	if !ok || ft.RestaurantID != restaurantID {
		return domain.FinancialTransaction{}, domain.ErrNotFound
	}
	return ft, nil
}

func (t *memTx) UpdateTransaction(_ context.Context, ft domain.FinancialTransaction) error {
	if _, ok := t.st.transactions[ft.ID]; !ok {
		return domain.ErrNotFound
	}
	t.st.transactions[ft.ID] = ft
	return nil
}

func (t *memTx) listTransactions(match func(domain.FinancialTransaction) bool) []domain.FinancialTransaction {
	result := make([]domain.FinancialTransaction, 0, 8)
	for _, id := range t.st.txOrder {
		ft, ok := t.st.transactions[id]
		if ok && match(ft) {
			result = append(result, ft)
		}
	}
	return result
}

func (t *memTx) ListTransactionsBySession(_ context.Context, sessionID string) ([]domain.FinancialTransaction, error) {
	return t.listTransactions(func(ft domain.FinancialTransaction) bool { return ft.SessionID == sessionID }), nil
}

func (t *memTx) ListTransactionsByOrder(_ context.Context, orderID string) ([]domain.FinancialTransaction, error) {
	return t.listTransactions(func(ft domain.FinancialTransaction) bool { return ft.OrderID == orderID }), nil
}

func (t *memTx) RelinkOrderTransactions(_ context.Context, fromOrderID string, toOrderID string) error {
	for id, ft := range t.st.transactions {
		if ft.OrderID == fromOrderID {
			ft.OrderID = toOrderID
			t.st.transactions[id] = ft
		}
	}
	return nil
}

func (t *memTx) GetBankAccount(_ context.Context, restaurantID string, id string) (domain.BankAccount, error) {
	account, ok := t.st.bankAccounts[id]
	if !ok || account.RestaurantID != restaurantID {
		return domain.BankAccount{}, domain.ErrNotFound
	}
	return account, nil
}

func (t *memTx) AdjustBankBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	account, ok := t.st.bankAccounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	account.Balance = account.Balance.Add(delta)
	t.st.bankAccounts[accountID] = account
	return nil
}

func (t *memTx) ListDueRecurring(_ context.Context, asOf time.Time) ([]domain.RecurringTemplate, error) {
	result := make([]domain.RecurringTemplate, 0, len(t.st.recurring))
	for _, r := range t.st.recurring {
		if !r.Active {
			continue
		}
		if r.EndDate != nil && !r.EndDate.After(asOf) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *memTx) SetRecurringGenerated(_ context.Context, id string, at time.Time) error {
	r, ok := t.st.recurring[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.LastGeneratedAt = &at
	t.st.recurring[id] = r
	return nil
}

func (t *memTx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	t.st.auditLogs = append(t.st.auditLogs, entry)
	return nil
}

func (t *memTx) ListAuditLogs(_ context.Context, restaurantID string, limit int) ([]domain.AuditLog, error) {
	logs := make([]domain.AuditLog, 0, 32)
	for i := len(t.st.auditLogs) - 1; i >= 0 && (limit < 1 || len(logs) < limit); i-- {
		entry := t.st.auditLogs[i]
		if strings.EqualFold(entry.RestaurantID, restaurantID) {
			logs = append(logs, entry)
		}
	}
	return logs, nil
}
