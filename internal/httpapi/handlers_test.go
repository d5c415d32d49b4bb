package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"mesa/backend/internal/cache"
	"mesa/backend/internal/cashledger"
	"mesa/backend/internal/catalog"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/inventory"
	"mesa/backend/internal/notify"
	"mesa/backend/internal/service"
	"mesa/backend/internal/store/memory"
	"mesa/backend/internal/tables"
)

// newTestAPI builds a full API on the seeded in-memory store with a real
// AuthManager and Service so handler tests exercise the complete request path.
// Besides the seeded admin and cashier it adds a waiter, a kitchen user and a
// cashier of a second restaurant.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	repo.PutRestaurant(domain.Restaurant{ID: "rest-other", Slug: "other", Name: "Other Place"})
	for _, u := range []domain.UserAccount{
		{Username: "waiter", Role: RoleWaiter, RestaurantID: "rest-demo"},
		{Username: "kitchen", Role: RoleKitchen, RestaurantID: "rest-demo"},
		{Username: "othercashier", Role: RoleCashier, RestaurantID: "rest-other"},
	} {
		u.Password = mustHashPassword(t, u.Username+"123")
		u.Active = true
		u.CreatedAt = time.Now().UTC()
		if err := repo.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("create user %s: %v", u.Username, err)
		}
	}

	cash := cashledger.New(repo)
	stock := inventory.New(repo, cash)
	registry := tables.New(repo)
	hub := notify.NewHub()
	menus := catalog.NewReader(repo, cache.NoopMenuCache{}, time.Minute)
	svc := service.New(repo, menus, stock, cash, registry, nil)
	auth := NewAuthManager("test-secret-key-with-enough-bytes!", time.Hour, repo)

	return New(Dependencies{
		Orders:    svc,
		Cash:      cash,
		Inventory: stock,
		Tables:    registry,
		Events:    hub,
		Auth:      auth,
	}, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("decimal %q: %v", raw, err)
	}
	return d
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login %s failed, status %d (body: %s)", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func call(t *testing.T, api *API, token string, method string, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	switch v := payload.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeOrder(t *testing.T, res *httptest.ResponseRecorder) domain.Order {
	t.Helper()
	var order domain.Order
	if err := json.NewDecoder(res.Body).Decode(&order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return order
}

func sodaOrder(table int) domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		OrderType:   domain.OrderTypeTable,
		TableNumber: &table,
		Items:       []domain.ItemRequest{{ProductID: "prod-soda", Quantity: 2}},
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	res := call(t, api, "", http.MethodGet, "/healthz", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	res := call(t, api, "", http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "admin", Password: "admin123"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Role != RoleAdmin || payload.RestaurantID != "rest-demo" {
		t.Fatalf("unexpected login payload %+v", payload)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	api := newTestAPI(t)

	res := call(t, api, "", http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "admin", Password: "nope"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	res := call(t, api, "", http.MethodGet, "/api/v1/restaurants/demo/menu", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
	res = call(t, api, "not-a-jwt", http.MethodGet, "/api/v1/restaurants/demo/menu", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", res.Code)
	}
}

func TestMenuBySlug(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "waiter", "waiter123")

	res := call(t, api, token, http.MethodGet, "/api/v1/restaurants/demo/menu", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Body.String(), "prod-margherita") {
		t.Fatalf("expected seeded product in menu, got %s", res.Body.String())
	}
}

func TestCreateOrderAndFetchIt(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "waiter", "waiter123")

	res := call(t, api, token, http.MethodPost, "/api/v1/restaurants/rest-demo/orders", sodaOrder(3))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	created := decodeOrder(t, res)
	if !created.Total.Equal(mustDecimal(t, "12")) {
		t.Fatalf("expected total 12, got %s", created.Total)
	}

	res = call(t, api, token, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d (body: %s)", res.Code, res.Body.String())
	}
	if fetched := decodeOrder(t, res); fetched.ID != created.ID || len(fetched.Items) != 1 {
		t.Fatalf("unexpected fetched order %+v", fetched)
	}

	res = call(t, api, token, http.MethodGet, "/api/v1/restaurants/demo/tables", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), domain.TableOccupied) {
		t.Fatalf("expected occupied table listing, got %d %s", res.Code, res.Body.String())
	}
}

func TestKitchenCannotCreateOrders(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "kitchen", "kitchen123")

	res := call(t, api, token, http.MethodPost, "/api/v1/restaurants/demo/orders", sodaOrder(1))
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for kitchen role, got %d", res.Code)
	}
}

func TestOtherRestaurantIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	waiter := login(t, api, "waiter", "waiter123")
	other := login(t, api, "othercashier", "othercashier123")

	res := call(t, api, other, http.MethodGet, "/api/v1/restaurants/demo/orders", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign restaurant, got %d", res.Code)
	}

	res = call(t, api, waiter, http.MethodPost, "/api/v1/restaurants/demo/orders", sodaOrder(2))
	if res.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", res.Code, res.Body.String())
	}
	order := decodeOrder(t, res)

	res = call(t, api, other, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reading a foreign order, got %d", res.Code)
	}
}

func TestUnknownRestaurantIs404(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	res := call(t, api, token, http.MethodGet, "/api/v1/restaurants/nowhere/menu", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestStatusFlowThroughHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")

	res := call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/orders", sodaOrder(4))
	order := decodeOrder(t, res)

	res = call(t, api, cashier, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", domain.UpdateStatusRequest{Status: "ready"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 moving forward, got %d (body: %s)", res.Code, res.Body.String())
	}
	if got := decodeOrder(t, res); got.Status != domain.OrderStatusReady {
		t.Fatalf("expected READY, got %s", got.Status)
	}

	res = call(t, api, cashier, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", domain.UpdateStatusRequest{Status: "PREPARING"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 moving backwards, got %d", res.Code)
	}

	res = call(t, api, cashier, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", domain.UpdateStatusRequest{Status: "LOST"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", res.Code)
	}
}

func TestCashierSessionLifecycle(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")
	waiter := login(t, api, "waiter", "waiter123")

	res := call(t, api, waiter, http.MethodPost, "/api/v1/restaurants/demo/cashier/open", domain.OpenSessionRequest{InitialAmount: mustDecimal(t, "100")})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected waiter to be refused the till, got %d", res.Code)
	}

	res = call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/cashier/open", domain.OpenSessionRequest{InitialAmount: mustDecimal(t, "100")})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 opening session, got %d (body: %s)", res.Code, res.Body.String())
	}
	res = call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/cashier/open", domain.OpenSessionRequest{InitialAmount: mustDecimal(t, "100")})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 opening twice, got %d", res.Code)
	}

	res = call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/orders", sodaOrder(5))
	if res.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", res.Code, res.Body.String())
	}
	res = call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/tables/5/checkout", domain.CheckoutRequest{
		Payments: []domain.PaymentLine{{Method: "cash", Amount: mustDecimal(t, "20")}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 on checkout, got %d (body: %s)", res.Code, res.Body.String())
	}
	var checkout domain.CheckoutResponse
	if err := json.NewDecoder(res.Body).Decode(&checkout); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if !checkout.Change.Equal(mustDecimal(t, "8")) {
		t.Fatalf("expected change 8, got %s", checkout.Change)
	}

	res = call(t, api, cashier, http.MethodGet, "/api/v1/restaurants/demo/cashier/current", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 on current session, got %d", res.Code)
	}
	var summary domain.SessionSummary
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !summary.CashOnHand.Equal(mustDecimal(t, "112")) {
		t.Fatalf("expected 112 cash on hand, got %s", summary.CashOnHand)
	}

	res = call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/cashier/close", domain.CloseSessionRequest{FinalAmount: mustDecimal(t, "112")})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 closing session, got %d (body: %s)", res.Code, res.Body.String())
	}
	res = call(t, api, cashier, http.MethodGet, "/api/v1/restaurants/demo/cashier/current", nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 with no open session, got %d", res.Code)
	}
}

func TestCheckoutWithoutSessionIsConflict(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")

	call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/orders", sodaOrder(6))
	res := call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/tables/6/checkout", domain.CheckoutRequest{
		Payments: []domain.PaymentLine{{Method: "cash", Amount: mustDecimal(t, "12")}},
	})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestStockLossAndAlertsRoutes(t *testing.T) {
	api := newTestAPI(t)
	kitchen := login(t, api, "kitchen", "kitchen123")

	res := call(t, api, kitchen, http.MethodPost, "/api/v1/restaurants/demo/ingredients/ing-mozzarella/losses", domain.LossRequest{
		Quantity: mustDecimal(t, "1.5"),
		Reason:   "spoiled",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 recording loss, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = call(t, api, kitchen, http.MethodGet, "/api/v1/restaurants/demo/stock-alerts?limit=5", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 on alerts, got %d", res.Code)
	}

	res = call(t, api, kitchen, http.MethodPost, "/api/v1/restaurants/demo/stock-audits", domain.StockAuditRequest{})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected kitchen to be refused stock audits, got %d", res.Code)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	cashier := login(t, api, "cashier", "cashier123")

	call(t, api, cashier, http.MethodPost, "/api/v1/restaurants/demo/orders", sodaOrder(7))

	res := call(t, api, cashier, http.MethodGet, "/api/v1/restaurants/demo/audit-logs", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", res.Code)
	}
	res = call(t, api, admin, http.MethodGet, "/api/v1/restaurants/demo/audit-logs", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "order_create") {
		t.Fatalf("expected order_create audit row, got %s", res.Body.String())
	}
}
