package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/cashledger"
	"mesa/backend/internal/domain"
	"mesa/backend/internal/inventory"
	"mesa/backend/internal/notify"
	"mesa/backend/internal/service"
	"mesa/backend/internal/tables"
)

type Dependencies struct {
	Orders    *service.Service
	Cash      *cashledger.Ledger
	Inventory *inventory.Ledger
	Tables    *tables.Registry
	Events    *notify.Hub
	Auth      *AuthManager
}

type API struct {
	orders        *service.Service
	cash          *cashledger.Ledger
	inventory     *inventory.Ledger
	tables        *tables.Registry
	events        *notify.Hub
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(deps Dependencies, allowedOrigin string) *API {
	return &API{
		orders:        deps.Orders,
		cash:          deps.Cash,
		inventory:     deps.Inventory,
		tables:        deps.Tables,
		events:        deps.Events,
		auth:          deps.Auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var (
	anyStaff   = []string{RoleAdmin, RoleCashier, RoleWaiter, RoleKitchen}
	floorStaff = []string{RoleAdmin, RoleCashier, RoleWaiter}
	tillStaff  = []string{RoleAdmin, RoleCashier}
)

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)

	r.Route("/api/v1/restaurants/{restaurant}", func(r chi.Router) {
		r.Get("/menu", a.requireAuth(a.handleMenu, anyStaff...))
		r.Post("/orders", a.requireAuth(a.handleCreateOrder, floorStaff...))
		r.Get("/orders", a.requireAuth(a.handleListOrders, anyStaff...))
		r.Get("/tables", a.requireAuth(a.handleListTables, anyStaff...))
		r.Post("/tables/{table}/transfer", a.requireAuth(a.handleTransferTable, floorStaff...))
		r.Post("/tables/{table}/checkout", a.requireAuth(a.handleCheckout, tillStaff...))
		r.Get("/events", a.requireAuth(a.handleEvents, anyStaff...))

		r.Post("/cashier/open", a.requireAuth(a.handleSessionOpen, tillStaff...))
		r.Post("/cashier/close", a.requireAuth(a.handleSessionClose, tillStaff...))
		r.Get("/cashier/current", a.requireAuth(a.handleSessionCurrent, tillStaff...))
		r.Post("/transactions", a.requireAuth(a.handleRecordTransaction, tillStaff...))
		r.Patch("/transactions/{id}", a.requireAuth(a.handleUpdateTransaction, RoleAdmin))
		r.Post("/transactions/{id}/cancel", a.requireAuth(a.handleCancelTransaction, RoleAdmin))
		r.Post("/transfers", a.requireAuth(a.handleAccountTransfer, RoleAdmin))

		r.Post("/stock-entries", a.requireAuth(a.handleCreateStockEntry, RoleAdmin))
		r.Post("/stock-entries/{id}/confirm", a.requireAuth(a.handleConfirmStockEntry, RoleAdmin))
		r.Post("/ingredients/{id}/produce", a.requireAuth(a.handleProduce, RoleAdmin, RoleKitchen))
		r.Post("/ingredients/{id}/losses", a.requireAuth(a.handleRecordLoss, RoleAdmin, RoleKitchen))
		r.Post("/stock-audits", a.requireAuth(a.handleStockAudit, RoleAdmin))
		r.Get("/stock-alerts", a.requireAuth(a.handleStockAlerts, RoleAdmin, RoleKitchen))
		r.Get("/audit-logs", a.requireAuth(a.handleAuditLogs, RoleAdmin))
	})

	r.Route("/api/v1/orders/{order}", func(r chi.Router) {
		r.Get("/", a.requireAuth(a.handleGetOrder, anyStaff...))
		r.Post("/items", a.requireAuth(a.handleAddItems, floorStaff...))
		r.Delete("/items/{item}", a.requireAuth(a.handleRemoveItem, tillStaff...))
		r.Patch("/status", a.requireAuth(a.handleUpdateStatus, anyStaff...))
		r.Post("/transfer-items", a.requireAuth(a.handleTransferItems, floorStaff...))
		r.Post("/partial-payment", a.requireAuth(a.handlePartialPayment, tillStaff...))
	})
	r.Post("/api/v1/kitchen/items/{item}/finish", a.requireAuth(a.handleFinishItem, RoleAdmin, RoleKitchen))

	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(audit.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// restaurant resolves the {restaurant} path parameter (id or slug) and checks
// that the caller belongs to it. It writes the error response itself.
func (a *API) restaurant(w http.ResponseWriter, r *http.Request) (domain.Restaurant, bool) {
	restaurant, err := a.orders.ResolveRestaurant(r.Context(), chi.URLParam(r, "restaurant"))
	if err == nil {
		err = audit.CheckTenant(r.Context(), restaurant.ID)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return domain.Restaurant{}, false
	}
	return restaurant, true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.orders.ListAuditLogs(r.Context(), restaurant.ID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func pathInt(r *http.Request, name string) (int, error) {
	value, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || value < 1 {
		return 0, errors.New(name + " must be a positive number")
	}
	return value, nil
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidSelection),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidPayment):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyConfirmed),
		errors.Is(err, domain.ErrSessionAlreadyOpen),
		errors.Is(err, domain.ErrNoOpenSession),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrNotProducible),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err), err)
}

// writeError hides the cause of 5xx responses from the client and logs it instead.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
