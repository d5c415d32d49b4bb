package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mesa/backend/internal/audit"
	"mesa/backend/internal/domain"
)

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.OpenSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	session, err := a.cash.Open(r.Context(), restaurant.ID, audit.Actor(r.Context()).Username, req.InitialAmount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.CloseSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	session, err := a.cash.Close(r.Context(), restaurant.ID, req.FinalAmount, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleSessionCurrent(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	summary, err := a.cash.CurrentSession(r.Context(), restaurant.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	ft, err := a.cash.RecordTransaction(r.Context(), restaurant.ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ft)
}

func (a *API) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	ft, err := a.cash.UpdateTransaction(r.Context(), restaurant.ID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ft)
}

func (a *API) handleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	ft, err := a.cash.CancelTransaction(r.Context(), restaurant.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ft)
}

func (a *API) handleAccountTransfer(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.AccountTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.cash.Transfer(r.Context(), restaurant.ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCreateStockEntry(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.StockEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	entry, err := a.inventory.CreateStockEntry(r.Context(), restaurant.ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleConfirmStockEntry(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	entry, err := a.inventory.ConfirmStockEntry(r.Context(), restaurant.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleProduce(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.ProduceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	ingredient, err := a.inventory.Produce(r.Context(), restaurant.ID, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingredient)
}

func (a *API) handleRecordLoss(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.LossRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	loss, err := a.inventory.RecordLoss(r.Context(), restaurant.ID, chi.URLParam(r, "id"), req.Quantity, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loss)
}

func (a *API) handleStockAudit(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.StockAuditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.inventory.Audit(r.Context(), restaurant.ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStockAlerts(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	alerts, err := a.inventory.ListAlerts(r.Context(), restaurant.ID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
