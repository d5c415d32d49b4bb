package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mesa/backend/internal/domain"
)

func (a *API) handleMenu(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	menu, err := a.orders.Menu(r.Context(), restaurant.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, menu)
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	var req domain.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.Restaurant = restaurant.ID

	order, err := a.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	orders, err := a.orders.ListOpenOrders(r.Context(), restaurant.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleListTables(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	list, err := a.tables.List(r.Context(), restaurant.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": list})
}

func (a *API) handleTransferTable(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	from, err := pathInt(r, "table")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var req domain.TransferTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	order, err := a.orders.TransferTable(r.Context(), restaurant.ID, from, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	table, err := pathInt(r, "table")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.orders.CheckoutTable(r.Context(), restaurant.ID, table, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.GetOrder(r.Context(), chi.URLParam(r, "order"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	order, err := a.orders.AddItems(r.Context(), chi.URLParam(r, "order"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.RemoveItem(r.Context(), chi.URLParam(r, "order"), chi.URLParam(r, "item"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	order, err := a.orders.UpdateStatus(r.Context(), chi.URLParam(r, "order"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleTransferItems(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.orders.TransferItems(r.Context(), chi.URLParam(r, "order"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePartialPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PartialPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.orders.PartialItemPayment(r.Context(), chi.URLParam(r, "order"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleFinishItem(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.FinishKitchenItem(r.Context(), chi.URLParam(r, "item"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
