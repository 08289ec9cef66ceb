package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"orderflow/internal/events"
	"orderflow/internal/fault"
	"orderflow/internal/orders"
)

type createOrderRequest struct {
	UserID events.UserID `json:"userId"`
	Items  []orders.Item `json:"items"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validationf("invalid JSON body"))
		return
	}

	order, err := a.orders.Create(r.Context(), req.UserID, req.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := orders.ListFilter{
		UserID: r.URL.Query().Get("userId"),
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	got, err := a.orders.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if got == nil {
		got = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, got)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
