package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orderflow/internal/fault"
	"orderflow/internal/payments"
)

type createPaymentRequest struct {
	OrderID        string  `json:"orderId"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Method         string  `json:"method"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

type paymentResponse struct {
	payments.Payment
	Idempotent bool `json:"idempotent,omitempty"`
}

func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validationf("invalid JSON body"))
		return
	}

	payment, replayed, err := a.payments.CreatePayment(r.Context(), payments.CreateRequest{
		OrderID:        req.OrderID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, paymentResponse{Payment: payment, Idempotent: replayed})
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := a.payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) listPayments(w http.ResponseWriter, r *http.Request) {
	filter := payments.ListFilter{
		OrderID: r.URL.Query().Get("orderId"),
		Limit:   queryInt(r, "limit"),
		Offset:  queryInt(r, "offset"),
	}

	got, err := a.payments.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if got == nil {
		got = []payments.Payment{}
	}
	writeJSON(w, http.StatusOK, got)
}
