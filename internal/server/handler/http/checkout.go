package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/models"
)

// CheckoutService opens and captures provider checkouts.
type CheckoutService interface {
	CreateOrder(ctx context.Context, amount, currency string) (string, error)
	CaptureOrder(ctx context.Context, providerOrderID string) (models.Capture, error)
}

// CheckoutHandler serves the hosted checkout endpoints.
type CheckoutHandler struct {
	Service CheckoutService
	Log     *zap.Logger
}

// CreateOrderRequest is the body of POST /create-order. Amount may be sent
// as a JSON number or string.
type CreateOrderRequest struct {
	Amount   jsonAmount `json:"amount"`
	Currency string     `json:"currency"`
}

// CaptureOrderRequest is the body of POST /capture-order.
type CaptureOrderRequest struct {
	OrderID string `json:"orderID"`
}

// CreateOrder handles POST /create-order.
func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	id, err := h.Service.CreateOrder(r.Context(), string(req.Amount), req.Currency)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"id": id})
}

// CaptureOrder handles POST /capture-order.
func (h *CheckoutHandler) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	var req CaptureOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "orderID is required")
		return
	}

	c, err := h.Service.CaptureOrder(r.Context(), req.OrderID)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": c.Status, "details": c.Raw})
}

// jsonAmount accepts 19.99 as well as "19.99".
type jsonAmount string

func (a *jsonAmount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	*a = jsonAmount(s)
	return nil
}
