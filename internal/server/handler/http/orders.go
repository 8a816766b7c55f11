package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/models"
)

// OrderService is the order ledger used by OrderHandler.
type OrderService interface {
	Register(ctx context.Context, orderID, tag, total, currency string) (bool, error)
	Status(ctx context.Context, orderID string) (models.Order, error)
}

// OrderHandler serves order registration and status lookups.
type OrderHandler struct {
	Service OrderService
	Log     *zap.Logger
}

// RegisterOrderRequest is the body of POST /orders/register.
type RegisterOrderRequest struct {
	OrderID    string     `json:"orderId"`
	DiscordTag string     `json:"discordTag"`
	Total      jsonAmount `json:"total"`
	Currency   string     `json:"currency"`
}

// Register handles POST /orders/register. Registering a known order id
// succeeds without changing it.
func (h *OrderHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.Service.Register(r.Context(), req.OrderID, req.DiscordTag, string(req.Total), req.Currency)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"created": created})
}

// Status handles GET /orders/status?orderId=. Unknown ids answer with
// status "unknown" and no order.
func (h *OrderHandler) Status(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Status(r.Context(), r.URL.Query().Get("orderId"))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	body := envelope{"status": o.Status}
	if o.Status != models.OrderUnknown {
		body["order"] = o
	}
	writeJSON(w, http.StatusOK, body)
}
