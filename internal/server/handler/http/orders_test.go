package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/models"
)

type fakeOrders struct {
	created  bool
	err      error
	order    models.Order
	register []string
}

func (f *fakeOrders) Register(ctx context.Context, orderID, tag, total, currency string) (bool, error) {
	f.register = []string{orderID, tag, total, currency}
	return f.created, f.err
}

func (f *fakeOrders) Status(ctx context.Context, orderID string) (models.Order, error) {
	if f.err != nil {
		return models.Order{}, f.err
	}
	return f.order, nil
}

func TestOrderHandler_Register(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		orders       *fakeOrders
		expectedCode int
		expectedBody string
		wantArgs     []string
	}{
		{
			name:         "numeric total",
			body:         `{"orderId":"o-1","discordTag":"neo#1","total":19.99,"currency":"eur"}`,
			orders:       &fakeOrders{created: true},
			expectedCode: http.StatusOK,
			expectedBody: `{"success":true,"created":true}`,
			wantArgs:     []string{"o-1", "neo#1", "19.99", "eur"},
		},
		{
			name:         "string total, already known",
			body:         `{"orderId":"o-1","total":"5.00"}`,
			orders:       &fakeOrders{created: false},
			expectedCode: http.StatusOK,
			expectedBody: `{"success":true,"created":false}`,
			wantArgs:     []string{"o-1", "", "5.00", ""},
		},
		{
			name:         "validation failure",
			body:         `{"total":"5.00"}`,
			orders:       &fakeOrders{err: models.ErrInvalidRequest},
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"success":false,"error":"invalid request"}`,
		},
		{
			name:         "malformed body",
			body:         `[]`,
			orders:       &fakeOrders{},
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"success":false,"error":"invalid request"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/orders/register", bytes.NewBufferString(tt.body))

			h := &OrderHandler{Service: tt.orders, Log: zap.NewNop()}
			h.Register(rec, req)

			require.Equal(t, tt.expectedCode, rec.Code)
			assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			if tt.wantArgs != nil {
				assert.Equal(t, tt.wantArgs, tt.orders.register)
			}
		})
	}
}

func TestOrderHandler_Status(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		orders       *fakeOrders
		expectedCode int
		expectedBody string
	}{
		{
			name:         "unknown",
			orders:       &fakeOrders{order: models.Order{OrderID: "o-9", Status: models.OrderUnknown}},
			expectedCode: http.StatusOK,
			expectedBody: `{"success":true,"status":"unknown"}`,
		},
		{
			name: "paid",
			orders: &fakeOrders{order: models.Order{
				OrderID:    "o-1",
				Total:      "19.99",
				Currency:   "EUR",
				Status:     models.OrderPaid,
				CreatedAt:  paidAt.Add(-time.Hour),
				TxnID:      "TX1",
				PayerEmail: "p@x.com",
				PaidAt:     &paidAt,
			}},
			expectedCode: http.StatusOK,
			expectedBody: `{"success":true,"status":"paid","order":{
				"orderId":"o-1","total":"19.99","currency":"EUR","status":"paid",
				"createdAt":"2026-03-01T11:00:00Z","txn_id":"TX1","payer_email":"p@x.com",
				"paidAt":"2026-03-01T12:00:00Z"}}`,
		},
		{
			name:         "missing id",
			orders:       &fakeOrders{err: models.ErrInvalidRequest},
			expectedCode: http.StatusBadRequest,
			expectedBody: `{"success":false,"error":"invalid request"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/orders/status?orderId=o-1", nil)

			h := &OrderHandler{Service: tt.orders, Log: zap.NewNop()}
			h.Status(rec, req)

			require.Equal(t, tt.expectedCode, rec.Code)
			assert.JSONEq(t, tt.expectedBody, rec.Body.String())
		})
	}
}
