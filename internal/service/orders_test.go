package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/models"
)

// memOrders is an in-memory OrderRepository with the ledger's semantics.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]models.Order
	paid   int
}

func newMemOrders() *memOrders { return &memOrders{orders: map[string]models.Order{}} }

func (m *memOrders) CreateOrder(_ context.Context, o models.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.OrderID]; ok {
		return false, nil
	}
	m.orders[o.OrderID] = o
	return true, nil
}

func (m *memOrders) GetOrder(_ context.Context, id string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, models.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) sorted() []models.Order {
	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memOrders) FindOrderForNotification(_ context.Context, custom, invoice, memo string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[custom]; ok && custom != "" {
		return o, nil
	}
	if o, ok := m.orders[invoice]; ok && invoice != "" {
		return o, nil
	}
	for _, o := range m.sorted() {
		if memo != "" && strings.Contains(memo, o.OrderID) {
			return o, nil
		}
	}
	return models.Order{}, models.ErrNotFound
}

func (m *memOrders) FindPendingByAmount(_ context.Context, total, currency string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.sorted() {
		if o.Status == models.OrderPending && o.Total == total && strings.EqualFold(o.Currency, currency) {
			return o, nil
		}
	}
	return models.Order{}, models.ErrNotFound
}

func (m *memOrders) MarkPaid(_ context.Context, id, txn, payer string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderPending {
		return false, nil
	}
	o.Status, o.TxnID, o.PayerEmail, o.PaidAt = models.OrderPaid, txn, payer, &at
	m.orders[id] = o
	m.paid++
	return true, nil
}

func TestRegister_IsIdempotent(t *testing.T) {
	repo := newMemOrders()
	svc := NewOrderService(repo, zap.NewNop())
	ctx := context.Background()

	created, err := svc.Register(ctx, "ORD-1", "bob#0001", "19.99", "")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Register(ctx, "ORD-1", "someone-else", "99.00", "USD")
	require.NoError(t, err)
	assert.False(t, created)

	o, err := svc.Status(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, "19.99", o.Total)
	assert.Equal(t, DefaultCurrency, o.Currency)
	assert.Equal(t, "bob#0001", o.Tag)
}

func TestRegister_Validation(t *testing.T) {
	svc := NewOrderService(newMemOrders(), zap.NewNop())

	tests := []struct {
		name, id, total string
	}{
		{"missing id", "", "10.00"},
		{"missing total", "ORD", " "},
		{"non numeric total", "ORD", "ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.id, "", tt.total, "EUR")
			assert.ErrorIs(t, err, models.ErrInvalidRequest)
		})
	}
}

func TestRegister_RepoError(t *testing.T) {
	svc := NewOrderService(failingOrders{}, zap.NewNop())
	_, err := svc.Register(context.Background(), "ORD", "", "1.00", "EUR")
	assert.EqualError(t, err, "db down")
}

func TestStatus_Unknown(t *testing.T) {
	svc := NewOrderService(newMemOrders(), zap.NewNop())

	o, err := svc.Status(context.Background(), "never")
	require.NoError(t, err)
	assert.Equal(t, models.OrderUnknown, o.Status)
	assert.Equal(t, "never", o.OrderID)

	_, err = svc.Status(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

type failingOrders struct{ OrderRepository }

func (failingOrders) CreateOrder(context.Context, models.Order) (bool, error) {
	return false, errors.New("db down")
}
