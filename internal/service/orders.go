package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/metrics"
	"github.com/novaxell/dispenser/internal/models"
)

// DefaultCurrency is used when an order or checkout names no currency.
const DefaultCurrency = "EUR"

// OrderRepository is the order ledger storage.
type OrderRepository interface {
	// CreateOrder inserts a pending order unless its id exists and reports
	// whether a row was created.
	CreateOrder(ctx context.Context, o models.Order) (bool, error)
	// GetOrder returns an error wrapping models.ErrNotFound when absent.
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	FindOrderForNotification(ctx context.Context, custom, invoice, memo string) (models.Order, error)
	FindPendingByAmount(ctx context.Context, total, currency string) (models.Order, error)
	// MarkPaid flips a pending order to paid; false when it was not pending.
	MarkPaid(ctx context.Context, orderID, txnID, payer string, paidAt time.Time) (bool, error)
}

// OrderService registers orders and reports their status.
type OrderService struct {
	repo OrderRepository
	log  *zap.Logger
	now  func() time.Time
}

// NewOrderService constructs an OrderService.
func NewOrderService(repo OrderRepository, log *zap.Logger) *OrderService {
	return &OrderService{repo: repo, log: log, now: time.Now}
}

// Register records a pending order. Registering a known id is a no-op that
// still succeeds; created tells the two cases apart.
func (s *OrderService) Register(ctx context.Context, orderID, tag, total, currency string) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	total = strings.TrimSpace(total)
	if orderID == "" || total == "" {
		return false, fmt.Errorf("%w: orderId and total are required", models.ErrInvalidRequest)
	}
	if _, err := strconv.ParseFloat(total, 64); err != nil {
		return false, fmt.Errorf("%w: total must be a decimal number", models.ErrInvalidRequest)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	created, err := s.repo.CreateOrder(ctx, models.Order{
		OrderID:   orderID,
		Tag:       strings.TrimSpace(tag),
		Total:     total,
		Currency:  currency,
		Status:    models.OrderPending,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return false, err
	}

	metrics.OrdersRegistered.WithLabelValues(strconv.FormatBool(created)).Inc()
	if created {
		s.log.Info("order registered",
			zap.String("order", orderID), zap.String("total", total), zap.String("currency", currency))
	}
	return created, nil
}

// Status returns the order, or one with status models.OrderUnknown when the
// id was never registered.
func (s *OrderService) Status(ctx context.Context, orderID string) (models.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return models.Order{}, fmt.Errorf("%w: orderId is required", models.ErrInvalidRequest)
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Order{OrderID: orderID, Status: models.OrderUnknown}, nil
	}
	if err != nil {
		return models.Order{}, err
	}
	return o, nil
}
