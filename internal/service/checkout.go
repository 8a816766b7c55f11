package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/models"
)

// Gateway is the hosted checkout provider.
type Gateway interface {
	// CreateOrder opens a checkout for amount (two decimals) in currency and
	// returns the provider's order id.
	CreateOrder(ctx context.Context, amount, currency string) (string, error)
	CaptureOrder(ctx context.Context, providerOrderID string) (models.Capture, error)
}

// CheckoutService validates checkout requests and forwards them to the gateway.
type CheckoutService struct {
	gateway Gateway
	log     *zap.Logger
}

// NewCheckoutService constructs a CheckoutService.
func NewCheckoutService(gateway Gateway, log *zap.Logger) *CheckoutService {
	return &CheckoutService{gateway: gateway, log: log}
}

// NormalizeAmount parses a positive amount and formats it with two decimals.
func NormalizeAmount(amount string) (string, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return "", fmt.Errorf("%w: amount must be a positive number", models.ErrInvalidRequest)
	}
	return strconv.FormatFloat(v, 'f', 2, 64), nil
}

// CreateOrder opens a provider checkout and returns its id.
func (s *CheckoutService) CreateOrder(ctx context.Context, amount, currency string) (string, error) {
	value, err := NormalizeAmount(amount)
	if err != nil {
		return "", err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	id, err := s.gateway.CreateOrder(ctx, value, currency)
	if err != nil {
		s.log.Error("create checkout failed", zap.String("amount", value), zap.String("currency", currency), zap.Error(err))
		return "", fmt.Errorf("%w: %w", models.ErrUpstream, err)
	}
	s.log.Info("checkout created", zap.String("provider_order", id), zap.String("amount", value), zap.String("currency", currency))
	return id, nil
}

// CaptureOrder captures an approved provider checkout.
func (s *CheckoutService) CaptureOrder(ctx context.Context, providerOrderID string) (models.Capture, error) {
	providerOrderID = strings.TrimSpace(providerOrderID)
	if providerOrderID == "" {
		return models.Capture{}, fmt.Errorf("%w: orderID is required", models.ErrInvalidRequest)
	}
	c, err := s.gateway.CaptureOrder(ctx, providerOrderID)
	if err != nil {
		s.log.Error("capture failed", zap.String("provider_order", providerOrderID), zap.Error(err))
		return models.Capture{}, fmt.Errorf("%w: %w", models.ErrUpstream, err)
	}
	s.log.Info("checkout captured", zap.String("provider_order", providerOrderID), zap.String("status", c.Status))
	return c, nil
}
