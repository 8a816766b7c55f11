package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/metrics"
	"github.com/novaxell/dispenser/internal/models"
)

// Outcome is the result of processing one payment notification.
type Outcome string

const (
	OutcomePaid          Outcome = "paid"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnmatched     Outcome = "unmatched"
	OutcomeUnverified    Outcome = "unverified"
	OutcomeWrongReceiver Outcome = "wrong_receiver"
	OutcomeNotCompleted  Outcome = "not_completed"
	OutcomeError         Outcome = "error"
)

// Verifier confirms that a notification payload originates from the provider.
type Verifier interface {
	VerifyNotification(ctx context.Context, raw []byte) (bool, error)
}

// ReconcileService applies provider payment notifications to the order ledger.
type ReconcileService struct {
	verifier Verifier
	orders   OrderRepository
	receiver string
	log      *zap.Logger
	now      func() time.Time
}

// NewReconcileService constructs a ReconcileService. receiver is the account
// payments must be addressed to; when empty every notification is rejected.
func NewReconcileService(verifier Verifier, orders OrderRepository, receiver string, log *zap.Logger) *ReconcileService {
	return &ReconcileService{
		verifier: verifier,
		orders:   orders,
		receiver: strings.TrimSpace(receiver),
		log:      log,
		now:      time.Now,
	}
}

// ParseNotification extracts the consumed fields of a form-encoded payload.
func ParseNotification(raw []byte) (models.Notification, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return models.Notification{}, fmt.Errorf("%w: malformed notification: %w", models.ErrInvalidRequest, err)
	}
	receiver := form.Get("receiver_email")
	if receiver == "" {
		receiver = form.Get("business")
	}
	return models.Notification{
		Receiver:      receiver,
		PaymentStatus: form.Get("payment_status"),
		TxnID:         form.Get("txn_id"),
		PayerEmail:    form.Get("payer_email"),
		Gross:         form.Get("mc_gross"),
		Currency:      form.Get("mc_currency"),
		Custom:        form.Get("custom"),
		Invoice:       form.Get("invoice"),
		Memo:          form.Get("memo"),
	}, nil
}

// HandleNotification verifies raw with the provider, filters it and marks
// the matching order paid at most once.
func (s *ReconcileService) HandleNotification(ctx context.Context, raw []byte) (Outcome, error) {
	outcome, err := s.handle(ctx, raw)
	metrics.Notifications.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *ReconcileService) handle(ctx context.Context, raw []byte) (Outcome, error) {
	ok, err := s.verifier.VerifyNotification(ctx, raw)
	if err != nil {
		s.log.Warn("notification verification failed", zap.Error(err))
		return OutcomeUnverified, nil
	}
	if !ok {
		s.log.Warn("notification rejected by provider")
		return OutcomeUnverified, nil
	}

	n, err := ParseNotification(raw)
	if err != nil {
		s.log.Warn("notification unreadable", zap.Error(err))
		return OutcomeUnverified, nil
	}
	log := s.log.With(zap.String("txn", n.TxnID))

	if s.receiver == "" || !strings.EqualFold(strings.TrimSpace(n.Receiver), s.receiver) {
		log.Warn("notification for another receiver", zap.String("receiver", n.Receiver))
		return OutcomeWrongReceiver, nil
	}
	if n.PaymentStatus != "Completed" {
		log.Info("ignoring notification", zap.String("payment_status", n.PaymentStatus))
		return OutcomeNotCompleted, nil
	}

	order, err := s.match(ctx, n)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn("no order matches payment",
			zap.String("custom", n.Custom),
			zap.String("invoice", n.Invoice),
			zap.String("gross", n.Gross),
			zap.String("currency", n.Currency))
		return OutcomeUnmatched, nil
	}
	if err != nil {
		log.Error("order lookup failed", zap.Error(err))
		return OutcomeError, err
	}

	if order.Status == models.OrderPaid {
		log.Info("order already paid", zap.String("order", order.OrderID))
		return OutcomeDuplicate, nil
	}

	flipped, err := s.orders.MarkPaid(ctx, order.OrderID, n.TxnID, n.PayerEmail, s.now().UTC())
	if err != nil {
		log.Error("mark paid failed", zap.String("order", order.OrderID), zap.Error(err))
		return OutcomeError, err
	}
	if !flipped {
		log.Info("order paid concurrently", zap.String("order", order.OrderID))
		return OutcomeDuplicate, nil
	}

	log.Info("order paid", zap.String("order", order.OrderID), zap.String("payer", n.PayerEmail))
	return OutcomePaid, nil
}

// match finds the order by identifiers, then by a pending order of the same
// amount and currency.
func (s *ReconcileService) match(ctx context.Context, n models.Notification) (models.Order, error) {
	if n.Custom != "" || n.Invoice != "" || n.Memo != "" {
		o, err := s.orders.FindOrderForNotification(ctx, n.Custom, n.Invoice, n.Memo)
		if err == nil || !errors.Is(err, models.ErrNotFound) {
			return o, err
		}
	}
	if n.Gross == "" {
		return models.Order{}, models.ErrNotFound
	}
	o, err := s.orders.FindPendingByAmount(ctx, n.Gross, n.Currency)
	if err != nil {
		return o, err
	}
	// Amount matches are ambiguous; keep them auditable.
	s.log.Warn("payment matched by amount",
		zap.String("txn", n.TxnID),
		zap.String("order", o.OrderID),
		zap.String("gross", n.Gross),
		zap.String("currency", n.Currency))
	return o, nil
}
