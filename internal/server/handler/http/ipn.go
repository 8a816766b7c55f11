package http

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/service"
)

const (
	maxNotificationBytes = 64 << 10
	reconcileTimeout     = time.Minute
)

// Reconciler applies a raw payment notification.
type Reconciler interface {
	HandleNotification(ctx context.Context, raw []byte) (service.Outcome, error)
}

// IPNHandler acknowledges provider notifications and reconciles them in the
// background.
type IPNHandler struct {
	Reconciler Reconciler
	Log        *zap.Logger
	// Dispatch runs a reconciliation; nil means a new goroutine.
	Dispatch func(task func())

	inflight sync.WaitGroup
}

// Notify handles POST /paypal/ipn. The sender always gets an empty 200
// before any processing, and the outcome is only logged.
func (h *IPNHandler) Notify(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	w.WriteHeader(http.StatusOK)
	if err != nil {
		h.Log.Warn("read notification", zap.Error(err))
		return
	}
	if len(raw) == 0 {
		h.Log.Warn("empty notification")
		return
	}

	dispatch := h.Dispatch
	if dispatch == nil {
		dispatch = func(task func()) { go task() }
	}
	h.inflight.Add(1)
	dispatch(func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()

		outcome, err := h.Reconciler.HandleNotification(ctx, raw)
		if err != nil {
			h.Log.Error("reconcile notification", zap.String("outcome", string(outcome)), zap.Error(err))
			return
		}
		h.Log.Debug("notification processed", zap.String("outcome", string(outcome)))
	})
}

// Wait blocks until every dispatched reconciliation has returned or ctx is
// done. Call it after the server stopped accepting notifications.
func (h *IPNHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
