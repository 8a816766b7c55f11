package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/metrics"
)

// StartReservationSweeper resolves reservations older than ttl every
// interval: a reservation that was delivered or whose generation was
// recorded is confirmed, any other is released back to its pool. It stops
// when ctx is done.
func StartReservationSweeper(
	ctx context.Context,
	pool StockPool,
	repo GenerationRepository,
	interval time.Duration,
	ttl time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				SweepReservations(ctx, pool, repo, time.Now().Add(-ttl), log)
			}
		}
	}()
}

// SweepReservations resolves every reservation taken before cutoff once.
func SweepReservations(ctx context.Context, pool StockPool, repo GenerationRepository, cutoff time.Time, log *zap.Logger) {
	stale, err := pool.Stale(ctx, cutoff)
	if err != nil {
		log.Error("failed to list stale reservations", zap.Error(err))
		return
	}

	for _, r := range stale {
		recorded := r.Delivered
		if !recorded {
			if recorded, err = repo.GenerationExists(ctx, r.ID); err != nil {
				log.Error("failed to look up reservation", zap.String("reservation", r.ID), zap.Error(err))
				continue
			}
		}

		action := "released"
		if recorded {
			action = "confirmed"
			err = pool.Confirm(ctx, r)
		} else {
			err = pool.Release(ctx, r)
		}
		if err != nil {
			log.Error("failed to resolve reservation",
				zap.String("reservation", r.ID), zap.String("action", action), zap.Error(err))
			continue
		}

		metrics.ReservationsSwept.WithLabelValues(action).Inc()
		log.Info("resolved stale reservation",
			zap.String("reservation", r.ID),
			zap.String("service", r.Service),
			zap.String("action", action))
	}
}
