package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/metrics"
	"github.com/novaxell/dispenser/internal/models"
	"github.com/novaxell/dispenser/internal/stock"
)

const (
	// MaxHistory caps the number of generations returned by History.
	MaxHistory = 50
	// RecentInStats is the number of generations included in a stats report.
	RecentInStats = 5
)

// StockPool is the account store used by the generator.
type StockPool interface {
	Reserve(ctx context.Context, service string) (models.Reservation, error)
	Confirm(ctx context.Context, r models.Reservation) error
	Release(ctx context.Context, r models.Reservation) error
	MarkDelivered(ctx context.Context, r models.Reservation) error
	Stale(ctx context.Context, before time.Time) ([]models.Reservation, error)
	Size(ctx context.Context, service string) (int, error)
	Services(ctx context.Context) ([]string, error)
}

// GenerationRepository persists generation events and usage counters.
type GenerationRepository interface {
	// SaveGeneration stores g and bumps the owner's counters atomically.
	SaveGeneration(ctx context.Context, g models.Generation) error
	GenerationExists(ctx context.Context, id string) (bool, error)
	ListGenerations(ctx context.Context, userID string, limit int) ([]models.Generation, error)
	GetStats(ctx context.Context, userID string) (models.UserStats, error)
}

// GeneratorService hands out credential lines to users. A line is reserved,
// recorded and only then confirmed, so it is never given out twice and never
// silently dropped.
type GeneratorService struct {
	pool     StockPool
	repo     GenerationRepository
	services []string
	log      *zap.Logger
	now      func() time.Time
}

// NewGeneratorService constructs a GeneratorService. services is the
// configured catalogue; when empty the pools found in the store are listed.
func NewGeneratorService(pool StockPool, repo GenerationRepository, services []string, log *zap.Logger) *GeneratorService {
	return &GeneratorService{
		pool:     pool,
		repo:     repo,
		services: services,
		log:      log,
		now:      time.Now,
	}
}

// Generate takes the next line of service for userID.
//
// Errors: models.ErrInvalidRequest for a bad service name, models.ErrOutOfStock
// when the pool is empty or unknown, models.ErrUnauthorized when userID is not
// registered, models.ErrInternal otherwise. When the line can be neither
// recorded nor returned to the pool a *models.UndeliveredError is returned and
// the caller must still deliver its Generation.
func (s *GeneratorService) Generate(ctx context.Context, userID, service string) (models.Generation, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return models.Generation{}, fmt.Errorf("%w: service is required", models.ErrInvalidRequest)
	}
	if err := stock.ValidateService(service); err != nil {
		return models.Generation{}, err
	}

	r, err := s.pool.Reserve(ctx, service)
	if errors.Is(err, models.ErrOutOfStock) {
		metrics.OutOfStock.WithLabelValues(service).Inc()
		return models.Generation{}, err
	}
	if err != nil {
		s.log.Error("reserve failed", zap.String("service", service), zap.Error(err))
		return models.Generation{}, fmt.Errorf("%w: reserve: %w", models.ErrInternal, err)
	}

	g := models.Generation{
		ID:        r.ID,
		UserID:    userID,
		Service:   service,
		Account:   models.ParseAccount(r.Line),
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.SaveGeneration(ctx, g); err != nil {
		return s.abort(r, g, err)
	}

	if err := s.pool.Confirm(ctx, r); err != nil {
		s.log.Warn("confirm failed, left to sweeper",
			zap.String("reservation", r.ID), zap.String("service", service), zap.Error(err))
	}

	metrics.Generations.WithLabelValues(service).Inc()
	return g, nil
}

// abort returns a reserved line to its pool after saveErr. When the line
// cannot be returned it goes to the user, and the reservation is confirmed
// or at least marked delivered so the sweeper never releases it.
func (s *GeneratorService) abort(r models.Reservation, g models.Generation, saveErr error) (models.Generation, error) {
	// The request context may already be cancelled; the release must still run.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.pool.Release(ctx, r); err != nil {
		fields := []zap.Field{
			zap.String("reservation", r.ID),
			zap.String("service", r.Service),
			zap.String("user", g.UserID),
			zap.NamedError("save_error", saveErr),
			zap.Error(err),
		}
		if cerr := s.pool.Confirm(ctx, r); cerr != nil {
			fields = append(fields, zap.NamedError("confirm_error", cerr))
			if merr := s.pool.MarkDelivered(ctx, r); merr != nil {
				fields = append(fields, zap.NamedError("mark_error", merr))
			}
		}
		s.log.Error("consumed-but-undelivered", fields...)
		metrics.Undelivered.Inc()
		return g, &models.UndeliveredError{Generation: g, Err: saveErr}
	}

	if errors.Is(saveErr, models.ErrUnauthorized) {
		return models.Generation{}, saveErr
	}
	s.log.Error("save generation failed, line released",
		zap.String("reservation", r.ID), zap.String("service", r.Service), zap.Error(saveErr))
	return models.Generation{}, fmt.Errorf("%w: save generation: %w", models.ErrInternal, saveErr)
}

// History returns the user's generations newest first. limit outside
// (0, MaxHistory] means MaxHistory.
func (s *GeneratorService) History(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	return s.repo.ListGenerations(ctx, userID, limit)
}

// Stats returns the user's counters and the most recent generations.
func (s *GeneratorService) Stats(ctx context.Context, userID string) (models.StatsReport, error) {
	stats, err := s.repo.GetStats(ctx, userID)
	if err != nil {
		return models.StatsReport{}, err
	}
	recent, err := s.repo.ListGenerations(ctx, userID, RecentInStats)
	if err != nil {
		return models.StatsReport{}, err
	}
	return models.StatsReport{UserStats: stats, RecentGenerations: recent}, nil
}

// Services lists the catalogue with the available count of each pool.
func (s *GeneratorService) Services(ctx context.Context) ([]models.ServiceStock, error) {
	names := s.services
	if len(names) == 0 {
		var err error
		names, err = s.pool.Services(ctx)
		if err != nil {
			return nil, fmt.Errorf("list pools: %w", err)
		}
	}

	out := make([]models.ServiceStock, 0, len(names))
	for _, name := range names {
		n, err := s.pool.Size(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("size of %s: %w", name, err)
		}
		out = append(out, models.ServiceStock{Name: name, Available: n})
	}
	return out, nil
}
