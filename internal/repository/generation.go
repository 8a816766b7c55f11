package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/novaxell/dispenser/internal/models"
)

// PostgresGenerationRepository stores issued credentials and the per-user
// usage counters derived from them.
type PostgresGenerationRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresGenerationRepository creates a PostgresGenerationRepository using the provided *sql.DB.
func NewPostgresGenerationRepository(db *sql.DB) *PostgresGenerationRepository {
	return &PostgresGenerationRepository{DB: db}
}

// SaveGeneration records g and updates the owner's counters in one
// transaction: total generations is incremented, the service is added to
// the user's distinct services and last activity is set to g.CreatedAt.
//
//	ctx: context for cancellation and deadlines
//	g:   the generation to persist; g.UserID must be a registered login
//
// Returns ErrUserNotFound if the user does not exist; nothing is written then.
func (s *PostgresGenerationRepository) SaveGeneration(ctx context.Context, g models.Generation) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET total_generations = total_generations + 1, last_activity = $2
		WHERE login = $1
	`, g.UserID, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_services (user_login, service, first_used_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_login, service) DO NOTHING
	`, g.UserID, g.Service, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("add service: %w", err)
	}

	a := g.Account
	_, err = tx.ExecContext(ctx, `
		INSERT INTO generations (id, user_login, service, email, username, password, additional_data, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, g.ID, g.UserID, g.Service, a.Email, a.Username, a.Password, a.AdditionalData, a.Raw, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GenerationExists reports whether a generation with the given id was recorded.
func (s *PostgresGenerationRepository) GenerationExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM generations WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("GenerationExists: %w", err)
	}
	return exists, nil
}

// ListGenerations returns at most limit generations of the user, newest first.
func (s *PostgresGenerationRepository) ListGenerations(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_login, service, email, username, password, additional_data, raw, created_at
		FROM generations WHERE user_login = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListGenerations: %w", err)
	}
	defer rows.Close()

	generations := []models.Generation{}
	for rows.Next() {
		var g models.Generation
		a := &g.Account
		if err := rows.Scan(&g.ID, &g.UserID, &g.Service, &a.Email, &a.Username, &a.Password, &a.AdditionalData, &a.Raw, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		generations = append(generations, g)
	}
	return generations, rows.Err()
}

// GetStats loads the usage counters of a user.
func (s *PostgresGenerationRepository) GetStats(ctx context.Context, userID string) (models.UserStats, error) {
	var stats models.UserStats
	err := s.DB.QueryRowContext(ctx,
		`SELECT total_generations, last_activity FROM users WHERE login = $1`, userID,
	).Scan(&stats.TotalGenerations, &stats.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserStats{}, ErrUserNotFound
	}
	if err != nil {
		return models.UserStats{}, fmt.Errorf("GetStats: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT service FROM user_services WHERE user_login = $1
		ORDER BY first_used_at, service
	`, userID)
	if err != nil {
		return models.UserStats{}, fmt.Errorf("GetStats services: %w", err)
	}
	defer rows.Close()

	stats.Services = []string{}
	for rows.Next() {
		var service string
		if err := rows.Scan(&service); err != nil {
			return models.UserStats{}, fmt.Errorf("scan: %w", err)
		}
		stats.Services = append(stats.Services, service)
	}
	return stats, rows.Err()
}
