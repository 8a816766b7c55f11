// Package repository provides PostgreSQL persistence for users, credential
// generations and payment orders.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/novaxell/dispenser/internal/models"
)

// ErrUserNotFound is returned when an operation targets an unregistered login.
var ErrUserNotFound = fmt.Errorf("%w: user not found", models.ErrUnauthorized)

// PostgresAuthRepository implements user identity operations using a PostgreSQL database.
type PostgresAuthRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuthRepository creates a new PostgresAuthRepository with the given database connection.
// db must be a valid *sql.DB connected to a PostgreSQL instance.
func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{DB: db}
}

// UserExists checks whether a user with the specified login exists in the database.
// It returns true if the user exists, false otherwise.
// If an error occurs during the query, it is returned.
func (s *PostgresAuthRepository) UserExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE login = $1)`,
		login,
	).Scan(&exists)
	return exists, err
}

// RegisterUser attempts to register a new user with zeroed usage counters.
// If a user with the same login already exists, the ON CONFLICT DO NOTHING
// clause prevents an error and created is false.
func (s *PostgresAuthRepository) RegisterUser(ctx context.Context, login string, at time.Time) (bool, error) {
	res, err := s.DB.ExecContext(
		ctx,
		`INSERT INTO users (login, created_at, last_activity) VALUES ($1, $2, $2) ON CONFLICT DO NOTHING`,
		login, at,
	)
	if err != nil {
		return false, fmt.Errorf("register user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register user: %w", err)
	}
	return n == 1, nil
}

// TouchUser records activity for login. Returns ErrUserNotFound when no row matched.
func (s *PostgresAuthRepository) TouchUser(ctx context.Context, login string, at time.Time) error {
	res, err := s.DB.ExecContext(
		ctx,
		`UPDATE users SET last_activity = $2 WHERE login = $1`,
		login, at,
	)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
