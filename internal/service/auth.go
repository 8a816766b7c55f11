// Package service holds the business logic of the dispenser: identity,
// credential generation, the order ledger and payment reconciliation.
// Persistence is delegated to consumer-declared repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/novaxell/dispenser/internal/models"
)

// MaxLoginLength is the longest login accepted; it becomes a certificate CN.
const MaxLoginLength = 64

// ErrUserExists is returned when registering a login that is already taken.
var ErrUserExists = errors.New("user already exists")

// AuthRepository defines the persistence operations
// required by the authentication service.
type AuthRepository interface {
	// UserExists returns true if a user with the given login exists.
	// ctx carries deadlines, cancellation signals, and other request-scoped values.
	UserExists(ctx context.Context, login string) (bool, error)
	// RegisterUser creates a new user record with zeroed counters and
	// reports false when the login was already taken.
	RegisterUser(ctx context.Context, login string, at time.Time) (bool, error)
	// TouchUser sets the last activity of an existing user.
	TouchUser(ctx context.Context, login string, at time.Time) error
}

// Service implements authentication operations by delegating
// to an AuthRepository.
type Service struct {
	// repo performs the data-layer operations.
	repo AuthRepository
	now  func() time.Time
}

// NewAuthService constructs a new Service using the provided repository.
// repo must implement AuthRepository.
func NewAuthService(repo AuthRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// UserExists checks whether a user with the specified login exists.
// It returns true if the user exists, false otherwise, along with any error.
func (s *Service) UserExists(ctx context.Context, login string) (bool, error) {
	return s.repo.UserExists(ctx, login)
}

// RegisterUser registers login with empty usage counters.
// Returns ErrUserExists if the login is taken.
func (s *Service) RegisterUser(ctx context.Context, login string) error {
	login = strings.TrimSpace(login)
	if login == "" || len(login) > MaxLoginLength {
		return fmt.Errorf("%w: login must be 1 to %d bytes", models.ErrInvalidRequest, MaxLoginLength)
	}
	exists, err := s.repo.UserExists(ctx, login)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}
	created, err := s.repo.RegisterUser(ctx, login, s.now().UTC())
	if err != nil {
		return err
	}
	if !created {
		return ErrUserExists
	}
	return nil
}

// Login records activity for an authenticated login.
func (s *Service) Login(ctx context.Context, login string) error {
	return s.repo.TouchUser(ctx, login, s.now().UTC())
}
