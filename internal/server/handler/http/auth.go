// Package http provides the HTTP boundary of the dispenser: identity,
// credential generation, orders, checkout and payment notifications.
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/middleware"
	"github.com/novaxell/dispenser/internal/service"
)

// AuthService defines the interface for authentication operations
// required by the HTTP handlers.
type AuthService interface {
	// RegisterUser registers a new user with the given login.
	// Returns service.ErrUserExists when the login is taken.
	RegisterUser(context.Context, string) error
	// Login records activity of an existing user.
	Login(context.Context, string) error
}

// CertificateIssuer signs client certificates for new users.
type CertificateIssuer interface {
	IssueClientCertificate(userID string) ([]byte, []byte, error)
}

// AuthHandler handles HTTP requests for user registration and login.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	// Issuer signs the certificate returned on registration.
	Issuer CertificateIssuer
	Log    *zap.Logger
}

// RegisterRequest represents the JSON payload for user registration.
type RegisterRequest struct {
	// Login is the username to register.
	Login string `json:"login"`
}

// Register handles user registration requests.
// It expects a JSON body with a non-empty "login" field. The certificate is
// issued before the user row is stored so a signing failure leaves no
// half-registered login behind. It answers with the PEM-encoded certificate
// and private key.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Login) == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	login := strings.TrimSpace(req.Login)

	if h.Issuer == nil {
		writeError(w, http.StatusInternalServerError, "certificate authority unavailable")
		return
	}
	certPEM, keyPEM, err := h.Issuer.IssueClientCertificate(login)
	if err != nil {
		h.Log.Error("issue certificate", zap.String("login", login), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate certificate")
		return
	}

	if err := h.AuthService.RegisterUser(r.Context(), login); err != nil {
		if errors.Is(err, service.ErrUserExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		writeServiceError(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		"cert": string(certPEM),
		"key":  string(keyPEM),
	})
}

// Login handles certificate-based login requests. It runs behind CertAuth,
// touches the user's last activity and answers with the user id.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	login := middleware.GetUserIDFromContext(r.Context())
	if login == "" {
		writeError(w, http.StatusUnauthorized, "client certificate required")
		return
	}

	if err := h.AuthService.Login(r.Context(), login); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		"status": "ok",
		"user":   login,
	})
}
