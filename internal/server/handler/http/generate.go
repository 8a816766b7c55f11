package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/novaxell/dispenser/internal/middleware"
	"github.com/novaxell/dispenser/internal/models"
)

// GeneratorService is the credential allocator used by GeneratorHandler.
type GeneratorService interface {
	Generate(ctx context.Context, userID, service string) (models.Generation, error)
	History(ctx context.Context, userID string, limit int) ([]models.Generation, error)
	Stats(ctx context.Context, userID string) (models.StatsReport, error)
	Services(ctx context.Context) ([]models.ServiceStock, error)
}

// GeneratorHandler serves the catalogue, generation, history and stats endpoints.
type GeneratorHandler struct {
	Service GeneratorService
	Log     *zap.Logger
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Service string `json:"service"`
}

// Services handles GET /api/services.
func (h *GeneratorHandler) Services(w http.ResponseWriter, r *http.Request) {
	services, err := h.Service.Services(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"services": services})
}

// Generate handles POST /api/generate. A credential that left the pool but
// could not be recorded is still delivered, flagged with "recorded": false.
func (h *GeneratorHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	userID := middleware.GetUserIDFromContext(r.Context())

	g, err := h.Service.Generate(r.Context(), userID, req.Service)
	recorded := true
	if err != nil {
		var undelivered *models.UndeliveredError
		if !errors.As(err, &undelivered) {
			writeServiceError(w, h.Log, err)
			return
		}
		g, recorded = undelivered.Generation, false
	}

	writeJSON(w, http.StatusOK, envelope{
		"id":          g.ID,
		"account":     g.Account,
		"service":     g.Service,
		"generatedAt": g.CreatedAt,
		"recorded":    recorded,
	})
}

// History handles GET /api/history?limit=N.
func (h *GeneratorHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	history, err := h.Service.History(r.Context(), middleware.GetUserIDFromContext(r.Context()), limit)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if history == nil {
		history = []models.Generation{}
	}
	writeJSON(w, http.StatusOK, envelope{"history": history})
}

// Stats handles GET /api/stats.
func (h *GeneratorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context(), middleware.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if stats.Services == nil {
		stats.Services = []string{}
	}
	if stats.RecentGenerations == nil {
		stats.RecentGenerations = []models.Generation{}
	}
	writeJSON(w, http.StatusOK, envelope{"stats": stats})
}
