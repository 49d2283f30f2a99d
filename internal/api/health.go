package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/ax-mentor/internal/session"
	"github.com/ashureev/ax-mentor/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	sessions *session.Manager
	timeout  time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, sessions *session.Manager) *HealthHandler {
	return &HealthHandler{repo: repo, sessions: sessions, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":          "healthy",
		"checks":          checks,
		"active_sessions": h.sessions.Count(),
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the detailed health route. The bare /health
// heartbeat is answered by middleware.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
