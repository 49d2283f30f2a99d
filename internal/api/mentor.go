package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/identity"
	"github.com/ashureev/ax-mentor/internal/llm"
	"github.com/ashureev/ax-mentor/internal/session"
	"github.com/go-chi/chi/v5"
)

// MentorHandler serves session settings, state, and model discovery.
type MentorHandler struct {
	*Handler
}

// NewMentorHandler creates a new mentor handler.
func NewMentorHandler(base *Handler) *MentorHandler {
	return &MentorHandler{Handler: base}
}

// RegisterRoutes registers mentor routes.
func (h *MentorHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/models", h.GetModels)
		r.Put("/settings", h.PutSettings)
		r.Get("/mentor/state", h.GetState)
		r.Get("/mentor/steps/{step}", h.GetStep)
		r.Post("/mentor/reset", h.Reset)
	})
}

// session returns the caller's session, creating it on first access.
func (h *MentorHandler) session(r *http.Request) *session.Session {
	return h.sessions.Get(identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context()))
}

// GetMe returns the current user's information.
func (h *MentorHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	sessionTTL := 60 * time.Minute
	if h.cfg != nil {
		sessionTTL = h.cfg.SessionTTL
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"username":    user.Username,
		"session_id":  identity.SessionIDFromContext(r.Context()),
		"session_ttl": int64(sessionTTL.Seconds()),
	})
}

type stepInfo struct {
	ID    domain.Step `json:"id"`
	Label string      `json:"label"`
	Title string      `json:"title"`
}

// GetConfig returns the server configuration for the frontend.
func (h *MentorHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	steps := make([]stepInfo, 0, len(domain.Steps()))
	for _, s := range domain.Steps() {
		steps = append(steps, stepInfo{ID: s, Label: s.Label(), Title: s.Title()})
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"steps":           steps,
		"default_model":   h.catalog.Fallback(),
		"has_server_key":  h.provider.HasDefaultKey(),
		"google_docs_url": GoogleDocsCreateURL,
	})
}

// GetModels lists models for the session credential. Listing failures still
// return the fallback list, with the error alongside.
func (h *MentorHandler) GetModels(w http.ResponseWriter, r *http.Request) {
	settings := h.session(r).Settings()
	models, err := h.catalog.Models(r.Context(), settings.APIKey)

	resp := map[string]interface{}{
		"models":   models,
		"selected": selectedModel(settings.Model, models),
	}
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		resp["error"] = "api_key_required"
	case err != nil:
		resp["error"] = "API Key Error: " + err.Error()
	}
	JSON(w, http.StatusOK, resp)
}

// selectedModel keeps the session choice, else the first listed model.
func selectedModel(chosen string, models []string) string {
	if chosen != "" {
		return chosen
	}
	if len(models) > 0 {
		return models[0]
	}
	return ""
}

type settingsRequest struct {
	APIKey *string `json:"api_key"`
	Model  *string `json:"model"`
}

// PutSettings updates the session API key and model.
func (h *MentorHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.session(r)
	keyChanged := false
	updated := sess.UpdateSettings(func(s *session.Settings) {
		if req.APIKey != nil {
			key := strings.TrimSpace(*req.APIKey)
			keyChanged = key != s.APIKey
			s.APIKey = key
		}
		if req.Model != nil {
			s.Model = strings.TrimSpace(*req.Model)
		}
	})
	if keyChanged && req.Model == nil {
		// A model picked for the old key may not exist for the new one.
		updated = sess.UpdateSettings(func(s *session.Settings) { s.Model = "" })
	}

	slog.Info("Session settings updated",
		"user_id", sess.UserID,
		"session_id", sess.SessionID,
		"key_changed", keyChanged,
		"model", updated.Model,
	)
	JSON(w, http.StatusOK, map[string]interface{}{
		"has_api_key": h.provider.Fingerprint(updated.APIKey) != "",
		"model":       updated.Model,
	})
}

// GetState returns every step's transcript and output.
func (h *MentorHandler) GetState(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"steps": h.session(r).State.Views(),
	})
}

// GetStep returns one step's transcript and output.
func (h *MentorHandler) GetStep(w http.ResponseWriter, r *http.Request) {
	step, err := domain.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		Error(w, http.StatusNotFound, "unknown step")
		return
	}
	JSON(w, http.StatusOK, h.session(r).State.View(step))
}

// Reset clears the session's conversation. Settings are kept.
func (h *MentorHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.sessions.Reset(identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
