// Package api provides HTTP handlers for the mentoring API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/ax-mentor/internal/config"
	"github.com/ashureev/ax-mentor/internal/llm"
	"github.com/ashureev/ax-mentor/internal/session"
	"github.com/ashureev/ax-mentor/internal/store"
)

// GoogleDocsCreateURL opens a blank Google Docs document.
const GoogleDocsCreateURL = "https://docs.google.com/document/create?usp=docs_web"

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *session.Manager
	provider *llm.Provider
	catalog  *llm.Catalog
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager, provider *llm.Provider, catalog *llm.Catalog, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		provider: provider,
		catalog:  catalog,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
