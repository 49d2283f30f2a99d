package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultExportListLimit = 50
	maxExportListLimit     = 200
)

// ExportHandler archives step outputs and serves them back as markdown.
type ExportHandler struct {
	*Handler
}

// NewExportHandler creates a new export handler.
func NewExportHandler(base *Handler) *ExportHandler {
	return &ExportHandler{Handler: base}
}

// RegisterRoutes registers export routes.
func (h *ExportHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/mentor/steps/{step}/export", h.Create)
	r.Get("/api/exports", h.List)
	r.Get("/api/exports/{id}", h.Download)
}

// Create archives the current output of a step.
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	step, err := domain.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		Error(w, http.StatusNotFound, "unknown step")
		return
	}

	output := h.sessions.Get(userID, sessionID).State.Output(step)
	if output == "" {
		Error(w, http.StatusConflict, "no_output")
		return
	}

	export := &domain.Export{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Step:      step,
		Content:   output,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.CreateExport(r.Context(), export); err != nil {
		slog.Error("Failed to archive export", "error", err, "user_id", userID, "step", step)
		Error(w, http.StatusInternalServerError, "failed to save export")
		return
	}

	slog.Info("Output exported", "user_id", userID, "session_id", sessionID, "step", step, "export_id", export.ID)
	JSON(w, http.StatusCreated, map[string]interface{}{
		"export":          export,
		"filename":        export.Filename(),
		"markdown":        export.Markdown(),
		"google_docs_url": GoogleDocsCreateURL,
	})
}

// List returns the caller's exports, newest first.
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	limit := defaultExportListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxExportListLimit)
	}

	exports, err := h.repo.ListExports(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list exports", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list exports")
		return
	}
	if exports == nil {
		exports = []*domain.Export{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"exports": exports})
}

// Download serves one export as a markdown attachment.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	exportID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(exportID); err != nil {
		Error(w, http.StatusNotFound, "export not found")
		return
	}

	export, err := h.repo.GetExport(r.Context(), userID, exportID)
	if err != nil {
		slog.Error("Failed to load export", "error", err, "user_id", userID, "export_id", exportID)
		Error(w, http.StatusInternalServerError, "failed to load export")
		return
	}
	if export == nil {
		Error(w, http.StatusNotFound, "export not found")
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename()+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(export.Markdown())); err != nil {
		slog.Debug("Failed to write export body", "error", err, "export_id", exportID)
	}
}
