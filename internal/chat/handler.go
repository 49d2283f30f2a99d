// Package chat carries mentoring turns over SSE and WebSocket.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/ax-mentor/internal/config"
	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/identity"
	"github.com/ashureev/ax-mentor/internal/llm"
	"github.com/ashureev/ax-mentor/internal/mentor"
	"github.com/ashureev/ax-mentor/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// APIKeyMissingMessage is shown when neither the session nor the server has a key.
const APIKeyMissingMessage = "왼쪽 사이드바에 Google API Key를 입력해주세요."

// Request is the body of a chat submission.
type Request struct {
	Message string `json:"message"`
}

// DeltaEvent carries one streamed fragment.
type DeltaEvent struct {
	Step domain.Step `json:"step"`
	Text string      `json:"text"`
}

// ErrorEvent reports a failed turn.
type ErrorEvent struct {
	Step    domain.Step `json:"step,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// Handler runs mentoring turns for HTTP and WebSocket clients.
type Handler struct {
	sessions    *session.Manager
	mentor      *mentor.Service
	provider    *llm.Provider
	catalog     *llm.Catalog
	rateLimiter *RateLimiter
	conns       *Connections
	log         ConversationLogger
	cfg         *config.Config
}

// NewHandler creates a chat handler.
func NewHandler(sessions *session.Manager, svc *mentor.Service, provider *llm.Provider, catalog *llm.Catalog, conversationLogger ConversationLogger, cfg *config.Config) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}

	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		sessions:    sessions,
		mentor:      svc,
		provider:    provider,
		catalog:     catalog,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		conns:       NewConnections(),
		log:         conversationLogger,
		cfg:         cfg,
	}
}

// Connections returns the registry of open WebSocket clients.
func (h *Handler) Connections() *Connections {
	return h.conns
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/mentor/steps/{step}/chat", h.HandleChat)
	r.Get("/ws/mentor", h.ServeWS)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	h.conns.CloseAll()
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// failure is the transport-neutral description of a rejected or failed turn.
type failure struct {
	Status  int
	Code    string
	Message string
}

func describeFailure(err error) failure {
	var turnErr *mentor.TurnError
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		return failure{http.StatusPreconditionFailed, "api_key_required", APIKeyMissingMessage}
	case errors.Is(err, mentor.ErrEmptyPrompt):
		return failure{http.StatusBadRequest, "message_required", err.Error()}
	case errors.Is(err, mentor.ErrTurnInProgress):
		return failure{http.StatusConflict, "turn_in_progress", err.Error()}
	case errors.Is(err, mentor.ErrStateReset):
		return failure{http.StatusConflict, "session_reset", err.Error()}
	case errors.Is(err, context.Canceled):
		return failure{http.StatusRequestTimeout, "canceled", err.Error()}
	case errors.As(err, &turnErr):
		return failure{http.StatusBadGateway, string(turnErr.Kind), turnErr.UserMessage()}
	default:
		return failure{http.StatusBadGateway, string(mentor.FailureProvider), "Error: " + err.Error()}
	}
}

// logTurnFailure logs a client disconnect at Info and anything else at Warn.
func logTurnFailure(f failure, err error, args ...any) {
	args = append(args, "code", f.Code, "error", err)
	if f.Status == http.StatusRequestTimeout {
		slog.Info("Mentor turn canceled", args...)
		return
	}
	slog.Warn("Mentor turn failed", args...)
}

// turnInput is one submission, independent of transport.
type turnInput struct {
	UserID    string
	SessionID string
	RequestID string
	Channel   string
	Step      domain.Step
	Message   string
}

// prepare resolves the client and model for a session.
func (h *Handler) prepare(ctx context.Context, sess *session.Session) (llm.Client, string, error) {
	settings := sess.Settings()
	client, err := h.provider.Client(ctx, settings.APIKey)
	if err != nil {
		return nil, "", err
	}
	model := settings.Model
	if model == "" {
		model = h.catalog.DefaultModel(ctx, settings.APIKey)
	}
	return client, model, nil
}

// runTurn executes one turn and records it in the conversation log.
func (h *Handler) runTurn(ctx context.Context, in turnInput, onDelta func(string)) (*mentor.TurnResult, error) {
	sess := h.sessions.Get(in.UserID, in.SessionID)
	client, model, err := h.prepare(ctx, sess)
	if err != nil {
		return nil, err
	}

	slog.Info("Mentor chat request",
		"user_id", in.UserID,
		"session_id", in.SessionID,
		"step", in.Step,
		"model", model,
		"message_length", len(in.Message),
	)
	h.logEvent(in, "outbound", "chat_user_message", in.Message, map[string]any{
		"request_id": in.RequestID,
		"model":      model,
	})

	chunks := 0
	result, err := h.mentor.Execute(ctx, client, sess.State, mentor.TurnRequest{
		Step:   in.Step,
		Prompt: in.Message,
		Model:  model,
		OnDelta: func(fragment string) {
			chunks++
			if onDelta != nil {
				onDelta(fragment)
			}
		},
	})
	if err != nil {
		h.logEvent(in, "inbound", "chat_turn_failed", err.Error(), map[string]any{
			"request_id":    in.RequestID,
			"stream_chunks": chunks,
		})
		return nil, err
	}

	h.logEvent(in, "inbound", "chat_assistant_message", result.Raw, map[string]any{
		"request_id":     in.RequestID,
		"stream_chunks":  chunks,
		"output_updated": result.OutputUpdated,
		"fallback":       result.Fallback,
	})
	return result, nil
}

func (h *Handler) logEvent(in turnInput, direction, eventType, content string, meta map[string]any) {
	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		Step:       string(in.Step),
		Channel:    in.Channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// HandleChat handles POST /api/mentor/steps/{step}/chat.
//
// The reply streams as SSE: one "delta" per fragment, then "done" with the
// turn result or "error" with the failure.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	step, err := domain.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		http.Error(w, `{"error": "unknown step"}`, http.StatusNotFound)
		return
	}

	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	// Credential problems are reported before the stream opens.
	if h.provider.Fingerprint(h.sessions.Get(userID, sessionID).Settings().APIKey) == "" {
		writeJSONError(w, http.StatusPreconditionFailed, "api_key_required", APIKeyMissingMessage)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var writeMu sync.Mutex
	send := func(event string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", event, err)
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := writeSSE(w, event, string(data)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	stopKeepalive := h.keepalive(r.Context(), w, flusher, &writeMu)
	defer stopKeepalive()

	result, err := h.runTurn(r.Context(), turnInput{
		UserID:    userID,
		SessionID: sessionID,
		RequestID: chiMiddleware.GetReqID(r.Context()),
		Channel:   "chat_http",
		Step:      step,
		Message:   req.Message,
	}, func(fragment string) {
		if err := send("delta", DeltaEvent{Step: step, Text: fragment}); err != nil {
			slog.Debug("failed to write SSE delta event", "error", err, "user_id", userID)
		}
	})
	stopKeepalive()

	if err != nil {
		f := describeFailure(err)
		logTurnFailure(f, err, "user_id", userID, "session_id", sessionID, "step", step)
		if writeErr := send("error", ErrorEvent{Step: step, Code: f.Code, Message: f.Message}); writeErr != nil {
			slog.Warn("failed to write SSE error event", "error", writeErr)
		}
		return
	}

	if err := send("done", result); err != nil {
		slog.Warn("failed to write SSE done event", "error", err, "user_id", userID)
	}
}

// keepalive writes SSE comments while a turn is waiting on the model.
// The returned func stops it and is safe to call more than once.
func (h *Handler) keepalive(ctx context.Context, w io.Writer, flusher http.Flusher, mu *sync.Mutex) func() {
	interval := 10 * time.Second
	if h.cfg != nil {
		interval = h.cfg.SSE.KeepaliveInterval
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				mu.Lock()
				_, err := io.WriteString(w, ": keepalive\n\n")
				if err == nil {
					flusher.Flush()
				}
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
