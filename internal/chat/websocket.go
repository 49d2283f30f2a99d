package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/identity"
	"github.com/ashureev/ax-mentor/internal/mentor"
	"github.com/coder/websocket"
)

// wsInbound is a client message on /ws/mentor.
type wsInbound struct {
	Type    string `json:"type"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsOutbound is a server message on /ws/mentor.
type wsOutbound struct {
	Type    string             `json:"type"`
	Step    domain.Step        `json:"step,omitempty"`
	Text    string             `json:"text,omitempty"`
	Result  *mentor.TurnResult `json:"result,omitempty"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message,omitempty"`
}

// ServeWS handles GET /ws/mentor. Turns run concurrently with the read loop so
// a reset can arrive while a reply is still streaming.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	var turns sync.WaitGroup
	defer turns.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeWS(ctx, ws, wsOutbound{Type: "error", Code: "invalid_message", Message: "message must be JSON"})
			continue
		}

		switch msg.Type {
		case "chat":
			step, err := domain.ParseStep(msg.Step)
			if err != nil {
				h.writeWS(ctx, ws, wsOutbound{Type: "error", Code: "unknown_step", Message: err.Error()})
				continue
			}
			if strings.TrimSpace(msg.Message) == "" {
				h.writeWS(ctx, ws, wsOutbound{Type: "error", Step: step, Code: "message_required", Message: mentor.ErrEmptyPrompt.Error()})
				continue
			}
			if !h.rateLimiter.Allow(userID) {
				h.writeWS(ctx, ws, wsOutbound{Type: "error", Step: step, Code: "rate_limited", Message: "rate limit exceeded"})
				continue
			}
			turns.Add(1)
			go func() {
				defer turns.Done()
				h.wsTurn(ctx, ws, turnInput{
					UserID:    userID,
					SessionID: sessionID,
					Channel:   "chat_ws",
					Step:      step,
					Message:   msg.Message,
				})
			}()
		case "reset":
			h.sessions.Reset(userID, sessionID)
			h.log.Log(ConversationLogEvent{
				UserID:    userID,
				SessionID: sessionID,
				Channel:   "chat_ws",
				Direction: "outbound",
				EventType: "session_reset",
			})
			h.writeWS(ctx, ws, wsOutbound{Type: "reset"})
		case "ping":
			h.writeWS(ctx, ws, wsOutbound{Type: "pong"})
		default:
			h.writeWS(ctx, ws, wsOutbound{Type: "error", Code: "unknown_type", Message: "unknown message type: " + msg.Type})
		}
	}
}

func (h *Handler) wsTurn(ctx context.Context, ws *websocket.Conn, in turnInput) {
	result, err := h.runTurn(ctx, in, func(fragment string) {
		h.writeWS(ctx, ws, wsOutbound{Type: "delta", Step: in.Step, Text: fragment})
	})
	if err != nil {
		f := describeFailure(err)
		logTurnFailure(f, err, "user_id", in.UserID, "session_id", in.SessionID, "step", in.Step)
		h.writeWS(ctx, ws, wsOutbound{Type: "error", Step: in.Step, Code: f.Code, Message: f.Message})
		return
	}
	h.writeWS(ctx, ws, wsOutbound{Type: "done", Step: in.Step, Result: result})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg == nil || h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || origin == h.cfg.FrontendURL {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.FrontendURL)
	return false
}

func (h *Handler) writeWS(ctx context.Context, ws *websocket.Conn, msg wsOutbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to marshal socket message", "type", msg.Type, "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil && ctx.Err() == nil {
		slog.Debug("WebSocket write error", "type", msg.Type, "error", err)
	}
}
