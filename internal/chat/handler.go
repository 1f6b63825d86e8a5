package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/interview-room/internal/api"
	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/identity"
	"github.com/ashureev/interview-room/internal/metrics"
	"github.com/ashureev/interview-room/internal/shared"
)

// defaultMaxRequestBodySize is the maximum accepted request body (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HistoryResponse is the payload of the history endpoint.
type HistoryResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []domain.Message `json:"messages"`
	Count     int              `json:"count"`
}

// Handler serves the chat API.
type Handler struct {
	gw          *Gateway
	rateLimiter *RateLimiter
	metrics     *metrics.Metrics
}

// NewHandler creates a chat handler. A nil limiter disables rate limiting.
func NewHandler(gw *Gateway, limiter *RateLimiter, m *metrics.Metrics) *Handler {
	return &Handler{gw: gw, rateLimiter: limiter, metrics: m}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/message", h.HandleMessage)
		r.Get("/history/{sessionId}", h.HandleHistory)
	})
}

// HandleMessage handles POST /api/chat/message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Failure(w, shared.Unauthenticated())
		return
	}

	// Rate-limit by user only so clients cannot bypass throttling by
	// rotating session IDs.
	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		h.metrics.RecordRateLimited()
		api.Failure(w, shared.NewError(shared.KindRateLimited, "rate limit exceeded", nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Failure(w, shared.Validation("request body too large"))
			return
		}
		api.Failure(w, shared.Validation("invalid request body"))
		return
	}

	slog.Info("chat request",
		"user_id", userID,
		"session_id", req.SessionID,
		"history_len", len(req.History),
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	reply, err := h.gw.Send(r.Context(), userID, req)
	if err != nil {
		api.Failure(w, err)
		return
	}
	api.Success(w, http.StatusOK, reply)
}

// HandleHistory handles GET /api/chat/history/{sessionId}.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Failure(w, shared.Unauthenticated())
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	msgs, err := h.gw.History(r.Context(), userID, sessionID)
	if err != nil {
		api.Failure(w, err)
		return
	}
	api.Success(w, http.StatusOK, HistoryResponse{
		SessionID: sessionID,
		Messages:  msgs,
		Count:     len(msgs),
	})
}
