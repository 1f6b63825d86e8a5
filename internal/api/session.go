package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/interview-room/internal/config"
	"github.com/ashureev/interview-room/internal/identity"
	"github.com/ashureev/interview-room/internal/store"
)

// ClientConfig is the interview configuration a browser client needs.
type ClientConfig struct {
	OpeningLine       string   `json:"openingLine"`
	AutoSubmitDelayMs int64    `json:"autoSubmitDelayMs"`
	AutoListen        bool     `json:"autoListen"`
	ResumeListening   bool     `json:"resumeListening"`
	Language          string   `json:"language"`
	PreferredVoices   []string `json:"preferredVoices"`
	Rate              float64  `json:"rate"`
	Pitch             float64  `json:"pitch"`
	ModelConfigured   bool     `json:"modelConfigured"`
}

// SessionHandler serves identity and client configuration endpoints.
type SessionHandler struct {
	repo store.Repository
	cfg  *config.Config
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(repo store.Repository, cfg *config.Config) *SessionHandler {
	return &SessionHandler{repo: repo, cfg: cfg}
}

// RegisterRoutes registers the session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
	})
}

// GetMe returns the current user's information.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
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

	username := user.Username
	if username == "" {
		username = identity.UsernameFromContext(r.Context())
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":      user.UserID,
		"username":     username,
		"last_seen":    user.LastSeenAt.UTC().Format(time.RFC3339),
		"idle_seconds": int64(user.IdleFor(time.Now()).Seconds()),
	})
}

// GetConfig returns the interview configuration for the frontend.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	iv := h.cfg.Interview
	JSON(w, http.StatusOK, ClientConfig{
		OpeningLine:       iv.OpeningLine,
		AutoSubmitDelayMs: iv.AutoSubmitDelay.Milliseconds(),
		AutoListen:        iv.AutoListen,
		ResumeListening:   iv.ResumeListening,
		Language:          iv.Voice.Language,
		PreferredVoices:   iv.Voice.Preferred,
		Rate:              iv.Voice.Rate,
		Pitch:             iv.Voice.Pitch,
		ModelConfigured:   h.cfg.ModelConfigured(),
	})
}
