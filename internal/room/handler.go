package room

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/interview-room/internal/identity"
	"github.com/ashureev/interview-room/internal/interview"
	"github.com/ashureev/interview-room/internal/metrics"
	"github.com/ashureev/interview-room/internal/store"
)

// ClientFactory returns the chat client a room uses on behalf of userID.
type ClientFactory func(userID string) interview.ChatClient

// HandlerConfig configures the room WebSocket endpoint.
type HandlerConfig struct {
	Interview     interview.Config
	Language      string
	Output        interview.OutputOptions
	AllowedOrigin string
	IsDev         bool
}

// Handler upgrades browser connections into interview rooms.
type Handler struct {
	repo    store.Repository
	mgr     *Manager
	clients ClientFactory
	cfg     HandlerConfig
	metrics *metrics.Metrics
}

// NewHandler creates a room handler.
func NewHandler(repo store.Repository, mgr *Manager, clients ClientFactory, cfg HandlerConfig, m *metrics.Metrics) *Handler {
	return &Handler{repo: repo, mgr: mgr, clients: clients, cfg: cfg, metrics: m}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	slog.Info("Interview room connection request", "user_id", userID, "tab_id", tabID, "ip", identity.IPFromRequest(r))

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
	defer func() { _ = ws.CloseNow() }()

	room := newRoom(ws, Params{
		UserID:   userID,
		TabID:    tabID,
		Config:   h.cfg.Interview,
		Client:   h.clients(userID),
		Sessions: interview.NewRepoStore(h.repo, userID, sessionKey(tabID)),
		Language: h.cfg.Language,
		Output:   h.cfg.Output,
		Metrics:  h.metrics,
	})
	h.mgr.Register(room)
	defer h.mgr.Unregister(room)

	stopSeen := h.trackLastSeen(r.Context(), room)
	defer stopSeen()

	room.Serve(r.Context())
	room.Close(ReasonDisconnected)
}

// sessionKey keeps each tab's session apart; the default tab uses the plain
// key so a single-tab user resumes the same session everywhere.
func sessionKey(tabID string) string {
	if tabID == "" || tabID == identity.DefaultTabID {
		return interview.SessionKey
	}
	return interview.SessionKey + ":" + tabID
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" || origin == h.cfg.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

// trackLastSeen refreshes the user's last-seen time while the browser keeps
// sending frames.
func (h *Handler) trackLastSeen(ctx context.Context, room *Room) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		var last time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				seen := room.LastActive()
				if !seen.After(last) {
					continue
				}
				last = seen
				updateCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				if err := h.repo.UpdateLastSeen(updateCtx, room.userID, seen); err != nil {
					slog.Warn("Failed to update last seen", "error", err, "user_id", room.userID)
				}
				done()
			}
		}
	}()
	return cancel
}
