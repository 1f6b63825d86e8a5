// Package identity attributes requests to a user, either through an
// anonymous per-device cookie or a header set by a trusted upstream proxy.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/store"
)

const (
	AnonCookieName   = "interview_anon_id"
	TabHeaderName    = "X-Interview-Tab-ID"
	DefaultTabID     = "default"
	ModeAnonymous    = "anonymous"
	ModeHeader       = "header"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	tabIDKey
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

// Options configures the identity middleware.
type Options struct {
	Mode   string
	Header string
	IsDev  bool
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabID
}

// WithUser returns a context carrying userID. It is used by tests and by
// non-HTTP entry points.
func WithUser(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, deriveUsername(userID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !idPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func deriveUsername(userID string) string {
	if strings.HasPrefix(userID, "anon_") && len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	if userID == "" {
		return "anon-user"
	}
	return userID
}

func ensureUser(ctx context.Context, repo store.Repository, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if user != nil {
		if err := repo.UpdateLastSeen(ctx, userID, now); err != nil {
			slog.Debug("failed to update last seen", "user_id", userID, "error", err)
		}
		return nil
	}

	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   deriveUsername(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// userFromHeader reads a user ID asserted by the upstream proxy. Invalid
// values are treated as absent.
func userFromHeader(r *http.Request, header string) string {
	id := strings.TrimSpace(r.Header.Get(header))
	if !idPattern.MatchString(id) {
		return ""
	}
	return id
}

func tabIDFromRequest(r *http.Request) string {
	id := r.Header.Get(TabHeaderName)
	if id == "" {
		id = r.URL.Query().Get("tab")
	}
	return sanitizeTabID(id)
}

// Middleware injects the user identity and the per-tab ID. In header mode a
// request without a valid header proceeds without a user, and handlers
// requiring one respond 401.
func Middleware(repo store.Repository, opts Options) func(http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = "X-User-ID"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if opts.Mode == ModeHeader {
				userID = userFromHeader(r, opts.Header)
			} else {
				id, err := getOrCreateAnonID(w, r, opts.IsDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				userID = id
			}

			ctx := context.WithValue(r.Context(), tabIDKey, tabIDFromRequest(r))
			if userID != "" {
				if err := ensureUser(r.Context(), repo, userID); err != nil {
					slog.Error("failed to initialize user", "user_id", userID, "error", err)
					http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
					return
				}
				ctx = context.WithValue(ctx, userIDKey, userID)
				ctx = context.WithValue(ctx, usernameKey, deriveUsername(userID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
