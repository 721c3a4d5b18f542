// Package identity provides anonymous per-device chat identity primitives.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iteaky/carbot/internal/store"
)

const (
	ChatCookieName     = "carbot_chat_id"
	UsernameHeaderName = "X-Chat-Username"
	DefaultUsername    = "гость"
	chatCookieMaxAge   = 30 * 24 * time.Hour
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	usernameKey
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N} ._-]{1,64}$`)

// SessionIDFromContext extracts the chat session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return DefaultUsername
}

func isValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func sanitizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || !usernamePattern.MatchString(name) {
		return ""
	}
	return name
}

func deriveUsername(sessionID string) string {
	if len(sessionID) > 8 {
		return "гость-" + sessionID[:8]
	}
	return DefaultUsername
}

func usernameFromRequest(r *http.Request, sessionID string) string {
	if name := sanitizeUsername(r.Header.Get(UsernameHeaderName)); name != "" {
		return name
	}
	return deriveUsername(sessionID)
}

func setChatCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ChatCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(chatCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(chatCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateSessionID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	if c, err := r.Cookie(ChatCookieName); err == nil && isValidSessionID(c.Value) {
		setChatCookie(w, c.Value, isDev)
		return c.Value
	}

	id := uuid.NewString()
	setChatCookie(w, id, isDev)
	return id
}

// WithIdentity returns a context carrying the chat identity. Transports
// that resolve identity outside the HTTP middleware use it directly.
func WithIdentity(ctx context.Context, sessionID, username string) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, usernameKey, username)
}

// Middleware establishes the anonymous chat identity: a cookie-scoped
// session ID and a display name, both injected into the request context.
// The session row is created or refreshed on every request.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := getOrCreateSessionID(w, r, isDev)
			username := usernameFromRequest(r, sessionID)

			if _, err := repo.EnsureSession(r.Context(), sessionID, username); err != nil {
				http.Error(w, `{"error":"failed to initialize chat session"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), sessionID, username)))
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
