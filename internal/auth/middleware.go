package auth

import (
	"context"
	"net/http"

	"github.com/sakif/hive/internal/model"
)

// CookieName is the HttpOnly cookie carrying the session JWT.
const CookieName = "session"

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const (
	userIDKey    contextKey = "userID"
	sessionIDKey contextKey = "sessionID"
)

// SessionLookup is satisfied by repository.SessionRepository.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// RequireSession rejects requests without a live session with 401 JSON.
func RequireSession(tokens *TokenService, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := authenticate(r, tokens, sessions)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid session required"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalSession attaches the session when there is one and never blocks.
// Handlers that redirect instead of answering 401 use it and check
// UserIDFromContext themselves.
func OptionalSession(tokens *TokenService, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx, ok := authenticate(r, tokens, sessions); ok {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// WithSession returns ctx carrying the given identity, as the middleware would.
func WithSession(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// authenticate validates the cookie and confirms the session row belongs to
// the token's user and has not been deleted or expired.
func authenticate(r *http.Request, tokens *TokenService, sessions SessionLookup) (context.Context, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	claims, err := tokens.Validate(cookie.Value)
	if err != nil {
		return nil, false
	}

	session, err := sessions.GetSession(r.Context(), claims.SessionID)
	if err != nil || session.UserID != claims.UserID {
		return nil, false
	}

	return WithSession(r.Context(), claims.UserID, claims.SessionID), true
}
