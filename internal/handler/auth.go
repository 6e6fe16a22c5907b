package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/hive/internal/auth"
	"github.com/sakif/hive/internal/github"
	"github.com/sakif/hive/internal/service"
)

const stateCookieName = "oauth_state"

// SignInProvider is the GitHub OAuth sign-in flow. *auth.GitHubProvider
// satisfies it.
type SignInProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*github.User, error)
}

// AuthHandler manages GitHub sign-in and the session cookie.
//
//   - HandleGitHubLogin    → redirect the browser to GitHub
//   - HandleGitHubCallback → exchange the code, open a session, set the cookie
//   - HandleLogout         → delete the session row and the cookie
//   - HandleMe             → the signed-in user's profile
//   - HandleAuthPage       → JSON hint for where to sign in
type AuthHandler struct {
	github       SignInProvider
	auth         *service.AuthService
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(github SignInProvider, authService *service.AuthService, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		github:       github,
		auth:         authService,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// A random state goes into a short-lived HttpOnly cookie; the callback only
// proceeds when GitHub echoes the same value back.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes sign-in.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Redirect(w, r, "/auth?error=invalid_state", http.StatusSeeOther)
		return
	}

	// single use
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/auth?error=access_denied", http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Redirect(w, r, "/auth?error=missing_code", http.StatusSeeOther)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/auth?error=authentication_failed", http.StatusSeeOther)
		return
	}

	result, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/auth?error=authentication_failed", http.StatusSeeOther)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(auth.SessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout deletes the session row, which revokes the JWT at once, and
// clears the cookie.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := auth.SessionIDFromContext(r.Context()); ok {
		if err := h.auth.Logout(r.Context(), sessionID); err != nil {
			h.logger.Error("logout failed", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleAuthPage is where unauthenticated browsers land.
//
// HTTP: GET /auth
func (h *AuthHandler) HandleAuthPage(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"message":  "sign in with GitHub to continue",
		"loginUrl": "/auth/github/login",
	}
	if e := r.URL.Query().Get("error"); e != "" {
		body["error"] = e
	}
	writeJSON(w, http.StatusOK, body)
}
