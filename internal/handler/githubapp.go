package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/hive/internal/auth"
	"github.com/sakif/hive/internal/githubapp"
)

// GitHubAppHandler exposes the GitHub App install flow.
type GitHubAppHandler struct {
	app    *githubapp.Service
	logger *slog.Logger
}

func NewGitHubAppHandler(app *githubapp.Service, logger *slog.Logger) *GitHubAppHandler {
	return &GitHubAppHandler{app: app, logger: logger}
}

// HandleCallback is where GitHub sends the browser after install or authorization.
//
// HTTP: GET /api/github/app/callback?state=..&code=..&installation_id=..&setup_action=..
//
// It always answers 307. Failures become an error code in the redirect,
// never a JSON body, since the client is a browser mid-navigation.
func (h *GitHubAppHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, _ := auth.UserIDFromContext(r.Context())
	sessionID, _ := auth.SessionIDFromContext(r.Context())

	location := h.app.HandleCallback(r.Context(), githubapp.CallbackParams{
		SessionID:      sessionID,
		UserID:         userID,
		State:          q.Get("state"),
		Code:           q.Get("code"),
		InstallationID: q.Get("installation_id"),
		SetupAction:    q.Get("setup_action"),
	})

	http.Redirect(w, r, location, http.StatusTemporaryRedirect)
}

// HandleInstall starts the flow for a workspace.
//
// HTTP: GET /api/github/app/install?workspaceSlug=acme&repositoryUrl=...
func (h *GitHubAppHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID, _ := auth.SessionIDFromContext(r.Context())

	q := r.URL.Query()
	link, err := h.app.StartInstall(r.Context(), sessionID, userID,
		strings.TrimSpace(q.Get("workspaceSlug")),
		strings.TrimSpace(q.Get("repositoryUrl")),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": link})
}

// HandleStatus reports whether the caller holds credentials for the
// workspace's GitHub account.
//
// HTTP: GET /api/github/app/status?workspaceSlug=acme
func (h *GitHubAppHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.app.Status(r.Context(), userID, strings.TrimSpace(r.URL.Query().Get("workspaceSlug")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
