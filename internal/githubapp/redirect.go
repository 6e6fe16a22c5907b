package githubapp

import (
	"net/url"

	"github.com/sakif/hive/internal/github"
)

// Error codes carried in the error= query parameter of callback redirects.
const (
	CodeMissingState        = "missing_state"
	CodeMissingCode         = "missing_code"
	CodeInvalidState        = "invalid_state"
	CodeStateExpired        = "state_expired"
	CodeInvalidCode         = "invalid_code"
	CodeUserFetchFailed     = "github_user_fetch_failed"
	CodeNoInstallationFound = "no_installation_found"
	CodeCallbackError       = "github_app_callback_error"
)

// AuthRedirect is where unauthenticated callers are sent.
const AuthRedirect = "/auth"

func workspacePath(slug string) string {
	return "/w/" + url.PathEscape(slug)
}

// errorRedirect targets the workspace when it is known, the root otherwise.
// Only the code is carried; tokens, ids, code and state never are.
func errorRedirect(slug, code string) string {
	q := url.Values{"error": {code}}.Encode()
	if slug == "" {
		return "/?" + q
	}
	return workspacePath(slug) + "?" + q
}

func successRedirect(slug, setupAction string, access github.AccessStatus) string {
	q := url.Values{}
	if setupAction != "" {
		q.Set("github_setup_action", setupAction)
	}
	if access != "" {
		q.Set("repository_access", string(access))
	}
	if len(q) == 0 {
		return workspacePath(slug)
	}
	return workspacePath(slug) + "?" + q.Encode()
}
