package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient serves both the OAuth and the REST endpoints from mux.
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		ClientID:     "app-client",
		ClientSecret: "app-secret",
		OAuthURL:     srv.URL,
		APIURL:       srv.URL,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =========================================================================
// EXCHANGE TESTS
// =========================================================================

func TestExchange_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "app-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "app-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "the-state", r.PostForm.Get("state"))
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token":  "ghu_x",
			"refresh_token": "ghr_y",
			"token_type":    "bearer",
		})
	})
	c := newTestClient(t, mux)

	tok, err := c.Exchange(context.Background(), "the-code", "the-state")
	require.NoError(t, err)
	assert.Equal(t, "ghu_x", tok.AccessToken)
	assert.Equal(t, "ghr_y", tok.RefreshToken)
}

func TestExchange_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-OK status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad_client"})
		}},
		{"error body", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"error": "bad_verification_code"})
		}},
		{"no access token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"token_type": "bearer"})
		}},
		{"empty access token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"access_token": "", "token_type": "bearer"})
		}},
		{"unparseable body", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{not json"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /login/oauth/access_token", tt.handler)
			c := newTestClient(t, mux)

			_, err := c.Exchange(context.Background(), "bad", "s")
			assert.ErrorIs(t, err, ErrInvalidCode)
		})
	}
}

func TestExchange_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	srv.Close()
	c := NewClient(Config{OAuthURL: srv.URL, APIURL: srv.URL})

	_, err := c.Exchange(context.Background(), "code", "state")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCode)
}

// =========================================================================
// REST TESTS
// =========================================================================

func TestGetUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghu_x", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "login": "acme", "type": "User"})
	})
	c := newTestClient(t, mux)

	u, err := c.GetUser(context.Background(), "ghu_x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "acme", u.Login)
}

func TestGetUser_StatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, mux)

	_, err := c.GetUser(context.Background(), "expired")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestListUserInstallations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/installations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"total_count": 2,
			"installations": []map[string]any{
				{"id": 11, "account": map[string]any{"login": "acme", "type": "User"}},
				{"id": 22, "account": map[string]any{"login": "acme-org", "type": "Organization"}},
			},
		})
	})
	c := newTestClient(t, mux)

	list, err := c.ListUserInstallations(context.Background(), "ghu_x")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(22), list[1].ID)
	assert.Equal(t, "Organization", list[1].Account.Type)
}

// =========================================================================
// ACCESS CLASSIFICATION TESTS
// =========================================================================

func TestClassifyPermissions(t *testing.T) {
	tests := []struct {
		name string
		in   Permissions
		want AccessStatus
	}{
		{"push", Permissions{Push: true, Pull: true}, AccessAccessible},
		{"admin without push flag", Permissions{Admin: true, Push: false}, AccessAccessible},
		{"maintain without push flag", Permissions{Maintain: true}, AccessAccessible},
		{"pull only", Permissions{Pull: true}, AccessReadOnlyBlocked},
		{"triage only", Permissions{Triage: true, Pull: true}, AccessReadOnlyBlocked},
		{"nothing", Permissions{}, AccessReadOnlyBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPermissions(tt.in))
		})
	}
}

func TestCheckRepositoryAccess(t *testing.T) {
	tests := []struct {
		name    string
		repoURL string
		status  int
		body    any
		want    AccessStatus
	}{
		{"accessible", "https://github.com/acme/app", 200, map[string]any{"permissions": map[string]bool{"push": true}}, AccessAccessible},
		{"admin implies push", "https://github.com/acme/app.git", 200, map[string]any{"permissions": map[string]bool{"admin": true, "push": false}}, AccessAccessible},
		{"read only", "git@github.com:acme/app.git", 200, map[string]any{"permissions": map[string]bool{"pull": true}}, AccessReadOnlyBlocked},
		{"not found", "https://github.com/acme/app", 404, nil, AccessNotFound},
		{"forbidden", "https://github.com/acme/app", 403, nil, AccessForbidden},
		{"server error", "https://github.com/acme/app", 500, nil, AccessHTTPError(500)},
		{"no url", "", 0, nil, AccessNoRepositoryURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			c := newTestClient(t, mux)

			got := c.CheckRepositoryAccess(context.Background(), "ghu_x", tt.repoURL)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckRepositoryAccess_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	srv.Close()
	c := NewClient(Config{APIURL: srv.URL})

	got := c.CheckRepositoryAccess(context.Background(), "ghu_x", "https://github.com/acme/app")
	assert.Equal(t, AccessCheckFailed, got)
}

func TestAccessHTTPError(t *testing.T) {
	assert.Equal(t, AccessStatus("http_error_502"), AccessHTTPError(502))
}

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		in          string
		owner, repo string
		wantErr     bool
	}{
		{in: "https://github.com/acme/app", owner: "acme", repo: "app"},
		{in: "https://github.com/acme/app.git", owner: "acme", repo: "app"},
		{in: "https://github.com/acme/app/tree/main", owner: "acme", repo: "app"},
		{in: "github.com/acme/app", owner: "acme", repo: "app"},
		{in: "git@github.com:acme/app.git", owner: "acme", repo: "app"},
		{in: "https://github.com/acme", wantErr: true},
		{in: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, err := ParseRepositoryURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}
