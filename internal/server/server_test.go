package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/hive/internal/config"
	"github.com/sakif/hive/internal/poolmanager"
	"github.com/sakif/hive/internal/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Environment:        config.EnvDevelopment,
		Port:               8080,
		BaseURL:            "http://localhost:8080",
		DBPath:             ":memory:",
		SessionSecret:      strings.Repeat("s", 32),
		GitHubAppSlug:      "hive-app",
		GitHubURL:          "https://github.com",
		GitHubAPIURL:       "https://api.github.com",
		EncryptionKeyID:    "k1",
		EncryptionKey:      strings.Repeat("ab", 32),
		PoolManagerURL:     "http://localhost:8090",
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}

	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{
		"/api/me",
		"/api/workspaces",
		"/api/github/app/install?workspaceSlug=acme",
		"/api/github/app/status?workspaceSlug=acme",
	} {
		rr := serve(s, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, target)
	}
}

func TestAppCallbackRedirectsAnonymousToAuth(t *testing.T) {
	s := newTestServer(t)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/github/app/callback?state=a&code=b", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Equal(t, "/auth", rr.Header().Get("Location"))
}

func TestAuthPage(t *testing.T) {
	s := newTestServer(t)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/auth", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/auth/github/login")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/workspaces", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rr := serve(s, req)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestWriteTimeoutCoversPoolCreation(t *testing.T) {
	assert.Greater(t, writeTimeout, service.PoolCreateBudget)
	assert.GreaterOrEqual(t, service.PoolCreateBudget, service.PoolCreateAttempts*poolmanager.DefaultTimeout)
}
