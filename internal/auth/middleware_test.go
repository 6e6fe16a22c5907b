package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/hive/internal/model"
)

type fakeSessions map[string]*model.Session

func (f fakeSessions) GetSession(_ context.Context, id string) (*model.Session, error) {
	s, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	sessionID, _ := SessionIDFromContext(r.Context())
	_, _ = w.Write([]byte(userID + "/" + sessionID))
}

func requestWithCookie(value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if value != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: value})
	}
	return req
}

func TestRequireSession(t *testing.T) {
	ts := newTestTokenService(t)
	sessions := fakeSessions{"sess-1": {ID: "sess-1", UserID: "user-1"}}

	valid, err := ts.Generate("user-1", "sess-1", time.Hour)
	require.NoError(t, err)
	revoked, _ := ts.Generate("user-1", "sess-gone", time.Hour)
	wrongUser, _ := ts.Generate("user-2", "sess-1", time.Hour)

	tests := []struct {
		name     string
		cookie   string
		wantCode int
		wantBody string
	}{
		{"valid session", valid, http.StatusOK, "user-1/sess-1"},
		{"no cookie", "", http.StatusUnauthorized, ""},
		{"garbage cookie", "garbage", http.StatusUnauthorized, ""},
		{"deleted session", revoked, http.StatusUnauthorized, ""},
		{"session of another user", wrongUser, http.StatusUnauthorized, ""},
	}

	h := RequireSession(ts, sessions)(http.HandlerFunc(echoIdentity))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, requestWithCookie(tt.cookie))

			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rr.Body.String())
			} else {
				assert.Contains(t, rr.Body.String(), `"unauthorized"`)
			}
		})
	}
}

func TestOptionalSession(t *testing.T) {
	ts := newTestTokenService(t)
	sessions := fakeSessions{"sess-1": {ID: "sess-1", UserID: "user-1"}}
	valid, _ := ts.Generate("user-1", "sess-1", time.Hour)

	h := OptionalSession(ts, sessions)(http.HandlerFunc(echoIdentity))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestWithCookie(""))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, requestWithCookie(valid))
	assert.Equal(t, "user-1/sess-1", rr.Body.String())
}
