package poolmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePool_SendsPayload(t *testing.T) {
	var got CreatePoolRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/pools", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","name":"swarm-1","status":"PROVISIONING","owner_id":"acme"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	pool, err := c.CreatePool(context.Background(), "secret", CreatePoolRequest{
		PoolName:       "swarm-1",
		MinimumVMs:     2,
		EnvVars:        []EnvVar{{Name: "PORT", Value: "3000"}},
		ContainerFiles: map[string]string{"Dockerfile": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", pool.ID)
	assert.Equal(t, 2, got.MinimumVMs)
	assert.Equal(t, "x", got.ContainerFiles["Dockerfile"])
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"quota exceeded"}`, "quota exceeded"},
		{"message field", `{"message":"bad repo"}`, "bad repo"},
		{"plain text", "upstream timeout", "upstream timeout"},
		{"empty", "", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil).CreatePool(context.Background(), "k", CreatePoolRequest{})
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.Equal(t, ServiceName, apiErr.Service)
		})
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewClient(srv.URL, nil).CreatePool(context.Background(), "k", CreatePoolRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}
