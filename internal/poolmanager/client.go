// Package poolmanager is the HTTP client for the Pool Manager service, which
// provisions pools of pre-warmed VMs for a repository.
package poolmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServiceName is reported in APIError.Service.
const ServiceName = "poolManager"

// APIError is a failed Pool Manager call. Status is the HTTP status to
// surface to callers; network failures use 502.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Service string `json:"service"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Service, e.Status, e.Message)
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CreatePoolRequest struct {
	PoolName       string            `json:"pool_name"`
	MinimumVMs     int               `json:"minimum_vms"`
	RepoName       string            `json:"repo_name"`
	BranchName     string            `json:"branch_name"`
	GitHubPAT      string            `json:"github_pat"`
	GitHubUsername string            `json:"github_username"`
	EnvVars        []EnvVar          `json:"env_vars"`
	ContainerFiles map[string]string `json:"container_files"`
}

type Pool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	OwnerID     string    `json:"owner_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// DefaultTimeout bounds a single request made by a client built with a nil
// httpClient. Callers that retry size their overall deadline from it.
const DefaultTimeout = 7 * time.Second

// NewClient returns a client for baseURL. A nil httpClient gets DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// CreatePool issues a single POST /pools. Retrying is the caller's policy.
func (c *Client) CreatePool(ctx context.Context, apiKey string, req CreatePoolRequest) (*Pool, error) {
	var pool Pool
	if err := c.do(ctx, apiKey, http.MethodPost, "/pools", req, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Client) GetPool(ctx context.Context, apiKey, name string) (*Pool, error) {
	var pool Pool
	if err := c.do(ctx, apiKey, http.MethodGet, "/pools/"+name, nil, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Client) DeletePool(ctx context.Context, apiKey, name string) error {
	return c.do(ctx, apiKey, http.MethodDelete, "/pools/"+name, nil, nil)
}

func (c *Client) do(ctx context.Context, apiKey, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("poolmanager: encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("poolmanager: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Status: http.StatusBadGateway, Message: "pool manager unreachable", Service: ServiceName}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp), Service: ServiceName}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("poolmanager: decoding %s response: %w", path, err)
	}
	return nil
}

// errorMessage pulls "error" or "message" out of a JSON error body, falling
// back to the status text.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 200 {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
