// Package github is a small client for the parts of the GitHub OAuth and REST
// APIs the server needs: the code-for-token exchange, the authenticated user,
// the user's App installations and a repository's permissions.
//
// Base URLs are configurable so tests can point the client at httptest servers.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	DefaultOAuthURL = "https://github.com"
	DefaultAPIURL   = "https://api.github.com"
)

// ErrInvalidCode means GitHub rejected the authorization code or answered
// without an access token.
var ErrInvalidCode = errors.New("github: authorization code rejected")

// StatusError is a non-2xx answer from the REST API.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github: %s returned status %d", e.Endpoint, e.StatusCode)
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	OAuthURL     string // defaults to DefaultOAuthURL
	APIURL       string // defaults to DefaultAPIURL

	// HTTPClient is used for every outbound call when set.
	HTTPClient *http.Client
}

type Client struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	oauthURL := strings.TrimRight(cfg.OAuthURL, "/")
	if oauthURL == "" {
		oauthURL = DefaultOAuthURL
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  oauthURL + "/login/oauth/authorize",
				TokenURL: oauthURL + "/login/oauth/access_token",
				// client_id and client_secret travel in the body, as GitHub documents.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:     apiURL,
		httpClient: cfg.HTTPClient,
	}
}

// AuthCodeURL is the authorize URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type Token struct {
	AccessToken  string
	RefreshToken string
}

// Exchange trades an authorization code for tokens. The state is echoed to
// the token endpoint.
//
// Errors are told apart by where they happened, not by their text. A request
// that never got a response surfaces as *url.Error and is a transport
// failure. Everything else means GitHub answered and the answer was no usable
// token (an error status, an error body, or a 2xx without access_token), so it
// maps to ErrInvalidCode.
func (c *Client) Exchange(ctx context.Context, code, state string) (*Token, error) {
	opts := []oauth2.AuthCodeOption{}
	if state != "" {
		opts = append(opts, oauth2.SetAuthURLParam("state", state))
	}

	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCode, re.ErrorCode)
		}
		var ue *url.Error
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("github: exchanging code: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if tok.AccessToken == "" {
		return nil, ErrInvalidCode
	}

	return &Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Type      string `json:"type"` // "User" or "Organization"
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// GetUser fetches the user the access token belongs to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.get(ctx, accessToken, "/user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

type Account struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Type      string `json:"type"`
	AvatarURL string `json:"avatar_url"`
}

type Installation struct {
	ID      int64   `json:"id"`
	Account Account `json:"account"`
}

// ListUserInstallations lists the App installations visible to the token.
func (c *Client) ListUserInstallations(ctx context.Context, accessToken string) ([]Installation, error) {
	var body struct {
		Installations []Installation `json:"installations"`
	}
	if err := c.get(ctx, accessToken, "/user/installations", &body); err != nil {
		return nil, err
	}
	return body.Installations, nil
}

type Permissions struct {
	Admin    bool `json:"admin"`
	Maintain bool `json:"maintain"`
	Push     bool `json:"push"`
	Triage   bool `json:"triage"`
	Pull     bool `json:"pull"`
}

type Repository struct {
	FullName      string      `json:"full_name"`
	DefaultBranch string      `json:"default_branch"`
	Private       bool        `json:"private"`
	Permissions   Permissions `json:"permissions"`
}

func (c *Client) GetRepository(ctx context.Context, accessToken, owner, repo string) (*Repository, error) {
	var r Repository
	if err := c.get(ctx, accessToken, "/repos/"+owner+"/"+repo, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// get issues an authenticated GET against the REST API and decodes the body into out.
func (c *Client) get(ctx context.Context, accessToken, path string, out any) error {
	ctx = c.withHTTPClient(ctx)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("github: building request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github: calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}
