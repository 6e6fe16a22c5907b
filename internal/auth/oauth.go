package auth

import (
	"context"
	"fmt"

	"github.com/sakif/hive/internal/github"
)

// GitHubProvider runs the sign-in OAuth flow of the GitHub OAuth App.
// It is separate from the GitHub App install flow, which has its own client
// id and secret.
type GitHubProvider struct {
	client *github.Client
}

// NewGitHubProvider requests read:user and user:email.
// callbackURL must match the App's "Authorization callback URL" exactly.
func NewGitHubProvider(cfg github.Config) *GitHubProvider {
	if cfg.Scopes == nil {
		cfg.Scopes = []string{"read:user", "user:email"}
	}
	return &GitHubProvider{client: github.NewClient(cfg)}
}

func (p *GitHubProvider) AuthURL(state string) string {
	return p.client.AuthCodeURL(state)
}

// Exchange trades the code for a token and returns the GitHub profile it belongs to.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*github.User, error) {
	tok, err := p.client.Exchange(ctx, code, "")
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	user, err := p.client.GetUser(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("auth: fetching GitHub user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}
	return user, nil
}
