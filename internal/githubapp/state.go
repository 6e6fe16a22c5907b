package githubapp

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StateTTL is how long an install state stays acceptable after it was issued.
const StateTTL = time.Hour

// ErrInvalidState is returned for state tokens that are not base64 JSON or
// lack a workspace slug or timestamp.
var ErrInvalidState = errors.New("githubapp: invalid state")

// State is the CSRF payload round-tripped through GitHub. It is not signed:
// a token is only trusted after it matches the copy held for the session.
type State struct {
	WorkspaceSlug string `json:"workspaceSlug"`
	RepositoryURL string `json:"repositoryUrl,omitempty"`
	Timestamp     int64  `json:"timestamp"` // unix milliseconds
}

// NewState stamps a state for slug at now.
func NewState(slug, repositoryURL string, now time.Time) State {
	return State{
		WorkspaceSlug: slug,
		RepositoryURL: repositoryURL,
		Timestamp:     now.UnixMilli(),
	}
}

// EncodeState returns the standard base64 encoding of the JSON payload.
func EncodeState(s State) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("githubapp: encoding state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeState reverses EncodeState.
func DecodeState(token string) (State, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return State{}, fmt.Errorf("%w: not base64", ErrInvalidState)
	}

	var payload struct {
		WorkspaceSlug string `json:"workspaceSlug"`
		RepositoryURL string `json:"repositoryUrl"`
		Timestamp     *int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return State{}, fmt.Errorf("%w: not JSON", ErrInvalidState)
	}
	if payload.WorkspaceSlug == "" || payload.Timestamp == nil {
		return State{}, fmt.Errorf("%w: missing workspaceSlug or timestamp", ErrInvalidState)
	}

	return State{
		WorkspaceSlug: payload.WorkspaceSlug,
		RepositoryURL: payload.RepositoryURL,
		Timestamp:     *payload.Timestamp,
	}, nil
}

func (s State) IssuedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Expired reports whether more than StateTTL has passed since the state was
// issued. A state exactly StateTTL old is still accepted.
func (s State) Expired(now time.Time) bool {
	return now.Sub(s.IssuedAt()) > StateTTL
}
