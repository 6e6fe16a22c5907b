package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/hive/internal/auth"
	"github.com/sakif/hive/internal/github"
	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/repository"
)

// AuthService handles sign-in with GitHub and the session lifecycle.
//
//	AuthHandler (HTTP) → AuthService → UserRepository, SessionRepository
//	                                 ↘ TokenService (JWT)
//
// It never touches cookies or requests; that is the handler's job.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *auth.TokenService
	logger   *slog.Logger

	now func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}
}

// AuthResult bundles what the handler needs to set the session cookie.
type AuthResult struct {
	User    *model.User
	Session *model.Session
	Token   string
}

// LoginOrRegisterGitHub upserts the user keyed on their GitHub ID, opens a
// new session and signs a JWT naming both.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *github.User) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user := &model.User{
		GitHubID:  ghUser.ID,
		Login:     ghUser.Login,
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	session := &model.Session{
		UserID:    user.ID,
		ExpiresAt: s.now().Add(auth.SessionLifetime),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("service/auth: creating session for user %s: %w", user.ID, err)
	}

	token, err := s.tokens.Generate(user.ID, session.ID, auth.SessionLifetime)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user signed in via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
		slog.String("sessionID", session.ID),
	)

	return &AuthResult{User: user, Session: session, Token: token}, nil
}

// Logout deletes the session row, which invalidates its JWT immediately.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("service/auth: deleting session %s: %w", sessionID, err)
	}
	s.logger.Info("session closed", slog.String("sessionID", sessionID))
	return nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}
