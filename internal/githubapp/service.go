// Package githubapp binds workspaces to GitHub App installations.
//
// The install flow has two halves. StartInstall issues a state token, keeps
// a copy for the caller's session and returns the GitHub URL to visit.
// HandleCallback runs when GitHub sends the browser back: it validates the
// state against the stored copy, exchanges the code, resolves the owning
// account, stores encrypted credentials, links the workspace and returns the
// URL to redirect to. Every failure becomes a redirect with an error code.
package githubapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/sakif/hive/internal/apperror"
	"github.com/sakif/hive/internal/encryption"
	"github.com/sakif/hive/internal/github"
	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/repository"
)

// TokenLifetime is the expiry recorded for user tokens that come with a
// refresh token.
const TokenLifetime = 8 * time.Hour

// Setup actions GitHub appends to the callback URL.
const (
	SetupInstall   = "install"
	SetupUpdate    = "update"
	SetupUninstall = "uninstall"
)

// Flow types returned by StartInstall.
const (
	FlowInstallation      = "installation"
	FlowUserAuthorization = "user_authorization"
)

// GitHubAPI is the subset of *github.Client the flow needs.
type GitHubAPI interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code, state string) (*github.Token, error)
	GetUser(ctx context.Context, accessToken string) (*github.User, error)
	ListUserInstallations(ctx context.Context, accessToken string) ([]github.Installation, error)
	CheckRepositoryAccess(ctx context.Context, accessToken, repoURL string) github.AccessStatus
}

type Config struct {
	AppSlug   string // the App's URL name, github.com/apps/<slug>
	GitHubURL string // defaults to github.DefaultOAuthURL
}

type Service struct {
	gh         GitHubAPI
	states     StateStore
	workspaces repository.WorkspaceRepository
	orgs       repository.SourceControlRepository
	enc        *encryption.Service
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(
	cfg Config,
	gh GitHubAPI,
	states StateStore,
	workspaces repository.WorkspaceRepository,
	orgs repository.SourceControlRepository,
	enc *encryption.Service,
	logger *slog.Logger,
) *Service {
	if cfg.GitHubURL == "" {
		cfg.GitHubURL = github.DefaultOAuthURL
	}
	return &Service{
		gh:         gh,
		states:     states,
		workspaces: workspaces,
		orgs:       orgs,
		enc:        enc,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// CallbackParams is everything HandleCallback reads from the request.
type CallbackParams struct {
	SessionID      string
	UserID         string
	State          string
	Code           string
	InstallationID string
	SetupAction    string
}

// resolvedAccount is the owning account chosen for the workspace.
type resolvedAccount struct {
	org          *model.SourceControlOrg // set when reusing a stored account
	login        string
	accountType  string
	avatarURL    string
	installation int64
}

// HandleCallback runs the callback and returns the redirect location.
func (s *Service) HandleCallback(ctx context.Context, p CallbackParams) string {
	if p.SessionID == "" || p.UserID == "" {
		return AuthRedirect
	}
	if p.State == "" {
		return errorRedirect("", CodeMissingState)
	}
	if p.Code == "" {
		return errorRedirect("", CodeMissingCode)
	}

	st, err := DecodeState(p.State)
	if err != nil {
		s.logger.Warn("github app callback: undecodable state", slog.String("userID", p.UserID))
		return errorRedirect("", CodeInvalidState)
	}

	// Matching and clearing are one step, so the state is spent from here
	// on whatever happens next, and a replay racing this request loses.
	taken, err := s.states.Take(ctx, p.SessionID, p.State)
	if err != nil {
		s.logger.Error("github app callback: taking session state", slog.String("error", err.Error()))
		return errorRedirect("", CodeCallbackError)
	}
	if !taken {
		s.logger.Warn("github app callback: state mismatch", slog.String("userID", p.UserID))
		return errorRedirect("", CodeInvalidState)
	}

	slug := st.WorkspaceSlug
	if st.Expired(s.now()) {
		return errorRedirect(slug, CodeStateExpired)
	}

	ws, err := s.workspaces.GetWorkspaceBySlug(ctx, slug)
	if err != nil {
		s.logger.Warn("github app callback: workspace lookup failed",
			slog.String("slug", slug), slog.String("error", err.Error()))
		return errorRedirect("", CodeCallbackError)
	}
	if ws.OwnerID != p.UserID {
		s.logger.Warn("github app callback: caller does not own workspace",
			slog.String("slug", slug), slog.String("userID", p.UserID))
		return errorRedirect("", CodeCallbackError)
	}

	token, err := s.gh.Exchange(ctx, p.Code, p.State)
	if err != nil {
		if errors.Is(err, github.ErrInvalidCode) {
			return errorRedirect(slug, CodeInvalidCode)
		}
		s.logger.Error("github app callback: token exchange failed", slog.String("error", err.Error()))
		return errorRedirect(slug, CodeCallbackError)
	}

	ghUser, err := s.gh.GetUser(ctx, token.AccessToken)
	if err != nil {
		var se *github.StatusError
		if errors.As(err, &se) {
			return errorRedirect(slug, CodeUserFetchFailed)
		}
		s.logger.Error("github app callback: user fetch failed", slog.String("error", err.Error()))
		return errorRedirect(slug, CodeCallbackError)
	}

	if p.SetupAction == SetupUninstall {
		if err := s.workspaces.SetWorkspaceSourceControlOrg(ctx, ws.ID, nil); err != nil {
			s.logger.Error("github app callback: unlinking workspace", slog.String("error", err.Error()))
			return errorRedirect(slug, CodeCallbackError)
		}
		s.logger.Info("workspace unlinked from GitHub App", slog.String("slug", slug))
		return successRedirect(slug, SetupUninstall, "")
	}

	account, code := s.resolveAccount(ctx, p, ws, ghUser, token.AccessToken)
	if code != "" {
		return errorRedirect(slug, code)
	}

	org, err := s.upsertOrg(ctx, account)
	if err != nil {
		s.logger.Error("github app callback: saving owning account", slog.String("error", err.Error()))
		return errorRedirect(slug, CodeCallbackError)
	}

	if err := s.saveToken(ctx, p.UserID, org.ID, token); err != nil {
		s.logger.Error("github app callback: saving credentials", slog.String("error", err.Error()))
		return errorRedirect(slug, CodeCallbackError)
	}

	if err := s.workspaces.SetWorkspaceSourceControlOrg(ctx, ws.ID, &org.ID); err != nil {
		s.logger.Error("github app callback: linking workspace", slog.String("error", err.Error()))
		return errorRedirect(slug, CodeCallbackError)
	}

	var access github.AccessStatus
	repoURL := st.RepositoryURL
	if repoURL == "" {
		repoURL = ws.RepositoryURL
	}
	switch {
	case repoURL != "":
		access = s.gh.CheckRepositoryAccess(ctx, token.AccessToken, repoURL)
	case p.InstallationID != "":
		access = github.AccessNoRepositoryURL
	}

	s.logger.Info("workspace linked to GitHub App",
		slog.String("slug", slug),
		slog.String("account", org.GitHubLogin),
		slog.String("repositoryAccess", string(access)),
	)
	return successRedirect(slug, p.SetupAction, access)
}

// resolveAccount picks the owning account. It returns an error code instead
// of an account when the callback must stop.
func (s *Service) resolveAccount(
	ctx context.Context,
	p CallbackParams,
	ws *model.Workspace,
	ghUser *github.User,
	accessToken string,
) (*resolvedAccount, string) {
	if p.InstallationID == "" {
		// OAuth-only: reuse the account the workspace is already linked to.
		if ws.SourceControlOrgID == nil {
			return nil, CodeNoInstallationFound
		}
		org, err := s.orgs.GetOrgByID(ctx, *ws.SourceControlOrgID)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, CodeNoInstallationFound
		}
		if err != nil {
			s.logger.Error("github app callback: loading linked account", slog.String("error", err.Error()))
			return nil, CodeCallbackError
		}
		return &resolvedAccount{org: org, login: org.GitHubLogin}, ""
	}

	requested, _ := strconv.ParseInt(p.InstallationID, 10, 64)

	installations, err := s.gh.ListUserInstallations(ctx, accessToken)
	if err != nil {
		var se *github.StatusError
		if errors.As(err, &se) {
			return nil, CodeNoInstallationFound
		}
		s.logger.Error("github app callback: listing installations", slog.String("error", err.Error()))
		return nil, CodeCallbackError
	}

	match := findInstallation(installations, requested, ghUser.Login)
	if match == nil {
		return nil, CodeNoInstallationFound
	}

	return &resolvedAccount{
		login:        match.Account.Login,
		accountType:  match.Account.Type,
		avatarURL:    match.Account.AvatarURL,
		installation: match.ID,
	}, ""
}

// findInstallation prefers an id match and falls back to the user's own account.
func findInstallation(list []github.Installation, id int64, login string) *github.Installation {
	if id != 0 {
		for i := range list {
			if list[i].ID == id {
				return &list[i]
			}
		}
	}
	for i := range list {
		if list[i].Account.Login == login {
			return &list[i]
		}
	}
	return nil
}

// upsertOrg finds the account by login, creating it or refreshing its
// installation id as needed.
func (s *Service) upsertOrg(ctx context.Context, a *resolvedAccount) (*model.SourceControlOrg, error) {
	if a.org != nil {
		return a.org, nil
	}

	org, err := s.orgs.GetOrgByLogin(ctx, a.login)
	switch {
	case err == nil:
		if org.GitHubInstallationID != a.installation {
			if err := s.orgs.UpdateOrgInstallationID(ctx, org.ID, a.installation); err != nil {
				return nil, err
			}
			org.GitHubInstallationID = a.installation
		}
		return org, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}

	org = &model.SourceControlOrg{
		GitHubLogin:          a.login,
		GitHubInstallationID: a.installation,
		Type:                 model.OrgTypeFromGitHub(a.accountType),
		Name:                 a.login + " Organization",
		AvatarURL:            a.avatarURL,
	}
	if err := s.orgs.CreateOrg(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

func (s *Service) saveToken(ctx context.Context, userID, orgID string, token *github.Token) error {
	access, err := s.enc.Encrypt(encryption.FieldSourceControlToken, token.AccessToken)
	if err != nil {
		return err
	}

	record := &model.SourceControlToken{
		UserID:             userID,
		SourceControlOrgID: orgID,
		Token:              access,
	}
	if token.RefreshToken != "" {
		refresh, err := s.enc.Encrypt(encryption.FieldSourceControlRefreshToken, token.RefreshToken)
		if err != nil {
			return err
		}
		expires := s.now().Add(TokenLifetime)
		record.RefreshToken = &refresh
		record.ExpiresAt = &expires
	}

	return s.orgs.UpsertToken(ctx, record)
}

// InstallLink is returned by StartInstall.
type InstallLink struct {
	Link     string `json:"link"`
	State    string `json:"state"`
	FlowType string `json:"flowType"`
}

// StartInstall issues a fresh state for the session and picks the flow: plain
// user authorization when the workspace's account already has the App
// installed, the App installation page otherwise.
func (s *Service) StartInstall(ctx context.Context, sessionID, userID, slug, repositoryURL string) (*InstallLink, error) {
	if slug == "" {
		return nil, apperror.ValidationFailed("workspaceSlug", "workspaceSlug is required")
	}
	ws, err := s.ownedWorkspace(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	state, err := EncodeState(NewState(slug, repositoryURL, s.now()))
	if err != nil {
		return nil, err
	}
	if err := s.states.Put(ctx, sessionID, state); err != nil {
		return nil, fmt.Errorf("githubapp: storing state: %w", err)
	}

	installed := false
	if ws.SourceControlOrgID != nil {
		org, err := s.orgs.GetOrgByID(ctx, *ws.SourceControlOrgID)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		installed = err == nil && org.GitHubInstallationID != 0
	}

	if installed {
		return &InstallLink{Link: s.gh.AuthCodeURL(state), State: state, FlowType: FlowUserAuthorization}, nil
	}

	link := fmt.Sprintf("%s/apps/%s/installations/new?%s",
		s.cfg.GitHubURL, url.PathEscape(s.cfg.AppSlug), url.Values{"state": {state}}.Encode())
	return &InstallLink{Link: link, State: state, FlowType: FlowInstallation}, nil
}

type InstallStatus struct {
	HasTokens  bool   `json:"hasTokens"`
	OwnerLogin string `json:"ownerLogin,omitempty"`
}

// Status reports whether the caller holds credentials for the workspace's account.
func (s *Service) Status(ctx context.Context, userID, slug string) (*InstallStatus, error) {
	ws, err := s.ownedWorkspace(ctx, userID, slug)
	if err != nil {
		return nil, err
	}
	if ws.SourceControlOrgID == nil {
		return &InstallStatus{}, nil
	}

	org, err := s.orgs.GetOrgByID(ctx, *ws.SourceControlOrgID)
	if err != nil {
		return nil, err
	}
	n, err := s.orgs.CountTokens(ctx, userID, org.ID)
	if err != nil {
		return nil, err
	}
	return &InstallStatus{HasTokens: n > 0, OwnerLogin: org.GitHubLogin}, nil
}

func (s *Service) ownedWorkspace(ctx context.Context, userID, slug string) (*model.Workspace, error) {
	ws, err := s.workspaces.GetWorkspaceBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ws.OwnerID != userID {
		return nil, apperror.Forbidden("you do not have access to this workspace")
	}
	return ws, nil
}
