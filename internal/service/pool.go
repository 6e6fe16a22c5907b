package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/hive/internal/apperror"
	"github.com/sakif/hive/internal/encryption"
	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/poolmanager"
	"github.com/sakif/hive/internal/repository"
)

const (
	// PoolCreateAttempts is the total number of create calls, first try included.
	PoolCreateAttempts = 4
	DefaultMinimumVMs  = 2

	// PoolCreateBudget caps the whole retry loop. The HTTP server's write
	// timeout must stay above it or the caller never sees the relayed error.
	PoolCreateBudget = PoolCreateAttempts * poolmanager.DefaultTimeout
)

// PoolProvisioner is the slice of the Pool Manager client this service calls.
type PoolProvisioner interface {
	CreatePool(ctx context.Context, apiKey string, req poolmanager.CreatePoolRequest) (*poolmanager.Pool, error)
}

// PoolService provisions the VM pool of a workspace's swarm.
type PoolService struct {
	workspaces repository.WorkspaceRepository
	swarms     repository.SwarmRepository
	orgs       repository.SourceControlRepository
	users      repository.UserRepository
	pools      PoolProvisioner
	enc        *encryption.Service
	logger     *slog.Logger

	createBudget time.Duration
}

func NewPoolService(
	workspaces repository.WorkspaceRepository,
	swarms repository.SwarmRepository,
	orgs repository.SourceControlRepository,
	users repository.UserRepository,
	pools PoolProvisioner,
	enc *encryption.Service,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		workspaces: workspaces,
		swarms:     swarms,
		orgs:       orgs,
		users:      users,
		pools:      pools,
		enc:        enc,
		logger:     logger,

		createBudget: PoolCreateBudget,
	}
}

// CreatePool provisions the pool for the caller's workspace.
//
// The swarm's stored container files win over containerFiles. The call is
// attempted PoolCreateAttempts times back to back; if every attempt fails the
// swarm is marked FAILED and the last *poolmanager.APIError is returned as is.
func (s *PoolService) CreatePool(ctx context.Context, userID, slug string, containerFiles map[string]string) (*poolmanager.Pool, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, apperror.ValidationFailed("workspaceSlug", "workspaceSlug is required")
	}

	ws, err := s.workspaces.GetWorkspaceBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ws.OwnerID != userID {
		return nil, apperror.Forbidden("you do not have access to this workspace")
	}

	swarm, err := s.swarms.GetSwarmByWorkspaceID(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	if swarm.PoolAPIKey == nil {
		return nil, apperror.ValidationFailed("poolApiKey", "swarm has no pool API key configured")
	}
	apiKey, err := s.enc.Decrypt(encryption.FieldPoolAPIKey, *swarm.PoolAPIKey)
	if err != nil {
		return nil, fmt.Errorf("service/pool: decrypting pool api key: %w", err)
	}

	repoURL := swarm.RepositoryURL
	if repoURL == "" {
		repoURL = ws.RepositoryURL
	}
	if repoURL == "" {
		return nil, apperror.ValidationFailed("repositoryUrl", "swarm has no repository URL")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/pool: loading user: %w", err)
	}

	files := containerFiles
	if len(swarm.ContainerFiles) > 0 {
		files = swarm.ContainerFiles
	}
	if files == nil {
		files = map[string]string{}
	}

	req := poolmanager.CreatePoolRequest{
		PoolName:       swarm.ID,
		MinimumVMs:     DefaultMinimumVMs,
		RepoName:       repoURL,
		BranchName:     swarm.DefaultBranch,
		GitHubPAT:      s.githubPAT(ctx, userID, ws),
		GitHubUsername: user.Login,
		EnvVars:        toPoolEnvVars(swarm.EnvironmentVariables),
		ContainerFiles: files,
	}

	if err := s.swarms.UpdatePoolState(ctx, swarm.ID, model.PoolStateStarted, nil); err != nil {
		return nil, fmt.Errorf("service/pool: marking pool started: %w", err)
	}

	// The pool state is recorded even if the caller has gone away.
	stateCtx := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(ctx, s.createBudget)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= PoolCreateAttempts; attempt++ {
		pool, err := s.pools.CreatePool(callCtx, apiKey, req)
		if err == nil {
			if err := s.swarms.UpdatePoolState(stateCtx, swarm.ID, model.PoolStateComplete, &req.PoolName); err != nil {
				return nil, fmt.Errorf("service/pool: marking pool complete: %w", err)
			}
			s.logger.Info("pool created",
				slog.String("workspace", ws.Slug),
				slog.String("pool", pool.Name),
				slog.Int("attempt", attempt),
			)
			return pool, nil
		}
		lastErr = err
		s.logger.Warn("pool creation attempt failed",
			slog.String("workspace", ws.Slug),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if callCtx.Err() != nil {
			break
		}
	}

	if err := s.swarms.UpdatePoolState(stateCtx, swarm.ID, model.PoolStateFailed, nil); err != nil {
		s.logger.Error("failed to mark pool failed", slog.String("error", err.Error()))
	}

	var apiErr *poolmanager.APIError
	if errors.As(lastErr, &apiErr) {
		return nil, apiErr
	}
	return nil, apperror.Upstream(poolmanager.ServiceName, lastErr)
}

// githubPAT returns the caller's decrypted token for the workspace's linked
// account, or "" when there is none.
func (s *PoolService) githubPAT(ctx context.Context, userID string, ws *model.Workspace) string {
	if ws.SourceControlOrgID == nil {
		s.logger.Warn("workspace has no linked GitHub account", slog.String("workspace", ws.Slug))
		return ""
	}
	tok, err := s.orgs.GetToken(ctx, userID, *ws.SourceControlOrgID)
	if err != nil {
		s.logger.Warn("no GitHub token for pool", slog.String("workspace", ws.Slug), slog.String("error", err.Error()))
		return ""
	}
	pat, err := s.enc.Decrypt(encryption.FieldSourceControlToken, tok.Token)
	if err != nil {
		s.logger.Warn("cannot decrypt GitHub token for pool", slog.String("workspace", ws.Slug), slog.String("error", err.Error()))
		return ""
	}
	return pat
}

func toPoolEnvVars(vars []model.EnvVar) []poolmanager.EnvVar {
	out := make([]poolmanager.EnvVar, 0, len(vars))
	for _, v := range vars {
		out = append(out, poolmanager.EnvVar{Name: v.Name, Value: v.Value})
	}
	return out
}
