// Package repository declares the storage interfaces the service layer depends on.
// Implementations live in subpackages (see repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/hive/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error

	// SetGitHubState stores a pending install state; an empty state clears it.
	SetGitHubState(ctx context.Context, sessionID, state string) error
	GetGitHubState(ctx context.Context, sessionID string) (string, error)
	// TakeGitHubState clears the pending state only if it equals state,
	// reporting whether it did. A state can be taken at most once.
	TakeGitHubState(ctx context.Context, sessionID, state string) (bool, error)
}

type WorkspaceRepository interface {
	CreateWorkspace(ctx context.Context, ws *model.Workspace) error
	GetWorkspaceBySlug(ctx context.Context, slug string) (*model.Workspace, error)
	ListWorkspacesByOwner(ctx context.Context, ownerID string, opts ListOptions) ([]model.Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *model.Workspace) error
	DeleteWorkspace(ctx context.Context, id string) error

	// SetWorkspaceSourceControlOrg links (orgID != nil) or unlinks (nil) a workspace.
	SetWorkspaceSourceControlOrg(ctx context.Context, workspaceID string, orgID *string) error
}

type SourceControlRepository interface {
	GetOrgByID(ctx context.Context, id string) (*model.SourceControlOrg, error)
	GetOrgByLogin(ctx context.Context, login string) (*model.SourceControlOrg, error)
	CreateOrg(ctx context.Context, org *model.SourceControlOrg) error
	UpdateOrgInstallationID(ctx context.Context, id string, installationID int64) error

	// UpsertToken inserts or replaces the token of (token.UserID, token.SourceControlOrgID).
	UpsertToken(ctx context.Context, token *model.SourceControlToken) error
	GetToken(ctx context.Context, userID, orgID string) (*model.SourceControlToken, error)
	CountTokens(ctx context.Context, userID, orgID string) (int, error)
}

type SwarmRepository interface {
	UpsertSwarm(ctx context.Context, swarm *model.Swarm) error
	GetSwarmByWorkspaceID(ctx context.Context, workspaceID string) (*model.Swarm, error)
	UpdatePoolState(ctx context.Context, swarmID string, state model.PoolState, poolName *string) error
}
