// Package service contains the business logic layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces ownership, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Services take repository interfaces, not *sqlite.DB, so tests can pass
// in-memory fakes and never touch HTTP types.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/hive/internal/apperror"
	"github.com/sakif/hive/internal/encryption"
	"github.com/sakif/hive/internal/github"
	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/repository"
)

const (
	MinSlugLength          = 3
	MaxSlugLength          = 50
	MaxWorkspaceNameLength = 100
	MaxDescriptionLength   = 500
	DefaultListLimit       = 20
	MaxListLimit           = 100
	DefaultBranch          = "main"
)

// slugPattern: lowercase letters, digits and dashes, no dash at either end.
var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

type WorkspaceService struct {
	workspaces repository.WorkspaceRepository
	swarms     repository.SwarmRepository
	enc        *encryption.Service
	logger     *slog.Logger
}

func NewWorkspaceService(
	workspaces repository.WorkspaceRepository,
	swarms repository.SwarmRepository,
	enc *encryption.Service,
	logger *slog.Logger,
) *WorkspaceService {
	return &WorkspaceService{
		workspaces: workspaces,
		swarms:     swarms,
		enc:        enc,
		logger:     logger,
	}
}

// WorkspaceInput carries the editable fields of a workspace.
type WorkspaceInput struct {
	Name          string
	Slug          string
	Description   string
	RepositoryURL string
}

func validateSlug(slug string) error {
	if slug == "" {
		return apperror.ValidationFailed("slug", "slug is required")
	}
	if len(slug) < MinSlugLength || len(slug) > MaxSlugLength {
		return apperror.ValidationFailed("slug",
			fmt.Sprintf("slug must be between %d and %d characters", MinSlugLength, MaxSlugLength))
	}
	if !slugPattern.MatchString(slug) {
		return apperror.ValidationFailed("slug",
			"slug may only contain lowercase letters, numbers and dashes, and cannot start or end with a dash")
	}
	return nil
}

func validateWorkspaceFields(name, description, repositoryURL string) error {
	if name == "" {
		return apperror.ValidationFailed("name", "workspace name is required")
	}
	if len(name) > MaxWorkspaceNameLength {
		return apperror.ValidationFailed("name",
			fmt.Sprintf("workspace name must be %d characters or less", MaxWorkspaceNameLength))
	}
	if len(description) > MaxDescriptionLength {
		return apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	if repositoryURL != "" {
		if _, _, err := github.ParseRepositoryURL(repositoryURL); err != nil {
			return apperror.ValidationFailed("repositoryUrl", "repositoryUrl must point at a GitHub repository")
		}
	}
	return nil
}

// Create validates and saves a workspace owned by ownerID.
func (s *WorkspaceService) Create(ctx context.Context, ownerID string, in WorkspaceInput) (*model.Workspace, error) {
	slug := strings.TrimSpace(in.Slug)
	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	repoURL := strings.TrimSpace(in.RepositoryURL)

	if err := validateSlug(slug); err != nil {
		return nil, err
	}
	if err := validateWorkspaceFields(name, description, repoURL); err != nil {
		return nil, err
	}

	ws := &model.Workspace{
		Name:          name,
		Slug:          slug,
		Description:   description,
		OwnerID:       ownerID,
		RepositoryURL: repoURL,
	}
	if err := s.workspaces.CreateWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	s.logger.Info("workspace created",
		slog.String("id", ws.ID),
		slog.String("slug", ws.Slug),
	)
	return ws, nil
}

// Get returns the workspace when userID owns it, ErrForbidden otherwise.
func (s *WorkspaceService) Get(ctx context.Context, userID, slug string) (*model.Workspace, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, apperror.ValidationFailed("slug", "slug is required")
	}

	ws, err := s.workspaces.GetWorkspaceBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ws.OwnerID != userID {
		return nil, apperror.Forbidden("you do not have access to this workspace")
	}
	return ws, nil
}

// List returns the caller's workspaces, newest first.
func (s *WorkspaceService) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Workspace, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.workspaces.ListWorkspacesByOwner(ctx, ownerID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list workspaces", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	return list, nil
}

// Update replaces name, description and repository URL. The slug is immutable.
func (s *WorkspaceService) Update(ctx context.Context, userID, slug string, in WorkspaceInput) (*model.Workspace, error) {
	ws, err := s.Get(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = ws.Name
	}
	description := strings.TrimSpace(in.Description)
	repoURL := strings.TrimSpace(in.RepositoryURL)
	if err := validateWorkspaceFields(name, description, repoURL); err != nil {
		return nil, err
	}

	ws.Name = name
	ws.Description = description
	ws.RepositoryURL = repoURL
	if err := s.workspaces.UpdateWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("updating workspace: %w", err)
	}

	s.logger.Info("workspace updated", slog.String("slug", ws.Slug))
	return ws, nil
}

func (s *WorkspaceService) Delete(ctx context.Context, userID, slug string) error {
	ws, err := s.Get(ctx, userID, slug)
	if err != nil {
		return err
	}
	if err := s.workspaces.DeleteWorkspace(ctx, ws.ID); err != nil {
		return err
	}

	s.logger.Info("workspace deleted", slog.String("slug", ws.Slug))
	return nil
}

// SwarmInput configures the workspace's swarm. An empty PoolAPIKey keeps the
// stored key.
type SwarmInput struct {
	Name                 string
	RepositoryURL        string
	DefaultBranch        string
	PoolAPIKey           string
	ContainerFiles       map[string]string
	EnvironmentVariables []model.EnvVar
}

// ConfigureSwarm creates or replaces the swarm of a workspace the caller owns.
func (s *WorkspaceService) ConfigureSwarm(ctx context.Context, userID, slug string, in SwarmInput) (*model.Swarm, error) {
	ws, err := s.Get(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = ws.Slug + "-swarm"
	}
	branch := strings.TrimSpace(in.DefaultBranch)
	if branch == "" {
		branch = DefaultBranch
	}
	repoURL := strings.TrimSpace(in.RepositoryURL)
	if repoURL == "" {
		repoURL = ws.RepositoryURL
	} else if _, _, err := github.ParseRepositoryURL(repoURL); err != nil {
		return nil, apperror.ValidationFailed("repositoryUrl", "repositoryUrl must point at a GitHub repository")
	}
	for path := range in.ContainerFiles {
		if strings.TrimSpace(path) == "" {
			return nil, apperror.ValidationFailed("containerFiles", "container file names must not be empty")
		}
	}
	for _, v := range in.EnvironmentVariables {
		if strings.TrimSpace(v.Name) == "" {
			return nil, apperror.ValidationFailed("environmentVariables", "environment variable names must not be empty")
		}
	}

	swarm := &model.Swarm{
		WorkspaceID:          ws.ID,
		Name:                 name,
		RepositoryURL:        repoURL,
		DefaultBranch:        branch,
		ContainerFiles:       in.ContainerFiles,
		EnvironmentVariables: in.EnvironmentVariables,
	}
	if key := strings.TrimSpace(in.PoolAPIKey); key != "" {
		sealed, err := s.enc.Encrypt(encryption.FieldPoolAPIKey, key)
		if err != nil {
			return nil, fmt.Errorf("encrypting pool api key: %w", err)
		}
		swarm.PoolAPIKey = &sealed
	}

	if err := s.swarms.UpsertSwarm(ctx, swarm); err != nil {
		return nil, fmt.Errorf("saving swarm: %w", err)
	}

	s.logger.Info("swarm configured",
		slog.String("slug", ws.Slug),
		slog.String("swarmID", swarm.ID),
	)
	return swarm, nil
}
