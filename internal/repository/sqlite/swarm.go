package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/hive/internal/apperror"
	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/repository"
)

var _ repository.SwarmRepository = (*DB)(nil)

// UpsertSwarm creates the workspace's swarm or replaces its configuration.
// Pool name and state are only touched through UpdatePoolState.
//
// WHY COALESCE ON pool_api_key?
// The settings form never receives the stored key back, so a save without a
// new key arrives as NULL. COALESCE keeps the existing ciphertext in that case
// and only a non-empty key overwrites it.
func (db *DB) UpsertSwarm(ctx context.Context, swarm *model.Swarm) error {
	files := swarm.ContainerFiles
	if files == nil {
		files = map[string]string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("sqlite: encoding container files: %w", err)
	}
	envVars := swarm.EnvironmentVariables
	if envVars == nil {
		envVars = []model.EnvVar{}
	}
	envJSON, err := json.Marshal(envVars)
	if err != nil {
		return fmt.Errorf("sqlite: encoding environment variables: %w", err)
	}

	now := time.Now()
	err = db.conn.QueryRowContext(ctx,
		`INSERT INTO swarms
			(id, workspace_id, name, repository_url, default_branch, pool_api_key,
			 container_files, environment_variables, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_id) DO UPDATE SET
			name                  = excluded.name,
			repository_url        = excluded.repository_url,
			default_branch        = excluded.default_branch,
			pool_api_key          = COALESCE(excluded.pool_api_key, swarms.pool_api_key),
			container_files       = excluded.container_files,
			environment_variables = excluded.environment_variables,
			updated_at            = excluded.updated_at
		 RETURNING id, pool_state, created_at, updated_at`,
		xid.New().String(),
		swarm.WorkspaceID,
		swarm.Name,
		swarm.RepositoryURL,
		swarm.DefaultBranch,
		swarm.PoolAPIKey,
		string(filesJSON),
		string(envJSON),
		now,
		now,
	).Scan(&swarm.ID, &swarm.PoolState, &swarm.CreatedAt, &swarm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upserting swarm of workspace %s: %w", swarm.WorkspaceID, err)
	}
	return nil
}

func (db *DB) GetSwarmByWorkspaceID(ctx context.Context, workspaceID string) (*model.Swarm, error) {
	var (
		s                  model.Swarm
		apiKey, poolName   sql.NullString
		filesJSON, envJSON string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, repository_url, default_branch, pool_api_key, pool_name,
			pool_state, container_files, environment_variables, created_at, updated_at
		 FROM swarms WHERE workspace_id = ?`,
		workspaceID,
	).Scan(
		&s.ID, &s.WorkspaceID, &s.Name, &s.RepositoryURL, &s.DefaultBranch, &apiKey, &poolName,
		&s.PoolState, &filesJSON, &envJSON, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("swarm", workspaceID)
		}
		return nil, fmt.Errorf("sqlite: getting swarm of workspace %s: %w", workspaceID, err)
	}

	if apiKey.Valid {
		s.PoolAPIKey = &apiKey.String
	}
	if poolName.Valid {
		s.PoolName = &poolName.String
	}
	if err := json.Unmarshal([]byte(filesJSON), &s.ContainerFiles); err != nil {
		return nil, fmt.Errorf("sqlite: decoding container files of swarm %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(envJSON), &s.EnvironmentVariables); err != nil {
		return nil, fmt.Errorf("sqlite: decoding environment variables of swarm %s: %w", s.ID, err)
	}
	return &s, nil
}

// UpdatePoolState sets the pool state; a nil poolName leaves the stored name as is.
func (db *DB) UpdatePoolState(ctx context.Context, swarmID string, state model.PoolState, poolName *string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE swarms
		 SET pool_state = ?, pool_name = COALESCE(?, pool_name), updated_at = ?
		 WHERE id = ?`,
		string(state), poolName, time.Now(), swarmID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating pool state of swarm %s: %w", swarmID, err)
	}
	return expectOneRow(result, "swarm", swarmID)
}
