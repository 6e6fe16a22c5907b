package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/hive/internal/apperror"
	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/repository"
)

var _ repository.WorkspaceRepository = (*DB)(nil)

const workspaceColumns = `id, name, slug, description, owner_id, repository_url,
	source_control_org_id, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (*model.Workspace, error) {
	var (
		ws    model.Workspace
		orgID sql.NullString
	)
	if err := row.Scan(
		&ws.ID, &ws.Name, &ws.Slug, &ws.Description, &ws.OwnerID,
		&ws.RepositoryURL, &orgID, &ws.CreatedAt, &ws.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if orgID.Valid {
		ws.SourceControlOrgID = &orgID.String
	}
	return &ws, nil
}

// CreateWorkspace inserts a workspace. A duplicate slug yields apperror.ErrConflict.
func (db *DB) CreateWorkspace(ctx context.Context, ws *model.Workspace) error {
	ws.ID = xid.New().String()
	now := time.Now()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, slug, description, owner_id, repository_url,
			source_control_org_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID,
		ws.Name,
		ws.Slug,
		ws.Description,
		ws.OwnerID,
		ws.RepositoryURL,
		ws.SourceControlOrgID,
		ws.CreatedAt,
		ws.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("workspace", ws.Slug)
		}
		return fmt.Errorf("sqlite: creating workspace %s: %w", ws.Slug, err)
	}
	return nil
}

func (db *DB) GetWorkspaceBySlug(ctx context.Context, slug string) (*model.Workspace, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE slug = ?`, slug)

	ws, err := scanWorkspace(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("workspace", slug)
		}
		return nil, fmt.Errorf("sqlite: getting workspace %s: %w", slug, err)
	}
	return ws, nil
}

// ListWorkspacesByOwner returns the owner's workspaces, newest first.
func (db *DB) ListWorkspacesByOwner(ctx context.Context, ownerID string, opts repository.ListOptions) ([]model.Workspace, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := max(opts.Offset, 0)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+workspaceColumns+`
		 FROM workspaces
		 WHERE owner_id = ?
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := make([]model.Workspace, 0, limit)
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning workspace row: %w", err)
		}
		workspaces = append(workspaces, *ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating workspaces: %w", err)
	}

	return workspaces, nil
}

// UpdateWorkspace writes name, description and repository URL.
// The slug, owner and org link are changed through other paths.
func (db *DB) UpdateWorkspace(ctx context.Context, ws *model.Workspace) error {
	ws.UpdatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE workspaces
		 SET name = ?, description = ?, repository_url = ?, updated_at = ?
		 WHERE id = ?`,
		ws.Name,
		ws.Description,
		ws.RepositoryURL,
		ws.UpdatedAt,
		ws.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating workspace %s: %w", ws.ID, err)
	}
	return expectOneRow(result, "workspace", ws.ID)
}

func (db *DB) DeleteWorkspace(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting workspace %s: %w", id, err)
	}
	return expectOneRow(result, "workspace", id)
}

// SetWorkspaceSourceControlOrg links the workspace to an org, or unlinks it
// when orgID is nil. The org row itself survives an unlink because other
// workspaces and stored tokens may still point at it.
func (db *DB) SetWorkspaceSourceControlOrg(ctx context.Context, workspaceID string, orgID *string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE workspaces SET source_control_org_id = ?, updated_at = ? WHERE id = ?`,
		orgID, time.Now(), workspaceID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: linking workspace %s: %w", workspaceID, err)
	}
	return expectOneRow(result, "workspace", workspaceID)
}

// expectOneRow maps "no rows affected" to apperror.NotFound.
func expectOneRow(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
