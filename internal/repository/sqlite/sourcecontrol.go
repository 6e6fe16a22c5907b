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

var _ repository.SourceControlRepository = (*DB)(nil)

const orgColumns = `id, github_login, github_installation_id, type, name, avatar_url,
	description, created_at, updated_at`

func scanOrg(row rowScanner) (*model.SourceControlOrg, error) {
	var (
		org         model.SourceControlOrg
		description sql.NullString
	)
	if err := row.Scan(
		&org.ID, &org.GitHubLogin, &org.GitHubInstallationID, &org.Type, &org.Name,
		&org.AvatarURL, &description, &org.CreatedAt, &org.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if description.Valid {
		org.Description = &description.String
	}
	return &org, nil
}

func (db *DB) GetOrgByID(ctx context.Context, id string) (*model.SourceControlOrg, error) {
	org, err := scanOrg(db.conn.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM source_control_orgs WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("source control org", id)
		}
		return nil, fmt.Errorf("sqlite: getting source control org %s: %w", id, err)
	}
	return org, nil
}

func (db *DB) GetOrgByLogin(ctx context.Context, login string) (*model.SourceControlOrg, error) {
	org, err := scanOrg(db.conn.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM source_control_orgs WHERE github_login = ?`, login))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("source control org", login)
		}
		return nil, fmt.Errorf("sqlite: getting source control org %s: %w", login, err)
	}
	return org, nil
}

// CreateOrg inserts an org. A duplicate login yields apperror.ErrConflict.
func (db *DB) CreateOrg(ctx context.Context, org *model.SourceControlOrg) error {
	org.ID = xid.New().String()
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO source_control_orgs (`+orgColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.GitHubLogin,
		org.GitHubInstallationID,
		string(org.Type),
		org.Name,
		org.AvatarURL,
		org.Description,
		org.CreatedAt,
		org.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("source control org", org.GitHubLogin)
		}
		return fmt.Errorf("sqlite: creating source control org %s: %w", org.GitHubLogin, err)
	}
	return nil
}

func (db *DB) UpdateOrgInstallationID(ctx context.Context, id string, installationID int64) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE source_control_orgs SET github_installation_id = ?, updated_at = ? WHERE id = ?`,
		installationID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating installation id of org %s: %w", id, err)
	}
	return expectOneRow(result, "source control org", id)
}

// UpsertToken keeps exactly one row per (user, org). On conflict the row's
// token fields are replaced and its id and created_at are preserved.
//
// WHY ON CONFLICT ... DO UPDATE INSTEAD OF INSERT OR REPLACE?
// INSERT OR REPLACE deletes the old row and inserts a new one, so the id and
// created_at would change on every callback. DO UPDATE rewrites the existing
// row in place and leaves those columns alone.
//
// WHY RETURNING?
// The caller handed us a fresh xid, but after a conflict the stored row keeps
// its old id. RETURNING reads back the id and timestamps that actually won in
// the same statement, so there is no second SELECT that could race another
// callback for the same user and org.
func (db *DB) UpsertToken(ctx context.Context, token *model.SourceControlToken) error {
	now := time.Now()

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO source_control_tokens
			(id, user_id, source_control_org_id, token, refresh_token, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, source_control_org_id) DO UPDATE SET
			token         = excluded.token,
			refresh_token = excluded.refresh_token,
			expires_at    = excluded.expires_at,
			updated_at    = excluded.updated_at
		 RETURNING id, created_at, updated_at`,
		xid.New().String(),
		token.UserID,
		token.SourceControlOrgID,
		token.Token,
		token.RefreshToken,
		token.ExpiresAt,
		now,
		now,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upserting token for user %s org %s: %w",
			token.UserID, token.SourceControlOrgID, err)
	}
	return nil
}

func (db *DB) GetToken(ctx context.Context, userID, orgID string) (*model.SourceControlToken, error) {
	var (
		t         model.SourceControlToken
		refresh   sql.NullString
		expiresAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, source_control_org_id, token, refresh_token, expires_at, created_at, updated_at
		 FROM source_control_tokens
		 WHERE user_id = ? AND source_control_org_id = ?`,
		userID, orgID,
	).Scan(&t.ID, &t.UserID, &t.SourceControlOrgID, &t.Token, &refresh, &expiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("source control token", userID+"/"+orgID)
		}
		return nil, fmt.Errorf("sqlite: getting token for user %s org %s: %w", userID, orgID, err)
	}
	if refresh.Valid {
		t.RefreshToken = &refresh.String
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	return &t, nil
}

func (db *DB) CountTokens(ctx context.Context, userID, orgID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM source_control_tokens WHERE user_id = ? AND source_control_org_id = ?`,
		userID, orgID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting tokens: %w", err)
	}
	return n, nil
}
