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

var _ repository.SessionRepository = (*DB)(nil)

// CreateSession stores a new session. ID and CreatedAt are filled in.
func (db *DB) CreateSession(ctx context.Context, session *model.Session) error {
	session.ID = xid.New().String()
	session.CreatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, github_state, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.GitHubState,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating session for user %s: %w", session.UserID, err)
	}
	return nil
}

// GetSession returns an unexpired session.
// Expired sessions are reported as not found.
func (db *DB) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var (
		s     model.Session
		state sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, github_state, expires_at, created_at
		 FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.UserID, &state, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("session", id)
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", id, err)
	}

	if !s.ExpiresAt.After(time.Now()) {
		return nil, apperror.NotFound("session", id)
	}
	if state.Valid {
		s.GitHubState = &state.String
	}
	return &s, nil
}

func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", id, err)
	}
	return nil
}

// SetGitHubState stores state on the session row. An empty state writes NULL.
func (db *DB) SetGitHubState(ctx context.Context, sessionID, state string) error {
	var value any
	if state != "" {
		value = state
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET github_state = ? WHERE id = ?`,
		value, sessionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting github state on session %s: %w", sessionID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("session", sessionID)
	}
	return nil
}

// GetGitHubState returns the pending state, or "" when none is stored.
func (db *DB) GetGitHubState(ctx context.Context, sessionID string) (string, error) {
	var state sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT github_state FROM sessions WHERE id = ?`, sessionID,
	).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apperror.NotFound("session", sessionID)
		}
		return "", fmt.Errorf("sqlite: getting github state of session %s: %w", sessionID, err)
	}
	return state.String, nil
}

// TakeGitHubState is a compare-and-clear in a single UPDATE.
//
// WHY not GetGitHubState followed by SetGitHubState? Two callbacks carrying
// the same state could both read it before either clears it, and both would
// be accepted. With the comparison inside the WHERE clause SQLite serializes
// the writes: the first UPDATE matches one row and NULLs the column, the
// second finds github_state no longer equal and matches nothing.
//
// A mismatched state leaves the pending one untouched, so a forged callback
// cannot cancel a flow the user is still completing.
func (db *DB) TakeGitHubState(ctx context.Context, sessionID, state string) (bool, error) {
	if state == "" {
		return false, nil
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET github_state = NULL WHERE id = ? AND github_state = ?`,
		sessionID, state,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: taking github state of session %s: %w", sessionID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}
