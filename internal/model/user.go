// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered user account.
//
// Users sign in with GitHub, so the external identifier is the GitHub user ID.
// The internal ID is an xid, independent of GitHub's numbering.
type User struct {
	ID        string    `json:"id"        db:"id"`
	GitHubID  int64     `json:"githubId"  db:"github_id"`
	Login     string    `json:"login"     db:"login"`
	Email     string    `json:"email"     db:"email"`
	AvatarURL string    `json:"avatarUrl" db:"avatar_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Session is a signed-in browser session.
//
// GitHubState holds the pending CSRF state of a GitHub App install flow.
// It is set when the flow starts and cleared as soon as the callback matches it.
type Session struct {
	ID          string    `json:"id"          db:"id"`
	UserID      string    `json:"userId"      db:"user_id"`
	GitHubState *string   `json:"-"           db:"github_state"`
	ExpiresAt   time.Time `json:"expiresAt"   db:"expires_at"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}
