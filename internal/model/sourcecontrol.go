package model

import "time"

// SourceControlOrgType tells whether the App was installed on a user or an organization.
type SourceControlOrgType string

const (
	SourceControlOrgUser SourceControlOrgType = "USER"
	SourceControlOrgOrg  SourceControlOrgType = "ORG"
)

// OrgTypeFromGitHub maps GitHub's account type ("User", "Organization") to ours.
func OrgTypeFromGitHub(accountType string) SourceControlOrgType {
	if accountType == "Organization" {
		return SourceControlOrgOrg
	}
	return SourceControlOrgUser
}

// SourceControlOrg is a GitHub user or organization that installed the App.
// GitHubLogin is globally unique.
type SourceControlOrg struct {
	ID                   string               `json:"id"`
	GitHubLogin          string               `json:"githubLogin"`
	GitHubInstallationID int64                `json:"githubInstallationId"`
	Type                 SourceControlOrgType `json:"type"`
	Name                 string               `json:"name"`
	AvatarURL            string               `json:"avatarUrl"`
	Description          *string              `json:"description"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// SourceControlToken is the encrypted OAuth token pair a user holds for one org.
//
// Token and RefreshToken contain encryption envelopes, never plaintext.
// There is at most one row per (UserID, SourceControlOrgID).
type SourceControlToken struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	SourceControlOrgID string     `json:"sourceControlOrgId"`
	Token              string     `json:"-"`
	RefreshToken       *string    `json:"-"`
	ExpiresAt          *time.Time `json:"expiresAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}
