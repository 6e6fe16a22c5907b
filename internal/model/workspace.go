package model

import "time"

// Workspace groups a team's repository and infrastructure under a unique slug.
//
// SourceControlOrgID points at the GitHub account the App was installed on.
// It is nil until an install callback links one, and reset to nil on uninstall.
type Workspace struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	Description        string    `json:"description"`
	OwnerID            string    `json:"ownerId"`
	RepositoryURL      string    `json:"repositoryUrl"`
	SourceControlOrgID *string   `json:"sourceControlOrgId"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
