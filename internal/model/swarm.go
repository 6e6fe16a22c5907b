package model

import "time"

// PoolState tracks VM pool provisioning for a swarm.
type PoolState string

const (
	PoolStateNotStarted PoolState = "NOT_STARTED"
	PoolStateStarted    PoolState = "STARTED"
	PoolStateComplete   PoolState = "COMPLETE"
	PoolStateFailed     PoolState = "FAILED"
)

// EnvVar is a single environment variable passed to pool VMs.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Swarm is the infrastructure record of a workspace: which repository and
// branch its VMs run, and the state of their pool.
//
// PoolAPIKey holds an encryption envelope.
type Swarm struct {
	ID                   string            `json:"id"`
	WorkspaceID          string            `json:"workspaceId"`
	Name                 string            `json:"name"`
	RepositoryURL        string            `json:"repositoryUrl"`
	DefaultBranch        string            `json:"defaultBranch"`
	PoolAPIKey           *string           `json:"-"`
	PoolName             *string           `json:"poolName"`
	PoolState            PoolState         `json:"poolState"`
	ContainerFiles       map[string]string `json:"containerFiles"`
	EnvironmentVariables []EnvVar          `json:"environmentVariables"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}
