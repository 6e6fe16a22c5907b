package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/hive/internal/apperror"
	"github.com/sakif/hive/internal/model"
	"github.com/sakif/hive/internal/repository"
)

// newTestDB returns a fresh in-memory database closed at test cleanup.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, githubID int64, login string) *model.User {
	t.Helper()
	user := &model.User{
		GitHubID:  githubID,
		Login:     login,
		Email:     login + "@example.com",
		AvatarURL: "https://avatars.githubusercontent.com/u/123",
	}
	if err := db.Upsert(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func createTestWorkspace(t *testing.T, db *DB, owner *model.User, slug string) *model.Workspace {
	t.Helper()
	ws := &model.Workspace{
		Name:          slug + " workspace",
		Slug:          slug,
		OwnerID:       owner.ID,
		RepositoryURL: "https://github.com/" + slug + "/app",
	}
	if err := db.CreateWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("failed to create test workspace: %v", err)
	}
	return ws
}

func createTestOrg(t *testing.T, db *DB, login string, installationID int64) *model.SourceControlOrg {
	t.Helper()
	org := &model.SourceControlOrg{
		GitHubLogin:          login,
		GitHubInstallationID: installationID,
		Type:                 model.SourceControlOrgOrg,
		Name:                 login + " Organization",
	}
	if err := db.CreateOrg(context.Background(), org); err != nil {
		t.Fatalf("failed to create test org: %v", err)
	}
	return org
}

// =========================================================================
// USER TESTS
// =========================================================================

func TestUserUpsert_NewUser(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{GitHubID: 55555, Login: "new_upsert_user"}
	if err := db.Upsert(context.Background(), user); err != nil {
		t.Fatalf("Upsert() (new) error = %v", err)
	}

	if user.ID == "" {
		t.Error("Upsert() did not set user.ID for new user")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Upsert() did not set user.CreatedAt for new user")
	}

	found, err := db.GetUserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUserByID() after Upsert: %v", err)
	}
	if found.Login != "new_upsert_user" {
		t.Errorf("Login = %q, want %q", found.Login, "new_upsert_user")
	}
}

func TestUserUpsert_ExistingUser_KeepsIDUpdatesProfile(t *testing.T) {
	db := newTestDB(t)

	first := &model.User{GitHubID: 66666, Login: "original_login", Email: "old@example.com"}
	if err := db.Upsert(context.Background(), first); err != nil {
		t.Fatalf("Upsert() first login: %v", err)
	}

	second := &model.User{GitHubID: 66666, Login: "updated_login", Email: "new@example.com"}
	if err := db.Upsert(context.Background(), second); err != nil {
		t.Fatalf("Upsert() second login: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Upsert() changed user ID: got %q, want %q", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("Upsert() changed CreatedAt: got %v, want %v", second.CreatedAt, first.CreatedAt)
	}

	found, err := db.GetUserByID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("GetUserByID() after second Upsert: %v", err)
	}
	if found.Login != "updated_login" {
		t.Errorf("Login after upsert = %q, want %q", found.Login, "updated_login")
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// SESSION TESTS
// =========================================================================

func TestSession_GitHubStateLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, 1, "octocat")

	session := &model.Session{UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	state, err := db.GetGitHubState(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetGitHubState() error = %v", err)
	}
	if state != "" {
		t.Errorf("fresh session state = %q, want empty", state)
	}

	if err := db.SetGitHubState(ctx, session.ID, "c3RhdGU="); err != nil {
		t.Fatalf("SetGitHubState() error = %v", err)
	}
	state, _ = db.GetGitHubState(ctx, session.ID)
	if state != "c3RhdGU=" {
		t.Errorf("state = %q, want %q", state, "c3RhdGU=")
	}

	if err := db.SetGitHubState(ctx, session.ID, ""); err != nil {
		t.Fatalf("SetGitHubState(clear) error = %v", err)
	}
	got, err := db.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.GitHubState != nil {
		t.Errorf("GitHubState after clear = %q, want nil", *got.GitHubState)
	}
}

func TestTakeGitHubState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, 3, "taker")

	session := &model.Session{UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := db.SetGitHubState(ctx, session.ID, "c3RhdGU="); err != nil {
		t.Fatalf("SetGitHubState() error = %v", err)
	}

	tests := []struct {
		name  string
		state string
		want  bool
	}{
		{"mismatch", "b3RoZXI=", false},
		{"match", "c3RhdGU=", true},
		{"replay", "c3RhdGU=", false},
	}
	for _, tt := range tests {
		got, err := db.TakeGitHubState(ctx, session.ID, tt.state)
		if err != nil {
			t.Fatalf("%s: TakeGitHubState() error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: TakeGitHubState() = %v, want %v", tt.name, got, tt.want)
		}
	}

	state, _ := db.GetGitHubState(ctx, session.ID)
	if state != "" {
		t.Errorf("state after take = %q, want empty", state)
	}
}

func TestGetSession_Expired(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 2, "expired")

	session := &model.Session{UserID: user.ID, ExpiresAt: time.Now().Add(-time.Minute)}
	if err := db.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	_, err := db.GetSession(context.Background(), session.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetSession(expired) error = %v, want ErrNotFound", err)
	}
}

func TestSetGitHubState_UnknownSession(t *testing.T) {
	db := newTestDB(t)

	err := db.SetGitHubState(context.Background(), "missing", "x")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetGitHubState() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// WORKSPACE TESTS
// =========================================================================

func TestWorkspaceCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, 3, "owner")
	created := createTestWorkspace(t, db, owner, "acme")

	found, err := db.GetWorkspaceBySlug(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetWorkspaceBySlug() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.SourceControlOrgID != nil {
		t.Errorf("SourceControlOrgID = %v, want nil", *found.SourceControlOrgID)
	}
}

func TestWorkspaceCreate_DuplicateSlug(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, 4, "owner")
	createTestWorkspace(t, db, owner, "dup")

	err := db.CreateWorkspace(context.Background(), &model.Workspace{Name: "x", Slug: "dup", OwnerID: owner.ID})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateWorkspace(duplicate) error = %v, want ErrConflict", err)
	}
}

func TestWorkspaceList_OnlyOwner(t *testing.T) {
	db := newTestDB(t)
	alice := createTestUser(t, db, 5, "alice")
	bob := createTestUser(t, db, 6, "bob")
	createTestWorkspace(t, db, alice, "alice-one")
	createTestWorkspace(t, db, alice, "alice-two")
	createTestWorkspace(t, db, bob, "bob-one")

	list, err := db.ListWorkspacesByOwner(context.Background(), alice.ID, repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListWorkspacesByOwner() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len(list) = %d, want 2", len(list))
	}
}

func TestWorkspaceUpdateAndDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, 7, "owner")
	ws := createTestWorkspace(t, db, owner, "edit-me")

	ws.Name = "Renamed"
	ws.RepositoryURL = "https://github.com/acme/other"
	if err := db.UpdateWorkspace(ctx, ws); err != nil {
		t.Fatalf("UpdateWorkspace() error = %v", err)
	}
	found, _ := db.GetWorkspaceBySlug(ctx, "edit-me")
	if found.Name != "Renamed" || found.RepositoryURL != "https://github.com/acme/other" {
		t.Errorf("after update got name=%q repo=%q", found.Name, found.RepositoryURL)
	}

	if err := db.DeleteWorkspace(ctx, ws.ID); err != nil {
		t.Fatalf("DeleteWorkspace() error = %v", err)
	}
	if err := db.DeleteWorkspace(ctx, ws.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second DeleteWorkspace() error = %v, want ErrNotFound", err)
	}
}

func TestWorkspaceLinkAndUnlink(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, 8, "owner")
	ws := createTestWorkspace(t, db, owner, "linkable")
	org := createTestOrg(t, db, "acme", 100)

	if err := db.SetWorkspaceSourceControlOrg(ctx, ws.ID, &org.ID); err != nil {
		t.Fatalf("link error = %v", err)
	}
	found, _ := db.GetWorkspaceBySlug(ctx, "linkable")
	if found.SourceControlOrgID == nil || *found.SourceControlOrgID != org.ID {
		t.Fatalf("SourceControlOrgID = %v, want %q", found.SourceControlOrgID, org.ID)
	}

	if err := db.SetWorkspaceSourceControlOrg(ctx, ws.ID, nil); err != nil {
		t.Fatalf("unlink error = %v", err)
	}
	found, _ = db.GetWorkspaceBySlug(ctx, "linkable")
	if found.SourceControlOrgID != nil {
		t.Errorf("SourceControlOrgID after unlink = %q, want nil", *found.SourceControlOrgID)
	}
}

// =========================================================================
// SOURCE CONTROL TESTS
// =========================================================================

func TestCreateOrg_DuplicateLogin(t *testing.T) {
	db := newTestDB(t)
	createTestOrg(t, db, "acme", 1)

	err := db.CreateOrg(context.Background(), &model.SourceControlOrg{
		GitHubLogin: "acme", GitHubInstallationID: 2, Type: model.SourceControlOrgUser,
	})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateOrg(duplicate) error = %v, want ErrConflict", err)
	}
}

func TestUpdateOrgInstallationID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	org := createTestOrg(t, db, "acme", 1)

	if err := db.UpdateOrgInstallationID(ctx, org.ID, 42); err != nil {
		t.Fatalf("UpdateOrgInstallationID() error = %v", err)
	}
	found, err := db.GetOrgByLogin(ctx, "acme")
	if err != nil {
		t.Fatalf("GetOrgByLogin() error = %v", err)
	}
	if found.GitHubInstallationID != 42 {
		t.Errorf("GitHubInstallationID = %d, want 42", found.GitHubInstallationID)
	}
	if found.ID != org.ID {
		t.Errorf("ID = %q, want %q", found.ID, org.ID)
	}
}

func TestUpsertToken_SingleRowPerUserOrg(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, 9, "tokens")
	org := createTestOrg(t, db, "acme", 1)

	first := &model.SourceControlToken{UserID: user.ID, SourceControlOrgID: org.ID, Token: "envelope-1"}
	if err := db.UpsertToken(ctx, first); err != nil {
		t.Fatalf("UpsertToken() first error = %v", err)
	}

	refresh := "refresh-envelope"
	expires := time.Now().Add(8 * time.Hour)
	second := &model.SourceControlToken{
		UserID: user.ID, SourceControlOrgID: org.ID, Token: "envelope-2",
		RefreshToken: &refresh, ExpiresAt: &expires,
	}
	if err := db.UpsertToken(ctx, second); err != nil {
		t.Fatalf("UpsertToken() second error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("UpsertToken() changed row id: %q -> %q", first.ID, second.ID)
	}

	n, err := db.CountTokens(ctx, user.ID, org.ID)
	if err != nil {
		t.Fatalf("CountTokens() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountTokens() = %d, want 1", n)
	}

	stored, err := db.GetToken(ctx, user.ID, org.ID)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if stored.Token != "envelope-2" {
		t.Errorf("Token = %q, want %q", stored.Token, "envelope-2")
	}
	if stored.RefreshToken == nil || *stored.RefreshToken != refresh {
		t.Errorf("RefreshToken = %v, want %q", stored.RefreshToken, refresh)
	}
	if stored.ExpiresAt == nil {
		t.Error("ExpiresAt = nil, want set")
	}
}

// =========================================================================
// SWARM TESTS
// =========================================================================

func TestSwarmUpsertAndPoolState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, 10, "owner")
	ws := createTestWorkspace(t, db, owner, "swarmy")

	key := "key-envelope"
	swarm := &model.Swarm{
		WorkspaceID:    ws.ID,
		Name:           "swarmy-swarm",
		RepositoryURL:  "https://github.com/acme/app",
		DefaultBranch:  "main",
		PoolAPIKey:     &key,
		ContainerFiles: map[string]string{"Dockerfile": "RlJPTSBub2Rl"},
		EnvironmentVariables: []model.EnvVar{
			{Name: "PORT", Value: "3000"},
		},
	}
	if err := db.UpsertSwarm(ctx, swarm); err != nil {
		t.Fatalf("UpsertSwarm() error = %v", err)
	}
	if swarm.PoolState != model.PoolStateNotStarted {
		t.Errorf("PoolState = %q, want %q", swarm.PoolState, model.PoolStateNotStarted)
	}

	poolName := swarm.ID
	if err := db.UpdatePoolState(ctx, swarm.ID, model.PoolStateComplete, &poolName); err != nil {
		t.Fatalf("UpdatePoolState() error = %v", err)
	}

	// re-configuring without a key keeps the stored key
	reconfigured := &model.Swarm{WorkspaceID: ws.ID, Name: "renamed", DefaultBranch: "dev"}
	if err := db.UpsertSwarm(ctx, reconfigured); err != nil {
		t.Fatalf("UpsertSwarm() second error = %v", err)
	}

	found, err := db.GetSwarmByWorkspaceID(ctx, ws.ID)
	if err != nil {
		t.Fatalf("GetSwarmByWorkspaceID() error = %v", err)
	}
	if found.ID != swarm.ID {
		t.Errorf("ID = %q, want %q", found.ID, swarm.ID)
	}
	if found.PoolState != model.PoolStateComplete {
		t.Errorf("PoolState = %q, want COMPLETE", found.PoolState)
	}
	if found.PoolName == nil || *found.PoolName != poolName {
		t.Errorf("PoolName = %v, want %q", found.PoolName, poolName)
	}
	if found.PoolAPIKey == nil || *found.PoolAPIKey != key {
		t.Errorf("PoolAPIKey = %v, want %q", found.PoolAPIKey, key)
	}
	if found.Name != "renamed" || found.DefaultBranch != "dev" {
		t.Errorf("Name/DefaultBranch = %q/%q, want renamed/dev", found.Name, found.DefaultBranch)
	}
	if len(found.ContainerFiles) != 0 {
		t.Errorf("ContainerFiles = %v, want empty after reconfigure", found.ContainerFiles)
	}
}

func TestGetSwarm_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetSwarmByWorkspaceID(context.Background(), "nope")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetSwarmByWorkspaceID() error = %v, want ErrNotFound", err)
	}
}
