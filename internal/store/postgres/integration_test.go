// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build integration
// +build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/session"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	cfg := Config{
		Host:         "localhost",
		Port:         "5432",
		User:         "bucketwarden",
		Password:     "bucketwarden_dev_password",
		Database:     "bucketwarden",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 5,
	}

	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	if err := db.Migrate(ctx, InitialSchema); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// TestPurpose: Validates that usernames are unique at the storage layer and partial updates touch only named fields.
// Scope: Database Integration Test
// Security: Identity uniqueness (CWE-694)
// Expected: Second insert with the same username fails with ErrUserAlreadyExists; update keeps untouched columns.
// Test Case ID: PG-01
func TestUserRepository_UniqueUsername(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db, "")

	u := &identity.User{
		ID: "pg-user-1", Username: "pg_alice", Email: "alice@example.com", PasswordHash: "x",
		Role: identity.RoleUser, AccessLevel: identity.AccessReadWrite, Status: identity.StatusActive,
		FolderAccess: []string{"users/pg_alice/"},
	}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	defer db.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", u.ID)

	dup := *u
	dup.ID = "pg-user-2"
	if err := repo.Create(ctx, &dup); err != identity.ErrUserAlreadyExists {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}

	email := "alice@corp.example.com"
	if err := repo.UpdateFields(ctx, u.ID, identity.UserUpdate{Email: &email}); err != nil {
		t.Fatalf("failed to update user: %v", err)
	}
	got, err := repo.FindByUsername(ctx, "pg_alice")
	if err != nil {
		t.Fatalf("failed to find user: %v", err)
	}
	if got.Email != email || len(got.FolderAccess) != 1 {
		t.Errorf("unexpected user after update: %+v", got)
	}
}

// TestPurpose: Validates that grant lookups match the scope exactly and never by prefix.
// Scope: Database Integration Test
// Security: Scope confusion (CWE-285)
// Expected: A grant on /photos/a/ is returned for that folder only; role grants are listed separately.
// Test Case ID: PG-02
func TestGrantRepository_ExactScope(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db, "")
	grants := NewGrantRepository(db, "")

	u := &identity.User{ID: "pg-grantee", Username: "pg_grantee", PasswordHash: "x",
		Role: identity.RoleUser, AccessLevel: identity.AccessReadWrite, Status: identity.StatusActive}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	defer db.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", u.ID)

	now := time.Now().UTC()
	g := &authz.Grant{ID: "pg-grant-1", GranteeID: u.ID, ResourceType: authz.ResourceFolder,
		ResourcePath: "/photos/a/", Permissions: authz.PermissionSet{CanRead: true}, GrantedBy: "admin", GrantedAt: now}
	rg := &authz.Grant{ID: "pg-grant-2", Role: identity.RoleManager, ResourceType: authz.ResourceFolder,
		ResourcePath: "/photos/a/", Permissions: authz.PermissionSet{CanWrite: true}, GrantedBy: "admin", GrantedAt: now}
	for _, gr := range []*authz.Grant{g, rg} {
		if err := grants.Create(ctx, gr); err != nil {
			t.Fatalf("failed to create grant: %v", err)
		}
		defer grants.Delete(ctx, gr.ID)
	}

	exact, err := grants.ListByGrantee(ctx, u.ID, authz.Scope{Type: authz.ResourceFolder, Path: "/photos/a/"})
	if err != nil || len(exact) != 1 || !exact[0].Permissions.CanRead {
		t.Fatalf("expected one exact grant, got %v (%v)", exact, err)
	}
	child, _ := grants.ListByGrantee(ctx, u.ID, authz.Scope{Type: authz.ResourceFolder, Path: "/photos/a/b/"})
	if len(child) != 0 {
		t.Errorf("expected no grants on child scope, got %d", len(child))
	}
	byRole, _ := grants.ListByRole(ctx, identity.RoleManager, authz.Scope{Type: authz.ResourceFolder, Path: "/photos/a/"})
	if len(byRole) != 1 || byRole[0].GranteeID != "" {
		t.Errorf("expected one role grant, got %v", byRole)
	}
	if err := grants.Delete(ctx, "missing"); err != authz.ErrGrantNotFound {
		t.Errorf("expected ErrGrantNotFound, got %v", err)
	}
}

// TestPurpose: Validates that the session snapshot survives a round trip and expired sessions are swept.
// Scope: Database Integration Test
// Security: Session lifetime enforcement (CWE-613)
// Expected: DeleteExpired removes the session; Get then reports ErrSessionNotFound.
// Test Case ID: PG-03
func TestSessionRepository_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(db, "")
	sessions := NewSessionRepository(db, "")

	u := &identity.User{ID: "pg-sess-user", Username: "pg_sess", PasswordHash: "x",
		Role: identity.RoleUser, AccessLevel: identity.AccessReadWrite, Status: identity.StatusActive}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	defer db.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", u.ID)

	now := time.Now().UTC()
	s := &session.Session{ID: "pg-sess-1", UserID: u.ID, Username: u.Username,
		Permissions: authz.PermissionSet{CanRead: true}, Active: true,
		CreatedAt: now, LastActivity: now, ExpiresAt: now.Add(time.Minute)}
	if err := sessions.Put(ctx, s); err != nil {
		t.Fatalf("failed to put session: %v", err)
	}

	got, err := sessions.Get(ctx, s.ID)
	if err != nil || !got.Permissions.CanRead {
		t.Fatalf("unexpected session: %+v (%v)", got, err)
	}

	n, err := sessions.DeleteExpired(ctx, now.Add(time.Hour))
	if err != nil || n < 1 {
		t.Fatalf("expected at least one expired session, got %d (%v)", n, err)
	}
	if _, err := sessions.Get(ctx, s.ID); err != session.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
