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

package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/retry"
	"github.com/opentrusty/bucketwarden/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type mockUsers struct {
	mu    sync.Mutex
	users map[string]*identity.User
	// stall makes lookups hang until the caller's context ends.
	stall bool
}

func (m *mockUsers) wait(ctx context.Context) error {
	m.mu.Lock()
	stall := m.stall
	m.mu.Unlock()
	if !stall {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockUsers) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *mockUsers) FindByID(ctx context.Context, id string) (*identity.User, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (m *mockUsers) Create(ctx context.Context, u *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *mockUsers) UpdateFields(ctx context.Context, id string, upd identity.UserUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if upd.PasswordHash != nil {
		m.users[id].PasswordHash = *upd.PasswordHash
	}
	return nil
}

func (m *mockUsers) SetStatus(ctx context.Context, id string, status identity.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].Status = status
	return nil
}

func (m *mockUsers) ListAll(ctx context.Context) ([]identity.User, error) { return nil, nil }

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

func (m *memSessions) Get(ctx context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memSessions) Create(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessions) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	s.LastActivity = at
	m.sessions[id] = s
	return nil
}

func (m *memSessions) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	s.Active = false
	m.sessions[id] = s
	return nil
}

type staticPerms struct {
	mu    sync.Mutex
	perms map[string]authz.PermissionSet
}

func (p *staticPerms) GetPermissions(ctx context.Context, userID string, rt authz.ResourceType, path string) authz.PermissionSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perms[userID]
}

type fixture struct {
	svc      *Service
	users    *mockUsers
	sessions *memSessions
	perms    *staticPerms
	mem      *audit.MemorySink
	trail    *audit.Trail
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher := identity.NewPasswordHasher(8*1024, 1, 1, 16, 32)
	hash, err := hasher.Hash("SecurePassword123")
	require.NoError(t, err)

	f := &fixture{
		users: &mockUsers{users: map[string]*identity.User{
			"u1": {ID: "u1", Username: "alice", PasswordHash: hash, Role: identity.RoleUser, AccessLevel: identity.AccessPull, Status: identity.StatusActive},
			"u2": {ID: "u2", Username: "bob", PasswordHash: hash, Role: identity.RoleUser, AccessLevel: identity.AccessPull, Status: identity.StatusInactive},
		}},
		sessions: &memSessions{sessions: map[string]session.Session{}},
		perms:    &staticPerms{perms: map[string]authz.PermissionSet{"u1": {CanRead: true}}},
		mem:      audit.NewMemorySink(),
		now:      time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	f.trail = audit.NewTrail([]audit.Sink{f.mem})
	f.svc, err = NewService(f.users, hasher, f.perms, f.sessions, f.trail,
		Config{Secret: testSecret, AccessExpiry: 24 * time.Hour},
		WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) loginFailures(t *testing.T) []audit.Record {
	t.Helper()
	f.trail.Flush()
	recs, err := f.mem.Query(context.Background(), audit.Filter{Action: audit.ActionLoginFailed})
	require.NoError(t, err)
	return recs
}

// TestPurpose: Validates successful login, token contents and validation.
// Scope: Unit Test
// Security: Tokens carry identity, role, session and a permission snapshot.
// Expected: Success with both tokens; validation returns current permissions.
// Test Case ID: TOK-01
func TestAuthenticate_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.Authenticate(ctx, "alice", "SecurePassword123")
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Empty(t, res.User.PasswordHash)
	assert.Equal(t, f.now.Add(24*time.Hour), res.ExpiresAt)

	claims, err := f.svc.codec.Decode(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "user", claims.Role)
	assert.Equal(t, res.SessionID, claims.SessionID)
	require.NotNil(t, claims.Permissions)
	assert.True(t, claims.Permissions.CanRead)

	refresh, err := f.svc.codec.Decode(res.RefreshToken)
	require.NoError(t, err)
	assert.Nil(t, refresh.Permissions)
	assert.True(t, f.now.Add(DefaultRefreshExpiry).Equal(refresh.ExpiresAt.Time))

	// Permissions changed after login are reflected on validation.
	f.perms.mu.Lock()
	f.perms.perms["u1"] = authz.PermissionSet{CanRead: true, CanWrite: true}
	f.perms.mu.Unlock()

	v := f.svc.ValidateToken(ctx, res.AccessToken)
	require.True(t, v.Valid, v.Error)
	assert.True(t, v.Permissions.CanWrite)
	assert.Equal(t, res.SessionID, v.SessionID)

	f.trail.Flush()
	ok, err := f.mem.Query(ctx, audit.Filter{Action: audit.ActionLoginSuccess})
	require.NoError(t, err)
	require.Len(t, ok, 1)
	assert.Equal(t, audit.ReasonLoginSuccess, ok[0].Details[audit.AttrReason])
}

// TestPurpose: Validates that unknown users and wrong passwords share a generic message.
// Scope: Unit Test
// Security: Username enumeration prevention; precise reason kept in audit.
// Expected: Same message, distinct audit reasons.
// Test Case ID: TOK-02
func TestAuthenticate_GenericFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1 := f.svc.Authenticate(ctx, "nobody", "SecurePassword123")
	r2 := f.svc.Authenticate(ctx, "alice", "wrong-password")
	assert.False(t, r1.Success)
	assert.False(t, r2.Success)
	assert.Equal(t, MsgInvalidCredentials, r1.Message)
	assert.Equal(t, MsgInvalidCredentials, r2.Message)

	reasons := map[any]bool{}
	for _, r := range f.loginFailures(t) {
		reasons[r.Details[audit.AttrReason]] = true
	}
	assert.True(t, reasons[audit.ReasonUserNotFound])
	assert.True(t, reasons[audit.ReasonInvalidPassword])
}

// TestPurpose: Login of an inactive account is rejected.
// Scope: Unit Test
// Security: Deactivated accounts cannot obtain tokens.
// Expected: "Account is inactive" and an inactive_account audit record.
// Test Case ID: TOK-03
func TestAuthenticate_InactiveAccount(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Authenticate(context.Background(), "bob", "SecurePassword123")
	assert.False(t, res.Success)
	assert.Equal(t, "Account is inactive", res.Message)
	assert.Empty(t, res.AccessToken)

	recs := f.loginFailures(t)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.ReasonInactive, recs[0].Details[audit.AttrReason])
	assert.Equal(t, "u2", recs[0].ActorID)
}

// TestPurpose: A token issued with 24h expiry is rejected 25h later.
// Scope: Unit Test
// Expected: {valid:false, error:"Token expired"}.
// Test Case ID: TOK-04
func TestValidateToken_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.Authenticate(ctx, "alice", "SecurePassword123")
	require.True(t, res.Success)

	f.now = f.now.Add(25 * time.Hour)
	v := f.svc.ValidateToken(ctx, res.AccessToken)
	assert.False(t, v.Valid)
	assert.Equal(t, "Token expired", v.Error)
}

// TestPurpose: Validates the distinct token error reasons.
// Scope: Unit Test
// Security: Tampered tokens, foreign signatures and dead sessions are rejected.
// Expected: Invalid token, invalid session, user not found and inactive reasons.
// Test Case ID: TOK-05
func TestValidateToken_ErrorReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.Authenticate(ctx, "alice", "SecurePassword123")
	require.True(t, res.Success)

	assert.Equal(t, MsgInvalidToken, f.svc.ValidateToken(ctx, "not-a-jwt").Error)
	assert.Equal(t, MsgInvalidToken, f.svc.ValidateToken(ctx, res.AccessToken+"x").Error)
	assert.Equal(t, MsgInvalidToken, f.svc.ValidateToken(ctx, res.RefreshToken).Error)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1", "session_id": res.SessionID, "token_type": "access",
		"exp": f.now.Add(time.Hour).Unix(),
	})
	signed, err := foreign.SignedString([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidToken, f.svc.ValidateToken(ctx, signed).Error)

	f.users.mu.Lock()
	f.users.users["u1"].Status = identity.StatusInactive
	f.users.mu.Unlock()
	assert.Equal(t, MsgAccountInactive, f.svc.ValidateToken(ctx, res.AccessToken).Error)

	f.users.mu.Lock()
	delete(f.users.users, "u1")
	f.users.mu.Unlock()
	assert.Equal(t, MsgUserNotFound, f.svc.ValidateToken(ctx, res.AccessToken).Error)

	require.NoError(t, f.svc.Logout(ctx, "u1", res.SessionID))
	assert.Equal(t, MsgInvalidSession, f.svc.ValidateToken(ctx, res.AccessToken).Error)
}

// TestPurpose: Validates refresh, activity bump and terminal expiry of refresh tokens.
// Scope: Unit Test
// Expected: New access token after refresh; expired refresh token is terminal.
// Test Case ID: TOK-06
func TestRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.Authenticate(ctx, "alice", "SecurePassword123")
	require.True(t, res.Success)

	f.now = f.now.Add(30 * time.Hour)
	assert.Equal(t, MsgTokenExpired, f.svc.ValidateToken(ctx, res.AccessToken).Error)

	rr := f.svc.RefreshToken(ctx, res.RefreshToken)
	require.True(t, rr.Success, rr.Error)
	assert.True(t, f.svc.ValidateToken(ctx, rr.AccessToken).Valid)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.now, sess.LastActivity)

	assert.Equal(t, MsgInvalidToken, f.svc.RefreshToken(ctx, rr.AccessToken).Error)

	f.now = f.now.Add(8 * 24 * time.Hour)
	rr = f.svc.RefreshToken(ctx, res.RefreshToken)
	assert.False(t, rr.Success)
	assert.Equal(t, MsgRefreshExpired, rr.Error)
}

func TestNewCodec_ShortSecret(t *testing.T) {
	_, err := NewCodec("short", nil)
	assert.Error(t, err)
}

// TestPurpose: Logout ends only the caller's own session.
// Scope: Unit Test
// Security: A user cannot terminate another user's session; ended sessions stop validating.
// Expected: Foreign logout fails with ErrSessionOwner; own logout makes tokens "Invalid session".
// Test Case ID: TOK-07
func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.Authenticate(ctx, "alice", "SecurePassword123")
	require.True(t, res.Success)

	assert.ErrorIs(t, f.svc.Logout(ctx, "u2", res.SessionID), ErrSessionOwner)
	require.True(t, f.svc.ValidateToken(ctx, res.AccessToken).Valid)

	require.NoError(t, f.svc.Logout(ctx, "u1", res.SessionID))
	v := f.svc.ValidateToken(ctx, res.AccessToken)
	assert.False(t, v.Valid)
	assert.Equal(t, MsgInvalidSession, v.Error)
	assert.Equal(t, MsgInvalidSession, f.svc.RefreshToken(ctx, res.RefreshToken).Error)

	assert.ErrorIs(t, f.svc.Logout(ctx, "u1", "missing"), session.ErrSessionNotFound)

	f.trail.Flush()
	recs, err := f.mem.Query(ctx, audit.Filter{Action: audit.ActionLogout})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "u1", recs[0].ActorID)
}

// TestPurpose: A stalled user store surfaces as a timeout, not as bad credentials.
// Scope: Unit Test
// Security: Storage failures never look like authentication failures.
// Expected: Authenticate and ValidateToken report "Authentication service timed out".
// Test Case ID: TOK-08
func TestStorageTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.policy = retry.Policy{Timeout: 20 * time.Millisecond, MaxRetries: 1, InitialInterval: time.Millisecond}

	res := f.svc.Authenticate(ctx, "alice", "SecurePassword123")
	require.True(t, res.Success)

	f.users.mu.Lock()
	f.users.stall = true
	f.users.mu.Unlock()

	r := f.svc.Authenticate(ctx, "alice", "SecurePassword123")
	assert.False(t, r.Success)
	assert.Equal(t, MsgTimeout, r.Message)

	v := f.svc.ValidateToken(ctx, res.AccessToken)
	assert.False(t, v.Valid)
	assert.Equal(t, MsgTimeout, v.Error)

	assert.Empty(t, f.loginFailures(t))
}
