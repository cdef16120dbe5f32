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

// Package token issues, validates and refreshes signed session tokens.
package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/id"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/retry"
	"github.com/opentrusty/bucketwarden/internal/session"
)

// Messages returned to callers.
const (
	MsgInvalidCredentials = "Invalid username or password"
	MsgAccountInactive    = "Account is inactive"
	MsgTokenExpired       = "Token expired"
	MsgInvalidToken       = "Invalid token"
	MsgInvalidSession     = "Invalid session"
	MsgUserNotFound       = "User not found"
	MsgRefreshExpired     = "Refresh token expired"
	MsgUnavailable        = "Authentication service unavailable"
	MsgTimeout            = "Authentication service timed out"
)

// ErrSessionOwner is returned when a user tries to end another user's session.
var ErrSessionOwner = errors.New("session belongs to another user")

const (
	DefaultAccessExpiry  = 24 * time.Hour
	DefaultRefreshExpiry = 7 * 24 * time.Hour
)

// PermissionResolver supplies the permission snapshot embedded in tokens.
type PermissionResolver interface {
	GetPermissions(ctx context.Context, userID string, resourceType authz.ResourceType, resourcePath string) authz.PermissionSet
}

// SessionStore persists sessions.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Create(ctx context.Context, sess *session.Session) error
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Deactivate(ctx context.Context, sessionID string) error
}

// Config holds token lifetimes and the signing secret.
type Config struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// AuthResult is the outcome of Authenticate.
type AuthResult struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message,omitempty"`
	User         *identity.User      `json:"-"`
	AccessToken  string              `json:"access_token,omitempty"`
	RefreshToken string              `json:"refresh_token,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	ExpiresAt    time.Time           `json:"expires_at,omitempty"`
	Permissions  authz.PermissionSet `json:"permissions"`
}

// ValidationResult is the outcome of ValidateToken.
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	Error       string              `json:"error,omitempty"`
	User        *identity.User      `json:"-"`
	Permissions authz.PermissionSet `json:"permissions"`
	SessionID   string              `json:"session_id,omitempty"`
}

// RefreshResult is the outcome of RefreshToken.
type RefreshResult struct {
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Service handles login and the session token lifecycle.
type Service struct {
	users    identity.UserRepository
	hasher   *identity.PasswordHasher
	perms    PermissionResolver
	sessions SessionStore
	auditor  audit.Appender
	codec    *Codec
	cfg      Config
	policy   retry.Policy
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetryPolicy sets the timeout and retry policy for user store calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// NewService creates a new token service
func NewService(
	users identity.UserRepository,
	hasher *identity.PasswordHasher,
	perms PermissionResolver,
	sessions SessionStore,
	auditor audit.Appender,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	if cfg.AccessExpiry <= 0 {
		cfg.AccessExpiry = DefaultAccessExpiry
	}
	if cfg.RefreshExpiry <= 0 {
		cfg.RefreshExpiry = DefaultRefreshExpiry
	}
	s := &Service{
		users:    users,
		hasher:   hasher,
		perms:    perms,
		sessions: sessions,
		auditor:  auditor,
		cfg:      cfg,
		policy:   retry.DefaultPolicy(),
		now:      time.Now,
		logger:   slog.Default().With(logger.Component("token")),
	}
	for _, opt := range opts {
		opt(s)
	}
	codec, err := NewCodec(cfg.Secret, func() time.Time { return s.now() })
	if err != nil {
		return nil, err
	}
	s.codec = codec
	return s, nil
}

// Authenticate verifies credentials, opens a session and issues tokens.
// Unknown users and bad passwords get the same message.
func (s *Service) Authenticate(ctx context.Context, username, password string) AuthResult {
	var user *identity.User
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindByUsername(ctx, username)
		return err
	})
	if err != nil {
		if !errors.Is(err, identity.ErrUserNotFound) {
			s.logger.ErrorContext(ctx, "user lookup failed", logger.Username(username), logger.Error(err))
			return AuthResult{Message: failure(err)}
		}
		s.auditLogin(ctx, "", username, audit.ReasonUserNotFound, audit.SeverityWarning)
		return AuthResult{Message: MsgInvalidCredentials}
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			s.logger.WarnContext(ctx, "password verification error", logger.UserID(user.ID), logger.Error(err))
		}
		s.auditLogin(ctx, user.ID, username, audit.ReasonInvalidPassword, audit.SeverityWarning)
		return AuthResult{Message: MsgInvalidCredentials}
	}

	if !user.IsActive() {
		s.auditLogin(ctx, user.ID, username, audit.ReasonInactive, audit.SeverityWarning)
		return AuthResult{Message: MsgAccountInactive}
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, password)
	}

	perms := s.perms.GetPermissions(ctx, user.ID, authz.ResourceBucket, "")
	now := s.now().UTC()
	sess := &session.Session{
		ID:           id.NewUUIDv7(),
		UserID:       user.ID,
		Username:     user.Username,
		Permissions:  perms,
		Active:       true,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.cfg.RefreshExpiry),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		s.logger.ErrorContext(ctx, "failed to create session", logger.UserID(user.ID), logger.Error(err))
		return AuthResult{Message: failure(err)}
	}

	access, accessExp, err := s.issue(user, sess.ID, KindAccess, &perms, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue access token", logger.Error(err))
		return AuthResult{Message: MsgUnavailable}
	}
	refresh, _, err := s.issue(user, sess.ID, KindRefresh, nil, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue refresh token", logger.Error(err))
		return AuthResult{Message: MsgUnavailable}
	}

	s.auditor.Append(ctx, audit.Record{
		ActorID:  user.ID,
		Action:   audit.ActionLoginSuccess,
		Severity: audit.SeverityInfo,
		Details: map[string]any{
			audit.AttrReason:    audit.ReasonLoginSuccess,
			audit.AttrUsername:  username,
			audit.AttrSessionID: sess.ID,
		},
	})

	u := user.Sanitized()
	return AuthResult{
		Success:      true,
		User:         &u,
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sess.ID,
		ExpiresAt:    accessExp,
		Permissions:  perms,
	}
}

// ValidateToken checks an access token and its session and returns the
// user's current permissions rather than the snapshot in the token.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) ValidationResult {
	claims, err := s.codec.Decode(tokenString)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return ValidationResult{Error: MsgTokenExpired}
		}
		return ValidationResult{Error: MsgInvalidToken}
	}
	if claims.Kind != KindAccess {
		return ValidationResult{Error: MsgInvalidToken}
	}

	user, msg := s.checkSession(ctx, claims)
	if msg != "" {
		return ValidationResult{Error: msg}
	}

	u := user.Sanitized()
	return ValidationResult{
		Valid:       true,
		User:        &u,
		Permissions: s.perms.GetPermissions(ctx, user.ID, authz.ResourceBucket, ""),
		SessionID:   claims.SessionID,
	}
}

// RefreshToken mints a new access token from a refresh token. An expired
// refresh token requires a new login.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) RefreshResult {
	claims, err := s.codec.Decode(refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return RefreshResult{Error: MsgRefreshExpired}
		}
		return RefreshResult{Error: MsgInvalidToken}
	}
	if claims.Kind != KindRefresh {
		return RefreshResult{Error: MsgInvalidToken}
	}

	user, msg := s.checkSession(ctx, claims)
	if msg != "" {
		return RefreshResult{Error: msg}
	}

	now := s.now().UTC()
	if err := s.sessions.Touch(ctx, claims.SessionID, now); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return RefreshResult{Error: MsgInvalidSession}
		}
		s.logger.ErrorContext(ctx, "failed to update session activity", logger.SessionID(claims.SessionID), logger.Error(err))
		return RefreshResult{Error: failure(err)}
	}

	perms := s.perms.GetPermissions(ctx, user.ID, authz.ResourceBucket, "")
	access, exp, err := s.issue(user, claims.SessionID, KindAccess, &perms, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue access token", logger.Error(err))
		return RefreshResult{Error: MsgUnavailable}
	}

	s.auditor.Append(ctx, audit.Record{
		ActorID:  user.ID,
		Action:   audit.ActionTokenRefreshed,
		Severity: audit.SeverityInfo,
		Details:  map[string]any{audit.AttrSessionID: claims.SessionID},
	})
	return RefreshResult{Success: true, AccessToken: access, ExpiresAt: exp}
}

// Logout marks a session inactive. Only the session's owner may end it.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		s.logger.WarnContext(ctx, "logout of foreign session rejected", logger.UserID(userID), logger.SessionID(sessionID))
		return ErrSessionOwner
	}
	if err := s.sessions.Deactivate(ctx, sessionID); err != nil {
		return err
	}
	s.auditor.Append(ctx, audit.Record{
		ActorID:  userID,
		Action:   audit.ActionLogout,
		Severity: audit.SeverityInfo,
		Details:  map[string]any{audit.AttrSessionID: sessionID},
	})
	return nil
}

// checkSession returns the session's user or a caller-facing message.
func (s *Service) checkSession(ctx context.Context, claims *Claims) (*identity.User, string) {
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, MsgInvalidSession
		}
		s.logger.ErrorContext(ctx, "session lookup failed", logger.SessionID(claims.SessionID), logger.Error(err))
		return nil, failure(err)
	}
	if !sess.IsValid(s.now()) || sess.UserID != claims.UserID {
		return nil, MsgInvalidSession
	}

	var user *identity.User
	err = s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindByID(ctx, claims.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, MsgUserNotFound
		}
		s.logger.ErrorContext(ctx, "user lookup failed", logger.UserID(claims.UserID), logger.Error(err))
		return nil, failure(err)
	}
	if !user.IsActive() {
		return nil, MsgAccountInactive
	}
	return user, ""
}

func (s *Service) issue(user *identity.User, sessionID string, kind Kind, perms *authz.PermissionSet, now time.Time) (string, time.Time, error) {
	ttl := s.cfg.AccessExpiry
	if kind == KindRefresh {
		ttl = s.cfg.RefreshExpiry
	}
	exp := now.Add(ttl)
	signed, err := s.codec.Encode(&Claims{
		Username:    user.Username,
		UserID:      user.ID,
		Role:        string(user.Role),
		SessionID:   sessionID,
		Kind:        kind,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.NewUUIDv7(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return signed, exp, err
}

func (s *Service) upgradeHash(ctx context.Context, userID, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return
	}
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		err := s.users.UpdateFields(ctx, userID, identity.UserUpdate{PasswordHash: &hash})
		if errors.Is(err, identity.ErrUserNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade legacy password hash", logger.UserID(userID), logger.Error(err))
	}
}

// failure maps a storage error to the caller-facing message.
func failure(err error) string {
	if errors.Is(err, retry.ErrTimeout) {
		return MsgTimeout
	}
	return MsgUnavailable
}

func (s *Service) auditLogin(ctx context.Context, userID, username, reason string, sev audit.Severity) {
	s.auditor.Append(ctx, audit.Record{
		ActorID:  userID,
		Action:   audit.ActionLoginFailed,
		Severity: sev,
		Details: map[string]any{
			audit.AttrReason:   reason,
			audit.AttrUsername: username,
		},
	})
}
