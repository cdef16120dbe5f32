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

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/id"
	"github.com/opentrusty/bucketwarden/internal/retry"
)

// AllFolders is returned by FolderAccess for administrators.
const AllFolders = "*"

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{1,63}$`)

// FolderStore creates folders in object storage.
type FolderStore interface {
	CreateFolder(ctx context.Context, path string) error
}

// Invalidator drops cached authorization results for a user.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID string)
}

// NewUser holds the input for CreateUser.
type NewUser struct {
	Username     string
	Email        string
	Password     string
	Role         Role
	AccessLevel  AccessLevel
	FolderAccess []string
	BucketAccess []string
}

// UserChanges holds the input for UpdateUser. Nil fields are left untouched.
type UserChanges struct {
	Username     *string
	Email        *string
	Password     *string
	AccessLevel  *AccessLevel
	FolderAccess []string
	BucketAccess []string
}

// Service provides user management on top of a UserRepository.
type Service struct {
	repo        UserRepository
	hasher      *PasswordHasher
	folders     FolderStore
	invalidator Invalidator
	auditor     audit.Appender
	policy      retry.Policy
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy sets the timeout and retry policy for repository calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// NewService creates a new identity service. folders and invalidator may be nil.
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	folders FolderStore,
	invalidator Invalidator,
	auditor audit.Appender,
	opts ...Option,
) *Service {
	s := &Service{
		repo:        repo,
		hasher:      hasher,
		folders:     folders,
		invalidator: invalidator,
		auditor:     auditor,
		policy:      retry.DefaultPolicy(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// findByID reads a user under the per-attempt timeout.
func (s *Service) findByID(ctx context.Context, userID string) (*User, error) {
	var user *User
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repo.FindByID(ctx, userID)
		return err
	})
	return user, err
}

// write runs a mutating repository call with retries. Not-found and
// duplicate errors are final.
func (s *Service) write(ctx context.Context, op retry.Op) error {
	return s.policy.Do(ctx, func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserAlreadyExists) {
			return retry.Permanent(err)
		}
		return err
	})
}

// PersonalFolder returns the folder created for a new uploading user.
func PersonalFolder(username string) string {
	return "users/" + username + "/"
}

// CreateUser validates, hashes and stores a new user.
func (s *Service) CreateUser(ctx context.Context, actorID string, in NewUser) (*User, error) {
	if !usernameRe.MatchString(in.Username) {
		return nil, ErrInvalidUsername
	}
	if in.Email != "" && !isValidEmail(in.Email) {
		return nil, ErrInvalidEmail
	}
	if !isStrongPassword(in.Password) {
		return nil, ErrWeakPassword
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if in.AccessLevel == "" {
		in.AccessLevel = AccessReadOnly
	}
	if !in.AccessLevel.Valid() {
		return nil, ErrInvalidAccessLevel
	}

	err := s.policy.Once(ctx, func(ctx context.Context) error {
		_, err := s.repo.FindByUsername(ctx, in.Username)
		return err
	})
	if err == nil {
		return nil, ErrUserAlreadyExists
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	folders := normalizeFolders(in.FolderAccess)
	var personal string
	if in.AccessLevel.CanUpload() {
		personal = PersonalFolder(in.Username)
		if !slices.Contains(folders, personal) {
			folders = append(folders, personal)
		}
	}

	now := s.now().UTC()
	user := &User{
		ID:           id.NewUUIDv7(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		AccessLevel:  in.AccessLevel,
		Status:       StatusActive,
		FolderAccess: folders,
		BucketAccess: in.BucketAccess,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.write(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, user)
	}); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if personal != "" {
		s.createFolder(ctx, personal)
	}

	s.auditor.Append(ctx, audit.Record{
		ActorID:  actorID,
		TargetID: user.ID,
		Action:   audit.ActionUserCreated,
		Details: map[string]any{
			audit.AttrUsername:    user.Username,
			audit.AttrRole:        string(user.Role),
			audit.AttrAccessLevel: string(user.AccessLevel),
		},
	})

	out := user.Sanitized()
	return &out, nil
}

// UpdateUser applies changes to an existing user. New folder_access entries
// are created in object storage and the user's cached permissions dropped.
func (s *Service) UpdateUser(ctx context.Context, actorID, userID string, ch UserChanges) error {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		return err
	}
	if ch.Username != nil && *ch.Username != user.Username {
		return ErrUsernameImmutable
	}

	var upd UserUpdate
	if ch.Email != nil {
		if *ch.Email != "" && !isValidEmail(*ch.Email) {
			return ErrInvalidEmail
		}
		upd.Email = ch.Email
	}
	if ch.Password != nil {
		if !isStrongPassword(*ch.Password) {
			return ErrWeakPassword
		}
		hash, err := s.hasher.Hash(*ch.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		upd.PasswordHash = &hash
	}
	if ch.AccessLevel != nil {
		if !ch.AccessLevel.Valid() {
			return ErrInvalidAccessLevel
		}
		upd.AccessLevel = ch.AccessLevel
	}
	var added []string
	if ch.FolderAccess != nil {
		folders := normalizeFolders(ch.FolderAccess)
		for _, f := range folders {
			if !slices.Contains(user.FolderAccess, f) {
				added = append(added, f)
			}
		}
		upd.FolderAccess = &folders
	}
	if ch.BucketAccess != nil {
		buckets := append([]string(nil), ch.BucketAccess...)
		upd.BucketAccess = &buckets
	}
	if upd.IsEmpty() {
		return nil
	}

	if err := s.write(ctx, func(ctx context.Context) error {
		return s.repo.UpdateFields(ctx, userID, upd)
	}); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	for _, f := range added {
		s.createFolder(ctx, f)
	}
	s.invalidate(ctx, userID)

	s.auditor.Append(ctx, audit.Record{
		ActorID:  actorID,
		TargetID: userID,
		Action:   audit.ActionUserUpdated,
		Details:  map[string]any{audit.AttrFields: upd.Fields()},
	})
	return nil
}

// SetStatus activates or deactivates a user. Deactivation is the only form of deletion.
func (s *Service) SetStatus(ctx context.Context, actorID, userID string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := s.write(ctx, func(ctx context.Context) error {
		return s.repo.SetStatus(ctx, userID, status)
	}); err != nil {
		return err
	}
	s.invalidate(ctx, userID)

	sev := audit.SeverityInfo
	if status == StatusInactive {
		sev = audit.SeverityWarning
	}
	s.auditor.Append(ctx, audit.Record{
		ActorID:  actorID,
		TargetID: userID,
		Action:   audit.ActionUserStatusChanged,
		Severity: sev,
		Details:  map[string]any{audit.AttrStatus: string(status)},
	})
	return nil
}

// ResetPassword replaces a user's password.
func (s *Service) ResetPassword(ctx context.Context, actorID, userID, newPassword string) error {
	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.write(ctx, func(ctx context.Context) error {
		return s.repo.UpdateFields(ctx, userID, UserUpdate{PasswordHash: &hash})
	}); err != nil {
		return err
	}
	s.auditor.Append(ctx, audit.Record{
		ActorID:  actorID,
		TargetID: userID,
		Action:   audit.ActionPasswordReset,
		Severity: audit.SeverityWarning,
	})
	return nil
}

// UpdateRole changes a user's role. The actor must be an administrator and
// rank at least as high as both the target's current role and the new one.
func (s *Service) UpdateRole(ctx context.Context, actorID, userID string, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	actor, err := s.findByID(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := s.findByID(ctx, userID)
	if err != nil {
		return err
	}
	if !actor.Role.IsAdmin() || !actor.Role.AtLeast(role) || !actor.Role.AtLeast(target.Role) {
		return ErrForbidden
	}
	if err := s.write(ctx, func(ctx context.Context) error {
		return s.repo.UpdateFields(ctx, userID, UserUpdate{Role: &role})
	}); err != nil {
		return err
	}
	s.invalidate(ctx, userID)

	s.auditor.Append(ctx, audit.Record{
		ActorID:  actorID,
		TargetID: userID,
		Action:   audit.ActionRoleChanged,
		Severity: audit.SeverityWarning,
		Details:  map[string]any{audit.AttrRole: string(role)},
	})
	return nil
}

// GetUser retrieves a user by ID without its password hash.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := user.Sanitized()
	return &out, nil
}

// ListUsers returns all users without password hashes.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		users, err = s.repo.ListAll(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Sanitized())
	}
	return out, nil
}

// FolderAccess returns the folders a user may browse. Administrators get AllFolders.
func (s *Service) FolderAccess(ctx context.Context, userID string) ([]string, error) {
	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role.IsAdmin() {
		return []string{AllFolders}, nil
	}
	return append([]string(nil), user.FolderAccess...), nil
}

func (s *Service) createFolder(ctx context.Context, path string) {
	if s.folders == nil {
		return
	}
	if err := s.folders.CreateFolder(ctx, path); err != nil {
		s.logger.WarnContext(ctx, "failed to create folder",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateUser(ctx, userID)
	}
}

// normalizeFolders trims entries, forces a trailing slash and drops duplicates.
func normalizeFolders(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !strings.HasSuffix(f, "/") {
			f += "/"
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// Helper functions
func isValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return len(email) > 3 && len(email) < 255 && at > 0 && at < len(email)-1
}

func isStrongPassword(password string) bool {
	// Password must be at least 8 characters
	return len(password) >= 8
}
