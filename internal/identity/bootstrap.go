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
	"time"

	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/id"
)

// BootstrapService guarantees that an administrator account exists.
type BootstrapService struct {
	repo     UserRepository
	hasher   *PasswordHasher
	auditor  audit.Appender
	username string
	password string
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditor audit.Appender,
	username, password string,
) *BootstrapService {
	return &BootstrapService{
		repo:     repo,
		hasher:   hasher,
		auditor:  auditor,
		username: username,
		password: password,
	}
}

// Bootstrap creates the configured admin account if it does not exist yet.
// It is safe to call on every start.
func (s *BootstrapService) Bootstrap(ctx context.Context) error {
	if s.username == "" {
		return nil
	}

	existing, err := s.repo.FindByUsername(ctx, s.username)
	if err == nil {
		if !existing.Role.IsAdmin() {
			slog.WarnContext(ctx, "bootstrap admin account exists without admin role",
				slog.String("username", s.username),
				slog.String("role", string(existing.Role)),
			)
		}
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	if s.password == "" {
		return fmt.Errorf("bootstrap admin %q does not exist and no password is configured", s.username)
	}
	hash, err := s.hasher.Hash(s.password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:           id.NewUUIDv7(),
		Username:     s.username,
		PasswordHash: hash,
		Role:         RoleAdmin,
		AccessLevel:  AccessFull,
		Status:       StatusActive,
		FolderAccess: []string{},
		BucketAccess: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	s.auditor.Append(ctx, audit.Record{
		ActorID:  audit.ActorSystem,
		TargetID: user.ID,
		Action:   audit.ActionAdminBootstrap,
		Severity: audit.SeverityWarning,
		Details:  map[string]any{audit.AttrUsername: s.username},
	})

	slog.InfoContext(ctx, "bootstrapped admin account", slog.String("username", s.username))
	return nil
}
