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

package session

import (
	"context"
	"errors"
	"time"

	"github.com/opentrusty/bucketwarden/internal/authz"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInvalid  = errors.New("session invalid")
)

// DefaultLifetime is how long a session stays valid after login.
const DefaultLifetime = 7 * 24 * time.Hour

// Session represents a user session
type Session struct {
	ID           string
	UserID       string
	Username     string
	Permissions  authz.PermissionSet // Snapshot taken at login.
	Active       bool
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// IsExpired checks if the session has expired at now
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsValid reports whether the session is active and not expired at now
func (s *Session) IsValid(now time.Time) bool {
	return s.Active && !s.IsExpired(now)
}

// Repository defines the interface for session persistence
type Repository interface {
	// Get retrieves a session by ID
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Put creates or replaces a session
	Put(ctx context.Context, session *Session) error

	// UpdateActivity bumps the last activity timestamp
	UpdateActivity(ctx context.Context, sessionID string, at time.Time) error

	// Deactivate marks a session inactive
	Deactivate(ctx context.Context, sessionID string) error

	// DeleteExpired deletes sessions that expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
