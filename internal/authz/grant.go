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

package authz

import (
	"context"
	"errors"
	"time"

	"github.com/opentrusty/bucketwarden/internal/identity"
)

// Domain errors
var (
	ErrGrantNotFound       = errors.New("grant not found")
	ErrInvalidResourceType = errors.New("invalid resource type")
	ErrInvalidPath         = errors.New("invalid resource path")
	ErrPathTooDeep         = errors.New("resource path too deep")
	ErrInvalidGrant        = errors.New("invalid grant")
)

// Grant is a stored permission set on one scope, held either by a single
// user (GranteeID) or by every user with a role (Role).
type Grant struct {
	ID           string
	GranteeID    string
	Role         identity.Role
	ResourceType ResourceType
	ResourcePath string
	Permissions  PermissionSet
	GrantedBy    string
	GrantedAt    time.Time
}

// Scope returns the grant's canonical scope.
func (g *Grant) Scope() Scope {
	return Scope{Type: g.ResourceType, Path: g.ResourcePath}
}

// Validate checks the grant before it is persisted.
func (g *Grant) Validate() error {
	if g.ID == "" {
		return errors.Join(ErrInvalidGrant, errors.New("missing id"))
	}
	if (g.GranteeID == "") == (g.Role == "") {
		return errors.Join(ErrInvalidGrant, errors.New("exactly one of grantee or role is required"))
	}
	if g.Role != "" && !g.Role.Valid() {
		return errors.Join(ErrInvalidGrant, identity.ErrInvalidRole)
	}
	if g.Permissions.IsEmpty() {
		return errors.Join(ErrInvalidGrant, errors.New("empty permission set"))
	}
	if g.GrantedBy == "" {
		return errors.Join(ErrInvalidGrant, errors.New("missing granter"))
	}
	s, err := NewScope(g.ResourceType, g.ResourcePath)
	if err != nil {
		return errors.Join(ErrInvalidGrant, err)
	}
	if s != g.Scope() {
		return errors.Join(ErrInvalidGrant, errors.New("scope is not canonical"))
	}
	return nil
}

// GrantRepository defines the interface for grant persistence
type GrantRepository interface {
	// Create stores a new grant
	Create(ctx context.Context, grant *Grant) error

	// Get retrieves a grant by ID
	Get(ctx context.Context, id string) (*Grant, error)

	// Delete removes a grant; ErrGrantNotFound if it does not exist
	Delete(ctx context.Context, id string) error

	// ListByGrantee retrieves a user's grants on exactly one scope
	ListByGrantee(ctx context.Context, granteeID string, scope Scope) ([]Grant, error)

	// ListByRole retrieves role-level grants on exactly one scope
	ListByRole(ctx context.Context, role identity.Role, scope Scope) ([]Grant, error)

	// ListForGrantee retrieves every grant held by a user
	ListForGrantee(ctx context.Context, granteeID string) ([]Grant, error)
}
