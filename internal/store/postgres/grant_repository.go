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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
)

const grantColumns = `id, COALESCE(grantee_id, ''), COALESCE(role, ''), resource_type, resource_path,
	full_access, can_read, can_write, can_delete, can_share, can_grant, granted_by, granted_at`

// GrantRepository implements authz.GrantRepository
type GrantRepository struct {
	db    *DB
	table string
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *DB, table string) *GrantRepository {
	if table == "" {
		table = DefaultTables().Permissions
	}
	return &GrantRepository{db: db, table: ident(table)}
}

// Create stores a new grant
func (r *GrantRepository) Create(ctx context.Context, g *authz.Grant) error {
	p := g.Permissions
	_, err := r.db.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, grantee_id, role, resource_type, resource_path,
			full_access, can_read, can_write, can_delete, can_share, can_grant,
			granted_by, granted_at
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.table),
		g.ID, g.GranteeID, string(g.Role), string(g.ResourceType), g.ResourcePath,
		p.FullAccess, p.CanRead, p.CanWrite, p.CanDelete, p.CanShare, p.CanGrant,
		g.GrantedBy, g.GrantedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// Get retrieves a grant by ID
func (r *GrantRepository) Get(ctx context.Context, id string) (*authz.Grant, error) {
	row := r.db.pool.QueryRow(ctx, fmt.Sprintf(`SELECT `+grantColumns+` FROM %s WHERE id = $1`, r.table), id)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authz.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// Delete removes a grant
func (r *GrantRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table), id)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrGrantNotFound
	}
	return nil
}

// ListByGrantee retrieves a user's grants on exactly one scope
func (r *GrantRepository) ListByGrantee(ctx context.Context, granteeID string, scope authz.Scope) ([]authz.Grant, error) {
	return r.list(ctx, fmt.Sprintf(`
		SELECT `+grantColumns+` FROM %s
		WHERE grantee_id = $1 AND resource_type = $2 AND resource_path = $3
	`, r.table), granteeID, string(scope.Type), scope.Path)
}

// ListByRole retrieves role-level grants on exactly one scope
func (r *GrantRepository) ListByRole(ctx context.Context, role identity.Role, scope authz.Scope) ([]authz.Grant, error) {
	return r.list(ctx, fmt.Sprintf(`
		SELECT `+grantColumns+` FROM %s
		WHERE role = $1 AND resource_type = $2 AND resource_path = $3
	`, r.table), string(role), string(scope.Type), scope.Path)
}

// ListForGrantee retrieves every grant held by a user
func (r *GrantRepository) ListForGrantee(ctx context.Context, granteeID string) ([]authz.Grant, error) {
	return r.list(ctx, fmt.Sprintf(`
		SELECT `+grantColumns+` FROM %s
		WHERE grantee_id = $1
		ORDER BY granted_at
	`, r.table), granteeID)
}

func (r *GrantRepository) list(ctx context.Context, query string, args ...any) ([]authz.Grant, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []authz.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return grants, nil
}

func scanGrant(row pgx.Row) (*authz.Grant, error) {
	var g authz.Grant
	var role, rt string
	p := &g.Permissions
	err := row.Scan(
		&g.ID, &g.GranteeID, &role, &rt, &g.ResourcePath,
		&p.FullAccess, &p.CanRead, &p.CanWrite, &p.CanDelete, &p.CanShare, &p.CanGrant,
		&g.GrantedBy, &g.GrantedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Role = identity.Role(role)
	g.ResourceType = authz.ResourceType(rt)
	return &g, nil
}
