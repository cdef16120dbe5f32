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
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opentrusty/bucketwarden/internal/identity"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, role, access_level, status,
	folder_access, bucket_access, created_at, updated_at`

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db    *DB
	table string
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, table string) *UserRepository {
	if table == "" {
		table = DefaultTables().Users
	}
	return &UserRepository{db: db, table: ident(table)}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now().UTC()
	_, err := r.db.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.table),
		user.ID, user.Username, user.Email, user.PasswordHash,
		string(user.Role), string(user.AccessLevel), string(user.Status),
		nonNil(user.FolderAccess), nonNil(user.BucketAccess), now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return identity.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// FindByID retrieves a user by ID
func (r *UserRepository) FindByID(ctx context.Context, id string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, fmt.Sprintf(`SELECT `+userColumns+` FROM %s WHERE id = $1`, r.table), id)
	return scanUser(row)
}

// FindByUsername retrieves a user by username
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, fmt.Sprintf(`SELECT `+userColumns+` FROM %s WHERE username = $1`, r.table), username)
	return scanUser(row)
}

// UpdateFields applies the non-nil fields of update
func (r *UserRepository) UpdateFields(ctx context.Context, id string, update identity.UserUpdate) error {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.PasswordHash != nil {
		add("password_hash", *update.PasswordHash)
	}
	if update.Role != nil {
		add("role", string(*update.Role))
	}
	if update.AccessLevel != nil {
		add("access_level", string(*update.AccessLevel))
	}
	if update.FolderAccess != nil {
		add("folder_access", nonNil(*update.FolderAccess))
	}
	if update.BucketAccess != nil {
		add("bucket_access", nonNil(*update.BucketAccess))
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, r.table, strings.Join(sets, ", "), len(args))
	tag, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// SetStatus activates or deactivates a user
func (r *UserRepository) SetStatus(ctx context.Context, id string, status identity.Status) error {
	tag, err := r.db.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, updated_at = $2 WHERE id = $3
	`, r.table), string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// ListAll returns every user ordered by username, without password hashes
func (r *UserRepository) ListAll(ctx context.Context) ([]identity.User, error) {
	rows, err := r.db.pool.Query(ctx, fmt.Sprintf(`SELECT `+userColumns+` FROM %s ORDER BY username`, r.table))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u.Sanitized())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (*identity.User, error) {
	var u identity.User
	var role, level, status string
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &level, &status,
		&u.FolderAccess, &u.BucketAccess, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Role = identity.Role(role)
	u.AccessLevel = identity.AccessLevel(level)
	u.Status = identity.Status(status)
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
