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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/bucketwarden/internal/session"
)

// SessionRepository implements session.Repository
type SessionRepository struct {
	db    *DB
	table string
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, table string) *SessionRepository {
	if table == "" {
		table = DefaultTables().Sessions
	}
	return &SessionRepository{db: db, table: ident(table)}
}

// Put creates or replaces a session
func (r *SessionRepository) Put(ctx context.Context, sess *session.Session) error {
	perms, err := json.Marshal(sess.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode session permissions: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, username, permissions, active, created_at, last_activity, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			active = EXCLUDED.active,
			last_activity = EXCLUDED.last_activity,
			expires_at = EXCLUDED.expires_at
	`, r.table),
		sess.ID, sess.UserID, sess.Username, perms, sess.Active,
		sess.CreatedAt, sess.LastActivity, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	var sess session.Session
	var perms []byte

	err := r.db.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, user_id, username, permissions, active, created_at, last_activity, expires_at
		FROM %s
		WHERE id = $1
	`, r.table), sessionID).Scan(
		&sess.ID, &sess.UserID, &sess.Username, &perms, &sess.Active,
		&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal(perms, &sess.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode session permissions: %w", err)
	}
	return &sess, nil
}

// UpdateActivity updates session last activity time
func (r *SessionRepository) UpdateActivity(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := r.db.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET last_activity = $1 WHERE id = $2
	`, r.table), at, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// Deactivate marks a session inactive
func (r *SessionRepository) Deactivate(ctx context.Context, sessionID string) error {
	tag, err := r.db.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET active = FALSE WHERE id = $1
	`, r.table), sessionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// DeleteExpired deletes all sessions that expired before the given time
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE expires_at < $1
	`, r.table), before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
