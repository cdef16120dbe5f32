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

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultTable is the audit table created by the initial migration.
const DefaultTable = "audit_log"

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLSink stores records in a relational table through database/sql.
type SQLSink struct {
	db    *sql.DB
	table string
}

// NewSQLSink creates a sink writing to table. An empty table uses DefaultTable.
func NewSQLSink(db *sql.DB, table string) (*SQLSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid audit table name %q", table)
	}
	return &SQLSink{db: db, table: table}, nil
}

func (s *SQLSink) Name() string { return "sql" }

// Write inserts rec.
func (s *SQLSink) Write(ctx context.Context, rec Record) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to encode details: %w", err)
	}
	var allowed sql.NullBool
	if rec.Allowed != nil {
		allowed = sql.NullBool{Bool: *rec.Allowed, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, occurred_at, actor_id, target_id, action, resource_type, resource_path, allowed, severity, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.table)
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp, rec.ActorID, rec.TargetID, rec.Action,
		rec.ResourceType, rec.ResourcePath, allowed, string(rec.Severity), details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *SQLSink) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ResourcePath != "" {
		add("resource_path = $%d", f.ResourcePath)
	}
	if !f.Since.IsZero() {
		add("occurred_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("occurred_at < $%d", f.Until)
	}

	query := fmt.Sprintf(`SELECT id, occurred_at, actor_id, target_id, action, resource_type, resource_path, allowed, severity, details FROM %s`, s.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			allowed  sql.NullBool
			severity string
			details  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.ActorID, &rec.TargetID, &rec.Action,
			&rec.ResourceType, &rec.ResourcePath, &allowed, &severity, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if allowed.Valid {
			rec.Allowed = Bool(allowed.Bool)
		}
		rec.Severity = Severity(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("failed to decode details: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Purge deletes records older than before.
func (s *SQLSink) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE occurred_at < $1`, s.table), before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	return res.RowsAffected()
}
