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

// Package audit records access decisions and permission changes in an
// append-only trail. Writes are fire-and-forget: a failing sink never
// blocks or fails the decision that produced the record.
package audit

import (
	"context"
	"errors"
	"time"
)

// Actions
const (
	ActionPermissionCheck       = "permission_check"
	ActionPermissionGrant       = "permission_grant"
	ActionPermissionGrantDenied = "permission_grant_denied"
	ActionPermissionRevoke      = "permission_revoke"
	ActionRevokeDenied          = "permission_revoke_denied"
	ActionFolderAccessDenied    = "folder_access_denied"
	ActionLoginSuccess          = "login_success"
	ActionLoginFailed           = "login_failed"
	ActionLogout                = "logout"
	ActionTokenRefreshed        = "token_refreshed"
	ActionUserCreated           = "user_created"
	ActionUserUpdated           = "user_updated"
	ActionUserStatusChanged     = "user_status_changed"
	ActionPasswordReset         = "password_reset"
	ActionRoleChanged           = "role_changed"
	ActionAdminBootstrap        = "admin_bootstrap"
)

// Reasons recorded under AttrReason.
const (
	ReasonUserNotFound    = "user_not_found"
	ReasonInvalidPassword = "invalid_password"
	ReasonInactive        = "inactive_account"
	ReasonLoginSuccess    = "login_success"
)

// Detail keys
const (
	AttrReason       = "reason"
	AttrUsername     = "username"
	AttrSessionID    = "session_id"
	AttrGrantID      = "grant_id"
	AttrPermissions  = "permissions"
	AttrAccessLevel  = "access_level"
	AttrRole         = "role"
	AttrFields       = "fields"
	AttrStatus       = "status"
	AttrError        = "error"
	AttrRequestedBy  = "requested_by"
	AttrFolderAction = "folder_action"
)

// ActorSystem identifies actions taken by the process itself.
const ActorSystem = "system"

// Severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ErrNotQueryable is returned by Query when no configured sink supports reads.
var ErrNotQueryable = errors.New("no queryable audit sink configured")

// Record is a single audit entry.
type Record struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      string         `json:"actor_id"`
	TargetID     string         `json:"target_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourcePath string         `json:"resource_path,omitempty"`
	Allowed      *bool          `json:"allowed,omitempty"`
	Severity     Severity       `json:"severity"`
	Details      map[string]any `json:"details,omitempty"`
}

// Bool returns a pointer to b, for Record.Allowed.
func Bool(b bool) *bool {
	return &b
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	ActorID      string
	Action       string
	ResourcePath string
	Since        time.Time
	Until        time.Time
	Limit        int
}

// DefaultQueryLimit caps Query results when Filter.Limit is unset.
const DefaultQueryLimit = 100

// Match reports whether r satisfies f.
func (f Filter) Match(r Record) bool {
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.ResourcePath != "" && r.ResourcePath != f.ResourcePath {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

// Appender is the write side consumed by the permission engine and token service.
type Appender interface {
	Append(ctx context.Context, rec Record)
}

// Sink persists records.
type Sink interface {
	// Name identifies the sink in logs
	Name() string

	// Write persists a single record
	Write(ctx context.Context, rec Record) error
}

// Querier is implemented by sinks that can read records back.
type Querier interface {
	Query(ctx context.Context, f Filter) ([]Record, error)
}

// Purger is implemented by sinks that support the retention sweep.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}
