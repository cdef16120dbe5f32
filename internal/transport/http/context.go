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

package http

import (
	"context"

	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
)

type contextKey string

const (
	userKey        contextKey = "user"
	sessionIDKey   contextKey = "session_id"
	permissionsKey contextKey = "permissions"
)

func withPrincipal(ctx context.Context, user *identity.User, sessionID string, perms authz.PermissionSet) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, permissionsKey, perms)
}

// GetUser retrieves the authenticated user from context.
func GetUser(ctx context.Context) *identity.User {
	if val, ok := ctx.Value(userKey).(*identity.User); ok {
		return val
	}
	return nil
}

// GetUserID retrieves the authenticated User ID from context.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return ""
}

// GetSessionID retrieves the Session ID from context.
func GetSessionID(ctx context.Context) string {
	if val, ok := ctx.Value(sessionIDKey).(string); ok {
		return val
	}
	return ""
}

// GetPermissions retrieves the login-time permission snapshot from context.
func GetPermissions(ctx context.Context) authz.PermissionSet {
	if val, ok := ctx.Value(permissionsKey).(authz.PermissionSet); ok {
		return val
	}
	return authz.PermissionSet{}
}
