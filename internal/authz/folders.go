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

	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
)

// Reasons recorded on folder_access_denied.
const (
	reasonNoMatchingFolder = "no_matching_folder"
	reasonActionNotAllowed = "action_not_allowed"
	reasonLookupFailed     = "user_lookup_failed"
	reasonInactive         = "inactive_account"
	reasonMalformedPath    = "malformed_path"
)

// DefaultFolderAccess returns the folders every user with level may reach,
// independent of their explicit folder_access list.
func DefaultFolderAccess(level identity.AccessLevel) []string {
	switch level {
	case identity.AccessFull, identity.AccessAdmin:
		return []string{"/"}
	case identity.AccessPull, identity.AccessReadOnly:
		return []string{"/public/", "/downloads/", "/shared/"}
	case identity.AccessPush, identity.AccessWriteOnly:
		return []string{"/public/", "/uploads/", "/temp/"}
	case identity.AccessBoth, identity.AccessReadWrite:
		return []string{"/public/", "/downloads/", "/uploads/", "/shared/", "/temp/"}
	default:
		return []string{"/public/"}
	}
}

// ActionAllowed reports whether an access level permits a folder action.
func ActionAllowed(action Action, level identity.AccessLevel) bool {
	switch action {
	case ActionRead:
		switch level {
		case identity.AccessPull, identity.AccessBoth, identity.AccessReadOnly, identity.AccessReadWrite, identity.AccessFull:
			return true
		}
	case ActionWrite:
		switch level {
		case identity.AccessPush, identity.AccessBoth, identity.AccessWriteOnly, identity.AccessReadWrite, identity.AccessFull:
			return true
		}
	case ActionDelete:
		switch level {
		case identity.AccessBoth, identity.AccessFull, identity.AccessReadWrite:
			return true
		}
	}
	return false
}

// CheckFolderAccess reports whether a user may perform action inside
// folderPath based on their access level and folder allow-list. Denials are
// audited.
func (e *Engine) CheckFolderAccess(ctx context.Context, userID, folderPath string, action Action) bool {
	user, err := e.findUserAny(ctx, userID)
	if err != nil {
		e.logger.WarnContext(ctx, "folder access lookup failed closed", logger.UserID(userID), logger.Error(err))
		e.auditFolderDenied(ctx, userID, folderPath, action, "", reasonLookupFailed)
		return false
	}
	if !user.IsActive() {
		e.auditFolderDenied(ctx, userID, folderPath, action, user.AccessLevel, reasonInactive)
		return false
	}
	if user.Role.IsAdmin() || user.AccessLevel == identity.AccessFull || user.AccessLevel == identity.AccessAdmin {
		return true
	}

	target, err := splitPath(folderPath)
	if err != nil {
		e.auditFolderDenied(ctx, userID, folderPath, action, user.AccessLevel, reasonMalformedPath)
		return false
	}

	if !matchesAny(target, user.FolderAccess) && !matchesAny(target, DefaultFolderAccess(user.AccessLevel)) {
		e.auditFolderDenied(ctx, userID, folderPath, action, user.AccessLevel, reasonNoMatchingFolder)
		return false
	}
	if !ActionAllowed(action, user.AccessLevel) {
		e.auditFolderDenied(ctx, userID, folderPath, action, user.AccessLevel, reasonActionNotAllowed)
		return false
	}
	return true
}

// matchesAny reports whether target equals or lies below any entry.
// Malformed entries never match.
func matchesAny(target []string, entries []string) bool {
	for _, entry := range entries {
		prefix, err := splitPath(entry)
		if err != nil {
			continue
		}
		if hasSegmentPrefix(target, prefix) {
			return true
		}
	}
	return false
}

func (e *Engine) auditFolderDenied(ctx context.Context, userID, folderPath string, action Action, level identity.AccessLevel, reason string) {
	e.logger.InfoContext(ctx, "folder access denied",
		logger.UserID(userID),
		logger.Path(folderPath),
		logger.Action(string(action)),
		logger.String(audit.AttrReason, reason),
	)
	e.auditor.Append(ctx, audit.Record{
		ActorID:      userID,
		Action:       audit.ActionFolderAccessDenied,
		ResourceType: string(ResourceFolder),
		ResourcePath: folderPath,
		Allowed:      audit.Bool(false),
		Severity:     audit.SeverityWarning,
		Details: map[string]any{
			audit.AttrReason:       reason,
			audit.AttrFolderAction: string(action),
			audit.AttrAccessLevel:  string(level),
		},
	})
}
