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
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
)

// CheckRequest asks whether a user may perform an action on a resource.
// UserID defaults to the caller; checking another user requires the admin role.
type CheckRequest struct {
	UserID       string `json:"user_id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourcePath string `json:"resource_path"`
}

// FolderCheckRequest asks whether a user may act inside a folder.
type FolderCheckRequest struct {
	UserID     string `json:"user_id"`
	FolderPath string `json:"folder_path"`
	Action     string `json:"action"`
}

// GrantRequest creates a grant for a user or, with Role set, for every user of a role.
type GrantRequest struct {
	GranteeID    string              `json:"grantee_id"`
	Role         string              `json:"role"`
	ResourceType string              `json:"resource_type"`
	ResourcePath string              `json:"resource_path"`
	Permissions  authz.PermissionSet `json:"permissions"`
}

// GrantResponse is the public view of a grant
type GrantResponse struct {
	ID           string              `json:"id"`
	GranteeID    string              `json:"grantee_id,omitempty"`
	Role         identity.Role       `json:"role,omitempty"`
	ResourceType authz.ResourceType  `json:"resource_type"`
	ResourcePath string              `json:"resource_path"`
	Permissions  authz.PermissionSet `json:"permissions"`
	GrantedBy    string              `json:"granted_by"`
	GrantedAt    time.Time           `json:"granted_at"`
}

func toGrantResponse(g authz.Grant) GrantResponse {
	return GrantResponse{
		ID:           g.ID,
		GranteeID:    g.GranteeID,
		Role:         g.Role,
		ResourceType: g.ResourceType,
		ResourcePath: g.ResourcePath,
		Permissions:  g.Permissions,
		GrantedBy:    g.GrantedBy,
		GrantedAt:    g.GrantedAt,
	}
}

var errOtherUser = errors.New("admin role required to act for another user")

// subject resolves the user a request is about.
func subject(r *http.Request, requested string) (string, error) {
	caller := GetUser(r.Context())
	if requested == "" || requested == caller.ID {
		return caller.ID, nil
	}
	if !caller.Role.IsAdmin() {
		return "", errOtherUser
	}
	return requested, nil
}

// CheckPermission answers a permission check
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Action == "" || req.ResourceType == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := subject(r, req.UserID)
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	allowed := h.authz.CheckPermission(r.Context(), userID, authz.Action(req.Action),
		authz.ResourceType(req.ResourceType), req.ResourcePath)
	respondJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// CheckFolderAccess answers a folder access check
func (h *Handler) CheckFolderAccess(w http.ResponseWriter, r *http.Request) {
	var req FolderCheckRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Action == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := subject(r, req.UserID)
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	allowed := h.authz.CheckFolderAccess(r.Context(), userID, req.FolderPath, authz.Action(req.Action))
	respondJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// CreateGrant grants permissions on behalf of the caller
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := decodeJSON(w, r, &req); err != nil || (req.GranteeID == "") == (req.Role == "") {
		respondError(w, http.StatusBadRequest, "exactly one of grantee_id or role is required")
		return
	}
	caller := GetUserID(r.Context())
	rt := authz.ResourceType(req.ResourceType)

	if req.Role != "" {
		role, err := identity.ParseRole(req.Role)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid role")
			return
		}
		g, ok := h.authz.GrantRolePermission(r.Context(), caller, role, req.Permissions, rt, req.ResourcePath)
		if !ok {
			respondError(w, http.StatusForbidden, "permission denied")
			return
		}
		respondJSON(w, http.StatusCreated, toGrantResponse(*g))
		return
	}

	if !h.authz.GrantPermission(r.Context(), caller, req.GranteeID, req.Permissions, rt, req.ResourcePath) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]bool{"granted": true})
}

// RevokeGrant revokes a grant; the grantee query parameter names the holder
func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	grantID := chi.URLParam(r, "grantID")
	grantee := r.URL.Query().Get("grantee")

	if !h.authz.RevokePermission(r.Context(), GetUserID(r.Context()), grantee, grantID) {
		respondError(w, http.StatusForbidden, "revocation denied")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListGrants lists the grants held by a user
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(r, r.URL.Query().Get("grantee"))
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	grants, err := h.authz.ListGrants(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to list grants")
		return
	}

	out := make([]GrantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g))
	}
	respondJSON(w, http.StatusOK, map[string]any{"grants": out})
}
