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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/retry"
	"github.com/opentrusty/bucketwarden/internal/storage/s3"
)

// CreateUserRequest represents a new user account
type CreateUserRequest struct {
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	Role         string   `json:"role"`
	AccessLevel  string   `json:"access_level"`
	FolderAccess []string `json:"folder_access"`
	BucketAccess []string `json:"bucket_access"`
}

// UpdateUserRequest carries partial user changes. Absent fields are left untouched.
type UpdateUserRequest struct {
	Username     *string  `json:"username"`
	Email        *string  `json:"email"`
	Password     *string  `json:"password"`
	AccessLevel  *string  `json:"access_level"`
	FolderAccess []string `json:"folder_access"`
	BucketAccess []string `json:"bucket_access"`
}

// StatusRequest sets a user's status
type StatusRequest struct {
	Status string `json:"status"`
}

// PasswordRequest carries a replacement password
type PasswordRequest struct {
	Password string `json:"password"`
}

// RoleRequest sets a user's role
type RoleRequest struct {
	Role string `json:"role"`
}

// ListUsers lists every user
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list users", logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "failed to list users")
		return
	}

	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": out})
}

// CreateUser creates a user account
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := identity.NewUser{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		FolderAccess: req.FolderAccess,
		BucketAccess: req.BucketAccess,
	}
	if req.Role != "" {
		role, err := identity.ParseRole(req.Role)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid role")
			return
		}
		in.Role = role
	}
	if req.AccessLevel != "" {
		level, err := identity.ParseAccessLevel(req.AccessLevel)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid access level")
			return
		}
		in.AccessLevel = level
	}

	user, err := h.users.CreateUser(r.Context(), GetUserID(r.Context()), in)
	if err != nil {
		h.respondUserError(w, r, "failed to create user", err)
		return
	}

	respondJSON(w, http.StatusCreated, toUserResponse(user))
}

// UpdateUser applies partial changes to a user
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ch := identity.UserChanges{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		FolderAccess: req.FolderAccess,
		BucketAccess: req.BucketAccess,
	}
	if req.AccessLevel != nil {
		level, err := identity.ParseAccessLevel(*req.AccessLevel)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid access level")
			return
		}
		ch.AccessLevel = &level
	}

	userID := chi.URLParam(r, "userID")
	if err := h.users.UpdateUser(r.Context(), GetUserID(r.Context()), userID, ch); err != nil {
		h.respondUserError(w, r, "failed to update user", err)
		return
	}
	h.respondUser(w, r, userID)
}

// SetUserStatus activates or deactivates a user
func (h *Handler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := chi.URLParam(r, "userID")
	if userID == GetUserID(r.Context()) && identity.Status(req.Status) == identity.StatusInactive {
		respondError(w, http.StatusBadRequest, "cannot deactivate own account")
		return
	}
	if err := h.users.SetStatus(r.Context(), GetUserID(r.Context()), userID, identity.Status(req.Status)); err != nil {
		h.respondUserError(w, r, "failed to update status", err)
		return
	}
	h.respondUser(w, r, userID)
}

// ResetPassword replaces a user's password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.users.ResetPassword(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "userID"), req.Password); err != nil {
		h.respondUserError(w, r, "failed to reset password", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// UpdateUserRole changes a user's role
func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid role")
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := h.users.UpdateRole(r.Context(), GetUserID(r.Context()), userID, role); err != nil {
		h.respondUserError(w, r, "failed to update role", err)
		return
	}
	h.respondUser(w, r, userID)
}

// GetUserFolders lists the folders a user may browse
func (h *Handler) GetUserFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.users.FolderAccess(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondUserError(w, r, "failed to load folder access", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// ListFolders enumerates folders in the bucket under the optional prefix
func (h *Handler) ListFolders(w http.ResponseWriter, r *http.Request) {
	if h.folders == nil {
		respondError(w, http.StatusNotImplemented, "object storage is not configured")
		return
	}

	folders, err := h.folders.ListFolders(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		if errors.Is(err, s3.ErrInvalidFolder) {
			respondError(w, http.StatusBadRequest, "invalid prefix")
			return
		}
		slog.ErrorContext(r.Context(), "failed to list folders", logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "failed to list folders")
		return
	}
	if folders == nil {
		folders = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (h *Handler) respondUser(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		h.respondUserError(w, r, "failed to load user", err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

// respondUserError maps directory errors to HTTP statuses.
func (h *Handler) respondUserError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, identity.ErrUserAlreadyExists):
		respondError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, identity.ErrForbidden):
		respondError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, identity.ErrInvalidUsername),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrUsernameImmutable),
		errors.Is(err, identity.ErrInvalidRole),
		errors.Is(err, identity.ErrInvalidAccessLevel),
		errors.Is(err, identity.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, retry.ErrTimeout):
		respondError(w, http.StatusGatewayTimeout, msg)
	default:
		slog.ErrorContext(r.Context(), msg, logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, msg)
	}
}

// QueryAudit returns audit records matching the query parameters
// actor, action, path, since, until (RFC 3339) and limit.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID:      q.Get("actor"),
		Action:       q.Get("action"),
		ResourcePath: q.Get("path"),
	}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid since")
		return
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid until")
		return
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	records, err := h.audit.Query(r.Context(), f)
	if err != nil {
		if errors.Is(err, audit.ErrNotQueryable) {
			respondError(w, http.StatusNotImplemented, "audit log is not queryable")
			return
		}
		slog.ErrorContext(r.Context(), "failed to query audit log", logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "failed to query audit log")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
