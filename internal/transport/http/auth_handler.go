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
	"time"

	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/session"
	"github.com/opentrusty/bucketwarden/internal/token"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID           string               `json:"id"`
	Username     string               `json:"username"`
	Email        string               `json:"email,omitempty"`
	Role         identity.Role        `json:"role"`
	AccessLevel  identity.AccessLevel `json:"access_level"`
	Status       identity.Status      `json:"status"`
	FolderAccess []string             `json:"folder_access"`
	BucketAccess []string             `json:"bucket_access,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

func toUserResponse(u *identity.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Role:         u.Role,
		AccessLevel:  u.AccessLevel,
		Status:       u.Status,
		FolderAccess: u.FolderAccess,
		BucketAccess: u.BucketAccess,
		CreatedAt:    u.CreatedAt,
	}
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if !res.Success {
		respondError(w, failureStatus(res.Message), res.Message)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
		"token_type":    "Bearer",
		"expires_at":    res.ExpiresAt,
		"session_id":    res.SessionID,
		"permissions":   res.Permissions,
		"user":          toUserResponse(res.User),
	})
}

// Refresh exchanges a refresh token for a new access token
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := h.auth.RefreshToken(r.Context(), req.RefreshToken)
	if !res.Success {
		respondError(w, failureStatus(res.Error), res.Error)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": res.AccessToken,
		"token_type":   "Bearer",
		"expires_at":   res.ExpiresAt,
	})
}

// Logout ends the caller's session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.auth.Logout(r.Context(), GetUserID(r.Context()), GetSessionID(r.Context()))
	switch {
	case errors.Is(err, token.ErrSessionOwner):
		respondError(w, http.StatusForbidden, "session belongs to another user")
		return
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusUnauthorized, token.MsgInvalidSession)
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to end session",
			logger.SessionID(GetSessionID(r.Context())),
			logger.Error(err),
		)
		respondError(w, http.StatusServiceUnavailable, "failed to end session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the authenticated user and the bucket-root permissions
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	perms := h.authz.GetPermissions(r.Context(), user.ID, authz.ResourceBucket, "")

	respondJSON(w, http.StatusOK, map[string]any{
		"user":        toUserResponse(user),
		"session_id":  GetSessionID(r.Context()),
		"permissions": perms,
	})
}

// failureStatus maps a token service message to an HTTP status.
func failureStatus(msg string) int {
	switch msg {
	case token.MsgUnavailable:
		return http.StatusServiceUnavailable
	case token.MsgTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusUnauthorized
}
