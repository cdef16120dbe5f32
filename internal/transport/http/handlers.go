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
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/token"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Authenticator is the token service surface used by the API.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) token.AuthResult
	ValidateToken(ctx context.Context, tokenString string) token.ValidationResult
	RefreshToken(ctx context.Context, refreshToken string) token.RefreshResult
	Logout(ctx context.Context, userID, sessionID string) error
}

// Authorizer is the permission engine surface used by the API.
type Authorizer interface {
	CheckPermission(ctx context.Context, userID string, action authz.Action, resourceType authz.ResourceType, resourcePath string) bool
	CheckFolderAccess(ctx context.Context, userID, folderPath string, action authz.Action) bool
	GetPermissions(ctx context.Context, userID string, resourceType authz.ResourceType, resourcePath string) authz.PermissionSet
	GrantPermission(ctx context.Context, granterID, granteeID string, set authz.PermissionSet, resourceType authz.ResourceType, resourcePath string) bool
	GrantRolePermission(ctx context.Context, granterID string, role identity.Role, set authz.PermissionSet, resourceType authz.ResourceType, resourcePath string) (*authz.Grant, bool)
	RevokePermission(ctx context.Context, revokerID, granteeID, grantID string) bool
	ListGrants(ctx context.Context, granteeID string) ([]authz.Grant, error)
}

// Directory is the user directory surface used by the API.
type Directory interface {
	CreateUser(ctx context.Context, actorID string, in identity.NewUser) (*identity.User, error)
	ListUsers(ctx context.Context) ([]identity.User, error)
	GetUser(ctx context.Context, userID string) (*identity.User, error)
	UpdateUser(ctx context.Context, actorID, userID string, ch identity.UserChanges) error
	SetStatus(ctx context.Context, actorID, userID string, status identity.Status) error
	ResetPassword(ctx context.Context, actorID, userID, newPassword string) error
	UpdateRole(ctx context.Context, actorID, userID string, role identity.Role) error
	FolderAccess(ctx context.Context, userID string) ([]string, error)
}

// FolderLister enumerates folders in object storage.
type FolderLister interface {
	ListFolders(ctx context.Context, prefix string) ([]string, error)
}

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	auth     Authenticator
	authz    Authorizer
	users    Directory
	folders  FolderLister
	audit    audit.Querier
	security *logger.SecurityLogger
	checks   map[string]Checker
}

// Deps groups the Handler dependencies.
type Deps struct {
	Auth     Authenticator
	Authz    Authorizer
	Users    Directory
	Folders  FolderLister
	Audit    audit.Querier
	Logger   *slog.Logger
	Checkers map[string]Checker
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		auth:     d.Auth,
		authz:    d.Authz,
		users:    d.Users,
		folders:  d.Folders,
		audit:    d.Audit,
		security: logger.NewSecurityLogger(l),
		checks:   d.Checkers,
	}
}

// RouterOptions configures cross-cutting middleware.
type RouterOptions struct {
	LoginLimiter *RateLimiter
	Metrics      http.Handler
	Instrument   func(http.Handler) http.Handler
	Timeout      time.Duration
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.Instrument != nil {
		r.Use(opts.Instrument)
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", h.HealthCheck)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.LoginLimiter != nil {
				r.Use(h.RateLimitMiddleware(opts.LoginLimiter))
			}
			r.Post("/auth/login", h.Login)
			r.Post("/auth/refresh", h.Refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Post("/auth/logout", h.Logout)
			r.Get("/auth/me", h.GetCurrentUser)

			r.Post("/authz/check", h.CheckPermission)
			r.Post("/authz/folder-check", h.CheckFolderAccess)

			r.Route("/grants", func(r chi.Router) {
				r.Get("/", h.ListGrants)
				r.Post("/", h.CreateGrant)
				r.Delete("/{grantID}", h.RevokeGrant)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.RequireAdmin)
				r.Get("/users", h.ListUsers)
				r.Post("/users", h.CreateUser)
				r.Patch("/users/{userID}", h.UpdateUser)
				r.Put("/users/{userID}/status", h.SetUserStatus)
				r.Put("/users/{userID}/password", h.ResetPassword)
				r.Put("/users/{userID}/role", h.UpdateUserRole)
				r.Get("/users/{userID}/folders", h.GetUserFolders)
				r.Get("/folders", h.ListFolders)
				r.Get("/audit", h.QueryAudit)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			slog.WarnContext(r.Context(), "health check failed", logger.Component(name), logger.Error(err))
			deps[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":  "healthy",
		"service": "bucketwarden",
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	respondJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
