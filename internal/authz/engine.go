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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/id"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/retry"
)

const instrumentationName = "github.com/opentrusty/bucketwarden/internal/authz"

// PermissionCache stores resolved permission sets.
type PermissionCache interface {
	Get(key string) (PermissionSet, bool)
	Set(key string, value PermissionSet)
	DeletePrefix(prefix string) int
	Clear()
}

// Engine resolves effective permissions and manages grants.
type Engine struct {
	users    identity.UserRepository
	grants   GrantRepository
	cache    PermissionCache
	auditor  audit.Appender
	defaults RoleDefaults
	policy   retry.Policy
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	// genMu orders cache writes against invalidation. A resolution that
	// started before an invalidation never writes its result.
	genMu sync.Mutex
	epoch uint64
	gens  map[string]uint64

	decisions metric.Int64Counter
	cacheHits metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithRoleDefaults merges extra per-role defaults into the built-in ones.
func WithRoleDefaults(extra RoleDefaults) Option {
	return func(e *Engine) { e.defaults = e.defaults.With(extra) }
}

// WithRetryPolicy sets the storage timeout and retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With(logger.Component("authz")) }
}

// WithClock overrides the time source used for grant timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMeter sets the meter used for decision and cache-hit counters.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.initMetrics(m) }
}

// NewEngine creates a new permission engine
func NewEngine(
	users identity.UserRepository,
	grants GrantRepository,
	cache PermissionCache,
	auditor audit.Appender,
	opts ...Option,
) *Engine {
	e := &Engine{
		users:    users,
		grants:   grants,
		cache:    cache,
		auditor:  auditor,
		defaults: BuiltinRoleDefaults(),
		policy:   retry.DefaultPolicy(),
		logger:   slog.Default().With(logger.Component("authz")),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
		gens:     make(map[string]uint64),
	}
	e.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) initMetrics(m metric.Meter) {
	var err error
	if e.decisions, err = m.Int64Counter("authz.decisions", metric.WithDescription("Permission decisions by action and outcome")); err != nil {
		e.logger.Warn("failed to create counter", logger.Error(err))
	}
	if e.cacheHits, err = m.Int64Counter("authz.cache.hits", metric.WithDescription("Permission cache hits")); err != nil {
		e.logger.Warn("failed to create counter", logger.Error(err))
	}
}

func cacheKey(userID string, s Scope) string {
	return userID + ":" + string(s.Type) + ":" + s.Path
}

func userPrefix(userID string) string {
	return userID + ":"
}

// generation returns a value that changes whenever userID's cached results
// are invalidated.
func (e *Engine) generation(userID string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.epoch + e.gens[userID]
}

// store caches perms unless userID was invalidated after gen was taken.
func (e *Engine) store(userID string, gen uint64, key string, perms PermissionSet) {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	if e.epoch+e.gens[userID] != gen {
		return
	}
	e.cache.Set(key, perms)
}

// clearAll drops every cached result.
func (e *Engine) clearAll() {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.epoch++
	e.cache.Clear()
}

// GetPermissions returns the effective permissions of a user on a resource.
// Any failure yields the empty set.
func (e *Engine) GetPermissions(ctx context.Context, userID string, resourceType ResourceType, resourcePath string) PermissionSet {
	ctx, span := e.tracer.Start(ctx, "authz.GetPermissions")
	defer span.End()

	if userID == "" {
		return PermissionSet{}
	}
	scope, err := NewScope(resourceType, resourcePath)
	if err != nil {
		e.logger.WarnContext(ctx, "rejected resource reference",
			logger.UserID(userID),
			logger.Resource(string(resourceType), resourcePath),
			logger.Error(err),
		)
		return PermissionSet{}
	}

	if p, ok := e.cache.Get(cacheKey(userID, scope)); ok {
		e.add(ctx, e.cacheHits)
		return p
	}
	gen := e.generation(userID)

	user, err := e.findUser(ctx, userID)
	if err != nil {
		e.logger.WarnContext(ctx, "permission lookup failed closed", logger.UserID(userID), logger.Error(err))
		return PermissionSet{}
	}

	perms, err := e.resolve(ctx, user, gen, scope)
	if err != nil {
		e.logger.ErrorContext(ctx, "permission resolution failed closed",
			logger.UserID(userID),
			logger.Resource(string(scope.Type), scope.Path),
			logger.Error(err),
		)
		return PermissionSet{}
	}
	return perms
}

func (e *Engine) findUser(ctx context.Context, userID string) (*identity.User, error) {
	var user *identity.User
	err := e.policy.Once(ctx, func(ctx context.Context) error {
		u, err := e.users.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !user.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", identity.ErrInvalidRole, user.Role)
	}
	if !user.IsActive() {
		return nil, errors.New("account is inactive")
	}
	return user, nil
}

// resolve walks from scope up to the bucket root. Each level is cached
// unless the user was invalidated since gen was taken.
func (e *Engine) resolve(ctx context.Context, user *identity.User, gen uint64, scope Scope) (PermissionSet, error) {
	key := cacheKey(user.ID, scope)
	if p, ok := e.cache.Get(key); ok {
		e.add(ctx, e.cacheHits)
		return p, nil
	}

	perms := e.defaults[user.Role]
	if perms.FullAccess {
		perms = perms.Normalize()
		e.store(user.ID, gen, key, perms)
		return perms, nil
	}

	var roleGrants, userGrants []Grant
	err := e.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		roleGrants, err = e.grants.ListByRole(ctx, user.Role, scope)
		return err
	})
	if err != nil {
		return PermissionSet{}, fmt.Errorf("failed to list role grants: %w", err)
	}
	for _, g := range roleGrants {
		perms = perms.Merge(g.Permissions)
	}
	if perms.FullAccess {
		e.store(user.ID, gen, key, perms)
		return perms, nil
	}

	err = e.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		userGrants, err = e.grants.ListByGrantee(ctx, user.ID, scope)
		return err
	})
	if err != nil {
		return PermissionSet{}, fmt.Errorf("failed to list user grants: %w", err)
	}
	for _, g := range userGrants {
		perms = perms.Merge(g.Permissions)
	}

	if !perms.FullAccess && !scope.IsRoot() {
		inherited, err := e.resolve(ctx, user, gen, scope.Parent())
		if err != nil {
			return PermissionSet{}, err
		}
		perms = perms.Merge(inherited)
	}

	e.store(user.ID, gen, key, perms)
	return perms, nil
}

// CheckPermission reports whether a user may perform action on a resource.
// The decision is always audited.
func (e *Engine) CheckPermission(ctx context.Context, userID string, action Action, resourceType ResourceType, resourcePath string) bool {
	perms := e.GetPermissions(ctx, userID, resourceType, resourcePath)
	allowed := perms.Allows(action)

	sev := audit.SeverityInfo
	if !allowed {
		sev = audit.SeverityWarning
	}
	e.auditor.Append(ctx, audit.Record{
		ActorID:      userID,
		Action:       audit.ActionPermissionCheck,
		ResourceType: string(resourceType),
		ResourcePath: resourcePath,
		Allowed:      audit.Bool(allowed),
		Severity:     sev,
		Details:      map[string]any{"requested_action": string(action)},
	})
	e.add(ctx, e.decisions, attribute.String("action", string(action)), attribute.Bool("allowed", allowed))
	return allowed
}

// GrantPermission stores a grant for granteeID. The granter must already hold
// grant_permission on the same scope and every capability in set. Self grants
// are rejected.
func (e *Engine) GrantPermission(ctx context.Context, granterID, granteeID string, set PermissionSet, resourceType ResourceType, resourcePath string) bool {
	scope, err := NewScope(resourceType, resourcePath)
	if err != nil || granteeID == "" || granterID == "" || granterID == granteeID || set.IsEmpty() {
		e.logger.WarnContext(ctx, "rejected grant request",
			logger.UserID(granterID),
			slog.String("grantee_id", granteeID),
			logger.Resource(string(resourceType), resourcePath),
			logger.Error(err),
		)
		return false
	}

	if !e.CheckPermission(ctx, granterID, ActionGrant, scope.Type, scope.Path) {
		e.auditGrantDenied(ctx, granterID, granteeID, scope, "missing_grant_permission")
		return false
	}
	// A granter can hand out only what they hold on the scope.
	if !e.GetPermissions(ctx, granterID, scope.Type, scope.Path).Covers(set) {
		e.auditGrantDenied(ctx, granterID, granteeID, scope, "exceeds_granter_permissions")
		return false
	}

	if _, err := e.findUserAny(ctx, granteeID); err != nil {
		e.logger.WarnContext(ctx, "grantee lookup failed", slog.String("grantee_id", granteeID), logger.Error(err))
		return false
	}

	g := &Grant{
		ID:           id.NewUUIDv7(),
		GranteeID:    granteeID,
		ResourceType: scope.Type,
		ResourcePath: scope.Path,
		Permissions:  set.Normalize(),
		GrantedBy:    granterID,
		GrantedAt:    e.now().UTC(),
	}
	if !e.persist(ctx, g) {
		return false
	}

	e.InvalidateUser(ctx, granteeID)
	e.auditGrant(ctx, g)
	return true
}

func (e *Engine) auditGrantDenied(ctx context.Context, granterID, granteeID string, scope Scope, reason string) {
	e.auditor.Append(ctx, audit.Record{
		ActorID:      granterID,
		TargetID:     granteeID,
		Action:       audit.ActionPermissionGrantDenied,
		ResourceType: string(scope.Type),
		ResourcePath: scope.Path,
		Allowed:      audit.Bool(false),
		Severity:     audit.SeverityWarning,
		Details:      map[string]any{audit.AttrReason: reason},
	})
}

// GrantRolePermission stores a grant for every user with role. Only
// administrators holding grant_permission on the scope may do this.
func (e *Engine) GrantRolePermission(ctx context.Context, granterID string, role identity.Role, set PermissionSet, resourceType ResourceType, resourcePath string) (*Grant, bool) {
	scope, err := NewScope(resourceType, resourcePath)
	if err != nil || !role.Valid() || granterID == "" || set.IsEmpty() {
		return nil, false
	}
	granter, err := e.findUserAny(ctx, granterID)
	if err != nil || !granter.Role.IsAdmin() || !e.CheckPermission(ctx, granterID, ActionGrant, scope.Type, scope.Path) {
		e.auditor.Append(ctx, audit.Record{
			ActorID:      granterID,
			Action:       audit.ActionPermissionGrantDenied,
			ResourceType: string(scope.Type),
			ResourcePath: scope.Path,
			Allowed:      audit.Bool(false),
			Severity:     audit.SeverityWarning,
			Details:      map[string]any{audit.AttrRole: string(role)},
		})
		return nil, false
	}

	g := &Grant{
		ID:           id.NewUUIDv7(),
		Role:         role,
		ResourceType: scope.Type,
		ResourcePath: scope.Path,
		Permissions:  set.Normalize(),
		GrantedBy:    granterID,
		GrantedAt:    e.now().UTC(),
	}
	if !e.persist(ctx, g) {
		return nil, false
	}

	// Role grants affect every holder of the role.
	e.clearAll()
	e.auditGrant(ctx, g)
	return g, true
}

func (e *Engine) persist(ctx context.Context, g *Grant) bool {
	if err := g.Validate(); err != nil {
		e.logger.WarnContext(ctx, "rejected grant", logger.Error(err))
		return false
	}
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		return e.grants.Create(ctx, g)
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to store grant", logger.GrantID(g.ID), logger.Error(err))
		return false
	}
	return true
}

func (e *Engine) auditGrant(ctx context.Context, g *Grant) {
	details := map[string]any{
		audit.AttrGrantID:     g.ID,
		audit.AttrPermissions: g.Permissions,
	}
	if g.Role != "" {
		details[audit.AttrRole] = string(g.Role)
	}
	e.auditor.Append(ctx, audit.Record{
		ActorID:      g.GrantedBy,
		TargetID:     g.GranteeID,
		Action:       audit.ActionPermissionGrant,
		ResourceType: string(g.ResourceType),
		ResourcePath: g.ResourcePath,
		Allowed:      audit.Bool(true),
		Severity:     audit.SeverityInfo,
		Details:      details,
	})
}

// RevokePermission deletes a grant. The revoker must hold revoke_permission
// on the grant's scope. A missing grant, a grantee mismatch or a denial
// returns false; revoking twice is safe.
func (e *Engine) RevokePermission(ctx context.Context, revokerID, granteeID, grantID string) bool {
	if revokerID == "" || grantID == "" {
		return false
	}

	var g *Grant
	err := e.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		g, err = e.grants.Get(ctx, grantID)
		return err
	})
	if errors.Is(err, ErrGrantNotFound) {
		e.logger.InfoContext(ctx, "revoke of unknown grant", logger.GrantID(grantID), logger.UserID(revokerID))
		return false
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to load grant", logger.GrantID(grantID), logger.Error(err))
		return false
	}
	if g.Role == "" && granteeID != "" && g.GranteeID != granteeID {
		e.logger.WarnContext(ctx, "grant does not belong to grantee", logger.GrantID(grantID), slog.String("grantee_id", granteeID))
		return false
	}
	if g.Role != "" {
		revoker, err := e.findUserAny(ctx, revokerID)
		if err != nil || !revoker.Role.IsAdmin() {
			e.auditRevokeDenied(ctx, revokerID, g)
			return false
		}
	}

	if !e.CheckPermission(ctx, revokerID, ActionRevoke, g.ResourceType, g.ResourcePath) {
		e.auditRevokeDenied(ctx, revokerID, g)
		return false
	}

	err = e.policy.Do(ctx, func(ctx context.Context) error {
		err := e.grants.Delete(ctx, grantID)
		if errors.Is(err, ErrGrantNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrGrantNotFound) {
			e.logger.ErrorContext(ctx, "failed to delete grant", logger.GrantID(grantID), logger.Error(err))
		}
		return false
	}

	if g.Role != "" {
		e.clearAll()
	} else {
		e.InvalidateUser(ctx, g.GranteeID)
	}

	e.auditor.Append(ctx, audit.Record{
		ActorID:      revokerID,
		TargetID:     g.GranteeID,
		Action:       audit.ActionPermissionRevoke,
		ResourceType: string(g.ResourceType),
		ResourcePath: g.ResourcePath,
		Allowed:      audit.Bool(true),
		Severity:     audit.SeverityInfo,
		Details:      map[string]any{audit.AttrGrantID: g.ID},
	})
	return true
}

func (e *Engine) auditRevokeDenied(ctx context.Context, revokerID string, g *Grant) {
	e.auditor.Append(ctx, audit.Record{
		ActorID:      revokerID,
		TargetID:     g.GranteeID,
		Action:       audit.ActionRevokeDenied,
		ResourceType: string(g.ResourceType),
		ResourcePath: g.ResourcePath,
		Allowed:      audit.Bool(false),
		Severity:     audit.SeverityWarning,
		Details:      map[string]any{audit.AttrGrantID: g.ID},
	})
}

// ListGrants returns every grant held by a user.
func (e *Engine) ListGrants(ctx context.Context, granteeID string) ([]Grant, error) {
	var out []Grant
	err := e.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.grants.ListForGrantee(ctx, granteeID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return out, nil
}

// InvalidateUser drops every cached result for a user.
func (e *Engine) InvalidateUser(ctx context.Context, userID string) {
	e.genMu.Lock()
	e.gens[userID]++
	n := e.cache.DeletePrefix(userPrefix(userID))
	e.genMu.Unlock()
	e.logger.DebugContext(ctx, "invalidated permission cache", logger.UserID(userID), slog.Int("entries", n))
}

// findUserAny loads a user regardless of status.
func (e *Engine) findUserAny(ctx context.Context, userID string) (*identity.User, error) {
	var user *identity.User
	err := e.policy.Once(ctx, func(ctx context.Context) error {
		u, err := e.users.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	return user, err
}

func (e *Engine) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
