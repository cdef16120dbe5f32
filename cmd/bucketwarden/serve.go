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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/cache"
	"github.com/opentrusty/bucketwarden/internal/config"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/observability/metrics"
	"github.com/opentrusty/bucketwarden/internal/observability/tracing"
	"github.com/opentrusty/bucketwarden/internal/session"
	"github.com/opentrusty/bucketwarden/internal/storage/s3"
	"github.com/opentrusty/bucketwarden/internal/store/postgres"
	"github.com/opentrusty/bucketwarden/internal/token"
	transportHTTP "github.com/opentrusty/bucketwarden/internal/transport/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	a.log.Info("starting bucketwarden")

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Endpoint:       cfg.Observability.TraceEndpoint,
		Insecure:       cfg.Observability.TraceInsecure,
		SamplingRate:   cfg.Observability.TraceSampling,
	})
	if err != nil {
		a.log.Error("failed to initialize tracer", logger.Error(err))
	} else {
		defer tracer.Shutdown(context.WithoutCancel(ctx))
	}
	meter := metrics.New(metrics.Config{
		Enabled:     cfg.Observability.OTELEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})

	grantRepo := postgres.NewGrantRepository(a.db, cfg.Tables.Permissions)
	sessionRepo := postgres.NewSessionRepository(a.db, cfg.Tables.Sessions)

	permCache, err := cache.New[authz.PermissionSet](cfg.Cache.Size, cfg.Cache.TTL)
	if err != nil {
		return err
	}
	sessionCache, err := cache.New[session.Session](cfg.Cache.Size, cfg.Cache.TTL)
	if err != nil {
		return err
	}

	extra, err := config.LoadRolePolicy(cfg.Auth.RolePolicyFile)
	if err != nil {
		return err
	}

	engine := authz.NewEngine(a.users, grantRepo, permCache, a.trail,
		authz.WithRoleDefaults(extra),
		authz.WithRetryPolicy(a.policy),
		authz.WithLogger(a.log),
		authz.WithMeter(meter.GetMeter()),
	)

	checkers := map[string]transportHTTP.Checker{"postgres": a.db}
	var folders identity.FolderStore
	var folderLister transportHTTP.FolderLister
	if cfg.Storage.Bucket != "" {
		bucket, err := s3.NewClient(s3.Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		}, a.policy)
		if err != nil {
			return err
		}
		folders = bucket
		folderLister = bucket
		checkers["s3"] = bucket
	}

	directory := identity.NewService(a.users, a.hasher, folders, engine, a.trail,
		identity.WithRetryPolicy(a.policy),
	)
	sessions := session.NewStore(sessionRepo, sessionCache, a.policy)

	tokens, err := token.NewService(a.users, a.hasher, engine, sessions, a.trail, token.Config{
		Secret:        cfg.Auth.JWTSecret,
		AccessExpiry:  cfg.Auth.AccessExpiry(),
		RefreshExpiry: cfg.Auth.RefreshExpiry,
	}, token.WithRetryPolicy(a.policy))
	if err != nil {
		return err
	}

	if err := identity.NewBootstrapService(a.users, a.hasher, a.trail,
		cfg.Auth.AdminUsername, cfg.Auth.AdminPassword).Bootstrap(ctx); err != nil {
		a.log.Error("bootstrap failed", logger.Error(err))
	}

	loginLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer loginLimiter.Stop()
	httpMetrics := metrics.NewHTTP("bucketwarden")

	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		Auth:     tokens,
		Authz:    engine,
		Users:    directory,
		Folders:  folderLister,
		Audit:    a.trail,
		Logger:   a.log,
		Checkers: checkers,
	})
	router := transportHTTP.NewRouter(handler, transportHTTP.RouterOptions{
		LoginLimiter: loginLimiter,
		Metrics:      httpMetrics.Handler(),
		Instrument:   httpMetrics.Middleware,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go runMaintenance(ctx, a, sessions)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting http server", logger.Component("server"), logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown error", logger.Error(err))
	}
	a.log.Info("server stopped")
	return nil
}

// runMaintenance sweeps expired sessions hourly and old audit records daily.
func runMaintenance(ctx context.Context, a *app, sessions *session.Store) {
	sessionTicker := time.NewTicker(time.Hour)
	defer sessionTicker.Stop()
	auditTicker := time.NewTicker(24 * time.Hour)
	defer auditTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-sessionTicker.C:
			n, err := sessions.DeleteExpired(ctx, now)
			if err != nil {
				a.log.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
				continue
			}
			a.log.InfoContext(ctx, "expired sessions removed", logger.RowsAffected(n))
		case now := <-auditTicker.C:
			before := now.UTC().AddDate(0, 0, -a.cfg.Audit.RetentionDays)
			if _, err := a.trail.Purge(ctx, before); err != nil {
				a.log.ErrorContext(ctx, "failed to purge audit records", logger.Error(err))
			}
		}
	}
}
