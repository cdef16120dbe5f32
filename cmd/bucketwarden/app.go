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
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/opentrusty/bucketwarden/internal/audit"
	"github.com/opentrusty/bucketwarden/internal/config"
	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/retry"
	"github.com/opentrusty/bucketwarden/internal/store/postgres"
)

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *postgres.DB
	sqlDB  *sql.DB
	trail  *audit.Trail
	files  *audit.FileSink
	hasher *identity.PasswordHasher
	users  *postgres.UserRepository
	policy retry.Policy
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	log := logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTelEnabled: cfg.Observability.OTELEnabled,
	})

	db, err := postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		log: log,
		db:  db,
		hasher: identity.NewPasswordHasher(
			cfg.Security.Argon2Memory,
			cfg.Security.Argon2Iterations,
			cfg.Security.Argon2Parallelism,
			cfg.Security.Argon2SaltLength,
			cfg.Security.Argon2KeyLength,
		),
		users: postgres.NewUserRepository(db, cfg.Tables.Users),
		policy: retry.Policy{
			Timeout:         cfg.Storage.Timeout,
			MaxRetries:      cfg.Storage.MaxRetries,
			InitialInterval: cfg.Storage.RetryBackoff,
		},
	}

	if err := a.openAudit(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openAudit builds the trail. The SQL sink goes first so that it serves queries.
func (a *app) openAudit() error {
	var sinks []audit.Sink

	if a.cfg.Audit.SQLEnabled {
		a.sqlDB = stdlib.OpenDBFromPool(a.db.Pool())
		s, err := audit.NewSQLSink(a.sqlDB, a.cfg.Tables.Audit)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}

	if a.cfg.Audit.Dir != "" {
		files, err := audit.NewFileSink(a.cfg.Audit.Dir)
		if err != nil {
			return fmt.Errorf("failed to open audit directory: %w", err)
		}
		a.files = files
		sinks = append(sinks, files)
	}

	sinks = append(sinks, audit.NewSlogSink(a.log))
	a.trail = audit.NewTrail(sinks, audit.WithLogger(a.log))
	return nil
}

// Close flushes pending audit writes and releases connections.
func (a *app) Close() {
	if a.trail != nil {
		a.trail.Flush()
	}
	if a.files != nil {
		if err := a.files.Close(); err != nil {
			a.log.Error("failed to close audit file", logger.Error(err))
		}
	}
	if a.sqlDB != nil {
		a.sqlDB.Close()
	}
	a.db.Close()
}
