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
	"fmt"
	"time"

	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/opentrusty/bucketwarden/internal/observability/logger"
	"github.com/opentrusty/bucketwarden/internal/store/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		a.log.Info("applying initial schema")
		if err := a.db.Migrate(cmd.Context(), postgres.InitialSchema); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		a.log.Info("migration successful")
		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the initial admin account from ADMIN_USERNAME and ADMIN_PASSWORD",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		return identity.NewBootstrapService(
			a.users, a.hasher, a.trail,
			a.cfg.Auth.AdminUsername, a.cfg.Auth.AdminPassword,
		).Bootstrap(cmd.Context())
	},
}

var purgeDays int

var purgeAuditCmd = &cobra.Command{
	Use:   "purge-audit",
	Short: "Delete audit records older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		days := purgeDays
		if days <= 0 {
			days = a.cfg.Audit.RetentionDays
		}
		before := time.Now().UTC().AddDate(0, 0, -days)
		n, err := a.trail.Purge(cmd.Context(), before)
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}
		a.log.Info("audit records purged", logger.RowsAffected(n), logger.String("before", before.Format(time.RFC3339)))
		return nil
	},
}

func init() {
	purgeAuditCmd.Flags().IntVar(&purgeDays, "days", 0, "retention in days (defaults to AUDIT_RETENTION_DAYS)")
}
