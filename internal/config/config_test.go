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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opentrusty/bucketwarden/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates environment loading with .env fallback and defaults.
// Scope: Unit Test
// Security: Refuses to start without a signing secret of sufficient length.
// Expected: Defaults applied; explicit env wins over .env file.
// Test Case ID: CFG-01
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DB_PASSWORD=fromfile\nJWT_EXPIRY_HOURS=12\nCACHE_TTL=1m\n"), 0o600))

	t.Cleanup(func() {
		os.Unsetenv("JWT_EXPIRY_HOURS")
		os.Unsetenv("CACHE_TTL")
	})
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_PASSWORD", "fromenv")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Database.Password)
	assert.Equal(t, 12*time.Hour, cfg.Auth.AccessExpiry())
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, 3, cfg.Storage.MaxRetries)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
	assert.Equal(t, "audit_log", cfg.Tables.Audit)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshExpiry)
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	t.Setenv("DB_PASSWORD", "x")
	t.Setenv("JWT_SECRET", "short")
	_, err := Load("")
	assert.Error(t, err)
}

func TestParseRolePolicy(t *testing.T) {
	defaults, err := ParseRolePolicy([]byte(`
roles:
  user:
    can_read: true
  manager:
    full_access: true
`))
	require.NoError(t, err)
	assert.True(t, defaults[identity.RoleUser].CanRead)
	assert.False(t, defaults[identity.RoleUser].CanWrite)
	assert.True(t, defaults[identity.RoleManager].CanDelete)

	_, err = ParseRolePolicy([]byte("roles:\n  wizard:\n    can_read: true\n"))
	assert.ErrorIs(t, err, identity.ErrInvalidRole)

	empty, err := LoadRolePolicy("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
