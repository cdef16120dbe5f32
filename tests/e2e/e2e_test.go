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

//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseURL = getEnv("BUCKETWARDEN_API_URL", "http://127.0.0.1:8080")
	apiBase = baseURL + "/api/v1"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

type TestClient struct {
	httpClient *http.Client
	token      string
}

func NewTestClient() *TestClient {
	return &TestClient{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *TestClient) Do(method, path string, body any, out any) int {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (c *TestClient) Login(t *testing.T, username, password string) {
	t.Helper()
	var res struct {
		AccessToken string `json:"access_token"`
	}
	status := c.Do("POST", apiBase+"/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &res)
	require.Equal(t, http.StatusOK, status, "login failed for %s", username)
	require.NotEmpty(t, res.AccessToken)
	c.token = res.AccessToken
}

func (c *TestClient) Check(t *testing.T, action, resourceType, path string) bool {
	t.Helper()
	var res struct {
		Allowed bool `json:"allowed"`
	}
	status := c.Do("POST", apiBase+"/authz/check", map[string]string{
		"action":        action,
		"resource_type": resourceType,
		"resource_path": path,
	}, &res)
	require.Equal(t, http.StatusOK, status)
	return res.Allowed
}

// Requires a running server bootstrapped with ADMIN_USERNAME/ADMIN_PASSWORD.
func TestE2E_GrantLifecycle(t *testing.T) {
	adminUser := getEnv("BUCKETWARDEN_ADMIN_USERNAME", "admin")
	adminPass := getEnv("BUCKETWARDEN_ADMIN_PASSWORD", "admin_dev_password")

	admin := NewTestClient()
	admin.Login(t, adminUser, adminPass)

	username := fmt.Sprintf("e2e_%d", time.Now().Unix())
	password := "password123"
	var created struct {
		ID string `json:"id"`
	}
	status := admin.Do("POST", apiBase+"/users", map[string]any{
		"username": username,
		"password": password,
		"role":     "user",
	}, &created)
	require.Equal(t, http.StatusCreated, status)

	user := NewTestClient()
	user.Login(t, username, password)

	t.Run("Non-admin cannot reach admin routes", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, user.Do("GET", apiBase+"/users", nil, nil))
	})

	t.Run("Grant is inherited by subfolders", func(t *testing.T) {
		assert.False(t, user.Check(t, "read", "folder", "/shared/docs/"))

		status := admin.Do("POST", apiBase+"/grants", map[string]any{
			"grantee_id":    created.ID,
			"resource_type": "folder",
			"resource_path": "/shared/",
			"permissions":   map[string]bool{"can_read": true},
		}, nil)
		require.Equal(t, http.StatusCreated, status)

		assert.True(t, user.Check(t, "read", "folder", "/shared/docs/"))
		assert.False(t, user.Check(t, "write", "folder", "/shared/docs/"))
	})

	t.Run("Revocation takes effect immediately", func(t *testing.T) {
		var list struct {
			Grants []struct {
				ID string `json:"id"`
			} `json:"grants"`
		}
		require.Equal(t, http.StatusOK, admin.Do("GET", apiBase+"/grants?grantee="+created.ID, nil, &list))
		require.Len(t, list.Grants, 1)

		status := admin.Do("DELETE", apiBase+"/grants/"+list.Grants[0].ID+"?grantee="+created.ID, nil, nil)
		require.Equal(t, http.StatusNoContent, status)

		assert.False(t, user.Check(t, "read", "folder", "/shared/docs/"))
	})

	t.Run("Audit trail records the grant", func(t *testing.T) {
		// Audit writes are asynchronous.
		time.Sleep(500 * time.Millisecond)
		var res struct {
			Records []map[string]any `json:"records"`
		}
		status := admin.Do("GET", apiBase+"/audit?action=permission_grant&limit=10", nil, &res)
		require.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, res.Records)
	})

	t.Run("Logout invalidates the token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, user.Do("POST", apiBase+"/auth/logout", nil, nil))
		assert.Equal(t, http.StatusUnauthorized, user.Do("GET", apiBase+"/auth/me", nil, nil))
	})
}
