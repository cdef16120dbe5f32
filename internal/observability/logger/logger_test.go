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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that security events are emitted as structured warnings with the component tag.
// Scope: Unit Test
// Security: Security event visibility (CWE-778)
// Expected: A throttled login produces one JSON line with result=throttled and the client address.
// Test Case ID: LOG-01
func TestSecurityLogger_RateLimited(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", ServiceName: "bucketwarden", Output: &buf})

	NewSecurityLogger(l).RateLimited(context.Background(), "10.0.0.1", "/api/v1/auth/login")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "security_event", line["msg"])
	assert.Equal(t, "security", line["component"])
	assert.Equal(t, "throttled", line["result"])
	assert.Equal(t, "10.0.0.1", line["ip_address"])
	assert.Equal(t, "bucketwarden", line["service"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("WARNING").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())
}

func TestNew_DebugFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "text", Output: &buf})
	l.Debug("hidden")
	assert.Empty(t, buf.String())
}
