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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that HTTP metrics are labelled by route pattern, not raw path.
// Scope: Unit Test
// Security: Metric cardinality bounded by route table (CWE-400)
// Expected: Two requests to different grant IDs share one series.
// Test Case ID: MET-01
func TestHTTP_Middleware(t *testing.T) {
	m := NewHTTP("bucketwarden")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Delete("/grants/{grantID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodDelete, "/grants/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(),
		`bucketwarden_http_requests_total{method="DELETE",route="/grants/{grantID}",status="204"} 2`))
}

func TestNew_Disabled(t *testing.T) {
	m := New(Config{Enabled: false, ServiceName: "bucketwarden"})
	c, err := m.CreateCounter("x.total", "x")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
