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

package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSecret(t *testing.T) {
	tests := []struct {
		key      string
		isSecret bool
	}{
		{"password", true},
		{"Password", true},
		{"PASSWORD", true},
		{"token", true},
		{"access_token", true},
		{"refresh_token", true},
		{"secret", true},
		{"api_key", true},
		{"password_hash", true},
		{"credential", true},
		{"user_id", false},
		{"username", false},
		{"session_id", false},
		{"access_level", false},
		{"status", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := isSecret(tt.key); got != tt.isSecret {
				t.Errorf("isSecret(%q) = %v, want %v", tt.key, got, tt.isSecret)
			}
		})
	}
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Write(ctx context.Context, rec Record) error {
	return errors.New("disk full")
}

// TestPurpose: Validates that the trail stamps records and fans them out to every sink.
// Scope: Unit Test
// Security: Audit write failures must not affect other sinks or the caller.
// Expected: Memory sink receives the record with ID, timestamp and default severity set.
// Test Case ID: AUD-01
func TestTrail_AppendFanout(t *testing.T) {
	mem := NewMemorySink()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trail := NewTrail([]Sink{failingSink{}, mem}, WithClock(func() time.Time { return now }))

	ctx, cancel := context.WithCancel(context.Background())
	trail.Append(ctx, Record{ActorID: "u1", Action: ActionPermissionCheck, Allowed: Bool(true)})
	cancel()
	trail.Flush()

	recs := mem.Records()
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, now, recs[0].Timestamp)
	assert.Equal(t, SeverityInfo, recs[0].Severity)
	require.NotNil(t, recs[0].Allowed)
	assert.True(t, *recs[0].Allowed)
}

// TestPurpose: Validates querying and retention purge through the trail.
// Scope: Unit Test
// Expected: Query is served by the first queryable sink; Purge removes old records.
// Test Case ID: AUD-02
func TestTrail_QueryAndPurge(t *testing.T) {
	mem := NewMemorySink()
	trail := NewTrail([]Sink{NewSlogSink(nil), mem})
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour)
	trail.Append(ctx, Record{ActorID: "u1", Action: ActionLoginFailed, Timestamp: old})
	trail.Append(ctx, Record{ActorID: "u1", Action: ActionLoginSuccess})
	trail.Append(ctx, Record{ActorID: "u2", Action: ActionLoginSuccess})
	trail.Flush()

	recs, err := trail.Query(ctx, Filter{ActorID: "u1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ActionLoginSuccess, recs[0].Action)

	n, err := trail.Purge(ctx, time.Now().Add(-DefaultRetention))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err = trail.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestTrail_QueryWithoutQueryableSink(t *testing.T) {
	trail := NewTrail([]Sink{NewSlogSink(nil)})
	_, err := trail.Query(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrNotQueryable)
}

// TestPurpose: Validates the SQL sink insert and purge statements.
// Scope: Unit Test
// Expected: INSERT carries the record fields; DELETE uses the cutoff.
// Test Case ID: AUD-03
func TestSQLSink_WriteAndPurge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink, err := NewSQLSink(db, "")
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		ID:           "01HX",
		Timestamp:    ts,
		ActorID:      "u1",
		Action:       ActionFolderAccessDenied,
		ResourceType: "folder",
		ResourcePath: "/uploads/",
		Allowed:      Bool(false),
		Severity:     SeverityWarning,
		Details:      map[string]any{AttrFolderAction: "write"},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("01HX", ts, "u1", "", ActionFolderAccessDenied, "folder", "/uploads/", false, "warning", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, sink.Write(context.Background(), rec))

	cutoff := ts.Add(-DefaultRetention)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log WHERE occurred_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := sink.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPurpose: Validates the SQL sink query builder and row decoding.
// Scope: Unit Test
// Expected: Filters become positional arguments; nullable allowed and JSON details decode.
// Test Case ID: AUD-04
func TestSQLSink_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink, err := NewSQLSink(db, "audit_log")
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "occurred_at", "actor_id", "target_id", "action", "resource_type", "resource_path", "allowed", "severity", "details"}).
		AddRow("a", ts, "u1", "", ActionLoginFailed, "", "", nil, "warning", []byte(`{"reason":"invalid_password"}`))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE actor_id = $1 AND action = $2 ORDER BY occurred_at DESC LIMIT $3")).
		WithArgs("u1", ActionLoginFailed, 10).
		WillReturnRows(rows)

	recs, err := sink.Query(context.Background(), Filter{ActorID: "u1", Action: ActionLoginFailed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Allowed)
	assert.Equal(t, SeverityWarning, recs[0].Severity)
	assert.Equal(t, ReasonInvalidPassword, recs[0].Details[AttrReason])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLSink_RejectsBadTableName(t *testing.T) {
	_, err := NewSQLSink(nil, "audit; DROP TABLE users")
	assert.Error(t, err)
}

// TestPurpose: Validates daily JSONL files and their retention purge.
// Scope: Unit Test
// Expected: One file per day; purge removes days entirely before the cutoff.
// Test Case ID: AUD-05
func TestFileSink_DailyFilesAndPurge(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Write(ctx, Record{ID: "1", Timestamp: day1, Action: ActionLogout}))
	require.NoError(t, sink.Write(ctx, Record{ID: "2", Timestamp: day2, Action: ActionLogout}))
	require.NoError(t, sink.Write(ctx, Record{ID: "3", Timestamp: day2.Add(time.Hour), Action: ActionLogout}))

	data, err := os.ReadFile(filepath.Join(dir, "audit-2026-02-15.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, len(regexp.MustCompile("\n").FindAllIndex(data, -1)))

	n, err := sink.Purge(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = os.Stat(filepath.Join(dir, "audit-2026-01-01.jsonl"))
	assert.True(t, os.IsNotExist(err))
}
