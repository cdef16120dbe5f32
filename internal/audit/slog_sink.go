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
	"log/slog"
	"strings"
)

// SlogSink writes records as structured log lines.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a new slog-backed sink. A nil logger uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Name() string { return "slog" }

// Write logs rec at a level derived from its severity.
func (s *SlogSink) Write(ctx context.Context, rec Record) error {
	attrs := []any{
		slog.String("audit_id", rec.ID),
		slog.String("action", rec.Action),
		slog.String("actor_id", rec.ActorID),
		slog.Time("timestamp", rec.Timestamp),
		slog.String("severity", string(rec.Severity)),
	}
	if rec.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", rec.TargetID))
	}
	if rec.ResourceType != "" {
		attrs = append(attrs, slog.String("resource_type", rec.ResourceType))
	}
	if rec.ResourcePath != "" {
		attrs = append(attrs, slog.String("resource_path", rec.ResourcePath))
	}
	if rec.Allowed != nil {
		attrs = append(attrs, slog.Bool("allowed", *rec.Allowed))
	}

	// Flatten details
	if len(rec.Details) > 0 {
		group := []any{}
		for k, v := range rec.Details {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("details", group...))
	}

	s.logger.Log(ctx, levelFor(rec.Severity), "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
	return nil
}

func levelFor(sev Severity) slog.Level {
	switch sev {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	secrets := []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}
	k := strings.ToLower(key)
	for _, s := range secrets {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
