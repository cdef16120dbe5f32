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
	"context"
	"log/slog"
)

// SecurityEvent is a request-level security event that never reaches the
// audit trail, such as a throttled login or a rejected bearer token.
type SecurityEvent struct {
	EventType string
	UserID    string
	IPAddress string
	Action    string
	Resource  string
	Result    string // denied, throttled
	Reason    string
}

// SecurityLogger logs transport security events
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With(Component("security")),
	}
}

// Log logs a security event
func (s *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("result", event.Result),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Resource != "" {
		attrs = append(attrs, slog.String("resource", event.Resource))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	s.logger.LogAttrs(ctx, slog.LevelWarn, "security_event", attrs...)
}

func (s *SecurityLogger) RateLimited(ctx context.Context, ipAddr, path string) {
	s.Log(ctx, SecurityEvent{
		EventType: "rate_limit",
		IPAddress: ipAddr,
		Action:    "request",
		Resource:  path,
		Result:    "throttled",
	})
}

func (s *SecurityLogger) Unauthorized(ctx context.Context, ipAddr, path, reason string) {
	s.Log(ctx, SecurityEvent{
		EventType: "authentication",
		IPAddress: ipAddr,
		Action:    "bearer_token",
		Resource:  path,
		Result:    "denied",
		Reason:    reason,
	})
}

func (s *SecurityLogger) Forbidden(ctx context.Context, userID, ipAddr, path string) {
	s.Log(ctx, SecurityEvent{
		EventType: "access_control",
		UserID:    userID,
		IPAddress: ipAddr,
		Action:    "admin_route",
		Resource:  path,
		Result:    "denied",
		Reason:    "role_required",
	})
}
