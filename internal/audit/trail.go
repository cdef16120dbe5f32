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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opentrusty/bucketwarden/internal/id"
)

// DefaultRetention is how long records are kept before Purge removes them.
const DefaultRetention = 30 * 24 * time.Hour

const writeTimeout = 10 * time.Second

// Trail fans records out to every sink asynchronously.
type Trail struct {
	sinks  []Sink
	now    func() time.Time
	logger *slog.Logger
	wg     sync.WaitGroup
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) TrailOption {
	return func(t *Trail) { t.now = now }
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(l *slog.Logger) TrailOption {
	return func(t *Trail) { t.logger = l }
}

// NewTrail creates a trail writing to sinks.
func NewTrail(sinks []Sink, opts ...TrailOption) *Trail {
	t := &Trail{
		sinks:  sinks,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append stamps rec and hands it to every sink without waiting.
func (t *Trail) Append(ctx context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now().UTC()
	}
	if rec.ID == "" {
		rec.ID = id.NewSortable(rec.Timestamp)
	}
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
	}

	// Detach from request cancellation; the caller does not wait.
	base := context.WithoutCancel(ctx)
	for _, s := range t.sinks {
		t.wg.Add(1)
		go func(s Sink) {
			defer t.wg.Done()
			wctx, cancel := context.WithTimeout(base, writeTimeout)
			defer cancel()
			if err := s.Write(wctx, rec); err != nil {
				t.logger.WarnContext(wctx, "audit sink write failed",
					slog.String("sink", s.Name()),
					slog.String("action", rec.Action),
					slog.String("error", err.Error()),
				)
			}
		}(s)
	}
}

// Flush waits for in-flight writes.
func (t *Trail) Flush() {
	t.wg.Wait()
}

// Query reads from the first sink that supports it.
func (t *Trail) Query(ctx context.Context, f Filter) ([]Record, error) {
	for _, s := range t.sinks {
		if q, ok := s.(Querier); ok {
			recs, err := q.Query(ctx, f)
			if err != nil {
				return nil, fmt.Errorf("failed to query %s: %w", s.Name(), err)
			}
			return recs, nil
		}
	}
	return nil, ErrNotQueryable
}

// Purge removes records older than before from every sink supporting it.
func (t *Trail) Purge(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, s := range t.sinks {
		p, ok := s.(Purger)
		if !ok {
			continue
		}
		n, err := p.Purge(ctx, before)
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", s.Name(), err)
		}
		total += n
	}
	return total, nil
}
