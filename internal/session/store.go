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

package session

import (
	"context"
	"errors"
	"time"

	"github.com/opentrusty/bucketwarden/internal/cache"
	"github.com/opentrusty/bucketwarden/internal/retry"
)

// Store fronts a Repository with a read-through cache and the storage
// timeout/retry policy.
type Store struct {
	repo   Repository
	cache  *cache.TTL[Session]
	policy retry.Policy
}

// NewStore creates a new session store
func NewStore(repo Repository, c *cache.TTL[Session], policy retry.Policy) *Store {
	return &Store{repo: repo, cache: c, policy: policy}
}

// Get returns a session, consulting the cache first.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	if sess, ok := s.cache.Get(sessionID); ok {
		return &sess, nil
	}

	var sess *Session
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.repo.Get(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(sessionID, *sess)
	return sess, nil
}

// Create persists a new session.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if err := s.policy.Do(ctx, func(ctx context.Context) error {
		return s.repo.Put(ctx, sess)
	}); err != nil {
		return err
	}
	s.cache.Set(sess.ID, *sess)
	return nil
}

// Touch bumps LastActivity.
func (s *Store) Touch(ctx context.Context, sessionID string, at time.Time) error {
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		err := s.repo.UpdateActivity(ctx, sessionID, at)
		if errors.Is(err, ErrSessionNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		s.cache.Delete(sessionID)
		return err
	}
	if sess, ok := s.cache.Get(sessionID); ok {
		sess.LastActivity = at
		s.cache.Set(sessionID, sess)
	}
	return nil
}

// Deactivate marks a session inactive and evicts it.
func (s *Store) Deactivate(ctx context.Context, sessionID string) error {
	s.cache.Delete(sessionID)
	return s.policy.Do(ctx, func(ctx context.Context) error {
		err := s.repo.Deactivate(ctx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

// DeleteExpired removes sessions that expired before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.repo.DeleteExpired(ctx, now)
		return err
	})
	return n, err
}
