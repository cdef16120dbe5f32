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

// Package retry bounds storage round-trips with a per-attempt timeout and
// retries mutating calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned when a single attempt exceeds its deadline while the
// caller's context is still live.
var ErrTimeout = errors.New("storage operation timed out")

const (
	DefaultTimeout         = 10 * time.Second
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 100 * time.Millisecond
)

// Op is a single storage round-trip.
type Op func(ctx context.Context) error

// Policy configures timeouts and retries.
type Policy struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
}

// DefaultPolicy returns the 10s / 3 retries policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:         DefaultTimeout,
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
	}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Once runs op a single time under the per-attempt timeout. Used for reads.
func (p Policy) Once(ctx context.Context, op Op) error {
	err := p.attempt(ctx, op)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// Do runs op, retrying up to MaxRetries times with exponential backoff.
// Errors wrapped with Permanent and context cancellation stop the loop.
func (p Policy) Do(ctx context.Context, op Op) error {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	eb.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	return backoff.Retry(func() error {
		return p.attempt(ctx, op)
	}, b)
}

func (p Policy) attempt(ctx context.Context, op Op) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(actx)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
