/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DialBackoff returns the policy used when connecting to a backend that may still be starting up.
func DialBackoff(maxElapsed time.Duration) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(1*time.Second),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
}

// RetryGet calls factory until it succeeds, returns a Permanent error, the policy gives up or ctx ends.
// When ctx ends, the returned error also carries the error of the last attempt,
// which usually says more than "context deadline exceeded".
func RetryGet[T any](ctx context.Context, b backoff.BackOff, factory func() (T, error)) (T, error) {
	var lastAttemptErr error
	recordAttempt := func(err error, _ time.Duration) {
		lastAttemptErr = err
	}

	value, err := backoff.RetryNotifyWithData(factory, backoff.WithContext(b, ctx), recordAttempt)
	if err == nil {
		return value, nil
	}

	var zero T
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return zero, errors.Join(lastAttemptErr, err)
	}
	return zero, err
}

// Retry is RetryGet for operations without a result.
func Retry(ctx context.Context, b backoff.BackOff, operation func() error) error {
	_, err := RetryGet(ctx, b, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// Permanent marks err so that Retry and RetryGet stop immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
