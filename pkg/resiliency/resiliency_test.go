/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryGetSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	val, err := RetryGet(context.Background(), DialBackoff(5*time.Second), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("backend not listening yet")
		}
		return "connected", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "connected", val)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	attempts := 0
	boom := errors.New("host key mismatch")
	err := Retry(context.Background(), DialBackoff(5*time.Second), func() error {
		attempts++
		return Permanent(boom)
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRetryGetReportsLastAttemptOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	lastErr := errors.New("connection refused")
	_, err := RetryGet(ctx, backoff.NewConstantBackOff(10*time.Millisecond), func() (int, error) {
		return 0, lastErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, lastErr)
}

func TestRunWithTimeout(t *testing.T) {
	t.Parallel()

	err := RunWithTimeout(context.Background(), time.Second, func(context.Context) {})
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	err = RunWithTimeout(context.Background(), 50*time.Millisecond, func(ctx context.Context) {
		select {
		case <-release:
		case <-ctx.Done():
			<-release
		}
	})
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestCallWithPanicRecovery(t *testing.T) {
	t.Parallel()

	err := CallWithPanicRecovery(logr.Discard(), func() error {
		panic("handler exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")

	err = CallWithPanicRecovery(logr.Discard(), func() error { return nil })
	assert.NoError(t, err)
}
