/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrTimedOut = errors.New("operation timed out")

// RunWithTimeout waits at most timeout for op to return. When the timeout elapses (or ctx ends) the context
// passed to op is cancelled and RunWithTimeout returns an error wrapping ErrTimedOut; op may still be running.
// Used for best-effort writes during teardown, when the peer may have stopped reading.
func RunWithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context)) error {
	opCtx, cancelOp := context.WithTimeout(ctx, timeout)
	defer cancelOp()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		op(opCtx)
	}()

	select {
	case <-finished:
		return nil
	case <-opCtx.Done():
		return fmt.Errorf("%w after %s: %w", ErrTimedOut, timeout, context.Cause(opCtx))
	}
}
