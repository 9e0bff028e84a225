/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// MakePanicError turns the result of recover() into an error and logs it with the stack of the panicking goroutine.
// It returns nil when there was no panic. The error is permanent, so retry loops stop on it.
func MakePanicError(panicVal any, log logr.Logger) error {
	if panicVal == nil {
		return nil
	}

	var panicErr error
	switch v := panicVal.(type) {
	case error:
		panicErr = v
	default:
		panicErr = fmt.Errorf("panic: %v", v)
	}

	if permanent := (*backoff.PermanentError)(nil); !errors.As(panicErr, &permanent) {
		panicErr = Permanent(panicErr)
	}

	log.Error(panicErr, "Recovered from panic", "stack", string(debug.Stack()))
	return panicErr
}

// CallWithPanicRecovery runs fn. A panic in fn is returned as an error.
func CallWithPanicRecovery(log logr.Logger, fn func() error) (err error) {
	defer func() {
		if panicErr := MakePanicError(recover(), log); panicErr != nil {
			err = panicErr
		}
	}()
	return fn()
}
