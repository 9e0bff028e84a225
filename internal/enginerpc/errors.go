/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
)

var (
	// ErrNeedMoreData is returned by the reassembler when the buffered bytes do not yet form a frame.
	ErrNeedMoreData = errors.New("need more data")

	// ErrMalformedHeader is returned when fewer than HeaderSize bytes are passed to DecodeHeader.
	ErrMalformedHeader = errors.New("malformed frame header")

	// ErrTruncatedBody is returned when fewer than payload length + 1 bytes are passed to DecodeBody.
	ErrTruncatedBody = errors.New("truncated frame body")

	// ErrBadTerminator is returned when the byte after the payload is not the frame terminator.
	ErrBadTerminator = errors.New("bad frame terminator")

	// ErrOversizedFrame is returned when a header announces a payload larger than MaxPayloadLen.
	ErrOversizedFrame = errors.New("frame payload exceeds maximum size")

	// ErrUnmappedVerb is returned when a frame carries a verb the receiving side does not handle.
	ErrUnmappedVerb = errors.New("unmapped verb")

	// ErrPayload is returned when a verb payload cannot be decoded.
	ErrPayload = errors.New("invalid verb payload")

	// ErrPreconditionViolated is returned when a verb is not legal in the current engine state.
	ErrPreconditionViolated = errors.New("engine state precondition violated")

	// ErrStaleNotification is returned when a notification has no matching pending request.
	ErrStaleNotification = errors.New("stale notification")

	// ErrSessionDead is returned for any verb attempted after the engine reached the Dead state.
	ErrSessionDead = errors.New("debugger session is dead")

	// ErrTransportClosed is returned when using a transport that has been closed.
	ErrTransportClosed = errors.New("transport is closed")
)

// PreconditionError describes a controller verb that was refused because of the current engine state.
type PreconditionError struct {
	Verb     Verb
	State    EngineState
	Required []EngineState
}

func (e *PreconditionError) Error() string {
	required := make([]string, len(e.Required))
	for i, s := range e.Required {
		required[i] = s.String()
	}
	return fmt.Sprintf("%s: cannot send %s in state %s (requires %s)",
		ErrPreconditionViolated.Error(), e.Verb, e.State, strings.Join(required, " or "))
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionViolated
}

// UnmappedVerbError describes a frame whose verb id the receiving side has no handler for.
// This means the two sides were built from incompatible revisions.
type UnmappedVerbError struct {
	Verb     Verb
	Sequence uint64
}

func (e *UnmappedVerbError) Error() string {
	return fmt.Sprintf("%s %s (sequence %d)", ErrUnmappedVerb.Error(), e.Verb, e.Sequence)
}

func (e *UnmappedVerbError) Unwrap() error {
	return ErrUnmappedVerb
}

// PayloadError describes a verb payload that could not be encoded or decoded.
type PayloadError struct {
	Verb Verb
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s for %s: %v", ErrPayload.Error(), e.Verb, e.Err)
}

func (e *PayloadError) Unwrap() []error {
	return []error{ErrPayload, e.Err}
}

// IsTransient returns true if the error only means that more bytes must arrive before decoding can proceed.
// Transient errors never escape the Connection.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNeedMoreData) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrTruncatedBody)
}

// IsFatal returns true if the error makes the channel unusable.
// Fatal errors force the engine into the Dead state.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadTerminator) ||
		errors.Is(err, ErrOversizedFrame) ||
		errors.Is(err, ErrUnmappedVerb) ||
		errors.Is(err, ErrPayload)
}

// isClosedError returns true for the errors a transport reports once its peer or the local side closed it.
func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrTransportClosed)
}

// filterContextError filters out redundant context errors during shutdown.
// If the error is a context error (or a process killed because of context cancellation)
// and the context is already done, the error is logged at debug level and nil is returned.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.V(1).Info("Filtering redundant context error", "error", err)
			return nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Error(), "signal: killed") {
			log.V(1).Info("Filtering process killed error on context cancellation", "error", err)
			return nil
		}
	}

	return err
}
