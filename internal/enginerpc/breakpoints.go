/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrUnknownBreakpoint is returned when removing or changing a breakpoint the controller does not know.
	ErrUnknownBreakpoint = errors.New("unknown breakpoint")

	// ErrBreakpointBusy is returned when a breakpoint already has an operation waiting for the backend.
	ErrBreakpointBusy = errors.New("breakpoint operation already in progress")

	// ErrBreakpointRejected is passed to a breakpoint callback when the backend reported a failure.
	ErrBreakpointRejected = errors.New("breakpoint operation rejected by the debugger backend")
)

// BreakpointState is the controller-side view of a breakpoint.
type BreakpointState int

const (
	BreakpointInsertionRequested BreakpointState = iota
	BreakpointInserted
	BreakpointInsertionFailed
	BreakpointChangeRequested
	BreakpointChangeFailed
	BreakpointRemoveRequested
	BreakpointRemoved
	BreakpointRemoveFailed
)

func (s BreakpointState) String() string {
	switch s {
	case BreakpointInsertionRequested:
		return "InsertionRequested"
	case BreakpointInserted:
		return "Inserted"
	case BreakpointInsertionFailed:
		return "InsertionFailed"
	case BreakpointChangeRequested:
		return "ChangeRequested"
	case BreakpointChangeFailed:
		return "ChangeFailed"
	case BreakpointRemoveRequested:
		return "RemoveRequested"
	case BreakpointRemoved:
		return "Removed"
	case BreakpointRemoveFailed:
		return "RemoveFailed"
	default:
		return fmt.Sprintf("BreakpointState(%d)", int(s))
	}
}

// Breakpoint is a snapshot of a breakpoint known to the controller.
type Breakpoint struct {
	ID    BreakpointID
	State BreakpointState

	// Requested holds the parameters last sent to the backend.
	Requested BreakpointParams

	// Actual holds the parameters the backend reported, e.g. with an adjusted line number.
	Actual BreakpointParams

	HitCount int
	Message  string
}

// BreakpointCallback is invoked once the backend acknowledged a breakpoint operation.
// err is nil on success, wraps ErrBreakpointRejected if the backend refused the operation,
// and wraps ErrSessionDead if the session died first.
type BreakpointCallback func(bp Breakpoint, err error)

type breakpointOpKind int

const (
	breakpointAdd breakpointOpKind = iota
	breakpointRemove
	breakpointChange
)

func (k breakpointOpKind) String() string {
	switch k {
	case breakpointAdd:
		return "add"
	case breakpointRemove:
		return "remove"
	default:
		return "change"
	}
}

type pendingBreakpointOp struct {
	kind   breakpointOpKind
	params BreakpointParams
	done   BreakpointCallback
}

// AddBreakpoint allocates an id for a new breakpoint and asks the backend to insert it.
// done (which may be nil) is called when the backend acknowledges the insertion.
func (c *Controller) AddBreakpoint(params BreakpointParams, done BreakpointCallback) (BreakpointID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := CheckPrecondition(VerbAddBreakpoint, c.state); err != nil {
		return 0, err
	}

	id := c.lastBreakpointID + 1
	if err := c.sendLocked(VerbAddBreakpoint, BreakpointRequest{ID: id, Params: params}); err != nil {
		return 0, err
	}

	// The acknowledgement cannot be dispatched before c.mu is released.
	c.lastBreakpointID = id
	c.breakpoints[id] = &Breakpoint{ID: id, State: BreakpointInsertionRequested, Requested: params}
	c.pendingBreakpoints.Put(id, pendingBreakpointOp{kind: breakpointAdd, params: params, done: done})
	return id, nil
}

// RemoveBreakpoint asks the backend to remove a breakpoint.
func (c *Controller) RemoveBreakpoint(id BreakpointID, done BreakpointCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.startBreakpointOpLocked(id, pendingBreakpointOp{kind: breakpointRemove, done: done}, VerbRemoveBreakpoint, BreakpointRef{ID: id})
}

// ChangeBreakpoint asks the backend to apply new parameters to an existing breakpoint.
func (c *Controller) ChangeBreakpoint(id BreakpointID, params BreakpointParams, done BreakpointCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.startBreakpointOpLocked(id, pendingBreakpointOp{kind: breakpointChange, params: params, done: done}, VerbChangeBreakpoint, BreakpointRequest{ID: id, Params: params})
}

func (c *Controller) startBreakpointOpLocked(id BreakpointID, op pendingBreakpointOp, verb Verb, payload any) error {
	if err := CheckPrecondition(verb, c.state); err != nil {
		return err
	}

	bp, found := c.breakpoints[id]
	if !found {
		return fmt.Errorf("%w: %d", ErrUnknownBreakpoint, id)
	}
	if c.pendingBreakpoints.Has(id) {
		return fmt.Errorf("%w: %d", ErrBreakpointBusy, id)
	}

	if err := c.sendLocked(verb, payload); err != nil {
		return err
	}

	c.pendingBreakpoints.Put(id, op)
	if op.kind == breakpointRemove {
		bp.State = BreakpointRemoveRequested
	} else {
		bp.State = BreakpointChangeRequested
		bp.Requested = op.params
	}
	return nil
}

// Breakpoints returns a snapshot of every breakpoint known to the controller, ordered by id.
func (c *Controller) Breakpoints() []Breakpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := slices.Sorted(maps.Keys(c.breakpoints))
	result := make([]Breakpoint, 0, len(ids))
	for _, id := range ids {
		result = append(result, *c.breakpoints[id])
	}
	return result
}

// Breakpoint returns a snapshot of a single breakpoint.
func (c *Controller) Breakpoint(id BreakpointID) (Breakpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bp, found := c.breakpoints[id]
	if !found {
		return Breakpoint{}, false
	}
	return *bp, true
}

// completeBreakpointOpLocked handles a breakpoint acknowledgement.
func (c *Controller) completeBreakpointOpLocked(verb Verb, kind breakpointOpKind, succeeded bool, resp BreakpointResponse) error {
	op, found := c.pendingBreakpoints.Take(resp.ID)
	if !found {
		return fmt.Errorf("%w: %s for breakpoint %d", ErrStaleNotification, verb, resp.ID)
	}
	if op.kind != kind {
		c.pendingBreakpoints.Put(resp.ID, op)
		return fmt.Errorf("%w: %s for breakpoint %d while a %s operation is pending", ErrStaleNotification, verb, resp.ID, op.kind)
	}

	bp, known := c.breakpoints[resp.ID]
	if !known {
		bp = &Breakpoint{ID: resp.ID, Requested: op.params}
	}
	bp.Message = resp.Message

	var opErr error
	switch {
	case succeeded && kind == breakpointRemove:
		bp.State = BreakpointRemoved
		delete(c.breakpoints, resp.ID)
	case succeeded:
		bp.State = BreakpointInserted
		bp.Actual = resp.Params
		bp.HitCount = resp.HitCount
	case kind == breakpointAdd:
		bp.State = BreakpointInsertionFailed
	case kind == breakpointRemove:
		bp.State = BreakpointRemoveFailed
	default:
		bp.State = BreakpointChangeFailed
	}
	if !succeeded {
		opErr = fmt.Errorf("%w: %s breakpoint %d: %s", ErrBreakpointRejected, kind, resp.ID, cmp.Or(resp.Message, "no reason given"))
	}

	snapshot := *bp
	c.log.V(1).Info("Breakpoint operation completed", "breakpoint", resp.ID, "operation", kind.String(), "state", snapshot.State.String())
	c.queueLocked(func() { c.listener.BreakpointChanged(snapshot) })
	if op.done != nil {
		c.queueLocked(func() { op.done(snapshot, opErr) })
	}
	return nil
}

// adjustBreakpointLocked handles a breakpoint the backend moved on its own, e.g. after a library was loaded.
func (c *Controller) adjustBreakpointLocked(resp BreakpointResponse) error {
	bp, found := c.breakpoints[resp.ID]
	if !found {
		return fmt.Errorf("%w: %s for breakpoint %d", ErrStaleNotification, VerbNotifyBreakpointAdjusted, resp.ID)
	}

	bp.Actual = resp.Params
	bp.HitCount = resp.HitCount
	if resp.Message != "" {
		bp.Message = resp.Message
	}

	snapshot := *bp
	c.queueLocked(func() { c.listener.BreakpointChanged(snapshot) })
	return nil
}

// failPendingBreakpointsLocked completes every outstanding breakpoint operation with ErrSessionDead.
func (c *Controller) failPendingBreakpointsLocked() {
	pending := c.pendingBreakpoints.Drain()
	for _, id := range slices.Sorted(maps.Keys(pending)) {
		op := pending[id]
		if op.done == nil {
			continue
		}

		var snapshot Breakpoint
		if bp, found := c.breakpoints[id]; found {
			snapshot = *bp
		} else {
			snapshot = Breakpoint{ID: id, Requested: op.params}
		}
		c.queueLocked(func() {
			op.done(snapshot, fmt.Errorf("%w: %s breakpoint %d was not acknowledged", ErrSessionDead, op.kind, id))
		})
	}
}
