/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"

	"github.com/qt-creator/qt-creator-sub115/internal/telemetry"
	"github.com/qt-creator/qt-creator-sub115/pkg/resiliency"
)

// DefaultTeardownTimeout bounds the best-effort ShutdownEngine sent when a session is torn down.
const DefaultTeardownTimeout = 3 * time.Second

const (
	fatalIPCMessage    = "Fatal engine shutdown: incompatible binary or IPC error"
	fatalMessagePrefix = "Fatal engine shutdown: "
)

// Listener receives model updates from the controller. Calls are made on a dedicated goroutine,
// in the order the controller produced them, so a Listener may call back into the controller.
type Listener interface {
	StateChanged(from, to EngineState)
	FramesListed(frames FramesList)
	ThreadsListed(threads ThreadsList)
	WatchDataUpdated(data WatchData)
	CurrentFrameChanged(frame FrameRef)
	CurrentThreadChanged(thread ThreadRef)
	BreakpointChanged(bp Breakpoint)
	InferiorExited(info ExitInfo)
	LogOutput(text string)
}

// NopListener ignores every update. Embed it to implement only some Listener methods.
type NopListener struct{}

func (NopListener) StateChanged(EngineState, EngineState) {}
func (NopListener) FramesListed(FramesList)               {}
func (NopListener) ThreadsListed(ThreadsList)             {}
func (NopListener) WatchDataUpdated(WatchData)            {}
func (NopListener) CurrentFrameChanged(FrameRef)          {}
func (NopListener) CurrentThreadChanged(ThreadRef)        {}
func (NopListener) BreakpointChanged(Breakpoint)          {}
func (NopListener) InferiorExited(ExitInfo)               {}
func (NopListener) LogOutput(string)                      {}

var _ Listener = NopListener{}

// MessageSink displays user-visible messages. Status bar messages use SeverityStatus.
type MessageSink interface {
	ShowMessage(text string, severity Severity)
}

type logMessageSink struct {
	log logr.Logger
}

func (s logMessageSink) ShowMessage(text string, severity Severity) {
	s.log.Info(text, "severity", severity.String())
}

// DisassemblyHandler receives the answer to a Disassemble request.
type DisassemblyHandler func(d Disassembly)

// SourceHandler receives the answer to a FetchFrameSource request.
type SourceHandler func(s SourceText)

type ControllerConfig struct {
	// ByteOrder of frame headers. Defaults to the native order.
	ByteOrder binary.ByteOrder

	Log      logr.Logger
	Listener Listener
	// Messages defaults to a sink that logs every message.
	Messages MessageSink
	Metrics  *telemetry.ProtocolMetrics

	// TeardownTimeout bounds the best-effort ShutdownEngine sent by Shutdown. Defaults to DefaultTeardownTimeout.
	TeardownTimeout time.Duration
}

// Controller is the IDE side of a debugger session. It owns the engine state,
// enforces verb preconditions, sends controller verbs and handles backend notifications.
type Controller struct {
	conn            *Connection
	log             logr.Logger
	listener        Listener
	messages        MessageSink
	metrics         *telemetry.ProtocolMetrics
	teardownTimeout time.Duration

	// mu is held while a frame is dispatched and while a verb is sent,
	// so the controller behaves as a single logical thread of control.
	mu    sync.Mutex
	state EngineState
	err   error

	started          bool
	callbacksClosed  bool
	lastBreakpointID BreakpointID
	breakpoints      map[BreakpointID]*Breakpoint

	pendingBreakpoints *pendingTable[BreakpointID, pendingBreakpointOp]
	disassembly        *pendingTable[uint64, DisassemblyHandler]
	sources            *pendingTable[string, SourceHandler]

	// callbacks carries Listener and MessageSink calls to the goroutine that runs them.
	callbacks *chanx.UnboundedChan[func()]
	done      chan struct{}
}

func NewController(t Transport, cfg ControllerConfig) *Controller {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	messages := cfg.Messages
	if messages == nil {
		messages = logMessageSink{log: log.WithName("messages")}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NoopProtocolMetrics()
	}
	teardownTimeout := cfg.TeardownTimeout
	if teardownTimeout <= 0 {
		teardownTimeout = DefaultTeardownTimeout
	}

	c := &Controller{
		conn: NewConnection(t, ConnectionConfig{
			ByteOrder: cfg.ByteOrder,
			Log:       log,
			Metrics:   metrics,
		}),
		log:                log,
		listener:           listener,
		messages:           messages,
		metrics:            metrics,
		teardownTimeout:    teardownTimeout,
		state:              EngineSetupRequested,
		breakpoints:        make(map[BreakpointID]*Breakpoint),
		pendingBreakpoints: newPendingTable[BreakpointID, pendingBreakpointOp](),
		disassembly:        newPendingTable[uint64, DisassemblyHandler](),
		sources:            newPendingTable[string, SourceHandler](),
		callbacks:          chanx.NewUnboundedChan[func()](context.Background(), 16),
		done:               make(chan struct{}),
	}

	go c.runCallbacks()

	return c
}

// Start runs the read loop in the background. Cancelling ctx closes the transport and kills the session.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.callbacksClosed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		serveErr := c.conn.Serve(ctx, c.handleFrame)

		c.mu.Lock()
		defer c.mu.Unlock()

		if serveErr != nil {
			c.failLocked(serveErr)
		} else {
			c.setStateLocked(Dead)
		}
		c.closeCallbacksLocked()
	}()
}

// State returns the current engine state.
func (c *Controller) State() EngineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that killed the session, or nil if the session is alive or ended normally.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the read loop has ended and every queued Listener call has been delivered.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Carrier describes the transport in use.
func (c *Controller) Carrier() string {
	return c.conn.Carrier()
}

func (c *Controller) SetupEngine() error {
	return c.send(VerbSetupEngine, nil)
}

func (c *Controller) SetupInferior(params SetupInferiorParams) error {
	return c.send(VerbSetupInferior, params)
}

func (c *Controller) RunEngine() error {
	return c.send(VerbRunEngine, nil)
}

// ShutdownInferior moves the session to InferiorShutdownRequested if an inferior exists and asks the backend to end it.
func (c *Controller) ShutdownInferior() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.hasInferior() {
		c.setStateLocked(InferiorShutdownRequested)
	}
	return c.sendLocked(VerbShutdownInferior, nil)
}

func (c *Controller) ShutdownEngine() error {
	return c.send(VerbShutdownEngine, nil)
}

func (c *Controller) DetachDebugger() error {
	return c.send(VerbDetachDebugger, nil)
}

func (c *Controller) ExecuteStep() error {
	return c.send(VerbExecuteStep, nil)
}

func (c *Controller) ExecuteStepOut() error {
	return c.send(VerbExecuteStepOut, nil)
}

func (c *Controller) ExecuteNext() error {
	return c.send(VerbExecuteNext, nil)
}

func (c *Controller) ExecuteStepInstr() error {
	return c.send(VerbExecuteStepInstr, nil)
}

func (c *Controller) ExecuteNextInstr() error {
	return c.send(VerbExecuteNextInstr, nil)
}

func (c *Controller) ContinueInferior() error {
	return c.send(VerbContinueInferior, nil)
}

// InterruptInferior asks the backend to stop a running inferior.
func (c *Controller) InterruptInferior() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == InferiorRunOk {
		c.setStateLocked(InferiorStopRequested)
	}
	return c.sendLocked(VerbInterruptInferior, nil)
}

func (c *Controller) ExecuteRunToLine(file string, line int) error {
	return c.send(VerbExecuteRunToLine, Location{File: file, Line: line})
}

func (c *Controller) ExecuteRunToFunction(function string) error {
	return c.send(VerbExecuteRunToFunction, Location{Function: function})
}

func (c *Controller) ExecuteJumpToLine(file string, line int) error {
	return c.send(VerbExecuteJumpToLine, Location{File: file, Line: line})
}

func (c *Controller) ActivateFrame(level int) error {
	return c.send(VerbActivateFrame, FrameRef{Level: level})
}

func (c *Controller) SelectThread(id int64) error {
	return c.send(VerbSelectThread, ThreadRef{ID: id})
}

func (c *Controller) RequestUpdateWatchData(req WatchRequest) error {
	return c.send(VerbRequestUpdateWatchData, req)
}

func (c *Controller) ExecuteDebuggerCommand(command string) error {
	return c.send(VerbExecuteDebuggerCommand, DebuggerCommand{Command: command})
}

func (c *Controller) UpdateAll(req WatchRequest) error {
	return c.send(VerbUpdateAll, req)
}

// Disassemble asks the backend for the instructions around req.Address. handler is called with the answer.
// A request for an address that is still outstanding replaces the earlier handler, which is never called.
func (c *Controller) Disassemble(req DisassembleRequest, handler DisassemblyHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sendLocked(VerbDisassemble, req); err != nil {
		return err
	}
	if _, superseded := c.disassembly.Put(req.Address, handler); superseded {
		c.log.V(1).Info("Disassembly request superseded", "address", fmt.Sprintf("0x%x", req.Address))
	}
	return nil
}

// FetchFrameSource asks the backend for the contents of a source file. handler is called with the answer.
// A request for a path that is still outstanding replaces the earlier handler, which is never called.
func (c *Controller) FetchFrameSource(path string, handler SourceHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sendLocked(VerbFetchFrameSource, SourceRequest{Path: path}); err != nil {
		return err
	}
	if _, superseded := c.sources.Put(path, handler); superseded {
		c.log.V(1).Info("Source fetch superseded", "path", path)
	}
	return nil
}

// Shutdown tears the session down without waiting for the backend: the session becomes Dead,
// ShutdownEngine is sent on a best-effort basis within the teardown timeout, and the transport is closed.
// Shutdown must not be called from a Listener or MessageSink callback.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	wasAlive := c.state != Dead
	c.setStateLocked(Dead)
	started := c.started
	if !started {
		c.closeCallbacksLocked()
	}
	c.mu.Unlock()

	if wasAlive {
		timeoutErr := resiliency.RunWithTimeout(ctx, c.teardownTimeout, func(_ context.Context) {
			if _, sendErr := c.conn.Send(VerbShutdownEngine, nil); sendErr != nil {
				c.log.V(1).Info("Could not send ShutdownEngine during teardown", "error", sendErr.Error())
			}
		})
		if timeoutErr != nil {
			c.log.Info("Debugger backend did not accept ShutdownEngine in time", "timeout", c.teardownTimeout.String())
		}
	}

	var closeErr error
	if err := c.conn.Close(); err != nil && !isClosedError(err) {
		closeErr = fmt.Errorf("failed to close %s transport: %w", c.conn.Carrier(), err)
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return errors.Join(closeErr, ctx.Err())
	}
	return closeErr
}

func (c *Controller) send(verb Verb, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(verb, payload)
}

// sendLocked checks the precondition of verb, writes the frame and applies the local "requested" transition.
// Nothing is written if the precondition does not hold.
func (c *Controller) sendLocked(verb Verb, payload any) error {
	if err := CheckPrecondition(verb, c.state); err != nil {
		return err
	}

	data, encodeErr := encodePayload(verb, payload)
	if encodeErr != nil {
		return encodeErr
	}

	if _, sendErr := c.conn.Send(verb, data); sendErr != nil {
		c.failLocked(sendErr)
		return sendErr
	}

	c.setStateLocked(stateAfterSend(verb, c.state))
	return nil
}

func (c *Controller) setStateLocked(to EngineState) {
	from := c.state
	if from == to {
		return
	}

	c.state = to
	c.log.V(1).Info("Engine state changed", "from", from.String(), "to", to.String())
	c.queueLocked(func() { c.listener.StateChanged(from, to) })

	if to == Dead {
		c.failPendingBreakpointsLocked()
		dropped := len(c.disassembly.Drain()) + len(c.sources.Drain())
		if dropped > 0 {
			c.log.V(1).Info("Dropped pending requests of dead session", "count", dropped)
		}
	}
}

// failLocked kills the session because of a protocol or transport error.
// The user sees exactly one message, whatever the number of failures.
func (c *Controller) failLocked(cause error) {
	if c.state == Dead {
		return
	}

	c.err = cause
	c.metrics.FatalShutdown(context.Background(), fatalCause(cause))
	c.log.Error(cause, "Fatal engine shutdown", "state", c.state.String())

	msg := fatalIPCMessage
	if !IsFatal(cause) {
		msg = fatalMessagePrefix + cause.Error()
	}
	c.queueLocked(func() { c.messages.ShowMessage(msg, SeverityFatal) })

	c.setStateLocked(Dead)

	// The read loop may be the caller, so the transport is closed asynchronously.
	go func() {
		if closeErr := c.conn.Close(); closeErr != nil && !isClosedError(closeErr) {
			c.log.V(1).Info("Failed to close transport of dead session", "error", closeErr.Error())
		}
	}()
}

func fatalCause(err error) string {
	switch {
	case errors.Is(err, ErrBadTerminator):
		return "bad_terminator"
	case errors.Is(err, ErrOversizedFrame):
		return "oversized_frame"
	case errors.Is(err, ErrUnmappedVerb):
		return "unmapped_verb"
	case errors.Is(err, ErrPayload):
		return "payload"
	case isClosedError(err):
		return "transport_closed"
	default:
		return "other"
	}
}

func (c *Controller) handleFrame(ctx context.Context, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Dead {
		c.log.V(1).Info("Dropping frame received after the session died", "sequence", f.Sequence, "verb", f.Verb.String())
		return nil
	}

	dispatchErr := dispatchNotification(notificationSink{c: c}, f)
	switch {
	case dispatchErr == nil:
		return nil
	case errors.Is(dispatchErr, ErrStaleNotification):
		c.log.V(1).Info("Dropping stale notification", "sequence", f.Sequence, "verb", f.Verb.String(), "reason", dispatchErr.Error())
		c.metrics.StaleNotification(ctx, f.Verb.String())
		return nil
	case IsFatal(dispatchErr):
		c.failLocked(dispatchErr)
		return dispatchErr
	default:
		c.log.Error(dispatchErr, "Failed to handle notification", "sequence", f.Sequence, "verb", f.Verb.String())
		return nil
	}
}

// applyLifecycleLocked advances the engine state for a lifecycle notification.
// Notifications that are not expected in the current state are logged and ignored.
func (c *Controller) applyLifecycleLocked(verb Verb, reason string) {
	next, expected := nextState(c.state, verb)
	if !expected {
		c.log.Info("Ignoring unexpected lifecycle notification", "verb", verb.String(), "state", c.state.String())
		return
	}

	if isLifecycleFailure(verb) {
		cause := fmt.Errorf("debugger backend reported %s", verb)
		if reason != "" {
			cause = fmt.Errorf("debugger backend reported %s: %s", verb, reason)
		}
		c.failLocked(cause)
		return
	}

	// The first failure is kept through the rest of the shutdown sequence.
	if c.err == nil && (isOutcomeFailure(verb) || (next == Dead && verb != VerbNotifyEngineShutdownOk)) {
		c.err = fmt.Errorf("debugger backend reported %s: %s", verb, cmp.Or(reason, "no reason given"))
	}
	if reason != "" {
		text := fmt.Sprintf("%s: %s", verb, reason)
		c.queueLocked(func() { c.messages.ShowMessage(text, SeverityError) })
	}
	c.setStateLocked(next)
}

// queueLocked schedules a collaborator call. Calls queued after the read loop ended are dropped.
func (c *Controller) queueLocked(fn func()) {
	if c.callbacksClosed {
		return
	}
	c.callbacks.In <- fn
}

func (c *Controller) closeCallbacksLocked() {
	if c.callbacksClosed {
		return
	}
	c.callbacksClosed = true
	close(c.callbacks.In)
}

func (c *Controller) runCallbacks() {
	defer close(c.done)

	for fn := range c.callbacks.Out {
		_ = resiliency.CallWithPanicRecovery(c.log, func() error {
			fn()
			return nil
		})
	}
}

// notificationSink handles backend notifications on behalf of the controller. c.mu is held by the caller.
type notificationSink struct {
	c *Controller
}

var _ Notifier = notificationSink{}

func (s notificationSink) lifecycle(verb Verb, reason string) error {
	s.c.applyLifecycleLocked(verb, reason)
	return nil
}

func (s notificationSink) NotifyEngineSetupOk() error {
	return s.lifecycle(VerbNotifyEngineSetupOk, "")
}

func (s notificationSink) NotifyEngineSetupFailed(info FailureInfo) error {
	return s.lifecycle(VerbNotifyEngineSetupFailed, info.Reason)
}

func (s notificationSink) NotifyInferiorSetupOk() error {
	return s.lifecycle(VerbNotifyInferiorSetupOk, "")
}

func (s notificationSink) NotifyInferiorSetupFailed(info FailureInfo) error {
	return s.lifecycle(VerbNotifyInferiorSetupFailed, info.Reason)
}

func (s notificationSink) NotifyEngineRunAndInferiorRunOk() error {
	return s.lifecycle(VerbNotifyEngineRunAndInferiorRunOk, "")
}

func (s notificationSink) NotifyEngineRunAndInferiorStopOk() error {
	return s.lifecycle(VerbNotifyEngineRunAndInferiorStopOk, "")
}

func (s notificationSink) NotifyEngineRunFailed(info FailureInfo) error {
	return s.lifecycle(VerbNotifyEngineRunFailed, info.Reason)
}

func (s notificationSink) NotifyInferiorRunOk() error {
	return s.lifecycle(VerbNotifyInferiorRunOk, "")
}

func (s notificationSink) NotifyInferiorRunFailed(info FailureInfo) error {
	return s.lifecycle(VerbNotifyInferiorRunFailed, info.Reason)
}

func (s notificationSink) NotifyInferiorStopOk() error {
	return s.lifecycle(VerbNotifyInferiorStopOk, "")
}

func (s notificationSink) NotifyInferiorStopFailed(info FailureInfo) error {
	return s.lifecycle(VerbNotifyInferiorStopFailed, info.Reason)
}

func (s notificationSink) NotifyInferiorShutdownOk() error {
	return s.lifecycle(VerbNotifyInferiorShutdownOk, "")
}

func (s notificationSink) NotifyInferiorShutdownFailed(info FailureInfo) error {
	return s.lifecycle(VerbNotifyInferiorShutdownFailed, info.Reason)
}

func (s notificationSink) NotifyEngineShutdownOk() error {
	return s.lifecycle(VerbNotifyEngineShutdownOk, "")
}

func (s notificationSink) NotifyEngineShutdownFailed(info FailureInfo) error {
	return s.lifecycle(VerbNotifyEngineShutdownFailed, info.Reason)
}

func (s notificationSink) NotifyInferiorExited(info ExitInfo) error {
	c := s.c
	c.applyLifecycleLocked(VerbNotifyInferiorExited, "")
	c.queueLocked(func() { c.listener.InferiorExited(info) })
	return nil
}

func (s notificationSink) NotifyEngineSpontaneousShutdown(info FailureInfo) error {
	return s.lifecycle(VerbNotifyEngineSpontaneousShutdown, info.Reason)
}

func (s notificationSink) NotifyInferiorIll(info FailureInfo) error {
	return s.lifecycle(VerbNotifyInferiorIll, info.Reason)
}

func (s notificationSink) NotifyEngineIll(info FailureInfo) error {
	return s.lifecycle(VerbNotifyEngineIll, info.Reason)
}

func (s notificationSink) ListFrames(frames FramesList) error {
	c := s.c
	c.queueLocked(func() { c.listener.FramesListed(frames) })
	return nil
}

func (s notificationSink) ListThreads(threads ThreadsList) error {
	c := s.c
	c.queueLocked(func() { c.listener.ThreadsListed(threads) })
	return nil
}

func (s notificationSink) Disassembled(d Disassembly) error {
	c := s.c
	handler, found := c.disassembly.Take(d.Address)
	if !found {
		return fmt.Errorf("%w: no disassembly request for address 0x%x", ErrStaleNotification, d.Address)
	}
	if handler != nil {
		c.queueLocked(func() { handler(d) })
	}
	return nil
}

func (s notificationSink) UpdateWatchData(data WatchData) error {
	c := s.c
	c.queueLocked(func() { c.listener.WatchDataUpdated(data) })
	return nil
}

func (s notificationSink) FrameSourceFetched(source SourceText) error {
	c := s.c
	handler, found := c.sources.Take(source.Path)
	if !found {
		return fmt.Errorf("%w: no source request for '%s'", ErrStaleNotification, source.Path)
	}
	if handler != nil {
		c.queueLocked(func() { handler(source) })
	}
	return nil
}

func (s notificationSink) CurrentFrameChanged(frame FrameRef) error {
	c := s.c
	c.queueLocked(func() { c.listener.CurrentFrameChanged(frame) })
	return nil
}

func (s notificationSink) CurrentThreadChanged(thread ThreadRef) error {
	c := s.c
	c.queueLocked(func() { c.listener.CurrentThreadChanged(thread) })
	return nil
}

func (s notificationSink) ShowMessage(msg TextMessage) error {
	c := s.c
	c.queueLocked(func() { c.messages.ShowMessage(msg.Text, msg.Severity) })
	return nil
}

func (s notificationSink) ShowStatusMessage(msg TextMessage) error {
	c := s.c
	c.queueLocked(func() { c.messages.ShowMessage(msg.Text, SeverityStatus) })
	return nil
}

func (s notificationSink) ShowLogOutput(msg TextMessage) error {
	c := s.c
	c.queueLocked(func() { c.listener.LogOutput(msg.Text) })
	return nil
}

func (s notificationSink) NotifyAddBreakpointOk(bp BreakpointResponse) error {
	return s.c.completeBreakpointOpLocked(VerbNotifyAddBreakpointOk, breakpointAdd, true, bp)
}

func (s notificationSink) NotifyAddBreakpointFailed(bp BreakpointResponse) error {
	return s.c.completeBreakpointOpLocked(VerbNotifyAddBreakpointFailed, breakpointAdd, false, bp)
}

func (s notificationSink) NotifyRemoveBreakpointOk(bp BreakpointResponse) error {
	return s.c.completeBreakpointOpLocked(VerbNotifyRemoveBreakpointOk, breakpointRemove, true, bp)
}

func (s notificationSink) NotifyRemoveBreakpointFailed(bp BreakpointResponse) error {
	return s.c.completeBreakpointOpLocked(VerbNotifyRemoveBreakpointFailed, breakpointRemove, false, bp)
}

func (s notificationSink) NotifyChangeBreakpointOk(bp BreakpointResponse) error {
	return s.c.completeBreakpointOpLocked(VerbNotifyChangeBreakpointOk, breakpointChange, true, bp)
}

func (s notificationSink) NotifyChangeBreakpointFailed(bp BreakpointResponse) error {
	return s.c.completeBreakpointOpLocked(VerbNotifyChangeBreakpointFailed, breakpointChange, false, bp)
}

func (s notificationSink) NotifyBreakpointAdjusted(bp BreakpointResponse) error {
	return s.c.adjustBreakpointLocked(bp)
}
