/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/qt-creator/qt-creator-sub115/internal/codec"
	"github.com/qt-creator/qt-creator-sub115/pkg/testutil"
)

const controllerTestTimeout = 20 * time.Second

// fakeBackend is the far end of a controller under test. It reads raw frames
// and writes hand-made notifications.
type fakeBackend struct {
	t         *testing.T
	transport Transport
	order     binary.ByteOrder
	frames    chan Frame
	seq       uint64
}

func newFakeBackend(t *testing.T, tr Transport, order binary.ByteOrder) *fakeBackend {
	fb := &fakeBackend{
		t:         t,
		transport: tr,
		order:     order,
		frames:    make(chan Frame, 256),
	}

	go func() {
		defer close(fb.frames)
		r := NewReassembler(order)
		buf := make([]byte, 1024)
		for {
			n, readErr := tr.Read(buf)
			if n > 0 {
				_, _ = r.Write(buf[:n])
				if _, drainErr := r.Drain(func(f Frame) error {
					fb.frames <- f
					return nil
				}); drainErr != nil {
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	return fb
}

// expect returns the next frame sent by the controller and checks its verb.
func (fb *fakeBackend) expect(ctx context.Context, verb Verb) Frame {
	fb.t.Helper()

	select {
	case f, isOpen := <-fb.frames:
		require.True(fb.t, isOpen, "connection closed while waiting for %s", verb)
		require.Equal(fb.t, verb, f.Verb)
		return f
	case <-ctx.Done():
		require.FailNow(fb.t, "timed out waiting for frame", "verb %s", verb)
		return Frame{}
	}
}

// expectNothing checks that the controller did not send any frame.
func (fb *fakeBackend) expectNothing() {
	fb.t.Helper()

	select {
	case f, isOpen := <-fb.frames:
		if isOpen {
			assert.Fail(fb.t, "unexpected frame", "verb %s", f.Verb)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func (fb *fakeBackend) notify(verb Verb, payload any) {
	fb.t.Helper()

	data, err := encodePayload(verb, payload)
	require.NoError(fb.t, err)
	fb.seq++
	fb.writeRaw(EncodeFrame(fb.order, fb.seq, verb, data))
}

func (fb *fakeBackend) writeRaw(data []byte) {
	fb.t.Helper()

	_, err := fb.transport.Write(data)
	require.NoError(fb.t, err)
}

type shownMessage struct {
	text     string
	severity Severity
}

type recordingMessages struct {
	mu       sync.Mutex
	messages []shownMessage
}

func (m *recordingMessages) ShowMessage(text string, severity Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, shownMessage{text, severity})
}

func (m *recordingMessages) shown() []shownMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]shownMessage(nil), m.messages...)
}

type stateRecorder struct {
	NopListener
	mu          sync.Mutex
	transitions [][2]EngineState
	breakpoints []Breakpoint
	logOutput   []string
}

func (r *stateRecorder) StateChanged(from, to EngineState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]EngineState{from, to})
}

func (r *stateRecorder) BreakpointChanged(bp Breakpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakpoints = append(r.breakpoints, bp)
}

func (r *stateRecorder) LogOutput(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logOutput = append(r.logOutput, text)
}

func (r *stateRecorder) states() [][2]EngineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]EngineState(nil), r.transitions...)
}

type controllerHarness struct {
	controller *Controller
	backend    *fakeBackend
	listener   *stateRecorder
	messages   *recordingMessages
	logSink    *testutil.MockLoggerSink
}

func startController(t *testing.T, ctx context.Context) *controllerHarness {
	controllerSide, backendSide := NewInProcessPair()
	log, sink := testutil.NewMockLogger()

	h := &controllerHarness{
		backend:  newFakeBackend(t, backendSide, binary.BigEndian),
		listener: &stateRecorder{},
		messages: &recordingMessages{},
		logSink:  sink,
	}
	h.controller = NewController(controllerSide, ControllerConfig{
		ByteOrder:       binary.BigEndian,
		Log:             log,
		Listener:        h.listener,
		Messages:        h.messages,
		TeardownTimeout: time.Second,
	})
	h.controller.Start(ctx)

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.controller.Shutdown(shutdownCtx)
		_ = backendSide.Close()
	})
	return h
}

func waitFor(t *testing.T, ctx context.Context, what string, cond func() bool) {
	t.Helper()

	err := wait.PollUntilContextCancel(ctx, 10*time.Millisecond, true, func(_ context.Context) (bool, error) {
		return cond(), nil
	})
	require.NoError(t, err, "timed out waiting for %s", what)
}

func waitForControllerState(t *testing.T, ctx context.Context, c *Controller, expected EngineState) {
	t.Helper()
	waitFor(t, ctx, "state "+expected.String(), func() bool { return c.State() == expected })
}

func waitForDone(t *testing.T, ctx context.Context, c *Controller) {
	t.Helper()

	select {
	case <-c.Done():
	case <-ctx.Done():
		require.FailNow(t, "controller did not finish")
	}
}

// runToStop drives the controller through setup into InferiorStopOk.
func (h *controllerHarness) runToStop(t *testing.T, ctx context.Context) {
	t.Helper()
	c, fb := h.controller, h.backend

	require.NoError(t, c.SetupEngine())
	fb.expect(ctx, VerbSetupEngine)
	fb.notify(VerbNotifyEngineSetupOk, nil)
	waitForControllerState(t, ctx, c, InferiorSetupRequested)

	require.NoError(t, c.SetupInferior(SetupInferiorParams{Executable: "/bin/app", BreakOnMain: true}))
	fb.expect(ctx, VerbSetupInferior)
	fb.notify(VerbNotifyInferiorSetupOk, nil)
	waitForControllerState(t, ctx, c, EngineRunRequested)

	require.NoError(t, c.RunEngine())
	fb.expect(ctx, VerbRunEngine)
	fb.notify(VerbNotifyEngineRunAndInferiorStopOk, nil)
	waitForControllerState(t, ctx, c, InferiorStopOk)
}

func TestControllerSetupEngine(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	require.Equal(t, EngineSetupRequested, h.controller.State())

	require.NoError(t, h.controller.SetupEngine())
	f := h.backend.expect(ctx, VerbSetupEngine)
	assert.Equal(t, uint64(1), f.Sequence)
	assert.Empty(t, f.Payload)

	h.backend.notify(VerbNotifyEngineSetupOk, nil)
	waitForControllerState(t, ctx, h.controller, InferiorSetupRequested)
	waitFor(t, ctx, "listener update", func() bool { return len(h.listener.states()) == 1 })
	assert.Equal(t, [][2]EngineState{{EngineSetupRequested, InferiorSetupRequested}}, h.listener.states())
}

func TestControllerRefusesVerbsOutsidePrecondition(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)

	err := h.controller.ContinueInferior()
	require.ErrorIs(t, err, ErrPreconditionViolated)
	_, err = h.controller.AddBreakpoint(BreakpointParams{Type: BreakpointByFileAndLine, FileName: "main.c", LineNumber: 3}, nil)
	require.ErrorIs(t, err, ErrPreconditionViolated)
	err = h.controller.Disassemble(DisassembleRequest{Address: 0x1000}, func(Disassembly) {})
	require.ErrorIs(t, err, ErrPreconditionViolated)
	h.backend.expectNothing()

	assert.Equal(t, EngineSetupRequested, h.controller.State())
	assert.Equal(t, 0, h.controller.disassembly.Len())

	// Sequence numbers were not consumed by refused verbs.
	require.NoError(t, h.controller.SetupEngine())
	f := h.backend.expect(ctx, VerbSetupEngine)
	assert.Equal(t, uint64(1), f.Sequence)
}

func TestControllerSendsPayloads(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)
	c, fb := h.controller, h.backend

	require.NoError(t, c.ActivateFrame(2))
	var frame FrameRef
	require.NoError(t, codec.Unmarshal(fb.expect(ctx, VerbActivateFrame).Payload, &frame))
	assert.Equal(t, FrameRef{Level: 2}, frame)

	require.NoError(t, c.ExecuteDebuggerCommand("info registers"))
	var command DebuggerCommand
	require.NoError(t, codec.Unmarshal(fb.expect(ctx, VerbExecuteDebuggerCommand).Payload, &command))
	assert.Equal(t, "info registers", command.Command)

	require.NoError(t, c.ExecuteRunToLine("main.c", 12))
	var location Location
	require.NoError(t, codec.Unmarshal(fb.expect(ctx, VerbExecuteRunToLine).Payload, &location))
	assert.Equal(t, Location{File: "main.c", Line: 12}, location)
	assert.Equal(t, InferiorRunRequested, c.State())

	// Stepping is not allowed until the inferior stopped again.
	require.ErrorIs(t, c.ExecuteStep(), ErrPreconditionViolated)

	fb.notify(VerbNotifyInferiorRunOk, nil)
	waitForControllerState(t, ctx, c, InferiorRunOk)

	require.NoError(t, c.InterruptInferior())
	fb.expect(ctx, VerbInterruptInferior)
	assert.Equal(t, InferiorStopRequested, c.State())

	fb.notify(VerbNotifyInferiorStopOk, nil)
	waitForControllerState(t, ctx, c, InferiorStopOk)
}

func TestControllerDisassemblyIsSingleFlight(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)
	c, fb := h.controller, h.backend

	var firstCalls, secondCalls atomic.Int32
	var received atomic.Pointer[Disassembly]
	require.NoError(t, c.Disassemble(DisassembleRequest{Address: 0x1000, Count: 4}, func(Disassembly) { firstCalls.Add(1) }))
	require.NoError(t, c.Disassemble(DisassembleRequest{Address: 0x1000, Count: 8}, func(d Disassembly) {
		secondCalls.Add(1)
		received.Store(&d)
	}))
	fb.expect(ctx, VerbDisassemble)
	fb.expect(ctx, VerbDisassemble)
	assert.Equal(t, 1, c.disassembly.Len())

	fb.notify(VerbDisassembled, Disassembly{
		Address: 0x1000,
		Lines:   []DisassemblyLine{{Address: 0x1000, Instruction: "nop"}},
	})
	waitFor(t, ctx, "disassembly handler", func() bool { return secondCalls.Load() == 1 })
	assert.Equal(t, int32(0), firstCalls.Load())
	assert.Equal(t, 0, c.disassembly.Len())
	assert.Equal(t, "nop", received.Load().Lines[0].Instruction)

	// A second answer for the same address has no request left.
	fb.notify(VerbDisassembled, Disassembly{Address: 0x1000})
	waitFor(t, ctx, "stale notification log", func() bool { return h.logSink.Logged(1, "Dropping stale notification") })
	assert.Equal(t, int32(1), secondCalls.Load())
	assert.Equal(t, InferiorStopOk, c.State())
}

func TestControllerSourceFetch(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)
	c, fb := h.controller, h.backend

	results := make(chan SourceText, 2)
	require.NoError(t, c.FetchFrameSource("/src/main.c", func(s SourceText) { results <- s }))
	var req SourceRequest
	require.NoError(t, codec.Unmarshal(fb.expect(ctx, VerbFetchFrameSource).Payload, &req))
	assert.Equal(t, "/src/main.c", req.Path)

	fb.notify(VerbFrameSourceFetched, SourceText{Path: "/src/other.c", Contents: "x"})
	fb.notify(VerbFrameSourceFetched, SourceText{Path: "/src/main.c", Contents: "int main() {}"})

	select {
	case s := <-results:
		assert.Equal(t, "int main() {}", s.Contents)
	case <-ctx.Done():
		require.FailNow(t, "source handler was not called")
	}
	assert.True(t, h.logSink.Logged(1, "Dropping stale notification"))
	assert.Equal(t, 0, c.sources.Len())
}

func TestControllerFatalErrors(t *testing.T) {
	t.Parallel()

	badTerminator := EncodeFrame(binary.BigEndian, 1, VerbNotifyEngineSetupOk, nil)
	badTerminator[len(badTerminator)-1] = 'X'

	oversized := EncodeFrame(binary.BigEndian, 1, VerbListFrames, nil)[:HeaderSize]
	binary.BigEndian.PutUint64(oversized[16:24], MaxPayloadLen+1)

	tests := []struct {
		name     string
		stream   []byte
		expected error
	}{
		{
			name:     "bad terminator",
			stream:   badTerminator,
			expected: ErrBadTerminator,
		},
		{
			name:     "oversized frame",
			stream:   oversized,
			expected: ErrOversizedFrame,
		},
		{
			name: "controller verb sent by backend",
			stream: append(
				EncodeFrame(binary.BigEndian, 1, VerbExecuteStep, nil),
				EncodeFrame(binary.BigEndian, 2, Verb(77), nil)...,
			),
			expected: ErrUnmappedVerb,
		},
		{
			name:     "undecodable payload",
			stream:   EncodeFrame(binary.BigEndian, 1, VerbListThreads, []byte{0xff}),
			expected: ErrPayload,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
			defer cancel()

			h := startController(t, ctx)
			require.NoError(t, h.controller.SetupEngine())
			h.backend.expect(ctx, VerbSetupEngine)

			h.backend.writeRaw(tc.stream)
			waitForDone(t, ctx, h.controller)

			assert.Equal(t, Dead, h.controller.State())
			assert.ErrorIs(t, h.controller.Err(), tc.expected)
			assert.Equal(t, []shownMessage{{fatalIPCMessage, SeverityFatal}}, h.messages.shown())
			assert.True(t, h.logSink.Logged(-1, "Fatal engine shutdown"))

			assert.ErrorIs(t, h.controller.ShutdownEngine(), ErrSessionDead)
			assert.ErrorIs(t, h.controller.SetupInferior(SetupInferiorParams{}), ErrSessionDead)
		})
	}
}

func TestControllerTransportLossKillsSession(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)

	var callbackErr atomic.Pointer[error]
	id, err := h.controller.AddBreakpoint(BreakpointParams{Type: BreakpointByFunction, Function: "main", Enabled: true}, func(_ Breakpoint, err error) {
		callbackErr.Store(&err)
	})
	require.NoError(t, err)
	assert.Equal(t, BreakpointID(1), id)
	h.backend.expect(ctx, VerbAddBreakpoint)

	require.NoError(t, h.backend.transport.Close())
	waitForDone(t, ctx, h.controller)

	assert.Equal(t, Dead, h.controller.State())
	assert.ErrorIs(t, h.controller.Err(), ErrTransportClosed)

	shown := h.messages.shown()
	require.Len(t, shown, 1)
	assert.Equal(t, SeverityFatal, shown[0].severity)
	assert.Contains(t, shown[0].text, fatalMessagePrefix)

	require.NotNil(t, callbackErr.Load())
	assert.ErrorIs(t, *callbackErr.Load(), ErrSessionDead)
}

func TestControllerLifecycleFailures(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	c, fb := h.controller, h.backend

	require.NoError(t, c.SetupEngine())
	fb.expect(ctx, VerbSetupEngine)
	fb.notify(VerbNotifyEngineSetupOk, nil)
	waitForControllerState(t, ctx, c, InferiorSetupRequested)

	// An unexpected notification is ignored.
	fb.notify(VerbNotifyInferiorStopOk, nil)
	waitFor(t, ctx, "ignored notification log", func() bool {
		return h.logSink.Logged(0, "Ignoring unexpected lifecycle notification")
	})
	assert.Equal(t, InferiorSetupRequested, c.State())

	require.NoError(t, c.SetupInferior(SetupInferiorParams{Executable: "/missing"}))
	fb.expect(ctx, VerbSetupInferior)
	fb.notify(VerbNotifyInferiorSetupFailed, FailureInfo{Reason: "no such file"})
	waitForControllerState(t, ctx, c, EngineShutdownRequested)

	require.NoError(t, c.ShutdownEngine())
	fb.expect(ctx, VerbShutdownEngine)
	fb.notify(VerbNotifyEngineShutdownOk, nil)
	waitForControllerState(t, ctx, c, Dead)
	require.Error(t, c.Err())
	assert.Equal(t, "debugger backend reported NotifyInferiorSetupFailed: no such file", c.Err().Error())
	assert.NotErrorIs(t, c.Err(), ErrSessionDead)

	waitFor(t, ctx, "failure message", func() bool { return len(h.messages.shown()) == 1 })
	assert.Equal(t, shownMessage{"NotifyInferiorSetupFailed: no such file", SeverityError}, h.messages.shown()[0])
}

func TestControllerEngineIll(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)

	h.backend.notify(VerbNotifyEngineIll, FailureInfo{Reason: "unmapped verb"})
	waitForDone(t, ctx, h.controller)

	assert.Equal(t, Dead, h.controller.State())
	require.Error(t, h.controller.Err())
	assert.Contains(t, h.controller.Err().Error(), "unmapped verb")

	shown := h.messages.shown()
	require.Len(t, shown, 1)
	assert.Equal(t, shownMessage{fatalMessagePrefix + "debugger backend reported NotifyEngineIll: unmapped verb", SeverityFatal}, shown[0])
}

func TestControllerShutdownSendsShutdownEngine(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)

	require.NoError(t, h.controller.Shutdown(ctx))
	h.backend.expect(ctx, VerbShutdownEngine)

	assert.Equal(t, Dead, h.controller.State())
	assert.NoError(t, h.controller.Err())
	assert.Empty(t, h.messages.shown())
	assert.ErrorIs(t, h.controller.ContinueInferior(), ErrSessionDead)

	// Shutting down twice is harmless.
	require.NoError(t, h.controller.Shutdown(ctx))
}

func TestControllerShutdownWithoutStart(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	controllerSide, backendSide := NewInProcessPair()
	defer backendSide.Close()
	c := NewController(controllerSide, ControllerConfig{Log: logr.Discard()})

	require.NoError(t, c.Shutdown(ctx))
	waitForDone(t, ctx, c)
	assert.Equal(t, Dead, c.State())
}

func TestControllerBreakpoints(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)
	c, fb := h.controller, h.backend

	type outcome struct {
		bp  Breakpoint
		err error
	}
	outcomes := make(chan outcome, 8)
	record := func(bp Breakpoint, err error) { outcomes <- outcome{bp, err} }
	next := func() outcome {
		select {
		case o := <-outcomes:
			return o
		case <-ctx.Done():
			require.FailNow(t, "breakpoint callback was not called")
			return outcome{}
		}
	}

	params := BreakpointParams{Type: BreakpointByFileAndLine, FileName: "main.c", LineNumber: 10, Enabled: true}
	id, err := c.AddBreakpoint(params, record)
	require.NoError(t, err)

	var req BreakpointRequest
	require.NoError(t, codec.Unmarshal(fb.expect(ctx, VerbAddBreakpoint).Payload, &req))
	assert.Equal(t, BreakpointRequest{ID: id, Params: params}, req)

	bp, found := c.Breakpoint(id)
	require.True(t, found)
	assert.Equal(t, BreakpointInsertionRequested, bp.State)

	// Only one operation per breakpoint may be outstanding.
	require.ErrorIs(t, c.RemoveBreakpoint(id, record), ErrBreakpointBusy)
	require.ErrorIs(t, c.RemoveBreakpoint(id+100, record), ErrUnknownBreakpoint)

	adjusted := params
	adjusted.LineNumber = 11
	fb.notify(VerbNotifyAddBreakpointOk, BreakpointResponse{ID: id, Params: adjusted})
	o := next()
	require.NoError(t, o.err)
	assert.Equal(t, BreakpointInserted, o.bp.State)
	assert.Equal(t, 11, o.bp.Actual.LineNumber)

	// A failed change keeps the breakpoint.
	changed := params
	changed.Condition = "i > 3"
	require.NoError(t, c.ChangeBreakpoint(id, changed, record))
	fb.expect(ctx, VerbChangeBreakpoint)
	fb.notify(VerbNotifyChangeBreakpointFailed, BreakpointResponse{ID: id, Message: "bad condition"})
	o = next()
	require.ErrorIs(t, o.err, ErrBreakpointRejected)
	assert.Contains(t, o.err.Error(), "bad condition")
	assert.Equal(t, BreakpointChangeFailed, o.bp.State)

	// An acknowledgement of the wrong kind does not complete the pending operation.
	require.NoError(t, c.RemoveBreakpoint(id, record))
	var ref BreakpointRef
	require.NoError(t, codec.Unmarshal(fb.expect(ctx, VerbRemoveBreakpoint).Payload, &ref))
	assert.Equal(t, id, ref.ID)
	fb.notify(VerbNotifyAddBreakpointOk, BreakpointResponse{ID: id})
	fb.notify(VerbNotifyRemoveBreakpointOk, BreakpointResponse{ID: id})
	o = next()
	require.NoError(t, o.err)
	assert.Equal(t, BreakpointRemoved, o.bp.State)
	assert.True(t, h.logSink.Logged(1, "Dropping stale notification"))

	assert.Empty(t, c.Breakpoints())
	assert.Equal(t, 0, c.pendingBreakpoints.Len())

	// Breakpoint ids are never reused.
	second, err := c.AddBreakpoint(params, nil)
	require.NoError(t, err)
	assert.Equal(t, id+1, second)
	fb.expect(ctx, VerbAddBreakpoint)
}

func TestControllerForwardsDataPushes(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
	defer cancel()

	h := startController(t, ctx)
	h.runToStop(t, ctx)

	h.backend.notify(VerbShowLogOutput, TextMessage{Text: "hello\n"})
	h.backend.notify(VerbShowStatusMessage, TextMessage{Text: "Stopped at main.c:1"})

	waitFor(t, ctx, "log output", func() bool {
		h.listener.mu.Lock()
		defer h.listener.mu.Unlock()
		return len(h.listener.logOutput) == 1
	})
	waitFor(t, ctx, "status message", func() bool { return len(h.messages.shown()) == 1 })
	assert.Equal(t, shownMessage{"Stopped at main.c:1", SeverityStatus}, h.messages.shown()[0])
	assert.Equal(t, InferiorStopOk, h.controller.State())
}

func TestControllerKeepsFailureThroughOrderlyShutdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fail func(t *testing.T, ctx context.Context, h *controllerHarness)
		verb Verb
	}{
		{
			name: "engine run failed",
			verb: VerbNotifyEngineRunFailed,
			fail: func(t *testing.T, ctx context.Context, h *controllerHarness) {
				c, fb := h.controller, h.backend
				require.NoError(t, c.SetupEngine())
				fb.expect(ctx, VerbSetupEngine)
				fb.notify(VerbNotifyEngineSetupOk, nil)
				waitForControllerState(t, ctx, c, InferiorSetupRequested)

				require.NoError(t, c.SetupInferior(SetupInferiorParams{Executable: "/bin/app"}))
				fb.expect(ctx, VerbSetupInferior)
				fb.notify(VerbNotifyInferiorSetupOk, nil)
				waitForControllerState(t, ctx, c, EngineRunRequested)

				require.NoError(t, c.RunEngine())
				fb.expect(ctx, VerbRunEngine)
				fb.notify(VerbNotifyEngineRunFailed, FailureInfo{Reason: "cannot start"})
			},
		},
		{
			name: "inferior stop failed",
			verb: VerbNotifyInferiorStopFailed,
			fail: func(t *testing.T, ctx context.Context, h *controllerHarness) {
				c, fb := h.controller, h.backend
				h.runToStop(t, ctx)

				require.NoError(t, c.ContinueInferior())
				fb.expect(ctx, VerbContinueInferior)
				fb.notify(VerbNotifyInferiorRunOk, nil)
				waitForControllerState(t, ctx, c, InferiorRunOk)

				require.NoError(t, c.InterruptInferior())
				fb.expect(ctx, VerbInterruptInferior)
				fb.notify(VerbNotifyInferiorStopFailed, FailureInfo{Reason: "cannot start"})
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := testutil.GetTestContext(t, controllerTestTimeout)
			defer cancel()

			h := startController(t, ctx)
			c, fb := h.controller, h.backend

			tc.fail(t, ctx, h)
			waitForControllerState(t, ctx, c, EngineShutdownRequested)
			require.Error(t, c.Err())

			require.NoError(t, c.ShutdownEngine())
			fb.expect(ctx, VerbShutdownEngine)
			fb.notify(VerbNotifyEngineShutdownOk, nil)
			waitForControllerState(t, ctx, c, Dead)

			require.Error(t, c.Err())
			assert.Equal(t, fmt.Sprintf("debugger backend reported %s: cannot start", tc.verb), c.Err().Error())
		})
	}
}
