/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qt-creator/qt-creator-sub115/pkg/testutil"
)

// emptyMap is the CBOR encoding of an empty map. It decodes into every payload record.
var emptyMap = []byte{0xa0}

// recordingEngine records the controller verbs it receives.
type recordingEngine struct {
	mu       sync.Mutex
	verbs    []Verb
	payloads []any
	fail     error
}

func (e *recordingEngine) record(verb Verb, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verbs = append(e.verbs, verb)
	e.payloads = append(e.payloads, payload)
	return e.fail
}

func (e *recordingEngine) received() []Verb {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Verb(nil), e.verbs...)
}

func (e *recordingEngine) SetupEngine() error { return e.record(VerbSetupEngine, nil) }
func (e *recordingEngine) SetupInferior(p SetupInferiorParams) error {
	return e.record(VerbSetupInferior, p)
}
func (e *recordingEngine) RunEngine() error        { return e.record(VerbRunEngine, nil) }
func (e *recordingEngine) ShutdownInferior() error { return e.record(VerbShutdownInferior, nil) }
func (e *recordingEngine) ShutdownEngine() error   { return e.record(VerbShutdownEngine, nil) }
func (e *recordingEngine) DetachDebugger() error   { return e.record(VerbDetachDebugger, nil) }
func (e *recordingEngine) ExecuteStep() error      { return e.record(VerbExecuteStep, nil) }
func (e *recordingEngine) ExecuteStepOut() error   { return e.record(VerbExecuteStepOut, nil) }
func (e *recordingEngine) ExecuteNext() error      { return e.record(VerbExecuteNext, nil) }
func (e *recordingEngine) ExecuteStepInstr() error { return e.record(VerbExecuteStepInstr, nil) }
func (e *recordingEngine) ExecuteNextInstr() error { return e.record(VerbExecuteNextInstr, nil) }
func (e *recordingEngine) ContinueInferior() error { return e.record(VerbContinueInferior, nil) }
func (e *recordingEngine) InterruptInferior() error {
	return e.record(VerbInterruptInferior, nil)
}
func (e *recordingEngine) ExecuteRunToLine(l Location) error {
	return e.record(VerbExecuteRunToLine, l)
}
func (e *recordingEngine) ExecuteRunToFunction(l Location) error {
	return e.record(VerbExecuteRunToFunction, l)
}
func (e *recordingEngine) ExecuteJumpToLine(l Location) error {
	return e.record(VerbExecuteJumpToLine, l)
}
func (e *recordingEngine) ActivateFrame(f FrameRef) error { return e.record(VerbActivateFrame, f) }
func (e *recordingEngine) SelectThread(t ThreadRef) error { return e.record(VerbSelectThread, t) }
func (e *recordingEngine) Disassemble(r DisassembleRequest) error {
	return e.record(VerbDisassemble, r)
}
func (e *recordingEngine) FetchFrameSource(r SourceRequest) error {
	return e.record(VerbFetchFrameSource, r)
}
func (e *recordingEngine) RequestUpdateWatchData(r WatchRequest) error {
	return e.record(VerbRequestUpdateWatchData, r)
}
func (e *recordingEngine) AddBreakpoint(r BreakpointRequest) error {
	return e.record(VerbAddBreakpoint, r)
}
func (e *recordingEngine) RemoveBreakpoint(r BreakpointRef) error {
	return e.record(VerbRemoveBreakpoint, r)
}
func (e *recordingEngine) ChangeBreakpoint(r BreakpointRequest) error {
	return e.record(VerbChangeBreakpoint, r)
}
func (e *recordingEngine) ExecuteDebuggerCommand(c DebuggerCommand) error {
	return e.record(VerbExecuteDebuggerCommand, c)
}
func (e *recordingEngine) UpdateAll(r WatchRequest) error { return e.record(VerbUpdateAll, r) }

var _ Engine = (*recordingEngine)(nil)

func TestDispatchCommandHandlesEveryControllerVerb(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{}
	for i, verb := range ControllerVerbs() {
		err := dispatchCommand(engine, Frame{Sequence: uint64(i + 1), Verb: verb, Payload: emptyMap})
		require.NoError(t, err, "verb %s is not dispatched", verb)
	}

	assert.Equal(t, ControllerVerbs(), engine.received())
}

func TestDispatchNotificationHandlesEveryBackendVerb(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	// The backend implements Notifier by sending the verb of the called method,
	// so dispatching to it echoes each frame to the peer.
	controllerSide, backendSide := NewInProcessPair()
	backend := NewBackend(backendSide, func(Notifier) Engine { return &recordingEngine{} }, BackendConfig{ByteOrder: binary.LittleEndian})
	defer backend.Close()
	defer controllerSide.Close()

	for i, verb := range BackendVerbs() {
		err := dispatchNotification(backend, Frame{Sequence: uint64(i + 1), Verb: verb, Payload: emptyMap})
		require.NoError(t, err, "verb %s is not dispatched", verb)
	}

	echoed := readFrames(t, ctx, controllerSide, binary.LittleEndian, len(BackendVerbs()))
	for i, verb := range BackendVerbs() {
		assert.Equal(t, verb, echoed[i].Verb, "notification %s was not routed to its own method", verb)
		assert.Equal(t, uint64(i+1), echoed[i].Sequence)
	}
}

func TestDispatchRejectsVerbsOfTheOtherDirection(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{}
	for _, verb := range append(BackendVerbs(), Verb(0), Verb(99), Verb(1000)) {
		err := dispatchCommand(engine, Frame{Sequence: 5, Verb: verb, Payload: emptyMap})
		require.ErrorIs(t, err, ErrUnmappedVerb, "verb %s", verb)
		assert.True(t, IsFatal(err))

		var unmapped *UnmappedVerbError
		require.True(t, errors.As(err, &unmapped))
		assert.Equal(t, verb, unmapped.Verb)
		assert.Equal(t, uint64(5), unmapped.Sequence)
	}
	assert.Empty(t, engine.received())

	for _, verb := range append(ControllerVerbs(), Verb(127), Verb(1<<40)) {
		err := dispatchNotification(notificationSink{}, Frame{Verb: verb})
		assert.ErrorIs(t, err, ErrUnmappedVerb, "verb %s", verb)
	}
}

func TestDispatchReportsUndecodablePayload(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{}

	err := dispatchCommand(engine, Frame{Verb: VerbSetupInferior, Payload: []byte{0xff, 0x00}})
	require.ErrorIs(t, err, ErrPayload)
	assert.True(t, IsFatal(err))
	var payloadErr *PayloadError
	require.True(t, errors.As(err, &payloadErr))
	assert.Equal(t, VerbSetupInferior, payloadErr.Verb)

	// A record payload is required where the verb carries one.
	err = dispatchCommand(engine, Frame{Verb: VerbAddBreakpoint})
	assert.ErrorIs(t, err, ErrPayload)

	assert.Empty(t, engine.received())
}

func TestDispatchDecodesPayload(t *testing.T) {
	t.Parallel()

	payload, err := encodePayload(VerbExecuteRunToLine, Location{File: "main.c", Line: 12})
	require.NoError(t, err)

	engine := &recordingEngine{}
	require.NoError(t, dispatchCommand(engine, Frame{Verb: VerbExecuteRunToLine, Payload: payload}))
	require.Len(t, engine.payloads, 1)
	assert.Equal(t, Location{File: "main.c", Line: 12}, engine.payloads[0])

	// Watch requests may omit their payload.
	require.NoError(t, dispatchCommand(engine, Frame{Verb: VerbUpdateAll}))
}

func TestVerbSets(t *testing.T) {
	t.Parallel()

	controller := ControllerVerbs()
	backend := BackendVerbs()
	assert.Len(t, controller, 26)
	assert.Len(t, backend, 36)

	names := map[string]Verb{}
	for _, verb := range append(controller, backend...) {
		assert.True(t, verb.IsKnown())
		name := verb.String()
		assert.NotContains(t, name, "Verb(", "verb %d has no name", uint64(verb))
		_, duplicate := names[name]
		assert.False(t, duplicate, "name %s used twice", name)
		names[name] = verb
	}

	for _, verb := range controller {
		assert.Equal(t, ControllerToBackend, verb.Direction())
	}
	for _, verb := range backend {
		assert.Equal(t, BackendToController, verb.Direction())
	}

	assert.Equal(t, UnknownDirection, Verb(0).Direction())
	assert.Equal(t, UnknownDirection, Verb(100).Direction())
	assert.Equal(t, "Verb(100)", Verb(100).String())
}

// readFrames reads count frames from a transport.
func readFrames(t *testing.T, ctx context.Context, tr Transport, order binary.ByteOrder, count int) []Frame {
	t.Helper()

	type result struct {
		frames []Frame
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r := NewReassembler(order)
		var frames []Frame
		buf := make([]byte, 4096)
		for len(frames) < count {
			n, readErr := tr.Read(buf)
			if n > 0 {
				_, _ = r.Write(buf[:n])
				if _, drainErr := r.Drain(func(f Frame) error {
					frames = append(frames, f)
					return nil
				}); drainErr != nil {
					done <- result{frames, drainErr}
					return
				}
			}
			if readErr != nil {
				done <- result{frames, readErr}
				return
			}
		}
		done <- result{frames, nil}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.frames
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting for frames", "expected %d frames", count)
		return nil
	}
}
