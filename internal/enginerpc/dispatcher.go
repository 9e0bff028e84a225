/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

// Notifier has one method per backend -> controller verb.
// The Backend implements it by sending frames; the controller implements it to handle them.
type Notifier interface {
	NotifyEngineSetupOk() error
	NotifyEngineSetupFailed(info FailureInfo) error
	NotifyInferiorSetupOk() error
	NotifyInferiorSetupFailed(info FailureInfo) error
	NotifyEngineRunAndInferiorRunOk() error
	NotifyEngineRunAndInferiorStopOk() error
	NotifyEngineRunFailed(info FailureInfo) error
	NotifyInferiorRunOk() error
	NotifyInferiorRunFailed(info FailureInfo) error
	NotifyInferiorStopOk() error
	NotifyInferiorStopFailed(info FailureInfo) error
	NotifyInferiorShutdownOk() error
	NotifyInferiorShutdownFailed(info FailureInfo) error
	NotifyEngineShutdownOk() error
	NotifyEngineShutdownFailed(info FailureInfo) error
	NotifyInferiorExited(info ExitInfo) error
	NotifyEngineSpontaneousShutdown(info FailureInfo) error
	NotifyInferiorIll(info FailureInfo) error
	NotifyEngineIll(info FailureInfo) error

	ListFrames(frames FramesList) error
	ListThreads(threads ThreadsList) error
	Disassembled(disassembly Disassembly) error
	UpdateWatchData(data WatchData) error
	FrameSourceFetched(source SourceText) error
	CurrentFrameChanged(frame FrameRef) error
	CurrentThreadChanged(thread ThreadRef) error

	ShowMessage(msg TextMessage) error
	ShowStatusMessage(msg TextMessage) error
	ShowLogOutput(msg TextMessage) error

	NotifyAddBreakpointOk(bp BreakpointResponse) error
	NotifyAddBreakpointFailed(bp BreakpointResponse) error
	NotifyRemoveBreakpointOk(bp BreakpointResponse) error
	NotifyRemoveBreakpointFailed(bp BreakpointResponse) error
	NotifyChangeBreakpointOk(bp BreakpointResponse) error
	NotifyChangeBreakpointFailed(bp BreakpointResponse) error
	NotifyBreakpointAdjusted(bp BreakpointResponse) error
}

// Engine is the concrete debugger driven by a backend host. It has one method per controller -> backend verb.
// Methods must not block: outcomes are reported later through the Notifier the engine was created with.
type Engine interface {
	SetupEngine() error
	SetupInferior(params SetupInferiorParams) error
	RunEngine() error
	ShutdownInferior() error
	ShutdownEngine() error
	DetachDebugger() error

	ExecuteStep() error
	ExecuteStepOut() error
	ExecuteNext() error
	ExecuteStepInstr() error
	ExecuteNextInstr() error
	ContinueInferior() error
	InterruptInferior() error
	ExecuteRunToLine(loc Location) error
	ExecuteRunToFunction(loc Location) error
	ExecuteJumpToLine(loc Location) error

	ActivateFrame(frame FrameRef) error
	SelectThread(thread ThreadRef) error
	Disassemble(req DisassembleRequest) error
	FetchFrameSource(req SourceRequest) error
	RequestUpdateWatchData(req WatchRequest) error

	AddBreakpoint(req BreakpointRequest) error
	RemoveBreakpoint(ref BreakpointRef) error
	ChangeBreakpoint(req BreakpointRequest) error

	ExecuteDebuggerCommand(cmd DebuggerCommand) error
	UpdateAll(req WatchRequest) error
}

// EngineFactory creates an Engine that reports to the given Notifier.
type EngineFactory func(n Notifier) Engine

// dispatchNotification routes a backend -> controller frame to the matching Notifier method.
// Verbs that are not backend verbs produce an *UnmappedVerbError.
func dispatchNotification(h Notifier, f Frame) error {
	switch f.Verb {
	case VerbNotifyEngineSetupOk:
		return h.NotifyEngineSetupOk()
	case VerbNotifyEngineSetupFailed:
		return withOptionalPayload(f, h.NotifyEngineSetupFailed)
	case VerbNotifyInferiorSetupOk:
		return h.NotifyInferiorSetupOk()
	case VerbNotifyInferiorSetupFailed:
		return withOptionalPayload(f, h.NotifyInferiorSetupFailed)
	case VerbNotifyEngineRunAndInferiorRunOk:
		return h.NotifyEngineRunAndInferiorRunOk()
	case VerbNotifyEngineRunAndInferiorStopOk:
		return h.NotifyEngineRunAndInferiorStopOk()
	case VerbNotifyEngineRunFailed:
		return withOptionalPayload(f, h.NotifyEngineRunFailed)
	case VerbNotifyInferiorRunOk:
		return h.NotifyInferiorRunOk()
	case VerbNotifyInferiorRunFailed:
		return withOptionalPayload(f, h.NotifyInferiorRunFailed)
	case VerbNotifyInferiorStopOk:
		return h.NotifyInferiorStopOk()
	case VerbNotifyInferiorStopFailed:
		return withOptionalPayload(f, h.NotifyInferiorStopFailed)
	case VerbNotifyInferiorShutdownOk:
		return h.NotifyInferiorShutdownOk()
	case VerbNotifyInferiorShutdownFailed:
		return withOptionalPayload(f, h.NotifyInferiorShutdownFailed)
	case VerbNotifyEngineShutdownOk:
		return h.NotifyEngineShutdownOk()
	case VerbNotifyEngineShutdownFailed:
		return withOptionalPayload(f, h.NotifyEngineShutdownFailed)
	case VerbNotifyInferiorExited:
		return withOptionalPayload(f, h.NotifyInferiorExited)
	case VerbNotifyEngineSpontaneousShutdown:
		return withOptionalPayload(f, h.NotifyEngineSpontaneousShutdown)
	case VerbNotifyInferiorIll:
		return withOptionalPayload(f, h.NotifyInferiorIll)
	case VerbNotifyEngineIll:
		return withOptionalPayload(f, h.NotifyEngineIll)

	case VerbListFrames:
		return withPayload(f, h.ListFrames)
	case VerbListThreads:
		return withPayload(f, h.ListThreads)
	case VerbDisassembled:
		return withPayload(f, h.Disassembled)
	case VerbUpdateWatchData:
		return withPayload(f, h.UpdateWatchData)
	case VerbFrameSourceFetched:
		return withPayload(f, h.FrameSourceFetched)
	case VerbCurrentFrameChanged:
		return withPayload(f, h.CurrentFrameChanged)
	case VerbCurrentThreadChanged:
		return withPayload(f, h.CurrentThreadChanged)

	case VerbShowMessage:
		return withPayload(f, h.ShowMessage)
	case VerbShowStatusMessage:
		return withPayload(f, h.ShowStatusMessage)
	case VerbShowLogOutput:
		return withPayload(f, h.ShowLogOutput)

	case VerbNotifyAddBreakpointOk:
		return withPayload(f, h.NotifyAddBreakpointOk)
	case VerbNotifyAddBreakpointFailed:
		return withPayload(f, h.NotifyAddBreakpointFailed)
	case VerbNotifyRemoveBreakpointOk:
		return withPayload(f, h.NotifyRemoveBreakpointOk)
	case VerbNotifyRemoveBreakpointFailed:
		return withPayload(f, h.NotifyRemoveBreakpointFailed)
	case VerbNotifyChangeBreakpointOk:
		return withPayload(f, h.NotifyChangeBreakpointOk)
	case VerbNotifyChangeBreakpointFailed:
		return withPayload(f, h.NotifyChangeBreakpointFailed)
	case VerbNotifyBreakpointAdjusted:
		return withPayload(f, h.NotifyBreakpointAdjusted)

	default:
		return &UnmappedVerbError{Verb: f.Verb, Sequence: f.Sequence}
	}
}

// dispatchCommand routes a controller -> backend frame to the matching Engine method.
// Verbs that are not controller verbs produce an *UnmappedVerbError.
func dispatchCommand(e Engine, f Frame) error {
	switch f.Verb {
	case VerbSetupEngine:
		return e.SetupEngine()
	case VerbSetupInferior:
		return withPayload(f, e.SetupInferior)
	case VerbRunEngine:
		return e.RunEngine()
	case VerbShutdownInferior:
		return e.ShutdownInferior()
	case VerbShutdownEngine:
		return e.ShutdownEngine()
	case VerbDetachDebugger:
		return e.DetachDebugger()

	case VerbExecuteStep:
		return e.ExecuteStep()
	case VerbExecuteStepOut:
		return e.ExecuteStepOut()
	case VerbExecuteNext:
		return e.ExecuteNext()
	case VerbExecuteStepInstr:
		return e.ExecuteStepInstr()
	case VerbExecuteNextInstr:
		return e.ExecuteNextInstr()
	case VerbContinueInferior:
		return e.ContinueInferior()
	case VerbInterruptInferior:
		return e.InterruptInferior()
	case VerbExecuteRunToLine:
		return withPayload(f, e.ExecuteRunToLine)
	case VerbExecuteRunToFunction:
		return withPayload(f, e.ExecuteRunToFunction)
	case VerbExecuteJumpToLine:
		return withPayload(f, e.ExecuteJumpToLine)

	case VerbActivateFrame:
		return withPayload(f, e.ActivateFrame)
	case VerbSelectThread:
		return withPayload(f, e.SelectThread)
	case VerbDisassemble:
		return withPayload(f, e.Disassemble)
	case VerbFetchFrameSource:
		return withPayload(f, e.FetchFrameSource)
	case VerbRequestUpdateWatchData:
		return withOptionalPayload(f, e.RequestUpdateWatchData)

	case VerbAddBreakpoint:
		return withPayload(f, e.AddBreakpoint)
	case VerbRemoveBreakpoint:
		return withPayload(f, e.RemoveBreakpoint)
	case VerbChangeBreakpoint:
		return withPayload(f, e.ChangeBreakpoint)

	case VerbExecuteDebuggerCommand:
		return withPayload(f, e.ExecuteDebuggerCommand)
	case VerbUpdateAll:
		return withOptionalPayload(f, e.UpdateAll)

	default:
		return &UnmappedVerbError{Verb: f.Verb, Sequence: f.Sequence}
	}
}

func withPayload[T any](f Frame, fn func(T) error) error {
	v, err := decodePayload[T](f)
	if err != nil {
		return err
	}
	return fn(v)
}

func withOptionalPayload[T any](f Frame, fn func(T) error) error {
	v, err := decodeOptionalPayload[T](f)
	if err != nil {
		return err
	}
	return fn(v)
}
