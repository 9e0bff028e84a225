/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"fmt"
	"slices"
)

// Verb identifies the operation carried by a frame.
// Controller verbs (sent to the backend) and backend verbs (sent to the controller)
// occupy disjoint id ranges.
type Verb uint64

// Direction indicates which side of the connection sends a verb.
type Direction int

const (
	// ControllerToBackend verbs are issued by the IDE-side controller.
	ControllerToBackend Direction = iota
	// BackendToController verbs are notifications and data pushes from the backend.
	BackendToController
	// UnknownDirection is returned for verb ids that are not part of the protocol.
	UnknownDirection
)

func (d Direction) String() string {
	switch d {
	case ControllerToBackend:
		return "controller->backend"
	case BackendToController:
		return "backend->controller"
	default:
		return "unknown"
	}
}

// Controller -> backend verbs.
const (
	VerbSetupEngine Verb = iota + 1
	VerbSetupInferior
	VerbRunEngine
	VerbShutdownInferior
	VerbShutdownEngine
	VerbDetachDebugger
	VerbExecuteStep
	VerbExecuteStepOut
	VerbExecuteNext
	VerbExecuteStepInstr
	VerbExecuteNextInstr
	VerbContinueInferior
	VerbInterruptInferior
	VerbExecuteRunToLine
	VerbExecuteRunToFunction
	VerbExecuteJumpToLine
	VerbActivateFrame
	VerbSelectThread
	VerbDisassemble
	VerbFetchFrameSource
	VerbRequestUpdateWatchData
	VerbAddBreakpoint
	VerbRemoveBreakpoint
	VerbChangeBreakpoint
	VerbExecuteDebuggerCommand
	VerbUpdateAll

	lastControllerVerb = VerbUpdateAll
)

const firstBackendVerb Verb = 128

// Backend -> controller verbs.
const (
	VerbNotifyEngineSetupOk Verb = iota + firstBackendVerb
	VerbNotifyEngineSetupFailed
	VerbNotifyInferiorSetupOk
	VerbNotifyInferiorSetupFailed
	VerbNotifyEngineRunAndInferiorRunOk
	VerbNotifyEngineRunAndInferiorStopOk
	VerbNotifyEngineRunFailed
	VerbNotifyInferiorRunOk
	VerbNotifyInferiorRunFailed
	VerbNotifyInferiorStopOk
	VerbNotifyInferiorStopFailed
	VerbNotifyInferiorShutdownOk
	VerbNotifyInferiorShutdownFailed
	VerbNotifyEngineShutdownOk
	VerbNotifyEngineShutdownFailed
	VerbNotifyInferiorExited
	VerbNotifyEngineSpontaneousShutdown
	VerbNotifyInferiorIll
	VerbNotifyEngineIll
	VerbListFrames
	VerbListThreads
	VerbDisassembled
	VerbUpdateWatchData
	VerbFrameSourceFetched
	VerbCurrentFrameChanged
	VerbCurrentThreadChanged
	VerbShowMessage
	VerbShowStatusMessage
	VerbShowLogOutput
	VerbNotifyAddBreakpointOk
	VerbNotifyAddBreakpointFailed
	VerbNotifyRemoveBreakpointOk
	VerbNotifyRemoveBreakpointFailed
	VerbNotifyChangeBreakpointOk
	VerbNotifyChangeBreakpointFailed
	VerbNotifyBreakpointAdjusted

	lastBackendVerb = VerbNotifyBreakpointAdjusted
)

var verbNames = map[Verb]string{
	VerbSetupEngine:            "SetupEngine",
	VerbSetupInferior:          "SetupInferior",
	VerbRunEngine:              "RunEngine",
	VerbShutdownInferior:       "ShutdownInferior",
	VerbShutdownEngine:         "ShutdownEngine",
	VerbDetachDebugger:         "DetachDebugger",
	VerbExecuteStep:            "ExecuteStep",
	VerbExecuteStepOut:         "ExecuteStepOut",
	VerbExecuteNext:            "ExecuteNext",
	VerbExecuteStepInstr:       "ExecuteStepInstr",
	VerbExecuteNextInstr:       "ExecuteNextInstr",
	VerbContinueInferior:       "ContinueInferior",
	VerbInterruptInferior:      "InterruptInferior",
	VerbExecuteRunToLine:       "ExecuteRunToLine",
	VerbExecuteRunToFunction:   "ExecuteRunToFunction",
	VerbExecuteJumpToLine:      "ExecuteJumpToLine",
	VerbActivateFrame:          "ActivateFrame",
	VerbSelectThread:           "SelectThread",
	VerbDisassemble:            "Disassemble",
	VerbFetchFrameSource:       "FetchFrameSource",
	VerbRequestUpdateWatchData: "RequestUpdateWatchData",
	VerbAddBreakpoint:          "AddBreakpoint",
	VerbRemoveBreakpoint:       "RemoveBreakpoint",
	VerbChangeBreakpoint:       "ChangeBreakpoint",
	VerbExecuteDebuggerCommand: "ExecuteDebuggerCommand",
	VerbUpdateAll:              "UpdateAll",

	VerbNotifyEngineSetupOk:              "NotifyEngineSetupOk",
	VerbNotifyEngineSetupFailed:          "NotifyEngineSetupFailed",
	VerbNotifyInferiorSetupOk:            "NotifyInferiorSetupOk",
	VerbNotifyInferiorSetupFailed:        "NotifyInferiorSetupFailed",
	VerbNotifyEngineRunAndInferiorRunOk:  "NotifyEngineRunAndInferiorRunOk",
	VerbNotifyEngineRunAndInferiorStopOk: "NotifyEngineRunAndInferiorStopOk",
	VerbNotifyEngineRunFailed:            "NotifyEngineRunFailed",
	VerbNotifyInferiorRunOk:              "NotifyInferiorRunOk",
	VerbNotifyInferiorRunFailed:          "NotifyInferiorRunFailed",
	VerbNotifyInferiorStopOk:             "NotifyInferiorStopOk",
	VerbNotifyInferiorStopFailed:         "NotifyInferiorStopFailed",
	VerbNotifyInferiorShutdownOk:         "NotifyInferiorShutdownOk",
	VerbNotifyInferiorShutdownFailed:     "NotifyInferiorShutdownFailed",
	VerbNotifyEngineShutdownOk:           "NotifyEngineShutdownOk",
	VerbNotifyEngineShutdownFailed:       "NotifyEngineShutdownFailed",
	VerbNotifyInferiorExited:             "NotifyInferiorExited",
	VerbNotifyEngineSpontaneousShutdown:  "NotifyEngineSpontaneousShutdown",
	VerbNotifyInferiorIll:                "NotifyInferiorIll",
	VerbNotifyEngineIll:                  "NotifyEngineIll",
	VerbListFrames:                       "ListFrames",
	VerbListThreads:                      "ListThreads",
	VerbDisassembled:                     "Disassembled",
	VerbUpdateWatchData:                  "UpdateWatchData",
	VerbFrameSourceFetched:               "FrameSourceFetched",
	VerbCurrentFrameChanged:              "CurrentFrameChanged",
	VerbCurrentThreadChanged:             "CurrentThreadChanged",
	VerbShowMessage:                      "ShowMessage",
	VerbShowStatusMessage:                "ShowStatusMessage",
	VerbShowLogOutput:                    "ShowLogOutput",
	VerbNotifyAddBreakpointOk:            "NotifyAddBreakpointOk",
	VerbNotifyAddBreakpointFailed:        "NotifyAddBreakpointFailed",
	VerbNotifyRemoveBreakpointOk:         "NotifyRemoveBreakpointOk",
	VerbNotifyRemoveBreakpointFailed:     "NotifyRemoveBreakpointFailed",
	VerbNotifyChangeBreakpointOk:         "NotifyChangeBreakpointOk",
	VerbNotifyChangeBreakpointFailed:     "NotifyChangeBreakpointFailed",
	VerbNotifyBreakpointAdjusted:         "NotifyBreakpointAdjusted",
}

// String returns the protocol name of the verb, or "Verb(<id>)" for ids outside the protocol.
func (v Verb) String() string {
	if name, found := verbNames[v]; found {
		return name
	}
	return fmt.Sprintf("Verb(%d)", uint64(v))
}

// Direction returns which side sends the verb.
func (v Verb) Direction() Direction {
	switch {
	case v >= VerbSetupEngine && v <= lastControllerVerb:
		return ControllerToBackend
	case v >= firstBackendVerb && v <= lastBackendVerb:
		return BackendToController
	default:
		return UnknownDirection
	}
}

// IsKnown returns true if the verb id belongs to either verb set.
func (v Verb) IsKnown() bool {
	return v.Direction() != UnknownDirection
}

// ControllerVerbs returns every controller -> backend verb in id order.
func ControllerVerbs() []Verb {
	return verbRange(VerbSetupEngine, lastControllerVerb)
}

// BackendVerbs returns every backend -> controller verb in id order.
func BackendVerbs() []Verb {
	return verbRange(firstBackendVerb, lastBackendVerb)
}

func verbRange(first, last Verb) []Verb {
	verbs := make([]Verb, 0, last-first+1)
	for v := first; v <= last; v++ {
		verbs = append(verbs, v)
	}
	return verbs
}

// isLifecycleFailure returns true for notifications that kill the session regardless of its state.
func isLifecycleFailure(v Verb) bool {
	return slices.Contains([]Verb{
		VerbNotifyEngineSpontaneousShutdown,
		VerbNotifyInferiorIll,
		VerbNotifyEngineIll,
	}, v)
}

// isOutcomeFailure returns true for notifications reporting that a lifecycle step failed.
// The session still shuts down in order, but ends with an error.
func isOutcomeFailure(v Verb) bool {
	return slices.Contains([]Verb{
		VerbNotifyEngineSetupFailed,
		VerbNotifyInferiorSetupFailed,
		VerbNotifyEngineRunFailed,
		VerbNotifyInferiorStopFailed,
		VerbNotifyInferiorShutdownFailed,
		VerbNotifyEngineShutdownFailed,
	}, v)
}
