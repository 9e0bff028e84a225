/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"fmt"
	"slices"
)

// EngineState is the controller-owned lifecycle state of a debugger session.
// It gates which controller verbs may be sent, and only backend notifications move it forward.
type EngineState int

const (
	EngineSetupRequested EngineState = iota
	InferiorSetupRequested
	EngineRunRequested
	InferiorRunRequested
	InferiorRunOk
	InferiorStopRequested
	InferiorStopOk
	InferiorShutdownRequested
	EngineShutdownRequested
	// Dead is terminal. No verb can be sent once a session is dead.
	Dead
)

func (s EngineState) String() string {
	switch s {
	case EngineSetupRequested:
		return "EngineSetupRequested"
	case InferiorSetupRequested:
		return "InferiorSetupRequested"
	case EngineRunRequested:
		return "EngineRunRequested"
	case InferiorRunRequested:
		return "InferiorRunRequested"
	case InferiorRunOk:
		return "InferiorRunOk"
	case InferiorStopRequested:
		return "InferiorStopRequested"
	case InferiorStopOk:
		return "InferiorStopOk"
	case InferiorShutdownRequested:
		return "InferiorShutdownRequested"
	case EngineShutdownRequested:
		return "EngineShutdownRequested"
	case Dead:
		return "Dead"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

// AllEngineStates returns every engine state in lifecycle order.
func AllEngineStates() []EngineState {
	states := make([]EngineState, 0, int(Dead)+1)
	for s := EngineSetupRequested; s <= Dead; s++ {
		states = append(states, s)
	}
	return states
}

// hasInferior returns true for states in which an inferior process is (or is being) set up and running.
func (s EngineState) hasInferior() bool {
	switch s {
	case EngineRunRequested, InferiorRunRequested, InferiorRunOk, InferiorStopRequested, InferiorStopOk, InferiorShutdownRequested:
		return true
	default:
		return false
	}
}

// verbRule is the precondition of a controller verb and the local transition applied after it was sent.
type verbRule struct {
	required  []EngineState
	afterSend EngineState
	changes   bool
}

var (
	stoppedOnly = []EngineState{InferiorStopOk}

	// Breakpoints can be edited whenever the engine is up and not going away.
	breakpointStates = []EngineState{
		InferiorSetupRequested,
		EngineRunRequested,
		InferiorRunRequested,
		InferiorRunOk,
		InferiorStopRequested,
		InferiorStopOk,
	}

	resumeRule  = verbRule{required: stoppedOnly, afterSend: InferiorRunRequested, changes: true}
	inspectRule = verbRule{required: stoppedOnly}
)

var controllerVerbRules = map[Verb]verbRule{
	VerbSetupEngine:      {required: []EngineState{EngineSetupRequested}},
	VerbSetupInferior:    {required: []EngineState{InferiorSetupRequested}},
	VerbRunEngine:        {required: []EngineState{EngineRunRequested}},
	VerbShutdownInferior: {required: []EngineState{InferiorShutdownRequested}},
	VerbShutdownEngine:   {required: []EngineState{EngineShutdownRequested}},
	VerbDetachDebugger: {
		required:  []EngineState{InferiorStopOk, InferiorRunOk},
		afterSend: InferiorShutdownRequested,
		changes:   true,
	},

	VerbExecuteStep:          resumeRule,
	VerbExecuteStepOut:       resumeRule,
	VerbExecuteNext:          resumeRule,
	VerbExecuteStepInstr:     resumeRule,
	VerbExecuteNextInstr:     resumeRule,
	VerbContinueInferior:     resumeRule,
	VerbExecuteRunToLine:     resumeRule,
	VerbExecuteRunToFunction: resumeRule,
	VerbInterruptInferior:    {required: []EngineState{InferiorStopRequested}},

	VerbExecuteJumpToLine:      inspectRule,
	VerbActivateFrame:          inspectRule,
	VerbSelectThread:           inspectRule,
	VerbDisassemble:            inspectRule,
	VerbFetchFrameSource:       inspectRule,
	VerbRequestUpdateWatchData: inspectRule,
	VerbExecuteDebuggerCommand: inspectRule,
	VerbUpdateAll:              inspectRule,

	VerbAddBreakpoint:    {required: breakpointStates},
	VerbRemoveBreakpoint: {required: breakpointStates},
	VerbChangeBreakpoint: {required: breakpointStates},
}

// CheckPrecondition verifies that verb may be sent while the engine is in the given state.
// It returns an error wrapping ErrSessionDead if the session is dead, and a *PreconditionError
// if the state does not satisfy the verb precondition.
func CheckPrecondition(verb Verb, state EngineState) error {
	if state == Dead {
		return fmt.Errorf("%w: cannot send %s", ErrSessionDead, verb)
	}

	rule, found := controllerVerbRules[verb]
	if !found {
		return &UnmappedVerbError{Verb: verb}
	}

	if !slices.Contains(rule.required, state) {
		return &PreconditionError{Verb: verb, State: state, Required: rule.required}
	}

	return nil
}

// RequiredStates returns the states in which verb may be sent. It returns nil for backend verbs.
func RequiredStates(verb Verb) []EngineState {
	rule, found := controllerVerbRules[verb]
	if !found {
		return nil
	}
	return slices.Clone(rule.required)
}

// stateAfterSend returns the state the controller moves to after verb has been written successfully.
func stateAfterSend(verb Verb, state EngineState) EngineState {
	if rule, found := controllerVerbRules[verb]; found && rule.changes {
		return rule.afterSend
	}
	return state
}

type notificationTransition struct {
	from []EngineState
	to   EngineState
}

var notificationTransitions = map[Verb]notificationTransition{
	VerbNotifyEngineSetupOk:     {from: []EngineState{EngineSetupRequested}, to: InferiorSetupRequested},
	VerbNotifyEngineSetupFailed: {from: []EngineState{EngineSetupRequested}, to: Dead},

	VerbNotifyInferiorSetupOk:     {from: []EngineState{InferiorSetupRequested}, to: EngineRunRequested},
	VerbNotifyInferiorSetupFailed: {from: []EngineState{InferiorSetupRequested}, to: EngineShutdownRequested},

	VerbNotifyEngineRunAndInferiorRunOk:  {from: []EngineState{EngineRunRequested}, to: InferiorRunOk},
	VerbNotifyEngineRunAndInferiorStopOk: {from: []EngineState{EngineRunRequested}, to: InferiorStopOk},
	VerbNotifyEngineRunFailed:            {from: []EngineState{EngineRunRequested}, to: EngineShutdownRequested},

	VerbNotifyInferiorRunOk:     {from: []EngineState{InferiorRunRequested, InferiorStopOk}, to: InferiorRunOk},
	VerbNotifyInferiorRunFailed: {from: []EngineState{InferiorRunRequested}, to: InferiorStopOk},

	VerbNotifyInferiorStopOk:     {from: []EngineState{InferiorStopRequested, InferiorRunOk, InferiorRunRequested}, to: InferiorStopOk},
	VerbNotifyInferiorStopFailed: {from: []EngineState{InferiorStopRequested}, to: EngineShutdownRequested},

	VerbNotifyInferiorShutdownOk:     {from: []EngineState{InferiorShutdownRequested}, to: EngineShutdownRequested},
	VerbNotifyInferiorShutdownFailed: {from: []EngineState{InferiorShutdownRequested}, to: EngineShutdownRequested},

	VerbNotifyEngineShutdownOk:     {from: []EngineState{EngineShutdownRequested}, to: Dead},
	VerbNotifyEngineShutdownFailed: {from: []EngineState{EngineShutdownRequested}, to: Dead},
}

// isLifecycleNotification returns true for backend verbs that may change the engine state.
func isLifecycleNotification(v Verb) bool {
	if _, found := notificationTransitions[v]; found {
		return true
	}
	return v == VerbNotifyInferiorExited || isLifecycleFailure(v)
}

// nextState computes the state that follows a lifecycle notification.
// The second result is false if the notification is not expected in the current state;
// in that case the state is returned unchanged.
func nextState(state EngineState, notification Verb) (EngineState, bool) {
	if state == Dead {
		return Dead, false
	}

	if isLifecycleFailure(notification) {
		return Dead, true
	}

	if notification == VerbNotifyInferiorExited {
		if state.hasInferior() {
			return EngineShutdownRequested, true
		}
		return state, false
	}

	t, found := notificationTransitions[notification]
	if !found || !slices.Contains(t.from, state) {
		return state, false
	}
	return t.to, true
}
