/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"github.com/qt-creator/qt-creator-sub115/internal/codec"
)

// BreakpointID identifies a breakpoint on both sides of the connection.
// It is allocated by the controller.
type BreakpointID uint64

// BreakpointType selects what a breakpoint is attached to.
type BreakpointType string

const (
	BreakpointByFileAndLine BreakpointType = "file-and-line"
	BreakpointByFunction    BreakpointType = "function"
	BreakpointByAddress     BreakpointType = "address"
	BreakpointOnThrow       BreakpointType = "throw"
	BreakpointOnCatch       BreakpointType = "catch"
	WatchpointAtAddress     BreakpointType = "watchpoint"
)

// Severity classifies user-visible messages.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityStatus
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityStatus:
		return "status"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SetupInferiorParams is the payload of SetupInferior.
type SetupInferiorParams struct {
	Executable       string   `cbor:"executable"`
	Arguments        []string `cbor:"arguments,omitempty"`
	Environment      []string `cbor:"environment,omitempty"`
	WorkingDirectory string   `cbor:"workingDirectory,omitempty"`
	BreakOnMain      bool     `cbor:"breakOnMain,omitempty"`
	UseTerminal      bool     `cbor:"useTerminal,omitempty"`
	AttachPID        int64    `cbor:"attachPid,omitempty"`
}

// BreakpointParams describes where and how a breakpoint is set.
type BreakpointParams struct {
	Type        BreakpointType `cbor:"type"`
	FileName    string         `cbor:"fileName,omitempty"`
	LineNumber  int            `cbor:"lineNumber,omitempty"`
	Function    string         `cbor:"function,omitempty"`
	Address     uint64         `cbor:"address,omitempty"`
	Condition   string         `cbor:"condition,omitempty"`
	IgnoreCount int            `cbor:"ignoreCount,omitempty"`
	Enabled     bool           `cbor:"enabled"`
	OneShot     bool           `cbor:"oneShot,omitempty"`
	ThreadSpec  int64          `cbor:"threadSpec,omitempty"`
}

// BreakpointRequest is the payload of AddBreakpoint and ChangeBreakpoint.
type BreakpointRequest struct {
	ID     BreakpointID     `cbor:"id"`
	Params BreakpointParams `cbor:"params"`
}

// BreakpointRef is the payload of RemoveBreakpoint.
type BreakpointRef struct {
	ID BreakpointID `cbor:"id"`
}

// BreakpointResponse is the payload of every breakpoint acknowledgement.
// Params holds the parameters the backend actually applied (e.g. an adjusted line number).
type BreakpointResponse struct {
	ID       BreakpointID     `cbor:"id"`
	Params   BreakpointParams `cbor:"params"`
	HitCount int              `cbor:"hitCount,omitempty"`
	Message  string           `cbor:"message,omitempty"`
}

// Location is the payload of ExecuteRunToLine, ExecuteRunToFunction and ExecuteJumpToLine.
type Location struct {
	File     string `cbor:"file,omitempty"`
	Line     int    `cbor:"line,omitempty"`
	Function string `cbor:"function,omitempty"`
	Address  uint64 `cbor:"address,omitempty"`
}

// FrameRef is the payload of ActivateFrame and CurrentFrameChanged.
type FrameRef struct {
	Level int `cbor:"level"`
}

// ThreadRef is the payload of SelectThread and CurrentThreadChanged.
type ThreadRef struct {
	ID int64 `cbor:"id"`
}

// DisassembleRequest is the payload of Disassemble.
type DisassembleRequest struct {
	Address  uint64 `cbor:"address"`
	Function string `cbor:"function,omitempty"`
	Count    int    `cbor:"count,omitempty"`
}

// DisassemblyLine is one decoded instruction.
type DisassemblyLine struct {
	Address     uint64 `cbor:"address"`
	Bytes       []byte `cbor:"bytes,omitempty"`
	Instruction string `cbor:"instruction"`
	Function    string `cbor:"function,omitempty"`
	Offset      uint64 `cbor:"offset,omitempty"`
	File        string `cbor:"file,omitempty"`
	Line        int    `cbor:"line,omitempty"`
}

// Disassembly is the payload of Disassembled. Address matches the request it answers.
type Disassembly struct {
	Address uint64            `cbor:"address"`
	Lines   []DisassemblyLine `cbor:"lines"`
}

// SourceRequest is the payload of FetchFrameSource.
type SourceRequest struct {
	Path string `cbor:"path"`
}

// SourceText is the payload of FrameSourceFetched. Path matches the request it answers.
type SourceText struct {
	Path     string `cbor:"path"`
	Contents string `cbor:"contents"`
	Error    string `cbor:"error,omitempty"`
}

// WatchRequest is the payload of RequestUpdateWatchData and UpdateAll.
type WatchRequest struct {
	Expressions []string          `cbor:"expressions,omitempty"`
	Expanded    []string          `cbor:"expanded,omitempty"`
	TypeFormats map[string]string `cbor:"typeFormats,omitempty"`
	Partial     bool              `cbor:"partial,omitempty"`
}

// WatchItem is one node of the locals and watchers tree.
type WatchItem struct {
	IName       string      `cbor:"iname"`
	Name        string      `cbor:"name"`
	Value       string      `cbor:"value"`
	Type        string      `cbor:"type"`
	HasChildren bool        `cbor:"hasChildren,omitempty"`
	Children    []WatchItem `cbor:"children,omitempty"`
}

// WatchData is the payload of UpdateWatchData.
type WatchData struct {
	Items   []WatchItem `cbor:"items"`
	Partial bool        `cbor:"partial,omitempty"`
}

// StackFrame is one entry of the stack view.
type StackFrame struct {
	Level    int    `cbor:"level"`
	Function string `cbor:"function"`
	File     string `cbor:"file,omitempty"`
	Line     int    `cbor:"line,omitempty"`
	Address  uint64 `cbor:"address"`
	Module   string `cbor:"module,omitempty"`
	Usable   bool   `cbor:"usable"`
}

// FramesList is the payload of ListFrames.
type FramesList struct {
	Frames  []StackFrame `cbor:"frames"`
	HasMore bool         `cbor:"hasMore,omitempty"`
}

// ThreadInfo is one entry of the threads view.
type ThreadInfo struct {
	ID    int64      `cbor:"id"`
	Name  string     `cbor:"name,omitempty"`
	State string     `cbor:"state,omitempty"`
	Frame StackFrame `cbor:"frame"`
}

// ThreadsList is the payload of ListThreads.
type ThreadsList struct {
	CurrentID int64        `cbor:"currentId"`
	Threads   []ThreadInfo `cbor:"threads"`
}

// ExitInfo is the payload of NotifyInferiorExited.
type ExitInfo struct {
	ExitCode int    `cbor:"exitCode"`
	Signal   string `cbor:"signal,omitempty"`
}

// TextMessage is the payload of ShowMessage, ShowStatusMessage and ShowLogOutput.
type TextMessage struct {
	Text      string   `cbor:"text"`
	Severity  Severity `cbor:"severity,omitempty"`
	TimeoutMs int      `cbor:"timeoutMs,omitempty"`
}

// DebuggerCommand is the payload of ExecuteDebuggerCommand.
type DebuggerCommand struct {
	Command string `cbor:"command"`
}

// FailureInfo is the optional payload of the lifecycle *Failed and *Ill notifications.
type FailureInfo struct {
	Reason string `cbor:"reason,omitempty"`
}

// encodePayload encodes a payload record. A nil record produces an empty payload.
func encodePayload(verb Verb, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	data, err := codec.Marshal(v)
	if err != nil {
		return nil, &PayloadError{Verb: verb, Err: err}
	}
	return data, nil
}

// decodePayload decodes the payload of a received frame into a record of type T.
func decodePayload[T any](f Frame) (T, error) {
	var v T
	if err := codec.Unmarshal(f.Payload, &v); err != nil {
		return v, &PayloadError{Verb: f.Verb, Err: err}
	}
	return v, nil
}

// decodeOptionalPayload is like decodePayload but accepts an empty payload, returning the zero value.
func decodeOptionalPayload[T any](f Frame) (T, error) {
	if len(f.Payload) == 0 {
		var zero T
		return zero, nil
	}
	return decodePayload[T](f)
}
