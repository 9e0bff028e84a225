/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package simengine implements a debugger engine that debugs a simulated program.
// It answers every verb the way a real engine would, which makes it useful for tests
// and for exercising carriers without a debugger installed.
package simengine

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/qt-creator/qt-creator-sub115/internal/enginerpc"
)

const (
	DefaultProgramLength = 20
	DefaultSourceFile    = "main.c"

	mainFunction   = "main"
	entryFunction  = "_start"
	baseAddress    = 0x401000
	instructionLen = 4
	mainThreadID   = 1
)

var ErrInferiorNotRunning = errors.New("simulated inferior is not running")

type Config struct {
	// ProgramLength is the number of source lines of the simulated program. Defaults to DefaultProgramLength.
	ProgramLength int

	// SourceFile is reported as the file of every frame. Defaults to DefaultSourceFile.
	SourceFile string

	Log logr.Logger
}

// Engine debugs a simulated single-threaded program: execution moves through the lines of
// a single function, stopping at inserted breakpoints, and the program exits after its last line.
type Engine struct {
	notifier      enginerpc.Notifier
	programLength int
	sourceFile    string
	log           logr.Logger

	mu          sync.Mutex
	inferior    *enginerpc.SetupInferiorParams
	running     bool
	line        int
	frameLevel  int
	breakpoints map[enginerpc.BreakpointID]enginerpc.BreakpointParams
}

var _ enginerpc.Engine = (*Engine)(nil)

func New(notifier enginerpc.Notifier, cfg Config) *Engine {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	programLength := cfg.ProgramLength
	if programLength <= 0 {
		programLength = DefaultProgramLength
	}
	sourceFile := cfg.SourceFile
	if sourceFile == "" {
		sourceFile = DefaultSourceFile
	}

	return &Engine{
		notifier:      notifier,
		programLength: programLength,
		sourceFile:    sourceFile,
		log:           log,
		breakpoints:   make(map[enginerpc.BreakpointID]enginerpc.BreakpointParams),
	}
}

// Factory returns an EngineFactory creating simulated engines with the given configuration.
func Factory(cfg Config) enginerpc.EngineFactory {
	return func(n enginerpc.Notifier) enginerpc.Engine {
		return New(n, cfg)
	}
}

func (e *Engine) SetupEngine() error {
	e.log.V(1).Info("Setting up simulated engine")
	return e.notifier.NotifyEngineSetupOk()
}

func (e *Engine) SetupInferior(params enginerpc.SetupInferiorParams) error {
	if params.Executable == "" && params.AttachPID == 0 {
		return e.notifier.NotifyInferiorSetupFailed(enginerpc.FailureInfo{Reason: "no executable given"})
	}

	e.mu.Lock()
	e.inferior = &params
	e.line = 0
	e.frameLevel = 0
	e.mu.Unlock()

	return e.notifier.NotifyInferiorSetupOk()
}

func (e *Engine) RunEngine() error {
	e.mu.Lock()
	if e.inferior == nil {
		e.mu.Unlock()
		return e.notifier.NotifyEngineRunFailed(enginerpc.FailureInfo{Reason: "inferior was not set up"})
	}
	breakOnMain := e.inferior.BreakOnMain
	e.mu.Unlock()

	if breakOnMain {
		e.mu.Lock()
		e.line = 1
		e.mu.Unlock()
		if err := e.notifier.NotifyEngineRunAndInferiorStopOk(); err != nil {
			return err
		}
		return e.reportStop("entry")
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	if err := e.notifier.NotifyEngineRunAndInferiorRunOk(); err != nil {
		return err
	}
	return e.runUntil(func(int) bool { return false })
}

func (e *Engine) ShutdownInferior() error {
	e.mu.Lock()
	e.inferior = nil
	e.running = false
	e.mu.Unlock()
	return e.notifier.NotifyInferiorShutdownOk()
}

func (e *Engine) ShutdownEngine() error {
	e.log.V(1).Info("Shutting down simulated engine")
	return e.notifier.NotifyEngineShutdownOk()
}

func (e *Engine) DetachDebugger() error {
	return e.ShutdownInferior()
}

func (e *Engine) ExecuteStep() error {
	return e.step()
}

func (e *Engine) ExecuteStepOut() error {
	return e.resume(func(int) bool { return false })
}

func (e *Engine) ExecuteNext() error {
	return e.step()
}

func (e *Engine) ExecuteStepInstr() error {
	return e.step()
}

func (e *Engine) ExecuteNextInstr() error {
	return e.step()
}

func (e *Engine) ContinueInferior() error {
	return e.resume(func(int) bool { return false })
}

func (e *Engine) InterruptInferior() error {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	if err := e.notifier.NotifyInferiorStopOk(); err != nil {
		return err
	}
	return e.reportStop("interrupted")
}

func (e *Engine) ExecuteRunToLine(loc enginerpc.Location) error {
	return e.resume(func(line int) bool { return line == loc.Line })
}

func (e *Engine) ExecuteRunToFunction(loc enginerpc.Location) error {
	if loc.Function != mainFunction {
		return e.resume(func(int) bool { return false })
	}
	return e.resume(func(line int) bool { return line == 1 })
}

func (e *Engine) ExecuteJumpToLine(loc enginerpc.Location) error {
	e.mu.Lock()
	if loc.Line < 1 || loc.Line > e.programLength {
		e.mu.Unlock()
		return e.notifier.ShowMessage(enginerpc.TextMessage{
			Text:     fmt.Sprintf("Cannot jump to line %d", loc.Line),
			Severity: enginerpc.SeverityWarning,
		})
	}
	e.line = loc.Line
	e.mu.Unlock()

	return e.reportStop("jump")
}

func (e *Engine) ActivateFrame(frame enginerpc.FrameRef) error {
	e.mu.Lock()
	if frame.Level < 0 || frame.Level > 1 {
		e.mu.Unlock()
		return fmt.Errorf("frame %d does not exist", frame.Level)
	}
	e.frameLevel = frame.Level
	e.mu.Unlock()

	return e.notifier.CurrentFrameChanged(frame)
}

func (e *Engine) SelectThread(thread enginerpc.ThreadRef) error {
	if thread.ID != mainThreadID {
		return e.notifier.ShowStatusMessage(enginerpc.TextMessage{Text: fmt.Sprintf("Thread %d does not exist", thread.ID), TimeoutMs: 3000})
	}
	return e.notifier.CurrentThreadChanged(thread)
}

func (e *Engine) Disassemble(req enginerpc.DisassembleRequest) error {
	count := req.Count
	if count <= 0 {
		count = 8
	}

	lines := make([]enginerpc.DisassemblyLine, 0, count)
	for i := range count {
		addr := req.Address + uint64(i*instructionLen)
		lines = append(lines, enginerpc.DisassemblyLine{
			Address:     addr,
			Bytes:       []byte{0x90, 0x90, 0x90, 0x90},
			Instruction: "nop",
			Function:    mainFunction,
			Offset:      addr - baseAddress,
			File:        e.sourceFile,
			Line:        lineForAddress(addr),
		})
	}

	return e.notifier.Disassembled(enginerpc.Disassembly{Address: req.Address, Lines: lines})
}

// FetchFrameSource serves files from the local file system.
func (e *Engine) FetchFrameSource(req enginerpc.SourceRequest) error {
	source := enginerpc.SourceText{Path: req.Path}
	contents, readErr := os.ReadFile(req.Path)
	if readErr != nil {
		source.Error = readErr.Error()
	} else {
		source.Contents = string(contents)
	}
	return e.notifier.FrameSourceFetched(source)
}

func (e *Engine) RequestUpdateWatchData(req enginerpc.WatchRequest) error {
	return e.notifier.UpdateWatchData(e.watchData(req))
}

func (e *Engine) AddBreakpoint(req enginerpc.BreakpointRequest) error {
	actual, rejection := e.resolveBreakpoint(req.Params)
	if rejection != "" {
		return e.notifier.NotifyAddBreakpointFailed(enginerpc.BreakpointResponse{ID: req.ID, Params: req.Params, Message: rejection})
	}

	e.mu.Lock()
	e.breakpoints[req.ID] = actual
	e.mu.Unlock()

	return e.notifier.NotifyAddBreakpointOk(enginerpc.BreakpointResponse{ID: req.ID, Params: actual})
}

func (e *Engine) RemoveBreakpoint(ref enginerpc.BreakpointRef) error {
	e.mu.Lock()
	params, found := e.breakpoints[ref.ID]
	delete(e.breakpoints, ref.ID)
	e.mu.Unlock()

	if !found {
		return e.notifier.NotifyRemoveBreakpointFailed(enginerpc.BreakpointResponse{ID: ref.ID, Message: "no such breakpoint"})
	}
	return e.notifier.NotifyRemoveBreakpointOk(enginerpc.BreakpointResponse{ID: ref.ID, Params: params})
}

func (e *Engine) ChangeBreakpoint(req enginerpc.BreakpointRequest) error {
	e.mu.Lock()
	_, found := e.breakpoints[req.ID]
	e.mu.Unlock()
	if !found {
		return e.notifier.NotifyChangeBreakpointFailed(enginerpc.BreakpointResponse{ID: req.ID, Params: req.Params, Message: "no such breakpoint"})
	}

	actual, rejection := e.resolveBreakpoint(req.Params)
	if rejection != "" {
		return e.notifier.NotifyChangeBreakpointFailed(enginerpc.BreakpointResponse{ID: req.ID, Params: req.Params, Message: rejection})
	}

	e.mu.Lock()
	e.breakpoints[req.ID] = actual
	e.mu.Unlock()

	return e.notifier.NotifyChangeBreakpointOk(enginerpc.BreakpointResponse{ID: req.ID, Params: actual})
}

func (e *Engine) ExecuteDebuggerCommand(cmd enginerpc.DebuggerCommand) error {
	var output string
	switch fields := strings.Fields(cmd.Command); {
	case len(fields) == 0:
		return nil
	case fields[0] == "info" && len(fields) > 1 && fields[1] == "line":
		e.mu.Lock()
		output = fmt.Sprintf("Line %d of \"%s\"", e.line, e.sourceFile)
		e.mu.Unlock()
	case fields[0] == "echo":
		output = strings.Join(fields[1:], " ")
	default:
		output = fmt.Sprintf("Undefined command: \"%s\"", fields[0])
	}

	return e.notifier.ShowLogOutput(enginerpc.TextMessage{Text: output + "\n"})
}

func (e *Engine) UpdateAll(req enginerpc.WatchRequest) error {
	return errors.Join(
		e.notifier.ListFrames(e.frames()),
		e.notifier.ListThreads(e.threads()),
		e.notifier.UpdateWatchData(e.watchData(req)),
	)
}

// resolveBreakpoint returns the parameters the breakpoint is actually inserted with,
// or a reason why it cannot be inserted.
func (e *Engine) resolveBreakpoint(params enginerpc.BreakpointParams) (enginerpc.BreakpointParams, string) {
	actual := params
	switch params.Type {
	case enginerpc.BreakpointByFileAndLine:
		if params.LineNumber < 1 {
			return params, "line number must be positive"
		}
		// Lines past the end of the program move to the last line.
		actual.LineNumber = min(params.LineNumber, e.programLength)
		if actual.FileName == "" {
			actual.FileName = e.sourceFile
		}
	case enginerpc.BreakpointByFunction:
		if params.Function != mainFunction {
			return params, fmt.Sprintf("function \"%s\" not defined", params.Function)
		}
		actual.LineNumber = 1
		actual.FileName = e.sourceFile
	case enginerpc.BreakpointByAddress:
		line := lineForAddress(params.Address)
		if line < 1 || line > e.programLength {
			return params, fmt.Sprintf("cannot access memory at address 0x%x", params.Address)
		}
		actual.LineNumber = line
		actual.FileName = e.sourceFile
	default:
		return params, fmt.Sprintf("breakpoint type '%s' is not supported", params.Type)
	}
	return actual, ""
}

func (e *Engine) step() error {
	e.mu.Lock()
	target := e.line + 1
	e.mu.Unlock()

	return e.resume(func(line int) bool { return line >= target })
}

// resume lets the simulated inferior run until stopAt returns true, a breakpoint is hit or the program ends.
func (e *Engine) resume(stopAt func(line int) bool) error {
	e.mu.Lock()
	if e.inferior == nil {
		e.mu.Unlock()
		return e.notifier.NotifyInferiorRunFailed(enginerpc.FailureInfo{Reason: ErrInferiorNotRunning.Error()})
	}
	e.running = true
	e.mu.Unlock()

	if err := e.notifier.NotifyInferiorRunOk(); err != nil {
		return err
	}
	return e.runUntil(stopAt)
}

func (e *Engine) runUntil(stopAt func(line int) bool) error {
	e.mu.Lock()
	e.frameLevel = 0
	for {
		e.line++
		if e.line > e.programLength {
			e.running = false
			e.inferior = nil
			e.mu.Unlock()
			return e.notifier.NotifyInferiorExited(enginerpc.ExitInfo{ExitCode: 0})
		}

		if stopAt(e.line) {
			e.running = false
			e.mu.Unlock()
			return e.stopped("end-stepping-range")
		}

		if e.breakpointAtLocked(e.line) {
			e.running = false
			e.mu.Unlock()
			return e.stopped("breakpoint-hit")
		}
	}
}

func (e *Engine) breakpointAtLocked(line int) bool {
	for _, bp := range e.breakpoints {
		if bp.Enabled && bp.LineNumber == line {
			return true
		}
	}
	return false
}

func (e *Engine) stopped(reason string) error {
	if err := e.notifier.NotifyInferiorStopOk(); err != nil {
		return err
	}
	return e.reportStop(reason)
}

// reportStop pushes the views a controller refreshes when the inferior stops.
func (e *Engine) reportStop(reason string) error {
	e.log.V(1).Info("Simulated inferior stopped", "reason", reason)
	return errors.Join(
		e.notifier.ShowStatusMessage(enginerpc.TextMessage{Text: "Stopped: " + reason, TimeoutMs: 5000}),
		e.notifier.ListFrames(e.frames()),
		e.notifier.ListThreads(e.threads()),
		e.notifier.CurrentThreadChanged(enginerpc.ThreadRef{ID: mainThreadID}),
		e.notifier.CurrentFrameChanged(enginerpc.FrameRef{Level: 0}),
	)
}

func (e *Engine) frames() enginerpc.FramesList {
	e.mu.Lock()
	defer e.mu.Unlock()

	return enginerpc.FramesList{
		Frames: []enginerpc.StackFrame{
			{Level: 0, Function: mainFunction, File: e.sourceFile, Line: e.line, Address: addressForLine(e.line), Usable: true},
			{Level: 1, Function: entryFunction, Address: baseAddress - 0x100, Module: e.executableLocked()},
		},
	}
}

func (e *Engine) threads() enginerpc.ThreadsList {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := "stopped"
	if e.running {
		state = "running"
	}
	return enginerpc.ThreadsList{
		CurrentID: mainThreadID,
		Threads: []enginerpc.ThreadInfo{{
			ID:    mainThreadID,
			Name:  e.executableLocked(),
			State: state,
			Frame: enginerpc.StackFrame{Level: 0, Function: mainFunction, File: e.sourceFile, Line: e.line, Address: addressForLine(e.line), Usable: true},
		}},
	}
}

// watchData reports the simulated local "line" and evaluates integer literals requested as watch expressions.
func (e *Engine) watchData(req enginerpc.WatchRequest) enginerpc.WatchData {
	e.mu.Lock()
	line := e.line
	e.mu.Unlock()

	items := []enginerpc.WatchItem{
		{IName: "local.line", Name: "line", Value: strconv.Itoa(line), Type: "int"},
	}
	if slices.Contains(req.Expanded, "local.args") {
		items = append(items, enginerpc.WatchItem{
			IName: "local.args", Name: "args", Value: "<1 items>", Type: "char **", HasChildren: true,
			Children: []enginerpc.WatchItem{{IName: "local.args.0", Name: "[0]", Value: strconv.Quote(e.executable()), Type: "char *"}},
		})
	} else {
		items = append(items, enginerpc.WatchItem{IName: "local.args", Name: "args", Value: "<1 items>", Type: "char **", HasChildren: true})
	}

	for i, expr := range req.Expressions {
		item := enginerpc.WatchItem{IName: "watch." + strconv.Itoa(i), Name: expr}
		if n, parseErr := strconv.ParseInt(expr, 0, 64); parseErr == nil {
			item.Value = strconv.FormatInt(n, 10)
			item.Type = "long"
		} else {
			item.Value = "<not accessible>"
		}
		items = append(items, item)
	}

	return enginerpc.WatchData{Items: items, Partial: req.Partial}
}

func (e *Engine) executable() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executableLocked()
}

func (e *Engine) executableLocked() string {
	if e.inferior == nil {
		return ""
	}
	return e.inferior.Executable
}

func addressForLine(line int) uint64 {
	return baseAddress + uint64(line*instructionLen)
}

func lineForAddress(addr uint64) int {
	if addr < baseAddress {
		return 0
	}
	return int((addr - baseAddress) / instructionLen)
}
