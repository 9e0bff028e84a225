package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/qt-creator/qt-creator-sub115/internal/enginerpc"
)

// console reports what the engine does to a writer and keeps a non-interactive session moving:
// it inserts the requested breakpoints while the inferior is being set up, runs the stop commands
// whenever the inferior stops and then continues it.
type console struct {
	enginerpc.NopListener

	out          io.Writer
	log          logr.Logger
	breakpoints  []enginerpc.BreakpointParams
	stopCommands []string
	keepStopped  bool

	// Set before the session starts. Listener calls run on the controller callback goroutine,
	// which may call back into the controller.
	controller *enginerpc.Controller
}

var (
	_ enginerpc.Listener    = (*console)(nil)
	_ enginerpc.MessageSink = (*console)(nil)
)

func (c *console) StateChanged(from, to enginerpc.EngineState) {
	c.log.V(1).Info("Engine state changed", "from", from.String(), "to", to.String())

	switch to {
	case enginerpc.InferiorSetupRequested:
		c.insertBreakpoints()
	case enginerpc.InferiorStopOk:
		c.onStop()
	case enginerpc.Dead:
		fmt.Fprintln(c.out, "Debugger session ended")
	}
}

func (c *console) FramesListed(frames enginerpc.FramesList) {
	if len(frames.Frames) == 0 {
		return
	}
	top := frames.Frames[0]
	if top.File != "" {
		fmt.Fprintf(c.out, "Stopped in %s at %s:%d\n", top.Function, top.File, top.Line)
	} else {
		fmt.Fprintf(c.out, "Stopped in %s at 0x%x\n", top.Function, top.Address)
	}
}

func (c *console) BreakpointChanged(bp enginerpc.Breakpoint) {
	c.log.V(1).Info("Breakpoint changed", "id", bp.ID, "state", bp.State.String())
}

func (c *console) InferiorExited(info enginerpc.ExitInfo) {
	if info.Signal != "" {
		fmt.Fprintf(c.out, "Inferior terminated by signal %s\n", info.Signal)
		return
	}
	fmt.Fprintf(c.out, "Inferior exited with code %d\n", info.ExitCode)
}

func (c *console) LogOutput(text string) {
	fmt.Fprint(c.out, text)
}

func (c *console) ShowMessage(text string, severity enginerpc.Severity) {
	if severity == enginerpc.SeverityStatus {
		c.log.V(1).Info(text)
		return
	}
	fmt.Fprintf(c.out, "[%s] %s\n", severity.String(), text)
}

func (c *console) insertBreakpoints() {
	for _, params := range c.breakpoints {
		_, addErr := c.controller.AddBreakpoint(params, c.breakpointInserted)
		if addErr != nil {
			c.log.Error(addErr, "Could not insert breakpoint", "breakpoint", describeBreakpoint(params))
		}
	}
}

func (c *console) breakpointInserted(bp enginerpc.Breakpoint, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "Breakpoint %d (%s) was not inserted: %v\n", bp.ID, describeBreakpoint(bp.Requested), err)
		return
	}
	fmt.Fprintf(c.out, "Breakpoint %d inserted at %s\n", bp.ID, describeBreakpoint(bp.Actual))
}

func (c *console) onStop() {
	for _, command := range c.stopCommands {
		if execErr := c.controller.ExecuteDebuggerCommand(command); execErr != nil {
			c.log.Error(execErr, "Could not run debugger command", "command", command)
		}
	}
	if c.keepStopped {
		return
	}

	if continueErr := c.controller.ContinueInferior(); continueErr != nil && !errors.Is(continueErr, enginerpc.ErrSessionDead) {
		c.log.Error(continueErr, "Could not continue the inferior")
	}
}

// parseBreakpoint accepts "file:line" or a function name.
func parseBreakpoint(spec string) (enginerpc.BreakpointParams, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return enginerpc.BreakpointParams{}, fmt.Errorf("empty breakpoint location")
	}

	if sep := strings.LastIndex(spec, ":"); sep > 0 {
		line, lineErr := strconv.Atoi(spec[sep+1:])
		if lineErr != nil || line <= 0 {
			return enginerpc.BreakpointParams{}, fmt.Errorf("invalid line number in breakpoint location '%s'", spec)
		}
		return enginerpc.BreakpointParams{
			Type:       enginerpc.BreakpointByFileAndLine,
			FileName:   spec[:sep],
			LineNumber: line,
			Enabled:    true,
		}, nil
	}

	return enginerpc.BreakpointParams{
		Type:     enginerpc.BreakpointByFunction,
		Function: spec,
		Enabled:  true,
	}, nil
}

func describeBreakpoint(params enginerpc.BreakpointParams) string {
	switch params.Type {
	case enginerpc.BreakpointByFileAndLine:
		return fmt.Sprintf("%s:%d", params.FileName, params.LineNumber)
	case enginerpc.BreakpointByFunction:
		return params.Function
	case enginerpc.BreakpointByAddress, enginerpc.WatchpointAtAddress:
		return fmt.Sprintf("0x%x", params.Address)
	default:
		return string(params.Type)
	}
}
