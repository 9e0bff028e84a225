/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/qt-creator/qt-creator-sub115/pkg/logger"
)

var ErrInvalidLaunchConfig = errors.New("invalid backend launch configuration: Command must not be empty")

// DefaultBackendExitTimeout is how long Close waits for a backend to exit after its stdin was closed.
const DefaultBackendExitTimeout = 2 * time.Second

// LaunchConfig describes a backend host started as a child process speaking the protocol over its stdio.
type LaunchConfig struct {
	Command    string
	Args       []string
	Env        []string // KEY=VALUE entries added to the current environment
	WorkingDir string

	// ExitTimeout bounds the wait for the child to exit on Close; it is killed afterwards.
	ExitTimeout time.Duration

	Log logr.Logger
}

// LaunchedBackend is a Transport over the stdio of a child backend process.
type LaunchedBackend struct {
	Transport
	cmd         *exec.Cmd
	stdout      *os.File
	exitTimeout time.Duration
	log         logr.Logger

	done    chan struct{}
	exitErr error
	mu      sync.Mutex
}

// LaunchBackend starts the backend host and returns a transport connected to its stdin/stdout.
// The child's stderr is logged line by line.
func LaunchBackend(ctx context.Context, config LaunchConfig) (*LaunchedBackend, error) {
	if config.Command == "" {
		return nil, ErrInvalidLaunchConfig
	}
	log := config.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	cmd := exec.CommandContext(ctx, config.Command, config.Args...)
	cmd.Env = append(os.Environ(), config.Env...)
	cmd.Env = append(cmd.Env, logger.SessionIdEnv())
	cmd.Dir = config.WorkingDir

	stdin, stdinErr := cmd.StdinPipe()
	if stdinErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", stdinErr)
	}

	// Protocol output is read through a pipe we own. cmd.StdoutPipe would be closed by Wait,
	// possibly before the connection consumed the last frames the backend wrote.
	stdout, stdoutWriter, pipeErr := os.Pipe()
	if pipeErr != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", pipeErr)
	}
	cmd.Stdout = stdoutWriter

	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stdoutWriter.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	startErr := cmd.Start()
	_ = stdoutWriter.Close()
	if startErr != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to start debugger backend '%s': %w", config.Command, startErr)
	}

	exitTimeout := config.ExitTimeout
	if exitTimeout <= 0 {
		exitTimeout = DefaultBackendExitTimeout
	}

	backend := &LaunchedBackend{
		Transport: &streamTransport{
			reader:  stdout,
			writer:  stdin,
			closers: []io.Closer{stdin},
			carrier: fmt.Sprintf("process:%d", cmd.Process.Pid),
		},
		cmd:         cmd,
		stdout:      stdout,
		exitTimeout: exitTimeout,
		log:         log.WithValues("pid", cmd.Process.Pid),
		done:        make(chan struct{}),
	}

	// Stderr must be drained before Wait is called.
	go func() {
		logLines(stderr, backend.log, "Debugger backend stderr")
		waitErr := cmd.Wait()
		backend.mu.Lock()
		backend.exitErr = filterContextError(waitErr, ctx, backend.log)
		backend.mu.Unlock()
		close(backend.done)

		if waitErr != nil {
			backend.log.V(1).Info("Debugger backend process exited with error", "error", waitErr)
		} else {
			backend.log.V(1).Info("Debugger backend process exited")
		}
	}()

	log.Info("Launched debugger backend process",
		"command", config.Command,
		"args", config.Args,
		"pid", cmd.Process.Pid)

	return backend, nil
}

// Pid returns the process id of the backend host.
func (lb *LaunchedBackend) Pid() int {
	return lb.cmd.Process.Pid
}

// Done is closed when the backend process has exited.
func (lb *LaunchedBackend) Done() <-chan struct{} {
	return lb.done
}

// Wait blocks until the backend process exits and returns its exit error, if any.
func (lb *LaunchedBackend) Wait() error {
	<-lb.done
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.exitErr
}

// Close closes the backend stdin, which makes a well-behaved backend exit,
// and kills the process if it does not exit within the exit timeout.
func (lb *LaunchedBackend) Close() error {
	closeErr := lb.Transport.Close()

	select {
	case <-lb.done:
	case <-time.After(lb.exitTimeout):
		lb.log.Info("Debugger backend did not exit after its input was closed, killing it")
		if killErr := lb.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			closeErr = errors.Join(closeErr, fmt.Errorf("failed to kill debugger backend: %w", killErr))
		}
		<-lb.done
	}

	if stdoutErr := lb.stdout.Close(); stdoutErr != nil && !errors.Is(stdoutErr, os.ErrClosed) {
		closeErr = errors.Join(closeErr, stdoutErr)
	}
	return closeErr
}
