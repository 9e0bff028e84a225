/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/qt-creator/qt-creator-sub115/internal/telemetry"
	"github.com/qt-creator/qt-creator-sub115/pkg/resiliency"
)

type BackendConfig struct {
	// ByteOrder of frame headers. Must match the controller; defaults to the native order.
	ByteOrder binary.ByteOrder

	Log     logr.Logger
	Metrics *telemetry.ProtocolMetrics
}

// Backend is the host side of a debugger session. It decodes controller verbs, hands them to an Engine
// and implements Notifier by sending backend verbs to the controller.
type Backend struct {
	conn   *Connection
	log    logr.Logger
	engine Engine
}

var _ Notifier = (*Backend)(nil)

// NewBackend creates a backend serving the engine built by factory over t.
func NewBackend(t Transport, factory EngineFactory, cfg BackendConfig) *Backend {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	b := &Backend{
		conn: NewConnection(t, ConnectionConfig{
			ByteOrder: cfg.ByteOrder,
			Log:       log,
			Metrics:   cfg.Metrics,
		}),
		log: log,
	}
	b.engine = factory(b)
	return b
}

// Serve dispatches controller verbs until the controller goes away or ctx is cancelled.
// A protocol error makes the backend report itself ill to the controller and stop.
// Returns nil if the controller closed the connection.
func (b *Backend) Serve(ctx context.Context) error {
	serveErr := b.conn.Serve(ctx, b.handleFrame)

	if serveErr != nil && IsFatal(serveErr) {
		b.reportFatal(ctx, serveErr)
	}

	closeErr := b.conn.Close()
	if closeErr != nil && isClosedError(closeErr) {
		closeErr = nil
	}

	if errors.Is(serveErr, ErrTransportClosed) {
		b.log.V(1).Info("Controller closed the connection")
		serveErr = nil
	}
	return errors.Join(serveErr, closeErr)
}

// Close closes the connection to the controller.
func (b *Backend) Close() error {
	return b.conn.Close()
}

func (b *Backend) handleFrame(_ context.Context, f Frame) error {
	dispatchErr := dispatchCommand(b.engine, f)
	switch {
	case dispatchErr == nil:
		return nil
	case IsFatal(dispatchErr):
		return dispatchErr
	default:
		b.log.Error(dispatchErr, "Debugger engine failed to handle verb", "sequence", f.Sequence, "verb", f.Verb.String())
		return nil
	}
}

// reportFatal tells the controller the backend cannot continue. The controller may not be reading anymore,
// so the attempt is bounded by DefaultTeardownTimeout.
func (b *Backend) reportFatal(ctx context.Context, cause error) {
	b.log.Error(cause, "Fatal protocol error, shutting down the debugger backend")

	timeoutErr := resiliency.RunWithTimeout(context.WithoutCancel(ctx), DefaultTeardownTimeout, func(_ context.Context) {
		// The controller shows the fatal shutdown message itself, with the reason as its cause.
		if illErr := b.NotifyEngineIll(FailureInfo{Reason: cause.Error()}); illErr != nil {
			b.log.V(1).Info("Could not report fatal error to the controller", "error", illErr.Error())
		}
	})
	if timeoutErr != nil {
		b.log.V(1).Info("Timed out reporting fatal error to the controller")
	}
}

func (b *Backend) notify(verb Verb, payload any) error {
	data, encodeErr := encodePayload(verb, payload)
	if encodeErr != nil {
		return encodeErr
	}
	if _, sendErr := b.conn.Send(verb, data); sendErr != nil {
		return fmt.Errorf("failed to notify controller: %w", sendErr)
	}
	return nil
}

func (b *Backend) NotifyEngineSetupOk() error {
	return b.notify(VerbNotifyEngineSetupOk, nil)
}

func (b *Backend) NotifyEngineSetupFailed(info FailureInfo) error {
	return b.notify(VerbNotifyEngineSetupFailed, info)
}

func (b *Backend) NotifyInferiorSetupOk() error {
	return b.notify(VerbNotifyInferiorSetupOk, nil)
}

func (b *Backend) NotifyInferiorSetupFailed(info FailureInfo) error {
	return b.notify(VerbNotifyInferiorSetupFailed, info)
}

func (b *Backend) NotifyEngineRunAndInferiorRunOk() error {
	return b.notify(VerbNotifyEngineRunAndInferiorRunOk, nil)
}

func (b *Backend) NotifyEngineRunAndInferiorStopOk() error {
	return b.notify(VerbNotifyEngineRunAndInferiorStopOk, nil)
}

func (b *Backend) NotifyEngineRunFailed(info FailureInfo) error {
	return b.notify(VerbNotifyEngineRunFailed, info)
}

func (b *Backend) NotifyInferiorRunOk() error {
	return b.notify(VerbNotifyInferiorRunOk, nil)
}

func (b *Backend) NotifyInferiorRunFailed(info FailureInfo) error {
	return b.notify(VerbNotifyInferiorRunFailed, info)
}

func (b *Backend) NotifyInferiorStopOk() error {
	return b.notify(VerbNotifyInferiorStopOk, nil)
}

func (b *Backend) NotifyInferiorStopFailed(info FailureInfo) error {
	return b.notify(VerbNotifyInferiorStopFailed, info)
}

func (b *Backend) NotifyInferiorShutdownOk() error {
	return b.notify(VerbNotifyInferiorShutdownOk, nil)
}

func (b *Backend) NotifyInferiorShutdownFailed(info FailureInfo) error {
	return b.notify(VerbNotifyInferiorShutdownFailed, info)
}

func (b *Backend) NotifyEngineShutdownOk() error {
	return b.notify(VerbNotifyEngineShutdownOk, nil)
}

func (b *Backend) NotifyEngineShutdownFailed(info FailureInfo) error {
	return b.notify(VerbNotifyEngineShutdownFailed, info)
}

func (b *Backend) NotifyInferiorExited(info ExitInfo) error {
	return b.notify(VerbNotifyInferiorExited, info)
}

func (b *Backend) NotifyEngineSpontaneousShutdown(info FailureInfo) error {
	return b.notify(VerbNotifyEngineSpontaneousShutdown, info)
}

func (b *Backend) NotifyInferiorIll(info FailureInfo) error {
	return b.notify(VerbNotifyInferiorIll, info)
}

func (b *Backend) NotifyEngineIll(info FailureInfo) error {
	return b.notify(VerbNotifyEngineIll, info)
}

func (b *Backend) ListFrames(frames FramesList) error {
	return b.notify(VerbListFrames, frames)
}

func (b *Backend) ListThreads(threads ThreadsList) error {
	return b.notify(VerbListThreads, threads)
}

func (b *Backend) Disassembled(d Disassembly) error {
	return b.notify(VerbDisassembled, d)
}

func (b *Backend) UpdateWatchData(data WatchData) error {
	return b.notify(VerbUpdateWatchData, data)
}

func (b *Backend) FrameSourceFetched(source SourceText) error {
	return b.notify(VerbFrameSourceFetched, source)
}

func (b *Backend) CurrentFrameChanged(frame FrameRef) error {
	return b.notify(VerbCurrentFrameChanged, frame)
}

func (b *Backend) CurrentThreadChanged(thread ThreadRef) error {
	return b.notify(VerbCurrentThreadChanged, thread)
}

func (b *Backend) ShowMessage(msg TextMessage) error {
	return b.notify(VerbShowMessage, msg)
}

func (b *Backend) ShowStatusMessage(msg TextMessage) error {
	return b.notify(VerbShowStatusMessage, msg)
}

func (b *Backend) ShowLogOutput(msg TextMessage) error {
	return b.notify(VerbShowLogOutput, msg)
}

func (b *Backend) NotifyAddBreakpointOk(bp BreakpointResponse) error {
	return b.notify(VerbNotifyAddBreakpointOk, bp)
}

func (b *Backend) NotifyAddBreakpointFailed(bp BreakpointResponse) error {
	return b.notify(VerbNotifyAddBreakpointFailed, bp)
}

func (b *Backend) NotifyRemoveBreakpointOk(bp BreakpointResponse) error {
	return b.notify(VerbNotifyRemoveBreakpointOk, bp)
}

func (b *Backend) NotifyRemoveBreakpointFailed(bp BreakpointResponse) error {
	return b.notify(VerbNotifyRemoveBreakpointFailed, bp)
}

func (b *Backend) NotifyChangeBreakpointOk(bp BreakpointResponse) error {
	return b.notify(VerbNotifyChangeBreakpointOk, bp)
}

func (b *Backend) NotifyChangeBreakpointFailed(bp BreakpointResponse) error {
	return b.notify(VerbNotifyChangeBreakpointFailed, bp)
}

func (b *Backend) NotifyBreakpointAdjusted(bp BreakpointResponse) error {
	return b.notify(VerbNotifyBreakpointAdjusted, bp)
}
