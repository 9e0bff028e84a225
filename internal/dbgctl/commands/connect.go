/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/qt-creator/qt-creator-sub115/internal/config"
	"github.com/qt-creator/qt-creator-sub115/internal/enginerpc"
	"github.com/qt-creator/qt-creator-sub115/internal/simengine"
	"github.com/qt-creator/qt-creator-sub115/internal/telemetry"
)

// connection is the controller side of a carrier, plus whatever must be released with it.
type connection struct {
	transport enginerpc.Transport
	release   func() error
}

// connect establishes the carrier described by the profile.
// For the in-process carrier the backend is served on a goroutine until ctx is cancelled or the controller disconnects.
// extraBackendArgs are appended to the command line of a locally launched backend.
func connect(ctx context.Context, profile *config.Profile, extraBackendArgs []string, metrics *telemetry.ProtocolMetrics, log logr.Logger) (*connection, error) {
	switch profile.Transport {
	case config.TransportInProcess:
		return connectInProcess(ctx, profile, metrics, log)

	case config.TransportLocal:
		launchCfg, launchCfgErr := profile.LaunchConfig(log.WithName("launcher"))
		if launchCfgErr != nil {
			return nil, launchCfgErr
		}
		launchCfg.Args = append(launchCfg.Args, extraBackendArgs...)
		launched, launchErr := enginerpc.LaunchBackend(ctx, launchCfg)
		if launchErr != nil {
			return nil, launchErr
		}
		log.V(1).Info("Backend host launched", "pid", launched.Pid())
		return &connection{transport: launched, release: launched.Close}, nil

	case config.TransportSocket:
		var t enginerpc.Transport
		var dialErr error
		if profile.Socket.Network == "tcp" {
			t, dialErr = enginerpc.DialTCP(ctx, profile.Socket.Address)
		} else {
			t, dialErr = enginerpc.DialUnix(ctx, profile.Socket.Address)
		}
		if dialErr != nil {
			return nil, dialErr
		}
		return &connection{transport: t, release: t.Close}, nil

	case config.TransportSSH:
		t, dialErr := enginerpc.DialSSH(ctx, profile.SSHConfig(log.WithName("ssh")))
		if dialErr != nil {
			return nil, dialErr
		}
		return &connection{transport: t, release: t.Close}, nil

	default:
		return nil, fmt.Errorf("%w: transport '%s' is not supported", config.ErrInvalidProfile, profile.Transport)
	}
}

func connectInProcess(ctx context.Context, profile *config.Profile, metrics *telemetry.ProtocolMetrics, log logr.Logger) (*connection, error) {
	if profile.Backend.Engine != config.DefaultEngine {
		return nil, fmt.Errorf("%w: engine '%s' cannot run in process", config.ErrInvalidProfile, profile.Backend.Engine)
	}

	controllerSide, backendSide := enginerpc.NewInProcessPair()
	backendLog := log.WithName("backend")
	backend := enginerpc.NewBackend(
		backendSide,
		simengine.Factory(simengine.Config{Log: backendLog.WithName("simengine")}),
		enginerpc.BackendConfig{
			ByteOrder: profile.HeaderByteOrder(),
			Log:       backendLog,
			Metrics:   metrics,
		},
	)

	serveCtx, cancelServe := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() {
		served <- backend.Serve(serveCtx)
	}()

	release := func() error {
		closeErr := controllerSide.Close()
		cancelServe()
		serveErr := <-served
		if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
			backendLog.Error(serveErr, "In-process backend stopped with an error")
		}
		return closeErr
	}
	return &connection{transport: controllerSide, release: release}, nil
}
