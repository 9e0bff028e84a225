/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package enginerpc implements the RPC transport between a debugger controller (the IDE side)
and a debugger backend host that runs the actual debugger engine.

# Architecture Overview

Both sides exchange frames over a byte stream. The stream may be an in-process queue pair,
the standard streams of a launched backend process, a Unix or TCP socket, or an SSH session
running the backend on a remote machine. Every carrier implements Transport.

# Wire Format

Each frame is

	u64 sequence | u64 verb | u64 payload length | payload | 'T'

The header fields use the byte order chosen for the connection (native by default). The payload
is the CBOR encoding of the verb's parameter record and may be empty. Controller verbs use ids
1 to 26, backend verbs use ids 128 to 163. A frame whose terminator is not 'T', whose payload
exceeds MaxPayloadLen, or whose verb belongs to the wrong direction is fatal for the connection.

# Key Components

  - Reassembler: rebuilds frames from arbitrarily chunked reads, one per connection
  - Connection: a transport, a reassembler, a sequence counter and the read loop
  - Controller: owns the engine state, checks verb preconditions and correlates responses
  - Backend: decodes controller verbs, calls an Engine and implements Notifier
  - Session: drives a Controller through setup, run and shutdown, and owns teardown

# Engine Lifecycle

The controller only sends a verb when the engine state allows it. For example, stepping requires
InferiorStopOk and interrupting requires InferiorStopRequested, which InterruptInferior enters on
its own from InferiorRunOk. Any fatal protocol or transport error moves the engine to Dead:
a single fatal message is shown, the transport is closed and every later verb fails with
ErrSessionDead without being transmitted.

# Usage

	controllerSide, backendSide := enginerpc.NewInProcessPair()
	backend := enginerpc.NewBackend(backendSide, simengine.Factory(simengine.Config{}), enginerpc.BackendConfig{Log: log})
	go func() { _ = backend.Serve(ctx) }()

	session := enginerpc.NewSession(controllerSide, enginerpc.SessionConfig{
		Controller: enginerpc.ControllerConfig{Log: log, Listener: listener},
		Inferior:   enginerpc.SetupInferiorParams{Executable: "/usr/bin/app"},
	})
	err := session.Run(ctx)
*/
package enginerpc
