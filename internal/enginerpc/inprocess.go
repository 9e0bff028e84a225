/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"io"
	"sync"

	"github.com/smallnest/chanx"
)

const inProcessQueueCapacity = 16

// inProcessTransport is one end of an in-process carrier.
// Writes enqueue a copy of the bytes on the peer's unbounded queue and return immediately.
// The peer picks them up from its own read loop, so a handler never runs inside the sender's call stack.
type inProcessTransport struct {
	name    string
	peer    *inProcessTransport
	inbound *chanx.UnboundedChan[[]byte]

	// cancelInbound stops the inbound queue of this end
	cancelInbound context.CancelFunc

	// pending holds the part of the last dequeued chunk that did not fit into the caller's buffer
	pending []byte
	readMu  sync.Mutex

	// writeMu serializes writes and guards closing the peer's inbound queue
	writeMu sync.Mutex

	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// NewInProcessPair creates two connected transports for a controller and a backend living in the same process.
func NewInProcessPair() (Transport, Transport) {
	a := newInProcessTransport("inprocess:controller")
	b := newInProcessTransport("inprocess:backend")
	a.peer = b
	b.peer = a
	return a, b
}

func newInProcessTransport(name string) *inProcessTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &inProcessTransport{
		name:          name,
		inbound:       chanx.NewUnboundedChan[[]byte](ctx, inProcessQueueCapacity),
		cancelInbound: cancel,
		done:          make(chan struct{}),
	}
}

func (t *inProcessTransport) Carrier() string {
	return t.name
}

func (t *inProcessTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *inProcessTransport) Read(p []byte) (int, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if t.isClosed() {
		return 0, ErrTransportClosed
	}

	if len(t.pending) == 0 {
		select {
		case chunk, isOpen := <-t.inbound.Out:
			if !isOpen {
				if t.isClosed() {
					return 0, ErrTransportClosed
				}
				return 0, io.EOF
			}
			t.pending = chunk
		case <-t.done:
			return 0, ErrTransportClosed
		}
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *inProcessTransport) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return 0, ErrTransportClosed
	}

	chunk := append([]byte(nil), p...)
	select {
	case t.peer.inbound.In <- chunk:
		return len(p), nil
	case <-t.peer.done:
		return 0, io.ErrClosedPipe
	}
}

// Close closes this end. The peer reads any bytes already queued and then gets io.EOF.
func (t *inProcessTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.cancelInbound()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	close(t.peer.inbound.In)

	return nil
}
