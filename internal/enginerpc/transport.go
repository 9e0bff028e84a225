/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/qt-creator/qt-creator-sub115/pkg/osutil"
	"github.com/qt-creator/qt-creator-sub115/pkg/resiliency"
)

// Transport is the duplex byte stream between a controller and a backend.
// Neither side knows which carrier is in use.
//
// Read blocks until at least one byte is available and returns whatever has arrived;
// its return is the "bytes became available" notification. Frame boundaries are not preserved.
// Write and Read may be called concurrently with each other, but not with themselves.
// After Close, blocked and subsequent calls fail.
type Transport interface {
	io.ReadWriteCloser

	// Carrier describes the underlying carrier for diagnostics, e.g. "inprocess" or "unix:/tmp/dbg.sock".
	Carrier() string
}

const (
	// DefaultDialTimeout bounds how long dial helpers retry connecting to a backend that is still starting.
	DefaultDialTimeout = 10 * time.Second

	// DBG_DIAL_TIMEOUT overrides DefaultDialTimeout, e.g. "30s" for slow remote hosts.
	DBG_DIAL_TIMEOUT = "DBG_DIAL_TIMEOUT"
)

func dialTimeout() time.Duration {
	return osutil.EnvVarDurationValWithDefault(DBG_DIAL_TIMEOUT, DefaultDialTimeout)
}

// streamTransport implements Transport over a pair of byte streams.
type streamTransport struct {
	reader  io.Reader
	writer  io.Writer
	closers []io.Closer
	carrier string

	// writeMu serializes writes so that a frame is never interleaved with another
	writeMu sync.Mutex

	// closed indicates whether the transport has been closed
	closed bool
	mu     sync.Mutex
}

// NewStreamTransport creates a Transport backed by a single duplex stream such as a socket or a pipe.
func NewStreamTransport(rwc io.ReadWriteCloser, carrier string) Transport {
	return &streamTransport{
		reader:  rwc,
		writer:  rwc,
		closers: []io.Closer{rwc},
		carrier: carrier,
	}
}

// NewStdioTransport creates a Transport that reads from in and writes to out,
// e.g. the standard streams of a backend host process.
func NewStdioTransport(in io.ReadCloser, out io.WriteCloser) Transport {
	return &streamTransport{
		reader:  in,
		writer:  out,
		closers: []io.Closer{out, in},
		carrier: "stdio",
	}
}

func (t *streamTransport) Carrier() string {
	return t.carrier
}

func (t *streamTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *streamTransport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}

	n, readErr := t.reader.Read(p)
	if readErr != nil && t.isClosed() {
		// The stream was closed locally while the read was blocked.
		return n, fmt.Errorf("%w: %w", ErrTransportClosed, readErr)
	}
	return n, readErr
}

func (t *streamTransport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, writeErr := t.writer.Write(p)
	if writeErr != nil {
		return n, fmt.Errorf("failed to write to %s transport: %w", t.carrier, writeErr)
	}
	return n, nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, c := range t.closers {
		if closeErr := c.Close(); closeErr != nil && !isClosedError(closeErr) {
			errs = append(errs, closeErr)
		}
	}
	return errors.Join(errs...)
}

// DialUnix connects to a backend listening on a Unix domain socket.
// The connection is retried until the dial timeout elapses, because the backend may still be starting.
func DialUnix(ctx context.Context, path string) (Transport, error) {
	return dialWithRetry(ctx, "unix", path)
}

// DialTCP connects to a backend listening on a local TCP address.
// The connection is retried until the dial timeout elapses, because the backend may still be starting.
func DialTCP(ctx context.Context, address string) (Transport, error) {
	return dialWithRetry(ctx, "tcp", address)
}

func dialWithRetry(ctx context.Context, network, address string) (Transport, error) {
	var d net.Dialer
	conn, dialErr := resiliency.RetryGet(ctx, resiliency.DialBackoff(dialTimeout()), func() (net.Conn, error) {
		return d.DialContext(ctx, network, address)
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", network, address, dialErr)
	}

	return NewStreamTransport(conn, network+":"+address), nil
}

// Accept waits for a single controller to connect to the listener and returns the connection as a Transport.
// The listener is closed when ctx is cancelled while waiting.
func Accept(ctx context.Context, listener net.Listener) (Transport, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	conn, acceptErr := listener.Accept()
	if acceptErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stopped waiting for a connection on %s: %w", listener.Addr(), ctx.Err())
		}
		return nil, fmt.Errorf("failed to accept connection on %s: %w", listener.Addr(), acceptErr)
	}

	addr := listener.Addr()
	return NewStreamTransport(conn, addr.Network()+":"+addr.String()), nil
}

// logLines logs every line read from r until r is exhausted.
// Each stream gets its own scanner, so partial lines from different streams never mix.
func logLines(r io.Reader, log logr.Logger, msg string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		log.Info(msg, "line", scanner.Text())
	}
	if scanErr := scanner.Err(); scanErr != nil && !isClosedError(scanErr) {
		log.V(1).Info("Stopped reading output stream", "error", scanErr)
	}
}
