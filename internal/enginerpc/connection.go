/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"

	"github.com/qt-creator/qt-creator-sub115/internal/telemetry"
	"github.com/qt-creator/qt-creator-sub115/pkg/resiliency"
)

const defaultReadBufferSize = 32 * 1024

// ConnectionConfig holds the settings shared by both ends of a connection.
type ConnectionConfig struct {
	// ByteOrder of the header integers. Both ends must agree; defaults to the native order.
	ByteOrder binary.ByteOrder

	Log     logr.Logger
	Metrics *telemetry.ProtocolMetrics

	// ReadBufferSize is the largest chunk read from the transport at once.
	ReadBufferSize int
}

func (cfg ConnectionConfig) withDefaults() ConnectionConfig {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.NativeEndian
	}
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopProtocolMetrics()
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	return cfg
}

// FrameHandler processes one received frame. It must not block.
// Returning an error stops the read loop.
type FrameHandler func(ctx context.Context, f Frame) error

// Connection owns a transport, the reassembler for its inbound stream and the sequence counter for its outbound stream.
type Connection struct {
	transport   Transport
	order       binary.ByteOrder
	log         logr.Logger
	metrics     *telemetry.ProtocolMetrics
	reassembler *Reassembler
	bufSize     int

	// writeMu makes sequence assignment and the transport write one atomic step,
	// so sequence numbers appear on the wire in increasing order.
	writeMu sync.Mutex
	lastSeq uint64
}

func NewConnection(t Transport, cfg ConnectionConfig) *Connection {
	cfg = cfg.withDefaults()

	return &Connection{
		transport:   t,
		order:       cfg.ByteOrder,
		log:         cfg.Log.WithValues("carrier", t.Carrier()),
		metrics:     cfg.Metrics,
		reassembler: NewReassembler(cfg.ByteOrder),
		bufSize:     cfg.ReadBufferSize,
	}
}

// Send encodes and writes one frame. It returns the sequence number assigned to the frame.
func (c *Connection) Send(verb Verb, payload []byte) (uint64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	seq := c.lastSeq + 1
	frame := EncodeFrame(c.order, seq, verb, payload)

	n, writeErr := c.transport.Write(frame)
	if writeErr == nil && n != len(frame) {
		writeErr = io.ErrShortWrite
	}
	if writeErr != nil {
		return 0, fmt.Errorf("failed to send %s (sequence %d): %w", verb, seq, writeErr)
	}

	c.lastSeq = seq
	c.log.V(1).Info("Sent frame", "sequence", seq, "verb", verb.String(), "payloadLen", len(payload))
	c.metrics.FrameSent(context.Background(), verb.String())
	return seq, nil
}

// Serve runs the read loop: it reads chunks from the transport, reassembles frames
// and hands every complete frame to handle, in order, on the calling goroutine.
//
// Serve returns when the transport is closed (the error wraps ErrTransportClosed),
// when the stream is corrupt, when handle returns an error, or when handle panics.
// Cancelling ctx closes the transport; Serve then returns nil.
func (c *Connection) Serve(ctx context.Context, handle FrameHandler) (err error) {
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), c.log); panicErr != nil {
			err = fmt.Errorf("frame handler failed: %w", panicErr)
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = c.transport.Close()
	})
	defer stop()

	buf := make([]byte, c.bufSize)
	for {
		n, readErr := c.transport.Read(buf)
		if n > 0 {
			_, _ = c.reassembler.Write(buf[:n])
			if _, drainErr := c.reassembler.Drain(func(f Frame) error {
				return c.dispatch(ctx, f, handle)
			}); drainErr != nil {
				return drainErr
			}
		}

		if readErr != nil {
			if ctx.Err() != nil {
				return filterContextError(ctx.Err(), ctx, c.log)
			}
			if isClosedError(readErr) {
				if buffered := c.reassembler.Buffered(); buffered > 0 {
					c.log.Info("Stream ended in the middle of a frame", "bufferedBytes", buffered)
				}
				return fmt.Errorf("%w: %w", ErrTransportClosed, readErr)
			}
			return fmt.Errorf("failed to read from %s transport: %w", c.transport.Carrier(), readErr)
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, f Frame, handle FrameHandler) error {
	c.log.V(1).Info("Received frame", "sequence", f.Sequence, "verb", f.Verb.String(), "payloadLen", len(f.Payload))
	c.metrics.FrameReceived(ctx, f.Verb.String())

	return c.metrics.TraceDispatch(ctx, f.Verb.String(), f.Sequence, func(spanCtx context.Context) error {
		return handle(spanCtx, f)
	})
}

// Carrier describes the underlying transport.
func (c *Connection) Carrier() string {
	return c.transport.Carrier()
}

// Close closes the transport. A blocked Serve call returns.
func (c *Connection) Close() error {
	return c.transport.Close()
}
