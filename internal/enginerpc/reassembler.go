/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"encoding/binary"
	"errors"
)

// Reassembler turns an arbitrarily chunked byte stream into complete frames.
//
// Decoding runs in two phases: first the fixed-size header, then the body whose size
// the header announces. Either phase may have to wait for more bytes; a header split
// across chunks, a body split across many chunks, and many frames in one chunk are all handled.
//
// A Reassembler belongs to exactly one connection and is not safe for concurrent use.
type Reassembler struct {
	order  binary.ByteOrder
	buf    []byte
	header FrameHeader

	// haveHeader is true once the header of the frame being assembled has been decoded.
	haveHeader bool

	// err is the sticky corruption error. Once set, the stream is unusable.
	err error
}

// NewReassembler creates a reassembler decoding headers in the given byte order.
func NewReassembler(order binary.ByteOrder) *Reassembler {
	if order == nil {
		order = binary.NativeEndian
	}
	return &Reassembler{order: order}
}

// Write appends a chunk of received bytes. It implements io.Writer.
// Writing to a reassembler that detected corruption returns the corruption error.
func (r *Reassembler) Write(chunk []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.buf = append(r.buf, chunk...)
	return len(chunk), nil
}

// Next returns the next complete frame.
//
// ErrNeedMoreData is returned when the buffered bytes do not form a complete frame yet.
// Corruption (bad terminator, oversized payload) is returned as a fatal error and
// every subsequent call returns the same error.
//
// The returned frame does not alias the internal buffer.
func (r *Reassembler) Next() (Frame, error) {
	if r.err != nil {
		return Frame{}, r.err
	}

	if !r.haveHeader {
		if len(r.buf) < HeaderSize {
			return Frame{}, ErrNeedMoreData
		}

		header, headerErr := DecodeHeader(r.order, r.buf[:HeaderSize])
		if headerErr != nil {
			return Frame{}, r.fail(headerErr)
		}
		r.header = header
		r.haveHeader = true
	}

	body := r.buf[HeaderSize:]
	if uint64(len(body)) < r.header.BodySize() {
		return Frame{}, ErrNeedMoreData
	}

	payload, bodyErr := DecodeBody(body, r.header.PayloadLen)
	if bodyErr != nil {
		return Frame{}, r.fail(bodyErr)
	}

	frame := Frame{Sequence: r.header.Sequence, Verb: r.header.Verb}
	if len(payload) > 0 {
		frame.Payload = append([]byte(nil), payload...)
	}

	consumed := HeaderSize + int(r.header.BodySize())
	r.buf = append(r.buf[:0], r.buf[consumed:]...)
	r.header = FrameHeader{}
	r.haveHeader = false

	return frame, nil
}

// Drain hands every complete buffered frame to fn, in order, before returning.
// It returns the number of frames delivered.
//
// A burst of frames delivered in one chunk is processed here in a loop, so the caller
// does not have to wait for another read to make progress.
// Drain stops early if fn returns an error or the stream is corrupt.
func (r *Reassembler) Drain(fn func(Frame) error) (int, error) {
	delivered := 0
	for {
		frame, nextErr := r.Next()
		if errors.Is(nextErr, ErrNeedMoreData) {
			return delivered, nil
		}
		if nextErr != nil {
			return delivered, nextErr
		}

		if fnErr := fn(frame); fnErr != nil {
			return delivered, fnErr
		}
		delivered++
	}
}

// Buffered returns the number of received bytes not yet consumed by a complete frame,
// including the bytes of a header that was already decoded.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Err returns the corruption error that made the stream unusable, if any.
func (r *Reassembler) Err() error {
	return r.err
}

func (r *Reassembler) fail(err error) error {
	r.err = err
	r.buf = nil
	r.haveHeader = false
	return err
}
