/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the size of the fixed frame header: sequence, verb and payload length, 8 bytes each.
	HeaderSize = 24

	// FrameTerminator follows the payload of every frame.
	// It marks the frame as complete and doubles as a cheap corruption check.
	FrameTerminator byte = 'T'

	// MaxPayloadLen is the largest payload a peer may announce.
	// Anything larger is treated as a corrupted header rather than an allocation request.
	MaxPayloadLen = 256 * 1024 * 1024
)

// Frame is one complete message unit on the wire.
//
// Sequence is assigned by the sender, per direction, and is only a diagnostic tag.
// It is never used to pair requests with notifications.
type Frame struct {
	Sequence uint64
	Verb     Verb
	Payload  []byte
}

// FrameHeader is the decoded fixed-size part of a frame.
type FrameHeader struct {
	Sequence   uint64
	Verb       Verb
	PayloadLen uint64
}

// BodySize returns the number of bytes that follow the header: the payload plus the terminator.
func (h FrameHeader) BodySize() uint64 {
	return h.PayloadLen + 1
}

// EncodeFrame serializes a frame using the given byte order for the header integers.
func EncodeFrame(order binary.ByteOrder, seq uint64, verb Verb, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)+1), order, seq, verb, payload)
}

// AppendFrame appends the serialized frame to dst and returns the extended slice.
func AppendFrame(dst []byte, order binary.ByteOrder, seq uint64, verb Verb, payload []byte) []byte {
	var header [HeaderSize]byte
	order.PutUint64(header[0:8], seq)
	order.PutUint64(header[8:16], uint64(verb))
	order.PutUint64(header[16:24], uint64(len(payload)))
	dst = append(dst, header[:]...)
	dst = append(dst, payload...)
	return append(dst, FrameTerminator)
}

// DecodeHeader decodes the first HeaderSize bytes of b.
// The caller is responsible for making sure enough bytes are available;
// ErrMalformedHeader is returned otherwise.
func DecodeHeader(order binary.ByteOrder, b []byte) (FrameHeader, error) {
	if len(b) < HeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: have %d bytes, need %d", ErrMalformedHeader, len(b), HeaderSize)
	}

	header := FrameHeader{
		Sequence:   order.Uint64(b[0:8]),
		Verb:       Verb(order.Uint64(b[8:16])),
		PayloadLen: order.Uint64(b[16:24]),
	}
	if header.PayloadLen > MaxPayloadLen {
		return FrameHeader{}, fmt.Errorf("%w: %d bytes announced for %s", ErrOversizedFrame, header.PayloadLen, header.Verb)
	}

	return header, nil
}

// DecodeBody splits the bytes following a header into the payload and validates the terminator.
// b must hold at least payloadLen+1 bytes, otherwise ErrTruncatedBody is returned.
// A payloadLen above MaxPayloadLen is rejected with ErrOversizedFrame.
// The returned payload aliases b.
func DecodeBody(b []byte, payloadLen uint64) ([]byte, error) {
	if payloadLen > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes announced", ErrOversizedFrame, payloadLen)
	}
	if uint64(len(b)) < payloadLen+1 {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncatedBody, len(b), payloadLen+1)
	}

	if terminator := b[payloadLen]; terminator != FrameTerminator {
		return nil, fmt.Errorf("%w: got 0x%02x", ErrBadTerminator, terminator)
	}

	return b[:payloadLen], nil
}

// DecodeFrame decodes one complete frame from the start of b.
// It returns the frame and the number of bytes consumed.
func DecodeFrame(order binary.ByteOrder, b []byte) (Frame, int, error) {
	header, headerErr := DecodeHeader(order, b)
	if headerErr != nil {
		return Frame{}, 0, headerErr
	}

	payload, bodyErr := DecodeBody(b[HeaderSize:], header.PayloadLen)
	if bodyErr != nil {
		return Frame{}, 0, bodyErr
	}

	return Frame{Sequence: header.Sequence, Verb: header.Verb, Payload: payload}, HeaderSize + int(header.BodySize()), nil
}

// ParseByteOrder converts a byte order name ("little", "big" or "native") to a binary.ByteOrder.
// An empty name selects the native order.
func ParseByteOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "native":
		return binary.NativeEndian, nil
	case "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order '%s' (expected 'little', 'big' or 'native')", name)
	}
}

// ByteOrderName returns the name ParseByteOrder accepts for the given order.
// Native order is resolved to the concrete order of the running platform.
func ByteOrderName(order binary.ByteOrder) string {
	var probe [2]byte
	order.PutUint16(probe[:], 1)
	if probe[0] == 1 {
		return "little"
	}
	return "big"
}
