/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	orders := map[string]binary.ByteOrder{
		"little": binary.LittleEndian,
		"big":    binary.BigEndian,
		"native": binary.NativeEndian,
	}
	payloads := map[string][]byte{
		"empty":  nil,
		"short":  []byte("x"),
		"binary": {0x00, 'T', 0xff, 0x10, 'T'},
		"large":  bytes.Repeat([]byte{0xab}, 64*1024),
	}

	for orderName, order := range orders {
		for payloadName, payload := range payloads {
			t.Run(orderName+"/"+payloadName, func(t *testing.T) {
				t.Parallel()

				encoded := EncodeFrame(order, 42, VerbDisassemble, payload)
				require.Len(t, encoded, HeaderSize+len(payload)+1)
				assert.Equal(t, FrameTerminator, encoded[len(encoded)-1])

				frame, consumed, err := DecodeFrame(order, encoded)
				require.NoError(t, err)
				assert.Equal(t, len(encoded), consumed)
				assert.Equal(t, uint64(42), frame.Sequence)
				assert.Equal(t, VerbDisassemble, frame.Verb)
				assert.Equal(t, len(payload), len(frame.Payload))
				if len(payload) > 0 {
					assert.Equal(t, payload, frame.Payload)
				}
			})
		}
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	t.Parallel()

	encoded := EncodeFrame(binary.LittleEndian, 1, VerbSetupEngine, []byte{0xaa, 0xbb})

	expected := []byte{
		1, 0, 0, 0, 0, 0, 0, 0, // sequence
		1, 0, 0, 0, 0, 0, 0, 0, // verb
		2, 0, 0, 0, 0, 0, 0, 0, // payload length
		0xaa, 0xbb,
		'T',
	}
	assert.Equal(t, expected, encoded)

	bigEndian := EncodeFrame(binary.BigEndian, 1, VerbSetupEngine, nil)
	assert.Equal(t, byte(1), bigEndian[7])
	assert.Equal(t, byte(1), bigEndian[15])
}

func TestAppendFrameKeepsExistingBytes(t *testing.T) {
	t.Parallel()

	first := EncodeFrame(binary.LittleEndian, 1, VerbRunEngine, nil)
	both := AppendFrame(append([]byte(nil), first...), binary.LittleEndian, 2, VerbShutdownEngine, []byte("p"))

	frame, consumed, err := DecodeFrame(binary.LittleEndian, both)
	require.NoError(t, err)
	assert.Equal(t, VerbRunEngine, frame.Verb)

	second, _, err := DecodeFrame(binary.LittleEndian, both[consumed:])
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, []byte("p"), second.Payload)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	valid := EncodeFrame(binary.LittleEndian, 7, VerbListFrames, []byte("abc"))

	oversized := EncodeFrame(binary.LittleEndian, 7, VerbListFrames, nil)
	binary.LittleEndian.PutUint64(oversized[16:24], MaxPayloadLen+1)

	badTerminator := append([]byte(nil), valid...)
	badTerminator[len(badTerminator)-1] = 'X'

	tests := []struct {
		name      string
		input     []byte
		expected  error
		transient bool
	}{
		{name: "short header", input: valid[:HeaderSize-1], expected: ErrMalformedHeader, transient: true},
		{name: "truncated body", input: valid[:len(valid)-1], expected: ErrTruncatedBody, transient: true},
		{name: "bad terminator", input: badTerminator, expected: ErrBadTerminator},
		{name: "oversized payload", input: oversized, expected: ErrOversizedFrame},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := DecodeFrame(binary.LittleEndian, tc.input)
			require.ErrorIs(t, err, tc.expected)
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.Equal(t, !tc.transient, IsFatal(err))
		})
	}
	for _, payloadLen := range []uint64{MaxPayloadLen + 1, math.MaxUint64} {
		t.Run(fmt.Sprintf("body length %d", payloadLen), func(t *testing.T) {
			t.Parallel()

			var payload []byte
			var err error
			require.NotPanics(t, func() {
				payload, err = DecodeBody([]byte{FrameTerminator}, payloadLen)
			})
			require.ErrorIs(t, err, ErrOversizedFrame)
			assert.Nil(t, payload)
			assert.True(t, IsFatal(err))
		})
	}
}

func TestDecodeBodyAliasesInput(t *testing.T) {
	t.Parallel()

	body := []byte{'a', 'b', 'T', 'z'}
	payload, err := DecodeBody(body, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), payload)

	body[0] = 'x'
	assert.Equal(t, byte('x'), payload[0])
}

func TestParseByteOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected binary.ByteOrder
	}{
		{name: "", expected: binary.NativeEndian},
		{name: "native", expected: binary.NativeEndian},
		{name: "little", expected: binary.LittleEndian},
		{name: "LE", expected: binary.LittleEndian},
		{name: " big ", expected: binary.BigEndian},
		{name: "be", expected: binary.BigEndian},
	}

	for _, tc := range tests {
		t.Run("'"+tc.name+"'", func(t *testing.T) {
			t.Parallel()

			order, err := ParseByteOrder(tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, order)
		})
	}

	_, err := ParseByteOrder("middle")
	assert.Error(t, err)
}

func TestByteOrderName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "little", ByteOrderName(binary.LittleEndian))
	assert.Equal(t, "big", ByteOrderName(binary.BigEndian))

	native, err := ParseByteOrder(ByteOrderName(binary.NativeEndian))
	require.NoError(t, err)
	assert.Equal(t, EncodeFrame(binary.NativeEndian, 3, VerbUpdateAll, nil), EncodeFrame(native, 3, VerbUpdateAll, nil))
}
