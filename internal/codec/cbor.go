/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package codec holds the CBOR encoding configuration used for engine RPC verb payloads.
//
// The frame layer treats payloads as opaque bytes. Every verb that carries data encodes a
// single CBOR item produced by Marshal; verbs without data carry an empty payload.
// The encoder uses Core Deterministic Encoding so the same record always produces the
// same bytes, which keeps frame dumps comparable across runs.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Payload records never use non-string map keys.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Peers built from a newer revision may add fields; ignore them.
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation for data. Used when logging payloads.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
