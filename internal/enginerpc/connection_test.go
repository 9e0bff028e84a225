/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qt-creator/qt-creator-sub115/pkg/testutil"
)

type serveResult struct {
	frames []Frame
	err    error
}

// serveInBackground runs c.Serve and collects the frames it delivers.
func serveInBackground(ctx context.Context, c *Connection, handle FrameHandler) <-chan serveResult {
	result := make(chan serveResult, 1)
	go func() {
		var mu sync.Mutex
		var frames []Frame
		err := c.Serve(ctx, func(ctx context.Context, f Frame) error {
			mu.Lock()
			frames = append(frames, f)
			mu.Unlock()
			if handle != nil {
				return handle(ctx, f)
			}
			return nil
		})
		mu.Lock()
		defer mu.Unlock()
		result <- serveResult{frames: frames, err: err}
	}()
	return result
}

func awaitServe(t *testing.T, ctx context.Context, result <-chan serveResult) serveResult {
	t.Helper()

	select {
	case res := <-result:
		return res
	case <-ctx.Done():
		require.FailNow(t, "Serve did not return")
		return serveResult{}
	}
}

func TestConnectionAssignsIncreasingSequenceNumbers(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a, b := NewInProcessPair()
	sender := NewConnection(a, ConnectionConfig{ByteOrder: binary.LittleEndian})
	receiver := NewConnection(b, ConnectionConfig{ByteOrder: binary.LittleEndian, ReadBufferSize: 5})
	result := serveInBackground(ctx, receiver, nil)

	const count = 50
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range count / 5 {
				_, err := sender.Send(VerbListThreads, []byte("threads"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, sender.Close())

	res := awaitServe(t, ctx, result)
	require.ErrorIs(t, res.err, ErrTransportClosed)
	require.Len(t, res.frames, count)
	for i, f := range res.frames {
		assert.Equal(t, uint64(i+1), f.Sequence, "frames must arrive in sequence order")
		assert.Equal(t, []byte("threads"), f.Payload)
	}
}

func TestConnectionSendReturnsSequence(t *testing.T) {
	t.Parallel()

	a, b := NewInProcessPair()
	defer b.Close()
	c := NewConnection(a, ConnectionConfig{})

	seq, err := c.Send(VerbSetupEngine, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	seq, err = c.Send(VerbRunEngine, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	require.NoError(t, c.Close())
	_, err = c.Send(VerbShutdownEngine, nil)
	require.ErrorIs(t, err, ErrTransportClosed)

	// A failed send does not consume a sequence number.
	assert.Equal(t, uint64(2), c.lastSeq)
}

func TestConnectionServeStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a, b := NewInProcessPair()
	defer a.Close()
	c := NewConnection(b, ConnectionConfig{})

	serveCtx, cancelServe := context.WithCancel(ctx)
	result := serveInBackground(serveCtx, c, nil)
	cancelServe()

	res := awaitServe(t, ctx, result)
	assert.NoError(t, res.err)
	assert.Empty(t, res.frames)
}

func TestConnectionServeReportsCorruption(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a, b := NewInProcessPair()
	defer a.Close()
	c := NewConnection(b, ConnectionConfig{ByteOrder: binary.BigEndian})
	result := serveInBackground(ctx, c, nil)

	good := EncodeFrame(binary.BigEndian, 1, VerbNotifyEngineSetupOk, nil)
	bad := EncodeFrame(binary.BigEndian, 2, VerbNotifyInferiorSetupOk, []byte("p"))
	bad[len(bad)-1] = 0
	_, err := a.Write(append(good, bad...))
	require.NoError(t, err)

	res := awaitServe(t, ctx, result)
	require.ErrorIs(t, res.err, ErrBadTerminator)
	require.Len(t, res.frames, 1)
	assert.Equal(t, VerbNotifyEngineSetupOk, res.frames[0].Verb)
}

func TestConnectionServeStopsOnHandlerError(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a, b := NewInProcessPair()
	defer a.Close()
	sender := NewConnection(a, ConnectionConfig{})
	receiver := NewConnection(b, ConnectionConfig{})

	handlerErr := errors.New("cannot handle")
	result := serveInBackground(ctx, receiver, func(_ context.Context, f Frame) error {
		if f.Verb == VerbNotifyInferiorIll {
			return handlerErr
		}
		return nil
	})

	_, err := sender.Send(VerbNotifyInferiorRunOk, nil)
	require.NoError(t, err)
	_, err = sender.Send(VerbNotifyInferiorIll, nil)
	require.NoError(t, err)

	res := awaitServe(t, ctx, result)
	require.ErrorIs(t, res.err, handlerErr)
	assert.Len(t, res.frames, 2)
}

func TestConnectionServeRecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a, b := NewInProcessPair()
	defer a.Close()
	sender := NewConnection(a, ConnectionConfig{})
	receiver := NewConnection(b, ConnectionConfig{Log: testutil.NewLogForTesting("connection")})

	result := serveInBackground(ctx, receiver, func(context.Context, Frame) error {
		panic("handler bug")
	})

	_, err := sender.Send(VerbListFrames, nil)
	require.NoError(t, err)

	res := awaitServe(t, ctx, result)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "handler bug")
}

func TestConnectionLogsTruncatedStream(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a, b := NewInProcessPair()
	log, sink := testutil.NewMockLogger()
	c := NewConnection(b, ConnectionConfig{ByteOrder: binary.LittleEndian, Log: log})
	result := serveInBackground(ctx, c, nil)

	frame := EncodeFrame(binary.LittleEndian, 1, VerbShowLogOutput, []byte("partial output"))
	_, err := a.Write(frame[:HeaderSize+4])
	require.NoError(t, err)
	require.NoError(t, a.Close())

	res := awaitServe(t, ctx, result)
	require.ErrorIs(t, res.err, ErrTransportClosed)
	assert.Empty(t, res.frames)
	assert.True(t, sink.Logged(0, "Stream ended in the middle of a frame"))
}
