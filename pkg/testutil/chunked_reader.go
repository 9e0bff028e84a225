package testutil

import (
	"io"
	"sync"
)

// ChunkedReader hands out a fixed byte sequence in reads of at most chunkSize bytes,
// simulating a transport that delivers data in arbitrary pieces.
// Once the data is exhausted, every read returns the terminal error (io.EOF unless set with WithError).
// All methods are goroutine-safe.
type ChunkedReader struct {
	data      []byte
	chunkSize int
	err       error
	reads     int
	closed    bool
	lock      sync.Mutex
}

func NewChunkedReader(data []byte, chunkSize int) *ChunkedReader {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}

	return &ChunkedReader{
		data:      append([]byte(nil), data...),
		chunkSize: chunkSize,
		err:       io.EOF,
	}
}

// WithError sets the error returned after all data has been read.
func (cr *ChunkedReader) WithError(err error) *ChunkedReader {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	cr.err = err
	return cr
}

func (cr *ChunkedReader) Read(p []byte) (int, error) {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.closed {
		return 0, io.ErrClosedPipe
	}
	if len(cr.data) == 0 {
		return 0, cr.err
	}

	n := min(len(p), cr.chunkSize, len(cr.data))
	copy(p, cr.data[:n])
	cr.data = cr.data[n:]
	cr.reads++
	return n, nil
}

// Reads returns the number of successful reads so far.
func (cr *ChunkedReader) Reads() int {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	return cr.reads
}

func (cr *ChunkedReader) Close() error {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	cr.closed = true
	return nil
}

var _ io.ReadCloser = (*ChunkedReader)(nil)
