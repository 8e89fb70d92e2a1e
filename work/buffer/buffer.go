// Package buffer provides a pooled byte-slice allocator for the session
// package's bounded reverse-mode FIFO (work/session.Session.copyBuffered),
// so a momentarily slow client doesn't force a fresh allocation per chunk
// read from a shared-hub or per-client upstream.
//
// Grounded on the teacher's work/buffer.BufferPool (same
// valyala/bytebufferpool wrapping, same Get/Put/Cleanup shape). The
// teacher's companion RingBuffer — a circular buffer with per-client read
// cursors for multi-reader broadcast — is dropped here: work/hub.Hub
// already solves shared-stream multi-reader fan-out with a per-client
// channel (hub.go's client.send), making a second, unused multi-reader
// buffer implementation redundant.
package buffer

import (
	"runtime"

	"github.com/valyala/bytebufferpool"
)

// BufferPool is a thread-safe pool of byte slices sized to bufferSize,
// backed by bytebufferpool for allocation reuse.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a BufferPool that hands out buffers of at least
// bufferSize bytes.
func NewBufferPool(bufferSize int) *BufferPool {
	return &BufferPool{
		bufferSize: bufferSize,
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a buffer from the pool, growing it to bufferSize if the
// pooled instance is too small. The returned buffer's B field is
// zero-length; callers read into B[:cap(B)] or reslice as needed.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, 0, bp.bufferSize)
	}
	return buf
}

// Put returns buf to the pool for reuse.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// Cleanup runs a garbage collection. It does not empty the pool itself.
// Intended for process shutdown, not per-request use.
func (bp *BufferPool) Cleanup() {
	runtime.GC()
}
