// File: api/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pooled, cursor-tracked byte buffers for non-blocking socket IO.
//
// A Buffer is produced by a BufferPool, filled by the read path and handed
// downstream, or filled upstream and drained by the write path. Ownership
// transfers with the buffer: whoever holds it releases it exactly once.

package api

// Buffer describes a growable, pooled memory region with independent
// reader and writer cursors.
type Buffer interface {
	// Bytes returns the readable region, between the reader and writer cursors.
	Bytes() []byte

	// Writable returns the spare region past the writer cursor.
	Writable() []byte

	// Commit advances the writer cursor after n bytes were written into
	// the Writable region.
	Commit(n int)

	// Advance moves the reader cursor forward by n bytes.
	Advance(n int)

	// Len reports the number of readable bytes.
	Len() int

	// Cap reports the total capacity of the underlying region.
	Cap() int

	// Release returns the buffer to its pool. The buffer must not be
	// used afterwards.
	Release()
}

// BufferPool abstracts memory region management for buffers.
type BufferPool interface {
	// Get returns a buffer with at least 'size' writable bytes.
	Get(size int) Buffer

	// Put returns a buffer to the pool; equivalent to Buffer.Release.
	Put(b Buffer)

	// Stats exposes resource/accounting metrics for observability.
	Stats() BufferPoolStats
}

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
}

// RecvSizer guesses receive buffer sizes for the next read pass and adapts
// from the number of bytes each pass actually produced.
type RecvSizer interface {
	// Guess returns the capacity to use for the next receive buffer.
	Guess() int

	// Record feeds back the total bytes read by the pass that just ended.
	Record(total int)
}
