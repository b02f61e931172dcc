// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BufferPool implementation over valyala/bytebufferpool. The pool is an
// explicitly constructed object passed to whoever needs it; there is no
// process-wide default instance.

package pool

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/momentics/sockchan/api"
)

// Pool implements api.BufferPool.
type Pool struct {
	bp    bytebufferpool.Pool
	alloc atomic.Int64
	freed atomic.Int64
}

// NewPool creates an empty buffer pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns a buffer with at least size writable bytes.
func (p *Pool) Get(size int) api.Buffer {
	if size <= 0 {
		size = 1
	}
	bb := p.bp.Get()
	if cap(bb.B) < size {
		bb.B = make([]byte, size)
	} else {
		bb.B = bb.B[:size]
	}
	p.alloc.Add(1)
	return &buffer{bb: bb, pool: p}
}

// Put returns a buffer to the pool.
func (p *Pool) Put(b api.Buffer) {
	b.Release()
}

// Stats exposes allocation counters.
func (p *Pool) Stats() api.BufferPoolStats {
	alloc := p.alloc.Load()
	freed := p.freed.Load()
	return api.BufferPoolStats{
		TotalAlloc: alloc,
		TotalFree:  freed,
		InUse:      alloc - freed,
	}
}

// buffer implements api.Buffer over a pooled byte slice.
type buffer struct {
	bb   *bytebufferpool.ByteBuffer
	pool *Pool
	r, w int
}

func (b *buffer) Bytes() []byte    { return b.bb.B[b.r:b.w] }
func (b *buffer) Writable() []byte { return b.bb.B[b.w:] }
func (b *buffer) Len() int         { return b.w - b.r }
func (b *buffer) Cap() int         { return len(b.bb.B) }

func (b *buffer) Commit(n int) {
	if n < 0 || b.w+n > len(b.bb.B) {
		panic("pool: commit past buffer capacity")
	}
	b.w += n
}

func (b *buffer) Advance(n int) {
	if n < 0 || b.r+n > b.w {
		panic("pool: advance past writer cursor")
	}
	b.r += n
}

func (b *buffer) Release() {
	if b.bb == nil {
		return
	}
	bb := b.bb
	b.bb = nil
	b.pool.freed.Add(1)
	b.pool.bp.Put(bb)
}

// NewFilled returns a buffer whose readable region equals data. Convenience
// for write paths handed plain byte slices.
func NewFilled(p *Pool, data []byte) api.Buffer {
	buf := p.Get(len(data))
	n := copy(buf.Writable(), data)
	buf.Commit(n)
	return buf
}
