package util

import "sync"

// BufferPool recycles fixed-size byte slices for the read paths of
// sessions and bridges.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get hands out a buffer of the pool's size.
func (p *BufferPool) Get() *[]byte { return p.pool.Get().(*[]byte) }

// Put takes a buffer back.  Nil and resized buffers are dropped.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) < p.size {
		return
	}
	*b = (*b)[:p.size]
	p.pool.Put(b)
}

var defaultPool = NewBufferPool(DefaultBufSize)

// GetBuf takes a DefaultBufSize buffer from the shared pool.  Return it
// with PutBuf.
func GetBuf() *[]byte { return defaultPool.Get() }

// PutBuf returns a buffer taken with GetBuf.
func PutBuf(b *[]byte) { defaultPool.Put(b) }
