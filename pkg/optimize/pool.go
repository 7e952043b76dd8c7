// Package optimize holds allocation helpers for the audio hot paths.
package optimize

import (
	"sync"
)

// BytePool recycles fixed-size byte buffers. Buffers smaller than the pool
// size are dropped on Put so every Get returns at least size bytes.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a buffer of length size.
func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns b to the pool. b may have been resliced or appended to.
func (p *BytePool) Put(b []byte) {
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}

// Size is the length of the buffers handed out by Get.
func (p *BytePool) Size() int {
	return p.size
}
