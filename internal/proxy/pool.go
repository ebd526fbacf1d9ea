package proxy

import "sync"

const relayBufferSize = 32 * 1024

// BufferPool hands out fixed-size byte slices for relay copies.
type BufferPool interface {
	Get() []byte
	Put([]byte)
}

type bufferPool struct {
	pool sync.Pool
	size int
}

func NewBufferPool(size int) BufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *bufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	p.pool.Put(&b)
}

var relayBuffers = NewBufferPool(relayBufferSize)
