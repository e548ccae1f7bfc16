package bufpool

import "sync"

// Pool hands out fixed-size byte buffers, reusing returned ones to keep
// large digest and transfer buffers off the garbage collector.
type Pool struct {
	pool sync.Pool
	size int
}

// New builds a pool of size-byte buffers.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	return &Pool{
		size: size,
		pool: sync.Pool{
			New: func() any { return make([]byte, size) },
		},
	}
}

// Get returns a buffer of exactly the pool's size.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	return buf[:p.size]
}

// Put hands a buffer back for reuse. Buffers from a smaller pool are
// dropped rather than resliced past their capacity.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// Size returns the length of the buffers this pool hands out.
func (p *Pool) Size() int { return p.size }
