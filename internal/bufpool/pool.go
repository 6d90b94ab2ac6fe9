// Package bufpool recycles fixed-size datagram buffers.
package bufpool

import (
	"sync"
)

// Pool hands out *[]byte buffers of exactly Size bytes. Pointers are pooled
// so Put does not allocate.
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a pool whose buffers are size bytes long.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer resliced to the full pool size.
func (p *Pool) Get() *[]byte {
	bp := p.pool.Get().(*[]byte)
	if cap(*bp) < p.size {
		b := make([]byte, p.size)
		return &b
	}
	*bp = (*bp)[:p.size]
	return bp
}

// Put returns a buffer. Buffers smaller than the pool size are dropped.
func (p *Pool) Put(bp *[]byte) {
	if bp == nil || cap(*bp) < p.size {
		return
	}
	*bp = (*bp)[:p.size]
	p.pool.Put(bp)
}

// Size returns the length of buffers from this pool.
func (p *Pool) Size() int {
	return p.size
}
