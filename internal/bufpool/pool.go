// Package bufpool provides a fixed-size byte-block pool shared by the
// receive loop and the frame reassembly buffers it feeds.
//
// Every block handed out is exactly BlockSize bytes; FrameReader grows its
// backing store by pulling more blocks from the same pool rather than
// reallocating, so a single connection's worth of in-flight messages never
// touches the allocator after warm-up.
package bufpool

import "sync"

// Pool rents and returns fixed-size byte blocks.
type Pool struct {
	blockSize int
	pool      sync.Pool
}

// New creates a Pool that hands out blocks of blockSize bytes.
func New(blockSize int) *Pool {
	if blockSize <= 0 {
		blockSize = 16 * 1024
	}
	p := &Pool{blockSize: blockSize}
	p.pool.New = func() any {
		return make([]byte, p.blockSize)
	}
	return p
}

// BlockSize returns the fixed size of blocks this pool hands out.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Get rents a block. The returned slice has length BlockSize and must be
// returned with Put once the caller is done with it.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a block to the pool. Blocks of the wrong size are dropped
// rather than pooled, since that indicates caller misuse rather than
// something safe to recycle.
func (p *Pool) Put(b []byte) {
	if cap(b) != p.blockSize {
		return
	}
	p.pool.Put(b[:p.blockSize])
}
