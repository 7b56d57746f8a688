// Package handlers provides the HTTP API over the overlay's view of a page.
package handlers

import (
	"bytes"
	"sync"
)

// bufferPool recycles encoding buffers. Buffers that grew past max are left
// to the collector so one large view does not pin memory.
type bufferPool struct {
	pool sync.Pool
	max  int
}

func newBufferPool(initial, max int) *bufferPool {
	p := &bufferPool{max: max}
	p.pool.New = func() any {
		return bytes.NewBuffer(make([]byte, 0, initial))
	}
	return p
}

// Get returns an empty buffer.
func (p *bufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets buf and returns it to the pool.
func (p *bufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > p.max {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// Component records carry create arguments and call logs, hence the 8KB start.
var responseBuffers = newBufferPool(8<<10, 1<<20)
