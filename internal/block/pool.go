package block

import (
	"fmt"
	"sync"
)

// Pool is a fixed set of equally sized buffers with a free list and a record
// of which buffers are checked out. Sources build on it to detect recycles of
// buffers they never handed out.
type Pool struct {
	mu          sync.Mutex
	buffers     []*Buffer
	free        []*Buffer
	outstanding map[int]bool
}

// NewPool allocates count buffers of capacity bytes each, all free and reset.
func NewPool(count, capacity int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("pool needs at least one buffer, got %d", count)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid block capacity %d", capacity)
	}

	p := &Pool{
		buffers:     make([]*Buffer, count),
		free:        make([]*Buffer, 0, count),
		outstanding: make(map[int]bool, count),
	}
	for i := range p.buffers {
		buf := &Buffer{Index: i, Data: make([]byte, capacity)}
		buf.Reset()
		p.buffers[i] = buf
		p.free = append(p.free, buf)
	}
	return p, nil
}

// Len returns the number of buffers in the pool.
func (p *Pool) Len() int {
	return len(p.buffers)
}

// Capacity returns the size of each buffer.
func (p *Pool) Capacity() int {
	return p.buffers[0].Capacity()
}

// Buffer returns the buffer at index i.
func (p *Pool) Buffer(i int) *Buffer {
	return p.buffers[i]
}

// Take checks out a free buffer, or returns nil when all are in use.
func (p *Pool) Take() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil
	}
	buf := p.free[0]
	p.free = p.free[1:]
	p.outstanding[buf.Index] = true
	return buf
}

// Put returns a checked-out buffer to the free list.
func (p *Pool) Put(buf *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if buf == nil || buf.Index < 0 || buf.Index >= len(p.buffers) || p.buffers[buf.Index] != buf {
		return ErrNotOutstanding
	}
	if !p.outstanding[buf.Index] {
		return ErrNotOutstanding
	}
	delete(p.outstanding, buf.Index)
	p.free = append(p.free, buf)
	return nil
}

// Free returns the number of buffers available to Take.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Outstanding returns the number of checked-out buffers.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}
