// Package fakecam is an in-process block source that stands in for a camera
// DMA channel.
//
// It renders a small set of reference images up front: a gradient with a
// 32x32 white marker whose horizontal position encodes the image index. Each
// produced frame is one reference image split into equally sized blocks that
// share a frame tag. Tags count frames and wrap within TagBits bits.
package fakecam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mrzor/frame-relay/internal/block"
)

const (
	// DefaultNumBlocks is the size of the buffer pool.
	DefaultNumBlocks = 8
	// DefaultTagBits bounds the tag counter.
	DefaultTagBits = 8

	markerSize = 32
)

// ErrClosed is returned by a closed camera.
var ErrClosed = errors.New("camera closed")

// Config describes the synthetic video stream.
type Config struct {
	Width          int
	Height         int
	BytesPerPixel  int
	BlocksPerFrame int
	NumBlocks      int
	TagBits        int
	// TruncateEvery marks every Nth produced block as a short transfer.
	TruncateEvery int
	// FrameInterval paces Run; zero produces as fast as buffers come back.
	FrameInterval time.Duration
}

// FrameSize returns the size of one frame in bytes.
func (c Config) FrameSize() int {
	return c.Width * c.Height * c.BytesPerPixel
}

// Camera produces blocks into a fixed pool and lends them to one consumer.
type Camera struct {
	cfg      Config
	capacity int
	tagMask  uint16
	pool     *block.Pool
	refs     [][]byte

	mu       sync.Mutex
	ready    []*block.Buffer
	lent     map[int]bool
	produced uint64
	closed   bool

	readySig chan struct{}
	freeSig  chan struct{}
}

// New validates cfg and renders the reference images.
func New(cfg Config) (*Camera, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.BytesPerPixel <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%dx%d", cfg.Width, cfg.Height, cfg.BytesPerPixel)
	}
	if cfg.BlocksPerFrame < 1 {
		return nil, fmt.Errorf("blocks per frame must be at least 1, got %d", cfg.BlocksPerFrame)
	}
	if cfg.FrameSize()%cfg.BlocksPerFrame != 0 {
		return nil, fmt.Errorf("frame size %d does not split into %d equal blocks", cfg.FrameSize(), cfg.BlocksPerFrame)
	}
	if cfg.NumBlocks == 0 {
		cfg.NumBlocks = DefaultNumBlocks
	}
	if cfg.TagBits == 0 {
		cfg.TagBits = DefaultTagBits
	}
	if cfg.TagBits < 1 || cfg.TagBits > 16 {
		return nil, fmt.Errorf("tag bits must be within 1..16, got %d", cfg.TagBits)
	}

	capacity := cfg.FrameSize() / cfg.BlocksPerFrame
	pool, err := block.NewPool(cfg.NumBlocks, capacity)
	if err != nil {
		return nil, err
	}

	c := &Camera{
		cfg:      cfg,
		capacity: capacity,
		tagMask:  uint16(1<<cfg.TagBits - 1),
		pool:     pool,
		lent:     make(map[int]bool),
		readySig: make(chan struct{}, 1),
		freeSig:  make(chan struct{}, 1),
	}
	c.refs = make([][]byte, cfg.NumBlocks)
	for i := range c.refs {
		c.refs[i] = referenceImage(cfg, i)
	}
	return c, nil
}

// referenceImage renders image i: a gradient plus a white marker at x=i*32.
func referenceImage(cfg Config, i int) []byte {
	bpp := cfg.BytesPerPixel
	img := make([]byte, cfg.FrameSize())
	for h := 0; h < cfg.Height; h++ {
		for w := 0; w < cfg.Width; w++ {
			px := img[(h*cfg.Width+w)*bpp:]
			px[0] = byte(h)
			if bpp > 1 {
				px[1] = byte((h + w) >> 4)
			}
			if bpp > 2 {
				px[2] = byte(w)
			}
		}
	}
	for h := 0; h < markerSize && h < cfg.Height; h++ {
		for w := i * markerSize; w < (i+1)*markerSize && w < cfg.Width; w++ {
			px := img[(h*cfg.Width+w)*bpp:]
			for k := 0; k < bpp && k < 3; k++ {
				px[k] = 0xff
			}
		}
	}
	return img
}

// BlockCapacity returns the size of each block.
func (c *Camera) BlockCapacity() int {
	return c.capacity
}

// Reference returns reference image i.
func (c *Camera) Reference(i int) []byte {
	return c.refs[i%len(c.refs)]
}

// Produced returns the number of blocks filled so far.
func (c *Camera) Produced() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.produced
}

// Lent returns the number of blocks currently held by the consumer.
func (c *Camera) Lent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lent)
}

// Idle reports whether every buffer is back in the free pool.
func (c *Camera) Idle() bool {
	return c.pool.Free() == c.pool.Len()
}

// Produce fills up to n blocks from the free pool and returns how many it
// filled.
func (c *Camera) Produce(n int) int {
	if c.isClosed() {
		return 0
	}
	filled := 0
	for filled < n {
		buf := c.pool.Take()
		if buf == nil {
			break
		}
		c.fill(buf)
		filled++
	}
	return filled
}

// fill renders the next block into buf and queues it for the consumer.
func (c *Camera) fill(buf *block.Buffer) {
	c.mu.Lock()
	seq := c.produced
	c.produced++
	c.mu.Unlock()

	frame := seq / uint64(c.cfg.BlocksPerFrame)
	part := int(seq % uint64(c.cfg.BlocksPerFrame))
	ref := c.refs[frame%uint64(len(c.refs))]

	copy(buf.Data, ref[part*c.capacity:(part+1)*c.capacity])
	buf.Tag = uint16(frame) & c.tagMask
	buf.BytesUsed = c.capacity
	if c.cfg.TruncateEvery > 0 && (seq+1)%uint64(c.cfg.TruncateEvery) == 0 {
		buf.BytesUsed = c.capacity / 2
	}
	buf.Timestamp = time.Now()

	c.mu.Lock()
	c.ready = append(c.ready, buf)
	c.mu.Unlock()
	signal(c.readySig)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run fills blocks whenever buffers are free until ctx is done or the camera
// is closed. With a FrameInterval it starts at most one frame per interval.
func (c *Camera) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if c.cfg.FrameInterval > 0 {
		ticker := time.NewTicker(c.cfg.FrameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for part := 0; ; part = (part + 1) % c.cfg.BlocksPerFrame {
		if part == 0 && tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}

		var buf *block.Buffer
		for buf == nil {
			if c.isClosed() {
				return ErrClosed
			}
			if buf = c.pool.Take(); buf != nil {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.freeSig:
			}
		}
		c.fill(buf)
	}
}

func (c *Camera) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TryDequeue lends the oldest filled block, or returns nil when none is ready.
func (c *Camera) TryDequeue() (*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &block.SourceError{Op: "dequeue", Err: ErrClosed}
	}
	if len(c.ready) == 0 {
		return nil, nil
	}
	buf := c.ready[0]
	c.ready[0] = nil
	c.ready = c.ready[1:]
	c.lent[buf.Index] = true
	return block.New(buf, c), nil
}

// Wait returns once a block is ready, the timeout passes or ctx is done.
func (c *Camera) Wait(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	pending := len(c.ready)
	c.mu.Unlock()
	if pending > 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.readySig:
		return nil
	case <-timer.C:
		return nil
	}
}

// Recycle takes back a buffer released by the consumer.
func (c *Camera) Recycle(buf *block.Buffer) error {
	c.mu.Lock()
	if !c.lent[buf.Index] {
		c.mu.Unlock()
		return block.ErrNotOutstanding
	}
	delete(c.lent, buf.Index)
	c.mu.Unlock()

	if err := c.pool.Put(buf); err != nil {
		return err
	}
	signal(c.freeSig)
	return nil
}

// Close stops production and makes further dequeues fail. Blocks already
// lent can still be released.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, buf := range c.ready {
		_ = c.pool.Put(buf) //nolint:errcheck // Queued buffers are always outstanding in the pool
	}
	c.ready = nil
	signal(c.freeSig)
	return nil
}
