package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/oxtoacart/bpool"
)

// QueueSink stages whole frames and writes them to w from a background
// goroutine, so a slow reader costs frames instead of stalling the capture.
type QueueSink struct {
	w         io.Writer
	frameSize int
	pool      *bpool.BytePool
	slots     chan struct{}
	queue     chan []byte
	done      chan struct{}

	cur    []byte
	closed bool

	mu  sync.Mutex
	err error
}

// NewQueue creates a queued sink for frames of at most frameSize bytes with
// depth frames in flight.
func NewQueue(w io.Writer, frameSize, depth int) (*QueueSink, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size %d", frameSize)
	}
	if depth <= 0 {
		return nil, fmt.Errorf("queue depth must be positive, got %d", depth)
	}

	q := &QueueSink{
		w:         w,
		frameSize: frameSize,
		pool:      bpool.NewBytePool(depth, frameSize),
		slots:     make(chan struct{}, depth),
		queue:     make(chan []byte, depth),
		done:      make(chan struct{}),
	}
	go q.writeLoop()
	return q, nil
}

func (q *QueueSink) writeLoop() {
	defer close(q.done)
	for frame := range q.queue {
		if q.writeErr() == nil {
			if _, err := q.w.Write(frame); err != nil {
				q.setErr(err)
			}
		}
		q.pool.Put(frame)
		<-q.slots
	}
}

func (q *QueueSink) writeErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *QueueSink) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = fmt.Errorf("queued write: %w", err)
	}
}

// BeginFrame claims a staging slot or returns ErrBusy when none is free.
func (q *QueueSink) BeginFrame(size int) error {
	if q.closed {
		return ErrClosed
	}
	if err := q.writeErr(); err != nil {
		return err
	}
	if size <= 0 || size > q.frameSize {
		return fmt.Errorf("%w: frame of %d bytes, staging holds %d", ErrOutOfRange, size, q.frameSize)
	}
	select {
	case q.slots <- struct{}{}:
	default:
		return ErrBusy
	}
	q.cur = q.pool.Get()[:size]
	return nil
}

// Deliver copies p into the staged frame.
func (q *QueueSink) Deliver(offset uint64, p []byte) error {
	if q.cur == nil {
		return fmt.Errorf("deliver at offset %d outside of a frame", offset)
	}
	if offset > uint64(len(q.cur)) || uint64(len(p)) > uint64(len(q.cur))-offset {
		return fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, len(p), len(q.cur))
	}
	copy(q.cur[offset:], p)
	return nil
}

// EndFrame hands the staged frame to the writer.
func (q *QueueSink) EndFrame() error {
	if q.cur == nil {
		return nil
	}
	q.queue <- q.cur
	q.cur = nil
	return q.writeErr()
}

// Close discards a partially staged frame, waits for queued frames to be
// written and returns the first write error.
func (q *QueueSink) Close() error {
	if q.closed {
		return nil
	}
	q.closed = true
	if q.cur != nil {
		q.pool.Put(q.cur)
		q.cur = nil
		<-q.slots
	}
	close(q.queue)
	<-q.done
	return q.writeErr()
}
