// Package ringsource is a block.Source fed by block records a kernel-side
// producer writes to a BPF ring buffer.
package ringsource

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrzor/frame-relay/internal/block"
	"github.com/mrzor/frame-relay/internal/bpf"
	"github.com/mrzor/frame-relay/internal/timesync"

	"github.com/cilium/ebpf/ringbuf"
)

// DefaultNumBlocks is the pool size when Config.NumBlocks is zero.
const DefaultNumBlocks = 8

// A deadline in the past turns ReadInto into a poll.
var pastDeadline = time.Unix(0, 1)

// RecordReader is the subset of *ringbuf.Reader the source uses.
type RecordReader interface {
	ReadInto(rec *ringbuf.Record) error
	SetDeadline(t time.Time)
	Close() error
}

// Config controls the block pool and read mode.
type Config struct {
	BlockSize int
	NumBlocks int
	// NonBlocking makes TryDequeue poll instead of parking on the ring.
	NonBlocking bool
}

// Source copies ring buffer records into a fixed pool of block buffers.
type Source struct {
	reader RecordReader
	pool   *block.Pool
	conv   *timesync.Converter
	cfg    Config

	// mu serializes the consumer side. Close does not take it so it can
	// interrupt a blocked read.
	mu      sync.Mutex
	rec     ringbuf.Record
	pending bool
	skipped uint64
	closed  atomic.Bool
}

// New creates a source reading from reader. Timestamps are converted with
// conv; a nil conv leaves block timestamps zero.
func New(reader RecordReader, cfg Config, conv *timesync.Converter) (*Source, error) {
	if cfg.NumBlocks == 0 {
		cfg.NumBlocks = DefaultNumBlocks
	}
	pool, err := block.NewPool(cfg.NumBlocks, cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("creating block pool: %w", err)
	}
	return &Source{reader: reader, pool: pool, conv: conv, cfg: cfg}, nil
}

// TryDequeue implements block.Source. It returns nil when no record is ready
// or every buffer is lent out.
func (s *Source) TryDequeue() (*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, &block.SourceError{Op: "dequeue", Err: ringbuf.ErrClosed}
	}

	buf := s.pool.Take()
	if buf == nil {
		return nil, nil
	}

	for {
		if !s.pending {
			ok, err := s.read(s.readDeadline())
			if err != nil || !ok {
				_ = s.pool.Put(buf) //nolint:errcheck // buf was just taken
				return nil, err
			}
		}
		s.pending = false

		hdr, payload, err := bpf.ParseRecord(s.rec.RawSample)
		if err != nil {
			s.skipped++
			log.Printf("skipping ring buffer record: %v", err)
			continue
		}
		s.fill(buf, hdr, payload)
		return block.New(buf, s), nil
	}
}

func (s *Source) readDeadline() time.Time {
	if s.cfg.NonBlocking {
		return pastDeadline
	}
	return time.Time{}
}

// read pulls one record into s.rec. It reports false without an error when
// the deadline passed first.
func (s *Source) read(deadline time.Time) (bool, error) {
	s.reader.SetDeadline(deadline)
	if err := s.reader.ReadInto(&s.rec); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, &block.SourceError{Op: "read", Err: err}
	}
	return true, nil
}

func (s *Source) fill(buf *block.Buffer, hdr bpf.BlockHeader, payload []byte) {
	n := copy(buf.Data, payload)
	used := int(hdr.BytesUsed)
	switch {
	case used > len(buf.Data) || len(payload) > len(buf.Data):
		// An overrun never reads as complete; Bytes clamps to capacity.
		used = max(used, len(payload))
	case used > n:
		// Bytes the record does not carry were never transferred.
		used = n
	}
	buf.BytesUsed = used
	buf.Tag = hdr.Tag
	buf.Timestamp = time.Time{}
	if s.conv != nil {
		buf.Timestamp = s.conv.MonotonicToWallClock(hdr.Timestamp)
	}
}

// Wait implements block.Source. A record that arrives within timeout is kept
// for the next TryDequeue.
func (s *Source) Wait(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil
	}
	if s.closed.Load() {
		s.mu.Unlock()
		return &block.SourceError{Op: "wait", Err: ringbuf.ErrClosed}
	}
	if s.pool.Free() == 0 {
		// Only a release can make progress; nothing to read into.
		s.mu.Unlock()
		return sleep(ctx, timeout)
	}
	ok, err := s.read(time.Now().Add(timeout))
	s.pending = ok
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recycle implements block.Recycler.
func (s *Source) Recycle(buf *block.Buffer) error {
	return s.pool.Put(buf)
}

// Outstanding returns the number of buffers currently lent out.
func (s *Source) Outstanding() int {
	return s.pool.Outstanding()
}

// Skipped returns the number of malformed records dropped.
func (s *Source) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Close closes the reader. Lent blocks can still be released.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.reader.Close()
}
