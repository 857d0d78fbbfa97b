package assembler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrzor/frame-relay/internal/block"
	"github.com/mrzor/frame-relay/internal/output"
	"github.com/mrzor/frame-relay/internal/stats"
)

// DefaultPollTimeout bounds a single wait for source data.
const DefaultPollTimeout = time.Second

// State of the working set between blocks.
type State int

const (
	Empty State = iota
	Accumulating
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the immutable session parameters of an Assembler.
type Config struct {
	BlocksPerFrame int
	PollTimeout    time.Duration
	// Latest makes Cycle deliver only the newest frame ready.
	Latest bool
}

// Assembler turns a stream of blocks into complete frames.
// It is not safe for concurrent use.
type Assembler struct {
	src            block.Source
	sink           output.Sink
	counters       *stats.Counters
	blocksPerFrame int
	pollTimeout    time.Duration
	latest         bool
	working        []*block.Block
}

// New creates an assembler reading from src and delivering to sink.
func New(src block.Source, sink output.Sink, counters *stats.Counters, cfg Config) (*Assembler, error) {
	if src == nil {
		return nil, errors.New("assembler needs a block source")
	}
	if sink == nil {
		return nil, errors.New("assembler needs an output sink")
	}
	if cfg.BlocksPerFrame < 1 {
		return nil, fmt.Errorf("blocks per frame must be at least 1, got %d", cfg.BlocksPerFrame)
	}
	if counters == nil {
		counters = stats.New()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	return &Assembler{
		src:            src,
		sink:           sink,
		counters:       counters,
		blocksPerFrame: cfg.BlocksPerFrame,
		pollTimeout:    cfg.PollTimeout,
		latest:         cfg.Latest,
		working:        make([]*block.Block, 0, cfg.BlocksPerFrame),
	}, nil
}

// State reports whether blocks are being held.
func (a *Assembler) State() State {
	if len(a.working) == 0 {
		return Empty
	}
	return Accumulating
}

// Len returns the number of blocks in the working set.
func (a *Assembler) Len() int {
	return len(a.working)
}

// Counters returns the counters the assembler updates.
func (a *Assembler) Counters() *stats.Counters {
	return a.counters
}

// Feed takes ownership of b and advances the state machine by one block.
// It returns a Frame when b completes one; the caller then owns the frame.
// Errors come only from releasing blocks back to the source.
func (a *Assembler) Feed(b *block.Block) (*Frame, error) {
	a.counters.AddCaptured()
	a.working = append(a.working, b)

	// Partial data cannot be spliced: drop everything gathered so far.
	if !b.Complete() {
		a.counters.AddIncomplete()
		return nil, a.flush()
	}

	// A differing tag means the front is left over from a frame that never
	// completed. The new block itself ends the loop at the latest.
	tag := b.Tag()
	for a.working[0].Tag() != tag {
		if err := a.evictFront(); err != nil {
			return nil, err
		}
	}

	if len(a.working) < a.blocksPerFrame {
		return nil, nil
	}

	f := newFrame(a.working)
	a.working = make([]*block.Block, 0, a.blocksPerFrame)
	return f, nil
}

// evictFront removes the oldest block from the working set before releasing it.
func (a *Assembler) evictFront() error {
	b := a.working[0]
	n := copy(a.working, a.working[1:])
	a.working[n] = nil
	a.working = a.working[:n]
	return b.Release()
}

// flush releases the whole working set.
func (a *Assembler) flush() error {
	held := a.working
	a.working = a.working[:0]
	err := releaseAll(held)
	clear(held)
	return err
}

// Next waits for blocks until a frame is complete. If ctx ends first the
// working set is kept and a later call resumes where this one stopped.
func (a *Assembler) Next(ctx context.Context) (*Frame, error) {
	for {
		b, err := block.Await(ctx, a.src, a.pollTimeout)
		if err != nil {
			return nil, err
		}
		f, err := a.Feed(b)
		if err != nil || f != nil {
			return f, err
		}
	}
}

// Latest takes ownership of f and drains every block that is ready without
// waiting. Whenever the drained blocks complete a newer frame, the older one
// is released and counted as dropped. It returns the newest complete frame,
// whose Superseded field counts the frames it replaced. A partial frame left
// at the end of the drain stays in the working set for the next cycle.
func (a *Assembler) Latest(f *Frame) (*Frame, error) {
	for {
		b, err := a.src.TryDequeue()
		if err != nil {
			return nil, errors.Join(err, f.Release())
		}
		if b == nil {
			return f, nil
		}
		next, err := a.Feed(b)
		if err != nil {
			return nil, errors.Join(err, f.Release())
		}
		if next == nil {
			continue
		}
		a.counters.AddDropped()
		next.Superseded = f.Superseded + 1
		if err := f.Release(); err != nil {
			return nil, errors.Join(err, next.Release())
		}
		f = next
	}
}

// Deliver writes the frame to the sink block by block, at offsets growing by
// the block capacity, releasing each block once it is written. It reports
// false when a busy sink refused the frame. Sink failures are returned as
// *output.SinkError; the frame's blocks are released on every path.
func (a *Assembler) Deliver(f *Frame) (bool, error) {
	framed, isFramed := a.sink.(output.FrameSink)
	if isFramed {
		if err := framed.BeginFrame(f.Size); err != nil {
			relErr := f.Release()
			if errors.Is(err, output.ErrBusy) {
				a.counters.AddDropped()
				return false, relErr
			}
			return false, errors.Join(&output.SinkError{Offset: 0, Err: err}, relErr)
		}
	}

	var offset uint64
	for _, b := range f.Blocks {
		if err := a.sink.Deliver(offset, b.Payload()); err != nil {
			return false, errors.Join(&output.SinkError{Offset: offset, Err: err}, f.Release())
		}
		offset += uint64(b.Capacity())
		if err := b.Release(); err != nil {
			return false, errors.Join(err, f.Release())
		}
	}

	if isFramed {
		if err := framed.EndFrame(); err != nil {
			return false, &output.SinkError{Offset: offset, Err: err}
		}
	}

	a.counters.AddSent()
	return true, nil
}

// Cycle assembles and delivers one frame, the newest one ready when the
// assembler runs in Latest mode.
func (a *Assembler) Cycle(ctx context.Context) (*Frame, bool, error) {
	f, err := a.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	if a.latest {
		if f, err = a.Latest(f); err != nil {
			return nil, false, err
		}
	}
	delivered, err := a.Deliver(f)
	return f, delivered, err
}

// Close releases every block still held in the working set.
func (a *Assembler) Close() error {
	return a.flush()
}
