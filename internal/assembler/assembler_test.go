package assembler

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/mrzor/frame-relay/internal/block"
	"github.com/mrzor/frame-relay/internal/output"
	"github.com/mrzor/frame-relay/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errScriptDone    = errors.New("script exhausted")
	errPoolExhausted = errors.New("pool exhausted: blocks leaked")
)

type step struct {
	tag       uint16
	truncated bool
}

func ok(tag uint16) step    { return step{tag: tag} }
func trunc(tag uint16) step { return step{tag: tag, truncated: true} }

// scriptSource hands out blocks following a script and counts releases.
// Payload bytes carry the low byte of the tag so sinks can check grouping.
type scriptSource struct {
	pool     *block.Pool
	script   []step
	pos      int
	dequeued int
	released int

	// waitForMore parks Wait on ctx once the script is exhausted.
	waitForMore bool
	// dequeueErr is returned by TryDequeue once the script is exhausted.
	dequeueErr error
}

func newScriptSource(t *testing.T, capacity, poolSize int, script ...step) *scriptSource {
	t.Helper()
	pool, err := block.NewPool(poolSize, capacity)
	require.NoError(t, err)
	return &scriptSource{pool: pool, script: script}
}

func (s *scriptSource) TryDequeue() (*block.Block, error) {
	if s.pos >= len(s.script) {
		return nil, s.dequeueErr
	}
	buf := s.pool.Take()
	if buf == nil {
		return nil, nil
	}
	sp := s.script[s.pos]
	s.pos++
	s.dequeued++

	buf.Tag = sp.tag
	if sp.truncated {
		buf.BytesUsed = buf.Capacity() / 2
	}
	for i := range buf.Data {
		buf.Data[i] = byte(sp.tag)
	}
	return block.New(buf, s), nil
}

func (s *scriptSource) Wait(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.pos >= len(s.script) {
		if s.waitForMore {
			<-ctx.Done()
			return ctx.Err()
		}
		return errScriptDone
	}
	return errPoolExhausted
}

func (s *scriptSource) Recycle(buf *block.Buffer) error {
	if buf.BytesUsed != buf.Capacity() {
		return errors.New("buffer recycled without reset")
	}
	s.released++
	return s.pool.Put(buf)
}

type write struct {
	offset uint64
	data   []byte
}

// recordingSink keeps every write, grouped by frame.
type recordingSink struct {
	frames  [][]write
	writes  []write
	busy    bool
	failAt  int
	failErr error
}

func (r *recordingSink) BeginFrame(_ int) error {
	if r.busy {
		return output.ErrBusy
	}
	r.frames = append(r.frames, nil)
	return nil
}

func (r *recordingSink) Deliver(offset uint64, p []byte) error {
	if r.failErr != nil && len(r.writes) == r.failAt {
		return r.failErr
	}
	w := write{offset: offset, data: append([]byte(nil), p...)}
	r.writes = append(r.writes, w)
	if n := len(r.frames); n > 0 {
		r.frames[n-1] = append(r.frames[n-1], w)
	}
	return nil
}

func (r *recordingSink) EndFrame() error { return nil }

// plainSink implements only Sink.
type plainSink struct {
	offsets []uint64
}

func (p *plainSink) Deliver(offset uint64, _ []byte) error {
	p.offsets = append(p.offsets, offset)
	return nil
}

func newAssembler(t *testing.T, src block.Source, sink output.Sink, blocksPerFrame int) *Assembler {
	t.Helper()
	a, err := New(src, sink, stats.New(), Config{BlocksPerFrame: blocksPerFrame, PollTimeout: time.Millisecond})
	require.NoError(t, err)
	return a
}

func feedAll(t *testing.T, a *Assembler, src *scriptSource) []*Frame {
	t.Helper()
	var frames []*Frame
	for {
		b, err := src.TryDequeue()
		require.NoError(t, err)
		if b == nil {
			return frames
		}
		f, err := a.Feed(b)
		require.NoError(t, err)
		if f != nil {
			frames = append(frames, f)
		}
	}
}

func TestAssembler_TruncationFlushesWorkingSet(t *testing.T) {
	src := newScriptSource(t, 16, 4, ok(1), ok(1), trunc(1))
	a := newAssembler(t, src, &recordingSink{}, 3)

	frames := feedAll(t, a, src)

	assert.Empty(t, frames)
	assert.Equal(t, 3, src.released)
	assert.Equal(t, 0, src.pool.Outstanding())
	assert.Equal(t, Empty, a.State())
	assert.Equal(t, stats.Snapshot{Captured: 3, Incomplete: 1}, a.Counters().Snapshot())
}

func TestAssembler_TagMismatchEvictsFront(t *testing.T) {
	src := newScriptSource(t, 16, 4, ok(1), ok(2), ok(2))
	sink := &recordingSink{}
	a := newAssembler(t, src, sink, 2)

	frames := feedAll(t, a, src)
	require.Len(t, frames, 1)
	assert.Equal(t, 1, src.released, "stale tag-1 block released on mismatch")
	assert.Equal(t, uint16(2), frames[0].Tag)
	assert.Len(t, frames[0].Blocks, 2)

	delivered, err := a.Deliver(frames[0])
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, uint64(1), a.Counters().Snapshot().Sent)
	assert.Equal(t, 3, src.released)
	assert.Equal(t, 0, src.pool.Outstanding())
}

func TestAssembler_EvictionKeepsMatchingTail(t *testing.T) {
	// Tags 1,1 are stale once tag 2 shows up; 2 starts the next frame.
	src := newScriptSource(t, 8, 4, ok(1), ok(1), ok(2), ok(2), ok(2))
	a := newAssembler(t, src, &recordingSink{}, 3)

	frames := feedAll(t, a, src)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(2), frames[0].Tag)
	assert.Equal(t, 2, src.released)
	require.NoError(t, frames[0].Release())
	assert.Equal(t, 0, src.pool.Outstanding())
}

func TestAssembler_FullCycleSingleBlockFrames(t *testing.T) {
	src := newScriptSource(t, 32, 2, ok(1), ok(2), ok(3), ok(4), ok(5))
	sink := &recordingSink{}
	a := newAssembler(t, src, sink, 1)

	for i := 0; i < 5; i++ {
		f, delivered, err := a.Cycle(context.Background())
		require.NoError(t, err)
		require.True(t, delivered)
		assert.Equal(t, uint16(i+1), f.Tag)
	}

	assert.Len(t, sink.frames, 5)
	assert.Equal(t, stats.Snapshot{Captured: 5, Sent: 5}, a.Counters().Snapshot())
	assert.Equal(t, src.dequeued, src.released)
}

func TestAssembler_MultiBlockOffsets(t *testing.T) {
	src := newScriptSource(t, 1024, 4, ok(9), ok(9), ok(9))
	sink := &plainSink{}
	a := newAssembler(t, src, sink, 3)

	f, delivered, err := a.Cycle(context.Background())
	require.NoError(t, err)
	require.True(t, delivered)
	assert.Equal(t, 3072, f.Size)
	assert.Equal(t, []uint64{0, 1024, 2048}, sink.offsets)
	assert.Equal(t, 3, src.released)
}

func TestAssembler_BusySinkDropsFrame(t *testing.T) {
	src := newScriptSource(t, 16, 4, ok(1), ok(1))
	sink := &recordingSink{busy: true}
	a := newAssembler(t, src, sink, 2)

	_, delivered, err := a.Cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, sink.writes)
	assert.Equal(t, stats.Snapshot{Captured: 2, Dropped: 1}, a.Counters().Snapshot())
	assert.Equal(t, 0, src.pool.Outstanding())
}

func TestAssembler_LatestKeepsNewestFrame(t *testing.T) {
	src := newScriptSource(t, 16, 8, ok(1), ok(1), ok(2), ok(2), ok(3), ok(3), ok(4))
	sink := &recordingSink{}
	a := newAssembler(t, src, sink, 2)

	f, err := a.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint16(1), f.Tag)

	f, err = a.Latest(f)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, uint16(3), f.Tag)
	assert.Equal(t, 2, f.Superseded)
	assert.Equal(t, 4, src.released, "frames 1 and 2 go back to the source")
	assert.Equal(t, 1, a.Len(), "partial frame 4 waits for the next cycle")

	delivered, err := a.Deliver(f)
	require.NoError(t, err)
	require.True(t, delivered)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, byte(3), sink.frames[0][0].data[0])
	assert.Equal(t, stats.Snapshot{Captured: 7, Sent: 1, Dropped: 2}, a.Counters().Snapshot())

	require.NoError(t, a.Close())
	assert.Equal(t, src.dequeued, src.released)
}

func TestAssembler_LatestIgnoresTruncatedBlocks(t *testing.T) {
	src := newScriptSource(t, 16, 4, ok(7), ok(8), trunc(8))
	a := newAssembler(t, src, &recordingSink{}, 1)

	f, err := a.Next(context.Background())
	require.NoError(t, err)

	// Tag 8 completes a frame and supersedes 7; the truncated block does not.
	f, err = a.Latest(f)
	require.NoError(t, err)
	assert.Equal(t, uint16(8), f.Tag)
	assert.Equal(t, 1, f.Superseded)

	next, err := a.Latest(f)
	require.NoError(t, err)
	assert.Same(t, f, next, "nothing newer is ready")
	assert.Equal(t, 1, next.Superseded)

	require.NoError(t, f.Release())
	assert.Equal(t, stats.Snapshot{Captured: 3, Dropped: 1, Incomplete: 1}, a.Counters().Snapshot())
	assert.Equal(t, 0, src.pool.Outstanding())
}

func TestAssembler_LatestSourceErrorReleasesFrame(t *testing.T) {
	boom := errors.New("channel reset")
	src := newScriptSource(t, 16, 4, ok(1))
	src.dequeueErr = boom
	a := newAssembler(t, src, &recordingSink{}, 1)

	f, err := a.Next(context.Background())
	require.NoError(t, err)

	f, err = a.Latest(f)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, f)
	assert.Equal(t, 1, src.released)
	assert.Equal(t, 0, src.pool.Outstanding())
}

func TestAssembler_CycleInLatestMode(t *testing.T) {
	src := newScriptSource(t, 16, 4, ok(1), ok(2), ok(3))
	sink := &recordingSink{}
	a, err := New(src, sink, stats.New(), Config{BlocksPerFrame: 1, PollTimeout: time.Millisecond, Latest: true})
	require.NoError(t, err)

	f, delivered, err := a.Cycle(context.Background())
	require.NoError(t, err)
	require.True(t, delivered)
	assert.Equal(t, uint16(3), f.Tag)
	assert.Equal(t, 2, f.Superseded)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, stats.Snapshot{Captured: 3, Sent: 1, Dropped: 2}, a.Counters().Snapshot())
	assert.Equal(t, src.dequeued, src.released)
}

func TestAssembler_SinkFailureReleasesFrame(t *testing.T) {
	boom := errors.New("framebuffer gone")
	src := newScriptSource(t, 16, 4, ok(3), ok(3), ok(3))
	sink := &recordingSink{failAt: 1, failErr: boom}
	a := newAssembler(t, src, sink, 3)

	_, _, err := a.Cycle(context.Background())
	require.ErrorIs(t, err, boom)

	var sinkErr *output.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, uint64(16), sinkErr.Offset)
	assert.Equal(t, 3, src.released)
	assert.Equal(t, uint64(0), a.Counters().Snapshot().Sent)
}

func TestAssembler_SourceErrorIsFatal(t *testing.T) {
	src := newScriptSource(t, 16, 4, ok(1))
	a := newAssembler(t, src, &recordingSink{}, 2)

	_, err := a.Next(context.Background())
	require.ErrorIs(t, err, errScriptDone)
	assert.Equal(t, Accumulating, a.State())

	require.NoError(t, a.Close())
	assert.Equal(t, Empty, a.State())
	assert.Equal(t, 1, src.released)
}

func TestAssembler_CancelKeepsWorkingSet(t *testing.T) {
	src := newScriptSource(t, 16, 4, ok(5), ok(5))
	a := newAssembler(t, src, &recordingSink{}, 2)

	// Only the first block is available.
	src.script = src.script[:1]
	src.waitForMore = true
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, uint64(1), a.Counters().Snapshot().Captured)

	// The rest arrives; the cycle resumes.
	src.script = append(src.script, ok(5))
	f, err := a.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, uint16(5), f.Tag)
	require.NoError(t, f.Release())
	assert.Equal(t, src.dequeued, src.released)
}

func TestAssembler_ReleaseExactlyOnceProperty(t *testing.T) {
	const blocksPerFrame = 3
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		script := make([]step, 200)
		tag := uint16(0)
		for i := range script {
			if rng.Intn(4) == 0 {
				tag = (tag + 1) & 0xff
			}
			script[i] = step{tag: tag, truncated: rng.Intn(10) == 0}
		}

		src := newScriptSource(t, 8, blocksPerFrame+1, script...)
		sink := &recordingSink{}
		a := newAssembler(t, src, sink, blocksPerFrame)

		for {
			_, _, err := a.Cycle(context.Background())
			if errors.Is(err, errScriptDone) {
				break
			}
			require.NoError(t, err)
		}
		require.NoError(t, a.Close())

		assert.Equal(t, src.dequeued, src.released, "round %d", round)
		assert.Equal(t, 0, src.pool.Outstanding(), "round %d", round)

		snap := a.Counters().Snapshot()
		assert.Equal(t, uint64(src.dequeued), snap.Captured)
		assert.Equal(t, uint64(len(sink.frames)), snap.Sent)

		for _, frame := range sink.frames {
			require.Len(t, frame, blocksPerFrame)
			first := frame[0].data[0]
			for i, w := range frame {
				assert.Equal(t, uint64(i*8), w.offset)
				assert.Len(t, w.data, 8, "only complete blocks are delivered")
				assert.Equal(t, bytes.Repeat([]byte{first}, 8), w.data, "mixed tags in one frame")
			}
		}
	}
}

func TestNew_Validation(t *testing.T) {
	src := newScriptSource(t, 8, 1)
	_, err := New(src, &plainSink{}, nil, Config{BlocksPerFrame: 0})
	require.Error(t, err)
	_, err = New(nil, &plainSink{}, nil, Config{BlocksPerFrame: 1})
	require.Error(t, err)
	_, err = New(src, nil, nil, Config{BlocksPerFrame: 1})
	require.Error(t, err)

	a, err := New(src, &plainSink{}, nil, Config{BlocksPerFrame: 1})
	require.NoError(t, err)
	assert.NotNil(t, a.Counters())
	assert.Equal(t, DefaultPollTimeout, a.pollTimeout)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "accumulating", Accumulating.String())
	assert.Equal(t, "State(7)", State(7).String())
}
