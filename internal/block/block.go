package block

import (
	"errors"
	"fmt"
	"time"
)

// ErrReleased is returned when a block handle is released twice, and is the
// panic value when a released handle is read.
var ErrReleased = errors.New("block already released")

// ErrNotOutstanding is returned by a Recycler when it is handed a buffer it
// did not give out.
var ErrNotOutstanding = errors.New("buffer is not checked out")

// Buffer is the fixed-capacity storage behind a block. Buffers are owned by a
// Source for the whole session and only lent out through Block handles.
type Buffer struct {
	Index     int       // position in the source's pool
	Data      []byte    // len(Data) is the block capacity
	BytesUsed int       // bytes filled by the last transfer
	Tag       uint16    // frame tag assigned by the producer
	Timestamp time.Time // fill time, zero if the producer does not report one
}

// Capacity returns the fixed size of the buffer.
func (b *Buffer) Capacity() int {
	return len(b.Data)
}

// Reset restores BytesUsed to the full capacity. The producer always refills
// from the declared capacity, so every buffer goes back in this state.
func (b *Buffer) Reset() {
	b.BytesUsed = len(b.Data)
}

// Recycler takes buffers back from released handles.
type Recycler interface {
	Recycle(buf *Buffer) error
}

// Block is a borrowed handle to a source buffer. It is valid from the dequeue
// that created it until Release; after that every accessor panics.
type Block struct {
	buf   *Buffer
	owner Recycler
}

// New wraps buf in a handle that returns it to owner on Release.
// Only Source implementations create handles.
func New(buf *Buffer, owner Recycler) *Block {
	return &Block{buf: buf, owner: owner}
}

func (b *Block) buffer() *Buffer {
	if b.buf == nil {
		panic(ErrReleased)
	}
	return b.buf
}

// Index returns the pool index of the underlying buffer.
func (b *Block) Index() int { return b.buffer().Index }

// Capacity returns the block size in bytes.
func (b *Block) Capacity() int { return b.buffer().Capacity() }

// BytesUsed returns the number of bytes the last transfer filled.
func (b *Block) BytesUsed() int { return b.buffer().BytesUsed }

// Tag returns the frame tag.
func (b *Block) Tag() uint16 { return b.buffer().Tag }

// Timestamp returns the producer fill time, if any.
func (b *Block) Timestamp() time.Time { return b.buffer().Timestamp }

// Complete reports whether the transfer filled the whole block.
func (b *Block) Complete() bool {
	buf := b.buffer()
	return buf.BytesUsed == len(buf.Data)
}

// Payload returns the full capacity span of the block.
func (b *Block) Payload() []byte { return b.buffer().Data }

// Bytes returns the meaningful prefix of the payload.
func (b *Block) Bytes() []byte {
	buf := b.buffer()
	n := buf.BytesUsed
	if n < 0 {
		n = 0
	}
	if n > len(buf.Data) {
		n = len(buf.Data)
	}
	return buf.Data[:n]
}

// Released reports whether Release has been called on this handle.
func (b *Block) Released() bool {
	return b.buf == nil
}

// Release resets the buffer to full capacity and returns it to its owner.
// The handle is unusable afterwards; a second call returns ErrReleased.
func (b *Block) Release() error {
	if b.buf == nil {
		return ErrReleased
	}
	buf := b.buf
	b.buf = nil
	buf.Reset()
	if err := b.owner.Recycle(buf); err != nil {
		return fmt.Errorf("releasing buffer %d: %w", buf.Index, err)
	}
	return nil
}

func (b *Block) String() string {
	if b.buf == nil {
		return "block(released)"
	}
	return fmt.Sprintf("block(%d tag=%d %d/%d)", b.buf.Index, b.buf.Tag, b.buf.BytesUsed, len(b.buf.Data))
}
