package output

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is backpressure: the sink cannot take another frame right now.
	ErrBusy = errors.New("sink busy")

	// ErrOutOfOrder is returned by sequential sinks for a non-contiguous offset.
	ErrOutOfOrder = errors.New("non-sequential write")

	// ErrOutOfRange is returned when a write ends beyond the destination.
	ErrOutOfRange = errors.New("write beyond end of destination")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sink closed")
)

// Sink receives the payload of an assembled frame one block at a time.
type Sink interface {
	Deliver(offset uint64, p []byte) error
}

// FrameSink is a Sink that wants to know where frames start and end.
type FrameSink interface {
	Sink

	// BeginFrame announces a frame of size bytes. ErrBusy means the frame
	// should be dropped.
	BeginFrame(size int) error

	// EndFrame is called after the last block of the frame was delivered.
	EndFrame() error
}

// SinkError is a fatal delivery failure.
type SinkError struct {
	Offset uint64
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("delivering frame data at offset %d: %v", e.Offset, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
