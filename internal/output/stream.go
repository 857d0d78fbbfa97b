package output

import (
	"fmt"
	"io"
)

type flusher interface {
	Flush() error
}

// StreamSink writes frame data to an io.Writer in offset order.
type StreamSink struct {
	w    io.Writer
	next uint64
}

// NewStream creates a sequential sink on w. If w has a Flush method it is
// called at the end of every frame.
func NewStream(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

// BeginFrame starts a new frame at offset zero.
func (s *StreamSink) BeginFrame(_ int) error {
	s.next = 0
	return nil
}

// Deliver writes p. The offset must be zero or continue the previous write.
func (s *StreamSink) Deliver(offset uint64, p []byte) error {
	if offset != 0 && offset != s.next {
		return fmt.Errorf("%w: got offset %d, expected %d", ErrOutOfOrder, offset, s.next)
	}
	n, err := s.w.Write(p)
	s.next = offset + uint64(n)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// EndFrame flushes buffered writers.
func (s *StreamSink) EndFrame() error {
	if f, ok := s.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
