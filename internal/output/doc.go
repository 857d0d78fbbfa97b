// Package output delivers assembled frame bytes to their destination.
//
// A Sink only sees (offset, bytes) pairs. Offsets restart at zero for every
// frame and grow by one block capacity per block, in arrival order.
//
// Realizations:
//   - MmapSink: random-access copy into a memory-mapped device or file
//     (a framebuffer such as /dev/fb0).
//   - StreamSink: sequential writes to an io.Writer.
//   - QueueSink: non-blocking streaming. Frames are staged in pooled buffers
//     and written by a background goroutine; when every staging slot is in
//     flight BeginFrame reports ErrBusy and the caller drops the frame.
//
// Sinks that care about frame boundaries implement FrameSink. Failures other
// than ErrBusy are fatal to the session; there is no buffering layer that
// could hold undelivered frame data for a retry.
package output
