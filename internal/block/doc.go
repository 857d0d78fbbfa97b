// Package block defines the unit of transfer between a capture producer and
// the frame assembler.
//
// A Buffer is fixed-capacity storage owned by a Source for the whole session.
// A Block is the handle a dequeue lends out:
//
//	Source ──TryDequeue──▶ *Block ──Release──▶ Recycler (the same Source)
//
// Release consumes the handle. It resets BytesUsed to the buffer capacity and
// gives the buffer back; a second Release returns ErrReleased and any read
// through a released handle panics. Pool is the shared free-list used by the
// source implementations and refuses buffers it did not hand out.
//
// Await is the only place the pipeline suspends. Blocking sources park inside
// TryDequeue; non-blocking ones return nil and park in Wait.
package block
