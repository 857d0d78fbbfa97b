// Package assembler rebuilds video frames from the blocks a capture source
// delivers.
//
// Large frames are split by the producer into blocks_per_frame equally sized
// blocks that share a frame tag. The assembler keeps an ordered working set of
// held blocks and yields a Frame once the set holds blocks_per_frame complete
// blocks with one tag.
//
// State Machine (per output cycle):
//
//	┌─────────┐
//	│  Empty  │ ◄─────────────────────────────┐
//	└────┬────┘                               │
//	     │ dequeue                            │
//	     ▼                                    │
//	┌──────────────┐  truncated block         │
//	│ Accumulating │ ────────────────────▶ release all (incomplete++)
//	└────┬─────┬───┘                          │
//	     │     │ tag differs from front       │
//	     │     └──▶ evict front until tags match
//	     │ len == blocks_per_frame            │
//	     ▼                                    │
//	┌──────────┐  deliver in arrival order    │
//	│ Complete │ ─────────────────────────────┘
//	└──────────┘  (sent++, or dropped++ on a busy sink)
//
// Every block leaves the working set through Block.Release exactly once,
// whichever path it takes, with BytesUsed reset to the block capacity.
//
// Feed is the pure step used by event-loop callers; Next and Cycle wrap it
// around block.Await for callers that block.
package assembler
