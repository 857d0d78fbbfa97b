package assembler

import (
	"errors"
	"time"

	"github.com/mrzor/frame-relay/internal/block"
)

// Frame is one complete, ordered group of same-tagged blocks. It owns its
// blocks until Deliver or Release hands them back.
type Frame struct {
	Tag       uint16
	Size      int       // total payload bytes
	Timestamp time.Time // fill time of the first block
	Blocks    []*block.Block
	// Superseded counts older frames dropped in favour of this one.
	Superseded int
}

func newFrame(blocks []*block.Block) *Frame {
	f := &Frame{
		Tag:       blocks[0].Tag(),
		Timestamp: blocks[0].Timestamp(),
		Blocks:    blocks,
	}
	for _, b := range blocks {
		f.Size += b.Capacity()
	}
	return f
}

// Release returns every block the frame still holds.
func (f *Frame) Release() error {
	return releaseAll(f.Blocks)
}

// releaseAll releases every unreleased block and joins the failures. A
// failing release never stops the remaining blocks from going back.
func releaseAll(blocks []*block.Block) error {
	var errs []error
	for _, b := range blocks {
		if b == nil || b.Released() {
			continue
		}
		if err := b.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
