// Package decimator divides the output rate by discarding a fixed number of
// blocks before each assembly pass.
package decimator

import (
	"context"
	"fmt"
	"time"

	"github.com/mrzor/frame-relay/internal/block"
	"github.com/mrzor/frame-relay/internal/stats"
)

// Decimator discards skip blocks per output cycle.
// No tag matching is done: every block dequeued here is released unseen.
type Decimator struct {
	src         block.Source
	counters    *stats.Counters
	skip        int
	pollTimeout time.Duration
}

// New creates a decimator that drops skip blocks per cycle. A skip of zero
// disables decimation.
func New(src block.Source, counters *stats.Counters, skip int, pollTimeout time.Duration) (*Decimator, error) {
	if skip < 0 {
		return nil, fmt.Errorf("skip count must not be negative, got %d", skip)
	}
	if counters == nil {
		counters = stats.New()
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &Decimator{
		src:         src,
		counters:    counters,
		skip:        skip,
		pollTimeout: pollTimeout,
	}, nil
}

// Skip returns the configured number of blocks dropped per cycle.
func (d *Decimator) Skip() int {
	return d.skip
}

// Discard dequeues and releases exactly Skip blocks, counting each as
// captured and truncated ones as incomplete. It returns the number of blocks
// discarded, which is short of Skip only when an error is returned.
func (d *Decimator) Discard(ctx context.Context) (int, error) {
	for n := 0; n < d.skip; n++ {
		b, err := block.Await(ctx, d.src, d.pollTimeout)
		if err != nil {
			return n, err
		}
		d.counters.AddCaptured()
		if !b.Complete() {
			d.counters.AddIncomplete()
		}
		if err := b.Release(); err != nil {
			return n + 1, err
		}
	}
	return d.skip, nil
}
