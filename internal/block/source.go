package block

import (
	"context"
	"fmt"
	"time"
)

// Source yields filled blocks and takes them back through their handles.
type Source interface {
	// TryDequeue returns the next filled block, or nil with a nil error
	// when none is ready.
	TryDequeue() (*Block, error)

	// Wait blocks until a block may be ready or the timeout elapses.
	// It returns ctx.Err() when ctx is done and nil on timeout.
	Wait(ctx context.Context, timeout time.Duration) error
}

// SourceError is a transport failure reported by a Source. It is fatal to
// the session.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("block source %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Await is the single suspension point of the pipeline. It polls src until a
// block is available, waiting up to timeout between polls. Cancelling ctx is
// the only way out without a block.
func Await(ctx context.Context, src Source, timeout time.Duration) (*Block, error) {
	for {
		b, err := src.TryDequeue()
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := src.Wait(ctx, timeout); err != nil {
			return nil, err
		}
	}
}
