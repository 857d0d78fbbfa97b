// Package stats holds the session counters of the frame relay.
//
// Counters only grow. The assembler and decimator bump them on their state
// transitions; everybody else reads them through Snapshot.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Counters are the running totals of a session.
type Counters struct {
	captured   atomic.Uint64
	sent       atomic.Uint64
	dropped    atomic.Uint64
	incomplete atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Captured   uint64 // blocks dequeued from the source
	Sent       uint64 // frames delivered to the sink
	Dropped    uint64 // complete frames refused by a busy sink
	Incomplete uint64 // truncated blocks seen
}

// New returns zeroed counters.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) AddCaptured()   { c.captured.Add(1) }
func (c *Counters) AddSent()       { c.sent.Add(1) }
func (c *Counters) AddDropped()    { c.dropped.Add(1) }
func (c *Counters) AddIncomplete() { c.incomplete.Add(1) }

// Snapshot reads all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Captured:   c.captured.Load(),
		Sent:       c.sent.Load(),
		Dropped:    c.dropped.Load(),
		Incomplete: c.incomplete.Load(),
	}
}

// Sub returns the growth from prev to s.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{
		Captured:   s.Captured - prev.Captured,
		Sent:       s.Sent - prev.Sent,
		Dropped:    s.Dropped - prev.Dropped,
		Incomplete: s.Incomplete - prev.Incomplete,
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Frames: %d Dropped: %d Invalid: %d Sent: %d",
		s.Captured, s.Dropped, s.Incomplete, s.Sent)
}
