package stats

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mrzor/frame-relay/internal/timesync"
)

// Reader is the read-only view of the counters.
type Reader interface {
	Snapshot() Snapshot
}

// Reporter logs the counters at a fixed interval together with the send rate
// since the previous report.
type Reporter struct {
	counters Reader
	interval time.Duration
	logger   *log.Logger
	watch    *timesync.Stopwatch
	last     Snapshot
}

// NewReporter creates a reporter. A nil logger uses the standard logger.
func NewReporter(counters Reader, interval time.Duration, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{
		counters: counters,
		interval: interval,
		logger:   logger,
		watch:    timesync.NewStopwatch(),
	}
}

// Run logs until ctx is done. A non-positive interval disables reporting.
func (r *Reporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report logs one line and moves the rate window forward.
func (r *Reporter) Report() {
	now := r.counters.Snapshot()
	r.logger.Print(r.line(now, r.watch.Lap()))
	r.last = now
}

func (r *Reporter) line(now Snapshot, elapsed time.Duration) string {
	delta := now.Sub(r.last)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(delta.Sent) / elapsed.Seconds()
	}
	return fmt.Sprintf("%s (%.1f fps)", now, fps)
}
