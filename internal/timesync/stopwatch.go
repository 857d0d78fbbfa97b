package timesync

import "time"

// Stopwatch measures elapsed time on the monotonic clock.
type Stopwatch struct {
	now   func() time.Duration
	start time.Duration
	stop  time.Duration
}

// NewStopwatch returns a stopwatch started now.
func NewStopwatch() *Stopwatch {
	s := &Stopwatch{now: monotonicOrZero}
	s.Start()
	return s
}

func monotonicOrZero() time.Duration {
	d, err := Monotonic()
	if err != nil {
		return 0
	}
	return d
}

// Start resets the start mark.
func (s *Stopwatch) Start() {
	s.start = s.now()
	s.stop = s.start
}

// Stop sets the stop mark.
func (s *Stopwatch) Stop() {
	s.stop = s.now()
}

// Elapsed returns the time between the last Start and Stop.
func (s *Stopwatch) Elapsed() time.Duration {
	return s.stop - s.start
}

// Lap stops the watch, returns the elapsed time and restarts from the stop mark.
func (s *Stopwatch) Lap() time.Duration {
	s.Stop()
	d := s.Elapsed()
	s.start = s.stop
	return d
}
