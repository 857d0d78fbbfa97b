package timesync

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Monotonic reads CLOCK_MONOTONIC.
func Monotonic() (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, fmt.Errorf("reading monotonic clock: %w", err)
	}
	return time.Duration(ts.Nano()), nil
}

// Converter handles conversion from monotonic timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter creates a converter anchored at the current offset between the
// wall clock and the monotonic clock.
func NewConverter() (*Converter, error) {
	mono, err := Monotonic()
	if err != nil {
		return nil, err
	}
	return &Converter{bootTime: time.Now().Add(-mono)}, nil
}

// NewConverterAt creates a converter with a fixed boot time.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// MonotonicToWallClock converts nanoseconds since boot to wall-clock time.
// Zero maps to the zero time, which producers use for "no timestamp".
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	if monotonicNanos == 0 {
		return time.Time{}
	}
	//nolint:gosec // uint64 to int64 conversion for time.Duration is safe for reasonable timestamps
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the boot time used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}
