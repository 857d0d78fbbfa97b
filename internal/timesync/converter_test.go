package timesync

import (
	"testing"
	"time"
)

func TestConverter_MonotonicToWallClock(t *testing.T) {
	bootTime := time.Unix(1000000000, 0)
	converter := NewConverterAt(bootTime)

	tests := []struct {
		name           string
		monotonicNanos uint64
		want           time.Time
	}{
		{
			name:           "zero means no timestamp",
			monotonicNanos: 0,
			want:           time.Time{},
		},
		{
			name:           "one second",
			monotonicNanos: 1_000_000_000,
			want:           bootTime.Add(1 * time.Second),
		},
		{
			name:           "mixed time",
			monotonicNanos: 123_456_789_000,
			want:           bootTime.Add(123*time.Second + 456*time.Millisecond + 789*time.Microsecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.MonotonicToWallClock(tt.monotonicNanos)
			if !got.Equal(tt.want) {
				t.Errorf("MonotonicToWallClock() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewConverter(t *testing.T) {
	converter, err := NewConverter()
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}

	bootTime := converter.BootTime()
	if bootTime.IsZero() {
		t.Error("BootTime() is zero")
	}
	if bootTime.After(time.Now()) {
		t.Error("BootTime() is in the future")
	}
}

func TestMonotonic_Advances(t *testing.T) {
	a, err := Monotonic()
	if err != nil {
		t.Fatalf("Monotonic() error = %v", err)
	}
	b, err := Monotonic()
	if err != nil {
		t.Fatalf("Monotonic() error = %v", err)
	}
	if b < a {
		t.Errorf("monotonic clock went backwards: %v then %v", a, b)
	}
}

func TestStopwatch(t *testing.T) {
	var clock time.Duration
	s := &Stopwatch{now: func() time.Duration { return clock }}

	clock = 10 * time.Millisecond
	s.Start()
	clock = 35 * time.Millisecond
	s.Stop()
	if got := s.Elapsed(); got != 25*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 25ms", got)
	}

	clock = 50 * time.Millisecond
	if got := s.Lap(); got != 40*time.Millisecond {
		t.Errorf("Lap() = %v, want 40ms", got)
	}
	clock = 60 * time.Millisecond
	if got := s.Lap(); got != 10*time.Millisecond {
		t.Errorf("second Lap() = %v, want 10ms", got)
	}
}
