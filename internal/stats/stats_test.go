package stats

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounters_Snapshot(t *testing.T) {
	c := New()
	c.AddCaptured()
	c.AddCaptured()
	c.AddCaptured()
	c.AddIncomplete()
	c.AddSent()
	c.AddDropped()

	got := c.Snapshot()
	want := Snapshot{Captured: 3, Sent: 1, Dropped: 1, Incomplete: 1}
	if got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
	if got.String() != "Frames: 3 Dropped: 1 Invalid: 1 Sent: 1" {
		t.Errorf("String() = %q", got.String())
	}
}

func TestCounters_ConcurrentReaders(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = c.Snapshot()
		}
	}()
	for i := 0; i < 1000; i++ {
		c.AddCaptured()
		c.AddSent()
	}
	wg.Wait()

	if s := c.Snapshot(); s.Captured != 1000 || s.Sent != 1000 {
		t.Errorf("Snapshot() = %+v, want 1000 captured and sent", s)
	}
}

func TestSnapshot_Sub(t *testing.T) {
	a := Snapshot{Captured: 10, Sent: 8, Dropped: 1, Incomplete: 1}
	b := Snapshot{Captured: 4, Sent: 3}
	got := a.Sub(b)
	want := Snapshot{Captured: 6, Sent: 5, Dropped: 1, Incomplete: 1}
	if got != want {
		t.Errorf("Sub() = %+v, want %+v", got, want)
	}
}

func TestReporter_Line(t *testing.T) {
	c := New()
	for i := 0; i < 30; i++ {
		c.AddCaptured()
		c.AddSent()
	}

	var buf bytes.Buffer
	r := NewReporter(c, time.Second, log.New(&buf, "", 0))
	line := r.line(c.Snapshot(), 2*time.Second)
	if line != "Frames: 30 Dropped: 0 Invalid: 0 Sent: 30 (15.0 fps)" {
		t.Errorf("line() = %q", line)
	}

	r.Report()
	if !strings.HasPrefix(buf.String(), "Frames: 30 Dropped: 0 Invalid: 0 Sent: 30") {
		t.Errorf("Report() logged %q", buf.String())
	}
	if r.last.Sent != 30 {
		t.Errorf("last.Sent = %d, want 30", r.last.Sent)
	}
}
