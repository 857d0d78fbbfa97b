// Package bpfloader opens the ring buffer map a capture producer pinned in
// the BPF filesystem.
package bpfloader

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
)

// ErrNotRingBuf is returned when the pinned map has another type.
var ErrNotRingBuf = errors.New("pinned map is not a ring buffer")

// Loader holds the pinned map and the reader on it.
type Loader struct {
	m      *ebpf.Map
	reader *ringbuf.Reader
}

// Open loads the map pinned at pinPath and opens a ring buffer reader on it.
func Open(pinPath string) (*Loader, error) {
	m, err := ebpf.LoadPinnedMap(pinPath, &ebpf.LoadPinOptions{ReadOnly: false})
	if err != nil {
		return nil, fmt.Errorf("loading pinned map %s: %w", pinPath, err)
	}
	if err := checkType(m.Type()); err != nil {
		_ = m.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, fmt.Errorf("%s: %w", pinPath, err)
	}

	rd, err := ringbuf.NewReader(m)
	if err != nil {
		_ = m.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}

	return &Loader{m: m, reader: rd}, nil
}

func checkType(t ebpf.MapType) error {
	if t != ebpf.RingBuf {
		return fmt.Errorf("%w: %s", ErrNotRingBuf, t)
	}
	return nil
}

// Reader returns the ring buffer reader.
func (l *Loader) Reader() *ringbuf.Reader {
	return l.reader
}

// Close closes the reader and the map.
func (l *Loader) Close() error {
	var errs []error
	if err := l.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing ring buffer: %w", err))
	}
	if err := l.m.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing map: %w", err))
	}
	return errors.Join(errs...)
}
