package output

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapSink copies frame data into a shared memory mapping of a device or file.
type MmapSink struct {
	file *os.File
	data []byte
}

// OpenMmap maps size bytes of path for writing. Regular files shorter than
// size are extended first; devices are mapped as they are.
func OpenMmap(path string, size int) (*MmapSink, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid mapping size %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	if info, err := f.Stat(); err == nil && info.Mode().IsRegular() && info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close() //nolint:errcheck // Best-effort cleanup in error path
			return nil, fmt.Errorf("extending %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &MmapSink{file: f, data: data}, nil
}

// Deliver copies p to offset in the mapping.
func (m *MmapSink) Deliver(offset uint64, p []byte) error {
	if m.data == nil {
		return ErrClosed
	}
	if offset > uint64(len(m.data)) || uint64(len(p)) > uint64(len(m.data))-offset {
		return fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, len(p), len(m.data))
	}
	copy(m.data[offset:], p)
	return nil
}

// Size returns the length of the mapping.
func (m *MmapSink) Size() int {
	return len(m.data)
}

// Close unmaps the destination and closes the file.
func (m *MmapSink) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if closeErr := m.file.Close(); err == nil {
		err = closeErr
	}
	return err
}
