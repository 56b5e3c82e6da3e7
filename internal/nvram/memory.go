package nvram

import "sync"

// MemoryDevice is an in-memory device (not persisted across restarts).
// It starts fully erased, like a factory-fresh EEPROM.
type MemoryDevice struct {
	name   string
	cells  []byte
	writes int
	mu     sync.RWMutex
}

// NewMemoryDevice creates an erased in-memory device of the given size.
func NewMemoryDevice(name string, size int) *MemoryDevice {
	cells := make([]byte, size)
	for i := range cells {
		cells[i] = Erased
	}
	return &MemoryDevice{
		name:  name,
		cells: cells,
	}
}

// Name returns the device name.
func (d *MemoryDevice) Name() string {
	return d.name
}

// Size returns the capacity in bytes.
func (d *MemoryDevice) Size() int64 {
	return int64(len(d.cells))
}

// ReadAt reads len(p) bytes starting at off.
func (d *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := checkRange(off, len(p), int64(len(d.cells))); err != nil {
		return 0, err
	}
	return copy(p, d.cells[off:]), nil
}

// WriteAt writes p starting at off.
func (d *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkRange(off, len(p), int64(len(d.cells))); err != nil {
		return 0, err
	}
	d.writes++
	return copy(d.cells[off:], p), nil
}

// Writes returns how many WriteAt calls succeeded.
func (d *MemoryDevice) Writes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes
}
