// Package nvram emulates a small byte-addressed non-volatile memory (EEPROM-style) with
// in-memory and SQLite-backed devices.
package nvram

import (
	"errors"
	"fmt"
)

// DefaultSize matches a 1 KiB ATmega328P EEPROM.
const DefaultSize = 1024

// Erased is the value read back from a cell that was never written.
const Erased byte = 0xFF

// ErrOutOfRange is returned when an access falls outside the device.
var ErrOutOfRange = errors.New("nvram: access out of range")

// Device is a byte-addressed non-volatile memory.
// Each WriteAt call is persisted synchronously before it returns.
type Device interface {
	// Name identifies the device (used as the storage key for persistent devices).
	Name() string

	// Size returns the capacity in bytes.
	Size() int64

	// ReadAt reads len(p) bytes starting at off.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes p starting at off.
	WriteAt(p []byte, off int64) (int, error)
}

// checkRange validates an access of n bytes at off against size.
func checkRange(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return fmt.Errorf("%w: offset %d length %d size %d", ErrOutOfRange, off, n, size)
	}
	return nil
}
