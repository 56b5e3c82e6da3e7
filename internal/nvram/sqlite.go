package nvram

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteDevice is a persistent device backed by SQLite.
// Cells that were never written read back as Erased.
type SQLiteDevice struct {
	db   *sql.DB
	name string
	size int64
}

// NewSQLiteDevice creates a new SQLite-backed device.
func NewSQLiteDevice(db *sql.DB, name string, size int64) *SQLiteDevice {
	return &SQLiteDevice{
		db:   db,
		name: name,
		size: size,
	}
}

// Name returns the device name.
func (d *SQLiteDevice) Name() string {
	return d.name
}

// Size returns the capacity in bytes.
func (d *SQLiteDevice) Size() int64 {
	return d.size
}

// ReadAt reads len(p) bytes starting at off.
func (d *SQLiteDevice) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}

	for i := range p {
		p[i] = Erased
	}

	rows, err := d.db.Query(`
		SELECT addr, value FROM nvram_cells
		WHERE device = ? AND addr >= ? AND addr < ?
	`, d.name, off, off+int64(len(p)))
	if err != nil {
		return 0, fmt.Errorf("failed to read cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr int64
		var value int
		if err := rows.Scan(&addr, &value); err != nil {
			return 0, fmt.Errorf("failed to scan cell: %w", err)
		}
		p[addr-off] = byte(value)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read cells: %w", err)
	}

	return len(p), nil
}

// WriteAt writes p starting at off. A single call is applied atomically.
func (d *SQLiteDevice) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin write: %w", err)
	}

	now := time.Now().UTC().Unix()
	for i, b := range p {
		_, err := tx.Exec(`
			INSERT INTO nvram_cells (device, addr, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(device, addr) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, d.name, off+int64(i), int(b), now)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to write cell %d: %w", off+int64(i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit write: %w", err)
	}

	return len(p), nil
}

// Erase removes every written cell of the device.
func (d *SQLiteDevice) Erase() error {
	_, err := d.db.Exec(`DELETE FROM nvram_cells WHERE device = ?`, d.name)
	if err != nil {
		return fmt.Errorf("failed to erase device: %w", err)
	}
	return nil
}
