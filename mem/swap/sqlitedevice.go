package swap

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A SQLiteDevice keeps swapped pages in a SQLite database, so that a swap
// area can outgrow memory.
type SQLiteDevice struct {
	mu    sync.Mutex
	db    *sql.DB
	slots *slotSet
}

// NewSQLiteDevice opens, or creates, the database at path and clears any
// slot left from earlier runs.
func NewSQLiteDevice(path string, capacity int) (*SQLiteDevice, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	d := &SQLiteDevice{
		db:    db,
		slots: newSlotSet(capacity),
	}

	err = d.init()
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return d, nil
}

func (d *SQLiteDevice) init() error {
	d.db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS swap_slots (
			slot INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		);`,
		`DELETE FROM swap_slots;`,
	}

	for _, stmt := range stmts {
		_, err := d.db.Exec(stmt)
		if err != nil {
			return fmt.Errorf("preparing swap database: %w", err)
		}
	}

	return nil
}

// SwapOut stores content in the lowest free slot.
func (d *SQLiteDevice) SwapOut(content []byte) (vm.SwapSlot, error) {
	mustBePageSized(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	slot, err := d.slots.take()
	if err != nil {
		return 0, err
	}

	_, err = d.db.Exec(
		`INSERT OR REPLACE INTO swap_slots (slot, data) VALUES (?, ?)`,
		int64(slot), content)
	if err != nil {
		d.slots.release(slot)
		return 0, fmt.Errorf("writing swap slot %d: %w", slot, err)
	}

	return slot, nil
}

// SwapIn reads the content of slot.
func (d *SQLiteDevice) SwapIn(slot vm.SwapSlot, content []byte) error {
	mustBePageSized(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.slots.inUse(slot) {
		return fmt.Errorf("%w: %d", vm.ErrBadSlot, slot)
	}

	var data []byte

	err := d.db.QueryRow(
		`SELECT data FROM swap_slots WHERE slot = ?`, int64(slot),
	).Scan(&data)
	if err != nil {
		return fmt.Errorf("reading swap slot %d: %w", slot, err)
	}

	copy(content, data)

	return nil
}

// Free releases a slot. The stale row is overwritten by the next SwapOut
// that takes the slot.
func (d *SQLiteDevice) Free(slot vm.SwapSlot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.slots.release(slot)
}

// NumFree returns the number of free slots.
func (d *SQLiteDevice) NumFree() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.slots.numFree()
}

// Close closes the database.
func (d *SQLiteDevice) Close() error {
	return d.db.Close()
}
