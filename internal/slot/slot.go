package slot

import (
	"context"
	"errors"
)

// DefaultSize is the number of execution slots used when none is configured.
const DefaultSize = 5

// DefaultTable is the table name used by SQL backends.
const DefaultTable = "slotexec_slots"

var (
	// ErrNoFreeSlot is returned by Acquire when every slot is busy.
	ErrNoFreeSlot = errors.New("no free execution slot")
	// ErrUnknownSlot is returned for ids outside 0..Size()-1.
	ErrUnknownSlot = errors.New("unknown execution slot")
	// ErrNotBusy is returned when releasing a slot that is already free.
	ErrNotBusy = errors.New("execution slot is not busy")
	// ErrSizeMismatch is returned by EnsureSchema when the persisted table
	// holds a different number of slots than configured.
	ErrSizeMismatch = errors.New("persisted slot count does not match configured size")
	// ErrContention is returned by Acquire when free slots exist but every
	// attempt to claim one lost to a concurrent caller.
	ErrContention = errors.New("execution slot contention")
)

// Slot is one of the fixed execution contexts.
type Slot struct {
	ID   int  `json:"id"`
	Busy bool `json:"busy"`
}

// Table is the persisted allocation table of execution slots.
// Implementations must be safe for concurrent use; Acquire must select and
// mark the lowest free id as one atomic step.
type Table interface {
	// EnsureSchema creates the table and its rows if absent. Idempotent; it
	// never clears busy flags of an existing table.
	EnsureSchema(ctx context.Context) error
	Acquire(ctx context.Context) (int, error)
	Release(ctx context.Context, id int) error
	List(ctx context.Context) ([]Slot, error)
	// Reset frees every slot. Operator recovery only.
	Reset(ctx context.Context) error
	Size() int
	Close() error
}

// NormalizeSize maps non-positive sizes to DefaultSize.
func NormalizeSize(n int) int {
	if n <= 0 {
		return DefaultSize
	}
	return n
}

// TableName joins an optional prefix with DefaultTable.
func TableName(prefix string) string {
	if prefix == "" {
		return DefaultTable
	}
	return prefix + DefaultTable
}
