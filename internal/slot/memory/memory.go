package memory

import (
	"context"
	"sync"

	"github.com/loykin/slotexec/internal/slot"
)

// Table is an in-process slot table guarded by a mutex.
// It is the default when no DSN is configured.
type Table struct {
	mu   sync.Mutex
	busy []bool
}

func New(size int) *Table {
	return &Table{busy: make([]bool, slot.NormalizeSize(size))}
}

func (t *Table) EnsureSchema(context.Context) error { return nil }

func (t *Table) Acquire(context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, b := range t.busy {
		if !b {
			t.busy[id] = true
			return id, nil
		}
	}
	return -1, slot.ErrNoFreeSlot
}

func (t *Table) Release(_ context.Context, id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.busy) {
		return slot.ErrUnknownSlot
	}
	if !t.busy[id] {
		return slot.ErrNotBusy
	}
	t.busy[id] = false
	return nil
}

func (t *Table) List(context.Context) ([]slot.Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]slot.Slot, len(t.busy))
	for id, b := range t.busy {
		out[id] = slot.Slot{ID: id, Busy: b}
	}
	return out, nil
}

func (t *Table) Reset(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.busy {
		t.busy[id] = false
	}
	return nil
}

func (t *Table) Size() int { return len(t.busy) }

func (t *Table) Close() error { return nil }
