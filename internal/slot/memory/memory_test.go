package memory

import (
	"testing"

	"github.com/loykin/slotexec/internal/slot"
	"github.com/loykin/slotexec/internal/slot/slottest"
)

func TestMemoryTable(t *testing.T) {
	slottest.Run(t, func(t *testing.T, size int) slot.Table {
		return New(size)
	})
}

func TestDefaultSize(t *testing.T) {
	if got := New(0).Size(); got != slot.DefaultSize {
		t.Fatalf("expected default size %d, got %d", slot.DefaultSize, got)
	}
}
