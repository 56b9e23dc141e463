// Package slottest provides a conformance suite shared by every slot.Table
// backend.
package slottest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loykin/slotexec/internal/slot"
)

// Factory returns a fresh, empty table of the given size. The suite calls
// EnsureSchema itself.
type Factory func(t *testing.T, size int) slot.Table

// Run executes the conformance suite against tables produced by newTable.
func Run(t *testing.T, newTable Factory) {
	t.Helper()
	t.Run("EnsureSchemaIdempotent", func(t *testing.T) { testEnsureSchemaIdempotent(t, newTable) })
	t.Run("LowestFreeFirst", func(t *testing.T) { testLowestFreeFirst(t, newTable) })
	t.Run("ExhaustionAndReuse", func(t *testing.T) { testExhaustionAndReuse(t, newTable) })
	t.Run("ReleaseRejectsInvalid", func(t *testing.T) { testReleaseRejectsInvalid(t, newTable) })
	t.Run("EnsureSchemaKeepsBusy", func(t *testing.T) { testEnsureSchemaKeepsBusy(t, newTable) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newTable) })
	t.Run("ConcurrentAcquire", func(t *testing.T) { testConcurrentAcquire(t, newTable) })
}

func prepare(t *testing.T, newTable Factory, size int) slot.Table {
	t.Helper()
	tbl := newTable(t, size)
	if err := tbl.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return tbl
}

func testEnsureSchemaIdempotent(t *testing.T, newTable Factory) {
	tbl := prepare(t, newTable, 5)
	ctx := context.Background()
	if err := tbl.EnsureSchema(ctx); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}
	slots, err := tbl.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 5 || tbl.Size() != 5 {
		t.Fatalf("expected 5 slots, got %d (size %d)", len(slots), tbl.Size())
	}
	for i, s := range slots {
		if s.ID != i || s.Busy {
			t.Fatalf("unexpected slot at %d: %+v", i, s)
		}
	}
}

func testLowestFreeFirst(t *testing.T, newTable Factory) {
	tbl := prepare(t, newTable, 3)
	ctx := context.Background()
	for want := 0; want < 3; want++ {
		got, err := tbl.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected slot %d, got %d", want, got)
		}
	}
	if err := tbl.Release(ctx, 1); err != nil {
		t.Fatalf("release 1: %v", err)
	}
	got, err := tbl.Acquire(ctx)
	if err != nil || got != 1 {
		t.Fatalf("expected slot 1 after release, got %d err=%v", got, err)
	}
}

func testExhaustionAndReuse(t *testing.T, newTable Factory) {
	tbl := prepare(t, newTable, 2)
	ctx := context.Background()
	a, _ := tbl.Acquire(ctx)
	b, _ := tbl.Acquire(ctx)
	if a == b {
		t.Fatalf("expected distinct ids, got %d twice", a)
	}
	if _, err := tbl.Acquire(ctx); !errors.Is(err, slot.ErrNoFreeSlot) {
		t.Fatalf("expected ErrNoFreeSlot, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := tbl.Release(ctx, a); err != nil {
			t.Fatalf("release: %v", err)
		}
		got, err := tbl.Acquire(ctx)
		if err != nil {
			t.Fatalf("reacquire: %v", err)
		}
		if got != a {
			t.Fatalf("expected deterministic reuse of %d, got %d", a, got)
		}
	}
}

func testReleaseRejectsInvalid(t *testing.T, newTable Factory) {
	tbl := prepare(t, newTable, 2)
	ctx := context.Background()
	if err := tbl.Release(ctx, 0); !errors.Is(err, slot.ErrNotBusy) {
		t.Fatalf("release of free slot: expected ErrNotBusy, got %v", err)
	}
	if err := tbl.Release(ctx, 7); !errors.Is(err, slot.ErrUnknownSlot) {
		t.Fatalf("release of unknown slot: expected ErrUnknownSlot, got %v", err)
	}
	if err := tbl.Release(ctx, -1); !errors.Is(err, slot.ErrUnknownSlot) {
		t.Fatalf("release of negative slot: expected ErrUnknownSlot, got %v", err)
	}
	id, err := tbl.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := tbl.Release(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := tbl.Release(ctx, id); !errors.Is(err, slot.ErrNotBusy) {
		t.Fatalf("double release: expected ErrNotBusy, got %v", err)
	}
	slots, _ := tbl.List(ctx)
	for _, s := range slots {
		if s.Busy {
			t.Fatalf("slot %d left busy", s.ID)
		}
	}
}

func testEnsureSchemaKeepsBusy(t *testing.T, newTable Factory) {
	tbl := prepare(t, newTable, 3)
	ctx := context.Background()
	id, err := tbl.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := tbl.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	slots, err := tbl.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !slots[id].Busy {
		t.Fatalf("ensure schema cleared busy flag of slot %d", id)
	}
}

func testReset(t *testing.T, newTable Factory) {
	tbl := prepare(t, newTable, 2)
	ctx := context.Background()
	_, _ = tbl.Acquire(ctx)
	_, _ = tbl.Acquire(ctx)
	if err := tbl.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := tbl.Acquire(ctx)
	if err != nil || got != 0 {
		t.Fatalf("expected slot 0 after reset, got %d err=%v", got, err)
	}
}

func testConcurrentAcquire(t *testing.T, newTable Factory) {
	const size = 5
	tbl := prepare(t, newTable, size)
	ctx := context.Background()

	callers := size + 1
	start := make(chan struct{})
	type outcome struct {
		id  int
		err error
	}
	results := make(chan outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			id, err := tbl.Acquire(ctx)
			results <- outcome{id: id, err: err}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	failures := 0
	for r := range results {
		if r.err != nil {
			if !errors.Is(r.err, slot.ErrNoFreeSlot) {
				t.Fatalf("unexpected acquire error: %v", r.err)
			}
			failures++
			continue
		}
		if r.id < 0 || r.id >= size {
			t.Fatalf("id out of range: %d", r.id)
		}
		if seen[r.id] {
			t.Fatalf("slot %d handed out twice", r.id)
		}
		seen[r.id] = true
	}
	if failures != 1 || len(seen) != size {
		t.Fatalf("expected %d successes and 1 failure, got %d and %d", size, len(seen), failures)
	}
}
