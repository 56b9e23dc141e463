package executor

import (
	"context"
	"sync"
)

// Dispatcher maps a slot id to its executor. The mapping is fixed at
// construction: executors are never created or named at call time.
type Dispatcher struct {
	executors []*Executor
	closeOnce sync.Once
}

// NewDispatcher starts one executor per slot in 0..size-1.
func NewDispatcher(size int, engine Engine) *Dispatcher {
	d := &Dispatcher{executors: make([]*Executor, size)}
	for id := range d.executors {
		d.executors[id] = newExecutor(id, engine)
	}
	return d
}

func (d *Dispatcher) Size() int { return len(d.executors) }

// Route runs statement on the executor owned by slot id.
func (d *Dispatcher) Route(ctx context.Context, id int, statement string) (*Result, error) {
	if id < 0 || id >= len(d.executors) {
		return nil, ErrUnknownExecutor
	}
	return d.executors[id].Run(ctx, statement)
}

// Active reports whether the executor of slot id is running a statement.
func (d *Dispatcher) Active(id int) bool {
	if id < 0 || id >= len(d.executors) {
		return false
	}
	return d.executors[id].active.Load()
}

// Close stops all executors. Statements already running finish first.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		for _, e := range d.executors {
			e.stop()
		}
	})
	return nil
}

type slotKey struct{}

type slotInfo struct {
	id    int
	depth int
}

func withSlot(ctx context.Context, id int) context.Context {
	depth := 1
	if parent, ok := ctx.Value(slotKey{}).(slotInfo); ok {
		depth = parent.depth + 1
	}
	return context.WithValue(ctx, slotKey{}, slotInfo{id: id, depth: depth})
}

// SlotFromContext returns the slot whose executor is running the current
// statement, if any.
func SlotFromContext(ctx context.Context) (int, bool) {
	s, ok := ctx.Value(slotKey{}).(slotInfo)
	return s.id, ok
}

// DepthFromContext returns the nesting depth of the current statement:
// 0 outside the facility, 1 for a top-level statement.
func DepthFromContext(ctx context.Context) int {
	s, _ := ctx.Value(slotKey{}).(slotInfo)
	return s.depth
}
