package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

var (
	// ErrClosed is returned when routing to a stopped executor.
	ErrClosed = errors.New("executor closed")
	// ErrUnknownExecutor is returned for slot ids without an executor.
	ErrUnknownExecutor = errors.New("unknown executor")
	// ErrBusy is returned when an executor is asked to run while it already
	// has a statement in flight. Within one process the facility prevents
	// it; it means another process freed the slot under a running statement.
	ErrBusy = errors.New("executor already running a statement")
)

// Result is the native outcome of a statement.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Engine runs exactly one statement. Implementations may call back into the
// facility from Exec to run nested statements.
type Engine interface {
	Exec(ctx context.Context, statement string) (*Result, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, statement string) (*Result, error)

func (f EngineFunc) Exec(ctx context.Context, statement string) (*Result, error) {
	return f(ctx, statement)
}

// PanicError reports a panic raised by an engine while running a statement.
type PanicError struct {
	Slot  int
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor %d: statement panicked: %v", e.Slot, e.Value)
}

type job struct {
	ctx       context.Context
	statement string
	reply     chan outcome
}

type outcome struct {
	res *Result
	err error
}

// Executor is one statically identified execution context. A single worker
// goroutine serves it, so at most one statement runs on it at a time.
type Executor struct {
	id     int
	engine Engine
	jobs   chan job
	quit   chan struct{}
	done   chan struct{}
	active atomic.Bool
}

func newExecutor(id int, engine Engine) *Executor {
	e := &Executor{
		id:     id,
		engine: engine,
		jobs:   make(chan job),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Executor) ID() int { return e.id }

func (e *Executor) loop() {
	defer close(e.done)
	for {
		select {
		case j := <-e.jobs:
			j.reply <- e.run(j)
		case <-e.quit:
			return
		}
	}
}

func (e *Executor) run(j job) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome{err: &PanicError{Slot: e.id, Value: r, Stack: debug.Stack()}}
		}
	}()
	res, err := e.engine.Exec(withSlot(j.ctx, e.id), j.statement)
	return outcome{res: res, err: err}
}

// Run hands statement to the worker and waits for it to finish. It does not
// return early on ctx cancellation: the engine receives ctx and the caller's
// slot must stay busy until the statement has actually stopped.
func (e *Executor) Run(ctx context.Context, statement string) (*Result, error) {
	if !e.active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.active.Store(false)

	reply := make(chan outcome, 1)
	select {
	case e.jobs <- job{ctx: ctx, statement: statement, reply: reply}:
	case <-e.quit:
		return nil, ErrClosed
	}
	o := <-reply
	return o.res, o.err
}

func (e *Executor) stop() {
	close(e.quit)
	<-e.done
}
