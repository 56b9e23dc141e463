package dynexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/slotexec/internal/executor"
	"github.com/loykin/slotexec/internal/history"
	"github.com/loykin/slotexec/internal/metrics"
	"github.com/loykin/slotexec/internal/slot"
)

const defaultReleaseTimeout = 5 * time.Second

// Facility runs runtime-constructed statements on a bounded set of execution
// slots. A statement may call Execute again with the context it was given;
// the nested call gets a different slot, and nesting deeper than the number
// of slots fails like any other exhaustion.
type Facility struct {
	table      slot.Table
	dispatcher *executor.Dispatcher
	log        *slog.Logger
	sinks      []history.Sink

	timeout        time.Duration
	releaseTimeout time.Duration

	initMu sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool

	// held marks slots this process acquired and has not released yet.
	// ownMu is read-locked around every acquire+mark and clear+release pair
	// and write-locked by Reset, so Reset never sees a half-owned slot.
	ownMu sync.RWMutex
	held  []atomic.Bool
}

// New builds a facility with one executor per slot of table. The table
// schema is created lazily on first use.
func New(table slot.Table, engine executor.Engine, opts ...Option) (*Facility, error) {
	if table == nil {
		return nil, errors.New("dynexec: nil slot table")
	}
	if engine == nil {
		return nil, errors.New("dynexec: nil engine")
	}
	if table.Size() <= 0 {
		return nil, fmt.Errorf("dynexec: slot table has size %d", table.Size())
	}
	f := &Facility{
		table:          table,
		log:            slog.Default(),
		releaseTimeout: defaultReleaseTimeout,
		held:           make([]atomic.Bool, table.Size()),
	}
	for _, o := range opts {
		o(f)
	}
	f.dispatcher = executor.NewDispatcher(table.Size(), engine)
	return f, nil
}

// Size returns the number of slots, which is also the maximum nesting depth.
func (f *Facility) Size() int { return f.table.Size() }

func (f *Facility) ensureSchema(ctx context.Context) error {
	if f.ready.Load() {
		return nil
	}
	f.initMu.Lock()
	defer f.initMu.Unlock()
	if f.ready.Load() {
		return nil
	}
	if err := f.table.EnsureSchema(ctx); err != nil {
		return &BackendError{Op: "init slot table", Err: err}
	}
	f.ready.Store(true)
	return nil
}

// Execute runs statement on a free slot and returns the engine's result or
// error unchanged. It fails with *UsageError for blank input and with
// *ExhaustedError when no slot is free. The slot is released on every exit
// path, including engine panics and cancellation.
func (f *Facility) Execute(ctx context.Context, statement string) (res *executor.Result, err error) {
	if strings.TrimSpace(statement) == "" {
		metrics.IncExecution(metrics.OutcomeUsage)
		return nil, &UsageError{Reason: "statement text is empty"}
	}
	if f.closed.Load() {
		return nil, ErrClosed
	}
	if err := f.ensureSchema(ctx); err != nil {
		return nil, err
	}

	depth := executor.DepthFromContext(ctx) + 1
	id, err := f.acquire(ctx)
	if err != nil {
		if errors.Is(err, slot.ErrNoFreeSlot) {
			metrics.IncExecution(metrics.OutcomeExhausted)
			f.log.Warn("execution slots exhausted", "depth", depth, "slots", f.Size())
			f.record(ctx, history.Event{Type: history.EventExhausted, Slot: -1, Depth: depth, Statement: statement})
			return nil, &ExhaustedError{Code: ExhaustedCode, Statement: statement}
		}
		return nil, &BackendError{Op: "acquire slot", Err: err}
	}
	metrics.SlotAcquired()
	start := time.Now()
	owned := true

	defer func() {
		elapsed := time.Since(start)
		if owned {
			if relErr := f.release(ctx, id); relErr != nil && err == nil {
				res, err = nil, &BackendError{Op: fmt.Sprintf("release slot %d", id), Err: relErr}
			}
		} else {
			// the executor belongs to another call; so does the busy flag
			metrics.SlotReleased()
		}
		metrics.ObserveExecution(strconv.Itoa(id), elapsed.Seconds())
		metrics.ObserveDepth(depth)
		evt := history.Event{Type: history.EventExecuted, Slot: id, Depth: depth, Statement: statement, Duration: elapsed}
		if err != nil {
			metrics.IncExecution(metrics.OutcomeError)
			evt.Type = history.EventFailed
			evt.Error = err.Error()
			f.log.Debug("statement failed", "slot", id, "depth", depth, "duration", elapsed, "error", err)
		} else {
			metrics.IncExecution(metrics.OutcomeOK)
			f.log.Debug("statement executed", "slot", id, "depth", depth, "duration", elapsed)
		}
		f.record(ctx, evt)
	}()

	runCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	res, err = f.dispatcher.Route(runCtx, id, statement)
	if errors.Is(err, executor.ErrBusy) {
		// The slot was freed under a running statement by another process
		// and handed to this call.
		owned = false
		f.log.Error("acquired slot is still executing a statement", "slot", id)
	}
	return res, err
}

func (f *Facility) acquire(ctx context.Context) (int, error) {
	f.ownMu.RLock()
	defer f.ownMu.RUnlock()
	id, err := f.table.Acquire(ctx)
	if err != nil {
		return -1, err
	}
	if id < 0 || id >= len(f.held) {
		return -1, fmt.Errorf("slot table returned id %d outside 0..%d", id, len(f.held)-1)
	}
	f.held[id].Store(true)
	return id, nil
}

// release frees id even when the caller's context is already cancelled.
// A slot an operator already freed with Reset is not an error for the
// statement that held it.
func (f *Facility) release(ctx context.Context, id int) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.releaseTimeout)
	defer cancel()

	f.ownMu.RLock()
	f.held[id].Store(false)
	err := f.table.Release(rctx, id)
	f.ownMu.RUnlock()

	metrics.SlotReleased()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, slot.ErrNotBusy):
		metrics.IncReleaseFailure()
		f.log.Warn("execution slot was freed while its statement ran", "slot", id)
		return nil
	default:
		metrics.IncReleaseFailure()
		f.log.Error("failed to release execution slot", "slot", id, "error", err)
		return err
	}
}

func (f *Facility) record(ctx context.Context, evt history.Event) {
	if len(f.sinks) == 0 {
		return
	}
	evt.OccurredAt = time.Now().UTC()
	sctx := context.WithoutCancel(ctx)
	for _, s := range f.sinks {
		if err := s.Send(sctx, evt); err != nil {
			f.log.Debug("history sink send failed", "event", evt.Type, "error", err)
		}
	}
}

// Slots returns the current state of every slot.
func (f *Facility) Slots(ctx context.Context) ([]slot.Slot, error) {
	if err := f.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return f.table.List(ctx)
}

// Reset frees every busy slot that no statement of this process is running
// on. It is meant for operators recovering a persistent table after a
// crashed process left busy flags behind. It returns the ids it kept busy.
func (f *Facility) Reset(ctx context.Context) ([]int, error) {
	if err := f.ensureSchema(ctx); err != nil {
		return nil, err
	}
	f.ownMu.Lock()
	defer f.ownMu.Unlock()

	var kept []int
	for id := range f.held {
		if f.held[id].Load() || f.dispatcher.Active(id) {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		if err := f.table.Reset(ctx); err != nil {
			return nil, &BackendError{Op: "reset slot table", Err: err}
		}
		f.log.Warn("execution slots reset", "slots", f.Size())
		return nil, nil
	}

	slots, err := f.table.List(ctx)
	if err != nil {
		return nil, &BackendError{Op: "reset slot table", Err: err}
	}
	freed := 0
	for _, s := range slots {
		if !s.Busy || slices.Contains(kept, s.ID) {
			continue
		}
		if err := f.table.Release(ctx, s.ID); err != nil && !errors.Is(err, slot.ErrNotBusy) {
			return kept, &BackendError{Op: fmt.Sprintf("reset slot %d", s.ID), Err: err}
		}
		freed++
	}
	f.log.Warn("execution slots reset", "freed", freed, "kept_running", kept)
	return kept, nil
}

// Close stops the executors after in-flight statements finish. The slot
// table and history sinks stay open; they belong to the caller.
func (f *Facility) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return f.dispatcher.Close()
}
