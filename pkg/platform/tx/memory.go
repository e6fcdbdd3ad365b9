package tx

import (
	"context"
	"sync"
)

type memoryKey struct{}

// memoryUnit is the undo journal of one in-memory unit of work.
type memoryUnit struct {
	runner *MemoryRunner

	mu   sync.Mutex
	undo []func()
}

// OnRollback records fn to run if the in-memory unit of work carried by ctx
// fails. Journals run newest first. Outside a unit it does nothing, so writes
// made without a unit are never reverted by someone else's rollback.
//
// In-memory stores call it from every write, while still holding their lock,
// with a closure that puts back exactly the entries that write touched.
func OnRollback(ctx context.Context, fn func()) {
	unit, ok := ctx.Value(memoryKey{}).(*memoryUnit)
	if !ok {
		return
	}
	unit.mu.Lock()
	unit.undo = append(unit.undo, fn)
	unit.mu.Unlock()
}

// MemoryRunner gives in-memory stores transaction semantics: units of work are
// serialized and the writes made inside a failed unit are undone.
type MemoryRunner struct {
	mu sync.Mutex
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if active, _ := ctx.Value(memoryKey{}).(*memoryUnit); active != nil && active.runner == r {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	unit := &memoryUnit{runner: r}
	if err := fn(context.WithValue(ctx, memoryKey{}, unit)); err != nil {
		unit.rollback()
		return err
	}
	return nil
}

func (u *memoryUnit) rollback() {
	u.mu.Lock()
	undo := u.undo
	u.undo = nil
	u.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}
