package engine

import "sync/atomic"

// Arena holds per-operation values passed from earlier steps to later steps.
// One arena exists per submitted operation and is discarded when it returns.
type Arena struct {
	values map[uint64]any
}

func newArena() *Arena {
	return &Arena{values: make(map[uint64]any)}
}

var slotSeq atomic.Uint64

// Slot is a typed key into an operation's Arena. Every slot created by
// NewSlot is distinct, so a handler that creates its slots inside Execute
// never collides with another invocation of itself in the same operation.
type Slot[T any] struct {
	id   uint64
	name string
}

// NewSlot creates a new slot. The name is used for diagnostics only.
func NewSlot[T any](name string) Slot[T] {
	return Slot[T]{id: slotSeq.Add(1), name: name}
}

// Name returns the diagnostic name of the slot.
func (s Slot[T]) Name() string {
	return s.name
}

// Set stores v in the operation's arena.
func (s Slot[T]) Set(ctx Context, v T) {
	ctx.Arena().values[s.id] = v
}

// Get returns the value stored in the operation's arena, if any.
func (s Slot[T]) Get(ctx Context) (T, bool) {
	v, ok := ctx.Arena().values[s.id]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Clear removes the value from the operation's arena.
func (s Slot[T]) Clear(ctx Context) {
	delete(ctx.Arena().values, s.id)
}
