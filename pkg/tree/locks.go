package tree

import (
	"context"
	"sync"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// LockMode selects shared or exclusive access to a subtree.
type LockMode int

const (
	// LockRead allows concurrent readers of overlapping subtrees.
	LockRead LockMode = iota
	// LockWrite excludes every other lock on an overlapping subtree.
	LockWrite
)

// String returns the mode name.
func (m LockMode) String() string {
	if m == LockWrite {
		return "write"
	}
	return "read"
}

type heldLock struct {
	addr model.Address
	mode LockMode
}

// LockManager grants hierarchical subtree locks. A lock on an address covers
// the resource and all of its descendants, so two locks conflict when one
// address contains the other and at least one of them is a write lock.
type LockManager struct {
	mu      sync.Mutex
	held    map[uint64]heldLock
	next    uint64
	changed chan struct{}
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		held:    make(map[uint64]heldLock),
		changed: make(chan struct{}),
	}
}

// Acquire blocks until a lock of the given mode on addr can be granted or ctx
// is done. The returned release function is idempotent.
func (m *LockManager) Acquire(ctx context.Context, addr model.Address, mode LockMode) (func(), error) {
	for {
		m.mu.Lock()
		if !m.conflicts(addr, mode) {
			id := m.next
			m.next++
			m.held[id] = heldLock{addr: addr, mode: mode}
			m.mu.Unlock()

			var once sync.Once
			return func() { once.Do(func() { m.release(id) }) }, nil
		}
		wait := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Held returns the number of currently granted locks.
func (m *LockManager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// conflicts is called with m.mu held.
func (m *LockManager) conflicts(addr model.Address, mode LockMode) bool {
	for _, h := range m.held {
		if mode == LockRead && h.mode == LockRead {
			continue
		}
		if h.addr.Overlaps(addr) {
			return true
		}
	}
	return false
}

func (m *LockManager) release(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, id)
	close(m.changed)
	m.changed = make(chan struct{})
}
