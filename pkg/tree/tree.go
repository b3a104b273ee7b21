package tree

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Errors returned by tree accessors.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrExists       = errors.New("resource already exists")
	ErrRootMutation = errors.New("the root resource cannot be added or removed")
	ErrPattern      = errors.New("pattern addresses cannot be used for tree access")
)

// node is one resource in the tree.
type node struct {
	model    map[string]any
	children map[string]map[string]*node
}

func newNode(m map[string]any) *node {
	if m == nil {
		m = make(map[string]any)
	}
	return &node{model: m, children: make(map[string]map[string]*node)}
}

// Tree is the in-memory resource model. The root resource always exists.
//
// Tree guards its own maps with a mutex so that concurrent operations on
// disjoint subtrees are safe. Logical isolation between operations is the job
// of LockManager; Tree never blocks for longer than a single accessor call.
type Tree struct {
	mu   sync.RWMutex
	root *node
}

// New creates a tree holding only the root resource.
func New() *Tree {
	return &Tree{root: newNode(nil)}
}

// find returns the node at addr. Callers hold t.mu.
func (t *Tree) find(addr model.Address) (*node, error) {
	if addr.IsPattern() {
		return nil, fmt.Errorf("%w: %s", ErrPattern, addr)
	}
	n := t.root
	for _, s := range addr.Segments() {
		byName, ok := n.children[s.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		child, ok := byName[s.Value]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		n = child
	}
	return n, nil
}

// Exists reports whether a resource exists at addr.
func (t *Tree) Exists(addr model.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, err := t.find(addr)
	return err == nil
}

// Model returns a copy of the attribute values of the resource at addr.
func (t *Tree) Model(addr model.Address) (map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.find(addr)
	if err != nil {
		return nil, err
	}
	return model.CopyMap(n.model), nil
}

// Attribute returns a copy of one attribute value. The boolean is false when
// the attribute is undefined.
func (t *Tree) Attribute(addr model.Address, name string) (any, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.find(addr)
	if err != nil {
		return nil, false, err
	}
	v, ok := n.model[name]
	return model.DeepCopy(v), ok, nil
}

// Children returns the child names of the resource at addr grouped by child
// type. Names are sorted.
func (t *Tree) Children(addr model.Address) (map[string][]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.find(addr)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(n.children))
	for typ, byName := range n.children {
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		out[typ] = names
	}
	return out, nil
}

// Add creates a resource. The parent must exist and addr must not.
func (t *Tree) Add(addr model.Address, attrs map[string]any) error {
	last, ok := addr.Last()
	if !ok {
		return ErrRootMutation
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, err := t.find(addr.Parent())
	if err != nil {
		return err
	}
	if _, exists := parent.children[last.Key][last.Value]; exists {
		return fmt.Errorf("%w: %s", ErrExists, addr)
	}
	if parent.children[last.Key] == nil {
		parent.children[last.Key] = make(map[string]*node)
	}
	parent.children[last.Key][last.Value] = newNode(model.CopyMap(attrs))
	return nil
}

// Remove deletes the resource at addr together with its subtree and returns
// a snapshot of what was removed.
func (t *Tree) Remove(addr model.Address) (*Snapshot, error) {
	last, ok := addr.Last()
	if !ok {
		return nil, ErrRootMutation
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, err := t.find(addr.Parent())
	if err != nil {
		return nil, err
	}
	n, ok := parent.children[last.Key][last.Value]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	snap := snapshotOf(addr, n)
	delete(parent.children[last.Key], last.Value)
	if len(parent.children[last.Key]) == 0 {
		delete(parent.children, last.Key)
	}
	return snap, nil
}

// Update applies fn to a copy of the model at addr and stores the result if
// fn returns nil. Nil values written by fn undefine the attribute.
func (t *Tree) Update(addr model.Address, fn func(attrs map[string]any) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.find(addr)
	if err != nil {
		return err
	}
	attrs := model.CopyMap(n.model)
	if err := fn(attrs); err != nil {
		return err
	}
	for k, v := range attrs {
		if v == nil {
			delete(attrs, k)
		}
	}
	n.model = attrs
	return nil
}

// Snapshot returns a deep copy of the subtree rooted at addr.
func (t *Tree) Snapshot(addr model.Address) (*Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.find(addr)
	if err != nil {
		return nil, err
	}
	return snapshotOf(addr, n), nil
}

// Restore replaces the subtree at addr with snap. A nil snapshot removes the
// subtree if it exists. Restoring the root replaces the whole tree. The parent
// of addr must exist.
func (t *Tree) Restore(addr model.Address, snap *Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if addr.IsRoot() {
		if snap == nil {
			t.root = newNode(nil)
		} else {
			t.root = snap.build()
		}
		return nil
	}

	last, _ := addr.Last()
	parent, err := t.find(addr.Parent())
	if err != nil {
		return err
	}
	if snap == nil {
		delete(parent.children[last.Key], last.Value)
		if len(parent.children[last.Key]) == 0 {
			delete(parent.children, last.Key)
		}
		return nil
	}
	if parent.children[last.Key] == nil {
		parent.children[last.Key] = make(map[string]*node)
	}
	parent.children[last.Key][last.Value] = snap.build()
	return nil
}
