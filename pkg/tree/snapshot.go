package tree

import (
	"sort"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Snapshot is a detached deep copy of a resource subtree.
type Snapshot struct {
	Address  model.Address                   `json:"address"`
	Model    map[string]any                  `json:"model"`
	Children map[string]map[string]*Snapshot `json:"children,omitempty"`
}

func snapshotOf(addr model.Address, n *node) *Snapshot {
	s := &Snapshot{
		Address: addr,
		Model:   model.CopyMap(n.model),
	}
	if s.Model == nil {
		s.Model = make(map[string]any)
	}
	if len(n.children) > 0 {
		s.Children = make(map[string]map[string]*Snapshot, len(n.children))
		for typ, byName := range n.children {
			m := make(map[string]*Snapshot, len(byName))
			for name, child := range byName {
				m[name] = snapshotOf(addr.Append(typ, name), child)
			}
			s.Children[typ] = m
		}
	}
	return s
}

func (s *Snapshot) build() *node {
	n := newNode(model.CopyMap(s.Model))
	for typ, byName := range s.Children {
		m := make(map[string]*node, len(byName))
		for name, child := range byName {
			m[name] = child.build()
		}
		n.children[typ] = m
	}
	return n
}

// Value renders the snapshot as a structured value: the attributes plus one
// entry per child type mapping child names to their rendered values. Without
// recursion child names map to nil.
func (s *Snapshot) Value(recursive bool) map[string]any {
	out := model.CopyMap(s.Model)
	if out == nil {
		out = make(map[string]any)
	}
	for typ, byName := range s.Children {
		children := make(map[string]any, len(byName))
		for name, child := range byName {
			if recursive {
				children[name] = child.Value(true)
			} else {
				children[name] = nil
			}
		}
		out[typ] = children
	}
	return out
}

// Walk visits the snapshot and every descendant in address order.
func (s *Snapshot) Walk(fn func(addr model.Address, attrs map[string]any) error) error {
	if err := fn(s.Address, s.Model); err != nil {
		return err
	}
	types := make([]string, 0, len(s.Children))
	for typ := range s.Children {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		names := make([]string, 0, len(s.Children[typ]))
		for name := range s.Children[typ] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := s.Children[typ][name].Walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count returns the number of resources in the snapshot.
func (s *Snapshot) Count() int {
	n := 1
	for _, byName := range s.Children {
		for _, child := range byName {
			n += child.Count()
		}
	}
	return n
}
