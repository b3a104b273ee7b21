package notify

import (
	"sort"
	"sync"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Handler receives notifications in process.
//
// Handlers are kept in sets, so implementations must be comparable; pointer
// receivers are the usual choice. Use NewHandler to wrap a plain function.
type Handler interface {
	HandleNotification(n *Notification) error
}

type funcHandler struct {
	fn func(*Notification) error
}

func (h *funcHandler) HandleNotification(n *Notification) error {
	return h.fn(n)
}

// NewHandler wraps fn as a Handler. Each call returns a distinct handler, so
// keep the result to unregister it later.
func NewHandler(fn func(n *Notification) error) Handler {
	return &funcHandler{fn: fn}
}

type filteredHandler struct {
	next   Handler
	accept func(*Notification) bool
}

func (h *filteredHandler) HandleNotification(n *Notification) error {
	if !h.accept(n) {
		return nil
	}
	return h.next.HandleNotification(n)
}

// Filtered returns a handler that passes to next only the notifications
// accepted by accept.
func Filtered(next Handler, accept func(n *Notification) bool) Handler {
	return &filteredHandler{next: next, accept: accept}
}

// OfType accepts notifications of the given types.
func OfType(types ...string) func(*Notification) bool {
	return func(n *Notification) bool {
		for _, t := range types {
			if n.Type == t {
				return true
			}
		}
		return false
	}
}

// Registry maps source addresses to listener addresses and to in-process
// handlers. Registrations are independent of the resource tree: they are
// neither created nor removed by resource changes. Source addresses are
// keyed with * wildcards normalized to #, so /server=s1/queue=* and
// /server=s1/queue=# name the same subscription.
//
// The registry has its own lock and never calls out while holding it.
type Registry struct {
	mu        sync.RWMutex
	listeners map[model.Address]map[model.Address]struct{}
	handlers  map[model.Address]map[Handler]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[model.Address]map[model.Address]struct{}),
		handlers:  make(map[model.Address]map[Handler]struct{}),
	}
}

// RegisterListener adds listener to the listener set of source. Registering
// the same pair twice has no effect.
func (r *Registry) RegisterListener(source, listener model.Address) {
	source = source.CanonicalWildcards()
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.listeners[source]
	if !ok {
		set = make(map[model.Address]struct{})
		r.listeners[source] = set
	}
	set[listener] = struct{}{}
}

// UnregisterListener removes listener from the listener set of source.
func (r *Registry) UnregisterListener(source, listener model.Address) {
	source = source.CanonicalWildcards()
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.listeners[source]
	if !ok {
		return
	}
	delete(set, listener)
	if len(set) == 0 {
		delete(r.listeners, source)
	}
}

// Listeners returns the listeners registered for source, ordered by address.
// The result is empty, never nil, when there are none.
func (r *Registry) Listeners(source model.Address) []model.Address {
	source = source.CanonicalWildcards()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Address, 0, len(r.listeners[source]))
	for l := range r.listeners[source] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// RegisterHandler adds h to the handler set of source. source may be a
// wildcard fallback address such as /server=s1/queue=#.
func (r *Registry) RegisterHandler(source model.Address, h Handler) {
	if h == nil {
		return
	}
	source = source.CanonicalWildcards()
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.handlers[source]
	if !ok {
		set = make(map[Handler]struct{})
		r.handlers[source] = set
	}
	set[h] = struct{}{}
}

// UnregisterHandler removes h from the handler set of source.
func (r *Registry) UnregisterHandler(source model.Address, h Handler) {
	if h == nil {
		return
	}
	source = source.CanonicalWildcards()
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.handlers[source]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.handlers, source)
	}
}

// Handlers returns the handlers registered exactly at source.
func (r *Registry) Handlers(source model.Address) []Handler {
	source = source.CanonicalWildcards()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlersAt(source)
}

func (r *Registry) handlersAt(source model.Address) []Handler {
	set := r.handlers[source]
	if len(set) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// Match returns the handlers that receive notifications emitted at source:
// the handlers registered exactly at source or, when there are none, those
// registered at its wildcard fallback address.
func (r *Registry) Match(source model.Address) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if hs := r.handlersAt(source); len(hs) > 0 {
		return hs
	}
	if fallback, ok := source.WildcardFallback(); ok {
		return r.handlersAt(fallback)
	}
	return nil
}
