package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Service is the runtime service behind a resource. Add starts it in
// RUNTIME, remove stops it.
type Service interface {
	Start(ctx context.Context, addr model.Address, attrs map[string]any) error
	Stop(ctx context.Context, addr model.Address) error
}

// ResourceDescription describes the resources matching an address pattern.
type ResourceDescription struct {
	// Pattern is the address pattern, e.g. /subsystem=messaging/queue=*.
	Pattern model.Address `json:"pattern"`

	Description string `json:"description,omitempty"`

	Attributes []*AttributeDefinition `json:"attributes,omitempty" validate:"dive"`

	// Service, if set, follows the resource lifecycle in RUNTIME.
	Service Service `json:"-"`

	attrs map[string]*AttributeDefinition
}

// Attribute returns the named attribute definition.
func (d *ResourceDescription) Attribute(name string) (*AttributeDefinition, bool) {
	a, ok := d.attrs[name]
	return a, ok
}

// Defaults returns the default values of stored attributes.
func (d *ResourceDescription) Defaults() map[string]any {
	out := make(map[string]any)
	for _, a := range d.Attributes {
		if a.Stored() && a.Default != nil {
			out[a.Name] = model.DeepCopy(a.Default)
		}
	}
	return out
}

// OperationOption configures an operation registration.
type OperationOption func(*engine.OperationEntry)

// ReadOnly marks an operation as not modifying the model.
func ReadOnly() OperationOption {
	return func(e *engine.OperationEntry) {
		e.ReadOnly = true
	}
}

// Describe sets the operation description.
func Describe(description string) OperationOption {
	return func(e *engine.OperationEntry) {
		e.Description = description
	}
}

type registration struct {
	pattern model.Address
	entries map[string]engine.OperationEntry
}

// Registry is the table of resource descriptions and operation handlers. It
// implements engine.HandlerResolver.
//
// Operations are registered against address patterns. Resolve picks the most
// specific matching pattern: the one with the most literal segment values.
// Global operations apply to the root and to every address matched by a
// registered resource description.
type Registry struct {
	mu         sync.RWMutex
	resources  map[model.Address]*ResourceDescription
	operations map[model.Address]*registration
	global     map[string]engine.OperationEntry

	checker  *valueChecker
	validate *validator.Validate
}

var _ engine.HandlerResolver = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		resources:  make(map[model.Address]*ResourceDescription),
		operations: make(map[model.Address]*registration),
		global:     make(map[string]engine.OperationEntry),
		checker:    newValueChecker(),
		validate:   validator.New(),
	}
}

// RegisterResource adds a resource description. Each pattern may only be
// described once.
func (r *Registry) RegisterResource(desc *ResourceDescription) error {
	if desc == nil {
		return fmt.Errorf("nil resource description")
	}
	if err := r.validate.Struct(desc); err != nil {
		return fmt.Errorf("invalid resource description %s: %w", desc.Pattern, err)
	}

	attrs := make(map[string]*AttributeDefinition, len(desc.Attributes))
	for _, a := range desc.Attributes {
		if _, dup := attrs[a.Name]; dup {
			return fmt.Errorf("resource %s: duplicate attribute %q", desc.Pattern, a.Name)
		}
		if err := r.checker.compile(a); err != nil {
			return fmt.Errorf("resource %s: %w", desc.Pattern, err)
		}
		if a.Default != nil {
			v, err := r.checker.check(a, a.Default)
			if err != nil {
				return fmt.Errorf("resource %s: invalid default: %w", desc.Pattern, err)
			}
			a.Default = v
		}
		attrs[a.Name] = a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[desc.Pattern]; exists {
		return fmt.Errorf("resource %s is already registered", desc.Pattern)
	}
	desc.attrs = attrs
	r.resources[desc.Pattern] = desc
	return nil
}

// RegisterOperation registers handler h for operation name on every address
// matched by pattern. A later registration for the same pattern and name
// replaces the earlier one.
func (r *Registry) RegisterOperation(pattern model.Address, name string, h engine.Handler, opts ...OperationOption) error {
	if name == "" || h == nil {
		return fmt.Errorf("operation registration needs a name and a handler")
	}
	entry := engine.OperationEntry{Handler: h}
	for _, opt := range opts {
		opt(&entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.operations[pattern]
	if !ok {
		reg = &registration{pattern: pattern, entries: make(map[string]engine.OperationEntry)}
		r.operations[pattern] = reg
	}
	reg.entries[name] = entry
	return nil
}

// RegisterGlobalOperation registers h for operation name on the root and on
// every described resource. Pattern registrations take precedence.
func (r *Registry) RegisterGlobalOperation(name string, h engine.Handler, opts ...OperationOption) error {
	if name == "" || h == nil {
		return fmt.Errorf("operation registration needs a name and a handler")
	}
	entry := engine.OperationEntry{Handler: h}
	for _, opt := range opts {
		opt(&entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[name] = entry
	return nil
}

// UnregisterOperation removes a pattern registration.
func (r *Registry) UnregisterOperation(pattern model.Address, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.operations[pattern]; ok {
		delete(reg.entries, name)
		if len(reg.entries) == 0 {
			delete(r.operations, pattern)
		}
	}
}

// specificity ranks pattern matches; more literal values rank higher.
func specificity(pattern model.Address) int {
	n := 0
	for _, s := range pattern.Segments() {
		if !s.IsWildcard() {
			n++
		}
	}
	return n
}

// better reports whether pattern a should be preferred over b.
func better(a, b model.Address) bool {
	sa, sb := specificity(a), specificity(b)
	if sa != sb {
		return sa > sb
	}
	return a.String() < b.String()
}

// Resolve implements engine.HandlerResolver.
func (r *Registry) Resolve(addr model.Address, name string) (engine.OperationEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best  engine.OperationEntry
		bestP model.Address
		found bool
	)
	for p, reg := range r.operations {
		if !addr.Matches(p) {
			continue
		}
		e, ok := reg.entries[name]
		if !ok {
			continue
		}
		if !found || better(p, bestP) {
			best, bestP, found = e, p, true
		}
	}
	if found {
		return best, true
	}

	e, ok := r.global[name]
	if !ok {
		return engine.OperationEntry{}, false
	}
	if addr.IsRoot() || r.describe(addr) != nil {
		return e, true
	}
	return engine.OperationEntry{}, false
}

// Description returns the description of the resource at addr.
func (r *Registry) Description(addr model.Address) (*ResourceDescription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.describe(addr)
	return d, d != nil
}

func (r *Registry) describe(addr model.Address) *ResourceDescription {
	var best *ResourceDescription
	for p, d := range r.resources {
		if addr.Matches(p) && (best == nil || better(p, best.Pattern)) {
			best = d
		}
	}
	return best
}

// Attribute returns the definition of attribute name on the resource at
// addr, failing with UnknownAttribute when the resource type does not
// declare it.
func (r *Registry) Attribute(addr model.Address, name string) (*AttributeDefinition, error) {
	d, ok := r.Description(addr)
	if !ok {
		return nil, engine.NewUnknownAttributeError(name, addr.String())
	}
	a, ok := d.Attribute(name)
	if !ok {
		return nil, engine.NewUnknownAttributeError(name, addr.String())
	}
	return a, nil
}

// CheckValue validates value for the attribute definition and returns it in
// canonical form.
func (r *Registry) CheckValue(addr model.Address, def *AttributeDefinition, value any) (any, error) {
	v, err := r.checker.check(def, value)
	if err != nil {
		return nil, engine.AsEngineError(err).WithResource(addr.String())
	}
	return v, nil
}

// CheckAttributes validates a full attribute set for the resource at addr,
// as supplied to add. Unknown names, metric attributes and missing required
// attributes are rejected. Defaults fill unset attributes.
func (r *Registry) CheckAttributes(addr model.Address, attrs map[string]any) (map[string]any, error) {
	d, ok := r.Description(addr)
	if !ok {
		if len(attrs) > 0 {
			return nil, engine.NewValidationError("resource type has no attributes", nil).
				WithResource(addr.String())
		}
		return map[string]any{}, nil
	}

	out := d.Defaults()
	for _, name := range sortedKeys(attrs) {
		def, ok := d.Attribute(name)
		if !ok {
			return nil, engine.NewUnknownAttributeError(name, addr.String())
		}
		if !def.Stored() {
			return nil, engine.NewAttributeNotWritableError(name, addr.String())
		}
		v, err := r.CheckValue(addr, def, attrs[name])
		if err != nil {
			return nil, err
		}
		if v == nil {
			delete(out, name)
			continue
		}
		out[name] = v
	}
	for _, def := range d.Attributes {
		if _, set := out[def.Name]; def.Required && !set {
			return nil, engine.NewValidationError(fmt.Sprintf("missing required attribute %q", def.Name), nil).
				WithResource(addr.String()).WithDetail("attribute", def.Name)
		}
	}
	return out, nil
}

// OperationNames lists the operations available at addr.
func (r *Registry) OperationNames(addr model.Address) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{})
	for p, reg := range r.operations {
		if addr.Matches(p) {
			for name := range reg.entries {
				set[name] = struct{}{}
			}
		}
	}
	if addr.IsRoot() || r.describe(addr) != nil {
		for name := range r.global {
			set[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptions returns the registered resource descriptions ordered by
// pattern.
func (r *Registry) Descriptions() []*ResourceDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ResourceDescription, 0, len(r.resources))
	for _, d := range r.resources {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pattern.String() < out[j].Pattern.String()
	})
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
