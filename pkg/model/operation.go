package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Standard operation names.
const (
	OpAdd                = "add"
	OpRemove             = "remove"
	OpReadResource       = "read-resource"
	OpReadAttribute      = "read-attribute"
	OpWriteAttribute     = "write-attribute"
	OpUndefineAttribute  = "undefine-attribute"
	OpComposite          = "composite"
	OpReadOperationNames = "read-operation-names"
)

// Standard parameter names.
const (
	ParamName            = "name"
	ParamValue           = "value"
	ParamSteps           = "steps"
	ParamRecursive       = "recursive"
	ParamIncludeDefaults = "include-defaults"
)

// reserved keys in the JSON form of an operation.
const (
	keyOperation = "operation"
	keyAddress   = "address"
)

// Operation is a named, parameterized request targeting one address.
//
// Operations are treated as immutable once submitted. Handlers that need a
// derived request use Clone, WithName or WithParam, all of which return a new
// value with its own parameter map.
type Operation struct {
	Address Address
	Name    string
	Params  map[string]any
}

// NewOperation creates an operation. The params map is deep-copied.
func NewOperation(name string, addr Address, params map[string]any) Operation {
	return Operation{
		Address: addr,
		Name:    name,
		Params:  CopyMap(params),
	}
}

// Param returns a parameter value.
func (o Operation) Param(name string) (any, bool) {
	v, ok := o.Params[name]
	return v, ok
}

// HasParam reports whether the parameter is present.
func (o Operation) HasParam(name string) bool {
	_, ok := o.Params[name]
	return ok
}

// StringParam returns a string parameter, or "" if absent or not a string.
func (o Operation) StringParam(name string) string {
	s, _ := o.Params[name].(string)
	return s
}

// BoolParam returns a boolean parameter, or def if absent or not a bool.
func (o Operation) BoolParam(name string, def bool) bool {
	if b, ok := o.Params[name].(bool); ok {
		return b
	}
	return def
}

// Clone returns a deep copy of the operation.
func (o Operation) Clone() Operation {
	return NewOperation(o.Name, o.Address, o.Params)
}

// WithName returns a copy of the operation under a different name.
func (o Operation) WithName(name string) Operation {
	c := o.Clone()
	c.Name = name
	return c
}

// WithParam returns a copy of the operation with one parameter set.
func (o Operation) WithParam(name string, value any) Operation {
	c := o.Clone()
	if c.Params == nil {
		c.Params = make(map[string]any)
	}
	c.Params[name] = DeepCopy(value)
	return c
}

// WithoutParam returns a copy of the operation with one parameter removed.
func (o Operation) WithoutParam(name string) Operation {
	c := o.Clone()
	delete(c.Params, name)
	return c
}

// ToMap returns the structured form of the operation: the parameters plus
// "operation" and "address" entries. It is the shape used in notification
// payloads and policy input.
func (o Operation) ToMap() map[string]any {
	m := CopyMap(o.Params)
	if m == nil {
		m = make(map[string]any)
	}
	m[keyOperation] = o.Name
	segments := o.Address.Segments()
	addr := make([]any, 0, len(segments))
	for _, s := range segments {
		addr = append(addr, map[string]any{s.Key: s.Value})
	}
	m[keyAddress] = addr
	return m
}

// String returns a short human-readable form such as
// "/subsystem=messaging:write-attribute(name=x,value=9)".
func (o Operation) String() string {
	keys := make([]string, 0, len(o.Params))
	for k := range o.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := o.Address.String() + ":" + o.Name + "("
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%v", k, o.Params[k])
	}
	return s + ")"
}

// MarshalJSON encodes the operation in its structured form.
func (o Operation) MarshalJSON() ([]byte, error) {
	m := CopyMap(o.Params)
	if m == nil {
		m = make(map[string]any)
	}
	m[keyOperation] = o.Name
	m[keyAddress] = o.Address
	return json.Marshal(m)
}

// UnmarshalJSON decodes the structured form written by MarshalJSON.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	nameRaw, ok := raw[keyOperation]
	if !ok {
		return fmt.Errorf("operation has no %q field", keyOperation)
	}
	var op Operation
	if err := json.Unmarshal(nameRaw, &op.Name); err != nil {
		return fmt.Errorf("invalid operation name: %w", err)
	}
	if addrRaw, ok := raw[keyAddress]; ok {
		if err := json.Unmarshal(addrRaw, &op.Address); err != nil {
			return err
		}
	}
	delete(raw, keyOperation)
	delete(raw, keyAddress)
	if len(raw) > 0 {
		op.Params = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("invalid parameter %q: %w", k, err)
			}
			op.Params[k] = val
		}
	}
	*o = op
	return nil
}

// OperationFromMap builds an operation from its structured form. The address
// may be a textual address or the ordered list form.
func OperationFromMap(m map[string]any) (Operation, error) {
	name, ok := m[keyOperation].(string)
	if !ok || name == "" {
		return Operation{}, fmt.Errorf("operation has no %q field", keyOperation)
	}
	var addr Address
	switch a := m[keyAddress].(type) {
	case nil:
	case Address:
		addr = a
	case string:
		parsed, err := ParseAddress(a)
		if err != nil {
			return Operation{}, err
		}
		addr = parsed
	case []any:
		segments := make([]Segment, 0, len(a))
		for _, item := range a {
			entry, ok := item.(map[string]any)
			if !ok || len(entry) != 1 {
				return Operation{}, fmt.Errorf("invalid address segment %v", item)
			}
			for k, v := range entry {
				segments = append(segments, Segment{Key: k, Value: fmt.Sprint(v)})
			}
		}
		parsed, err := AddressOf(segments...)
		if err != nil {
			return Operation{}, err
		}
		addr = parsed
	default:
		return Operation{}, fmt.Errorf("invalid address %v", a)
	}

	params := make(map[string]any)
	for k, v := range m {
		if k == keyOperation || k == keyAddress {
			continue
		}
		params[k] = v
	}
	return NewOperation(name, addr, params), nil
}
