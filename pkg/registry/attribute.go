package registry

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

// AttributeType is the value type of an attribute.
type AttributeType string

const (
	TypeAny     AttributeType = ""
	TypeString  AttributeType = "STRING"
	TypeInt     AttributeType = "INT"
	TypeDouble  AttributeType = "DOUBLE"
	TypeBoolean AttributeType = "BOOLEAN"
	TypeList    AttributeType = "LIST"
	TypeObject  AttributeType = "OBJECT"
)

// AccessType controls how an attribute can be used.
type AccessType string

const (
	// AccessReadWrite attributes are stored in the model and writable.
	AccessReadWrite AccessType = "read-write"

	// AccessReadOnly attributes are stored in the model but only set on add.
	AccessReadOnly AccessType = "read-only"

	// AccessMetric attributes are not stored; their value is read from the
	// running service.
	AccessMetric AccessType = "metric"
)

// RuntimeApplier pushes an attribute change to a running service.
//
// Apply runs in RUNTIME after the model was updated. Returning reload=true
// means the change could not be applied in place; the result is then flagged
// reload-required. Revert undoes a successful Apply when a later step fails.
type RuntimeApplier interface {
	Apply(ctx context.Context, addr model.Address, name string, oldValue, newValue any) (reload bool, err error)
	Revert(ctx context.Context, addr model.Address, name string, oldValue, newValue any) error
}

// RuntimeFuncs adapts a pair of functions to RuntimeApplier. A nil RevertFunc
// makes the change irreversible: a rollback then requires a reload.
type RuntimeFuncs struct {
	ApplyFunc  func(ctx context.Context, addr model.Address, name string, oldValue, newValue any) (bool, error)
	RevertFunc func(ctx context.Context, addr model.Address, name string, oldValue, newValue any) error
}

// Apply calls ApplyFunc.
func (f RuntimeFuncs) Apply(ctx context.Context, addr model.Address, name string, oldValue, newValue any) (bool, error) {
	if f.ApplyFunc == nil {
		return false, nil
	}
	return f.ApplyFunc(ctx, addr, name, oldValue, newValue)
}

// Revert calls RevertFunc.
func (f RuntimeFuncs) Revert(ctx context.Context, addr model.Address, name string, oldValue, newValue any) error {
	if f.RevertFunc == nil {
		return nil
	}
	return f.RevertFunc(ctx, addr, name, oldValue, newValue)
}

// Reversible reports whether Revert can undo Apply.
func (f RuntimeFuncs) Reversible() bool {
	return f.RevertFunc != nil
}

// MetricReader reads the current value of a metric attribute.
type MetricReader func(ctx context.Context, addr model.Address) (any, error)

// AttributeDefinition describes one attribute of a resource type.
type AttributeDefinition struct {
	Name        string        `json:"name" validate:"required"`
	Description string        `json:"description,omitempty"`
	Type        AttributeType `json:"type,omitempty" validate:"omitempty,oneof=STRING INT DOUBLE BOOLEAN LIST OBJECT"`
	Access      AccessType    `json:"access,omitempty" validate:"omitempty,oneof=read-write read-only metric"`
	Default     any           `json:"default,omitempty"`

	// Required attributes must be set on add and cannot be undefined.
	Required bool `json:"required,omitempty"`

	// Validate is a validator tag applied to the value, e.g. "min=1,max=100".
	Validate string `json:"validate,omitempty"`

	// Constraint is a CUE expression the value must unify with, e.g.
	// `>=1 & <=65535` or `"async" | "sync"`.
	Constraint string `json:"constraint,omitempty"`

	// RestartRequired attributes are not applied to the running service; a
	// write flags the result reload-required instead.
	RestartRequired bool `json:"restart-required,omitempty"`

	// Runtime applies writes to the running service.
	Runtime RuntimeApplier `json:"-"`

	// Metric reads AccessMetric attributes.
	Metric MetricReader `json:"-"`

	constraint cue.Value
}

// Writable reports whether write-attribute accepts the attribute.
func (d *AttributeDefinition) Writable() bool {
	return d.Access == "" || d.Access == AccessReadWrite
}

// Stored reports whether the attribute value lives in the model.
func (d *AttributeDefinition) Stored() bool {
	return d.Access != AccessMetric
}

// Normalize checks value against the definition and returns it in canonical
// form: integers as int64, doubles as float64. A nil value is accepted unless
// the attribute is required.
func (d *AttributeDefinition) Normalize(value any) (any, error) {
	if value == nil {
		if d.Required {
			return nil, fmt.Errorf("attribute %q is required", d.Name)
		}
		return nil, nil
	}
	switch d.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			return nil, fmt.Errorf("expected STRING, got %T", value)
		}
	case TypeInt:
		n, ok := model.AsInt(value)
		if !ok {
			return nil, fmt.Errorf("expected INT, got %v", value)
		}
		value = n
	case TypeDouble:
		f, ok := model.AsFloat(value)
		if !ok {
			return nil, fmt.Errorf("expected DOUBLE, got %v", value)
		}
		value = f
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return nil, fmt.Errorf("expected BOOLEAN, got %T", value)
		}
	case TypeList:
		if _, ok := value.([]any); !ok {
			return nil, fmt.Errorf("expected LIST, got %T", value)
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return nil, fmt.Errorf("expected OBJECT, got %T", value)
		}
	}
	return value, nil
}

// valueChecker validates attribute values with validator tags and CUE
// constraints.
type valueChecker struct {
	validate *validator.Validate

	// cue.Context is not safe for concurrent use.
	mu  sync.Mutex
	cue *cue.Context
}

func newValueChecker() *valueChecker {
	return &valueChecker{
		validate: validator.New(),
		cue:      cuecontext.New(),
	}
}

// compile prepares the definition's CUE constraint.
func (vc *valueChecker) compile(d *AttributeDefinition) error {
	if d.Constraint == "" {
		return nil
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()

	v := vc.cue.CompileString(d.Constraint)
	if err := v.Err(); err != nil {
		return fmt.Errorf("attribute %q: invalid constraint: %w", d.Name, err)
	}
	d.constraint = v
	return nil
}

// check normalizes value and runs the definition's validators.
func (vc *valueChecker) check(d *AttributeDefinition, value any) (any, error) {
	value, err := d.Normalize(value)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("invalid value for attribute %q", d.Name), err).
			WithDetail("attribute", d.Name)
	}
	if value == nil {
		return nil, nil
	}

	if d.Validate != "" {
		if err := vc.validate.Var(value, d.Validate); err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("invalid value for attribute %q", d.Name), err).
				WithDetail("attribute", d.Name).
				WithDetail("rule", d.Validate)
		}
	}

	if d.Constraint != "" {
		vc.mu.Lock()
		unified := d.constraint.Unify(vc.cue.Encode(value))
		err := unified.Validate(cue.Concrete(true))
		vc.mu.Unlock()
		if err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("invalid value for attribute %q", d.Name), err).
				WithDetail("attribute", d.Name).
				WithDetail("constraint", d.Constraint)
		}
	}
	return value, nil
}
