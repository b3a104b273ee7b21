package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/mgmtcore/pkg/handlers"
	"github.com/openfroyo/mgmtcore/pkg/registry"
)

// AttributeSpec is an attribute definition as authored in CUE.
type AttributeSpec struct {
	Type            string `json:"type,omitempty"`
	Access          string `json:"access,omitempty"`
	Description     string `json:"description,omitempty"`
	Default         any    `json:"default,omitempty"`
	Required        bool   `json:"required,omitempty"`
	Validate        string `json:"validate,omitempty"`
	Constraint      string `json:"constraint,omitempty"`
	RestartRequired bool   `json:"restart_required,omitempty"`
}

// ResourceSpec is a resource description as authored in CUE. Attributes
// keep their declaration order.
type ResourceSpec struct {
	Pattern     string `json:"pattern" validate:"required,startswith=/"`
	Description string `json:"description,omitempty"`

	Attributes []NamedAttribute `json:"-"`
}

// NamedAttribute pairs an attribute spec with its name.
type NamedAttribute struct {
	Name string
	AttributeSpec
}

// OperationSpec is a Starlark-scripted operation as authored in CUE.
type OperationSpec struct {
	Pattern     string `json:"pattern" validate:"required,startswith=/"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	ReadOnly    bool   `json:"read_only,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	MaxSteps    uint64 `json:"max_steps,omitempty"`
	Script      string `json:"script" validate:"required"`
}

// Descriptions is the result of loading resource description sources.
type Descriptions struct {
	Resources  []ResourceSpec  `json:"resources"`
	Operations []OperationSpec `json:"operations"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the sources were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors. Descriptions with errors cannot be
	// applied.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether loading produced errors.
func (d *Descriptions) HasErrors() bool {
	return len(d.Errors) > 0
}

// Err joins the validation errors into one error, or returns nil.
func (d *Descriptions) Err() error {
	if !d.HasErrors() {
		return nil
	}
	msgs := make([]string, len(d.Errors))
	for i, e := range d.Errors {
		msgs[i] = e.String()
	}
	return fmt.Errorf("invalid resource descriptions: %s", strings.Join(msgs, "; "))
}

// ResourceDescriptions converts the resource specs to registry descriptions.
func (d *Descriptions) ResourceDescriptions() ([]*registry.ResourceDescription, error) {
	out := make([]*registry.ResourceDescription, 0, len(d.Resources))
	for _, r := range d.Resources {
		desc, err := r.ResourceDescription()
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// ResourceDescription converts the spec to a registry description.
func (r ResourceSpec) ResourceDescription() (*registry.ResourceDescription, error) {
	pattern, err := parsePattern(r.Pattern)
	if err != nil {
		return nil, err
	}
	desc := &registry.ResourceDescription{
		Pattern:     pattern,
		Description: r.Description,
		Attributes:  make([]*registry.AttributeDefinition, 0, len(r.Attributes)),
	}
	for _, a := range r.Attributes {
		desc.Attributes = append(desc.Attributes, &registry.AttributeDefinition{
			Name:            a.Name,
			Description:     a.Description,
			Type:            registry.AttributeType(a.Type),
			Access:          registry.AccessType(a.Access),
			Default:         a.Default,
			Required:        a.Required,
			Validate:        a.Validate,
			Constraint:      a.Constraint,
			RestartRequired: a.RestartRequired,
		})
	}
	return desc, nil
}

// ScriptDefinition converts the spec to a script handler definition.
func (o OperationSpec) ScriptDefinition() (handlers.Script, error) {
	s := handlers.Script{Name: o.Name, Description: o.Description, Source: o.Script, MaxSteps: o.MaxSteps}
	if o.Timeout != "" {
		d, err := time.ParseDuration(o.Timeout)
		if err != nil {
			return s, fmt.Errorf("operation %s: invalid timeout: %w", o.Name, err)
		}
		s.Timeout = d
	}
	return s, nil
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "resources.0.pattern").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String formats the error with its location.
func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}
