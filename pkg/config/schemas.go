package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Values validated
// against a schema must come from the registry's CUE context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.registerBuiltInSchemas(); err != nil {
		panic(fmt.Sprintf("built-in schemas: %v", err))
	}

	return sr
}

// Context returns the CUE context the schemas were compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// registerBuiltInSchemas registers every definition of the built-in schema
// source under its lower-case name.
func (sr *SchemaRegistry) registerBuiltInSchemas() error {
	val := sr.ctx.CompileString(builtinDescriptionSchema, cue.Filename("builtin.cue"))
	if err := val.Err(); err != nil {
		return err
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	for name, def := range map[string]string{
		"descriptions": "#Descriptions",
		"resource":     "#Resource",
		"attribute":    "#Attribute",
		"operation":    "#Operation",
	} {
		v := val.LookupPath(cue.ParsePath(def))
		if !v.Exists() {
			return fmt.Errorf("definition %s not found", def)
		}
		sr.schemas[name] = v
	}
	return nil
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies val with the named schema and requires the result to be
// concrete.
func (sr *SchemaRegistry) Validate(schemaName string, val cue.Value) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data any) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := sr.Validate(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinDescriptionSchema = `
// Attribute of a described resource.
#Attribute: {
	type?:             "STRING" | "INT" | "DOUBLE" | "BOOLEAN" | "LIST" | "OBJECT"
	access?:           "read-write" | "read-only" | "metric"
	description?:      string
	default?:          _
	required?:         bool
	validate?:         string
	constraint?:       string
	restart_required?: bool
}

// Resource description keyed by an address pattern such as
// /subsystem=messaging/queue=*.
#Resource: {
	pattern:      string & =~"^/"
	description?: string
	attributes?: {[string]: #Attribute}
}

// Operation implemented by a Starlark script.
#Operation: {
	pattern:      string & =~"^/"
	name:         string & =~"^[a-z][a-z0-9-]*$"
	description?: string
	read_only?:   bool
	timeout?:     string
	max_steps?:   int & >=0
	script:       string & !=""
}

#Descriptions: {
	resources?: [...#Resource]
	operations?: [...#Operation]
}
`
