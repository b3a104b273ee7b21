package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mgmtcore/pkg/handlers"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/registry"
)

// DescriptionLoader parses resource descriptions and scripted operations
// from CUE sources:
//
//	resources: [{
//		pattern: "/server=*/queue=*"
//		attributes: {
//			"max-size": {type: "INT", default: 1024, constraint: ">=0 & <=1048576"}
//			mode: {type: "STRING", required: true, constraint: "\"async\" | \"sync\""}
//		}
//	}]
//	operations: [{
//		pattern: "/server=*/queue=*"
//		name:    "double-size"
//		script:  "changes = {\"max-size\": model[\"max-size\"] * 2}"
//	}]
//
// Files given together are unified, so a description may be split across
// several files.
type DescriptionLoader struct {
	mu        sync.Mutex
	schemas   *SchemaRegistry
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewDescriptionLoader creates a new description loader.
func NewDescriptionLoader(logger zerolog.Logger) *DescriptionLoader {
	return &DescriptionLoader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
		logger:    logger.With().Str("component", "description-loader").Logger(),
	}
}

// Schemas returns the schema registry the loader validates against.
func (l *DescriptionLoader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load parses the given files and directories. Directories contribute every
// .cue file below them. Problems in the sources are reported in
// Descriptions.Errors; the returned error is for unusable arguments only.
func (l *DescriptionLoader) Load(sources []string) (*Descriptions, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}
		found, err := cueFiles(source)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := &Descriptions{SourceFiles: files, ParsedAt: time.Now()}
	var unified cue.Value
	for _, file := range files {
		val, errs := l.loadFile(file)
		if len(errs) > 0 {
			out.Errors = append(out.Errors, errs...)
			continue
		}
		if unified.Exists() {
			unified = unified.Unify(val)
		} else {
			unified = val
		}
	}
	if out.HasErrors() || !unified.Exists() {
		return out, nil
	}
	l.extract(unified, out)

	l.logger.Debug().
		Int("files", len(files)).
		Int("resources", len(out.Resources)).
		Int("operations", len(out.Operations)).
		Int("errors", len(out.Errors)).
		Msg("Resource descriptions loaded")
	return out, nil
}

// LoadString parses inline CUE content.
func (l *DescriptionLoader) LoadString(name, content string) *Descriptions {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := &Descriptions{SourceFiles: []string{name}, ParsedAt: time.Now()}
	val := l.schemas.Context().CompileString(content, cue.Filename(name))
	if err := val.Err(); err != nil {
		out.Errors = convertCUEErrors(err)
		return out
	}
	l.extract(val, out)
	return out
}

// cueFiles lists the .cue files below dir in lexical order.
func cueFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// loadFile loads a single CUE file.
func (l *DescriptionLoader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := l.schemas.Context().CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// extract validates val against the description schema and decodes it.
func (l *DescriptionLoader) extract(val cue.Value, out *Descriptions) {
	if err := val.Err(); err != nil {
		out.Errors = append(out.Errors, convertCUEErrors(err)...)
		return
	}
	if err := l.schemas.Validate("descriptions", val); err != nil {
		out.Errors = append(out.Errors, convertCUEErrors(err)...)
		return
	}

	if resources := val.LookupPath(cue.ParsePath("resources")); resources.Exists() {
		list, err := resources.List()
		if err != nil {
			out.Errors = append(out.Errors, ValidationError{Path: "resources", Message: err.Error()})
		} else {
			for idx := 0; list.Next(); idx++ {
				r, err := l.extractResource(list.Value())
				if err != nil {
					out.Errors = append(out.Errors, ValidationError{
						Path:    fmt.Sprintf("resources[%d]", idx),
						Message: err.Error(),
					})
					continue
				}
				out.Resources = append(out.Resources, r)
			}
		}
	}

	if operations := val.LookupPath(cue.ParsePath("operations")); operations.Exists() {
		list, err := operations.List()
		if err != nil {
			out.Errors = append(out.Errors, ValidationError{Path: "operations", Message: err.Error()})
		} else {
			for idx := 0; list.Next(); idx++ {
				var op OperationSpec
				if err := list.Value().Decode(&op); err != nil {
					out.Errors = append(out.Errors, ValidationError{
						Path:    fmt.Sprintf("operations[%d]", idx),
						Message: fmt.Sprintf("failed to decode operation: %v", err),
					})
					continue
				}
				if err := l.validator.Struct(op); err != nil {
					out.Errors = append(out.Errors, ValidationError{
						Path:    fmt.Sprintf("operations[%d]", idx),
						Message: fmt.Sprintf("validation failed: %v", err),
					})
					continue
				}
				out.Operations = append(out.Operations, op)
			}
		}
	}
}

// extractResource decodes one resource, keeping attribute order.
func (l *DescriptionLoader) extractResource(val cue.Value) (ResourceSpec, error) {
	var r ResourceSpec
	if err := val.Decode(&r); err != nil {
		return r, fmt.Errorf("failed to decode resource: %w", err)
	}
	if err := l.validator.Struct(r); err != nil {
		return r, fmt.Errorf("validation failed: %w", err)
	}
	if _, err := parsePattern(r.Pattern); err != nil {
		return r, err
	}

	attrs := val.LookupPath(cue.ParsePath("attributes"))
	if !attrs.Exists() {
		return r, nil
	}
	iter, err := attrs.Fields()
	if err != nil {
		return r, fmt.Errorf("failed to iterate attributes: %w", err)
	}
	for iter.Next() {
		var spec AttributeSpec
		if err := iter.Value().Decode(&spec); err != nil {
			return r, fmt.Errorf("attribute %s: %w", iter.Selector().Unquoted(), err)
		}
		r.Attributes = append(r.Attributes, NamedAttribute{Name: iter.Selector().Unquoted(), AttributeSpec: spec})
	}
	return r, nil
}

func parsePattern(s string) (model.Address, error) {
	addr, err := model.ParseAddress(s)
	if err != nil {
		return model.Address{}, fmt.Errorf("invalid pattern %q: %w", s, err)
	}
	return addr, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		})
	}

	return validationErrors
}

// Apply registers the resource descriptions with reg and the scripted
// operations through h. It stops at the first registration error.
func (d *Descriptions) Apply(reg *registry.Registry, h *handlers.Handlers) error {
	if err := d.Err(); err != nil {
		return err
	}
	descs, err := d.ResourceDescriptions()
	if err != nil {
		return err
	}
	for _, desc := range descs {
		if err := reg.RegisterResource(desc); err != nil {
			return err
		}
	}
	for _, op := range d.Operations {
		pattern, err := parsePattern(op.Pattern)
		if err != nil {
			return err
		}
		script, err := op.ScriptDefinition()
		if err != nil {
			return err
		}
		if err := h.RegisterScript(pattern, op.Name, script, op.ReadOnly); err != nil {
			return fmt.Errorf("operation %s on %s: %w", op.Name, op.Pattern, err)
		}
	}
	return nil
}
