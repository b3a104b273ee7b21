package handlers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/registry"
)

// Script is a custom operation implemented in Starlark.
//
// The script sees these globals:
//
//	address    the target address as a string
//	operation  the operation name
//	params     the operation parameters as a dict
//	model      the attributes of the target resource as a dict
//
// After it runs, a global named result becomes the operation result and a
// global named changes, a dict, is applied as one write-attribute step per
// entry, in key order. The builtin fail(msg) fails the operation.
type Script struct {
	// Name identifies the script in errors and logs.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is shown in operation listings. Empty means
	// "script <Name>".
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Source is the Starlark program.
	Source string `json:"source" yaml:"source" validate:"required"`

	// Timeout bounds one execution. Zero means 30 seconds.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxSteps bounds the number of Starlark execution steps. Zero means
	// unlimited.
	MaxSteps uint64 `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
}

const (
	defaultScriptTimeout = 30 * time.Second

	scriptResult  = "result"
	scriptChanges = "changes"
)

// RegisterScript registers s as operation name on pattern. Scripts that only
// read should be registered with readOnly set; they may not return changes.
func (h *Handlers) RegisterScript(pattern model.Address, name string, s Script, readOnly bool) error {
	if _, err := starlarkCompileCheck(s); err != nil {
		return err
	}
	description := s.Description
	if description == "" {
		description = "script " + s.Name
	}
	opts := []registry.OperationOption{registry.Describe(description)}
	if readOnly {
		opts = append(opts, registry.ReadOnly())
	}
	return h.registry.RegisterOperation(pattern, name, h.ScriptHandler(s), opts...)
}

// ScriptHandler returns a handler running s in MODEL.
func (h *Handlers) ScriptHandler(s Script) engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		attrs, err := ctx.ReadModel(op.Address)
		if err != nil {
			return err
		}
		input := map[string]any{
			"address":   op.Address.String(),
			"operation": op.Name,
			"params":    model.CopyMap(op.Params),
			"model":     attrs,
		}

		output, err := runScript(ctx.Context(), s, input, ctx)
		if err != nil {
			return engine.NewValidationError(fmt.Sprintf("script %s failed", s.Name), err).
				WithOperation(op.Name).WithResource(op.Address.String())
		}

		if v, ok := output[scriptResult]; ok {
			ctx.Response().SetResult(v)
		}

		changes, ok := output[scriptChanges]
		if !ok || changes == nil {
			return nil
		}
		m, ok := changes.(map[string]any)
		if !ok {
			return engine.NewValidationError(fmt.Sprintf("script %s: %q must be a dict", s.Name, scriptChanges), nil)
		}
		if len(m) == 0 {
			return nil
		}
		entry, ok := h.registry.Resolve(op.Address, model.OpWriteAttribute)
		if !ok {
			return engine.NewUnknownOperationError(model.OpWriteAttribute, op.Address.String())
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			write := model.NewOperation(model.OpWriteAttribute, op.Address, map[string]any{
				model.ParamName:  name,
				model.ParamValue: m[name],
			})
			if err := ctx.AddStep(engine.NewResponse(), write, entry.Handler, engine.PhaseModel); err != nil {
				return err
			}
		}
		return nil
	})
}

func starlarkCompileCheck(s Script) (*starlark.Program, error) {
	if s.Name == "" || s.Source == "" {
		return nil, fmt.Errorf("script needs a name and a source")
	}
	_, prog, err := starlark.SourceProgram(s.Name+".star", s.Source, predeclaredNames().Has)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", s.Name, err)
	}
	return prog, nil
}

func predeclaredNames() starlark.StringDict {
	return starlark.StringDict{
		"struct":    starlark.NewBuiltin("struct", starlarkstruct.Make),
		"address":   starlark.None,
		"operation": starlark.None,
		"params":    starlark.None,
		"model":     starlark.None,
	}
}

// runScript executes s with input bound as globals and returns the exported
// globals. Names starting with an underscore are not exported.
func runScript(ctx context.Context, s Script, input map[string]any, ectx engine.Context) (map[string]any, error) {
	thread := &starlark.Thread{
		Name: s.Name,
		Print: func(_ *starlark.Thread, msg string) {
			if ectx != nil {
				ectx.Logger().Debug().Str("script", s.Name).Msg(msg)
			}
		},
	}
	if s.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(s.MaxSteps)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	timer := time.AfterFunc(timeout, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", timeout))
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel("context done")
	})
	defer stop()

	predeclared := predeclaredNames()
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, s.Name+".star", s.Source, predeclared)
	if err != nil {
		return nil, err
	}

	output := make(map[string]any, len(globals))
	for name, val := range globals {
		if name == "" || name[0] == '_' {
			continue
		}
		if _, isFunc := val.(*starlark.Function); isFunc {
			continue
		}
		v, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = v
	}
	return output, nil
}

// toStarlarkValue converts a structured value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a structured value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			v, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
