package handlers

import (
	"context"
	"fmt"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/notify"
	"github.com/openfroyo/mgmtcore/pkg/registry"
)

// ReadAttribute returns the read-attribute handler.
//
// Stored attributes are read from the model; undefined ones yield their
// default unless include-defaults is false. Metric attributes are read from
// the running service in RUNTIME.
func (h *Handlers) ReadAttribute() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		name := op.StringParam(model.ParamName)
		if name == "" {
			return missingParam(op, model.ParamName)
		}
		def, err := h.registry.Attribute(op.Address, name)
		if err != nil {
			return err
		}

		if !def.Stored() {
			if ok, err := ctx.Exists(op.Address); err != nil {
				return err
			} else if !ok {
				return engine.NewResourceNotFoundError(op.Address.String(), nil)
			}
			if def.Metric == nil {
				ctx.Response().SetResult(nil)
				return nil
			}
			return ctx.AddStep(nil, op, engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
				v, err := def.Metric(ctx.Context(), op.Address)
				if err != nil {
					return runtimeError(err, "failed to read metric %q", def.Name)
				}
				ctx.Response().SetResult(v)
				return nil
			}), engine.PhaseRuntime)
		}

		v, err := readStored(ctx, op.Address, def, op.BoolParam(model.ParamIncludeDefaults, true))
		if err != nil {
			return err
		}
		ctx.Response().SetResult(v)
		return nil
	})
}

func readStored(ctx engine.Context, addr model.Address, def *registry.AttributeDefinition, includeDefaults bool) (any, error) {
	v, ok, err := ctx.ReadAttribute(addr, def.Name)
	if err != nil {
		return nil, err
	}
	if !ok && includeDefaults {
		return model.DeepCopy(def.Default), nil
	}
	return v, nil
}

// WriteAttribute returns the write-attribute handler, which coordinates an
// attribute change across the phases:
//
//  1. a read of the current value, queued at the head of the current phase
//  2. the model write, queued right after it; it either flags the result
//     reload-required or queues the runtime update for RUNTIME
//  3. an ATTRIBUTE_VALUE_CHANGED notification queued for VERIFY, emitted only
//     if nothing failed
func (h *Handlers) WriteAttribute() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		name := op.StringParam(model.ParamName)
		if name == "" {
			return missingParam(op, model.ParamName)
		}
		if !op.HasParam(model.ParamValue) {
			return missingParam(op, model.ParamValue)
		}
		raw, _ := op.Param(model.ParamValue)
		return h.write(ctx, op, name, raw)
	})
}

// UndefineAttribute returns the undefine-attribute handler: a write of an
// undefined value through the same coordinator.
func (h *Handlers) UndefineAttribute() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		name := op.StringParam(model.ParamName)
		if name == "" {
			return missingParam(op, model.ParamName)
		}
		return h.write(ctx, op, name, nil)
	})
}

func (h *Handlers) write(ctx engine.Context, op model.Operation, name string, raw any) error {
	def, err := h.registry.Attribute(op.Address, name)
	if err != nil {
		return err
	}
	if !def.Writable() {
		return engine.NewAttributeNotWritableError(name, op.Address.String())
	}
	newValue, err := h.registry.CheckValue(op.Address, def, raw)
	if err != nil {
		return err
	}

	oldValue := engine.NewSlot[any]("old-value")
	read := op.WithName(model.OpReadAttribute).WithoutParam(model.ParamValue)
	if err := ctx.AddStepFirst(engine.NewResponse(), read, captureAttribute(def, oldValue), ctx.Phase()); err != nil {
		return err
	}
	if err := ctx.AddStepFirst(nil, op, h.applyWrite(def, oldValue, newValue), ctx.Phase()); err != nil {
		return err
	}
	return ctx.AddStep(nil, op, h.emitValueChanged(def, oldValue, newValue), engine.PhaseVerify)
}

// captureAttribute stores the current value, default included, in slot.
func captureAttribute(def *registry.AttributeDefinition, slot engine.Slot[any]) engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		v, err := readStored(ctx, op.Address, def, true)
		if err != nil {
			return err
		}
		slot.Set(ctx, v)
		return nil
	})
}

func (h *Handlers) applyWrite(def *registry.AttributeDefinition, oldValue engine.Slot[any], newValue any) engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		if err := ctx.WriteModel(op.Address, func(attrs map[string]any) error {
			attrs[def.Name] = newValue
			return nil
		}); err != nil {
			return err
		}

		switch {
		case def.RestartRequired:
			ctx.RequireReload()
			return nil
		case def.Runtime != nil:
			old, _ := oldValue.Get(ctx)
			return ctx.AddStep(nil, op, applyRuntime(def, old, newValue), engine.PhaseRuntime)
		default:
			return nil
		}
	})
}

type reversible interface {
	Reversible() bool
}

func applyRuntime(def *registry.AttributeDefinition, oldValue, newValue any) engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		reload, err := def.Runtime.Apply(ctx.Context(), op.Address, def.Name, oldValue, newValue)
		if err != nil {
			return runtimeError(err, "failed to apply attribute %q", def.Name)
		}
		if reload {
			// Nothing changed at runtime, so nothing to revert.
			ctx.RequireReload()
			return nil
		}
		if r, ok := def.Runtime.(reversible); ok && !r.Reversible() {
			ctx.CompleteStep(engine.ReloadOnRollback)
			return nil
		}
		addr := op.Address
		ctx.CompleteStep(engine.RollbackFunc(func(ctx context.Context) error {
			return def.Runtime.Revert(ctx, addr, def.Name, oldValue, newValue)
		}))
		return nil
	})
}

func (h *Handlers) emitValueChanged(def *registry.AttributeDefinition, oldValue engine.Slot[any], newValue any) engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		if ctx.Failed() {
			return nil
		}
		old, _ := oldValue.Get(ctx)
		h.notifications.Emit(op.Address, notify.TypeAttributeValueChanged,
			fmt.Sprintf("attribute %q value written", def.Name),
			map[string]any{
				notify.DataName:                def.Name,
				notify.DataOldValue:            old,
				notify.DataNewValue:            newValue,
				notify.DataTriggeringOperation: op.ToMap(),
			})
		return nil
	})
}
