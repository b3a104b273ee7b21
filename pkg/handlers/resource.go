package handlers

import (
	"context"
	"errors"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/notify"
	"github.com/openfroyo/mgmtcore/pkg/registry"
	"github.com/openfroyo/mgmtcore/pkg/tree"
)

// Add returns the add handler. The operation parameters are the initial
// attribute values; defaults fill the rest. A described service is started
// in RUNTIME and stopped again on rollback.
func (h *Handlers) Add() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		attrs, err := h.registry.CheckAttributes(op.Address, op.Params)
		if err != nil {
			return err
		}
		if err := ctx.CreateResource(op.Address, attrs); err != nil {
			return err
		}

		if desc, ok := h.registry.Description(op.Address); ok && desc.Service != nil {
			svc := desc.Service
			start := engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
				if err := svc.Start(ctx.Context(), op.Address, model.CopyMap(attrs)); err != nil {
					return runtimeError(err, "failed to start service for %s", op.Address)
				}
				addr := op.Address
				ctx.CompleteStep(engine.RollbackFunc(func(ctx context.Context) error {
					return svc.Stop(ctx, addr)
				}))
				return nil
			})
			if err := ctx.AddStep(nil, op, start, engine.PhaseRuntime); err != nil {
				return err
			}
		}

		return ctx.AddStep(nil, op, h.emitStep(notify.TypeResourceAdded, "resource added", attrs), engine.PhaseVerify)
	})
}

type runningService struct {
	addr  model.Address
	attrs map[string]any
	svc   registry.Service
}

// Remove returns the remove handler. The resource and its children are
// removed from the model; their services are stopped in RUNTIME, children
// first, and restarted on rollback.
func (h *Handlers) Remove() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		snap, err := ctx.ReadResource(op.Address)
		if err != nil {
			return err
		}
		if err := ctx.RemoveResource(op.Address); err != nil {
			return err
		}

		var services []runningService
		_ = snap.Walk(func(addr model.Address, attrs map[string]any) error {
			if desc, ok := h.registry.Description(addr); ok && desc.Service != nil {
				services = append(services, runningService{addr: addr, attrs: attrs, svc: desc.Service})
			}
			return nil
		})
		if len(services) > 0 {
			if err := ctx.AddStep(nil, op, stopServices(services), engine.PhaseRuntime); err != nil {
				return err
			}
		}

		return ctx.AddStep(nil, op, h.emitStep(notify.TypeResourceRemoved, "resource removed", snap.Model), engine.PhaseVerify)
	})
}

func stopServices(services []runningService) engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, _ model.Operation) error {
		for i := len(services) - 1; i >= 0; i-- {
			s := services[i]
			if err := s.svc.Stop(ctx.Context(), s.addr); err != nil {
				// This step's rollback does not run when it fails, so
				// restart what was already stopped here.
				restart := startServices(services[i+1:])
				if rerr := restart(ctx.Context()); rerr != nil {
					ctx.Logger().Warn().Err(rerr).Msg("failed to restart services after failed stop")
				}
				return runtimeError(err, "failed to stop service for %s", s.addr)
			}
		}
		ctx.CompleteStep(startServices(services))
		return nil
	})
}

func startServices(services []runningService) engine.RollbackFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, s := range services {
			if err := s.svc.Start(ctx, s.addr, model.CopyMap(s.attrs)); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// ReadResource returns the read-resource handler. Children are listed by
// name only unless recursive is true; undefined attributes show their
// defaults unless include-defaults is false.
func (h *Handlers) ReadResource() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		snap, err := ctx.ReadResource(op.Address)
		if err != nil {
			return err
		}
		ctx.Response().SetResult(h.render(snap,
			op.BoolParam(model.ParamRecursive, false),
			op.BoolParam(model.ParamIncludeDefaults, true)))
		return nil
	})
}

func (h *Handlers) render(s *tree.Snapshot, recursive, includeDefaults bool) map[string]any {
	out := make(map[string]any, len(s.Model))
	if includeDefaults {
		if desc, ok := h.registry.Description(s.Address); ok {
			for k, v := range desc.Defaults() {
				out[k] = v
			}
		}
	}
	for k, v := range s.Model {
		out[k] = model.DeepCopy(v)
	}
	for typ, byName := range s.Children {
		children := make(map[string]any, len(byName))
		for name, child := range byName {
			if recursive {
				children[name] = h.render(child, true, includeDefaults)
			} else {
				children[name] = nil
			}
		}
		out[typ] = children
	}
	return out
}

// ReadOperationNames returns the read-operation-names handler.
func (h *Handlers) ReadOperationNames() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		names := h.registry.OperationNames(op.Address)
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		ctx.Response().SetResult(out)
		return nil
	})
}
