package handlers

import (
	"fmt"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

// CompositeOperation builds a composite operation running steps in order.
// It targets the common ancestor of the step addresses so that its lock
// covers every step.
func CompositeOperation(steps ...model.Operation) model.Operation {
	addrs := make([]model.Address, len(steps))
	list := make([]any, len(steps))
	for i, s := range steps {
		addrs[i] = s.Address
		list[i] = s.ToMap()
	}
	return model.NewOperation(model.OpComposite, model.CommonAncestor(addrs...),
		map[string]any{model.ParamSteps: list})
}

// Composite returns the composite handler. Each entry of the steps parameter
// is resolved and queued into MODEL in order, with its response under
// "step-N". A failure in any step rolls back all of them.
func (h *Handlers) Composite() engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		steps, err := compositeSteps(op)
		if err != nil {
			return err
		}
		for i, step := range steps {
			if !ctx.Scope().Contains(step.Address) {
				return engine.NewOutOfLockScopeError(step.Address.String(), ctx.Scope().String()).
					WithOperation(step.Name)
			}
			entry, ok := h.registry.Resolve(step.Address, step.Name)
			if !ok {
				return engine.NewUnknownOperationError(step.Name, step.Address.String())
			}
			resp := ctx.Response().Child(fmt.Sprintf("step-%d", i+1))
			if err := ctx.AddStep(resp, step, entry.Handler, engine.PhaseModel); err != nil {
				return err
			}
		}
		return nil
	})
}

func compositeSteps(op model.Operation) ([]model.Operation, error) {
	raw, ok := op.Param(model.ParamSteps)
	if !ok {
		return nil, missingParam(op, model.ParamSteps)
	}
	invalid := func(format string, args ...any) error {
		return engine.NewValidationError(fmt.Sprintf(format, args...), nil).
			WithOperation(op.Name).WithResource(op.Address.String())
	}

	switch v := raw.(type) {
	case []model.Operation:
		return v, nil
	case []any:
		steps := make([]model.Operation, 0, len(v))
		for i, item := range v {
			switch s := item.(type) {
			case model.Operation:
				steps = append(steps, s)
			case map[string]any:
				step, err := model.OperationFromMap(s)
				if err != nil {
					return nil, engine.NewValidationError(fmt.Sprintf("invalid step %d", i+1), err).
						WithOperation(op.Name).WithResource(op.Address.String())
				}
				steps = append(steps, step)
			default:
				return nil, invalid("invalid step %d: expected an operation, got %T", i+1, item)
			}
		}
		return steps, nil
	default:
		return nil, invalid("parameter %q must be a list of operations", model.ParamSteps)
	}
}
