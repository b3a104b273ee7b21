package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/tree"
)

type resolver map[string]engine.OperationEntry

func (r resolver) Resolve(_ model.Address, name string) (engine.OperationEntry, bool) {
	e, ok := r[name]
	return e, ok
}

// Example_stagedOperation shows a handler that updates the model, pushes the
// change to a running service and reports in VERIFY.
func Example_stagedOperation() {
	t := tree.New()
	server := model.MustParseAddress("/server=default")
	_ = t.Add(server, map[string]any{"threads": 4})

	running := 4
	resize := engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		old := engine.NewSlot[any]("old-threads")
		v, _, err := ctx.ReadAttribute(op.Address, "threads")
		if err != nil {
			return err
		}
		old.Set(ctx, v)

		if err := ctx.WriteModel(op.Address, func(attrs map[string]any) error {
			attrs["threads"] = op.Params["value"]
			return nil
		}); err != nil {
			return err
		}

		if err := ctx.AddStep(nil, op, engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
			prev := running
			running = op.Params["value"].(int)
			ctx.CompleteStep(engine.RollbackFunc(func(context.Context) error {
				running = prev
				return nil
			}))
			return nil
		}), engine.PhaseRuntime); err != nil {
			return err
		}

		return ctx.AddStep(nil, op, engine.HandlerFunc(func(ctx engine.Context, _ model.Operation) error {
			was, _ := old.Get(ctx)
			fmt.Printf("threads changed from %v to %d\n", was, running)
			return nil
		}), engine.PhaseVerify)
	})

	c := engine.NewController(t, resolver{"resize": {Handler: resize}})
	res, err := c.Submit(context.Background(), model.NewOperation("resize", server, map[string]any{"value": 8}))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(res.Outcome)
	// Output:
	// threads changed from 4 to 8
	// success
}

// Example_rollback shows that a failing step undoes earlier runtime changes.
func Example_rollback() {
	t := tree.New()
	applied := []string{}

	h := engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		applied = append(applied, "listener")
		ctx.CompleteStep(engine.RollbackFunc(func(context.Context) error {
			applied = applied[:len(applied)-1]
			return nil
		}))
		return ctx.AddStep(nil, op, engine.HandlerFunc(func(engine.Context, model.Operation) error {
			return engine.NewValidationError("port already in use", nil)
		}), engine.PhaseRuntime)
	})

	c := engine.NewController(t, resolver{"bind": {Handler: h}})
	res, _ := c.Submit(context.Background(), model.NewOperation("bind", model.RootAddress(), nil))
	fmt.Println(res.Outcome, res.FailureDescription, len(applied))
	// Output:
	// failed port already in use 0
}
