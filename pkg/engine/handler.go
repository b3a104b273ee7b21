package engine

import (
	"context"

	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/tree"
)

// Handler executes one step of an operation.
//
// Returning nil acknowledges the step as complete. Returning an error, or
// calling Context.Fail, fails the operation: no further steps run and the
// rollback actions of previously completed steps are invoked in reverse order.
type Handler interface {
	Execute(ctx Context, op model.Operation) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx Context, op model.Operation) error

// Execute calls f(ctx, op).
func (f HandlerFunc) Execute(ctx Context, op model.Operation) error {
	return f(ctx, op)
}

// RollbackHandler undoes the runtime effect of a completed step.
type RollbackHandler interface {
	Rollback(ctx context.Context) error
}

// RollbackFunc adapts a function to the RollbackHandler interface.
type RollbackFunc func(ctx context.Context) error

// Rollback calls f(ctx).
func (f RollbackFunc) Rollback(ctx context.Context) error {
	return f(ctx)
}

type reloadMarker struct{}

func (reloadMarker) Rollback(context.Context) error { return nil }

// ReloadOnRollback is registered through Context.CompleteStep by steps whose
// runtime change cannot be reverted in place. If the operation rolls back,
// the result is flagged reload-required instead of running an undo action.
var ReloadOnRollback RollbackHandler = reloadMarker{}

// OperationEntry is a resolved operation registration.
type OperationEntry struct {
	// Handler executes the first MODEL step of the operation.
	Handler Handler

	// ReadOnly operations take a read lock on their target subtree and may
	// not mutate the model.
	ReadOnly bool

	// Description is a human-readable summary for listings.
	Description string
}

// HandlerResolver maps an (address, operation name) pair to its registration.
type HandlerResolver interface {
	Resolve(addr model.Address, name string) (OperationEntry, bool)
}

// Authorizer decides whether an operation may run. A non-nil error denies it.
type Authorizer interface {
	Authorize(ctx context.Context, op model.Operation, readOnly bool) error
}

// Persister stores the model subtree changed by a successful operation. A nil
// snapshot means the subtree at scope no longer exists.
type Persister interface {
	Persist(ctx context.Context, scope model.Address, snap *tree.Snapshot) error
}
