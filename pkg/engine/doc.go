// Package engine executes management operations as a staged pipeline.
//
// # Overview
//
// An operation (target address, name, parameters) is submitted to a
// Controller. The controller resolves the handler registered for the pair,
// takes a lock on the target subtree and runs the operation's steps through
// three ordered phases:
//
//  1. MODEL - apply changes to the resource tree
//  2. RUNTIME - push the changes to running services
//  3. VERIFY - check the outcome and emit notifications
//
// Within a phase steps run strictly in FIFO order, one at a time. A step may
// queue further steps into the current phase or any later phase; the current
// phase completes only once its queue is empty. Queuing into an earlier phase
// fails with INVALID_PHASE_ORDERING.
//
// # Rollback
//
// A step registers an undo action with Context.CompleteStep. If a later step
// fails, the actions of the completed steps run in reverse completion order.
// Each action is best effort: a failing action is logged and the remaining
// ones still run. Model changes made through the Context accessors are
// journalled and restored after the runtime rollback, so a failed operation
// leaves the tree as it found it.
//
// A step whose runtime change cannot be reverted registers ReloadOnRollback
// instead; a rollback then flags the result reload-required. Steps may also
// call Context.RequireReload on success.
//
// # Passing values between steps
//
// Steps share per-operation values through typed slots:
//
//	oldValue := engine.NewSlot[any]("old-value")
//	oldValue.Set(ctx, v)          // in MODEL
//	v, ok := oldValue.Get(ctx)    // in VERIFY
//
// # Batches
//
// SubmitAll submits a batch through a BatchPlan. Operations whose targets
// overlap keep their batch order; the rest of a level runs concurrently.
//
// # Errors
//
// Failures are *EngineError values classified by Class and Code. The
// sentinels ErrUnknownOperation, ErrUnknownAttribute, ErrValidationFailed and
// friends match with errors.Is.
package engine
