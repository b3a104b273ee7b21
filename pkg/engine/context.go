package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/tree"
)

// Context is the per-operation execution context handed to every step.
//
// It is only valid while the step that received it is executing and must not
// be retained or used from other goroutines.
type Context interface {
	// Context returns the standard context of the submit call. It carries
	// values and the trace span but is never cancelled mid-pipeline.
	Context() context.Context

	// OperationID identifies the submitted operation.
	OperationID() string

	// Operation returns the operation passed to Submit.
	Operation() model.Operation

	// Phase returns the phase currently executing.
	Phase() Phase

	// Response returns the response node of the executing step.
	Response() *Response

	// Logger returns a logger carrying the operation fields.
	Logger() *zerolog.Logger

	// AddStep appends a step to the tail of phase. A nil response shares the
	// executing step's response node. Adding to an earlier phase fails with
	// InvalidPhaseOrdering and fails the operation.
	AddStep(resp *Response, op model.Operation, h Handler, phase Phase) error

	// AddStepFirst inserts a step at the head of phase, ahead of steps that
	// were already queued. Steps added first by one handler keep the order in
	// which they were added.
	AddStepFirst(resp *Response, op model.Operation, h Handler, phase Phase) error

	// CompleteStep registers the rollback action of the executing step. The
	// action runs only if a later step fails. A second call replaces the
	// first.
	CompleteStep(rb RollbackHandler)

	// RequireReload flags the result reload-required.
	RequireReload()

	// Fail records a failure. The executing step finishes, then the operation
	// rolls back. The first recorded failure wins.
	Fail(err error)

	// Failed reports whether a failure has been recorded.
	Failed() bool

	// Failure returns the recorded failure, or nil.
	Failure() *EngineError

	// Arena returns the per-operation value store used by Slot.
	Arena() *Arena

	// Scope returns the address covered by the operation's lock.
	Scope() model.Address

	// ReadModel returns a copy of the attributes of the resource at addr.
	ReadModel(addr model.Address) (map[string]any, error)

	// ReadAttribute returns a copy of one attribute. The boolean is false when
	// the attribute is undefined.
	ReadAttribute(addr model.Address, name string) (any, bool, error)

	// ReadResource returns a snapshot of the subtree at addr.
	ReadResource(addr model.Address) (*tree.Snapshot, error)

	// Exists reports whether a resource exists at addr.
	Exists(addr model.Address) (bool, error)

	// CreateResource adds a resource. The change is undone on rollback.
	CreateResource(addr model.Address, attrs map[string]any) error

	// RemoveResource removes a resource and its subtree. The change is undone
	// on rollback.
	RemoveResource(addr model.Address) error

	// WriteModel applies fn to a copy of the attributes at addr and stores
	// the result. The change is undone on rollback.
	WriteModel(addr model.Address, fn func(attrs map[string]any) error) error
}

type step struct {
	response *Response
	op       model.Operation
	handler  Handler
	phase    Phase
}

type journalEntry struct {
	addr model.Address
	// snap is the subtree before the change, nil if it did not exist.
	snap *tree.Snapshot
	// attrs is set instead of snap for attribute-only changes.
	attrs     map[string]any
	modelOnly bool
}

type completedStep struct {
	op       model.Operation
	phase    Phase
	rollback RollbackHandler
}

// operationContext is the Context implementation driven by Controller.
type operationContext struct {
	ctx      context.Context
	id       string
	op       model.Operation
	scope    model.Address
	readOnly bool
	tree     *tree.Tree
	logger   zerolog.Logger

	queues [phaseCount][]*step
	// firstPos counts AddStepFirst insertions per phase made by the
	// executing step.
	firstPos [phaseCount]int

	phase     Phase
	current   *step
	pending   RollbackHandler
	completed []completedStep
	journal   []journalEntry
	arena     *Arena

	failure   *EngineError
	reload    bool
	closed    bool
	persisted bool
}

var _ Context = (*operationContext)(nil)

func (c *operationContext) Context() context.Context { return c.ctx }
func (c *operationContext) OperationID() string { return c.id }
func (c *operationContext) Operation() model.Operation { return c.op }
func (c *operationContext) Phase() Phase { return c.phase }
func (c *operationContext) Arena() *Arena { return c.arena }
func (c *operationContext) Scope() model.Address { return c.scope }
func (c *operationContext) Logger() *zerolog.Logger { return &c.logger }
func (c *operationContext) Failed() bool { return c.failure != nil }
func (c *operationContext) Failure() *EngineError { return c.failure }
func (c *operationContext) RequireReload() { c.reload = true }

func (c *operationContext) Response() *Response {
	if c.current == nil {
		return nil
	}
	return c.current.response
}

func (c *operationContext) Fail(err error) {
	if err == nil || c.failure != nil {
		return
	}
	c.failure = AsEngineError(err).clone()
}

func (c *operationContext) CompleteStep(rb RollbackHandler) {
	c.pending = rb
}

func (c *operationContext) AddStep(resp *Response, op model.Operation, h Handler, phase Phase) error {
	s, err := c.newStep(resp, op, h, phase)
	if err != nil {
		return err
	}
	c.queues[phase] = append(c.queues[phase], s)
	return nil
}

func (c *operationContext) AddStepFirst(resp *Response, op model.Operation, h Handler, phase Phase) error {
	s, err := c.newStep(resp, op, h, phase)
	if err != nil {
		return err
	}
	q := c.queues[phase]
	pos := c.firstPos[phase]
	if pos > len(q) {
		pos = len(q)
	}
	q = append(q, nil)
	copy(q[pos+1:], q[pos:])
	q[pos] = s
	c.queues[phase] = q
	c.firstPos[phase] = pos + 1
	return nil
}

func (c *operationContext) newStep(resp *Response, op model.Operation, h Handler, phase Phase) (*step, error) {
	if c.closed {
		return nil, NewInternalError("operation context is no longer executing", nil).
			WithOperation(op.Name)
	}
	if h == nil {
		err := NewInternalError("step has no handler", nil).WithOperation(op.Name)
		c.Fail(err)
		return nil, err
	}
	if !phase.Valid() || phase < c.phase {
		err := NewInvalidPhaseOrderingError(c.phase, phase).
			WithOperation(op.Name).WithResource(op.Address.String())
		c.Fail(err)
		return nil, err
	}
	if resp == nil {
		resp = c.Response()
		if resp == nil {
			resp = NewResponse()
		}
	}
	return &step{response: resp, op: op, handler: h, phase: phase}, nil
}

// pop removes the head of the current phase queue.
func (c *operationContext) pop() *step {
	q := c.queues[c.phase]
	if len(q) == 0 {
		return nil
	}
	s := q[0]
	q[0] = nil
	c.queues[c.phase] = q[1:]
	return s
}

// begin prepares the context for executing s.
func (c *operationContext) begin(s *step) {
	c.current = s
	c.pending = nil
	c.firstPos = [phaseCount]int{}
}

// finish records s as completed together with its rollback action.
func (c *operationContext) finish(s *step) {
	c.completed = append(c.completed, completedStep{op: s.op, phase: s.phase, rollback: c.pending})
	c.pending = nil
	c.current = nil
}

// checkScope verifies addr lies inside the locked subtree and, for writes,
// that the operation holds a write lock outside VERIFY.
func (c *operationContext) checkScope(addr model.Address, write bool) error {
	if !c.scope.Contains(addr) {
		return NewOutOfLockScopeError(addr.String(), c.scope.String())
	}
	if write && c.readOnly {
		return NewOutOfLockScopeError(addr.String(), c.scope.String()).
			WithDetail("reason", "read-only operation")
	}
	if write && c.phase == PhaseVerify {
		return NewModelReadOnlyError(addr.String(), c.phase)
	}
	return nil
}

func (c *operationContext) ReadModel(addr model.Address) (map[string]any, error) {
	if err := c.checkScope(addr, false); err != nil {
		return nil, err
	}
	m, err := c.tree.Model(addr)
	if err != nil {
		return nil, treeError(addr, err)
	}
	return m, nil
}

func (c *operationContext) ReadAttribute(addr model.Address, name string) (any, bool, error) {
	if err := c.checkScope(addr, false); err != nil {
		return nil, false, err
	}
	v, ok, err := c.tree.Attribute(addr, name)
	if err != nil {
		return nil, false, treeError(addr, err)
	}
	return v, ok, nil
}

func (c *operationContext) ReadResource(addr model.Address) (*tree.Snapshot, error) {
	if err := c.checkScope(addr, false); err != nil {
		return nil, err
	}
	snap, err := c.tree.Snapshot(addr)
	if err != nil {
		return nil, treeError(addr, err)
	}
	return snap, nil
}

func (c *operationContext) Exists(addr model.Address) (bool, error) {
	if err := c.checkScope(addr, false); err != nil {
		return false, err
	}
	return c.tree.Exists(addr), nil
}

func (c *operationContext) CreateResource(addr model.Address, attrs map[string]any) error {
	if err := c.checkScope(addr, true); err != nil {
		return err
	}
	if err := c.tree.Add(addr, attrs); err != nil {
		return treeError(addr, err)
	}
	c.journal = append(c.journal, journalEntry{addr: addr})
	return nil
}

func (c *operationContext) RemoveResource(addr model.Address) error {
	if err := c.checkScope(addr, true); err != nil {
		return err
	}
	snap, err := c.tree.Remove(addr)
	if err != nil {
		return treeError(addr, err)
	}
	c.journal = append(c.journal, journalEntry{addr: addr, snap: snap})
	return nil
}

func (c *operationContext) WriteModel(addr model.Address, fn func(attrs map[string]any) error) error {
	if err := c.checkScope(addr, true); err != nil {
		return err
	}
	before, err := c.tree.Model(addr)
	if err != nil {
		return treeError(addr, err)
	}
	if err := c.tree.Update(addr, fn); err != nil {
		return treeError(addr, err)
	}
	c.journal = append(c.journal, journalEntry{addr: addr, attrs: before, modelOnly: true})
	return nil
}

// restoreModel undoes journalled model changes in reverse order.
func (c *operationContext) restoreModel() []error {
	var errs []error
	for i := len(c.journal) - 1; i >= 0; i-- {
		e := c.journal[i]
		var err error
		if e.modelOnly {
			err = c.tree.Update(e.addr, func(attrs map[string]any) error {
				clear(attrs)
				for k, v := range e.attrs {
					attrs[k] = v
				}
				return nil
			})
		} else {
			err = c.tree.Restore(e.addr, e.snap)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	c.journal = nil
	return errs
}

// treeError maps tree accessor errors to classified engine errors. Errors
// that are already classified, such as those returned by a WriteModel
// callback, pass through.
func treeError(addr model.Address, err error) error {
	var e *EngineError
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, tree.ErrNotFound):
		return NewResourceNotFoundError(addr.String(), err)
	case errors.Is(err, tree.ErrExists):
		return NewDuplicateResourceError(addr.String(), err)
	case errors.Is(err, tree.ErrRootMutation), errors.Is(err, tree.ErrPattern):
		return NewValidationError("invalid target address", err).WithResource(addr.String())
	default:
		return NewInternalError("resource tree access failed", err).WithResource(addr.String())
	}
}
