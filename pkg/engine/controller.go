package engine

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/telemetry"
	"github.com/openfroyo/mgmtcore/pkg/tree"
)

// Controller executes management operations against a resource tree.
//
// Each Submit runs synchronously on the caller's goroutine: the operation's
// handler is resolved, a lock on the target subtree is taken, and the step
// queue is drained phase by phase. Concurrent Submit calls on disjoint
// subtrees proceed in parallel; overlapping ones serialize on the lock.
type Controller struct {
	tree        *tree.Tree
	locks       *tree.LockManager
	resolver    HandlerResolver
	logger      zerolog.Logger
	recorder    Recorder
	tracer      *telemetry.Tracer
	authorizer  Authorizer
	persister   Persister
	lockTimeout time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger.With().Str("component", "controller").Logger()
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTracer sets the tracer used for operation and step spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithAuthorizer sets the authorizer consulted before the first step.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Controller) {
		c.authorizer = a
	}
}

// WithPersister sets the persister called after RUNTIME for operations that
// changed the model.
func WithPersister(p Persister) Option {
	return func(c *Controller) {
		c.persister = p
	}
}

// WithLockTimeout bounds the time Submit waits for its subtree lock. Zero
// waits until the submit context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.lockTimeout = d
	}
}

// WithLockManager shares a lock manager between controllers over one tree.
func WithLockManager(m *tree.LockManager) Option {
	return func(c *Controller) {
		if m != nil {
			c.locks = m
		}
	}
}

// NewController creates a controller for the given tree and resolver.
func NewController(t *tree.Tree, resolver HandlerResolver, opts ...Option) *Controller {
	c := &Controller{
		tree:     t,
		locks:    tree.NewLockManager(),
		resolver: resolver,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
		tracer:   telemetry.NewNopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tree returns the resource tree the controller operates on.
func (c *Controller) Tree() *tree.Tree {
	return c.tree
}

// Submit executes op and returns its result.
//
// The returned error is non-nil only when the operation could not be run as
// a pipeline at all (UnknownOperation, lock acquisition failure) or a handler
// broke the phase contract (InvalidPhaseOrdering). Every other failure is
// reported through the result after rollback. The result is never nil.
//
// Cancelling ctx only affects the wait for the subtree lock. Once the first
// step runs, the pipeline always completes or rolls back.
func (c *Controller) Submit(ctx context.Context, op model.Operation) (*Result, error) {
	start := time.Now()
	id := uuid.New().String()
	logger := c.logger.With().
		Str("operation_id", id).
		Str("operation", op.Name).
		Str("address", op.Address.String()).
		Logger()
	result := &Result{OperationID: id, Response: NewResponse()}
	c.recorder.OperationStarted()

	entry, ok := c.resolver.Resolve(op.Address, op.Name)
	if !ok {
		err := NewUnknownOperationError(op.Name, op.Address.String())
		c.finish(result, op, err, start, logger)
		return result, err
	}
	if op.Address.IsPattern() {
		err := NewValidationError("operations cannot target a pattern address", nil).
			WithOperation(op.Name).WithResource(op.Address.String())
		c.finish(result, op, err, start, logger)
		return result, nil
	}

	ctx, span := c.tracer.StartOperationSpan(ctx, id, op.Name, op.Address.String())
	defer span.End()

	mode := tree.LockWrite
	if entry.ReadOnly {
		mode = tree.LockRead
	}
	release, err := c.acquire(ctx, op.Address, mode)
	if err != nil {
		lerr := NewLockTimeoutError(op.Address.String(), err).WithOperation(op.Name)
		telemetry.RecordError(span, lerr)
		c.finish(result, op, lerr, start, logger)
		return result, lerr
	}
	defer release()

	if c.authorizer != nil {
		if err := c.authorizer.Authorize(ctx, op, entry.ReadOnly); err != nil {
			denied := AsEngineError(err).clone()
			if denied.Code == ErrCodeInternal {
				denied = NewPermissionDeniedError("operation denied", err)
			}
			denied.WithOperation(op.Name).WithResource(op.Address.String())
			telemetry.RecordError(span, denied)
			c.finish(result, op, denied, start, logger)
			return result, nil
		}
	}

	octx := &operationContext{
		ctx:      context.WithoutCancel(ctx),
		id:       id,
		op:       op,
		scope:    op.Address,
		readOnly: entry.ReadOnly,
		tree:     c.tree,
		logger:   logger,
		arena:    newArena(),
	}
	octx.queues[PhaseModel] = []*step{{
		response: result.Response,
		op:       op,
		handler:  entry.Handler,
		phase:    PhaseModel,
	}}

	c.run(octx, span)
	octx.closed = true

	if octx.failure != nil {
		octx.reload = false
		c.rollback(octx, logger)
		result.RolledBack = true
		result.ReloadRequired = octx.reload
		telemetry.RecordError(span, octx.failure)
		c.finish(result, op, octx.failure, start, logger)
		if octx.failure.Code == ErrCodeInvalidPhaseOrdering {
			return result, octx.failure
		}
		return result, nil
	}

	result.ReloadRequired = octx.reload
	span.SetAttributes(telemetry.AttrReload.Bool(octx.reload))
	telemetry.RecordSuccess(span)
	c.finish(result, op, nil, start, logger)
	return result, nil
}

func (c *Controller) acquire(ctx context.Context, addr model.Address, mode tree.LockMode) (func(), error) {
	lockCtx := ctx
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}
	waitStart := time.Now()
	release, err := c.locks.Acquire(lockCtx, addr, mode)
	c.recorder.RecordLockWait(mode.String(), time.Since(waitStart))
	return release, err
}

// run drains the step queues phase by phase until they are empty or a step
// fails.
func (c *Controller) run(octx *operationContext, span trace.Span) {
	for _, phase := range Phases() {
		octx.phase = phase
		telemetry.AddPhaseEvent(span, phase.String())

		if phase == PhaseVerify {
			c.persist(octx)
			if octx.failure != nil {
				return
			}
		}

		for octx.failure == nil {
			s := octx.pop()
			if s == nil {
				break
			}
			c.execute(octx, s)
		}
		if octx.failure != nil {
			return
		}
	}
}

func (c *Controller) execute(octx *operationContext, s *step) {
	octx.begin(s)
	parent := octx.ctx
	stepCtx, span := c.tracer.StartStepSpan(parent, s.phase.String(), s.op.Name, s.op.Address.String())
	octx.ctx = stepCtx
	start := time.Now()

	if err := c.invoke(octx, s); err != nil {
		octx.Fail(err)
	}

	octx.ctx = parent
	failed := octx.failure != nil
	c.recorder.RecordStep(s.phase.String(), failed, time.Since(start))

	if failed {
		if octx.failure.Operation == "" {
			octx.failure.WithOperation(s.op.Name)
		}
		if octx.failure.Resource == "" {
			octx.failure.WithResource(s.op.Address.String())
		}
		s.response.SetFailure(octx.failure.Description())
		telemetry.RecordError(span, octx.failure)
		octx.logger.Debug().
			Str("phase", s.phase.String()).
			Str("step_operation", s.op.Name).
			Err(octx.failure).
			Msg("step failed")
		// The failing step's own rollback action is discarded.
		octx.current = nil
		octx.pending = nil
	} else {
		telemetry.RecordSuccess(span)
		octx.finish(s)
	}
	span.End()
}

// invoke runs the step handler, converting a panic into a failure.
func (c *Controller) invoke(octx *operationContext, s *step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			octx.logger.Error().
				Str("phase", s.phase.String()).
				Str("step_operation", s.op.Name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("step handler panicked")
			err = NewHandlerPanicError(r)
		}
	}()
	return s.handler.Execute(octx, s.op)
}

// persist hands the changed subtree to the persister.
func (c *Controller) persist(octx *operationContext) {
	if c.persister == nil || len(octx.journal) == 0 {
		return
	}
	snap, err := c.tree.Snapshot(octx.scope)
	if err != nil {
		// The scope itself was removed.
		snap = nil
	}
	if err := c.persister.Persist(octx.ctx, octx.scope, snap); err != nil {
		octx.Fail(NewInternalError("failed to persist configuration", err).
			WithResource(octx.scope.String()))
		return
	}
	octx.persisted = true
}

// rollback runs the rollback actions of completed steps in reverse
// completion order, then restores the model journal. Failures of individual
// actions are logged and do not stop the remaining ones.
func (c *Controller) rollback(octx *operationContext, logger zerolog.Logger) {
	ctx, span := c.tracer.StartRollbackSpan(octx.ctx, octx.id, len(octx.completed))
	defer span.End()

	actions, failures := 0, 0
	for i := len(octx.completed) - 1; i >= 0; i-- {
		cs := octx.completed[i]
		if cs.rollback == nil {
			continue
		}
		if cs.rollback == ReloadOnRollback {
			octx.reload = true
			continue
		}
		actions++
		if err := runRollback(ctx, cs.rollback); err != nil {
			failures++
			rerr := NewRollbackActionError(err).
				WithOperation(cs.op.Name).
				WithResource(cs.op.Address.String())
			c.recorder.RecordError(string(rerr.Class), rerr.Code)
			logger.Warn().
				Err(rerr).
				Str("phase", cs.phase.String()).
				Msg("rollback action failed")
		}
	}

	for _, err := range octx.restoreModel() {
		logger.Error().Err(err).Msg("failed to restore model during rollback")
	}
	if octx.persisted {
		// A VERIFY step failed after the change was stored.
		snap, err := c.tree.Snapshot(octx.scope)
		if err != nil {
			snap = nil
		}
		if err := c.persister.Persist(ctx, octx.scope, snap); err != nil {
			logger.Error().Err(err).Msg("failed to persist restored configuration")
		}
	}
	c.recorder.RecordRollback(actions, failures)
}

func runRollback(ctx context.Context, rb RollbackHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewHandlerPanicError(r)
		}
	}()
	return rb.Rollback(ctx)
}

func (c *Controller) finish(result *Result, op model.Operation, failure *EngineError, start time.Time, logger zerolog.Logger) {
	result.Duration = time.Since(start)
	if failure == nil {
		result.Outcome = OutcomeSuccess
		logger.Debug().
			Bool("reload_required", result.ReloadRequired).
			Dur("duration", result.Duration).
			Msg("operation succeeded")
	} else {
		result.Outcome = OutcomeFailed
		result.Failure = failure
		result.FailureDescription = failure.Description()
		c.recorder.RecordError(string(failure.Class), failure.Code)
		logger.Info().
			Str("code", failure.Code).
			Str("failure", result.FailureDescription).
			Bool("rolled_back", result.RolledBack).
			Dur("duration", result.Duration).
			Msg("operation failed")
	}
	c.recorder.RecordOperation(op.Name, string(result.Outcome), result.ReloadRequired, result.Duration)
}
