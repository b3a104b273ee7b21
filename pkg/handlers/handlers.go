package handlers

import (
	"errors"
	"fmt"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/notify"
	"github.com/openfroyo/mgmtcore/pkg/registry"
)

// Handlers implements the standard management operations on top of a
// registry and a notification service.
type Handlers struct {
	registry      *registry.Registry
	notifications *notify.Service
}

// New creates the standard handlers. A nil notification service gets a
// private one without subscribers.
func New(reg *registry.Registry, notifications *notify.Service) *Handlers {
	if notifications == nil {
		notifications = notify.NewService()
	}
	return &Handlers{registry: reg, notifications: notifications}
}

// Register installs the standard operations as global operations of the
// registry.
func (h *Handlers) Register() error {
	ops := []struct {
		name string
		h    engine.Handler
		opts []registry.OperationOption
	}{
		{model.OpAdd, h.Add(), []registry.OperationOption{registry.Describe("Add a resource")}},
		{model.OpRemove, h.Remove(), []registry.OperationOption{registry.Describe("Remove a resource and its children")}},
		{model.OpReadResource, h.ReadResource(), []registry.OperationOption{registry.ReadOnly(), registry.Describe("Read a resource")}},
		{model.OpReadAttribute, h.ReadAttribute(), []registry.OperationOption{registry.ReadOnly(), registry.Describe("Read an attribute")}},
		{model.OpWriteAttribute, h.WriteAttribute(), []registry.OperationOption{registry.Describe("Write an attribute")}},
		{model.OpUndefineAttribute, h.UndefineAttribute(), []registry.OperationOption{registry.Describe("Undefine an attribute")}},
		{model.OpComposite, h.Composite(), []registry.OperationOption{registry.Describe("Run several operations as one")}},
		{model.OpReadOperationNames, h.ReadOperationNames(), []registry.OperationOption{registry.ReadOnly(), registry.Describe("List the operations of a resource")}},
	}
	for _, op := range ops {
		if err := h.registry.RegisterGlobalOperation(op.name, op.h, op.opts...); err != nil {
			return fmt.Errorf("failed to register %s: %w", op.name, err)
		}
	}
	return nil
}

// Notifications returns the service the handlers emit to.
func (h *Handlers) Notifications() *notify.Service {
	return h.notifications
}

// runtimeError classifies an error returned by a runtime service.
func runtimeError(err error, format string, args ...any) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return err
	}
	return engine.NewInternalError(fmt.Sprintf(format, args...), err)
}

func missingParam(op model.Operation, name string) error {
	return engine.NewValidationError(fmt.Sprintf("missing required parameter %q", name), nil).
		WithOperation(op.Name).WithResource(op.Address.String())
}

// emitStep returns a VERIFY step emitting a notification for the operation
// address unless the operation has failed.
func (h *Handlers) emitStep(typ, message string, data any) engine.Handler {
	return engine.HandlerFunc(func(ctx engine.Context, op model.Operation) error {
		if ctx.Failed() {
			return nil
		}
		h.notifications.Emit(op.Address, typ, message, data)
		return nil
	})
}
