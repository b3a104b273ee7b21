// Package handlers implements the standard management operations: add,
// remove, read-resource, read-attribute, write-attribute, undefine-attribute,
// composite and read-operation-names, plus operations scripted in Starlark.
//
// The handlers are registered as global operations of a registry.Registry and
// run under an engine.Controller. Writes follow the attribute write protocol:
// the current value is read first, the model is updated in MODEL, the running
// service is updated in RUNTIME when the attribute supports it, and an
// ATTRIBUTE_VALUE_CHANGED notification carrying the old value, the new value
// and the triggering operation is emitted in VERIFY once nothing has failed.
//
// Basic usage:
//
//	reg := registry.New()
//	notifications := notify.NewService()
//	h := handlers.New(reg, notifications)
//	if err := h.Register(); err != nil {
//		return err
//	}
//	ctrl := engine.NewController(tree.New(), reg)
//	res, err := ctrl.Submit(ctx, model.NewOperation(model.OpWriteAttribute, addr,
//		map[string]any{"name": "max-size", "value": 9}))
package handlers
