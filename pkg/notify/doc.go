// Package notify implements address-scoped notifications.
//
// Components subscribe to a resource address through a Registry, either as
// listener addresses or as in-process Handlers. A Service emits a
// Notification for an address to the handlers registered exactly there or,
// if there are none, to the handlers registered at the address's wildcard
// fallback: the parent address followed by the last key with value "#".
//
//	svc := notify.NewService(notify.WithLogger(logger))
//	svc.RegisterHandler(model.MustParseAddress("/server=s1/queue=#"), notify.NewHandler(
//		func(n *notify.Notification) error {
//			log.Printf("%s changed", n.Resource)
//			return nil
//		}))
//	svc.Emit(model.MustParseAddress("/server=s1/queue=q2"), notify.TypeAttributeValueChanged, "changed", nil)
package notify
