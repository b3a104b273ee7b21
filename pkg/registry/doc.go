// Package registry holds the resource descriptions and the operation handler
// table consulted by the engine.
//
// A ResourceDescription declares the attributes of every resource matching
// an address pattern such as /subsystem=messaging/server=*/queue=*. Attribute
// values are checked against the declared type, an optional validator tag
// (github.com/go-playground/validator) and an optional CUE constraint:
//
//	reg.RegisterResource(&registry.ResourceDescription{
//		Pattern: model.MustParseAddress("/server=*/queue=*"),
//		Attributes: []*registry.AttributeDefinition{
//			{Name: "max-size", Type: registry.TypeInt, Constraint: ">=0 & <=1048576", Default: 1024},
//			{Name: "durable", Type: registry.TypeBoolean, RestartRequired: true},
//		},
//	})
//
// Operations are registered per pattern or globally. Registry implements
// engine.HandlerResolver: the most specific pattern registration wins, then
// the global registrations apply to the root and every described resource.
package registry
