// Package policy provides Open Policy Agent (OPA) authorization for
// management operations.
//
// An Engine holds compiled Rego policies and implements engine.Authorizer:
// the controller asks it, once the target subtree is locked and before the
// first step runs, whether an operation may proceed. Every enabled policy
// is evaluated against an Input describing the operation; any entry in a
// policy's deny set refuses the operation with PERMISSION_DENIED.
//
// # Policies
//
// A policy is a Rego module defining a deny set of messages or of objects
// with a message field:
//
//	package mgmt.policies.queues
//
//	import rego.v1
//
//	deny contains msg if {
//		input.operation == "remove"
//		input.segments[_].key == "queue"
//		msg := "queues are managed by the broker"
//	}
//
// The engine starts with built-in policies:
//
//   - root-protection refuses add and remove on the root resource
//   - reader-principals restricts principals in data.mgmt.readers to
//     read-only operations
//   - protected-resources refuses removal of the addresses in
//     data.mgmt.protected and of their ancestors
//
// # Input
//
// Policies see the operation name, the target address both as a string and
// as key/value segments, the parameters, whether the operation is read-only
// and the principal attached to the context with WithPrincipal.
//
// # Loading
//
// A Loader reads .rego files, and .json or .yaml policy definitions, from
// files and directories. WatchEngine reloads them through fsnotify whenever
// they change; built-in policies survive a reload.
//
// Usage:
//
//	eng, err := policy.NewEngine(logger, policy.WithData(map[string]any{
//		"readers": []any{"auditor"},
//	}))
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/mgmt/policies"}); err != nil {
//		return err
//	}
//	ctrl := engine.NewController(t, reg, engine.WithAuthorizer(eng))
package policy
