// Package tree holds the in-memory resource model and the hierarchical
// subtree locks that isolate concurrent management operations.
//
// Every accessor returns detached copies; the only way to change a resource
// is through Add, Remove, Update or Restore.
package tree
