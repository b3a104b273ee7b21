package engine

import (
	"encoding/json"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Response is one node of the response tree accumulated while an operation
// runs. Every step writes into a response node; nested steps may share their
// parent's node or receive a child of it.
//
// A response is only touched by the goroutine running its operation and is
// not safe for concurrent use.
type Response struct {
	result    any
	hasResult bool
	failure   string
	order     []string
	children  map[string]*Response
}

// NewResponse creates an empty response node.
func NewResponse() *Response {
	return &Response{}
}

// SetResult stores the result value of the node.
func (r *Response) SetResult(v any) {
	r.result = model.DeepCopy(v)
	r.hasResult = true
}

// Result returns the result value, if one was set.
func (r *Response) Result() (any, bool) {
	return r.result, r.hasResult
}

// SetFailure records a failure description on the node.
func (r *Response) SetFailure(description string) {
	r.failure = description
}

// Failure returns the failure description, or "".
func (r *Response) Failure() string {
	return r.failure
}

// Child returns the named child node, creating it on first use. Children
// keep their creation order in Value and JSON output.
func (r *Response) Child(name string) *Response {
	if c, ok := r.children[name]; ok {
		return c
	}
	if r.children == nil {
		r.children = make(map[string]*Response)
	}
	c := NewResponse()
	r.children[name] = c
	r.order = append(r.order, name)
	return c
}

// Children returns the child names in creation order.
func (r *Response) Children() []string {
	return append([]string(nil), r.order...)
}

// Value renders the node as a structured value with optional "result" and
// "failure-description" entries plus one entry per child.
func (r *Response) Value() map[string]any {
	out := make(map[string]any, len(r.order)+2)
	if r.hasResult {
		out["result"] = model.DeepCopy(r.result)
	}
	if r.failure != "" {
		out["failure-description"] = r.failure
	}
	for _, name := range r.order {
		out[name] = r.children[name].Value()
	}
	return out
}

// MarshalJSON encodes Value.
func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value())
}
