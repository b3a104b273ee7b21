package engine

import (
	"time"
)

// Outcome is the overall outcome of a submitted operation.
type Outcome string

const (
	// OutcomeSuccess indicates every step completed.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailed indicates a step failed and the operation was rolled back.
	OutcomeFailed Outcome = "failed"
)

// Result is returned by Controller.Submit for every operation that was
// attempted.
type Result struct {
	// OperationID correlates the result with logs and traces.
	OperationID string `json:"operation-id"`

	// Outcome is success or failed.
	Outcome Outcome `json:"outcome"`

	// FailureDescription describes the failure reported to the client.
	FailureDescription string `json:"failure-description,omitempty"`

	// Failure is the classified failure, or nil on success.
	Failure *EngineError `json:"failure,omitempty"`

	// ReloadRequired reports that a runtime change could not be applied or
	// reverted in place and the process needs a reload to be consistent.
	ReloadRequired bool `json:"reload-required"`

	// RolledBack reports that rollback ran after a failure.
	RolledBack bool `json:"rolled-back,omitempty"`

	// Response is the accumulated response tree.
	Response *Response `json:"response"`

	// Duration is the wall time spent in Submit, lock wait included.
	Duration time.Duration `json:"-"`
}

// Succeeded reports whether the operation completed successfully.
func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Err returns the failure as an error, or nil on success.
func (r *Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Value renders the result in the structured form returned to clients.
func (r *Result) Value() map[string]any {
	out := map[string]any{
		"outcome": string(r.Outcome),
	}
	if r.Response != nil {
		resp := r.Response.Value()
		if v, ok := resp["result"]; ok {
			out["result"] = v
		}
		for k, v := range resp {
			if k != "result" && k != "failure-description" {
				out[k] = v
			}
		}
	}
	if r.FailureDescription != "" {
		out["failure-description"] = r.FailureDescription
	}
	if r.ReloadRequired {
		out["response-headers"] = map[string]any{
			"operation-requires-reload": true,
			"process-state":             "reload-required",
		}
	}
	if r.RolledBack {
		out["rolled-back"] = true
	}
	return out
}
