package policy

import (
	"context"
	"time"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Policy is a named Rego module. Its deny rule, a set of messages or of
// objects with a message field, decides which operations are refused.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin policies survive a reload of the policy paths.
	Builtin bool `json:"builtin,omitempty" yaml:"-"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Input is the document a policy sees as input.
type Input struct {
	// Operation is the operation name.
	Operation string `json:"operation"`

	// Address is the target address in its string form.
	Address string `json:"address"`

	// Segments is the target address as key/value pairs, outermost first.
	Segments []Segment `json:"segments"`

	// Params are the operation parameters.
	Params map[string]any `json:"params"`

	// ReadOnly reports whether the operation was registered read-only.
	ReadOnly bool `json:"read_only"`

	// Principal is the caller, if known.
	Principal string `json:"principal,omitempty"`

	// Timestamp is the evaluation time in RFC 3339 form.
	Timestamp string `json:"timestamp"`
}

// Segment is one address element of Input.
type Segment struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewInput builds the policy input for op.
func NewInput(ctx context.Context, op model.Operation, readOnly bool) *Input {
	segments := op.Address.Segments()
	in := &Input{
		Operation: op.Name,
		Address:   op.Address.String(),
		Segments:  make([]Segment, len(segments)),
		Params:    model.CopyMap(op.Params),
		ReadOnly:  readOnly,
		Principal: PrincipalFrom(ctx),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for i, s := range segments {
		in.Segments[i] = Segment{Key: s.Key, Value: s.Value}
	}
	if in.Params == nil {
		in.Params = map[string]any{}
	}
	return in
}

// Violation is one deny result.
type Violation struct {
	// Policy is the name of the policy that denied the operation.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`
}

// Decision is the outcome of evaluating every enabled policy.
type Decision struct {
	// Allowed is false when any policy denied the operation.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Evaluated lists the policies that were consulted.
	Evaluated []string `json:"evaluated"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

type principalKey struct{}

// WithPrincipal returns a context carrying the caller name for policies.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the caller name carried by ctx.
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}
