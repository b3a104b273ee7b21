package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

// dataRoot is the document under which policy data is stored, so policies
// read it as data.mgmt.
const dataRoot = "mgmt"

// Engine evaluates Rego policies against operations. It implements
// engine.Authorizer.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger

	data     map[string]any
	builtins bool
}

var _ engine.Authorizer = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithData sets the initial document policies see as data.mgmt.
func WithData(data map[string]any) Option {
	return func(e *Engine) {
		e.data = model.CopyMap(data)
	}
}

// WithoutBuiltins starts the engine with no policies.
func WithoutBuiltins() Option {
	return func(e *Engine) {
		e.builtins = false
	}
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtins: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.data == nil {
		e.data = map[string]any{}
	}
	e.store = inmem.NewFromObject(map[string]any{dataRoot: e.data})

	if e.builtins {
		if err := e.loadBuiltinPolicies(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
	}
	return e, nil
}

// SetData stores value as data.mgmt.<key>.
func (e *Engine) SetData(ctx context.Context, key string, value any) error {
	path, ok := storage.ParsePathEscaped("/" + dataRoot + "/" + key)
	if !ok {
		return fmt.Errorf("invalid data key %q", key)
	}
	if err := storage.WriteOne(ctx, e.store, storage.AddOp, path, model.DeepCopy(value)); err != nil {
		return fmt.Errorf("failed to write policy data %s: %w", key, err)
	}
	return nil
}

// Authorize denies op when any enabled policy reports a violation. A policy
// that cannot be evaluated denies the operation too.
func (e *Engine) Authorize(ctx context.Context, op model.Operation, readOnly bool) error {
	decision, err := e.Evaluate(ctx, NewInput(ctx, op, readOnly))
	if err != nil {
		return engine.NewPermissionDeniedError("policy evaluation failed", err)
	}
	if decision.Allowed {
		return nil
	}

	messages := make([]string, len(decision.Violations))
	names := make([]any, len(decision.Violations))
	for i, v := range decision.Violations {
		messages[i] = v.Message
		names[i] = v.Policy
	}
	return engine.NewPermissionDeniedError(strings.Join(messages, "; "), nil).
		WithDetail("policies", names)
}

// Evaluate runs every enabled policy against in.
func (e *Engine) Evaluate(ctx context.Context, in *Input) (*Decision, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{Allowed: true, Evaluated: make([]string, 0, len(e.policies))}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.Evaluated = append(decision.Evaluated, name)

		violations, err := e.evaluatePolicy(ctx, cp, in)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("operation", in.Operation).
				Str("address", in.Address).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		decision.Violations = append(decision.Violations, violations...)
	}
	decision.Allowed = len(decision.Violations) == 0
	decision.Duration = time.Since(start)

	e.logger.Debug().
		Str("operation", in.Operation).
		Str("address", in.Address).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Policy evaluation completed")
	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, in *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]any)
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a Violation from a deny entry.
func createViolation(policy *Policy, result any) Violation {
	violation := Violation{Policy: policy.Name}
	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
	}
	if violation.Message == "" {
		violation.Message = fmt.Sprintf("denied by policy %s: %v", policy.Name, result)
	}
	return violation
}

// compile parses and prepares the deny query of policy.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.ParsedModule(module),
		rego.Store(e.store),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")
	return &compiledPolicy{policy: policy, query: query, compiled: time.Now()}, nil
}

// AddPolicy compiles policy and adds it, replacing a policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	cp, err := e.compile(ctx, &policy)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", policy.Name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.Name] = cp
	return nil
}

// RemovePolicy removes a policy by name.
func (e *Engine) RemovePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.policies[name]; !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	delete(e.policies, name)
	return nil
}

// ReplacePolicies swaps every non-builtin policy for policies. Nothing
// changes if any of them fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		p.Builtin = false
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if cp.policy.Builtin {
			if _, shadowed := compiled[name]; !shadowed {
				compiled[name] = cp
			}
		}
	}
	e.policies = compiled

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies replaced")
	return nil
}

// LoadPolicies loads policy files and directories and replaces the
// previously loaded policies with them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplacePolicies(ctx, policies)
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := BuiltinPolicies()
	for i := range builtins {
		cp, err := e.compile(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Info().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
