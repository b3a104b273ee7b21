package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func op(name, addr string) model.Operation {
	return model.NewOperation(name, model.MustParseAddress(addr), nil)
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"protected-resources", "reader-principals", "root-protection"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("Expected policy %s at %d, got %s", expected[i], i, p.Name)
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("Policy %s should be an enabled builtin", p.Name)
		}
	}

	bare := newTestEngine(t, WithoutBuiltins())
	if n := len(bare.ListPolicies()); n != 0 {
		t.Errorf("Expected no policies, got %d", n)
	}
}

func TestAuthorize_RootProtection(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		op      model.Operation
		allowed bool
	}{
		{"remove root", op(model.OpRemove, "/"), false},
		{"add root", op(model.OpAdd, "/"), false},
		{"write root attribute", op(model.OpWriteAttribute, "/"), true},
		{"remove child", op(model.OpRemove, "/server=s1"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Authorize(ctx, tt.op, false)
			if tt.allowed && err != nil {
				t.Fatalf("Expected allowed, got %v", err)
			}
			if !tt.allowed {
				if err == nil {
					t.Fatal("Expected denial")
				}
				if !errors.Is(err, engine.ErrPermissionDenied) {
					t.Errorf("Expected PERMISSION_DENIED, got %v", err)
				}
			}
		})
	}
}

func TestAuthorize_ReaderPrincipals(t *testing.T) {
	eng := newTestEngine(t, WithData(map[string]any{
		"readers": []any{"auditor"},
	}))
	auditor := WithPrincipal(context.Background(), "auditor")
	admin := WithPrincipal(context.Background(), "admin")

	if err := eng.Authorize(auditor, op(model.OpReadResource, "/server=s1"), true); err != nil {
		t.Errorf("Reader should be allowed to read: %v", err)
	}
	err := eng.Authorize(auditor, op(model.OpWriteAttribute, "/server=s1"), false)
	if err == nil {
		t.Fatal("Reader should not be allowed to write")
	}
	if !strings.Contains(err.Error(), "auditor may only run read-only operations") {
		t.Errorf("Unexpected message: %v", err)
	}
	if err := eng.Authorize(admin, op(model.OpWriteAttribute, "/server=s1"), false); err != nil {
		t.Errorf("Admin should be allowed to write: %v", err)
	}
	if err := eng.Authorize(context.Background(), op(model.OpWriteAttribute, "/server=s1"), false); err != nil {
		t.Errorf("Anonymous callers are not restricted: %v", err)
	}
}

func TestAuthorize_ProtectedResources(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.SetData(ctx, "protected", []any{"/server=s1/queue=dlq"}); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	denied := []string{"/server=s1/queue=dlq", "/server=s1"}
	for _, addr := range denied {
		if err := eng.Authorize(ctx, op(model.OpRemove, addr), false); err == nil {
			t.Errorf("Expected removal of %s to be denied", addr)
		}
	}
	allowed := []string{"/server=s1/queue=orders", "/server=s2", "/server=s1/queue=dl"}
	for _, addr := range allowed {
		if err := eng.Authorize(ctx, op(model.OpRemove, addr), false); err != nil {
			t.Errorf("Expected removal of %s to be allowed: %v", addr, err)
		}
	}
	if err := eng.Authorize(ctx, op(model.OpWriteAttribute, "/server=s1/queue=dlq"), false); err != nil {
		t.Errorf("Writes to protected resources are allowed: %v", err)
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t, WithoutBuiltins())
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:    "no-queue-removal",
		Enabled: true,
		Rego: `package test.queues

import rego.v1

deny contains "queues cannot be removed" if {
	input.operation == "remove"
	some s in input.segments
	s.key == "queue"
}`,
	})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	decision, err := eng.Evaluate(ctx, NewInput(ctx, op(model.OpRemove, "/server=s1/queue=q1"), false))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("Expected denial")
	}
	if len(decision.Violations) != 1 || decision.Violations[0].Message != "queues cannot be removed" {
		t.Errorf("Unexpected violations: %+v", decision.Violations)
	}
	if decision.Violations[0].Policy != "no-queue-removal" {
		t.Errorf("Expected policy name in violation, got %s", decision.Violations[0].Policy)
	}

	if err := eng.AddPolicy(ctx, Policy{Name: "broken", Rego: "package x\ndeny contains"}); err == nil {
		t.Error("Expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("Broken policy should not be stored")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.DisablePolicy("root-protection"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	if err := eng.Authorize(ctx, op(model.OpRemove, "/"), false); err != nil {
		t.Errorf("Disabled policy should not deny: %v", err)
	}

	if err := eng.EnablePolicy("root-protection"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.Authorize(ctx, op(model.OpRemove, "/"), false); err == nil {
		t.Error("Enabled policy should deny")
	}

	if err := eng.EnablePolicy("non-existent"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	first := Policy{Name: "first", Enabled: true, Rego: "package a\nimport rego.v1\ndeny contains \"a\" if input.operation == \"never\""}
	second := Policy{Name: "second", Enabled: true, Rego: "package b\nimport rego.v1\ndeny contains \"b\" if input.operation == \"never\""}

	if err := eng.ReplacePolicies(ctx, []Policy{first}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if err := eng.ReplacePolicies(ctx, []Policy{second}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("first"); err == nil {
		t.Error("Replaced policy should be gone")
	}
	if _, err := eng.GetPolicy("second"); err != nil {
		t.Errorf("New policy missing: %v", err)
	}
	if _, err := eng.GetPolicy("root-protection"); err != nil {
		t.Errorf("Builtins should survive a replace: %v", err)
	}

	bad := Policy{Name: "bad", Rego: "not rego"}
	if err := eng.ReplacePolicies(ctx, []Policy{first, bad}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("second"); err != nil {
		t.Error("A failed replace must keep the previous policies")
	}
}

func TestAuthorize_EvaluationErrorDenies(t *testing.T) {
	eng := newTestEngine(t, WithoutBuiltins())
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:    "conflict",
		Enabled: true,
		Rego: `package test.conflict

import rego.v1

deny contains msg if {
	msg := pick
}

pick := "a" if input.operation != ""

pick := "b" if input.address != ""
`,
	})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	err = eng.Authorize(ctx, op(model.OpAdd, "/server=s1"), false)
	if !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("Expected PERMISSION_DENIED, got %v", err)
	}
}
