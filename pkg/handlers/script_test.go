package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/notify"
)

var queuePattern = model.MustParseAddress("/server=*/queue=*")

func TestScript_ResultAndChanges(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.handlers.RegisterScript(queuePattern, "double", Script{
		Name: "double",
		Source: `
size = model["max-size"] * params.get("factor", 2)
changes = {"max-size": size, "address": "jms.queue." + address}
result = struct(size = size, operation = operation)
`,
	}, false))

	res := f.submit(t, model.NewOperation("double", q1, map[string]any{"factor": 3}))
	require.True(t, res.Succeeded(), res.FailureDescription)

	v, _ := res.Response.Result()
	assert.Equal(t, map[string]any{"size": int64(15), "operation": "double"}, v)

	size, _, err := f.tree.Attribute(q1, "max-size")
	require.NoError(t, err)
	assert.Equal(t, int64(15), size)

	got := f.notifications.all()
	require.Len(t, got, 2)
	// Changes are applied in key order.
	assert.Equal(t, "address", got[0].DataMap()[notify.DataName])
	assert.Equal(t, "max-size", got[1].DataMap()[notify.DataName])
	assert.Equal(t, int64(5), got[1].DataMap()[notify.DataOldValue])
}

func TestScript_InvalidChangeRollsBack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.handlers.RegisterScript(queuePattern, "bad", Script{
		Name:   "bad",
		Source: `changes = {"max-size": 1, "mode": "lazy"}`,
	}, false))

	res := f.submit(t, model.NewOperation("bad", q1, nil))
	require.False(t, res.Succeeded())
	assert.True(t, errors.Is(res.Err(), engine.ErrValidationFailed))

	size, _, err := f.tree.Attribute(q1, "max-size")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Empty(t, f.notifications.all())
}

func TestScript_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script Script
	}{
		{"fail builtin", Script{Name: "fail", Source: `fail("not today")`}},
		{"changes not a dict", Script{Name: "list", Source: `changes = [1, 2]`}},
		{"step limit", Script{Name: "spin", MaxSteps: 1000, Source: `
def spin():
    total = 0
    for i in range(1000000):
        total += i
    return total

result = spin()
`}},
		{"timeout", Script{Name: "slow", Timeout: 10 * time.Millisecond, Source: `
def slow():
    total = 0
    for i in range(100000000):
        total += i
    return total

result = slow()
`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.handlers.RegisterScript(queuePattern, "exercise", tt.script, true))

			res := f.submit(t, model.NewOperation("exercise", q1, nil))
			require.False(t, res.Succeeded())
			assert.True(t, errors.Is(res.Err(), engine.ErrValidationFailed))
			assert.NotEmpty(t, res.FailureDescription)
		})
	}
}

func TestRegisterScript_CompileError(t *testing.T) {
	f := newFixture(t)

	err := f.handlers.RegisterScript(queuePattern, "broken", Script{Name: "broken", Source: "result = ("}, false)
	require.Error(t, err)

	err = f.handlers.RegisterScript(queuePattern, "undefined", Script{Name: "undefined", Source: "result = nope"}, false)
	require.Error(t, err)

	_, ok := f.registry.Resolve(q1, "broken")
	assert.False(t, ok)
}

func TestRegisterScript_Description(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.handlers.RegisterScript(queuePattern, "described", Script{
		Name: "described", Description: "Reports the queue size", Source: "result = 1",
	}, true))
	require.NoError(t, f.handlers.RegisterScript(queuePattern, "plain", Script{Name: "plain", Source: "result = 1"}, true))

	entry, ok := f.registry.Resolve(q1, "described")
	require.True(t, ok)
	assert.Equal(t, "Reports the queue size", entry.Description)

	entry, ok = f.registry.Resolve(q1, "plain")
	require.True(t, ok)
	assert.Equal(t, "script plain", entry.Description)
}

func TestRunScript_StructBuiltin(t *testing.T) {
	globals, err := runScript(context.Background(), Script{Name: "s", Source: "result = struct(a = 1, b = \"x\")"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "x"}, globals["result"])
}

func TestRunScript_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runScript(ctx, Script{Name: "loop", Source: `
def loop():
    for i in range(100000000):
        pass

loop()
`}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context done")
}

func TestStarlarkConversion(t *testing.T) {
	in := map[string]any{
		"flag":  true,
		"count": int64(3),
		"ratio": 0.5,
		"name":  "q1",
		"tags":  []any{"a", int64(1)},
		"none":  nil,
		"nested": map[string]any{
			"depth": int64(2),
		},
	}

	sv, err := toStarlarkValue(in)
	require.NoError(t, err)
	_, ok := sv.(*starlark.Dict)
	require.True(t, ok)

	out, err := fromStarlarkValue(sv)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = toStarlarkValue(struct{}{})
	assert.Error(t, err)

	tuple, err := fromStarlarkValue(starlark.Tuple{starlark.MakeInt(1), starlark.String("x")})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "x"}, tuple)
}
