package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
)

func nopHandler(tag string, seen *string) engine.Handler {
	return engine.HandlerFunc(func(engine.Context, model.Operation) error {
		*seen = tag
		return nil
	})
}

func queueDescription() *ResourceDescription {
	return &ResourceDescription{
		Pattern:     model.MustParseAddress("/server=*/queue=*"),
		Description: "A message queue",
		Attributes: []*AttributeDefinition{
			{Name: "max-size", Type: TypeInt, Constraint: ">=0 & <=1048576", Default: 1024},
			{Name: "address", Type: TypeString, Validate: "min=1,max=64", Required: true},
			{Name: "mode", Type: TypeString, Constraint: `"async" | "sync"`},
			{Name: "durable", Type: TypeBoolean, RestartRequired: true},
			{Name: "created", Type: TypeString, Access: AccessReadOnly},
			{Name: "message-count", Type: TypeInt, Access: AccessMetric},
		},
	}
}

func TestRegistry_ResolveMostSpecific(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource(queueDescription()))

	var seen string
	require.NoError(t, r.RegisterOperation(model.MustParseAddress("/server=*/queue=*"), "purge", nopHandler("wildcard", &seen)))
	require.NoError(t, r.RegisterOperation(model.MustParseAddress("/server=s1/queue=*"), "purge", nopHandler("server", &seen)))
	require.NoError(t, r.RegisterOperation(model.MustParseAddress("/server=s1/queue=q1"), "purge", nopHandler("exact", &seen)))
	require.NoError(t, r.RegisterGlobalOperation("purge", nopHandler("global", &seen)))

	tests := []struct {
		addr string
		want string
	}{
		{"/server=s1/queue=q1", "exact"},
		{"/server=s1/queue=q2", "server"},
		{"/server=s2/queue=q1", "wildcard"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			e, ok := r.Resolve(model.MustParseAddress(tt.addr), "purge")
			require.True(t, ok)
			require.NoError(t, e.Handler.Execute(nil, model.Operation{}))
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestRegistry_GlobalOperations(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource(queueDescription()))
	var seen string
	require.NoError(t, r.RegisterGlobalOperation(model.OpReadResource, nopHandler("read", &seen), ReadOnly()))

	e, ok := r.Resolve(model.MustParseAddress("/server=s1/queue=q1"), model.OpReadResource)
	require.True(t, ok)
	assert.True(t, e.ReadOnly)

	_, ok = r.Resolve(model.RootAddress(), model.OpReadResource)
	assert.True(t, ok)

	_, ok = r.Resolve(model.MustParseAddress("/server=s1/topic=t1"), model.OpReadResource)
	assert.False(t, ok, "undescribed resources have no global operations")

	_, ok = r.Resolve(model.MustParseAddress("/server=s1/queue=q1"), "unknown")
	assert.False(t, ok)
}

func TestRegistry_UnregisterOperation(t *testing.T) {
	r := New()
	pattern := model.MustParseAddress("/server=*")
	var seen string
	require.NoError(t, r.RegisterOperation(pattern, "start", nopHandler("start", &seen)))
	r.UnregisterOperation(pattern, "start")

	_, ok := r.Resolve(model.MustParseAddress("/server=s1"), "start")
	assert.False(t, ok)
}

func TestRegistry_RegisterResourceErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource(queueDescription()))
	assert.Error(t, r.RegisterResource(queueDescription()), "duplicate pattern")

	assert.Error(t, r.RegisterResource(&ResourceDescription{
		Pattern:    model.MustParseAddress("/a=*"),
		Attributes: []*AttributeDefinition{{Name: "x", Constraint: ">= &"}},
	}), "bad constraint")

	assert.Error(t, r.RegisterResource(&ResourceDescription{
		Pattern:    model.MustParseAddress("/b=*"),
		Attributes: []*AttributeDefinition{{Name: "x", Type: "WEIRD"}},
	}), "bad type")

	assert.Error(t, r.RegisterResource(&ResourceDescription{
		Pattern:    model.MustParseAddress("/c=*"),
		Attributes: []*AttributeDefinition{{Name: "x", Type: TypeInt, Default: "nope"}},
	}), "bad default")

	assert.Error(t, r.RegisterResource(&ResourceDescription{
		Pattern:    model.MustParseAddress("/d=*"),
		Attributes: []*AttributeDefinition{{Name: "x"}, {Name: "x"}},
	}), "duplicate attribute")
}

func TestRegistry_Attribute(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource(queueDescription()))
	q1 := model.MustParseAddress("/server=s1/queue=q1")

	def, err := r.Attribute(q1, "max-size")
	require.NoError(t, err)
	assert.True(t, def.Writable())
	assert.True(t, def.Stored())

	_, err = r.Attribute(q1, "nope")
	assert.True(t, errors.Is(err, engine.ErrUnknownAttribute))

	_, err = r.Attribute(model.MustParseAddress("/other=x"), "max-size")
	assert.True(t, errors.Is(err, engine.ErrUnknownAttribute))

	metric, err := r.Attribute(q1, "message-count")
	require.NoError(t, err)
	assert.False(t, metric.Writable())
	assert.False(t, metric.Stored())
}

func TestRegistry_CheckValue(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource(queueDescription()))
	q1 := model.MustParseAddress("/server=s1/queue=q1")
	def := func(name string) *AttributeDefinition {
		d, err := r.Attribute(q1, name)
		require.NoError(t, err)
		return d
	}

	tests := []struct {
		name    string
		attr    string
		value   any
		want    any
		wantErr bool
	}{
		{name: "int from float", attr: "max-size", value: float64(10), want: int64(10)},
		{name: "int from int", attr: "max-size", value: 10, want: int64(10)},
		{name: "fractional int", attr: "max-size", value: 1.5, wantErr: true},
		{name: "cue upper bound", attr: "max-size", value: 2 << 20, wantErr: true},
		{name: "cue lower bound", attr: "max-size", value: -1, wantErr: true},
		{name: "enum ok", attr: "mode", value: "sync", want: "sync"},
		{name: "enum bad", attr: "mode", value: "eventual", wantErr: true},
		{name: "validator ok", attr: "address", value: "jms.queue.q1", want: "jms.queue.q1"},
		{name: "validator empty", attr: "address", value: "", wantErr: true},
		{name: "type mismatch", attr: "durable", value: "yes", wantErr: true},
		{name: "nil optional", attr: "mode", value: nil, want: nil},
		{name: "nil required", attr: "address", value: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.CheckValue(q1, def(tt.attr), tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, engine.ErrValidationFailed))
				assert.Equal(t, q1.String(), engine.AsEngineError(err).Resource)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_CheckAttributes(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource(queueDescription()))
	q1 := model.MustParseAddress("/server=s1/queue=q1")

	attrs, err := r.CheckAttributes(q1, map[string]any{"address": "jms.q1", "durable": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"address": "jms.q1", "durable": true, "max-size": int64(1024)}, attrs)

	_, err = r.CheckAttributes(q1, map[string]any{"durable": true})
	assert.True(t, errors.Is(err, engine.ErrValidationFailed), "missing required")

	_, err = r.CheckAttributes(q1, map[string]any{"address": "a", "bogus": 1})
	assert.True(t, errors.Is(err, engine.ErrUnknownAttribute))

	_, err = r.CheckAttributes(q1, map[string]any{"address": "a", "message-count": 1})
	assert.True(t, errors.Is(err, engine.ErrAttributeNotWritable))

	attrs, err = r.CheckAttributes(model.MustParseAddress("/free=x"), nil)
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestRegistry_OperationNames(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource(queueDescription()))
	var seen string
	require.NoError(t, r.RegisterGlobalOperation(model.OpAdd, nopHandler("", &seen)))
	require.NoError(t, r.RegisterGlobalOperation(model.OpRemove, nopHandler("", &seen)))
	require.NoError(t, r.RegisterOperation(model.MustParseAddress("/server=*/queue=*"), "purge", nopHandler("", &seen)))

	assert.Equal(t, []string{"add", "purge", "remove"}, r.OperationNames(model.MustParseAddress("/server=s1/queue=q1")))
	assert.Empty(t, r.OperationNames(model.MustParseAddress("/nothing=here")))
	assert.Len(t, r.Descriptions(), 1)
}
